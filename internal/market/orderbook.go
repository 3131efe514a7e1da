package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/colonyforge/market-engine/internal/materials"
	"github.com/colonyforge/market-engine/internal/metrics"
	"github.com/colonyforge/market-engine/internal/model"
	"github.com/colonyforge/market-engine/internal/pricing"
	"github.com/colonyforge/market-engine/internal/store"
)

// projectOrderTTL is how long a project-backed buy order stays on the
// book before the sweep marks it failed.
const projectOrderTTL = 24 * time.Hour

// CreateProjectBuyOrder places (or refreshes) the standing buy order
// backing a construction project's material requirement. At most one
// open order exists per (project, resource): a repeat call updates the
// quantity instead of stacking a duplicate.
func (e *Engine) CreateProjectBuyOrder(ctx context.Context, projectID, settlementID, resource string,
	quantity decimal.Decimal, urgency float64) (*model.Order, error) {

	if projectID == "" {
		return nil, fmt.Errorf("%w: project id required", ErrInvalidOrder)
	}
	if !quantity.IsPositive() {
		return nil, fmt.Errorf("%w: quantity must be positive, got %s", ErrInvalidOrder, quantity)
	}

	resource = materials.Normalize(resource)
	sett, ok := e.dir.Get(settlementID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSettlement, settlementID)
	}

	if existing, err := e.store.FindProjectBuyOrder(ctx, projectID, resource); err == nil {
		if existing.Status == model.StatusOpen {
			if err := e.store.UpdateOrderQuantity(ctx, existing.ID, quantity); err != nil {
				return nil, fmt.Errorf("market: refresh project order: %w", err)
			}
			existing.Quantity = quantity
			return existing, nil
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("market: project order lookup: %w", err)
	}

	cond, err := e.store.GetOrCreateCondition(ctx, settlementID, resource)
	if err != nil {
		return nil, fmt.Errorf("market: condition lookup: %w", err)
	}

	price, ok := e.DynamicPrice(ctx, settlementID, resource, urgency)
	if !ok {
		return nil, fmt.Errorf("%w: %s at %s", ErrNoPrice, resource, settlementID)
	}

	expires := e.now().Add(projectOrderTTL)
	order := &model.Order{
		ID:           uuid.New().String(),
		Holder:       sett.Holder(),
		ConditionID:  cond.ID,
		SettlementID: settlementID,
		Resource:     resource,
		Quantity:     quantity,
		OrderType:    model.OrderBuy,
		Status:       model.StatusOpen,
		PricePerUnit: price,
		ProjectID:    projectID,
		CreatedAt:    e.now(),
		ExpiresAt:    &expires,
	}
	if err := e.store.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("market: create project order: %w", err)
	}
	metrics.OrdersPlaced.WithLabelValues(string(model.OrderBuy)).Inc()

	slog.Info("project buy order placed",
		"order_id", order.ID,
		"project", projectID,
		"settlement", settlementID,
		"resource", resource,
		"quantity", quantity.String(),
		"price", price.String(),
	)
	return order, nil
}

// SweepExpired purges expired orders from the book. Plain expired
// orders are deleted; project-backed orders are kept and marked failed
// so the project can see its requirement went unfilled.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	expired, err := e.store.ListExpiredOrders(ctx, e.now())
	if err != nil {
		return 0, fmt.Errorf("market: list expired orders: %w", err)
	}

	swept := 0
	for i := range expired {
		o := &expired[i]
		if o.ProjectID != "" {
			err = e.store.UpdateOrderStatus(ctx, o.ID, model.StatusFailed)
		} else {
			err = e.store.DeleteOrder(ctx, o.ID)
		}
		if err != nil {
			slog.Warn("expiry sweep skipped order", "order_id", o.ID, "err", err)
			continue
		}
		metrics.ExpiredOrders.Inc()
		swept++
	}

	if swept > 0 {
		slog.Info("expired orders swept", "count", swept)
	}
	return swept, nil
}

// DynamicPrice prices a demand-side commitment: the current ask scaled
// up by urgency, local scarcity, and the depth of competing open buy
// orders. ok=false means no ask exists for the resource.
func (e *Engine) DynamicPrice(ctx context.Context, settlementID, resource string, urgency float64) (decimal.Decimal, bool) {
	resource = materials.Normalize(resource)
	ask, ok := e.pricer.Ask(ctx, settlementID, resource, pricing.Options{})
	if !ok {
		return decimal.Zero, false
	}
	if urgency < 1.0 {
		urgency = 1.0
	}

	supplyFactor := 1.0
	if cond, err := e.store.FindCondition(ctx, settlementID, resource); err == nil {
		switch {
		case cond.Supply <= 0:
			supplyFactor = 1.5
		case cond.Supply < 50:
			supplyFactor = 1.2
		case cond.Supply < 100:
			supplyFactor = 1.1
		}
	}

	demandFactor := 1.0
	if open, err := e.store.CountOpenBuyOrders(ctx, settlementID, resource); err == nil {
		switch {
		case open > 10:
			demandFactor = 1.3
		case open > 5:
			demandFactor = 1.2
		case open > 2:
			demandFactor = 1.1
		}
	}

	price := ask.
		Mul(decimal.NewFromFloat(urgency)).
		Mul(decimal.NewFromFloat(supplyFactor)).
		Mul(decimal.NewFromFloat(demandFactor)).
		Round(2)
	return price, true
}
