// Package market provides order placement and matching plus the HTTP
// handlers for the market engine's public surface.
//
// Matching is deliberately one-sided: an incoming sell order is matched
// immediately against the settlement's synthetic counter-party bid and
// then against standing buy orders in arrival order. Incoming buy orders
// rest on the book until a sell arrives. There is no price-time priority
// queue — per-settlement commodity markets are thin enough that arrival
// order is the fairness model.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/colonyforge/market-engine/internal/colony"
	"github.com/colonyforge/market-engine/internal/config"
	"github.com/colonyforge/market-engine/internal/inventory"
	"github.com/colonyforge/market-engine/internal/ledger"
	"github.com/colonyforge/market-engine/internal/materials"
	"github.com/colonyforge/market-engine/internal/metrics"
	"github.com/colonyforge/market-engine/internal/model"
	"github.com/colonyforge/market-engine/internal/pricing"
	"github.com/colonyforge/market-engine/internal/settle"
	"github.com/colonyforge/market-engine/internal/store"
)

var (
	ErrInvalidOrder      = errors.New("market: invalid order")
	ErrUnknownSettlement = errors.New("market: unknown settlement")
	ErrNoPrice           = errors.New("market: no price available")
)

// Engine places and matches orders.
type Engine struct {
	store    store.Store
	pricer   *pricing.Engine
	protocol *settle.Protocol
	dir      *colony.Directory
	inv      *inventory.Service
	funds    *ledger.Ledger
	eco      config.Economy
	hub      *WSHub // optional
	now      func() time.Time

	// Matching is serialized per condition so concurrent sells against
	// the same book cannot double-spend a standing buy order.
	mu        sync.Mutex
	condLocks map[string]*sync.Mutex
}

// NewEngine creates a matching engine. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewEngine(st store.Store, pricer *pricing.Engine, protocol *settle.Protocol,
	dir *colony.Directory, inv *inventory.Service, funds *ledger.Ledger,
	eco config.Economy, hub *WSHub) *Engine {
	return &Engine{
		store:     st,
		pricer:    pricer,
		protocol:  protocol,
		dir:       dir,
		inv:       inv,
		funds:     funds,
		eco:       eco,
		hub:       hub,
		now:       func() time.Time { return time.Now().UTC() },
		condLocks: make(map[string]*sync.Mutex),
	}
}

// SetClock overrides the engine's clock. Test hook.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// PlaceOrder creates an order and, for sells, matches it immediately.
//
// limitPrice applies to buy orders only: it is the unit price the buyer
// commits to pay while the order rests. Zero means "derive from the
// current ask". Sell orders ignore it — the seller takes the counter
// side's price.
//
// Returns (nil, nil) when a sell order fills completely; otherwise the
// persisted order with its remaining quantity.
func (e *Engine) PlaceOrder(ctx context.Context, holder model.Holder, settlementID, resource string,
	quantity, limitPrice decimal.Decimal, orderType model.OrderType) (*model.Order, error) {

	if !holder.Valid() {
		return nil, fmt.Errorf("%w: holder %q", ErrInvalidOrder, holder.Key())
	}
	if !quantity.IsPositive() {
		return nil, fmt.Errorf("%w: quantity must be positive, got %s", ErrInvalidOrder, quantity)
	}
	if orderType != model.OrderBuy && orderType != model.OrderSell {
		return nil, fmt.Errorf("%w: order type %q", ErrInvalidOrder, orderType)
	}

	resource = materials.Normalize(resource)
	sett, ok := e.dir.Get(settlementID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSettlement, settlementID)
	}

	cond, err := e.store.GetOrCreateCondition(ctx, settlementID, resource)
	if err != nil {
		return nil, fmt.Errorf("market: condition lookup: %w", err)
	}

	order := &model.Order{
		ID:           uuid.New().String(),
		Holder:       holder,
		ConditionID:  cond.ID,
		SettlementID: settlementID,
		Resource:     resource,
		Quantity:     quantity,
		OrderType:    orderType,
		Status:       model.StatusOpen,
		CreatedAt:    e.now(),
	}

	if orderType == model.OrderBuy {
		price := limitPrice
		if !price.IsPositive() {
			price, ok = e.pricer.Ask(ctx, settlementID, resource, pricing.Options{})
			if !ok {
				return nil, fmt.Errorf("%w: %s at %s", ErrNoPrice, resource, settlementID)
			}
		}
		order.PricePerUnit = price
	}

	if err := e.store.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("market: create order: %w", err)
	}
	metrics.OrdersPlaced.WithLabelValues(string(orderType)).Inc()

	slog.Info("order placed",
		"order_id", order.ID,
		"holder", holder.Key(),
		"settlement", settlementID,
		"resource", resource,
		"quantity", quantity.String(),
		"order_type", orderType,
	)

	// Buy orders rest on the book until a sell arrives.
	if orderType == model.OrderBuy {
		return order, nil
	}
	return e.matchSell(ctx, sett, cond, order)
}

// counterOrder is one buy-side candidate for an incoming sell.
type counterOrder struct {
	price    decimal.Decimal
	capacity decimal.Decimal
	buyer    model.Holder
	buyerSID string
	standing *model.Order // nil for the synthetic counter-party
}

// matchSell fills a sell order against the settlement's counter-party
// bid and then the standing buy orders, in that order. A settlement
// failure skips to the next counter-order without consuming any of the
// sell quantity.
func (e *Engine) matchSell(ctx context.Context, sett *colony.Settlement, cond *model.Condition,
	order *model.Order) (*model.Order, error) {

	lock := e.condLock(cond.ID)
	lock.Lock()
	defer lock.Unlock()

	counters, err := e.counterOrders(ctx, sett, cond, order)
	if err != nil {
		return nil, err
	}

	remaining := order.Quantity
	for _, c := range counters {
		if !remaining.IsPositive() {
			break
		}
		volume := decimal.Min(remaining, c.capacity)
		if !volume.IsPositive() {
			continue
		}

		trade, err := e.protocol.Execute(ctx, order, volume, c.price, c.buyer, c.buyerSID)
		if err != nil {
			slog.Warn("match skipped",
				"order_id", order.ID,
				"buyer", c.buyer.Key(),
				"volume", volume.String(),
				"err", err,
			)
			metrics.MatchFailures.Inc()
			continue
		}

		remaining = remaining.Sub(volume)
		if c.standing != nil {
			left := c.standing.Quantity.Sub(volume)
			if err := e.store.UpdateOrderQuantity(ctx, c.standing.ID, left); err != nil {
				slog.Error("standing order decrement failed", "order_id", c.standing.ID, "err", err)
			}
		}

		metrics.TradesTotal.WithLabelValues(trade.Resource).Inc()
		volF, _ := volume.Float64()
		metrics.TradeVolume.WithLabelValues(trade.Resource).Add(volF)
		if e.hub != nil {
			e.hub.Broadcast(WSMessage{
				Type:         "trade_executed",
				SettlementID: sett.ID,
				Resource:     trade.Resource,
				Price:        trade.Price.String(),
				Quantity:     volume.String(),
				Buyer:        trade.Buyer.Key(),
				Seller:       trade.Seller.Key(),
			})
		}
	}

	if err := e.store.UpdateOrderQuantity(ctx, order.ID, remaining); err != nil {
		return nil, fmt.Errorf("market: finalize order: %w", err)
	}
	if remaining.IsZero() {
		return nil, nil
	}
	order.Quantity = remaining
	return order, nil
}

// counterOrders builds the buy side for an incoming sell: the synthetic
// counter-party first (when it wants the resource and has capacity),
// then standing buy orders in arrival order.
func (e *Engine) counterOrders(ctx context.Context, sett *colony.Settlement, cond *model.Condition,
	order *model.Order) ([]counterOrder, error) {

	var counters []counterOrder

	bid, ok := e.pricer.Bid(ctx, sett.ID, order.Resource, pricing.Options{
		EstimatedQuantity: order.Quantity,
	})
	if ok && bid.IsPositive() {
		if capacity := e.npcCapacity(sett, order.Resource, bid); capacity.IsPositive() {
			counters = append(counters, counterOrder{
				price:    bid,
				capacity: capacity,
				buyer:    sett.Holder(),
				buyerSID: sett.ID,
			})
		}
	}

	standing, err := e.store.ListOpenBuyOrders(ctx, cond.ID)
	if err != nil {
		return nil, fmt.Errorf("market: list buy orders: %w", err)
	}
	now := e.now()
	for i := range standing {
		bo := &standing[i]
		if !bo.Matchable(now) || !bo.PricePerUnit.IsPositive() {
			continue
		}
		if bo.Holder == order.Holder {
			continue // no self-trading
		}
		counters = append(counters, counterOrder{
			price:    bo.PricePerUnit,
			capacity: bo.Quantity,
			buyer:    bo.Holder,
			buyerSID: bo.SettlementID,
			standing: bo,
		})
	}
	return counters, nil
}

// npcCapacity bounds how much the synthetic counter-party buys in one
// match: what its funds afford at the bid, and — where storage is
// capped — the headroom above the storage reserve.
func (e *Engine) npcCapacity(sett *colony.Settlement, resource string, bid decimal.Decimal) decimal.Decimal {
	balance := e.funds.FindOrCreateAccount(sett.Holder(), e.eco.Currency).Balance()
	capacity := balance.DivRound(bid, 4)

	if avail, ok := e.inv.AvailableStorage(sett.Holder(), resource); ok {
		total, _ := e.inv.TotalStorage(sett.Holder(), resource)
		reserve := total.Mul(decimal.NewFromFloat(e.eco.NPC.StorageReservePercent))
		headroom := avail.Sub(reserve)
		capacity = decimal.Min(capacity, headroom)
	}

	if capacity.IsNegative() {
		return decimal.Zero
	}
	return capacity
}

func (e *Engine) condLock(conditionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.condLocks[conditionID]
	if !ok {
		lock = &sync.Mutex{}
		e.condLocks[conditionID] = lock
	}
	return lock
}
