package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/colonyforge/market-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	conditions  map[string]*model.Condition // by id
	orders      map[string]*model.Order     // by id
	orderSeq    []string                    // insertion order of order ids
	trades      []model.Trade
	pricePoints []model.PricePoint
	chains      map[string]*model.SupplyChain

	now func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conditions: make(map[string]*model.Condition),
		orders:     make(map[string]*model.Order),
		chains:     make(map[string]*model.SupplyChain),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the store's clock. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) { s.now = now }

// --- Conditions ---

func (s *MemoryStore) GetOrCreateCondition(_ context.Context, settlementID, resource string) (*model.Condition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.conditions {
		if c.SettlementID == settlementID && c.Resource == resource {
			copy := *c
			return &copy, nil
		}
	}

	ts := s.now()
	c := &model.Condition{
		ID:           uuid.New().String(),
		SettlementID: settlementID,
		Resource:     resource,
		Supply:       0,
		Demand:       1, // floor prevents divide-by-zero in downstream price derivation
		Price:        decimal.Zero,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
	s.conditions[c.ID] = c
	copy := *c
	return &copy, nil
}

func (s *MemoryStore) GetCondition(_ context.Context, id string) (*model.Condition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conditions[id]
	if !ok {
		return nil, fmt.Errorf("condition %s: %w", id, ErrNotFound)
	}
	copy := *c
	return &copy, nil
}

func (s *MemoryStore) FindCondition(_ context.Context, settlementID, resource string) (*model.Condition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.conditions {
		if c.SettlementID == settlementID && c.Resource == resource {
			copy := *c
			return &copy, nil
		}
	}
	return nil, fmt.Errorf("condition %s/%s: %w", settlementID, resource, ErrNotFound)
}

func (s *MemoryStore) ListConditions(_ context.Context, settlementID string) ([]model.Condition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Condition
	for _, c := range s.conditions {
		if c.SettlementID == settlementID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateConditionLevels(_ context.Context, id string, supply, demand float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conditions[id]
	if !ok {
		return fmt.Errorf("condition %s: %w", id, ErrNotFound)
	}
	c.Supply = supply
	c.Demand = demand
	c.UpdatedAt = s.now()
	return nil
}

// --- Orders ---

func (s *MemoryStore) CreateOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[o.ID]; exists {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	copy := *o
	s.orders[o.ID] = &copy
	s.orderSeq = append(s.orderSeq, o.ID)
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	copy := *o
	return &copy, nil
}

func (s *MemoryStore) UpdateOrderQuantity(_ context.Context, id string, quantity decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	o.Quantity = quantity
	if quantity.IsZero() {
		o.Status = model.StatusFilled
	}
	return nil
}

func (s *MemoryStore) UpdateOrderStatus(_ context.Context, id string, status model.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	o.Status = status
	return nil
}

func (s *MemoryStore) DeleteOrder(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[id]; !ok {
		return fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	delete(s.orders, id)
	for i, oid := range s.orderSeq {
		if oid == id {
			s.orderSeq = append(s.orderSeq[:i], s.orderSeq[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) ListOpenBuyOrders(_ context.Context, conditionID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var out []model.Order
	for _, id := range s.orderSeq {
		o := s.orders[id]
		if o.ConditionID == conditionID && o.OrderType == model.OrderBuy && o.Matchable(now) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *MemoryStore) FindProjectBuyOrder(_ context.Context, projectID, resource string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.orderSeq {
		o := s.orders[id]
		if o.ProjectID == projectID && o.Resource == resource &&
			o.OrderType == model.OrderBuy && o.Status == model.StatusOpen {
			copy := *o
			return &copy, nil
		}
	}
	return nil, fmt.Errorf("project order %s/%s: %w", projectID, resource, ErrNotFound)
}

func (s *MemoryStore) ListExpiredOrders(_ context.Context, cutoff time.Time) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Order
	for _, id := range s.orderSeq {
		o := s.orders[id]
		if o.Status == model.StatusOpen && o.ExpiresAt != nil && o.ExpiresAt.Before(cutoff) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *MemoryStore) CountOpenBuyOrders(_ context.Context, settlementID, resource string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, o := range s.orders {
		if o.SettlementID == settlementID && o.Resource == resource &&
			o.OrderType == model.OrderBuy && o.Status == model.StatusOpen {
			count++
		}
	}
	return count, nil
}

// --- Trades, price history, supply chains ---

func (s *MemoryStore) RecordTrade(_ context.Context, t *model.Trade, pp *model.PricePoint, sc *model.SupplyChain) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cond, ok := s.conditions[pp.ConditionID]
	if !ok {
		return fmt.Errorf("condition %s: %w", pp.ConditionID, ErrNotFound)
	}

	// Single lock: all four writes are all-or-nothing.
	s.trades = append(s.trades, *t)
	s.pricePoints = append(s.pricePoints, *pp)
	chain := *sc
	s.chains[sc.ID] = &chain
	cond.Price = t.Price
	cond.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) ListTrades(_ context.Context, settlementID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Trade
	for i := len(s.trades) - 1; i >= 0; i-- {
		t := s.trades[i]
		if t.BuyerSettlementID == settlementID || t.SellerSettlementID == settlementID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemoryStore) TradeStatsSince(_ context.Context, settlementID, resource string, since time.Time) (TradeStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Average over price history joined through the condition, matching
	// how the SQL implementation aggregates.
	condID := ""
	for _, c := range s.conditions {
		if c.SettlementID == settlementID && c.Resource == resource {
			condID = c.ID
			break
		}
	}
	if condID == "" {
		return TradeStats{}, nil
	}

	sum := decimal.Zero
	count := 0
	for _, pp := range s.pricePoints {
		if pp.ConditionID == condID && pp.RecordedAt.After(since) {
			sum = sum.Add(pp.Price)
			count++
		}
	}
	stats := TradeStats{Count: count}
	if count > 0 {
		stats.AvgPrice = sum.Div(decimal.NewFromInt(int64(count)))
	}
	return stats, nil
}

func (s *MemoryStore) ListPriceHistory(_ context.Context, conditionID string) ([]model.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.PricePoint
	for _, pp := range s.pricePoints {
		if pp.ConditionID == conditionID {
			out = append(out, pp)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetSupplyChain(_ context.Context, id string) (*model.SupplyChain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sc, ok := s.chains[id]
	if !ok {
		return nil, fmt.Errorf("supply chain %s: %w", id, ErrNotFound)
	}
	copy := *sc
	return &copy, nil
}

func (s *MemoryStore) FindSupplyChainByTrade(_ context.Context, tradeID string) (*model.SupplyChain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sc := range s.chains {
		if sc.TradeID == tradeID {
			copy := *sc
			return &copy, nil
		}
	}
	return nil, fmt.Errorf("supply chain for trade %s: %w", tradeID, ErrNotFound)
}

func (s *MemoryStore) UpdateSupplyChainStatus(_ context.Context, id string, status model.SupplyChainStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.chains[id]
	if !ok {
		return fmt.Errorf("supply chain %s: %w", id, ErrNotFound)
	}
	sc.Status = status
	sc.UpdatedAt = s.now()
	return nil
}
