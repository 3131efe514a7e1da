package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/colonyforge/market-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for condition rows and trade statistics — the hot reads on the
// pricing path. Writes go to the primary store and invalidate the cache.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{primary: primary, rdb: rdb, ttl: ttl}
}

func conditionKey(id string) string { return "condition:" + id }
func conditionByKey(settlementID, resource string) string {
	return fmt.Sprintf("condition:%s:%s", settlementID, resource)
}
func statsKey(settlementID, resource string) string {
	return fmt.Sprintf("tradestats:%s:%s", settlementID, resource)
}

// --- Read-through condition cache ---

func (s *CachedStore) GetCondition(ctx context.Context, id string) (*model.Condition, error) {
	if data, err := s.rdb.Get(ctx, conditionKey(id)).Bytes(); err == nil {
		var c model.Condition
		if json.Unmarshal(data, &c) == nil {
			return &c, nil
		}
	}

	c, err := s.primary.GetCondition(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheCondition(ctx, c)
	return c, nil
}

func (s *CachedStore) FindCondition(ctx context.Context, settlementID, resource string) (*model.Condition, error) {
	if id, err := s.rdb.Get(ctx, conditionByKey(settlementID, resource)).Result(); err == nil {
		return s.GetCondition(ctx, id)
	}

	c, err := s.primary.FindCondition(ctx, settlementID, resource)
	if err != nil {
		return nil, err
	}
	s.cacheCondition(ctx, c)
	return c, nil
}

func (s *CachedStore) GetOrCreateCondition(ctx context.Context, settlementID, resource string) (*model.Condition, error) {
	c, err := s.primary.GetOrCreateCondition(ctx, settlementID, resource)
	if err != nil {
		return nil, err
	}
	s.cacheCondition(ctx, c)
	return c, nil
}

func (s *CachedStore) UpdateConditionLevels(ctx context.Context, id string, supply, demand float64) error {
	if err := s.primary.UpdateConditionLevels(ctx, id, supply, demand); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, conditionKey(id))
	return nil
}

// --- Trade stats cache ---

func (s *CachedStore) TradeStatsSince(ctx context.Context, settlementID, resource string, since time.Time) (TradeStats, error) {
	type cached struct {
		Count    int    `json:"count"`
		AvgPrice string `json:"avg_price"`
	}

	key := statsKey(settlementID, resource)
	if data, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var c cached
		if json.Unmarshal(data, &c) == nil {
			avg, _ := decimal.NewFromString(c.AvgPrice)
			return TradeStats{Count: c.Count, AvgPrice: avg}, nil
		}
	}

	stats, err := s.primary.TradeStatsSince(ctx, settlementID, resource, since)
	if err != nil {
		return TradeStats{}, err
	}
	if data, err := json.Marshal(cached{Count: stats.Count, AvgPrice: stats.AvgPrice.String()}); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return stats, nil
}

func (s *CachedStore) RecordTrade(ctx context.Context, t *model.Trade, pp *model.PricePoint, sc *model.SupplyChain) error {
	if err := s.primary.RecordTrade(ctx, t, pp, sc); err != nil {
		return err
	}
	// Trades move both the condition price and the rolling average.
	s.rdb.Del(ctx, conditionKey(pp.ConditionID), statsKey(t.SellerSettlementID, t.Resource))
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListConditions(ctx context.Context, settlementID string) ([]model.Condition, error) {
	return s.primary.ListConditions(ctx, settlementID)
}

func (s *CachedStore) CreateOrder(ctx context.Context, o *model.Order) error {
	return s.primary.CreateOrder(ctx, o)
}

func (s *CachedStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return s.primary.GetOrder(ctx, id)
}

func (s *CachedStore) UpdateOrderQuantity(ctx context.Context, id string, quantity decimal.Decimal) error {
	return s.primary.UpdateOrderQuantity(ctx, id, quantity)
}

func (s *CachedStore) UpdateOrderStatus(ctx context.Context, id string, status model.OrderStatus) error {
	return s.primary.UpdateOrderStatus(ctx, id, status)
}

func (s *CachedStore) DeleteOrder(ctx context.Context, id string) error {
	return s.primary.DeleteOrder(ctx, id)
}

func (s *CachedStore) ListOpenBuyOrders(ctx context.Context, conditionID string) ([]model.Order, error) {
	return s.primary.ListOpenBuyOrders(ctx, conditionID)
}

func (s *CachedStore) FindProjectBuyOrder(ctx context.Context, projectID, resource string) (*model.Order, error) {
	return s.primary.FindProjectBuyOrder(ctx, projectID, resource)
}

func (s *CachedStore) ListExpiredOrders(ctx context.Context, cutoff time.Time) ([]model.Order, error) {
	return s.primary.ListExpiredOrders(ctx, cutoff)
}

func (s *CachedStore) CountOpenBuyOrders(ctx context.Context, settlementID, resource string) (int, error) {
	return s.primary.CountOpenBuyOrders(ctx, settlementID, resource)
}

func (s *CachedStore) ListTrades(ctx context.Context, settlementID string) ([]model.Trade, error) {
	return s.primary.ListTrades(ctx, settlementID)
}

func (s *CachedStore) ListPriceHistory(ctx context.Context, conditionID string) ([]model.PricePoint, error) {
	return s.primary.ListPriceHistory(ctx, conditionID)
}

func (s *CachedStore) GetSupplyChain(ctx context.Context, id string) (*model.SupplyChain, error) {
	return s.primary.GetSupplyChain(ctx, id)
}

func (s *CachedStore) FindSupplyChainByTrade(ctx context.Context, tradeID string) (*model.SupplyChain, error) {
	return s.primary.FindSupplyChainByTrade(ctx, tradeID)
}

func (s *CachedStore) UpdateSupplyChainStatus(ctx context.Context, id string, status model.SupplyChainStatus) error {
	return s.primary.UpdateSupplyChainStatus(ctx, id, status)
}

func (s *CachedStore) cacheCondition(ctx context.Context, c *model.Condition) {
	if data, err := json.Marshal(c); err == nil {
		s.rdb.Set(ctx, conditionKey(c.ID), data, s.ttl)
		s.rdb.Set(ctx, conditionByKey(c.SettlementID, c.Resource), c.ID, s.ttl)
	}
}
