// Package store defines the persistence interface for the market engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/colonyforge/market-engine/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// TradeStats summarizes executed-trade history for one (settlement, resource)
// over a lookback window.
type TradeStats struct {
	Count    int
	AvgPrice decimal.Decimal // valid only when Count > 0
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Market conditions ---

	// GetOrCreateCondition returns the condition row for a
	// (settlement, resource) key, creating it with neutral defaults on
	// first market activity.
	GetOrCreateCondition(ctx context.Context, settlementID, resource string) (*model.Condition, error)

	// GetCondition retrieves a condition by id.
	GetCondition(ctx context.Context, id string) (*model.Condition, error)

	// FindCondition retrieves a condition by its (settlement, resource) key.
	FindCondition(ctx context.Context, settlementID, resource string) (*model.Condition, error)

	// ListConditions returns all conditions for a settlement.
	ListConditions(ctx context.Context, settlementID string) ([]model.Condition, error)

	// UpdateConditionLevels persists evolved supply/demand for a condition.
	UpdateConditionLevels(ctx context.Context, id string, supply, demand float64) error

	// --- Orders ---

	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	UpdateOrderQuantity(ctx context.Context, id string, quantity decimal.Decimal) error
	UpdateOrderStatus(ctx context.Context, id string, status model.OrderStatus) error
	DeleteOrder(ctx context.Context, id string) error

	// ListOpenBuyOrders returns matchable buy orders for a condition in
	// insertion order.
	ListOpenBuyOrders(ctx context.Context, conditionID string) ([]model.Order, error)

	// FindProjectBuyOrder returns the open buy order a project holds for
	// a resource, or ErrNotFound.
	FindProjectBuyOrder(ctx context.Context, projectID, resource string) (*model.Order, error)

	// ListExpiredOrders returns open orders whose expiry precedes cutoff.
	ListExpiredOrders(ctx context.Context, cutoff time.Time) ([]model.Order, error)

	// CountOpenBuyOrders counts open buy orders for a (settlement, resource).
	CountOpenBuyOrders(ctx context.Context, settlementID, resource string) (int, error)

	// --- Trades, price history, supply chains ---

	// RecordTrade atomically persists one executed trade: the immutable
	// Trade, its PricePoint, its SupplyChain, and the condition's last
	// nominal price. All four writes succeed or none do.
	RecordTrade(ctx context.Context, t *model.Trade, pp *model.PricePoint, sc *model.SupplyChain) error

	// ListTrades returns trades where the settlement was buyer or seller,
	// newest first.
	ListTrades(ctx context.Context, settlementID string) ([]model.Trade, error)

	// TradeStatsSince returns executed-trade count and average price for
	// a (settlement, resource) since the given time.
	TradeStatsSince(ctx context.Context, settlementID, resource string, since time.Time) (TradeStats, error)

	// ListPriceHistory returns a condition's price points oldest first.
	ListPriceHistory(ctx context.Context, conditionID string) ([]model.PricePoint, error)

	GetSupplyChain(ctx context.Context, id string) (*model.SupplyChain, error)

	// FindSupplyChainByTrade returns the chain created for a trade.
	FindSupplyChainByTrade(ctx context.Context, tradeID string) (*model.SupplyChain, error)

	UpdateSupplyChainStatus(ctx context.Context, id string, status model.SupplyChainStatus) error
}
