// Package model defines the core domain types shared across the market engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// HolderKind identifies the economic actor type behind an order or account.
type HolderKind string

const (
	HolderPlayer       HolderKind = "player"
	HolderSettlement   HolderKind = "settlement"
	HolderOrganization HolderKind = "organization"
)

// Holder is a tagged reference to an economic actor. The engine performs
// explicit case analysis on Kind instead of relying on polymorphic
// associations.
type Holder struct {
	Kind HolderKind `json:"kind" db:"holder_kind"`
	ID   string     `json:"id" db:"holder_id"`
	Name string     `json:"name,omitempty" db:"holder_name"`
}

// Key returns a stable identity string usable as a map key.
func (h Holder) Key() string {
	return fmt.Sprintf("%s:%s", h.Kind, h.ID)
}

// Valid reports whether the holder carries a known kind and an id.
func (h Holder) Valid() bool {
	switch h.Kind {
	case HolderPlayer, HolderSettlement, HolderOrganization:
		return h.ID != ""
	}
	return false
}

// OrderType is the side of an order.
type OrderType string

const (
	OrderBuy  OrderType = "buy"
	OrderSell OrderType = "sell"
)

// OrderStatus tracks the order lifecycle. Expired project-backed buy
// orders end as StatusFailed; everything else is open until filled.
type OrderStatus string

const (
	StatusOpen   OrderStatus = "open"
	StatusFilled OrderStatus = "filled"
	StatusFailed OrderStatus = "failed"
)

// Condition is the per-(settlement, resource) market state record.
// Supply and demand are evolved only by the condition updater; Price and
// the price history are written only by trade settlement.
type Condition struct {
	ID           string          `json:"id" db:"id"`
	SettlementID string          `json:"settlement_id" db:"settlement_id"`
	Resource     string          `json:"resource" db:"resource"`
	Supply       float64         `json:"supply" db:"supply"` // >= 0
	Demand       float64         `json:"demand" db:"demand"` // >= 1
	Price        decimal.Decimal `json:"price" db:"price"`   // last nominal trade price
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// Order is a standing buy or sell order. Quantity is decremented on each
// partial match; an order with zero quantity is never eligible for matching.
type Order struct {
	ID           string          `json:"id" db:"id"`
	Holder       Holder          `json:"holder"`
	ConditionID  string          `json:"condition_id" db:"condition_id"`
	SettlementID string          `json:"settlement_id" db:"settlement_id"` // originating settlement
	Resource     string          `json:"resource" db:"resource"`
	Quantity     decimal.Decimal `json:"quantity" db:"quantity"` // >= 0
	OrderType    OrderType       `json:"order_type" db:"order_type"`
	Status       OrderStatus     `json:"status" db:"status"`
	PricePerUnit decimal.Decimal `json:"price_per_unit" db:"price_per_unit"` // standing buy orders only
	ProjectID    string          `json:"project_id,omitempty" db:"project_id"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty" db:"expires_at"`
}

// Expired reports whether the order has passed its expiry, if it has one.
func (o *Order) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && o.ExpiresAt.Before(now)
}

// Matchable reports whether the order can still participate in matching.
func (o *Order) Matchable(now time.Time) bool {
	return o.Status == StatusOpen && o.Quantity.IsPositive() && !o.Expired(now)
}

// Trade is an immutable record of one completed exchange.
// Once created, these are never modified or deleted.
type Trade struct {
	ID                 string          `json:"id" db:"id"`
	Buyer              Holder          `json:"buyer"`
	Seller             Holder          `json:"seller"`
	Resource           string          `json:"resource" db:"resource"`
	Quantity           decimal.Decimal `json:"quantity" db:"quantity"`
	Price              decimal.Decimal `json:"price" db:"price"` // per unit
	BuyerSettlementID  string          `json:"buyer_settlement_id" db:"buyer_settlement_id"`
	SellerSettlementID string          `json:"seller_settlement_id" db:"seller_settlement_id"`
	ExecutedAt         time.Time       `json:"executed_at" db:"executed_at"`
}

// Gross returns quantity × price, the amount the tax policy is applied to.
func (t *Trade) Gross() decimal.Decimal {
	return t.Quantity.Mul(t.Price).Round(2)
}

// PricePoint is an immutable, append-only price history entry keyed to a
// condition. Exactly one is written per executed trade.
type PricePoint struct {
	ID          string          `json:"id" db:"id"`
	ConditionID string          `json:"condition_id" db:"condition_id"`
	TradeID     string          `json:"trade_id" db:"trade_id"`
	Price       decimal.Decimal `json:"price" db:"price"`
	RecordedAt  time.Time       `json:"recorded_at" db:"recorded_at"`
}

// SupplyChainStatus is the physical fulfillment state of a traded quantity.
type SupplyChainStatus string

const (
	ChainAwaitingLaunch SupplyChainStatus = "awaiting_launch"
	ChainInTransit      SupplyChainStatus = "in_transit"
	ChainDelivered      SupplyChainStatus = "delivered"
	ChainFailed         SupplyChainStatus = "failed"
)

// SupplyChain tracks delivery of a traded quantity from seller to buyer.
// One is created per executed trade; only the logistics tracker advances
// its status.
type SupplyChain struct {
	ID          string            `json:"id" db:"id"`
	TradeID     string            `json:"trade_id" db:"trade_id"`
	Source      Holder            `json:"source"`
	Destination Holder            `json:"destination"`
	Resource    string            `json:"resource" db:"resource"`
	Volume      decimal.Decimal   `json:"volume" db:"volume"`
	Status      SupplyChainStatus `json:"status" db:"status"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" db:"updated_at"`
}
