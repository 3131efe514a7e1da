// Package pricing computes the synthetic counter-party's bid and ask for
// a resource at a settlement.
//
// Strategy:
//   - Bootstrap markets (thin trade history): cost-based pricing from the
//     Earth-import or local-production unit cost.
//   - Mature markets: rolling average of recent executed trade prices.
//   - The counter-party always keeps a minimum profit margin and adjusts
//     its bid for inventory urgency.
//
// The engine is a pure function of current state: it never mutates a
// condition, and every failure surfaces as a missing price, not an error.
package pricing

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/colonyforge/market-engine/internal/colony"
	"github.com/colonyforge/market-engine/internal/config"
	"github.com/colonyforge/market-engine/internal/inventory"
	"github.com/colonyforge/market-engine/internal/ledger"
	"github.com/colonyforge/market-engine/internal/materials"
	"github.com/colonyforge/market-engine/internal/store"
)

// Options carries optional per-call context overriding config defaults.
type Options struct {
	Markup   float64 // 0 = use configured markup
	Discount float64 // 0 = use configured discount

	// EstimatedQuantity/Price feed the budget gate for buy-side checks.
	EstimatedQuantity decimal.Decimal
	EstimatedPrice    decimal.Decimal

	ForceBuy        bool // bypass the buy-side gates
	IgnoreInventory bool // skip inventory urgency adjustment
}

// Quote is a combined bid/ask snapshot.
type Quote struct {
	Bid            decimal.Decimal `json:"bid"`
	Ask            decimal.Decimal `json:"ask"`
	Spread         decimal.Decimal `json:"spread"`
	SpreadPercent  decimal.Decimal `json:"spread_percent"`
	HasBid         bool            `json:"has_bid"`
	HasAsk         bool            `json:"has_ask"`
}

// Engine computes bid/ask prices.
type Engine struct {
	store   store.Store
	catalog *materials.Catalog
	inv     *inventory.Service
	funds   *ledger.Ledger
	dir     *colony.Directory
	eco     config.Economy
	now     func() time.Time
}

// NewEngine creates a pricing engine.
func NewEngine(st store.Store, catalog *materials.Catalog, inv *inventory.Service,
	funds *ledger.Ledger, dir *colony.Directory, eco config.Economy) *Engine {
	return &Engine{
		store:   st,
		catalog: catalog,
		inv:     inv,
		funds:   funds,
		dir:     dir,
		eco:     eco,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the engine's clock. Test hook.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Ask returns the price at which the settlement's counter-party sells the
// resource. ok=false means it won't sell (unknown material, no cost basis).
func (e *Engine) Ask(ctx context.Context, settlementID, resource string, opts Options) (decimal.Decimal, bool) {
	sett, ok := e.dir.Get(settlementID)
	if !ok {
		slog.Warn("ask for unknown settlement", "settlement", settlementID)
		return decimal.Zero, false
	}

	if avg, ok := e.marketAverage(ctx, sett, resource); ok {
		return e.marketBasedAsk(sett, resource, avg, opts)
	}
	return e.costBasedAsk(sett, resource, opts)
}

// Bid returns the price at which the settlement's counter-party buys the
// resource. ok=false means it declines to buy: unknown material, no
// storage headroom, no budget, or excess inventory.
func (e *Engine) Bid(ctx context.Context, settlementID, resource string, opts Options) (decimal.Decimal, bool) {
	sett, ok := e.dir.Get(settlementID)
	if !ok {
		slog.Warn("bid for unknown settlement", "settlement", settlementID)
		return decimal.Zero, false
	}

	if !e.wantsResource(sett, resource, opts) {
		return decimal.Zero, false
	}

	if avg, ok := e.marketAverage(ctx, sett, resource); ok {
		return e.marketBasedBid(sett, resource, avg, opts)
	}
	return e.costBasedBid(sett, resource, opts)
}

// Spread returns both sides at once.
func (e *Engine) Spread(ctx context.Context, settlementID, resource string, opts Options) Quote {
	var q Quote
	q.Bid, q.HasBid = e.Bid(ctx, settlementID, resource, opts)
	q.Ask, q.HasAsk = e.Ask(ctx, settlementID, resource, opts)
	if q.HasBid && q.HasAsk && q.Ask.IsPositive() {
		q.Spread = q.Ask.Sub(q.Bid).Round(2)
		q.SpreadPercent = q.Ask.Sub(q.Bid).Div(q.Ask).Mul(decimal.NewFromInt(100)).Round(2)
	}
	return q
}

// --- Cost-based pricing (bootstrap markets) ---

func (e *Engine) costBasedAsk(sett *colony.Settlement, resource string, opts Options) (decimal.Decimal, bool) {
	cost, ok := e.costBasis(sett, resource)
	if !ok || !cost.IsPositive() {
		return decimal.Zero, false
	}

	markup := opts.Markup
	if markup == 0 {
		markup = e.eco.SellMarkup(false)
	}
	minMargin := e.eco.NPC.CostBased.MinimumProfitMargin

	// Apply markup but never drop below the minimum margin over cost.
	proposed := cost.Mul(decimal.NewFromFloat(markup))
	floor := cost.Mul(decimal.NewFromFloat(1 + minMargin))
	return decimal.Max(proposed, floor).Round(2), true
}

func (e *Engine) costBasedBid(sett *colony.Settlement, resource string, opts Options) (decimal.Decimal, bool) {
	cost, ok := e.costBasis(sett, resource)
	if !ok || !cost.IsPositive() {
		return decimal.Zero, false
	}

	discount := opts.Discount
	if discount == 0 {
		discount = e.eco.BuyDiscount(false)
	}
	discount = e.adjustForInventory(sett, resource, discount, opts)
	return cost.Mul(decimal.NewFromFloat(discount)).Round(2), true
}

// costBasis prefers local production where the settlement has the required
// facility, otherwise the Earth import cost.
func (e *Engine) costBasis(sett *colony.Settlement, resource string) (decimal.Decimal, bool) {
	mat, ok := e.catalog.Get(resource)
	if !ok {
		slog.Warn("no material definition", "resource", resource, "settlement", sett.ID)
		return decimal.Zero, false
	}

	if mat.ProducibleAt(sett.HasFacility) {
		if cost, ok := e.catalog.LocalProductionCost(mat); ok {
			return cost, true
		}
	}

	destination := sett.Body
	if destination == "" {
		destination = "luna"
	}
	return e.catalog.ImportCost(mat, destination)
}

// --- Market-based pricing (mature markets) ---

func (e *Engine) marketBasedAsk(sett *colony.Settlement, resource string, avg decimal.Decimal, opts Options) (decimal.Decimal, bool) {
	markup := opts.Markup
	if markup == 0 {
		markup = e.eco.SellMarkup(true)
	}
	proposed := avg.Mul(decimal.NewFromFloat(markup))

	// Floor: never sell below cost.
	if floor, ok := e.costBasedAsk(sett, resource, opts); ok {
		proposed = decimal.Max(proposed, floor)
	}
	return proposed.Round(2), true
}

func (e *Engine) marketBasedBid(sett *colony.Settlement, resource string, avg decimal.Decimal, opts Options) (decimal.Decimal, bool) {
	discount := opts.Discount
	if discount == 0 {
		discount = e.eco.BuyDiscount(true)
	}
	discount = e.adjustForInventory(sett, resource, discount, opts)
	return avg.Mul(decimal.NewFromFloat(discount)).Round(2), true
}

// marketAverage returns the rolling average trade price when enough
// history exists in the lookback window.
func (e *Engine) marketAverage(ctx context.Context, sett *colony.Settlement, resource string) (decimal.Decimal, bool) {
	days := e.eco.NPC.MarketBased.MarketHistoryDays
	since := e.now().AddDate(0, 0, -days)

	stats, err := e.store.TradeStatsSince(ctx, sett.ID, resource, since)
	if err != nil {
		slog.Warn("trade stats lookup failed", "settlement", sett.ID, "resource", resource, "err", err)
		return decimal.Zero, false
	}
	if stats.Count < e.eco.NPC.MarketBased.MarketHistoryThreshold || !stats.AvgPrice.IsPositive() {
		return decimal.Zero, false
	}
	return stats.AvgPrice, true
}

// --- Buy-side gates ---

func (e *Engine) wantsResource(sett *colony.Settlement, resource string, opts Options) bool {
	if opts.ForceBuy {
		return true
	}
	if !e.hasStorageHeadroom(sett, resource) {
		return false
	}
	if !e.hasBudget(sett, opts) {
		return false
	}
	return !e.inventoryExcess(sett, resource)
}

func (e *Engine) hasStorageHeadroom(sett *colony.Settlement, resource string) bool {
	avail, ok := e.inv.AvailableStorage(sett.Holder(), resource)
	if !ok {
		return true // uncapped storage
	}
	total, _ := e.inv.TotalStorage(sett.Holder(), resource)
	reserve := total.Mul(decimal.NewFromFloat(e.eco.NPC.StorageReservePercent))
	return avail.GreaterThan(reserve)
}

func (e *Engine) hasBudget(sett *colony.Settlement, opts Options) bool {
	estQty := opts.EstimatedQuantity
	if !estQty.IsPositive() {
		estQty = decimal.NewFromInt(100)
	}
	estPrice := opts.EstimatedPrice
	if !estPrice.IsPositive() {
		estPrice = decimal.NewFromInt(100)
	}
	estimatedCost := estQty.Mul(estPrice)

	available := e.funds.FindOrCreateAccount(sett.Holder(), e.eco.Currency).Balance()
	if available.GreaterThan(estimatedCost) {
		return true
	}
	if !sett.Budget.IsPositive() {
		return false
	}
	maxSingle := sett.Budget.Mul(decimal.NewFromFloat(e.eco.NPC.MaxSinglePurchasePercent))
	return estimatedCost.LessThan(maxSingle)
}

func (e *Engine) inventoryExcess(sett *colony.Settlement, resource string) bool {
	level, ok := e.inv.Level(sett.Holder(), resource)
	if !ok {
		return false
	}
	return level > e.eco.NPC.InventoryHighThreshold
}

// adjustForInventory raises the effective discount (pays more) when the
// settlement's stock runs low.
func (e *Engine) adjustForInventory(sett *colony.Settlement, resource string, discount float64, opts Options) float64 {
	if opts.IgnoreInventory {
		return discount
	}
	level, ok := e.inv.Level(sett.Holder(), resource)
	if !ok {
		return discount
	}

	switch {
	case level < e.eco.NPC.InventoryCriticalThreshold:
		return discount * e.eco.NPC.InventoryCriticalMultiplier
	case level < e.eco.NPC.InventoryLowThreshold:
		return discount * e.eco.NPC.InventoryLowMultiplier
	default:
		return discount
	}
}
