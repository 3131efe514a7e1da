package pricing_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/colonyforge/market-engine/internal/colony"
	"github.com/colonyforge/market-engine/internal/config"
	"github.com/colonyforge/market-engine/internal/inventory"
	"github.com/colonyforge/market-engine/internal/ledger"
	"github.com/colonyforge/market-engine/internal/logistics"
	"github.com/colonyforge/market-engine/internal/materials"
	"github.com/colonyforge/market-engine/internal/model"
	"github.com/colonyforge/market-engine/internal/pricing"
	"github.com/colonyforge/market-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type env struct {
	engine *pricing.Engine
	ms     *store.MemoryStore
	inv    *inventory.Service
	funds  *ledger.Ledger
	sett   *colony.Settlement
}

// newEnv builds a pricing engine over one lunar settlement and a single
// test material whose import cost works out to exactly 100:
// spot 50 × refining 1.0 × peg 1.0 + transport 50.
func newEnv(t *testing.T) *env {
	t.Helper()

	eco := config.Default()
	eco.Transport.RatesPerKg["bulk_material"] = 50.0

	mats := []materials.Material{
		{
			ID:                "testium",
			TransportCategory: "bulk_material",
			RefiningProcess:   "default",
			EarthPriceUSD:     50.0,
		},
		{
			ID:                "iron",
			TransportCategory: "bulk_material",
			RefiningProcess:   "smelting",
			EarthPriceUSD:     0.12,
			Local: &materials.LocalProduction{
				Available:        true,
				FacilityRequired: "refinery",
				CostPerKg:        45.0,
			},
		},
	}
	catalog := materials.NewCatalog(eco, logistics.NewRateCard(eco), mats)

	sett := &colony.Settlement{
		ID:         "mare-base",
		Name:       "Mare Base",
		Body:       "luna",
		Population: 120,
		Facilities: []string{"refinery"},
		Budget:     d(500000),
	}
	dir := colony.NewDirectory()
	dir.Add(sett)

	ms := store.NewMemoryStore()
	inv := inventory.New()
	funds := ledger.New()

	// Comfortable defaults: half-full storage, plenty of funds.
	inv.SetCapacity(sett.Holder(), "testium", d(1000))
	inv.Add(sett.Holder(), "testium", d(500))
	funds.FindOrCreateAccount(sett.Holder(), eco.Currency).Deposit(d(100000))

	return &env{
		engine: pricing.NewEngine(ms, catalog, inv, funds, dir, eco),
		ms:     ms,
		inv:    inv,
		funds:  funds,
		sett:   sett,
	}
}

// seedHistory records n price points at the given price so the market
// switches from cost-based to market-based pricing.
func seedHistory(t *testing.T, ms *store.MemoryStore, settlementID, resource string, n int, price decimal.Decimal) {
	t.Helper()
	ctx := context.Background()
	cond, err := ms.GetOrCreateCondition(ctx, settlementID, resource)
	if err != nil {
		t.Fatal(err)
	}

	ts := time.Now().UTC()
	seller := model.Holder{Kind: model.HolderPlayer, ID: "hist-seller"}
	buyer := model.Holder{Kind: model.HolderSettlement, ID: settlementID}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("hist-%d", i)
		trade := &model.Trade{
			ID: "t-" + id, Buyer: buyer, Seller: seller, Resource: resource,
			Quantity: d(10), Price: price,
			BuyerSettlementID: settlementID, SellerSettlementID: settlementID,
			ExecutedAt: ts,
		}
		pp := &model.PricePoint{ID: "pp-" + id, ConditionID: cond.ID, TradeID: trade.ID, Price: price, RecordedAt: ts}
		sc := &model.SupplyChain{
			ID: "sc-" + id, TradeID: trade.ID, Source: seller, Destination: buyer,
			Resource: resource, Volume: d(10), Status: model.ChainAwaitingLaunch,
			CreatedAt: ts, UpdatedAt: ts,
		}
		if err := ms.RecordTrade(ctx, trade, pp, sc); err != nil {
			t.Fatalf("seed trade %d: %v", i, err)
		}
	}
}

// --- Cost-based pricing ---

func TestAsk_CostBased(t *testing.T) {
	e := newEnv(t)

	ask, ok := e.engine.Ask(context.Background(), "mare-base", "testium", pricing.Options{})
	if !ok {
		t.Fatal("expected an ask")
	}
	// 100 × 1.05 markup.
	if !ask.Equal(d(105)) {
		t.Errorf("expected ask 105, got %s", ask)
	}
}

func TestAsk_MinimumMarginFloor(t *testing.T) {
	e := newEnv(t)

	// A 1% markup would sell below the 3% minimum margin; the floor wins.
	ask, ok := e.engine.Ask(context.Background(), "mare-base", "testium", pricing.Options{Markup: 1.01})
	if !ok {
		t.Fatal("expected an ask")
	}
	if !ask.Equal(d(103)) {
		t.Errorf("expected margin floor 103, got %s", ask)
	}
}

func TestAsk_PrefersLocalProduction(t *testing.T) {
	e := newEnv(t)

	// The settlement has a refinery, so iron prices off the 45/kg local
	// cost rather than the import route.
	ask, ok := e.engine.Ask(context.Background(), "mare-base", "iron", pricing.Options{})
	if !ok {
		t.Fatal("expected an ask")
	}
	if !ask.Equal(d(47.25)) {
		t.Errorf("expected 45 × 1.05 = 47.25, got %s", ask)
	}
}

func TestAsk_UnknownMaterial(t *testing.T) {
	e := newEnv(t)
	if _, ok := e.engine.Ask(context.Background(), "mare-base", "phlebotinum", pricing.Options{}); ok {
		t.Error("unknown material should have no ask")
	}
}

func TestAsk_UnknownSettlement(t *testing.T) {
	e := newEnv(t)
	if _, ok := e.engine.Ask(context.Background(), "atlantis", "testium", pricing.Options{}); ok {
		t.Error("unknown settlement should have no ask")
	}
}

func TestBid_CostBased(t *testing.T) {
	e := newEnv(t)

	bid, ok := e.engine.Bid(context.Background(), "mare-base", "testium", pricing.Options{})
	if !ok {
		t.Fatal("expected a bid")
	}
	// 100 × 0.85 discount; stock level 0.5 applies no urgency multiplier.
	if !bid.Equal(d(85)) {
		t.Errorf("expected bid 85, got %s", bid)
	}
}

// --- Market-based pricing ---

func TestAsk_SwitchesToMarketHistory(t *testing.T) {
	e := newEnv(t)
	seedHistory(t, e.ms, "mare-base", "testium", 10, d(200))

	ask, ok := e.engine.Ask(context.Background(), "mare-base", "testium", pricing.Options{})
	if !ok {
		t.Fatal("expected an ask")
	}
	// 200 avg × 1.10 mature markup.
	if !ask.Equal(d(220)) {
		t.Errorf("expected market-based ask 220, got %s", ask)
	}
}

func TestAsk_ThinHistoryStaysCostBased(t *testing.T) {
	e := newEnv(t)
	// 9 trades is below the 10-trade threshold.
	seedHistory(t, e.ms, "mare-base", "testium", 9, d(200))

	ask, ok := e.engine.Ask(context.Background(), "mare-base", "testium", pricing.Options{})
	if !ok {
		t.Fatal("expected an ask")
	}
	if !ask.Equal(d(105)) {
		t.Errorf("expected cost-based 105 below threshold, got %s", ask)
	}
}

func TestAsk_MarketPriceNeverBelowCost(t *testing.T) {
	e := newEnv(t)
	// A crashed market: average 40 × 1.10 = 44 would sell below the 100
	// cost basis. The cost floor holds.
	seedHistory(t, e.ms, "mare-base", "testium", 10, d(40))

	ask, ok := e.engine.Ask(context.Background(), "mare-base", "testium", pricing.Options{})
	if !ok {
		t.Fatal("expected an ask")
	}
	if !ask.Equal(d(105)) {
		t.Errorf("expected cost floor 105, got %s", ask)
	}
}

func TestBid_MarketBased(t *testing.T) {
	e := newEnv(t)
	seedHistory(t, e.ms, "mare-base", "testium", 10, d(200))

	bid, ok := e.engine.Bid(context.Background(), "mare-base", "testium", pricing.Options{})
	if !ok {
		t.Fatal("expected a bid")
	}
	// 200 avg × 0.90 mature discount.
	if !bid.Equal(d(180)) {
		t.Errorf("expected market-based bid 180, got %s", bid)
	}
}

// --- Inventory urgency ---

func TestBid_CriticalInventoryPaysMore(t *testing.T) {
	e := newEnv(t)
	// Drain stock to 50/1000 = 5%, below the 10% critical threshold.
	if err := e.inv.Remove(e.sett.Holder(), "testium", d(450)); err != nil {
		t.Fatal(err)
	}

	bid, ok := e.engine.Bid(context.Background(), "mare-base", "testium", pricing.Options{})
	if !ok {
		t.Fatal("expected a bid")
	}
	// 100 × 0.85 × 1.2 critical multiplier.
	if !bid.Equal(d(102)) {
		t.Errorf("expected urgent bid 102, got %s", bid)
	}
}

func TestBid_LowInventoryPaysMore(t *testing.T) {
	e := newEnv(t)
	// 250/1000 = 25%, between critical (10%) and low (30%).
	if err := e.inv.Remove(e.sett.Holder(), "testium", d(250)); err != nil {
		t.Fatal(err)
	}

	bid, ok := e.engine.Bid(context.Background(), "mare-base", "testium", pricing.Options{})
	if !ok {
		t.Fatal("expected a bid")
	}
	// 100 × 0.85 × 1.1 low multiplier.
	if !bid.Equal(d(93.5)) {
		t.Errorf("expected bid 93.5, got %s", bid)
	}
}

func TestBid_IgnoreInventoryOption(t *testing.T) {
	e := newEnv(t)
	if err := e.inv.Remove(e.sett.Holder(), "testium", d(450)); err != nil {
		t.Fatal(err)
	}

	bid, ok := e.engine.Bid(context.Background(), "mare-base", "testium", pricing.Options{IgnoreInventory: true})
	if !ok {
		t.Fatal("expected a bid")
	}
	if !bid.Equal(d(85)) {
		t.Errorf("expected unadjusted bid 85, got %s", bid)
	}
}

// --- Buy-side gates ---

func TestBid_DeclinesOnExcessInventory(t *testing.T) {
	e := newEnv(t)
	// 800/1000 = 80%, above the 70% high-water mark.
	e.inv.Add(e.sett.Holder(), "testium", d(300))

	if _, ok := e.engine.Bid(context.Background(), "mare-base", "testium", pricing.Options{}); ok {
		t.Error("expected bid declined on excess inventory")
	}

	// ForceBuy bypasses the gates.
	if _, ok := e.engine.Bid(context.Background(), "mare-base", "testium", pricing.Options{ForceBuy: true}); !ok {
		t.Error("ForceBuy should bypass the excess gate")
	}
}

func TestBid_DeclinesWithoutStorageHeadroom(t *testing.T) {
	e := newEnv(t)
	// 900/1000 leaves 100 headroom, inside the 15% reserve (150).
	e.inv.Add(e.sett.Holder(), "testium", d(400))

	if _, ok := e.engine.Bid(context.Background(), "mare-base", "testium", pricing.Options{}); ok {
		t.Error("expected bid declined without headroom beyond the reserve")
	}
}

func TestBid_DeclinesWithoutBudget(t *testing.T) {
	eco := config.Default()
	eco.Transport.RatesPerKg["bulk_material"] = 50.0
	catalog := materials.NewCatalog(eco, logistics.NewRateCard(eco), []materials.Material{
		{ID: "testium", TransportCategory: "bulk_material", RefiningProcess: "default", EarthPriceUSD: 50.0},
	})

	// Broke settlement: no funds, no planned budget.
	sett := &colony.Settlement{ID: "shanty", Name: "Shanty", Body: "luna"}
	dir := colony.NewDirectory()
	dir.Add(sett)

	engine := pricing.NewEngine(store.NewMemoryStore(), catalog, inventory.New(), ledger.New(), dir, eco)

	if _, ok := engine.Bid(context.Background(), "shanty", "testium", pricing.Options{}); ok {
		t.Error("expected bid declined without funds or budget")
	}
}

// --- Spread ---

func TestSpread(t *testing.T) {
	e := newEnv(t)

	q := e.engine.Spread(context.Background(), "mare-base", "testium", pricing.Options{})
	if !q.HasBid || !q.HasAsk {
		t.Fatalf("expected both sides: %+v", q)
	}
	if !q.Bid.Equal(d(85)) || !q.Ask.Equal(d(105)) {
		t.Errorf("expected 85/105, got %s/%s", q.Bid, q.Ask)
	}
	if !q.Spread.Equal(d(20)) {
		t.Errorf("expected spread 20, got %s", q.Spread)
	}
	if !q.SpreadPercent.Equal(d(19.05)) {
		t.Errorf("expected spread percent 19.05, got %s", q.SpreadPercent)
	}
}
