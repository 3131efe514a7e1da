package logistics_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/colonyforge/market-engine/internal/config"
	"github.com/colonyforge/market-engine/internal/inventory"
	"github.com/colonyforge/market-engine/internal/logistics"
	"github.com/colonyforge/market-engine/internal/model"
	"github.com/colonyforge/market-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestRateCard_CostPerKg(t *testing.T) {
	eco := config.Default()
	rates := logistics.NewRateCard(eco)

	// bulk to luna: 100 × 1.0 × 1.0
	if got := rates.CostPerKg("bulk_material", "earth", "luna"); !got.Equal(d(100)) {
		t.Errorf("expected 100, got %s", got)
	}
	// precision to mars: 400 × 2.5
	if got := rates.CostPerKg("precision", "earth", "mars"); !got.Equal(d(1000)) {
		t.Errorf("expected 1000, got %s", got)
	}
	// Unknown category falls back to bulk_material.
	if got := rates.CostPerKg("mystery", "earth", "luna"); !got.Equal(d(100)) {
		t.Errorf("expected bulk fallback 100, got %s", got)
	}
}

func TestRateCard_TechnologyMultiplier(t *testing.T) {
	eco := config.Default()
	eco.Transport.TechnologyMultiplier = 0.5
	rates := logistics.NewRateCard(eco)

	if got := rates.CostPerKg("bulk_material", "earth", "luna"); !got.Equal(d(50)) {
		t.Errorf("expected 50 with tech multiplier 0.5, got %s", got)
	}
}

// seedChain records a trade so a supply chain exists in the store.
func seedChain(t *testing.T, ms *store.MemoryStore, dest model.Holder, resource string, volume decimal.Decimal) *model.SupplyChain {
	t.Helper()
	ctx := context.Background()

	cond, err := ms.GetOrCreateCondition(ctx, "mare-base", resource)
	if err != nil {
		t.Fatal(err)
	}

	ts := time.Now().UTC()
	seller := model.Holder{Kind: model.HolderPlayer, ID: "seller-1"}
	trade := &model.Trade{
		ID: "trade-1", Buyer: dest, Seller: seller, Resource: resource,
		Quantity: volume, Price: d(50),
		BuyerSettlementID: "mare-base", SellerSettlementID: "mare-base",
		ExecutedAt: ts,
	}
	pp := &model.PricePoint{ID: "pp-1", ConditionID: cond.ID, TradeID: trade.ID, Price: d(50), RecordedAt: ts}
	sc := &model.SupplyChain{
		ID: "chain-1", TradeID: trade.ID, Source: seller, Destination: dest,
		Resource: resource, Volume: volume, Status: model.ChainAwaitingLaunch,
		CreatedAt: ts, UpdatedAt: ts,
	}
	if err := ms.RecordTrade(ctx, trade, pp, sc); err != nil {
		t.Fatalf("seed trade: %v", err)
	}
	return sc
}

func TestTracker_Lifecycle(t *testing.T) {
	ms := store.NewMemoryStore()
	inv := inventory.New()
	buyer := model.Holder{Kind: model.HolderPlayer, ID: "buyer-1"}
	sc := seedChain(t, ms, buyer, "iron", d(75))

	tracker := logistics.NewTracker(ms, inv)
	ctx := context.Background()

	if err := tracker.MarkInTransit(ctx, sc.ID); err != nil {
		t.Fatalf("mark in transit: %v", err)
	}
	// Goods are not credited before delivery.
	if !inv.QuantityOf(buyer, "iron").IsZero() {
		t.Error("buyer credited before delivery")
	}

	if err := tracker.MarkDelivered(ctx, sc.ID); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	if got := inv.QuantityOf(buyer, "iron"); !got.Equal(d(75)) {
		t.Errorf("buyer should hold 75 after delivery, got %s", got)
	}

	got, _ := ms.GetSupplyChain(ctx, sc.ID)
	if got.Status != model.ChainDelivered {
		t.Errorf("expected delivered, got %s", got.Status)
	}
}

func TestTracker_InvalidTransitions(t *testing.T) {
	ms := store.NewMemoryStore()
	inv := inventory.New()
	buyer := model.Holder{Kind: model.HolderPlayer, ID: "buyer-1"}
	sc := seedChain(t, ms, buyer, "iron", d(10))

	tracker := logistics.NewTracker(ms, inv)
	ctx := context.Background()

	// Cannot deliver straight from awaiting_launch.
	if err := tracker.MarkDelivered(ctx, sc.ID); !errors.Is(err, logistics.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	if err := tracker.MarkInTransit(ctx, sc.ID); err != nil {
		t.Fatal(err)
	}
	// Cannot launch twice.
	if err := tracker.MarkInTransit(ctx, sc.ID); !errors.Is(err, logistics.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on re-launch, got %v", err)
	}

	if err := tracker.MarkDelivered(ctx, sc.ID); err != nil {
		t.Fatal(err)
	}
	// Delivered is terminal.
	if err := tracker.MarkFailed(ctx, sc.ID); !errors.Is(err, logistics.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition after delivery, got %v", err)
	}
}

func TestTracker_FailedChainDoesNotCredit(t *testing.T) {
	ms := store.NewMemoryStore()
	inv := inventory.New()
	buyer := model.Holder{Kind: model.HolderPlayer, ID: "buyer-1"}
	sc := seedChain(t, ms, buyer, "iron", d(10))

	tracker := logistics.NewTracker(ms, inv)
	ctx := context.Background()

	if err := tracker.MarkInTransit(ctx, sc.ID); err != nil {
		t.Fatal(err)
	}
	if err := tracker.MarkFailed(ctx, sc.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if !inv.QuantityOf(buyer, "iron").IsZero() {
		t.Error("failed chain must not credit the buyer")
	}

	got, _ := ms.GetSupplyChain(ctx, sc.ID)
	if got.Status != model.ChainFailed {
		t.Errorf("expected failed, got %s", got.Status)
	}
}

func TestTracker_UnknownChain(t *testing.T) {
	tracker := logistics.NewTracker(store.NewMemoryStore(), inventory.New())
	if err := tracker.MarkInTransit(context.Background(), "no-such-chain"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
