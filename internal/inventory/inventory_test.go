package inventory_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/colonyforge/market-engine/internal/inventory"
	"github.com/colonyforge/market-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var depot = model.Holder{Kind: model.HolderSettlement, ID: "depot-1"}

func TestAddRemove(t *testing.T) {
	inv := inventory.New()
	inv.Add(depot, "iron", d(100))

	if err := inv.Remove(depot, "iron", d(40)); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if got := inv.QuantityOf(depot, "iron"); !got.Equal(d(60)) {
		t.Errorf("expected 60 remaining, got %s", got)
	}
}

func TestRemove_InsufficientStock(t *testing.T) {
	inv := inventory.New()
	inv.Add(depot, "iron", d(10))

	err := inv.Remove(depot, "iron", d(25))
	if !errors.Is(err, inventory.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	// Failure leaves the stock untouched.
	if got := inv.QuantityOf(depot, "iron"); !got.Equal(d(10)) {
		t.Errorf("stock changed on failed removal: %s", got)
	}
}

func TestRemove_NonPositive(t *testing.T) {
	inv := inventory.New()
	if err := inv.Remove(depot, "iron", decimal.Zero); err == nil {
		t.Error("expected error for zero removal")
	}
}

func TestAdd_IgnoresNonPositive(t *testing.T) {
	inv := inventory.New()
	inv.Add(depot, "iron", d(-5))
	if !inv.QuantityOf(depot, "iron").IsZero() {
		t.Error("negative add should be ignored")
	}
}

func TestStorage_Uncapped(t *testing.T) {
	inv := inventory.New()
	inv.Add(depot, "iron", d(100))

	if _, ok := inv.TotalStorage(depot, "iron"); ok {
		t.Error("no capacity configured; TotalStorage should report ok=false")
	}
	if _, ok := inv.AvailableStorage(depot, "iron"); ok {
		t.Error("no capacity configured; AvailableStorage should report ok=false")
	}
	if _, ok := inv.Level(depot, "iron"); ok {
		t.Error("no capacity configured; Level should report ok=false")
	}
}

func TestStorage_Capped(t *testing.T) {
	inv := inventory.New()
	inv.SetCapacity(depot, "iron", d(1000))
	inv.Add(depot, "iron", d(250))

	total, ok := inv.TotalStorage(depot, "iron")
	if !ok || !total.Equal(d(1000)) {
		t.Fatalf("expected capacity 1000, got %s ok=%v", total, ok)
	}
	avail, ok := inv.AvailableStorage(depot, "iron")
	if !ok || !avail.Equal(d(750)) {
		t.Errorf("expected headroom 750, got %s ok=%v", avail, ok)
	}
	level, ok := inv.Level(depot, "iron")
	if !ok || level != 0.25 {
		t.Errorf("expected level 0.25, got %v ok=%v", level, ok)
	}
}

func TestStorage_Overfull(t *testing.T) {
	// Capacity can be set below current stock (e.g. after damage);
	// headroom floors at zero and level caps at one.
	inv := inventory.New()
	inv.Add(depot, "iron", d(500))
	inv.SetCapacity(depot, "iron", d(400))

	avail, _ := inv.AvailableStorage(depot, "iron")
	if !avail.IsZero() {
		t.Errorf("expected zero headroom, got %s", avail)
	}
	level, _ := inv.Level(depot, "iron")
	if level != 1.0 {
		t.Errorf("expected level capped at 1, got %v", level)
	}
}

func TestHoldersIsolated(t *testing.T) {
	inv := inventory.New()
	other := model.Holder{Kind: model.HolderPlayer, ID: "p1"}
	inv.Add(depot, "iron", d(100))

	if !inv.QuantityOf(other, "iron").IsZero() {
		t.Error("holders must not share stock")
	}
}
