package ledger_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/colonyforge/market-engine/internal/ledger"
	"github.com/colonyforge/market-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var (
	alice = model.Holder{Kind: model.HolderPlayer, ID: "alice"}
	bob   = model.Holder{Kind: model.HolderPlayer, ID: "bob"}
)

func TestFindOrCreateAccount_Idempotent(t *testing.T) {
	l := ledger.New()
	a1 := l.FindOrCreateAccount(alice, "GCC")
	a2 := l.FindOrCreateAccount(alice, "GCC")
	if a1 != a2 {
		t.Error("same holder+currency should return the same account")
	}

	// Different currency is a different account.
	a3 := l.FindOrCreateAccount(alice, "USD")
	if a1 == a3 {
		t.Error("different currency should get its own account")
	}
	if !a1.Balance().IsZero() {
		t.Errorf("new account should start at zero, got %s", a1.Balance())
	}
}

func TestTransfer_MovesFunds(t *testing.T) {
	l := ledger.New()
	src := l.FindOrCreateAccount(alice, "GCC")
	src.Deposit(d(100))

	if err := l.TransferBetween(d(30), alice, bob, "GCC", "test"); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}

	if !src.Balance().Equal(d(70)) {
		t.Errorf("source should hold 70, got %s", src.Balance())
	}
	dst := l.FindOrCreateAccount(bob, "GCC")
	if !dst.Balance().Equal(d(30)) {
		t.Errorf("destination should hold 30, got %s", dst.Balance())
	}
}

func TestTransfer_InsufficientFunds(t *testing.T) {
	l := ledger.New()
	src := l.FindOrCreateAccount(alice, "GCC")
	src.Deposit(d(10))

	err := l.TransferBetween(d(50), alice, bob, "GCC", "test")
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	// No side effects on failure.
	if !src.Balance().Equal(d(10)) {
		t.Errorf("source balance changed on failed transfer: %s", src.Balance())
	}
	if !l.FindOrCreateAccount(bob, "GCC").Balance().IsZero() {
		t.Error("destination credited on failed transfer")
	}
}

func TestTransfer_InvalidAmount(t *testing.T) {
	l := ledger.New()
	if err := l.TransferBetween(decimal.Zero, alice, bob, "GCC", "test"); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for zero, got %v", err)
	}
	if err := l.TransferBetween(d(-5), alice, bob, "GCC", "test"); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for negative, got %v", err)
	}
}

func TestTransfer_SameAccount(t *testing.T) {
	l := ledger.New()
	l.FindOrCreateAccount(alice, "GCC").Deposit(d(100))
	if err := l.TransferBetween(d(10), alice, alice, "GCC", "test"); !errors.Is(err, ledger.ErrSameAccount) {
		t.Errorf("expected ErrSameAccount, got %v", err)
	}
}

func TestTransfer_OppositeDirectionsConcurrently(t *testing.T) {
	// Opposite-direction transfers between the same pair must not
	// deadlock; lock order is by account id, not argument order.
	l := ledger.New()
	l.FindOrCreateAccount(alice, "GCC").Deposit(d(10000))
	l.FindOrCreateAccount(bob, "GCC").Deposit(d(10000))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			l.TransferBetween(d(1), alice, bob, "GCC", "a→b")
		}()
		go func() {
			defer wg.Done()
			l.TransferBetween(d(1), bob, alice, "GCC", "b→a")
		}()
	}
	wg.Wait()

	total := l.FindOrCreateAccount(alice, "GCC").Balance().
		Add(l.FindOrCreateAccount(bob, "GCC").Balance())
	if !total.Equal(d(20000)) {
		t.Errorf("funds created or destroyed: total %s", total)
	}
}
