// Package ledger implements holder accounts and atomic fund transfers.
//
// A transfer locks both accounts for its duration, always acquiring the
// locks in ascending account-id order so concurrent opposite-direction
// trades between the same pair cannot deadlock.
package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/colonyforge/market-engine/internal/model"
)

var (
	// ErrInsufficientFunds is returned when the source account cannot
	// cover the transfer amount.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInvalidAmount is returned for zero or negative transfer amounts.
	ErrInvalidAmount = errors.New("ledger: transfer amount must be positive")

	// ErrSameAccount is returned when source and destination are the
	// same account.
	ErrSameAccount = errors.New("ledger: cannot transfer to the same account")
)

// Account is one holder's balance in one currency.
type Account struct {
	ID       string
	Holder   model.Holder
	Currency string

	mu      sync.Mutex
	balance decimal.Decimal
}

// Balance returns the current balance.
func (a *Account) Balance() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance
}

// Deposit credits the account. Used for settlement funding and refunds.
func (a *Account) Deposit(amount decimal.Decimal) {
	a.mu.Lock()
	a.balance = a.balance.Add(amount)
	a.mu.Unlock()
}

// Ledger owns all accounts. Accounts are created lazily per
// (holder, currency) pair.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[string]*Account // holder key + currency → account
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{accounts: make(map[string]*Account)}
}

func accountKey(h model.Holder, currency string) string {
	return h.Key() + ":" + currency
}

// FindOrCreateAccount returns the holder's account in the given currency,
// creating a zero-balance account on first use.
func (l *Ledger) FindOrCreateAccount(h model.Holder, currency string) *Account {
	key := accountKey(h, currency)

	l.mu.RLock()
	acct, ok := l.accounts[key]
	l.mu.RUnlock()
	if ok {
		return acct
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if acct, ok := l.accounts[key]; ok {
		return acct
	}
	acct = &Account{
		ID:       uuid.New().String(),
		Holder:   h,
		Currency: currency,
	}
	l.accounts[key] = acct
	return acct
}

// Transfer moves amount from one account to another, holding both account
// locks for the duration. Fails without side effects when the source
// balance is insufficient.
func (l *Ledger) Transfer(amount decimal.Decimal, from, to *Account, description string) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if from.ID == to.ID {
		return ErrSameAccount
	}

	// Lock in stable account-id order.
	first, second := from, to
	if second.ID < first.ID {
		first, second = second, first
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	if from.balance.LessThan(amount) {
		return fmt.Errorf("%w: account %s has %s, needs %s",
			ErrInsufficientFunds, from.ID, from.balance, amount)
	}

	from.balance = from.balance.Sub(amount)
	to.balance = to.balance.Add(amount)

	slog.Debug("funds transferred",
		"amount", amount.String(),
		"currency", from.Currency,
		"from", from.Holder.Key(),
		"to", to.Holder.Key(),
		"description", description,
	)
	return nil
}

// TransferBetween resolves both holders' accounts and transfers between them.
func (l *Ledger) TransferBetween(amount decimal.Decimal, from, to model.Holder, currency, description string) error {
	src := l.FindOrCreateAccount(from, currency)
	dst := l.FindOrCreateAccount(to, currency)
	return l.Transfer(amount, src, dst, description)
}
