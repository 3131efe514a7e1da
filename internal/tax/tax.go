// Package tax implements the sales tax policy applied to trade proceeds.
// The policy is a pure computation; moving collected tax to an authority
// account is out of scope for the market engine.
package tax

import (
	"github.com/shopspring/decimal"

	"github.com/colonyforge/market-engine/internal/model"
)

// Policy computes sales tax on gross trade amounts.
type Policy struct {
	rate decimal.Decimal
}

// NewPolicy creates a flat-rate sales tax policy. Rate is a fraction,
// e.g. 0.05 for 5%.
func NewPolicy(rate float64) Policy {
	return Policy{rate: decimal.NewFromFloat(rate)}
}

// CollectSalesTax returns the tax owed by the seller on a gross amount.
// Rounded to 2 decimal places; never negative.
func (p Policy) CollectSalesTax(_ model.Holder, gross decimal.Decimal, _ string) decimal.Decimal {
	if !gross.IsPositive() {
		return decimal.Zero
	}
	return gross.Mul(p.rate).Round(2)
}
