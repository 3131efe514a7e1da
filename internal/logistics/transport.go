// Package logistics models transport costs and tracks physical delivery
// of traded quantities.
package logistics

import (
	"github.com/shopspring/decimal"

	"github.com/colonyforge/market-engine/internal/config"
)

// RateCard computes the per-kg transport cost for a material category on
// a given route. Used as a modifier inside the import cost model.
type RateCard struct {
	eco config.Economy
}

// NewRateCard creates a rate card from the economy parameters.
func NewRateCard(eco config.Economy) RateCard {
	return RateCard{eco: eco}
}

// CostPerKg returns the transport cost in GCC/kg:
//
//	rate(category) × routeModifier(source_destination) × technologyMultiplier
func (r RateCard) CostPerKg(category, source, destination string) decimal.Decimal {
	rate := r.eco.TransportRate(category)
	mod := r.eco.RouteModifier(source + "_" + destination)
	tech := r.eco.Transport.TechnologyMultiplier
	if tech <= 0 {
		tech = 1.0
	}
	return decimal.NewFromFloat(rate * mod * tech).Round(4)
}
