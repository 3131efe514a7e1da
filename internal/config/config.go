// Package config holds the economic parameters that drive pricing and
// supply/demand evolution. Parameters load from a YAML file (the game
// ships one per deployment) layered over built-in defaults, and are
// passed around as an explicit value — nothing in the engine reads
// global mutable config.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Economy is the top-level economic parameter set.
type Economy struct {
	Currency     string  `yaml:"currency"`
	USDToGCCPeg  float64 `yaml:"usd_to_gcc_peg"`
	SalesTaxRate float64 `yaml:"sales_tax_rate"`

	Transport       Transport          `yaml:"transport"`
	RefiningFactors map[string]float64 `yaml:"refining_factors"`
	NPC             NPCBehavior        `yaml:"npc_behavior"`
	ConditionUpdate ConditionUpdate    `yaml:"condition_update"`
	PerCapitaDemand map[string]float64 `yaml:"per_capita_demand"` // resource → units/person/tick
}

// Transport configures the logistics cost model.
type Transport struct {
	RatesPerKg           map[string]float64 `yaml:"rates_per_kg"`     // category → GCC/kg
	RouteModifiers       map[string]float64 `yaml:"route_modifiers"`  // "source_destination" → factor
	TechnologyMultiplier float64            `yaml:"technology_multiplier"`
}

// NPCBehavior configures the synthetic counter-party.
type NPCBehavior struct {
	CostBased   CostBasedPricing   `yaml:"cost_based"`
	MarketBased MarketBasedPricing `yaml:"market_based"`

	InventoryCriticalThreshold  float64 `yaml:"inventory_critical_threshold"` // stock fraction
	InventoryLowThreshold       float64 `yaml:"inventory_low_threshold"`
	InventoryHighThreshold      float64 `yaml:"inventory_high_threshold"`
	InventoryCriticalMultiplier float64 `yaml:"inventory_critical_multiplier"` // >1: pay more
	InventoryLowMultiplier      float64 `yaml:"inventory_low_multiplier"`
	StorageReservePercent       float64 `yaml:"storage_reserve_percent"`
	MaxSinglePurchasePercent    float64 `yaml:"max_single_purchase_percent"`
}

// CostBasedPricing applies before a resource has meaningful trade history.
type CostBasedPricing struct {
	SellMarkup          float64 `yaml:"sell_markup"`
	BuyDiscount         float64 `yaml:"buy_discount"`
	MinimumProfitMargin float64 `yaml:"minimum_profit_margin"`
}

// MarketBasedPricing applies once enough trades exist in the lookback window.
type MarketBasedPricing struct {
	SellMarkup             float64 `yaml:"sell_markup"`
	BuyDiscount            float64 `yaml:"buy_discount"`
	MarketHistoryDays      int     `yaml:"market_history_days"`
	MarketHistoryThreshold int     `yaml:"market_history_threshold"`
}

// ConditionUpdate configures the periodic supply/demand smoothing tick.
type ConditionUpdate struct {
	Smoothing    float64 `yaml:"smoothing"`     // fraction of prior level retained
	DemandGrowth float64 `yaml:"demand_growth"` // weight of expected demand per tick
}

// Default returns the built-in parameter set. Values mirror the shipped
// economic parameters file.
func Default() Economy {
	return Economy{
		Currency:     "GCC",
		USDToGCCPeg:  1.0,
		SalesTaxRate: 0.05,
		Transport: Transport{
			RatesPerKg: map[string]float64{
				"bulk_material": 100.0,
				"refined_metal": 150.0,
				"volatiles":     120.0,
				"precision":     400.0,
			},
			RouteModifiers: map[string]float64{
				"earth_luna": 1.0,
				"earth_mars": 2.5,
			},
			TechnologyMultiplier: 1.0,
		},
		RefiningFactors: map[string]float64{
			"default":  1.0,
			"smelting": 1.3,
			"cryogen":  1.5,
		},
		NPC: NPCBehavior{
			CostBased: CostBasedPricing{
				SellMarkup:          1.05,
				BuyDiscount:         0.85,
				MinimumProfitMargin: 0.03,
			},
			MarketBased: MarketBasedPricing{
				SellMarkup:             1.10,
				BuyDiscount:            0.90,
				MarketHistoryDays:      30,
				MarketHistoryThreshold: 10,
			},
			InventoryCriticalThreshold:  0.10,
			InventoryLowThreshold:       0.30,
			InventoryHighThreshold:      0.70,
			InventoryCriticalMultiplier: 1.2,
			InventoryLowMultiplier:      1.1,
			StorageReservePercent:       0.15,
			MaxSinglePurchasePercent:    0.20,
		},
		ConditionUpdate: ConditionUpdate{
			Smoothing:    0.8,
			DemandGrowth: 0.05,
		},
		PerCapitaDemand: map[string]float64{},
	}
}

// Load reads a YAML parameter file layered over the defaults.
func Load(path string) (Economy, error) {
	eco := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return eco, fmt.Errorf("read economy config: %w", err)
	}

	var doc struct {
		Economy Economy `yaml:"economy"`
	}
	doc.Economy = eco
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return eco, fmt.Errorf("parse economy config: %w", err)
	}

	eco = doc.Economy
	if err := eco.Validate(); err != nil {
		return eco, err
	}
	return eco, nil
}

// TransportRate returns the per-kg rate for a category, falling back to
// bulk_material for unknown categories.
func (e Economy) TransportRate(category string) float64 {
	if rate, ok := e.Transport.RatesPerKg[category]; ok {
		return rate
	}
	return e.Transport.RatesPerKg["bulk_material"]
}

// RouteModifier returns the modifier for a "source_destination" route key,
// defaulting to 1.0 for unlisted routes.
func (e Economy) RouteModifier(route string) float64 {
	if mod, ok := e.Transport.RouteModifiers[route]; ok {
		return mod
	}
	return 1.0
}

// RefiningFactor returns the factor for a refining process, falling back
// to the default factor.
func (e Economy) RefiningFactor(process string) float64 {
	if f, ok := e.RefiningFactors[process]; ok {
		return f
	}
	if f, ok := e.RefiningFactors["default"]; ok {
		return f
	}
	return 1.0
}

// SellMarkup returns the ask markup for the given pricing mode.
func (e Economy) SellMarkup(marketExists bool) float64 {
	if marketExists {
		return e.NPC.MarketBased.SellMarkup
	}
	return e.NPC.CostBased.SellMarkup
}

// BuyDiscount returns the bid discount for the given pricing mode.
func (e Economy) BuyDiscount(marketExists bool) float64 {
	if marketExists {
		return e.NPC.MarketBased.BuyDiscount
	}
	return e.NPC.CostBased.BuyDiscount
}

// Validate checks the parameter set for values that would corrupt pricing.
func (e Economy) Validate() error {
	var errs []string

	if e.Currency == "" {
		errs = append(errs, "currency must be set")
	}
	if e.USDToGCCPeg <= 0 {
		errs = append(errs, "usd_to_gcc_peg must be positive")
	}
	if e.SalesTaxRate < 0 || e.SalesTaxRate >= 1 {
		errs = append(errs, "sales_tax_rate must be in [0, 1)")
	}
	if e.TransportRate("bulk_material") <= 0 {
		errs = append(errs, "transport rate for bulk_material must be positive")
	}
	if e.NPC.CostBased.SellMarkup < 1.0 || e.NPC.MarketBased.SellMarkup < 1.0 {
		errs = append(errs, "sell markups must be >= 1.0")
	}
	if e.NPC.CostBased.BuyDiscount > 1.0 || e.NPC.MarketBased.BuyDiscount > 1.0 {
		errs = append(errs, "buy discounts must be <= 1.0")
	}
	if e.NPC.MarketBased.MarketHistoryDays <= 0 || e.NPC.MarketBased.MarketHistoryThreshold <= 0 {
		errs = append(errs, "market history window and threshold must be positive")
	}
	if s := e.ConditionUpdate.Smoothing; s <= 0 || s >= 1 {
		errs = append(errs, "condition smoothing must be in (0, 1)")
	}
	if e.ConditionUpdate.DemandGrowth <= 0 {
		errs = append(errs, "demand growth must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("economy config invalid: %v", errs)
	}
	return nil
}
