// Package materials resolves unit costs for tradeable commodities: the
// Earth Anchor Price (EAP) for imports and, where a settlement can
// produce locally, the local production cost.
package materials

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/colonyforge/market-engine/internal/config"
	"github.com/colonyforge/market-engine/internal/logistics"
)

// LocalProduction describes off-Earth production of a material.
type LocalProduction struct {
	Available        bool    `yaml:"available"`
	FacilityRequired string  `yaml:"facility_required"` // empty = no facility needed
	CostPerKg        float64 `yaml:"cost_per_kg"`       // 0 = derive from Earth price
}

// Material is one tradeable commodity definition.
type Material struct {
	ID                string           `yaml:"id"`
	Name              string           `yaml:"name"`
	TransportCategory string           `yaml:"transport_category"`
	RefiningProcess   string           `yaml:"refining_process"`
	EarthPriceUSD     float64          `yaml:"earth_price_usd_per_kg"`
	Rarity            string           `yaml:"rarity"`
	Local             *LocalProduction `yaml:"local_production"`
}

// Catalog resolves material definitions and unit costs.
type Catalog struct {
	eco   config.Economy
	rates logistics.RateCard
	mats  map[string]Material
}

// NewCatalog builds a catalog over the given material definitions.
func NewCatalog(eco config.Economy, rates logistics.RateCard, mats []Material) *Catalog {
	c := &Catalog{
		eco:   eco,
		rates: rates,
		mats:  make(map[string]Material, len(mats)),
	}
	for _, m := range mats {
		if m.ID == "" {
			m.ID = Normalize(m.Name)
		}
		c.mats[m.ID] = m
	}
	return c
}

// LoadCatalog reads material definitions from a YAML file.
func LoadCatalog(eco config.Economy, rates logistics.RateCard, path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read material catalog: %w", err)
	}
	var doc struct {
		Materials []Material `yaml:"materials"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse material catalog: %w", err)
	}
	return NewCatalog(eco, rates, doc.Materials), nil
}

// Normalize converts a material name to its canonical id form.
func Normalize(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// Get looks up a material by name or id.
func (c *Catalog) Get(name string) (Material, bool) {
	m, ok := c.mats[Normalize(name)]
	return m, ok
}

// ImportCost returns the Earth Anchor Price for one kg of the material
// delivered to the destination body:
//
//	EAP = (earth_spot_usd × refining_factor) × usd_to_gcc_peg + transport
//
// The second return is false when no price can be derived.
func (c *Catalog) ImportCost(m Material, destination string) (decimal.Decimal, bool) {
	spot := m.EarthPriceUSD
	if spot <= 0 {
		spot = priceFromRarity(m.Rarity)
	}
	if spot <= 0 {
		slog.Warn("no earth price for material", "material", m.ID)
		return decimal.Zero, false
	}

	base := spot * c.eco.RefiningFactor(m.RefiningProcess) * c.eco.USDToGCCPeg
	transport := c.rates.CostPerKg(m.TransportCategory, "earth", destination)
	eap := decimal.NewFromFloat(base).Add(transport)
	return eap.Round(4), true
}

// LocalProductionCost returns the per-kg cost of producing the material
// at a settlement, when the material supports local production. Falls
// back to Earth price when the blueprint omits an explicit cost.
func (c *Catalog) LocalProductionCost(m Material) (decimal.Decimal, bool) {
	if m.Local == nil || !m.Local.Available {
		return decimal.Zero, false
	}
	if m.Local.CostPerKg > 0 {
		return decimal.NewFromFloat(m.Local.CostPerKg).Round(4), true
	}
	if m.EarthPriceUSD > 0 {
		cost := m.EarthPriceUSD * c.eco.USDToGCCPeg
		return decimal.NewFromFloat(cost).Round(4), true
	}
	return decimal.Zero, false
}

// ProducibleAt reports whether the material can be produced with the
// given facility set.
func (m Material) ProducibleAt(hasFacility func(string) bool) bool {
	if m.Local == nil || !m.Local.Available {
		return false
	}
	if m.Local.FacilityRequired == "" {
		return true
	}
	return hasFacility != nil && hasFacility(m.Local.FacilityRequired)
}

// priceFromRarity infers a spot price when a blueprint carries no explicit
// Earth price.
func priceFromRarity(rarity string) float64 {
	switch strings.ToLower(rarity) {
	case "common":
		return 2.0
	case "uncommon":
		return 10.0
	case "rare":
		return 50.0
	case "exotic":
		return 250.0
	default:
		return 0
	}
}

// DefaultMaterials returns the baseline commodity set used when no
// catalog file is supplied.
func DefaultMaterials() []Material {
	return []Material{
		{
			ID:                "iron",
			Name:              "Iron",
			TransportCategory: "bulk_material",
			RefiningProcess:   "smelting",
			EarthPriceUSD:     0.12,
			Rarity:            "common",
			Local: &LocalProduction{
				Available:        true,
				FacilityRequired: "refinery",
				CostPerKg:        45.0,
			},
		},
		{
			ID:                "water_ice",
			Name:              "Water Ice",
			TransportCategory: "volatiles",
			RefiningProcess:   "default",
			EarthPriceUSD:     0.01,
			Rarity:            "common",
			Local: &LocalProduction{
				Available:        true,
				FacilityRequired: "ice_mine",
				CostPerKg:        12.0,
			},
		},
		{
			ID:                "regolith",
			Name:              "Regolith",
			TransportCategory: "bulk_material",
			RefiningProcess:   "default",
			Rarity:            "common",
			Local:             &LocalProduction{Available: true, CostPerKg: 2.0},
		},
		{
			ID:                "oxygen",
			Name:              "Oxygen",
			TransportCategory: "volatiles",
			RefiningProcess:   "cryogen",
			EarthPriceUSD:     0.20,
			Rarity:            "common",
			Local: &LocalProduction{
				Available:        true,
				FacilityRequired: "electrolysis_plant",
				CostPerKg:        30.0,
			},
		},
		{
			ID:                "titanium",
			Name:              "Titanium",
			TransportCategory: "refined_metal",
			RefiningProcess:   "smelting",
			EarthPriceUSD:     11.0,
			Rarity:            "uncommon",
		},
		{
			ID:                "electronics",
			Name:              "Electronics",
			TransportCategory: "precision",
			RefiningProcess:   "default",
			EarthPriceUSD:     180.0,
			Rarity:            "rare",
		},
	}
}
