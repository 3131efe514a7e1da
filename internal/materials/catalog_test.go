package materials_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/colonyforge/market-engine/internal/config"
	"github.com/colonyforge/market-engine/internal/logistics"
	"github.com/colonyforge/market-engine/internal/materials"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func testCatalog(eco config.Economy, mats []materials.Material) *materials.Catalog {
	return materials.NewCatalog(eco, logistics.NewRateCard(eco), mats)
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"Water Ice":  "water_ice",
		"  Iron  ":   "iron",
		"TITANIUM":   "titanium",
		"water_ice":  "water_ice",
		"Liquid O2 ": "liquid_o2",
	}
	for in, want := range cases {
		if got := materials.Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestImportCost_EarthAnchorPrice(t *testing.T) {
	// EAP = spot × refining × peg + transport.
	// titanium: 11.0 × 1.3 (smelting) × 1.0 + 150 (refined_metal, earth_luna ×1.0)
	eco := config.Default()
	cat := testCatalog(eco, materials.DefaultMaterials())

	m, ok := cat.Get("titanium")
	if !ok {
		t.Fatal("titanium missing from default catalog")
	}
	cost, ok := cat.ImportCost(m, "luna")
	if !ok {
		t.Fatal("expected import cost for titanium")
	}
	if !cost.Equal(d(164.3)) {
		t.Errorf("expected EAP 164.3, got %s", cost)
	}
}

func TestImportCost_RouteModifier(t *testing.T) {
	// Same material shipped to Mars costs 2.5× transport.
	// 11.0 × 1.3 + 150 × 2.5 = 14.3 + 375 = 389.3
	eco := config.Default()
	cat := testCatalog(eco, materials.DefaultMaterials())

	m, _ := cat.Get("titanium")
	cost, ok := cat.ImportCost(m, "mars")
	if !ok {
		t.Fatal("expected import cost")
	}
	if !cost.Equal(d(389.3)) {
		t.Errorf("expected EAP 389.3 to mars, got %s", cost)
	}
}

func TestImportCost_RarityFallback(t *testing.T) {
	eco := config.Default()
	cat := testCatalog(eco, []materials.Material{
		{ID: "helium3", TransportCategory: "volatiles", RefiningProcess: "default", Rarity: "exotic"},
		{ID: "unobtanium", TransportCategory: "volatiles", RefiningProcess: "default"},
	})

	m, _ := cat.Get("helium3")
	cost, ok := cat.ImportCost(m, "luna")
	if !ok {
		t.Fatal("rarity should supply a fallback price")
	}
	// 250 (exotic) × 1.0 × 1.0 + 120 (volatiles)
	if !cost.Equal(d(370)) {
		t.Errorf("expected 370, got %s", cost)
	}

	// No price and no rarity: unpriceable.
	m2, _ := cat.Get("unobtanium")
	if _, ok := cat.ImportCost(m2, "luna"); ok {
		t.Error("expected no price for material without spot or rarity")
	}
}

func TestLocalProductionCost(t *testing.T) {
	eco := config.Default()
	cat := testCatalog(eco, materials.DefaultMaterials())

	m, _ := cat.Get("iron")
	cost, ok := cat.LocalProductionCost(m)
	if !ok {
		t.Fatal("iron supports local production")
	}
	if !cost.Equal(d(45)) {
		t.Errorf("expected 45, got %s", cost)
	}

	// Titanium has no local production blueprint.
	m2, _ := cat.Get("titanium")
	if _, ok := cat.LocalProductionCost(m2); ok {
		t.Error("titanium should not be locally producible")
	}
}

func TestProducibleAt(t *testing.T) {
	eco := config.Default()
	cat := testCatalog(eco, materials.DefaultMaterials())

	hasRefinery := func(f string) bool { return f == "refinery" }
	noFacilities := func(string) bool { return false }

	iron, _ := cat.Get("iron")
	if !iron.ProducibleAt(hasRefinery) {
		t.Error("iron should be producible with a refinery")
	}
	if iron.ProducibleAt(noFacilities) {
		t.Error("iron needs a refinery")
	}

	// Regolith needs no facility at all.
	regolith, _ := cat.Get("regolith")
	if !regolith.ProducibleAt(noFacilities) {
		t.Error("regolith should be producible anywhere")
	}
}

func TestLoadCatalog(t *testing.T) {
	eco := config.Default()
	path := filepath.Join(t.TempDir(), "materials.yml")
	doc := `
materials:
  - name: Rare Earths
    transport_category: precision
    refining_process: smelting
    earth_price_usd_per_kg: 85.0
    rarity: rare
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cat, err := materials.LoadCatalog(eco, logistics.NewRateCard(eco), path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	m, ok := cat.Get("Rare Earths")
	if !ok {
		t.Fatal("loaded material not found; id should derive from name")
	}
	if m.EarthPriceUSD != 85.0 {
		t.Errorf("expected spot 85, got %v", m.EarthPriceUSD)
	}
}
