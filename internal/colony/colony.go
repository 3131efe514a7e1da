// Package colony holds the settlement directory: the population,
// facility, budget, and production figures the market engine reads when
// pricing and evolving conditions. The wider settlement simulation owns
// these values; the engine only consumes them.
package colony

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/colonyforge/market-engine/internal/inventory"
	"github.com/colonyforge/market-engine/internal/ledger"
	"github.com/colonyforge/market-engine/internal/model"
)

// Settlement is one colony participating in the market.
type Settlement struct {
	ID         string   `yaml:"id"`
	Name       string   `yaml:"name"`
	Body       string   `yaml:"body"` // celestial body, e.g. "luna"
	Population float64  `yaml:"population"`
	Facilities []string `yaml:"facilities"`

	Budget decimal.Decimal `yaml:"budget"` // total planned spend ceiling
	Funds  decimal.Decimal `yaml:"funds"`  // starting account balance

	Production    map[string]float64 `yaml:"production"`     // resource → units/tick
	Consumption   map[string]float64 `yaml:"consumption"`    // resource → units/tick
	ProjectDemand map[string]float64 `yaml:"project_demand"` // resource → units/tick
	Storage       map[string]float64 `yaml:"storage"`        // resource → capacity
	Stock         map[string]float64 `yaml:"stock"`          // resource → starting quantity
	Tracked       []string           `yaml:"tracked"`        // extra resources to evolve

	facilitySet map[string]bool
}

// Holder returns the settlement's economic actor identity.
func (s *Settlement) Holder() model.Holder {
	return model.Holder{Kind: model.HolderSettlement, ID: s.ID, Name: s.Name}
}

// HasFacility reports whether the settlement operates the named facility.
func (s *Settlement) HasFacility(name string) bool {
	if s.facilitySet == nil {
		s.facilitySet = make(map[string]bool, len(s.Facilities))
		for _, f := range s.Facilities {
			s.facilitySet[f] = true
		}
	}
	return s.facilitySet[name]
}

// TrackedResources returns the sorted union of every resource the
// settlement produces, consumes, demands for projects, or tracks
// explicitly. The condition updater evolves exactly this set.
func (s *Settlement) TrackedResources() []string {
	seen := make(map[string]bool)
	for r := range s.Production {
		seen[r] = true
	}
	for r := range s.Consumption {
		seen[r] = true
	}
	for r := range s.ProjectDemand {
		seen[r] = true
	}
	for _, r := range s.Tracked {
		seen[r] = true
	}
	out := make([]string, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Directory is the set of known settlements, iterated in insertion order.
type Directory struct {
	mu    sync.RWMutex
	byID  map[string]*Settlement
	order []string
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{byID: make(map[string]*Settlement)}
}

// Add registers a settlement. Re-adding an id replaces the entry in place.
func (d *Directory) Add(s *Settlement) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byID[s.ID]; !ok {
		d.order = append(d.order, s.ID)
	}
	d.byID[s.ID] = s
}

// Get returns a settlement by id.
func (d *Directory) Get(id string) (*Settlement, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.byID[id]
	return s, ok
}

// All returns settlements in insertion order.
func (d *Directory) All() []*Settlement {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Settlement, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.byID[id])
	}
	return out
}

// LoadDirectory reads settlement definitions from a YAML file.
func LoadDirectory(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settlements: %w", err)
	}
	var doc struct {
		Settlements []*Settlement `yaml:"settlements"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse settlements: %w", err)
	}

	dir := NewDirectory()
	for _, s := range doc.Settlements {
		if s.ID == "" {
			return nil, fmt.Errorf("settlement %q missing id", s.Name)
		}
		dir.Add(s)
	}
	return dir, nil
}

// Bootstrap opens ledger accounts and seeds inventories for every
// settlement in the directory. Invoked explicitly by the owning workflow
// at startup — settlement creation has no implicit lifecycle hooks.
func Bootstrap(dir *Directory, l *ledger.Ledger, inv *inventory.Service, currency string) {
	for _, s := range dir.All() {
		h := s.Holder()
		acct := l.FindOrCreateAccount(h, currency)
		if s.Funds.IsPositive() {
			acct.Deposit(s.Funds)
		}
		for resource, capacity := range s.Storage {
			inv.SetCapacity(h, resource, decimal.NewFromFloat(capacity))
		}
		for resource, qty := range s.Stock {
			inv.Add(h, resource, decimal.NewFromFloat(qty))
		}
	}
}
