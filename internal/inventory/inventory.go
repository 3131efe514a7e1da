// Package inventory tracks per-holder commodity stocks with optional
// storage capacities.
package inventory

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/colonyforge/market-engine/internal/model"
)

// ErrInsufficientStock is returned when a removal exceeds the held
// quantity. This is the primary expected failure mode of trade settlement.
var ErrInsufficientStock = errors.New("inventory: insufficient stock")

type slot struct {
	qty      decimal.Decimal
	capacity decimal.Decimal // zero = uncapped
	hasCap   bool
}

// Service is an in-memory inventory keyed by (holder, resource).
type Service struct {
	mu    sync.RWMutex
	slots map[string]map[string]*slot // holder key → resource → slot
}

// New creates an empty inventory service.
func New() *Service {
	return &Service{slots: make(map[string]map[string]*slot)}
}

func (s *Service) slotFor(h model.Holder, resource string) *slot {
	byRes, ok := s.slots[h.Key()]
	if !ok {
		byRes = make(map[string]*slot)
		s.slots[h.Key()] = byRes
	}
	sl, ok := byRes[resource]
	if !ok {
		sl = &slot{}
		byRes[resource] = sl
	}
	return sl
}

// SetCapacity fixes the total storage capacity for a holder's resource.
func (s *Service) SetCapacity(h model.Holder, resource string, capacity decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl := s.slotFor(h, resource)
	sl.capacity = capacity
	sl.hasCap = true
}

// Add credits quantity to the holder's stock.
func (s *Service) Add(h model.Holder, resource string, qty decimal.Decimal) {
	if !qty.IsPositive() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sl := s.slotFor(h, resource)
	sl.qty = sl.qty.Add(qty)
}

// Remove debits quantity from the holder's stock, failing without side
// effects when the stock is insufficient.
func (s *Service) Remove(h model.Holder, resource string, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return fmt.Errorf("inventory: removal quantity must be positive, got %s", qty)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sl := s.slotFor(h, resource)
	if sl.qty.LessThan(qty) {
		return fmt.Errorf("%w: %s holds %s of %s, needs %s",
			ErrInsufficientStock, h.Key(), sl.qty, resource, qty)
	}
	sl.qty = sl.qty.Sub(qty)
	return nil
}

// QuantityOf returns the holder's current stock of a resource.
func (s *Service) QuantityOf(h model.Holder, resource string) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if byRes, ok := s.slots[h.Key()]; ok {
		if sl, ok := byRes[resource]; ok {
			return sl.qty
		}
	}
	return decimal.Zero
}

// TotalStorage returns the configured capacity, with ok=false when the
// resource is uncapped for this holder.
func (s *Service) TotalStorage(h model.Holder, resource string) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if byRes, ok := s.slots[h.Key()]; ok {
		if sl, ok := byRes[resource]; ok && sl.hasCap {
			return sl.capacity, true
		}
	}
	return decimal.Zero, false
}

// AvailableStorage returns remaining headroom, with ok=false when uncapped.
func (s *Service) AvailableStorage(h model.Holder, resource string) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if byRes, ok := s.slots[h.Key()]; ok {
		if sl, ok := byRes[resource]; ok && sl.hasCap {
			avail := sl.capacity.Sub(sl.qty)
			if avail.IsNegative() {
				avail = decimal.Zero
			}
			return avail, true
		}
	}
	return decimal.Zero, false
}

// Level returns the stock fraction of capacity in [0, 1], with ok=false
// when no capacity is configured.
func (s *Service) Level(h model.Holder, resource string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byRes, ok := s.slots[h.Key()]
	if !ok {
		return 0, false
	}
	sl, ok := byRes[resource]
	if !ok || !sl.hasCap || !sl.capacity.IsPositive() {
		return 0, false
	}
	frac, _ := sl.qty.Div(sl.capacity).Float64()
	if frac > 1 {
		frac = 1
	}
	return frac, true
}
