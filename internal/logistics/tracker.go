package logistics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/colonyforge/market-engine/internal/model"
)

// ErrInvalidTransition is returned when a supply chain status change does
// not follow awaiting_launch → in_transit → delivered (or → failed).
var ErrInvalidTransition = errors.New("logistics: invalid supply chain transition")

// ChainStore is the persistence surface the tracker needs.
type ChainStore interface {
	GetSupplyChain(ctx context.Context, id string) (*model.SupplyChain, error)
	UpdateSupplyChainStatus(ctx context.Context, id string, status model.SupplyChainStatus) error
}

// Receiver accepts delivered goods into the destination holder's inventory.
type Receiver interface {
	Add(holder model.Holder, resource string, qty decimal.Decimal)
}

// Tracker advances supply chain records through their lifecycle. Goods are
// credited to the buyer's inventory only on delivery, not at trade time.
type Tracker struct {
	store ChainStore
	recv  Receiver
}

// NewTracker creates a supply chain tracker.
func NewTracker(store ChainStore, recv Receiver) *Tracker {
	return &Tracker{store: store, recv: recv}
}

// MarkInTransit transitions awaiting_launch → in_transit.
func (t *Tracker) MarkInTransit(ctx context.Context, id string) error {
	return t.transition(ctx, id, model.ChainAwaitingLaunch, model.ChainInTransit)
}

// MarkDelivered transitions in_transit → delivered and credits the
// destination holder's inventory with the shipped volume.
func (t *Tracker) MarkDelivered(ctx context.Context, id string) error {
	sc, err := t.store.GetSupplyChain(ctx, id)
	if err != nil {
		return err
	}
	if sc.Status != model.ChainInTransit {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, sc.Status, model.ChainDelivered)
	}
	if err := t.store.UpdateSupplyChainStatus(ctx, id, model.ChainDelivered); err != nil {
		return err
	}
	if t.recv != nil {
		t.recv.Add(sc.Destination, sc.Resource, sc.Volume)
	}
	slog.Info("supply chain delivered",
		"id", id,
		"resource", sc.Resource,
		"volume", sc.Volume.String(),
		"destination", sc.Destination.Key(),
	)
	return nil
}

// MarkFailed terminates a chain from any non-terminal state.
func (t *Tracker) MarkFailed(ctx context.Context, id string) error {
	sc, err := t.store.GetSupplyChain(ctx, id)
	if err != nil {
		return err
	}
	if sc.Status == model.ChainDelivered || sc.Status == model.ChainFailed {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, sc.Status, model.ChainFailed)
	}
	return t.store.UpdateSupplyChainStatus(ctx, id, model.ChainFailed)
}

func (t *Tracker) transition(ctx context.Context, id string, from, to model.SupplyChainStatus) error {
	sc, err := t.store.GetSupplyChain(ctx, id)
	if err != nil {
		return err
	}
	if sc.Status != from {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, sc.Status, to)
	}
	return t.store.UpdateSupplyChainStatus(ctx, id, to)
}
