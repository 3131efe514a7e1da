// Package conditions evolves per-(settlement, resource) supply and
// demand levels on a periodic tick.
//
// Both levels decay by a smoothing factor and absorb the tick's flows:
//
//	supply' = max(0, supply×s + production − consumption)
//	demand' = max(1, demand×s + (population×perCapita + projectDemand)×g)
//
// Supply floors at zero; demand floors at one so a market never reports
// literally nobody wanting a tracked resource.
package conditions

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/colonyforge/market-engine/internal/colony"
	"github.com/colonyforge/market-engine/internal/config"
	"github.com/colonyforge/market-engine/internal/metrics"
	"github.com/colonyforge/market-engine/internal/store"
)

// ErrTickRunning is returned when a tick is requested while one is
// already in progress.
var ErrTickRunning = errors.New("conditions: tick already running")

// Updater runs the supply/demand evolution tick.
type Updater struct {
	store store.Store
	dir   *colony.Directory
	eco   config.Economy

	mu sync.Mutex // at most one tick at a time
}

// NewUpdater creates a condition updater.
func NewUpdater(st store.Store, dir *colony.Directory, eco config.Economy) *Updater {
	return &Updater{store: st, dir: dir, eco: eco}
}

// RunTick evolves every tracked (settlement, resource) condition once.
// Ticks are non-reentrant: a call while one runs returns ErrTickRunning
// rather than queueing.
func (u *Updater) RunTick(ctx context.Context) (int, error) {
	if !u.mu.TryLock() {
		return 0, ErrTickRunning
	}
	defer u.mu.Unlock()

	start := time.Now()
	updated := 0

	for _, sett := range u.dir.All() {
		for _, resource := range sett.TrackedResources() {
			if err := ctx.Err(); err != nil {
				return updated, err
			}
			if err := u.tickOne(ctx, sett, resource); err != nil {
				slog.Warn("condition tick skipped",
					"settlement", sett.ID, "resource", resource, "err", err)
				continue
			}
			updated++
			metrics.ConditionsUpdated.Inc()
		}
	}

	elapsed := time.Since(start)
	metrics.ConditionTickDuration.Observe(elapsed.Seconds())
	slog.Info("condition tick complete", "updated", updated, "elapsed", elapsed)
	return updated, nil
}

func (u *Updater) tickOne(ctx context.Context, sett *colony.Settlement, resource string) error {
	cond, err := u.store.GetOrCreateCondition(ctx, sett.ID, resource)
	if err != nil {
		return err
	}

	s := u.eco.ConditionUpdate.Smoothing
	g := u.eco.ConditionUpdate.DemandGrowth

	supply := cond.Supply*s + sett.Production[resource] - sett.Consumption[resource]
	if supply < 0 {
		supply = 0
	}

	expected := sett.Population*u.eco.PerCapitaDemand[resource] + sett.ProjectDemand[resource]
	demand := cond.Demand*s + expected*g
	if demand < 1 {
		demand = 1
	}

	return u.store.UpdateConditionLevels(ctx, cond.ID, supply, demand)
}

// HandleTick handles POST /api/v1/ticks/conditions
func (u *Updater) HandleTick(w http.ResponseWriter, r *http.Request) {
	updated, err := u.RunTick(r.Context())
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		status := http.StatusInternalServerError
		if errors.Is(err, ErrTickRunning) {
			status = http.StatusConflict
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"updated": updated})
}
