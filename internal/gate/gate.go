// Package gate implements the debounce gate that admits or rejects audit
// runs per identity within a configured cooldown window.
package gate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/beaconaudit/beacon/internal/audit"
)

// Result is the outcome of one gate check. Active means the identity was
// admitted within the cooldown window and the caller must abort the run.
type Result struct {
	Active bool
	Delta  time.Duration
}

// Gate performs the read-modify-write cycle against the state store.
//
// The whole table is loaded, mutated, and persisted wholesale, so the cycle
// must be serialized: a single mutex covers it, making the Gate the one
// writer for its state object. Deployments run one gate-owning consumer per
// state object; two processes sharing an object can still double-admit.
type Gate struct {
	mu       sync.Mutex
	store    audit.StateStore
	cooldown time.Duration
	logger   *zap.Logger
}

// New creates a Gate with the given cooldown window.
func New(store audit.StateStore, cooldown time.Duration, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		store:    store,
		cooldown: cooldown,
		logger:   logger,
	}
}

// Cooldown returns the configured window, for logging against rejections.
func (g *Gate) Cooldown() time.Duration {
	return g.cooldown
}

// Check admits or rejects a run for identity at time now.
//
// A failed table load is non-fatal: the gate continues with an empty table.
// A failed table save after admission is fatal and returned, so the caller
// knows the debounce record may not have persisted; a redelivery then
// re-runs the full check.
func (g *Gate) Check(ctx context.Context, identity string, now time.Time) (Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	table, err := g.store.LoadTable(ctx)
	if err != nil {
		g.logger.Warn("event state load failed, continuing with empty table",
			zap.String("identity", identity),
			zap.Error(err),
		)
		table = nil
	}
	if table == nil {
		table = make(audit.EventStateTable)
	}

	if entry, ok := table[identity]; ok {
		elapsed := now.Sub(time.UnixMilli(entry.CreatedAtMillis))
		if elapsed < g.cooldown {
			return Result{Active: true, Delta: elapsed.Round(time.Second)}, nil
		}
	}

	table[identity] = audit.EventStateEntry{CreatedAtMillis: now.UnixMilli()}
	if err := g.store.SaveTable(ctx, table); err != nil {
		return Result{}, fmt.Errorf("save event state: %w", err)
	}
	return Result{}, nil
}
