/*
scheduler.go - Automated re-evaluation scheduler

PURPOSE:
  Periodically sweeps every known aggregate and injects a re-evaluation
  event. Re-evaluation re-runs reconciliation against the canonical
  timeline and re-issues outstanding need requests that have gone stale
  without an answer.

DESIGN:
  - Runs a background goroutine with configurable sweep interval
  - Sweeps aggregates sequentially; the registry serializes per aggregate
  - Halted aggregates are skipped (the registry refuses their events)
  - A sweep failure on one aggregate never aborts the rest

CONFIGURATION:
  - SweepInterval: How often to sweep (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewReevaluationScheduler(registry, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Reevaluate endpoint (manual trigger for one aggregate)
  - engine/processor.go: What a re-evaluation pass actually does
*/
package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/entitlement-engine/engine"
)

// ReevaluationScheduler drives periodic re-evaluation of all aggregates.
type ReevaluationScheduler struct {
	Registry      *engine.Registry
	SweepInterval time.Duration
	Enabled       bool
	Log           *slog.Logger

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewReevaluationScheduler creates a new scheduler.
func NewReevaluationScheduler(registry *engine.Registry, log *slog.Logger) *ReevaluationScheduler {
	if log == nil {
		log = slog.Default()
	}
	return &ReevaluationScheduler{
		Registry:      registry,
		SweepInterval: 1 * time.Hour,
		Enabled:       true,
		Log:           log.With(slog.String("component", "scheduler")),
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (rs *ReevaluationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Log.Info("scheduler disabled, not starting")
		return
	}

	rs.ticker = time.NewTicker(rs.SweepInterval)
	rs.wg.Add(1)

	go rs.run()

	rs.Log.Info("scheduler started", slog.Duration("sweep_interval", rs.SweepInterval))
}

// Stop stops the scheduler.
func (rs *ReevaluationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.Log.Info("scheduler stopped")
	}
}

func (rs *ReevaluationScheduler) run() {
	defer rs.wg.Done()

	// Sweep immediately on start
	rs.sweep()

	for {
		select {
		case <-rs.ticker.C:
			rs.sweep()
		case <-rs.stop:
			return
		}
	}
}

func (rs *ReevaluationScheduler) sweep() {
	ctx := context.Background()

	keys, err := rs.Registry.Keys(ctx)
	if err != nil {
		rs.Log.Error("failed to list aggregates", slog.String("error", err.Error()))
		return
	}

	processed := 0
	skipped := 0
	for _, key := range keys {
		ev := &engine.ReevaluateEvent{
			ID:         uuid.NewString(),
			ClaimantID: key.ClaimantID,
			EmployerID: key.EmployerID,
		}
		err := rs.Registry.Handle(ctx, ev)
		switch {
		case err == nil:
			processed++
		case errors.Is(err, engine.ErrClaimantHalted):
			skipped++
		default:
			rs.Log.Error("re-evaluation failed",
				slog.String("claimant", key.ClaimantID),
				slog.String("employer", key.EmployerID),
				slog.String("error", err.Error()))
		}
	}

	if processed > 0 || skipped > 0 {
		rs.Log.Info("sweep completed",
			slog.Int("processed", processed),
			slog.Int("skipped_halted", skipped))
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (rs *ReevaluationScheduler) RunNow() {
	rs.sweep()
}
