/*
registry.go - Per-aggregate processor fan-out

PURPOSE:
  The Registry hands every inbound event to the processor owning its
  aggregate, creating processors lazily on first contact. Different
  aggregates process concurrently; one aggregate is strictly serial.
*/
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/entitlement-engine/payment"
	"github.com/warp/entitlement-engine/timeline"
)

// =============================================================================
// CONFIG
// =============================================================================

type Config struct {
	// Defaults carries the statutory economic parameters applied to every
	// period; wage basis and refund agreement come from collected facts.
	Defaults payment.Parameters

	// RequireApproval gates payment dispatch behind an approval fact.
	RequireApproval bool

	// Table overrides the precedence table. Nil means the built-in one.
	Table *timeline.PrecedenceTable

	// MinGapDays is the entitlement gap that splits benefit periods.
	MinGapDays int

	// ReissueAfter is how stale an unanswered need request must be before
	// a re-evaluation re-publishes it.
	ReissueAfter time.Duration

	Store     SnapshotStore
	Publisher Publisher
	Log       *slog.Logger
	Now       func() time.Time
}

const (
	// DefaultMinGapDays matches the employer-paid span: a relapse within
	// it continues the same benefit period.
	DefaultMinGapDays = 16

	DefaultReissueAfter = 72 * time.Hour
)

func (c Config) withDefaults() Config {
	if c.MinGapDays == 0 {
		c.MinGapDays = DefaultMinGapDays
	}
	if c.ReissueAfter == 0 {
		c.ReissueAfter = DefaultReissueAfter
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Publisher == nil {
		c.Publisher = discardPublisher{}
	}
	return c
}

// discardPublisher drops outbound events; used when no bus is wired.
type discardPublisher struct{}

func (discardPublisher) Publish(Outbound) error { return nil }

// =============================================================================
// REGISTRY
// =============================================================================

type Registry struct {
	mu    sync.Mutex
	cfg   Config
	procs map[AggregateKey]*Processor
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:   cfg.withDefaults(),
		procs: make(map[AggregateKey]*Processor),
	}
}

// Handle routes an inbound event to its aggregate's processor.
func (r *Registry) Handle(ctx context.Context, ev Event) error {
	return r.processor(ev.Aggregate()).Handle(ctx, ev)
}

// View returns a read-only copy of one aggregate.
func (r *Registry) View(ctx context.Context, key AggregateKey) (View, error) {
	return r.processor(key).View(ctx)
}

// Keys lists every persisted aggregate plus any created this run.
func (r *Registry) Keys(ctx context.Context) ([]AggregateKey, error) {
	stored, err := r.cfg.Store.Keys(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[AggregateKey]bool, len(stored))
	for _, k := range stored {
		seen[k] = true
	}
	for k := range r.procs {
		if !seen[k] {
			stored = append(stored, k)
		}
	}
	return stored, nil
}

func (r *Registry) processor(key AggregateKey) *Processor {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.procs[key]
	if !ok {
		p = newProcessor(key, r.cfg)
		r.procs[key] = p
	}
	return p
}
