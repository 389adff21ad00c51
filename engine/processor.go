/*
processor.go - Serial event application for one aggregate

PURPOSE:
  A Processor owns all in-memory state for one claimant/employer pairing
  and applies inbound events to it one at a time under a mutex. The
  pipeline per event is fixed:

    apply to domain -> persist snapshot -> publish outbound events

  Persist-before-publish means a consumer of outbound events never sees a
  notification whose cause was lost.

HALTING:
  An invariant violation (settled overlap, cascade cycle, illegal
  transition, overlapping segments) marks the aggregate halted. The halt
  is persisted and announced; every later event is refused with
  ErrClaimantHalted until an operator clears the snapshot.
*/
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/warp/entitlement-engine/period"
	"github.com/warp/entitlement-engine/timeline"
)

// =============================================================================
// PROCESSOR
// =============================================================================

type Processor struct {
	mu  sync.Mutex
	key AggregateKey
	cfg Config
	log *slog.Logger

	machine *period.Machine

	loaded      bool
	merge       *timeline.MergeEngine
	set         *period.Set
	outstanding map[string]OutstandingNeed
	halted      bool
	haltReason  string
}

func newProcessor(key AggregateKey, cfg Config) *Processor {
	machine := period.NewMachine(cfg.Defaults, cfg.Log)
	machine.RequireApproval = cfg.RequireApproval
	machine.Now = cfg.Now
	return &Processor{
		key:     key,
		cfg:     cfg,
		log:     cfg.Log.With(slog.String("component", "processor"), slog.String("aggregate", key.String())),
		machine: machine,
	}
}

// Handle applies one inbound event end to end. Safe for concurrent
// callers; events for the same aggregate serialize here.
func (p *Processor) Handle(ctx context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.load(ctx); err != nil {
		return err
	}
	if p.halted {
		return fmt.Errorf("aggregate %s (%s): %w", p.key, p.haltReason, ErrClaimantHalted)
	}

	res, err := p.dispatch(ev)
	if err != nil {
		if IsInvariantViolation(err) {
			p.halt(ctx, ev, err)
		}
		return err
	}

	out := p.collectOutbound(ev, res)
	if err := p.persist(ctx); err != nil {
		return fmt.Errorf("persist aggregate %s: %w", p.key, err)
	}
	return p.publish(out)
}

// View returns a deep copy of the aggregate for read-side consumers. The
// copy goes through the snapshot encoding, so readers can never alias the
// processor's live state.
func (p *Processor) View(ctx context.Context) (View, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.load(ctx); err != nil {
		return View{}, err
	}

	set, err := cloneSet(p.set)
	if err != nil {
		return View{}, err
	}
	return View{
		Key:         p.key,
		Canonical:   p.merge.Canonical(),
		Set:         set,
		Outstanding: p.sortedOutstanding(),
		Halted:      p.halted,
		HaltReason:  p.haltReason,
	}, nil
}

// View is a read-only copy of one aggregate.
type View struct {
	Key         AggregateKey      `json:"key"`
	Canonical   timeline.Timeline `json:"canonical"`
	Set         *period.Set       `json:"set"`
	Outstanding []OutstandingNeed `json:"outstanding,omitempty"`
	Halted      bool              `json:"halted,omitempty"`
	HaltReason  string            `json:"halt_reason,omitempty"`
}

// cloneSet deep-copies a period set via its snapshot encoding.
func cloneSet(s *period.Set) (*period.Set, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	out := &period.Set{}
	if err := json.Unmarshal(b, out); err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// EVENT APPLICATION
// =============================================================================

func (p *Processor) dispatch(ev Event) (*period.Result, error) {
	switch e := ev.(type) {
	case *SourceReportEvent:
		return p.applySourceReport(e)
	case *FactReceivedEvent:
		return p.applyFact(e)
	case *ReevaluateEvent:
		return p.reconcile(e.ID)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEventType, ev)
	}
}

func (p *Processor) applySourceReport(e *SourceReportEvent) (*period.Result, error) {
	_, changed, err := p.merge.Apply(e.sourceEvent())
	if err != nil {
		return nil, fmt.Errorf("source report %s: %w", e.ID, err)
	}
	if !changed {
		p.log.Debug("source report left canonical timeline unchanged", slog.String("event", e.ID))
		return &period.Result{}, nil
	}
	return p.reconcile(e.ID)
}

func (p *Processor) applyFact(e *FactReceivedEvent) (*period.Result, error) {
	target, err := p.route(e)
	if err != nil {
		return nil, err
	}
	return p.machine.ApplyFact(p.set, target, e.Fact, p.merge.Canonical(), e.ID)
}

// reconcile re-segments the canonical timeline and aligns the period set.
func (p *Processor) reconcile(triggerID string) (*period.Result, error) {
	canonical := p.merge.Canonical()
	ranges, err := timeline.Segment(canonical, p.cfg.MinGapDays)
	if err != nil {
		return nil, err
	}
	return p.machine.Reconcile(p.set, ranges, canonical, triggerID)
}

// route finds the period a fact belongs to. A pinned period id wins; an
// effective date selects the covering period; with neither, the fact goes
// to the sole open period.
func (p *Processor) route(e *FactReceivedEvent) (*period.BenefitPeriod, error) {
	if e.PeriodID != "" {
		target, ok := p.set.ByID(e.PeriodID)
		if !ok {
			return nil, fmt.Errorf("fact %s names period %s: %w", e.ID, e.PeriodID, ErrUnroutableFact)
		}
		return target, nil
	}
	if e.EffectiveDate != nil {
		target, ok := p.set.FindCovering(*e.EffectiveDate)
		if !ok {
			return nil, fmt.Errorf("fact %s effective %s covers no period: %w", e.ID, e.EffectiveDate, ErrUnroutableFact)
		}
		return target, nil
	}

	var open *period.BenefitPeriod
	for _, cand := range p.set.Ordered() {
		if cand.State.Terminal() {
			continue
		}
		if open != nil {
			return nil, fmt.Errorf("fact %s names no period and %d are open: %w", e.ID, len(p.set.Periods), ErrUnroutableFact)
		}
		open = cand
	}
	if open == nil {
		return nil, fmt.Errorf("fact %s: no open period: %w", e.ID, ErrUnroutableFact)
	}
	return open, nil
}

// =============================================================================
// OUTBOUND COLLECTION
// =============================================================================

// collectOutbound turns an advancement result into publishable events and
// maintains the outstanding-need registry: a need is published once when
// first wanted, re-published on re-evaluation after the reissue interval,
// and dropped as soon as no period wants it anymore.
func (p *Processor) collectOutbound(trigger Event, res *period.Result) []Outbound {
	now := p.cfg.Now()
	_, reevaluation := trigger.(*ReevaluateEvent)

	var out []Outbound

	wanted := p.wantedNeeds()
	for key := range p.outstanding {
		if _, ok := wanted[key]; !ok {
			delete(p.outstanding, key)
		}
	}
	for key, n := range wanted {
		existing, seen := p.outstanding[key]
		switch {
		case !seen:
			p.outstanding[key] = OutstandingNeed{Need: n, RequestedAt: now}
			out = append(out, &NeedRequested{Key: p.key, Need: n, RequestedAt: now})
		case reevaluation && now.Sub(existing.RequestedAt) >= p.cfg.ReissueAfter:
			existing.RequestedAt = now
			existing.Reissues++
			p.outstanding[key] = existing
			out = append(out, &NeedRequested{Key: p.key, Need: n, RequestedAt: now, Reissued: true})
		}
	}

	for _, c := range res.Changes {
		out = append(out, &PeriodStateChanged{Key: p.key, Change: c})
	}
	for _, d := range res.Diffs {
		out = append(out, &PaymentLinesDiffed{Key: p.key, Diff: d})
	}
	for _, t := range res.Traces {
		out = append(out, &ComplianceTrace{Key: p.key, Trace: t, At: now})
	}
	return out
}

// wantedNeeds derives the needs currently blocking any period, straight
// from period state. Deriving rather than accumulating keeps the registry
// correct across forks and cascades.
func (p *Processor) wantedNeeds() map[string]period.Need {
	wanted := make(map[string]period.Need)
	for _, per := range p.set.Ordered() {
		var n period.Need
		switch per.State {
		case period.StateCollectingEmployerData:
			n = period.Need{Kind: period.NeedEmployerIncome, ClaimantID: per.ClaimantID, PeriodID: per.ID}
		case period.StateCollectingHistory:
			n = period.Need{Kind: period.NeedWageHistory, ClaimantID: per.ClaimantID, PeriodID: per.ID}
		default:
			continue
		}
		wanted[n.Key()] = n
	}
	return wanted
}

func (p *Processor) publish(out []Outbound) error {
	for _, o := range out {
		if err := p.cfg.Publisher.Publish(o); err != nil {
			return fmt.Errorf("publish %s: %w", o.OutboundKind(), err)
		}
	}
	return nil
}

// =============================================================================
// PERSISTENCE
// =============================================================================

func (p *Processor) load(ctx context.Context) error {
	if p.loaded {
		return nil
	}

	snap, err := p.cfg.Store.Load(ctx, p.key)
	switch {
	case errors.Is(err, ErrSnapshotNotFound):
		p.merge = timeline.NewMergeEngine(p.cfg.Table)
		p.set = period.NewSet(p.key.ClaimantID, p.key.EmployerID)
		p.outstanding = make(map[string]OutstandingNeed)
	case err != nil:
		return fmt.Errorf("load aggregate %s: %w", p.key, err)
	default:
		p.merge = timeline.NewMergeEngine(p.cfg.Table)
		if err := p.merge.Replay(snap.Journal); err != nil {
			return fmt.Errorf("replay journal for %s: %w", p.key, err)
		}
		p.set = snap.Set
		if p.set == nil {
			p.set = period.NewSet(p.key.ClaimantID, p.key.EmployerID)
		}
		p.outstanding = make(map[string]OutstandingNeed, len(snap.Outstanding))
		for _, n := range snap.Outstanding {
			p.outstanding[n.Need.Key()] = n
		}
		p.halted = snap.Halted
		p.haltReason = snap.HaltReason
	}

	p.loaded = true
	return nil
}

func (p *Processor) persist(ctx context.Context) error {
	return p.cfg.Store.Save(ctx, Snapshot{
		SchemaVersion: SchemaVersion,
		Key:           p.key,
		Journal:       p.merge.Journal(),
		Set:           p.set,
		Outstanding:   p.sortedOutstanding(),
		Halted:        p.halted,
		HaltReason:    p.haltReason,
		UpdatedAt:     p.cfg.Now(),
	})
}

func (p *Processor) sortedOutstanding() []OutstandingNeed {
	out := make([]OutstandingNeed, 0, len(p.outstanding))
	for _, n := range p.outstanding {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Need.Key() < out[j].Need.Key() })
	return out
}

// halt marks the aggregate stopped, persists the halt and announces it.
// Persist and publish failures here are logged, not returned: the caller
// already has the invariant violation.
func (p *Processor) halt(ctx context.Context, ev Event, cause error) {
	p.halted = true
	p.haltReason = cause.Error()

	p.log.Error("invariant violation, halting aggregate",
		slog.String("event", ev.EventID()),
		slog.String("cause", cause.Error()),
		slog.Int("periods", len(p.set.Periods)),
		slog.Int("journal", len(p.merge.Journal())))

	if err := p.persist(ctx); err != nil {
		p.log.Error("persisting halt failed", slog.String("error", err.Error()))
	}
	if err := p.cfg.Publisher.Publish(&ClaimantHalted{
		Key: p.key, EventID: ev.EventID(), Reason: p.haltReason, HaltedAt: p.cfg.Now(),
	}); err != nil {
		p.log.Error("publishing halt failed", slog.String("error", err.Error()))
	}
}
