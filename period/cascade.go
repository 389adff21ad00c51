/*
cascade.go - Fact application, reconciliation and forward recomputation

PURPOSE:
  Three orchestration layers on top of Advance:

  ApplyFact   - attach an arriving fact to the owning period; fork when it
                invalidates computed results (reopening settled periods);
                then cascade forward.
  Reconcile   - align the period set with a fresh segmentation of the
                canonical timeline after a source report changed it.
  cascade     - advance affected periods in date order, exactly once each,
                then resolve settled overlaps by forcing the later-created
                period back into recomputation.

TERMINATION:
  A cascade pass visits each period at most once (visited set; a revisit is
  a CascadeCycleError, fatal). Overlap resolution forks at most once per
  period per pass, so it terminates too; failure to converge surfaces as
  ErrSettledOverlap rather than looping.

SEE ALSO:
  - machine.go: single-period advancement
  - engine:     feeds events in and publishes the Results out
*/
package period

import (
	"log/slog"

	"github.com/warp/entitlement-engine/timeline"
)

// =============================================================================
// FACT APPLICATION
// =============================================================================

// ApplyFact routes a fact to its period, forking when the fact invalidates
// already-computed results, and cascades recomputation forward.
//
// Facts on terminal (rejected) periods are recorded in the trace and
// otherwise ignored.
func (m *Machine) ApplyFact(s *Set, p *BenefitPeriod, f Fact, canonical timeline.Timeline, triggerID string) (*Result, error) {
	res := &Result{}

	if p.State.Terminal() {
		res.Traces = append(res.Traces, Trace{PeriodID: p.ID, GenerationID: p.Live().ID, RuleID: ruleFactIgnored, Detail: string(f.Kind)})
		return res, nil
	}

	if !p.Live().Facts.Add(f) {
		// Already applied: replaying an event must change nothing.
		return res, nil
	}

	if f.Invalidates() && computed(p) {
		reason := ForkNewFact
		if p.Settled() {
			reason = ForkReopened
		}
		if _, err := p.Fork(reason, triggerID, m.Now()); err != nil {
			return res, err
		}
	}

	cres, err := m.cascade(s, p, canonical, triggerID)
	res.merge(cres)
	return res, err
}

// =============================================================================
// RECONCILIATION - Segmentation vs existing periods
// =============================================================================

// Reconcile aligns the set with freshly segmented ranges after the
// canonical timeline changed, then cascades from the earliest affected
// period.
//
// Matching is by overlap: a range that overlaps an existing period updates
// that period's range (forking if it had computed results); a range
// overlapping nothing becomes a new period; an existing period left
// unmatched had its entitlement retracted and is forked so its previously
// issued lines get cancelled against an empty timeline slice.
func (m *Machine) Reconcile(s *Set, ranges []timeline.DateRange, canonical timeline.Timeline, triggerID string) (*Result, error) {
	res := &Result{}
	matched := make(map[string]bool)

	var earliest *BenefitPeriod
	note := func(p *BenefitPeriod) {
		if earliest == nil || p.Range.Start.Before(earliest.Range.Start) {
			earliest = p
		}
	}

	for _, r := range ranges {
		var hit *BenefitPeriod
		for _, p := range s.Ordered() {
			if !matched[p.ID] && p.Range.Overlaps(r) {
				hit = p
				break
			}
		}

		switch {
		case hit == nil:
			p := New(s.ClaimantID, s.EmployerID, r, s.NextSeq, m.Now(), triggerID)
			s.NextSeq++
			s.Periods = append(s.Periods, p)
			matched[p.ID] = true
			note(p)

		case hit.Range.Equal(r):
			matched[hit.ID] = true
			// Same boundaries; fork only if the day content under the
			// computed window changed against what was computed.
			if computed(hit) && !canonical.Slice(hit.Live().Effective).Equal(hit.Live().Timeline) {
				if err := m.forkForAmendment(hit, triggerID); err != nil {
					return res, err
				}
				note(hit)
			} else if !hit.State.Stable() {
				note(hit)
			}

		default:
			matched[hit.ID] = true
			hit.Range = r
			if computed(hit) {
				if err := m.forkForAmendment(hit, triggerID); err != nil {
					return res, err
				}
			}
			note(hit)
		}
	}

	// Periods whose entitlement vanished from the timeline entirely.
	for _, p := range s.Periods {
		if matched[p.ID] || p.State.Terminal() {
			continue
		}
		if computed(p) {
			if err := m.forkForAmendment(p, triggerID); err != nil {
				return res, err
			}
		}
		note(p)
	}

	if earliest == nil {
		return res, nil
	}
	cres, err := m.cascade(s, earliest, canonical, triggerID)
	res.merge(cres)
	return res, err
}

func (m *Machine) forkForAmendment(p *BenefitPeriod, triggerID string) error {
	reason := ForkAmended
	if p.Settled() {
		reason = ForkReopened
	}
	_, err := p.Fork(reason, triggerID, m.Now())
	return err
}

// =============================================================================
// CASCADE - Forward recomputation with cycle detection
// =============================================================================

// cascade advances the starting period and every later period of the
// pairing, in date order, forking later computed periods so a shifted
// qualifying date or economic basis propagates. Each period is visited at
// most once per pass.
func (m *Machine) cascade(s *Set, start *BenefitPeriod, canonical timeline.Timeline, triggerID string) (*Result, error) {
	res := &Result{}
	visited := make(map[string]bool)
	var order []string

	for _, p := range s.Ordered() {
		if p.Range.Start.Before(start.Range.Start) && p.ID != start.ID {
			continue
		}
		if visited[p.ID] {
			return res, &CascadeCycleError{PeriodID: p.ID, Visited: order}
		}
		visited[p.ID] = true
		order = append(order, p.ID)

		if p.State.Terminal() {
			continue
		}
		// Later periods with computed results are re-derived: their
		// qualifying basis may depend on the changed earlier period.
		if p.ID != start.ID && computed(p) {
			reason := ForkCascade
			if p.Settled() {
				reason = ForkReopened
			}
			if _, err := p.Fork(reason, triggerID, m.Now()); err != nil {
				return res, err
			}
		}

		ares, err := m.Advance(p, canonical, triggerID)
		res.merge(ares)
		if err != nil {
			return res, err
		}
	}

	ores, err := m.resolveSettledOverlaps(s, canonical, triggerID)
	res.merge(ores)
	if err != nil {
		return res, err
	}
	return res, s.CheckSettledOverlap()
}

// resolveSettledOverlaps enforces the no-overlap invariant: when two
// settled periods overlap, the later-created one is forced back into
// recomputation with its range trimmed past the earlier period's end; the
// earlier period's settled state is untouched. A period trimmed to nothing
// is rejected as fully covered.
func (m *Machine) resolveSettledOverlaps(s *Set, canonical timeline.Timeline, triggerID string) (*Result, error) {
	res := &Result{}
	forced := make(map[string]bool)

	for pass := 0; pass <= len(s.Periods); pass++ {
		earlier, later := findSettledOverlap(s)
		if later == nil {
			return res, nil
		}
		if forced[later.ID] {
			// Forcing it back once did not converge; this is a logic
			// defect, not something to retry.
			return res, ErrSettledOverlap
		}
		forced[later.ID] = true

		m.Log.Warn("settled overlap, forcing later period back",
			slog.String("earlier", earlier.ID),
			slog.String("later", later.ID))
		res.Traces = append(res.Traces, Trace{PeriodID: later.ID, GenerationID: later.Live().ID, RuleID: ruleOverlapForcedBack, Detail: earlier.ID})

		if _, err := later.Fork(ForkOverlap, triggerID, m.Now()); err != nil {
			return res, err
		}

		if earlier.Range.End.AfterOrEqual(later.Range.End) {
			// Nothing left of the later period once trimmed. Its issued
			// lines are withdrawn along with the rejection, so anything
			// dispatched earlier in the same pass nets to zero.
			later.RejectionReason = RejectionFullyOverlapped
			m.withdrawIssued(later, res)
			from := later.State
			later.State = StateRejected
			res.Changes = append(res.Changes, StateChange{
				PeriodID: later.ID, GenerationID: later.Live().ID,
				From: from, To: StateRejected, TriggerID: triggerID, At: m.Now(),
			})
			continue
		}

		later.Range.Start = earlier.Range.End.AddDays(1)
		ares, err := m.Advance(later, canonical, triggerID)
		res.merge(ares)
		if err != nil {
			return res, err
		}
	}
	return res, ErrSettledOverlap
}

// findSettledOverlap returns the first overlapping settled pair, with the
// later-created period second.
func findSettledOverlap(s *Set) (*BenefitPeriod, *BenefitPeriod) {
	settled := make([]*BenefitPeriod, 0, len(s.Periods))
	for _, p := range s.Ordered() {
		if p.Settled() {
			settled = append(settled, p)
		}
	}
	for i := 0; i < len(settled); i++ {
		for j := i + 1; j < len(settled); j++ {
			if !settled[i].Range.Overlaps(settled[j].Range) {
				continue
			}
			earlier, later := settled[i], settled[j]
			if later.CreatedSeq < earlier.CreatedSeq {
				earlier, later = later, earlier
			}
			return earlier, later
		}
	}
	return nil, nil
}
