/*
merge.go - Per-claimant working set of source timelines and the canonical fold

PURPOSE:
  The merge engine owns every source timeline ever reported for one
  claimant. Each incoming source event adds or replaces exactly one source
  timeline instance; the canonical timeline is then recomputed by folding
  Merge over the whole working set in a fixed order.

DETERMINISM:
  The fold iterates sources by (source-kind priority, instance id), never
  by arrival order. Any arrival permutation that ends in the same working
  set yields a bit-identical canonical timeline.

RETRACTION:
  A retraction replaces the instance's timeline with an empty one. The
  superseded versions are kept (retained slice) so a decision can always be
  traced back to what was known at the time. Nothing is ever deleted.

IDEMPOTENCE:
  Events carry a stable id. Reapplying an id already in the applied set is
  a no-op and reports no change.

SEE ALSO:
  - timeline.go: Merge and InheritWeekends, the fold's building blocks
  - engine:      drives Apply from the per-claimant event stream
*/
package timeline

import (
	"sort"
	"time"
)

// =============================================================================
// SOURCE EVENT - One report about a span of days
// =============================================================================

// SourceEvent is the unit of input to the merge engine.
//
// ID is unique per delivery and drives idempotence. InstanceID identifies
// the report being described: an amendment reuses the InstanceID of the
// report it corrects (with a new ID), and a retraction sets Retraction with
// the InstanceID of the report being withdrawn.
type SourceEvent struct {
	ID         string      `json:"id"`
	InstanceID string      `json:"instance_id"`
	Source     SourceKind  `json:"source"`
	ReportedAt time.Time   `json:"reported_at"`
	Days       []DayRecord `json:"days,omitempty"`
	Retraction bool        `json:"retraction,omitempty"`
}

// sourceInstance is one source timeline instance and its supersession
// history.
type sourceInstance struct {
	InstanceID string
	Source     SourceKind
	Current    Timeline
	Retracted  bool

	// Retained holds superseded versions, oldest first. Audit only; the
	// fold never reads them.
	Retained []Timeline
}

// =============================================================================
// MERGE ENGINE
// =============================================================================

type MergeEngine struct {
	table     *PrecedenceTable
	instances map[string]*sourceInstance
	applied   map[string]bool
	canonical Timeline

	// journal records every applied event in arrival order. Replaying the
	// journal into a fresh engine reconstructs the working set exactly,
	// which is how snapshots restore merge state.
	journal []SourceEvent
}

func NewMergeEngine(table *PrecedenceTable) *MergeEngine {
	if table == nil {
		table = DefaultPrecedenceTable()
	}
	return &MergeEngine{
		table:     table,
		instances: make(map[string]*sourceInstance),
		applied:   make(map[string]bool),
	}
}

// Apply ingests one source event and recomputes the canonical timeline.
// Returns the canonical timeline and whether it changed. Reapplying an
// already-applied event id changes nothing.
func (m *MergeEngine) Apply(ev SourceEvent) (Timeline, bool, error) {
	if m.applied[ev.ID] {
		return m.canonical, false, nil
	}

	next := Empty()
	if !ev.Retraction {
		var err error
		next, err = New(ev.Days...)
		if err != nil {
			return m.canonical, false, err
		}
	}

	inst, ok := m.instances[ev.InstanceID]
	if !ok {
		inst = &sourceInstance{InstanceID: ev.InstanceID, Source: ev.Source}
		m.instances[ev.InstanceID] = inst
	} else if !inst.Current.IsEmpty() || inst.Retracted {
		inst.Retained = append(inst.Retained, inst.Current)
	}
	inst.Current = next
	inst.Retracted = ev.Retraction

	m.applied[ev.ID] = true
	m.journal = append(m.journal, ev)

	before := m.canonical
	m.canonical = m.fold()
	return m.canonical, !m.canonical.Equal(before), nil
}

// Canonical returns the current merged timeline.
func (m *MergeEngine) Canonical() Timeline { return m.canonical }

// Applied reports whether an event id has been ingested.
func (m *MergeEngine) Applied(id string) bool { return m.applied[id] }

// Journal returns the applied events in arrival order, for persistence.
func (m *MergeEngine) Journal() []SourceEvent {
	out := make([]SourceEvent, len(m.journal))
	copy(out, m.journal)
	return out
}

// Replay applies a journal into the engine, restoring the working set.
func (m *MergeEngine) Replay(journal []SourceEvent) error {
	for _, ev := range journal {
		if _, _, err := m.Apply(ev); err != nil {
			return err
		}
	}
	return nil
}

// InstanceIDs returns all known source timeline instances in fold order.
func (m *MergeEngine) InstanceIDs() []string {
	ordered := m.orderedInstances()
	ids := make([]string, len(ordered))
	for i, inst := range ordered {
		ids[i] = inst.InstanceID
	}
	return ids
}

// fold recomputes the canonical timeline from scratch. Full recomputation
// keeps retraction and amendment trivially correct; working sets are small
// (a handful of reports per claimant).
func (m *MergeEngine) fold() Timeline {
	acc := Empty()
	for _, inst := range m.orderedInstances() {
		acc = Merge(acc, inst.Current, m.table)
	}
	return InheritWeekends(acc)
}

func (m *MergeEngine) orderedInstances() []*sourceInstance {
	out := make([]*sourceInstance, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].InstanceID < out[j].InstanceID
	})
	return out
}
