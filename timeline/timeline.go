/*
timeline.go - Ordered day-record sequences and the pure merge operator

PURPOSE:
  A Timeline is an ordered, gap-permitting sequence of DayRecords. Source
  timelines (one per report) and the canonical timeline (the merged truth)
  are the same type; only provenance differs.

CRITICAL INVARIANTS:
  1. Dates strictly increasing, no duplicates
  2. Value semantics: no operation mutates a timeline in place
  3. Merge is deterministic: same inputs, same table, same output

ABSENCE vs UNDECIDED:
  A date missing from a timeline means "no opinion" and is carried through
  merges untouched. KindUndecided is the opposite: an explicit resolver
  verdict that the sources genuinely conflict, and it propagates downstream
  as a data-quality signal.

SEE ALSO:
  - tournament.go: how a single date's conflict is decided
  - merge.go:      folding a whole working set of source timelines
*/
package timeline

import (
	"encoding/json"
	"sort"
)

// =============================================================================
// TIMELINE - Strictly ordered day records over a date range
// =============================================================================

type Timeline struct {
	days []DayRecord // sorted by date, strictly increasing
}

// New builds a timeline from records in any order. Returns an error if two
// records share a date.
func New(records ...DayRecord) (Timeline, error) {
	days := make([]DayRecord, len(records))
	copy(days, records)
	sort.Slice(days, func(i, j int) bool { return days[i].Date.Before(days[j].Date) })

	for i := 1; i < len(days); i++ {
		if days[i].Date.Equal(days[i-1].Date) {
			return Timeline{}, &DuplicateDateError{Date: days[i].Date, Source: days[i].Source}
		}
	}
	return Timeline{days: days}, nil
}

// Empty returns a timeline with no records. Retraction replaces a source
// timeline with this.
func Empty() Timeline { return Timeline{} }

func (t Timeline) Len() int      { return len(t.days) }
func (t Timeline) IsEmpty() bool { return len(t.days) == 0 }

// Get returns the record for a date, if present.
func (t Timeline) Get(d Date) (DayRecord, bool) {
	i := sort.Search(len(t.days), func(i int) bool { return !t.days[i].Date.Before(d) })
	if i < len(t.days) && t.days[i].Date.Equal(d) {
		return t.days[i], true
	}
	return DayRecord{}, false
}

// Days returns a copy of all records in date order.
func (t Timeline) Days() []DayRecord {
	out := make([]DayRecord, len(t.days))
	copy(out, t.days)
	return out
}

// Range returns the span [first date, last date]. ok is false for an empty
// timeline.
func (t Timeline) Range() (DateRange, bool) {
	if len(t.days) == 0 {
		return DateRange{}, false
	}
	return DateRange{Start: t.days[0].Date, End: t.days[len(t.days)-1].Date}, true
}

// Slice returns the records falling within r, as a new timeline.
func (t Timeline) Slice(r DateRange) Timeline {
	var out []DayRecord
	for _, d := range t.days {
		if r.Contains(d.Date) {
			out = append(out, d)
		}
	}
	return Timeline{days: out}
}

// Equal reports record-for-record equality, including provenance. Used for
// idempotence checks: reapplying an event must yield an Equal canonical
// timeline.
func (t Timeline) Equal(other Timeline) bool {
	if len(t.days) != len(other.days) {
		return false
	}
	for i := range t.days {
		a, b := t.days[i], other.days[i]
		if !a.SameVerdict(b) || !a.ReportedAt.Equal(b.ReportedAt) {
			return false
		}
	}
	return true
}

// MarshalJSON persists the records; the ordering invariant is re-imposed
// on the way back in.
func (t Timeline) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.days)
}

func (t *Timeline) UnmarshalJSON(b []byte) error {
	var days []DayRecord
	if err := json.Unmarshal(b, &days); err != nil {
		return err
	}
	rebuilt, err := New(days...)
	if err != nil {
		return err
	}
	*t = rebuilt
	return nil
}

// =============================================================================
// MERGE - Pure two-timeline merge
// =============================================================================

// Merge combines two timelines. Dates present in only one input carry
// through untouched; dates present in both are settled by the tournament.
// The result is a new timeline; neither input is modified.
func Merge(a, b Timeline, table *PrecedenceTable) Timeline {
	if a.IsEmpty() {
		return Timeline{days: append([]DayRecord(nil), b.days...)}
	}
	if b.IsEmpty() {
		return Timeline{days: append([]DayRecord(nil), a.days...)}
	}

	out := make([]DayRecord, 0, len(a.days)+len(b.days))
	i, j := 0, 0
	for i < len(a.days) && j < len(b.days) {
		da, db := a.days[i], b.days[j]
		switch {
		case da.Date.Before(db.Date):
			out = append(out, da)
			i++
		case db.Date.Before(da.Date):
			out = append(out, db)
			j++
		default:
			out = append(out, table.Resolve(da, db))
			i++
			j++
		}
	}
	out = append(out, a.days[i:]...)
	out = append(out, b.days[j:]...)
	return Timeline{days: out}
}

// InheritWeekends fills weekend gaps for paid-through-weekend kinds: a
// weekend date with no explicit record, whose nearest preceding non-weekend
// record is a paid sick kind, becomes a synthetic weekend-sick record with
// the same degree and provenance. Explicit weekend records always win.
func InheritWeekends(t Timeline) Timeline {
	r, ok := t.Range()
	if !ok {
		return t
	}

	out := append([]DayRecord(nil), t.days...)
	var lastWeekday *DayRecord
	for d := r.Start; d.BeforeOrEqual(r.End); d = d.AddDays(1) {
		rec, explicit := t.Get(d)
		if explicit && !d.IsWeekend() {
			r := rec
			lastWeekday = &r
			continue
		}
		if explicit || !d.IsWeekend() || lastWeekday == nil {
			continue
		}
		if !lastWeekday.Kind.PaidThroughWeekends() {
			continue
		}
		out = append(out, DayRecord{
			Date:       d,
			Kind:       KindWeekendSick,
			Degree:     lastWeekday.Degree,
			Source:     lastWeekday.Source,
			ReportedAt: lastWeekday.ReportedAt,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return Timeline{days: out}
}
