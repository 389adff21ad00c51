/*
diff.go - Incremental deltas between generation payment timelines

PURPOSE:
  The disbursement ledger is append-only and reversible. When a new
  generation's payment timeline differs from the previous generation's, we
  never replace wholesale: lines that disappeared or changed are cancelled,
  lines that appeared or changed are issued. Applying cancel-then-issue to
  the previously issued set reproduces the new timeline exactly.

SEE ALSO:
  - builder.go: produces the timelines being diffed
  - engine:     publishes the diff to the ledger topic
*/
package payment

// LineDiff is the incremental delta between two payment timelines.
type LineDiff struct {
	Cancel []Line `json:"cancel"`
	Issue  []Line `json:"issue"`
}

func (d LineDiff) IsEmpty() bool { return len(d.Cancel) == 0 && len(d.Issue) == 0 }

// Diff computes the lines to cancel and issue when moving from old to new.
// Unchanged lines (full equality, range included) appear in neither list.
func Diff(old, new PaymentTimeline) LineDiff {
	var diff LineDiff

	for _, o := range old.Lines {
		if !containsLine(new.Lines, o) {
			diff.Cancel = append(diff.Cancel, o)
		}
	}
	for _, n := range new.Lines {
		if !containsLine(old.Lines, n) {
			diff.Issue = append(diff.Issue, n)
		}
	}
	return diff
}

// Apply replays the diff against a set of issued lines: cancellations are
// removed, issues appended in timeline order. Used to verify reversibility
// and by test doubles standing in for the external ledger.
func (d LineDiff) Apply(issued []Line) []Line {
	var out []Line
	for _, l := range issued {
		if !containsLine(d.Cancel, l) {
			out = append(out, l)
		}
	}
	out = append(out, d.Issue...)
	sortLines(out)
	return out
}

func containsLine(lines []Line, target Line) bool {
	for _, l := range lines {
		if l.Equal(target) {
			return true
		}
	}
	return false
}

func sortLines(lines []Line) {
	// Insertion sort: line counts are tiny and the common case is
	// already-sorted input.
	for i := 1; i < len(lines); i++ {
		for j := i; j > 0 && lines[j].Range.Start.Before(lines[j-1].Range.Start); j-- {
			lines[j], lines[j-1] = lines[j-1], lines[j]
		}
	}
}
