/*
tournament.go - Precedence resolution between conflicting day records

PURPOSE:
  When two sources disagree about the same calendar day, exactly one opinion
  must win, and it must win the same way no matter which report arrived
  first. The tournament encodes that as a fixed rank table over
  (DayKind, SourceKind) pairs: authority depends on both WHAT is claimed and
  WHO claims it. An employer's "working day" outranks the claimant's own
  "working day", but the claimant's "sick day" outranks the employer's
  generic "absence" marker.

RESOLUTION ORDER:
  1. Reflexive: records with the same verdict resolve to the later report
  2. Ambiguous-marked pair -> Undecided (first-class outcome, not an error)
  3. Higher rank wins
  4. Equal rank -> later sourceTimestamp wins ("the latest word stands")
  5. Equal rank and equal timestamp -> Undecided

UNDECIDED:
  Undecided is a verdict, not a failure. It flows downstream and parks the
  owning benefit period in external review. It is symmetric: swapping the
  arguments yields the identical undecided record.

CONFIGURATION:
  A handful of low-frequency pairs (study vs foreign residence from equally
  authoritative sources) have no confirmed ordering. Those ship at equal
  rank and are overridable via YAML (tournament_config.go) rather than
  hard-coded guesses.

SEE ALSO:
  - timeline.go: Merge, the only caller during canonical folds
  - tournament_config.go: rank overrides and ambiguous-pair marks
*/
package timeline

import "github.com/shopspring/decimal"

// =============================================================================
// RULE IDS - Stable identifiers for compliance traces
// =============================================================================

type RuleID string

const (
	RuleReflexive         RuleID = "tournament.reflexive"
	RuleAmbiguousPair     RuleID = "tournament.ambiguous_pair"
	RuleRank              RuleID = "tournament.rank"
	RuleTimestampTieBreak RuleID = "tournament.timestamp_tiebreak"
	RuleUndecidedTie      RuleID = "tournament.undecided_tie"
)

// =============================================================================
// PRECEDENCE TABLE
// =============================================================================

type claim struct {
	Kind   DayKind
	Source SourceKind
}

type PrecedenceTable struct {
	ranks     map[claim]int
	ambiguous map[[2]claim]bool
}

// defaultRank applies to combinations the table does not list, so the
// resolver stays total over the closed sets.
const defaultRank = 30

// DefaultPrecedenceTable returns the confirmed ordering. Pairs flagged as
// open by the domain owners are deliberately equal-ranked here; override
// them via ApplyOverrides once confirmed.
func DefaultPrecedenceTable() *PrecedenceTable {
	t := &PrecedenceTable{
		ranks:     make(map[claim]int),
		ambiguous: make(map[[2]claim]bool),
	}

	set := func(k DayKind, s SourceKind, rank int) { t.ranks[claim{k, s}] = rank }

	// Sick claims: physician notice on top, payment history close behind
	// (those days were already adjudicated once), then the claimant.
	set(KindSick, SourceSickLeaveNotice, 90)
	set(KindSick, SourcePaymentHistory, 85)
	set(KindSick, SourceApplication, 70)
	set(KindWeekendSick, SourceSickLeaveNotice, 90)
	set(KindWeekendSick, SourcePaymentHistory, 85)
	set(KindWeekendSick, SourceApplication, 70)

	// Working claims: the employer knows whether it paid a wage that day.
	set(KindWorking, SourceIncomeNotice, 80)
	set(KindWorking, SourceApplication, 50)
	set(KindWorking, SourcePaymentHistory, 45)

	// Vacation: employer records outrank the claimant's memory.
	set(KindVacation, SourceIncomeNotice, 75)
	set(KindVacation, SourceApplication, 60)

	// Self-certification only comes from the claimant.
	set(KindSelfCertified, SourceApplication, 65)

	// Generic absence marker: the weakest employer claim.
	set(KindAbsence, SourceIncomeNotice, 40)

	// Open ordering: study vs foreign residence from the claimant. Equal
	// rank until the domain owners confirm; timestamp tie-break applies.
	set(KindStudy, SourceApplication, 55)
	set(KindForeignResidence, SourceApplication, 55)

	return t
}

// Rank returns the precedence rank for a (kind, source) combination.
func (t *PrecedenceTable) Rank(kind DayKind, source SourceKind) int {
	if r, ok := t.ranks[claim{kind, source}]; ok {
		return r
	}
	return defaultRank
}

// MarkAmbiguous flags a pair of combinations as genuinely unorderable.
// Resolving such a pair yields Undecided regardless of timestamps.
func (t *PrecedenceTable) MarkAmbiguous(kindA DayKind, sourceA SourceKind, kindB DayKind, sourceB SourceKind) {
	t.ambiguous[pairKey(claim{kindA, sourceA}, claim{kindB, sourceB})] = true
}

func pairKey(a, b claim) [2]claim {
	if b.Kind < a.Kind || (b.Kind == a.Kind && b.Source < a.Source) {
		a, b = b, a
	}
	return [2]claim{a, b}
}

// =============================================================================
// RESOLVE - The tournament itself
// =============================================================================

// Resolve settles two records for the same date. It returns one of the two
// inputs, or an Undecided record; swapping the arguments yields the same
// result. Callers guarantee a.Date equals b.Date (Merge does).
func (t *PrecedenceTable) Resolve(a, b DayRecord) DayRecord {
	rec, _ := t.ResolveTraced(a, b)
	return rec
}

// ResolveTraced is Resolve plus the id of the rule that decided, for the
// compliance side channel.
func (t *PrecedenceTable) ResolveTraced(a, b DayRecord) (DayRecord, RuleID) {
	if a.SameVerdict(b) {
		// Same source, same classification: the record stands; keep the
		// most recent report time.
		if b.ReportedAt.After(a.ReportedAt) {
			return b, RuleReflexive
		}
		return a, RuleReflexive
	}

	ca := claim{a.Kind, a.Source}
	cb := claim{b.Kind, b.Source}

	if t.ambiguous[pairKey(ca, cb)] {
		return undecided(a, b), RuleAmbiguousPair
	}

	ra, rb := t.Rank(a.Kind, a.Source), t.Rank(b.Kind, b.Source)
	switch {
	case ra > rb:
		return a, RuleRank
	case rb > ra:
		return b, RuleRank
	}

	// Equal authority: the latest word stands.
	switch {
	case a.ReportedAt.After(b.ReportedAt):
		return a, RuleTimestampTieBreak
	case b.ReportedAt.After(a.ReportedAt):
		return b, RuleTimestampTieBreak
	}

	return undecided(a, b), RuleUndecidedTie
}

// undecided builds the symmetric undecided verdict for a conflicting pair.
func undecided(a, b DayRecord) DayRecord {
	// Attribute to the higher-priority source so the result is identical
	// regardless of argument order.
	src := a.Source
	if b.Source < src {
		src = b.Source
	}
	at := a.ReportedAt
	if b.ReportedAt.After(at) {
		at = b.ReportedAt
	}
	return DayRecord{
		Date:       a.Date,
		Kind:       KindUndecided,
		Degree:     decimal.Zero,
		Source:     src,
		ReportedAt: at,
	}
}
