/*
Package timeline implements the entitlement timeline core: day records,
source timelines, the precedence tournament that settles conflicting reports
for the same date, the merge engine that folds all of a claimant's source
timelines into one canonical timeline, and the segmenter that cuts the
canonical timeline into benefit periods.

PURPOSE:
  Multiple independent reporters (doctors, the claimant, employers, the
  payment history) describe the same calendar days, and they disagree. This
  package turns those conflicting reports into a single authoritative
  day-by-day picture, deterministically: the same set of reports always
  yields bit-identical output regardless of arrival order.

KEY CONCEPTS IN THIS FILE (day.go):
  - DayKind:    Closed set of day classifications (sick, working, vacation...)
  - SourceKind: Which kind of reporter produced a record
  - DayRecord:  One date's classification plus provenance

DESIGN PRINCIPLES:
  1. Immutability: records and timelines are values; operations return new ones
  2. Closed sets: DayKind and SourceKind are exhaustive enums, switched
     exhaustively rather than dispatched virtually
  3. Precision: degrees (sick percentages) use decimal.Decimal, never float
  4. Provenance: every record keeps its source and report timestamp so a
     decision can always be explained afterwards

SEE ALSO:
  - tournament.go: precedence resolution between two records
  - merge.go:      per-claimant working set and canonical fold
  - segment.go:    benefit period segmentation
*/
package timeline

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DAY KIND - Closed classification set
// =============================================================================

type DayKind int

const (
	// KindUnknown means a source has no opinion about the date. Distinct
	// from KindUndecided, which is an explicit "we looked and cannot tell".
	KindUnknown DayKind = iota
	KindWorking
	KindSick
	KindWeekendSick
	KindVacation
	KindSelfCertified
	KindStudy
	KindForeignResidence
	KindAbsence
	KindUndecided
)

var dayKindNames = map[DayKind]string{
	KindUnknown:          "unknown",
	KindWorking:          "working",
	KindSick:             "sick",
	KindWeekendSick:      "weekend_sick",
	KindVacation:         "vacation",
	KindSelfCertified:    "self_certified",
	KindStudy:            "study",
	KindForeignResidence: "foreign_residence",
	KindAbsence:          "absence",
	KindUndecided:        "undecided",
}

func (k DayKind) String() string {
	if s, ok := dayKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseDayKind maps the wire name back to a DayKind. Unrecognized names map
// to KindUnknown.
func ParseDayKind(s string) DayKind {
	for k, name := range dayKindNames {
		if name == s {
			return k
		}
	}
	return KindUnknown
}

// EntitlementRelevant reports whether the kind counts toward a benefit
// period. Working, vacation, study and foreign-residence days interrupt
// entitlement; undecided days keep the period open (they need resolution,
// not dismissal).
func (k DayKind) EntitlementRelevant() bool {
	switch k {
	case KindSick, KindWeekendSick, KindSelfCertified, KindUndecided:
		return true
	default:
		return false
	}
}

// Payable reports whether a day of this kind can produce a payment line.
func (k DayKind) Payable() bool {
	switch k {
	case KindSick, KindWeekendSick, KindSelfCertified:
		return true
	default:
		return false
	}
}

// PaidThroughWeekends reports whether the kind extends over adjacent
// weekends: a paid sick Friday implies the following Saturday and Sunday are
// weekend-sick days unless a source explicitly says otherwise.
func (k DayKind) PaidThroughWeekends() bool {
	return k == KindSick || k == KindWeekendSick
}

// =============================================================================
// SOURCE KIND - Who reported the day
// =============================================================================

type SourceKind int

// Declared in fold-priority order: the merge engine folds source timelines
// in this order so the canonical result is independent of arrival order.
const (
	SourceSickLeaveNotice SourceKind = iota // physician-issued notice
	SourceApplication                       // claimant's own application
	SourceIncomeNotice                      // employer income notice
	SourcePaymentHistory                    // previously disbursed payments
	SourceBenefitOverlap                    // national-insurance overlap notice
)

var sourceKindNames = map[SourceKind]string{
	SourceSickLeaveNotice: "sick_leave_notice",
	SourceApplication:     "application",
	SourceIncomeNotice:    "income_notice",
	SourcePaymentHistory:  "payment_history",
	SourceBenefitOverlap:  "benefit_overlap",
}

func (s SourceKind) String() string {
	if name, ok := sourceKindNames[s]; ok {
		return name
	}
	return "unknown_source"
}

func ParseSourceKind(s string) (SourceKind, bool) {
	for k, name := range sourceKindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// =============================================================================
// DAY RECORD - One date's classification with provenance
// =============================================================================

// DayRecord is immutable. Amending a day means issuing a new record through
// a new source event, never editing an existing one.
type DayRecord struct {
	Date Date    `json:"date"`
	Kind DayKind `json:"kind"`

	// Degree is the sick percentage for payable kinds (100 = fully sick).
	// Zero-valued for kinds where a degree makes no sense.
	Degree decimal.Decimal `json:"degree"`

	Source     SourceKind `json:"source"`
	ReportedAt time.Time  `json:"reported_at"`
}

// FullDegree is the degree of a fully sick day.
var FullDegree = decimal.NewFromInt(100)

func NewDayRecord(date Date, kind DayKind, degree decimal.Decimal, source SourceKind, reportedAt time.Time) DayRecord {
	return DayRecord{Date: date, Kind: kind, Degree: degree, Source: source, ReportedAt: reportedAt}
}

// SameVerdict reports whether two records agree on everything but
// provenance timing: date, kind, degree and source.
func (r DayRecord) SameVerdict(other DayRecord) bool {
	return r.Date.Equal(other.Date) &&
		r.Kind == other.Kind &&
		r.Source == other.Source &&
		r.Degree.Equal(other.Degree)
}
