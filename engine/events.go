/*
events.go - Inbound commands and outbound notifications

PURPOSE:
  The engine consumes three inbound event kinds: source reports about days
  (new, amended or retracted), collected facts (income notices, wage
  history, overlap notices, approvals), and periodic re-evaluation ticks.
  It emits need requests, state changes, payment-line diffs, compliance
  traces and halt notices.

KEY CONCEPTS:
  - Aggregate:  all state for one claimant/employer pairing. Every inbound
    event names its aggregate; events for different aggregates are
    independent and may be processed concurrently.
  - Idempotence: inbound events carry a stable id. Redelivery is harmless.

SEE ALSO:
  - processor.go: applies inbound events to an aggregate
  - bus/kafka:    carries both directions over the wire
*/
package engine

import (
	"time"

	"github.com/warp/entitlement-engine/period"
	"github.com/warp/entitlement-engine/timeline"
)

// =============================================================================
// AGGREGATE KEY
// =============================================================================

// AggregateKey identifies one claimant/employer pairing.
type AggregateKey struct {
	ClaimantID string `json:"claimant_id"`
	EmployerID string `json:"employer_id"`
}

func (k AggregateKey) String() string { return k.ClaimantID + "/" + k.EmployerID }

// =============================================================================
// INBOUND EVENTS
// =============================================================================

// Inbound event kind discriminators, used on the wire.
const (
	InboundSourceReport = "source.report"
	InboundFactReceived = "fact.received"
	InboundReevaluate   = "claimant.reevaluate"
)

// Event is an inbound command addressed to one aggregate.
type Event interface {
	EventID() string
	Aggregate() AggregateKey
	EventKind() string
}

// SourceReportEvent delivers one source's report about a span of days. An
// amendment reuses InstanceID with a fresh ID; a retraction sets
// Retraction for the InstanceID being withdrawn.
type SourceReportEvent struct {
	ID         string               `json:"id"`
	ClaimantID string               `json:"claimant_id"`
	EmployerID string               `json:"employer_id"`
	InstanceID string               `json:"instance_id"`
	Source     timeline.SourceKind  `json:"source"`
	ReportedAt time.Time            `json:"reported_at"`
	Days       []timeline.DayRecord `json:"days,omitempty"`
	Retraction bool                 `json:"retraction,omitempty"`
}

func (e *SourceReportEvent) EventID() string { return e.ID }
func (e *SourceReportEvent) Aggregate() AggregateKey {
	return AggregateKey{ClaimantID: e.ClaimantID, EmployerID: e.EmployerID}
}
func (e *SourceReportEvent) EventKind() string { return InboundSourceReport }

// sourceEvent converts to the merge engine's input form.
func (e *SourceReportEvent) sourceEvent() timeline.SourceEvent {
	return timeline.SourceEvent{
		ID:         e.ID,
		InstanceID: e.InstanceID,
		Source:     e.Source,
		ReportedAt: e.ReportedAt,
		Days:       e.Days,
		Retraction: e.Retraction,
	}
}

// FactReceivedEvent delivers a collected fact. Routing: PeriodID pins the
// fact to one period; otherwise EffectiveDate selects the period covering
// that date; otherwise the fact goes to the aggregate's only open period.
type FactReceivedEvent struct {
	ID            string         `json:"id"`
	ClaimantID    string         `json:"claimant_id"`
	EmployerID    string         `json:"employer_id"`
	PeriodID      string         `json:"period_id,omitempty"`
	EffectiveDate *timeline.Date `json:"effective_date,omitempty"`
	Fact          period.Fact    `json:"fact"`
}

func (e *FactReceivedEvent) EventID() string { return e.ID }
func (e *FactReceivedEvent) Aggregate() AggregateKey {
	return AggregateKey{ClaimantID: e.ClaimantID, EmployerID: e.EmployerID}
}
func (e *FactReceivedEvent) EventKind() string { return InboundFactReceived }

// ReevaluateEvent re-runs reconciliation for an aggregate and re-issues
// outstanding need requests that have gone stale.
type ReevaluateEvent struct {
	ID         string `json:"id"`
	ClaimantID string `json:"claimant_id"`
	EmployerID string `json:"employer_id"`
}

func (e *ReevaluateEvent) EventID() string { return e.ID }
func (e *ReevaluateEvent) Aggregate() AggregateKey {
	return AggregateKey{ClaimantID: e.ClaimantID, EmployerID: e.EmployerID}
}
func (e *ReevaluateEvent) EventKind() string { return InboundReevaluate }

// =============================================================================
// OUTBOUND EVENTS
// =============================================================================

// Outbound event kind discriminators, used on the wire.
const (
	OutboundNeedRequested = "need.requested"
	OutboundStateChanged  = "period.state_changed"
	OutboundLinesDiffed   = "payment.lines_diffed"
	OutboundTrace         = "compliance.trace"
	OutboundHalted        = "claimant.halted"
)

// Outbound is a notification the engine publishes after an event is
// processed and its state persisted.
type Outbound interface {
	OutboundKind() string
}

// Publisher delivers outbound events. Implementations must be safe for
// concurrent use; the engine publishes only after persisting.
type Publisher interface {
	Publish(out Outbound) error
}

// NeedRequested asks an external collector for a missing fact.
type NeedRequested struct {
	Key         AggregateKey `json:"aggregate"`
	Need        period.Need  `json:"need"`
	RequestedAt time.Time    `json:"requested_at"`
	Reissued    bool         `json:"reissued,omitempty"`
}

func (*NeedRequested) OutboundKind() string { return OutboundNeedRequested }

// PeriodStateChanged mirrors one benefit-period state transition.
type PeriodStateChanged struct {
	Key    AggregateKey       `json:"aggregate"`
	Change period.StateChange `json:"change"`
}

func (*PeriodStateChanged) OutboundKind() string { return OutboundStateChanged }

// PaymentLinesDiffed carries a payment-line delta for the disbursement
// ledger: lines to cancel and lines to issue.
type PaymentLinesDiffed struct {
	Key  AggregateKey      `json:"aggregate"`
	Diff period.PeriodDiff `json:"diff"`
}

func (*PaymentLinesDiffed) OutboundKind() string { return OutboundLinesDiffed }

// ClaimantHalted announces that an aggregate hit an invariant violation
// and stopped accepting events pending manual intervention.
type ClaimantHalted struct {
	Key      AggregateKey `json:"aggregate"`
	EventID  string       `json:"event_id"`
	Reason   string       `json:"reason"`
	HaltedAt time.Time    `json:"halted_at"`
}

func (*ClaimantHalted) OutboundKind() string { return OutboundHalted }
