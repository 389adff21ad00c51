/*
dto.go - Request/response data structures

PURPOSE:
  Wire shapes for the read-side API and the dev event-injection
  endpoints. DTOs stay flat and JSON-friendly; the handlers translate
  between them and the domain types.
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/entitlement-engine/engine"
	"github.com/warp/entitlement-engine/payment"
	"github.com/warp/entitlement-engine/period"
	"github.com/warp/entitlement-engine/timeline"
)

// =============================================================================
// READ SIDE
// =============================================================================

// ClaimantDTO summarizes one aggregate for the listing endpoint.
type ClaimantDTO struct {
	ClaimantID string `json:"claimant_id"`
	EmployerID string `json:"employer_id"`
}

// DayDTO is one canonical-timeline day.
type DayDTO struct {
	Date   string          `json:"date"`
	Kind   string          `json:"kind"`
	Degree decimal.Decimal `json:"degree"`
	Source string          `json:"source"`
}

// TimelineDTO is the canonical timeline for one aggregate.
type TimelineDTO struct {
	ClaimantID string   `json:"claimant_id"`
	EmployerID string   `json:"employer_id"`
	Days       []DayDTO `json:"days"`
}

// PeriodDTO summarizes one benefit period.
type PeriodDTO struct {
	ID              string `json:"id"`
	Start           string `json:"start"`
	End             string `json:"end"`
	State           string `json:"state"`
	Waiting         string `json:"waiting,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`
	Generations     int    `json:"generations"`
}

// GenerationDTO is one generation with its computed outputs.
type GenerationDTO struct {
	ID          string    `json:"id"`
	Number      int       `json:"number"`
	CreatedAt   time.Time `json:"created_at"`
	Reason      string    `json:"reason"`
	TriggeredBy string    `json:"triggered_by"`
	Frozen      bool      `json:"frozen"`
	Issued      bool      `json:"issued"`
	Lines       []LineDTO `json:"lines,omitempty"`
}

// PeriodDetailDTO is one period with its full generation history.
type PeriodDetailDTO struct {
	PeriodDTO
	History []GenerationDTO `json:"history"`
}

// LineDTO is one payment line.
type LineDTO struct {
	Start     string          `json:"start"`
	End       string          `json:"end"`
	Class     string          `json:"class"`
	Payer     string          `json:"payer"`
	DailyRate decimal.Decimal `json:"daily_rate"`
	Degree    decimal.Decimal `json:"degree"`
	Reject    string          `json:"reject_reason,omitempty"`
}

// PaymentDTO groups the live payment lines per period.
type PaymentDTO struct {
	PeriodID string    `json:"period_id"`
	Lines    []LineDTO `json:"lines"`
}

// NeedDTO is one outstanding need request.
type NeedDTO struct {
	Kind        string    `json:"kind"`
	PeriodID    string    `json:"period_id"`
	RequestedAt time.Time `json:"requested_at"`
	Reissues    int       `json:"reissues,omitempty"`
}

// LedgerEntryDTO is one archived payment line, exactly as dispatched.
type LedgerEntryDTO struct {
	PeriodID     string          `json:"period_id"`
	GenerationID string          `json:"generation_id"`
	Direction    string          `json:"direction"`
	Line         json.RawMessage `json:"line"`
	CreatedAt    time.Time       `json:"created_at"`
}

// TraceDTO is one archived compliance trace.
type TraceDTO struct {
	PeriodID     string    `json:"period_id"`
	GenerationID string    `json:"generation_id"`
	RuleID       string    `json:"rule_id"`
	Detail       string    `json:"detail,omitempty"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// StatusDTO is the aggregate-level status.
type StatusDTO struct {
	ClaimantID string `json:"claimant_id"`
	EmployerID string `json:"employer_id"`
	Periods    int    `json:"periods"`
	Halted     bool   `json:"halted"`
	HaltReason string `json:"halt_reason,omitempty"`
}

// =============================================================================
// DEV EVENT INJECTION
// =============================================================================

// DaySpec is one reported day in an injection request.
type DaySpec struct {
	Date   string          `json:"date"`
	Kind   string          `json:"kind"`
	Degree decimal.Decimal `json:"degree"`
}

// SourceReportRequest injects one source report.
type SourceReportRequest struct {
	ID         string    `json:"id"`
	ClaimantID string    `json:"claimant_id"`
	EmployerID string    `json:"employer_id"`
	InstanceID string    `json:"instance_id"`
	Source     string    `json:"source"`
	ReportedAt time.Time `json:"reported_at"`
	Retraction bool      `json:"retraction,omitempty"`
	Days       []DaySpec `json:"days,omitempty"`
}

// FactRequest injects one collected fact.
type FactRequest struct {
	ID            string `json:"id"`
	ClaimantID    string `json:"claimant_id"`
	EmployerID    string `json:"employer_id"`
	PeriodID      string `json:"period_id,omitempty"`
	EffectiveDate string `json:"effective_date,omitempty"`

	Kind            string          `json:"kind"`
	ReceivedAt      time.Time       `json:"received_at"`
	WageBasis       decimal.Decimal `json:"wage_basis,omitempty"`
	RefundAgreement bool            `json:"refund_agreement,omitempty"`
	QualifyingDate  string          `json:"qualifying_date,omitempty"`
	HistoricalBasis decimal.Decimal `json:"historical_basis,omitempty"`
	OverlapBenefit  string          `json:"overlap_benefit,omitempty"`
	OverlapOK       bool            `json:"overlap_compatible,omitempty"`
	ApprovedBy      string          `json:"approved_by,omitempty"`
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toTimelineDTO(key engine.AggregateKey, t timeline.Timeline) TimelineDTO {
	dto := TimelineDTO{ClaimantID: key.ClaimantID, EmployerID: key.EmployerID, Days: []DayDTO{}}
	for _, rec := range t.Days() {
		dto.Days = append(dto.Days, DayDTO{
			Date:   rec.Date.String(),
			Kind:   rec.Kind.String(),
			Degree: rec.Degree,
			Source: rec.Source.String(),
		})
	}
	return dto
}

func toPeriodDTO(p *period.BenefitPeriod) PeriodDTO {
	return PeriodDTO{
		ID:              p.ID,
		Start:           p.Range.Start.String(),
		End:             p.Range.End.String(),
		State:           string(p.State),
		Waiting:         string(p.Waiting),
		RejectionReason: p.RejectionReason,
		Generations:     len(p.Generations),
	}
}

func toGenerationDTO(g *period.Generation) GenerationDTO {
	return GenerationDTO{
		ID:          g.ID,
		Number:      g.Number,
		CreatedAt:   g.CreatedAt,
		Reason:      string(g.Reason),
		TriggeredBy: g.TriggeredBy,
		Frozen:      g.Frozen,
		Issued:      g.Issued,
		Lines:       toLineDTOs(g.Payment),
	}
}

func toLineDTOs(pt payment.PaymentTimeline) []LineDTO {
	out := make([]LineDTO, 0, len(pt.Lines))
	for _, l := range pt.Lines {
		out = append(out, LineDTO{
			Start:     l.Range.Start.String(),
			End:       l.Range.End.String(),
			Class:     l.Class.String(),
			Payer:     string(l.Payer),
			DailyRate: l.DailyRate,
			Degree:    l.Degree,
			Reject:    string(l.Reject),
		})
	}
	return out
}
