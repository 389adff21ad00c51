/*
handlers.go - HTTP handlers for the read side and dev event injection

PURPOSE:
  Exposes the engine's aggregates over REST. Reads go through the
  registry's deep-copied views, so a handler can never observe an
  aggregate mid-event. The injection endpoints exist for development and
  demos; production traffic arrives on the bus.

ENDPOINTS:
  Read side:
    GET  /api/claimants                                   List aggregates
    GET  /api/claimants/{claimant}/{employer}             Status
    GET  /api/claimants/{claimant}/{employer}/timeline    Canonical timeline
    GET  /api/claimants/{claimant}/{employer}/periods     Period summaries
    GET  /api/claimants/{claimant}/{employer}/periods/{periodID}  Generations
    GET  /api/claimants/{claimant}/{employer}/payment-lines       Live lines
    GET  /api/claimants/{claimant}/{employer}/needs       Outstanding needs

  Archive (when the server carries one):
    GET  /api/claimants/{claimant}/{employer}/ledger      Dispatched lines
    GET  /api/periods/{periodID}/traces                   Compliance traces

  Dev injection:
    POST /api/events/source-reports   Inject a source report
    POST /api/events/facts            Inject a collected fact
    POST /api/events/reevaluate       Trigger a re-evaluation pass

  Scenarios:
    GET  /api/scenarios               List canned scenarios
    POST /api/scenarios/load          Run one against a fresh claimant

ERROR HANDLING:
  - 400: malformed body, unknown kind or source, bad date
  - 404: unknown period
  - 409: unroutable fact, invariant violation
  - 423: claimant halted
  - 500: everything else

SEE ALSO:
  - dto.go: wire shapes and domain conversions
  - server.go: router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/warp/entitlement-engine/engine"
	"github.com/warp/entitlement-engine/period"
	"github.com/warp/entitlement-engine/store/sqlite"
	"github.com/warp/entitlement-engine/timeline"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers. Archive is the
// durable ledger and compliance store; it is nil when the server runs
// without one, and the ledger endpoints say so instead of failing.
type Handler struct {
	Registry *engine.Registry
	Archive  *sqlite.Store
	Log      *slog.Logger
}

// NewHandler creates a handler over the engine registry.
func NewHandler(registry *engine.Registry, archive *sqlite.Store, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		Registry: registry,
		Archive:  archive,
		Log:      log.With(slog.String("component", "api")),
	}
}

func aggregateKey(r *http.Request) engine.AggregateKey {
	return engine.AggregateKey{
		ClaimantID: chi.URLParam(r, "claimant"),
		EmployerID: chi.URLParam(r, "employer"),
	}
}

// view loads the aggregate or writes the error response. An aggregate
// nobody has reported on yet comes back empty, not as an error.
func (h *Handler) view(w http.ResponseWriter, r *http.Request) (engine.View, bool) {
	view, err := h.Registry.View(r.Context(), aggregateKey(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load claimant", err)
		return engine.View{}, false
	}
	return view, true
}

// =============================================================================
// READ SIDE
// =============================================================================

// ListClaimants returns every known aggregate.
func (h *Handler) ListClaimants(w http.ResponseWriter, r *http.Request) {
	keys, err := h.Registry.Keys(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list claimants", err)
		return
	}

	dtos := make([]ClaimantDTO, len(keys))
	for i, k := range keys {
		dtos[i] = ClaimantDTO{ClaimantID: k.ClaimantID, EmployerID: k.EmployerID}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetStatus returns the aggregate-level status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	view, ok := h.view(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, StatusDTO{
		ClaimantID: view.Key.ClaimantID,
		EmployerID: view.Key.EmployerID,
		Periods:    len(view.Set.Periods),
		Halted:     view.Halted,
		HaltReason: view.HaltReason,
	})
}

// GetTimeline returns the canonical merged timeline.
func (h *Handler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	view, ok := h.view(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toTimelineDTO(view.Key, view.Canonical))
}

// ListPeriods returns period summaries in processing order.
func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	view, ok := h.view(w, r)
	if !ok {
		return
	}

	dtos := make([]PeriodDTO, 0, len(view.Set.Periods))
	for _, p := range view.Set.Ordered() {
		dtos = append(dtos, toPeriodDTO(p))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPeriod returns one period with its full generation history.
func (h *Handler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	view, ok := h.view(w, r)
	if !ok {
		return
	}

	p, found := view.Set.ByID(chi.URLParam(r, "periodID"))
	if !found {
		writeError(w, http.StatusNotFound, "unknown period", nil)
		return
	}

	dto := PeriodDetailDTO{PeriodDTO: toPeriodDTO(p)}
	for _, g := range p.Generations {
		dto.History = append(dto.History, toGenerationDTO(g))
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetPaymentLines returns the live generation's lines for each period.
func (h *Handler) GetPaymentLines(w http.ResponseWriter, r *http.Request) {
	view, ok := h.view(w, r)
	if !ok {
		return
	}

	dtos := make([]PaymentDTO, 0, len(view.Set.Periods))
	for _, p := range view.Set.Ordered() {
		dtos = append(dtos, PaymentDTO{
			PeriodID: p.ID,
			Lines:    toLineDTOs(p.Live().Payment),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetNeeds returns the outstanding need requests.
func (h *Handler) GetNeeds(w http.ResponseWriter, r *http.Request) {
	view, ok := h.view(w, r)
	if !ok {
		return
	}

	dtos := make([]NeedDTO, 0, len(view.Outstanding))
	for _, n := range view.Outstanding {
		dtos = append(dtos, NeedDTO{
			Kind:        string(n.Need.Kind),
			PeriodID:    n.Need.PeriodID,
			RequestedAt: n.RequestedAt,
			Reissues:    n.Reissues,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ARCHIVE READS
// =============================================================================

// GetLedger returns the durable payment-line archive for one claimant.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	if h.Archive == nil {
		writeError(w, http.StatusNotImplemented, "server runs without a ledger archive", nil)
		return
	}

	entries, err := h.Archive.LedgerByClaimant(r.Context(), aggregateKey(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read ledger", err)
		return
	}

	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = LedgerEntryDTO{
			PeriodID:     e.PeriodID,
			GenerationID: e.GenerationID,
			Direction:    e.Direction,
			Line:         json.RawMessage(e.LineJSON),
			CreatedAt:    e.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetTraces returns the archived compliance traces for one period.
func (h *Handler) GetTraces(w http.ResponseWriter, r *http.Request) {
	if h.Archive == nil {
		writeError(w, http.StatusNotImplemented, "server runs without a compliance archive", nil)
		return
	}

	traces, err := h.Archive.TracesByPeriod(r.Context(), chi.URLParam(r, "periodID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read traces", err)
		return
	}

	dtos := make([]TraceDTO, len(traces))
	for i, tr := range traces {
		dtos[i] = TraceDTO{
			PeriodID:     tr.Trace.PeriodID,
			GenerationID: tr.Trace.GenerationID,
			RuleID:       tr.Trace.RuleID,
			Detail:       tr.Trace.Detail,
			RecordedAt:   tr.At,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// DEV EVENT INJECTION
// =============================================================================

// InjectSourceReport applies a source report directly, bypassing the bus.
func (h *Handler) InjectSourceReport(w http.ResponseWriter, r *http.Request) {
	var req SourceReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	ev, err := sourceReportEvent(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid source report", err)
		return
	}
	h.dispatch(w, r, ev)
}

// InjectFact applies a collected fact directly, bypassing the bus.
func (h *Handler) InjectFact(w http.ResponseWriter, r *http.Request) {
	var req FactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	ev, err := factEvent(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid fact", err)
		return
	}
	h.dispatch(w, r, ev)
}

// Reevaluate triggers a re-evaluation pass for one aggregate.
func (h *Handler) Reevaluate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClaimantID string `json:"claimant_id"`
		EmployerID string `json:"employer_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	h.dispatch(w, r, &engine.ReevaluateEvent{
		ID:         uuid.NewString(),
		ClaimantID: req.ClaimantID,
		EmployerID: req.EmployerID,
	})
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, ev engine.Event) {
	err := h.Registry.Handle(r.Context(), ev)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"event_id": ev.EventID()})
	case errors.Is(err, engine.ErrClaimantHalted):
		writeError(w, http.StatusLocked, "claimant halted", err)
	case errors.Is(err, engine.ErrUnroutableFact):
		writeError(w, http.StatusConflict, "fact cannot be routed", err)
	case engine.IsInvariantViolation(err):
		writeError(w, http.StatusConflict, "invariant violation, claimant halted", err)
	default:
		writeError(w, http.StatusInternalServerError, "event failed", err)
	}
}

// =============================================================================
// REQUEST TO EVENT CONVERSION
// =============================================================================

func sourceReportEvent(req SourceReportRequest) (*engine.SourceReportEvent, error) {
	source, ok := timeline.ParseSourceKind(req.Source)
	if !ok {
		return nil, fmt.Errorf("unknown source %q", req.Source)
	}

	reportedAt := req.ReportedAt
	if reportedAt.IsZero() {
		reportedAt = time.Now().UTC()
	}

	days := make([]timeline.DayRecord, 0, len(req.Days))
	for _, d := range req.Days {
		date, err := timeline.ParseDate(d.Date)
		if err != nil {
			return nil, fmt.Errorf("day %q: %w", d.Date, err)
		}
		kind := timeline.ParseDayKind(d.Kind)
		if kind == timeline.KindUnknown {
			return nil, fmt.Errorf("day %s: unknown kind %q", d.Date, d.Kind)
		}
		degree := d.Degree
		if degree.IsZero() && kind.Payable() {
			degree = timeline.FullDegree
		}
		days = append(days, timeline.NewDayRecord(date, kind, degree, source, reportedAt))
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &engine.SourceReportEvent{
		ID:         id,
		ClaimantID: req.ClaimantID,
		EmployerID: req.EmployerID,
		InstanceID: req.InstanceID,
		Source:     source,
		ReportedAt: reportedAt,
		Days:       days,
		Retraction: req.Retraction,
	}, nil
}

func factEvent(req FactRequest) (*engine.FactReceivedEvent, error) {
	receivedAt := req.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	f := period.Fact{
		ID:                id,
		Kind:              period.FactKind(req.Kind),
		ReceivedAt:        receivedAt,
		WageBasis:         req.WageBasis,
		RefundAgreement:   req.RefundAgreement,
		HistoricalBasis:   req.HistoricalBasis,
		OverlapBenefit:    req.OverlapBenefit,
		OverlapCompatible: req.OverlapOK,
		ApprovedBy:        req.ApprovedBy,
	}
	switch f.Kind {
	case period.FactEmployerIncome, period.FactWageHistory, period.FactBenefitOverlap, period.FactApproval:
	default:
		return nil, fmt.Errorf("unknown fact kind %q", req.Kind)
	}
	if req.QualifyingDate != "" {
		qd, err := timeline.ParseDate(req.QualifyingDate)
		if err != nil {
			return nil, fmt.Errorf("qualifying date: %w", err)
		}
		f.QualifyingDate = &qd
	}

	ev := &engine.FactReceivedEvent{
		ID:         id,
		ClaimantID: req.ClaimantID,
		EmployerID: req.EmployerID,
		PeriodID:   req.PeriodID,
		Fact:       f,
	}
	if req.EffectiveDate != "" {
		d, err := timeline.ParseDate(req.EffectiveDate)
		if err != nil {
			return nil, fmt.Errorf("effective date: %w", err)
		}
		ev.EffectiveDate = &d
	}
	return ev, nil
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
