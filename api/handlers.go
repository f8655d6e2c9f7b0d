/*
handlers.go - HTTP API handlers for the billing ledger

PURPOSE:
  Exposes the billing service via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to billing.Service.

ENDPOINTS:
  Periods:
    POST   /api/periods                              Create period
    GET    /api/periods/{id}                         Get period
    PATCH  /api/periods/{id}                         Update notes / due date
    DELETE /api/periods/{id}?hard=true               Delete (soft by default)
    POST   /api/periods/{id}/charges                 Add charge
    POST   /api/periods/{id}/charges/{chargeID}/reverse  Reverse charge
    POST   /api/periods/{id}/payments                Link payments (batch)
    POST   /api/periods/{id}/carry-forward           Carry into next term
    POST   /api/periods/{id}/lock                    Lock / unlock
    POST   /api/periods/{id}/refresh                 Recompute cached totals
    GET    /api/periods/{id}/audit                   Audit trail

  Students:
    GET    /api/students/{studentID}/periods?site=   List periods
    GET    /api/students/{studentID}/balance?site=&year=&term=

  Fee configurations:
    POST   /api/fee-configurations
    GET    /api/fee-configurations?site=
    GET    /api/fee-configurations/{id}

  Payments:
    POST   /api/payments
    GET    /api/payments/{id}
    POST   /api/payments/{id}/status

  Admin:
    POST   /api/admin/rollover                       Carry a whole site forward

REQUEST FLOW:
  1. Decode + validate body (validation.go)
  2. Resolve the actor (auth.go)
  3. Call billing.Service
  4. Serialize response (dto.go)
  5. Map errors to status codes (errors.go)

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/fee-ledger/billing"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter wipes every stored record. Used by demo scenarios.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	svc       *billing.Service
	validator *requestValidator
	log       *slog.Logger
	metrics   *Metrics

	// Optional: nil disables scenario loading.
	resetter Resetter

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLogger sets the handler's logger.
func WithLogger(log *slog.Logger) HandlerOption {
	return func(h *Handler) { h.log = log }
}

// WithMetrics sets the collectors operations are counted on.
func WithMetrics(m *Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// WithScenarios enables demo scenarios backed by r.
func WithScenarios(r Resetter) HandlerOption {
	return func(h *Handler) { h.resetter = r }
}

// NewHandler creates a new handler around svc.
func NewHandler(svc *billing.Service, opts ...HandlerOption) *Handler {
	h := &Handler{
		svc:       svc,
		validator: newRequestValidator(),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = NewMetrics()
	}
	return h
}

// Metrics returns the collectors the handler records on.
func (h *Handler) Metrics() *Metrics { return h.metrics }

// fail records a failed operation and renders the error.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.metrics.Observe(op, err)
	h.writeServiceError(w, r, err)
}

// ok records a successful operation and renders the body.
func (h *Handler) ok(w http.ResponseWriter, op string, status int, body any) {
	h.metrics.Observe(op, nil)
	writeJSON(w, status, body)
}

// =============================================================================
// PERIOD HANDLERS
// =============================================================================

// CreatePeriod bills a student for a term from a fee configuration.
func (h *Handler) CreatePeriod(w http.ResponseWriter, r *http.Request) {
	const op = "create_period"
	var req CreatePeriodRequest
	if err := h.validator.decode(r, &req); err != nil {
		h.fail(w, r, op, err)
		return
	}
	due, err := parseDate("payment_due_date", req.PaymentDueDate)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}

	p, err := h.svc.CreatePeriod(r.Context(), billing.CreatePeriodInput{
		Key: billing.PeriodKey{
			StudentID:    req.StudentID,
			SiteID:       req.SiteID,
			AcademicYear: req.AcademicYear,
			AcademicTerm: req.AcademicTerm,
		},
		FeeConfigurationID: req.FeeConfigurationID,
		Actor:              actorFrom(r, req.Actor),
		Notes:              req.Notes,
		PaymentDueDate:     due,
	})
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.ok(w, op, http.StatusCreated, toPeriodDTO(p))
}

// GetPeriod returns a period.
func (h *Handler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetPeriod(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTO(p))
}

// ListStudentPeriods returns a student's periods at a site, oldest first.
func (h *Handler) ListStudentPeriods(w http.ResponseWriter, r *http.Request) {
	site := r.URL.Query().Get("site")
	if site == "" {
		h.writeServiceError(w, r, &billing.ValidationError{Field: "site", Message: "query parameter is required"})
		return
	}
	periods, err := h.svc.ListPeriods(r.Context(), chi.URLParam(r, "studentID"), site)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTOs(periods))
}

// UpdateDetails patches notes and the payment due date.
func (h *Handler) UpdateDetails(w http.ResponseWriter, r *http.Request) {
	const op = "update_details"
	var req UpdateDetailsRequest
	if err := h.validator.decode(r, &req); err != nil {
		h.fail(w, r, op, err)
		return
	}
	in := billing.DetailsInput{
		Notes:        req.Notes,
		ClearDueDate: req.ClearDueDate,
		Actor:        actorFrom(r, req.Actor),
		Version:      req.Version,
	}
	if req.PaymentDueDate != nil {
		due, err := parseDate("payment_due_date", *req.PaymentDueDate)
		if err != nil {
			h.fail(w, r, op, err)
			return
		}
		in.PaymentDueDate = due
	}

	p, err := h.svc.UpdateDetails(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.ok(w, op, http.StatusOK, toPeriodDTO(p))
}

// DeletePeriod soft-deletes a period, or removes it when ?hard=true.
// Hard deletion needs the admin role when authentication is on.
func (h *Handler) DeletePeriod(w http.ResponseWriter, r *http.Request) {
	const op = "delete_period"
	hard, _ := strconv.ParseBool(r.URL.Query().Get("hard"))
	if hard {
		if err := requireAdmin(r); err != nil {
			h.fail(w, r, op, err)
			return
		}
	}
	if err := h.svc.DeletePeriod(r.Context(), chi.URLParam(r, "id"), actorFrom(r, ""), hard); err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.metrics.Observe(op, nil)
	w.WriteHeader(http.StatusNoContent)
}

// SetLock locks or unlocks a period. Unlocking needs the admin role when
// authentication is on.
func (h *Handler) SetLock(w http.ResponseWriter, r *http.Request) {
	const op = "set_lock"
	var req LockRequest
	if err := h.validator.decode(r, &req); err != nil {
		h.fail(w, r, op, err)
		return
	}
	if !*req.Locked {
		if err := requireAdmin(r); err != nil {
			h.fail(w, r, op, err)
			return
		}
	}
	p, err := h.svc.SetLock(r.Context(), chi.URLParam(r, "id"), actorFrom(r, req.Actor), *req.Locked)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.ok(w, op, http.StatusOK, toPeriodDTO(p))
}

// RefreshTotals recomputes a period's cached totals.
func (h *Handler) RefreshTotals(w http.ResponseWriter, r *http.Request) {
	const op = "refresh_totals"
	p, err := h.svc.RefreshTotals(r.Context(), chi.URLParam(r, "id"), actorFrom(r, ""))
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.ok(w, op, http.StatusOK, toPeriodDTO(p))
}

// GetAuditTrail returns a period's audit entries, oldest first.
// Filters: ?action=a,b&by=user&from=YYYY-MM-DD&to=YYYY-MM-DD
func (h *Handler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f billing.AuditFilter
	if actions := q.Get("action"); actions != "" {
		for _, a := range strings.Split(actions, ",") {
			f.Actions = append(f.Actions, billing.AuditAction(strings.TrimSpace(a)))
		}
	}
	f.PerformedBy = q.Get("by")

	from, err := parseDate("from", q.Get("from"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	to, err := parseDate("to", q.Get("to"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if to != nil {
		// Inclusive of the whole day.
		end := to.Add(24*time.Hour - time.Nanosecond)
		to = &end
	}
	f.From, f.To = from, to

	entries, err := h.svc.AuditTrail(r.Context(), chi.URLParam(r, "id"), f)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// AddCharge appends a charge to a period.
func (h *Handler) AddCharge(w http.ResponseWriter, r *http.Request) {
	const op = "add_charge"
	var req AddChargeRequest
	if err := h.validator.decode(r, &req); err != nil {
		h.fail(w, r, op, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	charged, err := parseDate("charged_date", req.ChargedDate)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}

	p, entry, err := h.svc.AddCharge(r.Context(), chi.URLParam(r, "id"), billing.ChargeInput{
		Particulars: req.Particulars,
		Amount:      amount,
		Category:    billing.ChargeCategory(strings.ToLower(req.Category)),
		AddedBy:     actorFrom(r, req.AddedBy),
		ChargedDate: charged,
		Reference:   req.Reference,
		Notes:       req.Notes,
	})
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.ok(w, op, http.StatusCreated, ChargeResponse{Charge: entry, Period: toPeriodDTO(p)})
}

// ReverseCharge appends the reversal of an earlier charge.
func (h *Handler) ReverseCharge(w http.ResponseWriter, r *http.Request) {
	const op = "reverse_charge"
	var req ReverseChargeRequest
	if err := h.validator.decode(r, &req); err != nil {
		h.fail(w, r, op, err)
		return
	}
	p, entry, err := h.svc.ReverseCharge(r.Context(),
		chi.URLParam(r, "id"), chi.URLParam(r, "chargeID"), actorFrom(r, req.Actor), req.Reason)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.ok(w, op, http.StatusCreated, ChargeResponse{Charge: entry, Period: toPeriodDTO(p)})
}

// LinkPayments links payments to a period. Each payment is linked on its
// own; the response carries one result per id.
func (h *Handler) LinkPayments(w http.ResponseWriter, r *http.Request) {
	const op = "link_payment"
	var req LinkPaymentsRequest
	if err := h.validator.decode(r, &req); err != nil {
		h.fail(w, r, op, err)
		return
	}
	p, results, err := h.svc.LinkPayments(r.Context(), chi.URLParam(r, "id"), req.PaymentIDs, actorFrom(r, req.Actor))
	for _, res := range results {
		h.metrics.Observe(op, res.Err)
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := LinkPaymentsResponse{Period: toPeriodDTO(p), Results: make([]LinkResultDTO, 0, len(results))}
	for _, res := range results {
		dto := LinkResultDTO{PaymentID: res.PaymentID, Linked: res.Err == nil, Status: http.StatusOK}
		if res.Err != nil {
			dto.Error = res.Err.Error()
			dto.Status = statusFor(res.Err)
		}
		resp.Results = append(resp.Results, dto)
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// CARRY FORWARD HANDLERS
// =============================================================================

// CarryForward creates the next term's period with arrears brought forward.
func (h *Handler) CarryForward(w http.ResponseWriter, r *http.Request) {
	const op = "carry_forward"
	var req CarryForwardRequest
	if err := h.validator.decode(r, &req); err != nil {
		h.fail(w, r, op, err)
		return
	}
	p, err := h.svc.CarryForward(r.Context(), billing.CarryForwardInput{
		SourcePeriodID:     chi.URLParam(r, "id"),
		AcademicYear:       req.AcademicYear,
		AcademicTerm:       req.AcademicTerm,
		FeeConfigurationID: req.FeeConfigurationID,
		Actor:              actorFrom(r, req.Actor),
	})
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.ok(w, op, http.StatusCreated, toPeriodDTO(p))
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// GetBalance returns a student's balance for one term, including arrears
// still open on earlier terms.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	term, err := strconv.Atoi(q.Get("term"))
	if err != nil || term < 1 {
		h.writeServiceError(w, r, &billing.ValidationError{Field: "term", Message: "must be a positive integer"})
		return
	}
	key := billing.PeriodKey{
		StudentID:    chi.URLParam(r, "studentID"),
		SiteID:       q.Get("site"),
		AcademicYear: q.Get("year"),
		AcademicTerm: term,
	}
	if key.SiteID == "" || key.AcademicYear == "" {
		h.writeServiceError(w, r, &billing.ValidationError{Field: "site", Message: "site and year are required"})
		return
	}

	summary, err := h.svc.GetBalance(r.Context(), key)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(summary))
}

// =============================================================================
// FEE CONFIGURATION HANDLERS
// =============================================================================

// CreateFeeConfiguration stores a fee template.
func (h *Handler) CreateFeeConfiguration(w http.ResponseWriter, r *http.Request) {
	const op = "create_fee_configuration"
	var req CreateFeeConfigurationRequest
	if err := h.validator.decode(r, &req); err != nil {
		h.fail(w, r, op, err)
		return
	}
	in := billing.FeeConfigurationInput{
		SiteID:       req.SiteID,
		Name:         req.Name,
		AcademicYear: req.AcademicYear,
		AcademicTerm: req.AcademicTerm,
		Currency:     req.Currency,
	}
	for _, item := range req.Items {
		amount, err := parseAmount("items.amount", item.Amount)
		if err != nil {
			h.fail(w, r, op, err)
			return
		}
		in.Items = append(in.Items, billing.FeeItem{
			Description: item.Description,
			Category:    billing.ChargeCategory(strings.ToLower(item.Category)),
			Amount:      amount,
		})
	}

	fc, err := h.svc.CreateFeeConfiguration(r.Context(), in)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.ok(w, op, http.StatusCreated, toFeeConfigurationDTO(fc))
}

// ListFeeConfigurations returns templates, optionally for one site.
func (h *Handler) ListFeeConfigurations(w http.ResponseWriter, r *http.Request) {
	configs, err := h.svc.ListFeeConfigurations(r.Context(), r.URL.Query().Get("site"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]FeeConfigurationDTO, 0, len(configs))
	for i := range configs {
		out = append(out, toFeeConfigurationDTO(&configs[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetFeeConfiguration returns one template.
func (h *Handler) GetFeeConfiguration(w http.ResponseWriter, r *http.Request) {
	fc, err := h.svc.GetFeeConfiguration(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFeeConfigurationDTO(fc))
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// RecordPayment stores a payment received from a student.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	const op = "record_payment"
	var req RecordPaymentRequest
	if err := h.validator.decode(r, &req); err != nil {
		h.fail(w, r, op, err)
		return
	}
	amount, err := parseAmount("amount_paid", req.AmountPaid)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	paid, err := parseDate("date_paid", req.DatePaid)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	in := billing.PaymentInput{
		StudentID:     req.StudentID,
		SiteID:        req.SiteID,
		AmountPaid:    amount,
		Status:        billing.PaymentStatus(req.Status),
		AcademicYear:  req.AcademicYear,
		AcademicTerm:  req.AcademicTerm,
		ReceiptNumber: req.ReceiptNumber,
		Method:        req.Method,
		RecordedBy:    actorFrom(r, req.RecordedBy),
	}
	if paid != nil {
		in.DatePaid = *paid
	}

	pay, err := h.svc.RecordPayment(r.Context(), in)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.ok(w, op, http.StatusCreated, toPaymentDTO(pay))
}

// GetPayment returns a payment record.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	pay, err := h.svc.GetPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(pay))
}

// UpdatePaymentStatus confirms, fails or reverses a payment.
func (h *Handler) UpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	const op = "update_payment_status"
	var req PaymentStatusRequest
	if err := h.validator.decode(r, &req); err != nil {
		h.fail(w, r, op, err)
		return
	}
	pay, err := h.svc.UpdatePaymentStatus(r.Context(), chi.URLParam(r, "id"),
		billing.PaymentStatus(req.Status), actorFrom(r, req.Actor))
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.ok(w, op, http.StatusOK, toPaymentDTO(pay))
}
