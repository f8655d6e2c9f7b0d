/*
service.go - Transactional orchestration of billing operations

PURPOSE:
  The single entry point for every billing mutation and read. Each
  operation runs inside TxStore.WithTx so the state change, the totals
  recompute and the audit append are persisted together or not at all.

REQUEST FLOW (mutations):
  1. Validate the input (no store access)
  2. Open a transaction
  3. Load the period, check state guards (not found, locked, ...)
  4. Mutate in memory (charge.go, carryforward.go, guard.go)
  5. UpdatePeriod with the version read in step 3
  6. Commit, or roll back on any error

CONCURRENCY:
  Charge appends and payment links are commutative, so a version
  conflict (ErrConcurrentModification) is retried from a fresh read up to
  MaxRetries times. Scalar updates (notes, due date, lock) are not
  retried: the caller re-fetches and decides.

ERRORS:
  Typed errors from errors.go are returned as-is. Store failures are
  returned wrapped; the service never retries them.
*/
package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultMaxRetries bounds optimistic-concurrency retries for appends.
const DefaultMaxRetries = 3

// Service implements the billing operations on top of a TxStore.
type Service struct {
	store      TxStore
	now        func() time.Time
	maxRetries int
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMaxRetries overrides DefaultMaxRetries.
func WithMaxRetries(n int) Option {
	return func(s *Service) { s.maxRetries = n }
}

// NewService creates a billing service.
func NewService(store TxStore, opts ...Option) *Service {
	s := &Service{
		store:      store,
		now:        func() time.Time { return time.Now().UTC() },
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the underlying store (used by demo scenarios and tests).
func (s *Service) Store() TxStore { return s.store }

// retry re-runs fn while it fails with a retryable error.
func (s *Service) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err = fn(); err == nil || !IsRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}

func linkedPayments(ctx context.Context, st Store, p *Period) ([]PaymentRecord, error) {
	if len(p.LinkedPayments) == 0 {
		return nil, nil
	}
	return st.ListPayments(ctx, p.LinkedPayments)
}

// =============================================================================
// PERIOD CREATION
// =============================================================================

// CreatePeriodInput creates a period from a fee configuration.
type CreatePeriodInput struct {
	Key                PeriodKey
	FeeConfigurationID string
	Actor              string
	Notes              string
	PaymentDueDate     *time.Time
}

func (in CreatePeriodInput) validate() error {
	switch {
	case strings.TrimSpace(in.Key.StudentID) == "":
		return &ValidationError{Field: "student", Message: "is required"}
	case strings.TrimSpace(in.Key.SiteID) == "":
		return &ValidationError{Field: "site", Message: "is required"}
	case strings.TrimSpace(in.Key.AcademicYear) == "":
		return &ValidationError{Field: "academic_year", Message: "is required"}
	case in.Key.AcademicTerm < 1:
		return &ValidationError{Field: "academic_term", Message: "must be at least 1"}
	case strings.TrimSpace(in.FeeConfigurationID) == "":
		return &ValidationError{Field: "fee_configuration_id", Message: "is required"}
	case strings.TrimSpace(in.Actor) == "":
		return &ValidationError{Field: "actor", Message: "must identify the actor"}
	}
	return nil
}

// CreatePeriod bills a student for a term.
// A period for a later term than the student's current one takes over the
// current flag in the same transaction; the old period stays open and its
// balance counts as arrears. A back-filled earlier term is never current.
func (s *Service) CreatePeriod(ctx context.Context, in CreatePeriodInput) (*Period, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var created *Period
	err := s.store.WithTx(ctx, func(st Store) error {
		cfg, err := st.GetFeeConfiguration(ctx, in.FeeConfigurationID)
		if err != nil {
			return err
		}
		if !cfg.IsActive {
			return &ValidationError{Field: "fee_configuration_id", Message: "fee configuration is inactive"}
		}
		if cfg.SiteID != "" && cfg.SiteID != in.Key.SiteID {
			return &ValidationError{Field: "fee_configuration_id", Message: "fee configuration belongs to another site"}
		}

		existing, err := st.FindPeriod(ctx, in.Key)
		if err != nil && !IsNotFound(err) {
			return err
		}
		if existing != nil {
			return &DuplicatePeriodError{Key: in.Key, ExistingID: existing.ID}
		}

		siblings, err := st.ListPeriods(ctx, in.Key.StudentID, in.Key.SiteID)
		if err != nil {
			return err
		}
		var current *Period
		for _, sib := range siblings {
			if sib.IsCurrent {
				current = sib
				break
			}
		}
		isCurrent := current == nil || current.Key().Before(in.Key)

		now := s.now()
		p := &Period{
			ID:                 uuid.NewString(),
			PeriodKey:          in.Key,
			FeeConfigurationID: cfg.ID,
			Currency:           cfg.Currency,
			FeeItems:           append([]FeeItem(nil), cfg.Items...),
			IsCurrent:          isCurrent,
			Notes:              in.Notes,
			PaymentDueDate:     in.PaymentDueDate,
			CreatedBy:          in.Actor,
			LastModifiedBy:     in.Actor,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		ComputeTotals(p, nil).Apply(p)
		details := map[string]any{
			"fee_configuration_id": cfg.ID,
			"base_fees_total":      p.BaseFeesTotal.String(),
		}
		if current != nil && isCurrent {
			details["supersedes_period_id"] = current.ID
		}
		appendAudit(p, AuditEntry{
			Action:      AuditPeriodCreated,
			PerformedBy: in.Actor,
			PerformedAt: now,
			Details:     details,
		})
		if err := st.InsertPeriod(ctx, p); err != nil {
			return err
		}
		if current != nil && isCurrent {
			supersede(current, p.ID, in.Actor, now)
			current.UpdatedAt = now
			if err := st.UpdatePeriod(ctx, current); err != nil {
				return err
			}
		}
		created = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// =============================================================================
// READS
// =============================================================================

// GetPeriod returns a live period.
func (s *Service) GetPeriod(ctx context.Context, id string) (*Period, error) {
	return s.store.GetPeriod(ctx, id)
}

// ListPeriods returns a student's periods at a site, oldest first.
func (s *Service) ListPeriods(ctx context.Context, studentID, siteID string) ([]*Period, error) {
	return s.store.ListPeriods(ctx, studentID, siteID)
}

// AuditTrail returns the filtered audit trail of a period.
func (s *Service) AuditTrail(ctx context.Context, periodID string, f AuditFilter) ([]AuditEntry, error) {
	p, err := s.store.GetPeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}
	return FilterAudit(p.AuditTrail, f), nil
}

// GetBalance recomputes a term's totals and the student's arrears from live data.
//
// A prior period that was carried forward only contributes what it owes
// beyond the arrears item its successor already holds, so a charge or
// payment booked on it after the carry forward still shows up here.
func (s *Service) GetBalance(ctx context.Context, key PeriodKey) (BalanceSummary, error) {
	target, err := s.store.FindPeriod(ctx, key)
	if err != nil {
		return BalanceSummary{}, err
	}
	payments, err := linkedPayments(ctx, s.store, target)
	if err != nil {
		return BalanceSummary{}, err
	}
	targetTotals := ComputeTotals(target, payments)

	all, err := s.store.ListPeriods(ctx, key.StudentID, key.SiteID)
	if err != nil {
		return BalanceSummary{}, err
	}
	byID := make(map[string]*Period, len(all))
	for _, p := range all {
		byID[p.ID] = p
	}
	var prior []*Period
	for _, p := range PriorTo(key, all) {
		pays, err := linkedPayments(ctx, s.store, p)
		if err != nil {
			return BalanceSummary{}, err
		}
		fresh := p.Clone()
		ComputeTotals(fresh, pays).Apply(fresh)
		if p.CarriedForwardTo != "" {
			fresh.CurrentBalance = fresh.CurrentBalance.Sub(arrearsOf(byID[p.CarriedForwardTo]))
		}
		prior = append(prior, fresh)
	}
	return Summarize(target, targetTotals, prior), nil
}

// =============================================================================
// CHARGES
// =============================================================================

// AddCharge appends a charge to a period.
func (s *Service) AddCharge(ctx context.Context, periodID string, in ChargeInput) (*Period, ChargeEntry, error) {
	var (
		updated *Period
		entry   ChargeEntry
	)
	err := s.retry(ctx, func() error {
		return s.store.WithTx(ctx, func(st Store) error {
			p, err := st.GetPeriod(ctx, periodID)
			if err != nil {
				return err
			}
			payments, err := linkedPayments(ctx, st, p)
			if err != nil {
				return err
			}
			now := s.now()
			e, err := appendCharge(p, in, payments, now)
			if err != nil {
				return err
			}
			p.UpdatedAt = now
			if err := st.UpdatePeriod(ctx, p); err != nil {
				return err
			}
			updated, entry = p, e
			return nil
		})
	})
	if err != nil {
		return nil, ChargeEntry{}, err
	}
	return updated, entry, nil
}

// ReverseCharge appends a reversal entry for an existing charge.
func (s *Service) ReverseCharge(ctx context.Context, periodID, chargeID, actor, reason string) (*Period, ChargeEntry, error) {
	var (
		updated *Period
		entry   ChargeEntry
	)
	err := s.retry(ctx, func() error {
		return s.store.WithTx(ctx, func(st Store) error {
			p, err := st.GetPeriod(ctx, periodID)
			if err != nil {
				return err
			}
			payments, err := linkedPayments(ctx, st, p)
			if err != nil {
				return err
			}
			now := s.now()
			e, err := reverseCharge(p, chargeID, actor, reason, payments, now)
			if err != nil {
				return err
			}
			p.UpdatedAt = now
			if err := st.UpdatePeriod(ctx, p); err != nil {
				return err
			}
			updated, entry = p, e
			return nil
		})
	})
	if err != nil {
		return nil, ChargeEntry{}, err
	}
	return updated, entry, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

// PaymentInput records a payment.
type PaymentInput struct {
	StudentID     string
	SiteID        string
	AmountPaid    decimal.Decimal
	Status        PaymentStatus
	DatePaid      time.Time
	AcademicYear  string
	AcademicTerm  int
	ReceiptNumber string
	Method        string
	RecordedBy    string
}

func (in PaymentInput) validate() error {
	switch {
	case strings.TrimSpace(in.StudentID) == "":
		return &ValidationError{Field: "student", Message: "is required"}
	case !in.AmountPaid.IsPositive():
		return &ValidationError{Field: "amount_paid", Message: "must be greater than zero"}
	case in.Status != "" && !in.Status.Valid():
		return &ValidationError{Field: "status", Message: "unknown status " + string(in.Status)}
	case strings.TrimSpace(in.AcademicYear) == "":
		return &ValidationError{Field: "academic_year", Message: "is required"}
	case in.AcademicTerm < 1:
		return &ValidationError{Field: "academic_term", Message: "must be at least 1"}
	case strings.TrimSpace(in.ReceiptNumber) == "":
		return &ValidationError{Field: "receipt_number", Message: "is required"}
	}
	return nil
}

// RecordPayment stores a new payment record. It is not linked to any period yet.
func (s *Service) RecordPayment(ctx context.Context, in PaymentInput) (*PaymentRecord, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := s.now()
	pay := &PaymentRecord{
		ID:            uuid.NewString(),
		StudentID:     in.StudentID,
		SiteID:        in.SiteID,
		AmountPaid:    in.AmountPaid,
		Status:        in.Status,
		DatePaid:      in.DatePaid,
		AcademicYear:  in.AcademicYear,
		AcademicTerm:  in.AcademicTerm,
		ReceiptNumber: strings.TrimSpace(in.ReceiptNumber),
		Method:        in.Method,
		RecordedBy:    in.RecordedBy,
		CreatedAt:     now,
	}
	if pay.Status == "" {
		pay.Status = PaymentPending
	}
	if pay.DatePaid.IsZero() {
		pay.DatePaid = now
	}
	if err := s.store.InsertPayment(ctx, pay); err != nil {
		if errors.Is(err, ErrDuplicateReceipt) {
			return nil, &ValidationError{Field: "receipt_number", Message: "receipt number already used"}
		}
		return nil, err
	}
	return pay, nil
}

// GetPayment returns a payment record.
func (s *Service) GetPayment(ctx context.Context, id string) (*PaymentRecord, error) {
	return s.store.GetPayment(ctx, id)
}

// allowedTransitions lists the payment status changes that make sense.
var allowedTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:   {PaymentConfirmed, PaymentFailed},
	PaymentConfirmed: {PaymentReversed},
}

func canTransition(from, to PaymentStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// UpdatePaymentStatus moves a payment to a new status. When the payment is
// linked to an unlocked period, that period's cached totals are refreshed in
// the same transaction. Locked periods keep their cached totals; reads
// through GetBalance always use live payment data.
func (s *Service) UpdatePaymentStatus(ctx context.Context, paymentID string, status PaymentStatus, actor string) (*PaymentRecord, error) {
	if !status.Valid() {
		return nil, &ValidationError{Field: "status", Message: "unknown status " + string(status)}
	}
	if strings.TrimSpace(actor) == "" {
		return nil, &ValidationError{Field: "actor", Message: "must identify the actor"}
	}

	var updated *PaymentRecord
	err := s.retry(ctx, func() error {
		return s.store.WithTx(ctx, func(st Store) error {
			pay, err := st.GetPayment(ctx, paymentID)
			if err != nil {
				return err
			}
			if pay.Status != status && !canTransition(pay.Status, status) {
				return &ValidationError{
					Field:   "status",
					Message: "cannot move payment from " + string(pay.Status) + " to " + string(status),
				}
			}
			pay.Status = status
			if err := st.UpdatePayment(ctx, pay); err != nil {
				return err
			}
			updated = pay

			if pay.PeriodID == "" {
				return nil
			}
			p, err := st.GetPeriod(ctx, pay.PeriodID)
			if err != nil {
				if IsNotFound(err) {
					return nil
				}
				return err
			}
			if p.IsLocked {
				return nil
			}
			payments, err := linkedPayments(ctx, st, p)
			if err != nil {
				return err
			}
			return s.refreshLocked(ctx, st, p, payments, actor, map[string]any{
				"payment_id": pay.ID,
				"status":     string(status),
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// refreshLocked rewrites cached totals if they drifted. p must be unlocked.
func (s *Service) refreshLocked(ctx context.Context, st Store, p *Period, payments []PaymentRecord, actor string, details map[string]any) error {
	totals := ComputeTotals(p, payments)
	if totals.Matches(p) {
		return nil
	}
	previous := p.CurrentBalance
	totals.Apply(p)
	now := s.now()
	appendAudit(p, AuditEntry{
		Action:        AuditTotalsRefreshed,
		PerformedBy:   actor,
		PerformedAt:   now,
		Details:       details,
		PreviousValue: previous.String(),
		NewValue:      p.CurrentBalance.String(),
	})
	p.LastModifiedBy = actor
	p.UpdatedAt = now
	return st.UpdatePeriod(ctx, p)
}

// RefreshTotals recomputes a period's cached totals from live payments.
func (s *Service) RefreshTotals(ctx context.Context, periodID, actor string) (*Period, error) {
	var updated *Period
	err := s.retry(ctx, func() error {
		return s.store.WithTx(ctx, func(st Store) error {
			p, err := st.GetPeriod(ctx, periodID)
			if err != nil {
				return err
			}
			if p.IsLocked {
				return &LockedError{PeriodID: p.ID}
			}
			payments, err := linkedPayments(ctx, st, p)
			if err != nil {
				return err
			}
			if err := s.refreshLocked(ctx, st, p, payments, actor, nil); err != nil {
				return err
			}
			updated = p
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// LinkPayment attaches a payment to a period and recomputes its totals.
func (s *Service) LinkPayment(ctx context.Context, periodID, paymentID, actor string) (*Period, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, &ValidationError{PeriodID: periodID, Field: "actor", Message: "must identify the actor"}
	}

	var updated *Period
	err := s.retry(ctx, func() error {
		return s.store.WithTx(ctx, func(st Store) error {
			p, err := st.GetPeriod(ctx, periodID)
			if err != nil {
				return err
			}
			pay, err := st.GetPayment(ctx, paymentID)
			if err != nil {
				return err
			}
			if p.IsLocked {
				return &LockedError{PeriodID: p.ID}
			}
			if p.HasLinkedPayment(pay.ID) {
				return &ValidationError{PeriodID: p.ID, Field: "payment_id", Message: "payment already linked to this period"}
			}
			if pay.PeriodID != "" {
				return &ReferentialIntegrityError{PeriodID: p.ID, Reason: "payment " + pay.ID + " is linked to period " + pay.PeriodID}
			}
			if pay.StudentID != p.StudentID {
				return &ValidationError{PeriodID: p.ID, Field: "payment_id", Message: "payment belongs to another student"}
			}
			if pay.SiteID != "" && pay.SiteID != p.SiteID {
				return &ValidationError{PeriodID: p.ID, Field: "payment_id", Message: "payment was recorded at another site"}
			}
			if pay.AcademicYear != p.AcademicYear || pay.AcademicTerm != p.AcademicTerm {
				return &ValidationError{PeriodID: p.ID, Field: "payment_id", Message: "payment academic year/term does not match the period"}
			}

			pay.PeriodID = p.ID
			if err := st.UpdatePayment(ctx, pay); err != nil {
				return err
			}

			previous := p.TotalPaid
			p.LinkedPayments = append(p.LinkedPayments, pay.ID)
			payments, err := linkedPayments(ctx, st, p)
			if err != nil {
				return err
			}
			now := s.now()
			ComputeTotals(p, payments).Apply(p)
			appendAudit(p, AuditEntry{
				Action:      AuditPaymentLinked,
				PerformedBy: actor,
				PerformedAt: now,
				Details: map[string]any{
					"payment_id":     pay.ID,
					"receipt_number": pay.ReceiptNumber,
					"amount_paid":    pay.AmountPaid.String(),
					"status":         string(pay.Status),
				},
				PreviousValue: previous.String(),
				NewValue:      p.TotalPaid.String(),
			})
			p.LastModifiedBy = actor
			p.UpdatedAt = now
			if err := st.UpdatePeriod(ctx, p); err != nil {
				return err
			}
			updated = p
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// LinkResult is the outcome of linking one payment in a batch.
type LinkResult struct {
	PaymentID string
	Err       error
}

// LinkPayments links each payment independently: one failure does not undo
// the links that succeeded. Returns the period as it stands afterwards.
func (s *Service) LinkPayments(ctx context.Context, periodID string, paymentIDs []string, actor string) (*Period, []LinkResult, error) {
	results := make([]LinkResult, 0, len(paymentIDs))
	for _, id := range paymentIDs {
		_, err := s.LinkPayment(ctx, periodID, id, actor)
		results = append(results, LinkResult{PaymentID: id, Err: err})
	}
	p, err := s.store.GetPeriod(ctx, periodID)
	if err != nil {
		return nil, results, err
	}
	return p, results, nil
}

// =============================================================================
// LOCK / DETAILS
// =============================================================================

// SetLock locks or unlocks a period. Both directions are audited.
func (s *Service) SetLock(ctx context.Context, periodID, actor string, lock bool) (*Period, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, &ValidationError{PeriodID: periodID, Field: "actor", Message: "must identify the actor"}
	}
	var updated *Period
	err := s.store.WithTx(ctx, func(st Store) error {
		p, err := st.GetPeriod(ctx, periodID)
		if err != nil {
			return err
		}
		now := s.now()
		setLock(p, actor, lock, now)
		p.UpdatedAt = now
		if err := st.UpdatePeriod(ctx, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DetailsInput updates scalar fields. Nil fields are left alone.
type DetailsInput struct {
	Notes          *string
	PaymentDueDate *time.Time
	ClearDueDate   bool
	Actor          string
	// Version, when non-zero, must match the stored version.
	Version int64
}

// UpdateDetails overwrites notes and due date (last writer wins unless
// Version is supplied). Allowed on locked periods: it touches neither fee
// items, charges nor totals.
func (s *Service) UpdateDetails(ctx context.Context, periodID string, in DetailsInput) (*Period, error) {
	if strings.TrimSpace(in.Actor) == "" {
		return nil, &ValidationError{PeriodID: periodID, Field: "actor", Message: "must identify the actor"}
	}
	var updated *Period
	err := s.store.WithTx(ctx, func(st Store) error {
		p, err := st.GetPeriod(ctx, periodID)
		if err != nil {
			return err
		}
		if in.Version != 0 && in.Version != p.Version {
			return ErrConcurrentModification
		}

		previous := map[string]any{"notes": p.Notes, "payment_due_date": formatDate(p.PaymentDueDate)}
		if in.Notes != nil {
			p.Notes = *in.Notes
		}
		if in.ClearDueDate {
			p.PaymentDueDate = nil
		} else if in.PaymentDueDate != nil {
			d := *in.PaymentDueDate
			p.PaymentDueDate = &d
		}
		now := s.now()
		appendAudit(p, AuditEntry{
			Action:        AuditDetailsUpdated,
			PerformedBy:   in.Actor,
			PerformedAt:   now,
			PreviousValue: previous,
			NewValue:      map[string]any{"notes": p.Notes, "payment_due_date": formatDate(p.PaymentDueDate)},
		})
		p.LastModifiedBy = in.Actor
		p.UpdatedAt = now
		if err := st.UpdatePeriod(ctx, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

// =============================================================================
// CARRY FORWARD
// =============================================================================

// CarryForward opens the next term for a student, moving any unpaid balance
// into it as an arrears fee item. Both records are written in one transaction.
func (s *Service) CarryForward(ctx context.Context, in CarryForwardInput) (*Period, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	var target *Period
	err := s.store.WithTx(ctx, func(st Store) error {
		src, err := st.GetPeriod(ctx, in.SourcePeriodID)
		if err != nil {
			return err
		}
		key := PeriodKey{StudentID: src.StudentID, SiteID: src.SiteID, AcademicYear: in.AcademicYear, AcademicTerm: in.AcademicTerm}
		if err := checkCarryForwardSource(src, key); err != nil {
			return err
		}
		existing, err := st.FindPeriod(ctx, key)
		if err != nil && !IsNotFound(err) {
			return err
		}
		if existing != nil {
			return &DuplicatePeriodError{Key: key, ExistingID: existing.ID}
		}
		cfg, err := st.GetFeeConfiguration(ctx, in.FeeConfigurationID)
		if err != nil {
			return err
		}
		if !cfg.IsActive {
			return &ValidationError{Field: "fee_configuration_id", Message: "fee configuration is inactive"}
		}

		payments, err := linkedPayments(ctx, st, src)
		if err != nil {
			return err
		}
		srcTotals := ComputeTotals(src, payments)
		if !src.IsLocked {
			srcTotals.Apply(src)
		}

		now := s.now()
		next, err := buildCarryForward(src, srcTotals, cfg, in, now)
		if err != nil {
			return err
		}
		if err := st.InsertPeriod(ctx, next); err != nil {
			return err
		}
		src.UpdatedAt = now
		if err := st.UpdatePeriod(ctx, src); err != nil {
			return err
		}
		target = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return target, nil
}

// Rollover carries every current period of a site/term into the next term.
// Each student is processed in its own transaction; failures are reported
// per student and do not stop the rest.
func (s *Service) Rollover(ctx context.Context, in RolloverInput) ([]RolloverResult, error) {
	if strings.TrimSpace(in.SiteID) == "" {
		return nil, &ValidationError{Field: "site", Message: "is required"}
	}
	periods, err := s.store.ListCurrentPeriods(ctx, in.SiteID, in.FromYear, in.FromTerm)
	if err != nil {
		return nil, err
	}

	results := make([]RolloverResult, 0, len(periods))
	for _, p := range periods {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		res := RolloverResult{StudentID: p.StudentID, SourcePeriodID: p.ID}
		target, err := s.CarryForward(ctx, CarryForwardInput{
			SourcePeriodID:     p.ID,
			AcademicYear:       in.ToYear,
			AcademicTerm:       in.ToTerm,
			FeeConfigurationID: in.FeeConfigurationID,
			Actor:              in.Actor,
		})
		if err != nil {
			res.Err = err
		} else {
			res.TargetPeriodID = target.ID
			res.Arrears = arrearsOf(target).String()
		}
		results = append(results, res)
	}
	return results, nil
}

// arrearsOf sums the arrears fee items of p. A nil p holds none.
func arrearsOf(p *Period) decimal.Decimal {
	total := decimal.Zero
	if p == nil {
		return total
	}
	for _, item := range p.FeeItems {
		if item.Category == CategoryArrears {
			total = total.Add(item.Amount)
		}
	}
	return total
}

// =============================================================================
// DELETION
// =============================================================================

// DeletePeriod removes a period if the deletion guard allows it.
// Soft delete is the default; hard removes the row. Deleting the current
// period makes its predecessor current again: the carry-forward source if
// there is one, otherwise the latest earlier period it superseded.
func (s *Service) DeletePeriod(ctx context.Context, periodID, actor string, hard bool) error {
	if strings.TrimSpace(actor) == "" {
		return &ValidationError{PeriodID: periodID, Field: "actor", Message: "must identify the actor"}
	}
	return s.store.WithTx(ctx, func(st Store) error {
		p, err := st.GetPeriod(ctx, periodID)
		if err != nil {
			return err
		}
		successor, err := st.FindSuccessor(ctx, p.ID)
		if err != nil {
			return err
		}
		if err := CanDelete(p, successor != nil); err != nil {
			return err
		}

		now := s.now()
		if p.CarriedForwardFrom != "" {
			pred, err := st.GetPeriod(ctx, p.CarriedForwardFrom)
			switch {
			case err == nil:
				restoreAsCurrent(pred, p.ID, actor, now)
				pred.UpdatedAt = now
				if err := st.UpdatePeriod(ctx, pred); err != nil {
					return err
				}
			case !IsNotFound(err):
				return err
			}
		} else if p.IsCurrent {
			siblings, err := st.ListPeriods(ctx, p.StudentID, p.SiteID)
			if err != nil {
				return err
			}
			if prev := latestOpenBefore(p.Key(), siblings); prev != nil {
				reinstate(prev, p.ID, actor, now)
				prev.UpdatedAt = now
				if err := st.UpdatePeriod(ctx, prev); err != nil {
					return err
				}
			}
		}

		if hard {
			return st.DeletePeriod(ctx, p.ID)
		}
		p.DeletedAt = &now
		p.IsCurrent = false
		p.LastModifiedBy = actor
		p.UpdatedAt = now
		return st.UpdatePeriod(ctx, p)
	})
}

// =============================================================================
// FEE CONFIGURATIONS
// =============================================================================

// FeeConfigurationInput creates a fee configuration.
type FeeConfigurationInput struct {
	SiteID       string
	Name         string
	AcademicYear string
	AcademicTerm int
	Currency     string
	Items        []FeeItem
}

func (in FeeConfigurationInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return &ValidationError{Field: "name", Message: "is required"}
	}
	if len(in.Items) == 0 {
		return &ValidationError{Field: "items", Message: "at least one fee item is required"}
	}
	for _, item := range in.Items {
		if strings.TrimSpace(item.Description) == "" {
			return &ValidationError{Field: "items.description", Message: "must not be empty"}
		}
		if !item.Amount.IsPositive() {
			return &ValidationError{Field: "items.amount", Message: "must be greater than zero"}
		}
		if item.Category != "" && !item.Category.IsUserCategory() {
			return &ValidationError{Field: "items.category", Message: "unknown category " + string(item.Category)}
		}
	}
	return nil
}

// CreateFeeConfiguration stores a new active configuration.
func (s *Service) CreateFeeConfiguration(ctx context.Context, in FeeConfigurationInput) (*FeeConfiguration, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	fc := &FeeConfiguration{
		ID:           uuid.NewString(),
		SiteID:       in.SiteID,
		Name:         strings.TrimSpace(in.Name),
		AcademicYear: in.AcademicYear,
		AcademicTerm: in.AcademicTerm,
		Currency:     strings.ToUpper(strings.TrimSpace(in.Currency)),
		IsActive:     true,
		CreatedAt:    s.now(),
	}
	if fc.Currency == "" {
		fc.Currency = DefaultCurrency
	}
	for _, item := range in.Items {
		if item.Category == "" {
			item.Category = CategoryTuition
		}
		fc.Items = append(fc.Items, item)
	}
	if err := s.store.InsertFeeConfiguration(ctx, fc); err != nil {
		return nil, err
	}
	return fc, nil
}

// GetFeeConfiguration returns a configuration.
func (s *Service) GetFeeConfiguration(ctx context.Context, id string) (*FeeConfiguration, error) {
	return s.store.GetFeeConfiguration(ctx, id)
}

// ListFeeConfigurations returns configurations for a site.
func (s *Service) ListFeeConfigurations(ctx context.Context, siteID string) ([]FeeConfiguration, error) {
	return s.store.ListFeeConfigurations(ctx, siteID)
}
