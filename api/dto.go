/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the billing domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Periods:
    PeriodDTO, CreatePeriodRequest, UpdateDetailsRequest, LockRequest
  Ledger:
    AddChargeRequest, ReverseChargeRequest, ChargeResponse
  Payments:
    PaymentDTO, RecordPaymentRequest, PaymentStatusRequest,
    LinkPaymentsRequest, LinkPaymentsResponse
  Carry forward:
    CarryForwardRequest, RolloverRequest, RolloverResultDTO
  Balance:
    BalanceDTO

VALIDATION:
  Struct tags are checked by validator/v10 before the service is called.
  Tags cover shape (required, numeric, dates). Business rules such as
  "amount must be positive" stay in the billing package.

MONEY:
  Amounts travel as decimal strings ("450000.00") in both directions.

SEE ALSO:
  - handlers.go: Uses these types
  - validation.go: decode + validate
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/fee-ledger/billing"
)

// dateLayout is the wire format of calendar dates.
const dateLayout = "2006-01-02"

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreatePeriodRequest bills a student for a term.
type CreatePeriodRequest struct {
	StudentID          string `json:"student_id" validate:"required"`
	SiteID             string `json:"site_id" validate:"required"`
	AcademicYear       string `json:"academic_year" validate:"required"`
	AcademicTerm       int    `json:"academic_term" validate:"required,min=1"`
	FeeConfigurationID string `json:"fee_configuration_id" validate:"required"`
	Notes              string `json:"notes"`
	PaymentDueDate     string `json:"payment_due_date" validate:"omitempty,datetime=2006-01-02"`
	Actor              string `json:"actor"`
}

// AddChargeRequest appends a charge.
type AddChargeRequest struct {
	Particulars string `json:"particulars" validate:"required"`
	Amount      string `json:"amount" validate:"required,numeric"`
	Category    string `json:"category" validate:"required"`
	ChargedDate string `json:"charged_date" validate:"omitempty,datetime=2006-01-02"`
	Reference   string `json:"reference" validate:"max=100"`
	Notes       string `json:"notes" validate:"max=500"`
	AddedBy     string `json:"added_by"`
}

// ReverseChargeRequest reverses a charge.
type ReverseChargeRequest struct {
	Reason string `json:"reason" validate:"required"`
	Actor  string `json:"actor"`
}

// LinkPaymentsRequest links one or more payments to a period.
type LinkPaymentsRequest struct {
	PaymentIDs []string `json:"payment_ids" validate:"required,min=1,dive,required"`
	Actor      string   `json:"actor"`
}

// CarryForwardRequest names the target term of a carry forward.
type CarryForwardRequest struct {
	AcademicYear       string `json:"academic_year" validate:"required"`
	AcademicTerm       int    `json:"academic_term" validate:"required,min=1"`
	FeeConfigurationID string `json:"fee_configuration_id" validate:"required"`
	Actor              string `json:"actor"`
}

// LockRequest locks (true) or unlocks (false) a period.
type LockRequest struct {
	Locked *bool  `json:"locked" validate:"required"`
	Actor  string `json:"actor"`
}

// UpdateDetailsRequest patches notes and the due date.
type UpdateDetailsRequest struct {
	Notes          *string `json:"notes" validate:"omitempty,max=2000"`
	PaymentDueDate *string `json:"payment_due_date" validate:"omitempty,datetime=2006-01-02"`
	ClearDueDate   bool    `json:"clear_due_date"`
	Version        int64   `json:"version" validate:"min=0"`
	Actor          string  `json:"actor"`
}

// FeeItemRequest is one line of a fee configuration.
type FeeItemRequest struct {
	Description string `json:"description" validate:"required"`
	Category    string `json:"category"`
	Amount      string `json:"amount" validate:"required,numeric"`
}

// CreateFeeConfigurationRequest defines a fee template.
type CreateFeeConfigurationRequest struct {
	SiteID       string           `json:"site_id" validate:"required"`
	Name         string           `json:"name" validate:"required"`
	AcademicYear string           `json:"academic_year" validate:"required"`
	AcademicTerm int              `json:"academic_term" validate:"required,min=1"`
	Currency     string           `json:"currency" validate:"omitempty,len=3,alpha"`
	Items        []FeeItemRequest `json:"items" validate:"required,min=1,dive"`
}

// RecordPaymentRequest records a payment received from a student.
type RecordPaymentRequest struct {
	StudentID     string `json:"student_id" validate:"required"`
	SiteID        string `json:"site_id" validate:"required"`
	AmountPaid    string `json:"amount_paid" validate:"required,numeric"`
	Status        string `json:"status" validate:"omitempty,oneof=pending confirmed failed reversed"`
	DatePaid      string `json:"date_paid" validate:"omitempty,datetime=2006-01-02"`
	AcademicYear  string `json:"academic_year" validate:"required"`
	AcademicTerm  int    `json:"academic_term" validate:"required,min=1"`
	ReceiptNumber string `json:"receipt_number" validate:"required"`
	Method        string `json:"method"`
	RecordedBy    string `json:"recorded_by"`
}

// PaymentStatusRequest moves a payment to a new status.
type PaymentStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending confirmed failed reversed"`
	Actor  string `json:"actor"`
}

// RolloverRequest carries a whole site into the next term.
type RolloverRequest struct {
	SiteID             string `json:"site_id" validate:"required"`
	FromYear           string `json:"from_year" validate:"required"`
	FromTerm           int    `json:"from_term" validate:"required,min=1"`
	ToYear             string `json:"to_year" validate:"required"`
	ToTerm             int    `json:"to_term" validate:"required,min=1"`
	FeeConfigurationID string `json:"fee_configuration_id" validate:"required"`
	Actor              string `json:"actor"`
}

// LoadScenarioRequest selects a demo scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// PeriodDTO represents a billing period in API responses.
type PeriodDTO struct {
	ID                 string                `json:"id"`
	StudentID          string                `json:"student_id"`
	SiteID             string                `json:"site_id"`
	AcademicYear       string                `json:"academic_year"`
	AcademicTerm       int                   `json:"academic_term"`
	FeeConfigurationID string                `json:"fee_configuration_id"`
	Currency           string                `json:"currency"`
	FeeItems           []billing.FeeItem     `json:"fee_items"`
	BaseFeesTotal      decimal.Decimal       `json:"base_fees_total"`
	AdditionalCharges  []billing.ChargeEntry `json:"additional_charges"`
	AddedChargesTotal  decimal.Decimal       `json:"added_charges_total"`
	LinkedPayments     []string              `json:"linked_payments"`
	TotalPaid          decimal.Decimal       `json:"total_paid"`
	CurrentBalance     decimal.Decimal       `json:"current_balance"`
	DisplayBalance     decimal.Decimal       `json:"display_balance"`
	CarriedForwardFrom string                `json:"carried_forward_from,omitempty"`
	CarriedForwardTo   string                `json:"carried_forward_to,omitempty"`
	IsCurrent          bool                  `json:"is_current"`
	IsLocked           bool                  `json:"is_locked"`
	Notes              string                `json:"notes,omitempty"`
	PaymentDueDate     string                `json:"payment_due_date,omitempty"`
	CreatedBy          string                `json:"created_by"`
	LastModifiedBy     string                `json:"last_modified_by"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
	Version            int64                 `json:"version"`
}

// ChargeResponse returns the new entry and the period it landed on.
type ChargeResponse struct {
	Charge billing.ChargeEntry `json:"charge"`
	Period PeriodDTO           `json:"period"`
}

// PaymentDTO represents a payment record.
type PaymentDTO struct {
	ID            string          `json:"id"`
	StudentID     string          `json:"student_id"`
	SiteID        string          `json:"site_id"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	Status        string          `json:"status"`
	DatePaid      string          `json:"date_paid"`
	AcademicYear  string          `json:"academic_year"`
	AcademicTerm  int             `json:"academic_term"`
	ReceiptNumber string          `json:"receipt_number"`
	Method        string          `json:"method,omitempty"`
	RecordedBy    string          `json:"recorded_by,omitempty"`
	PeriodID      string          `json:"period_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// LinkResultDTO is the outcome for one payment of a batch link.
type LinkResultDTO struct {
	PaymentID string `json:"payment_id"`
	Linked    bool   `json:"linked"`
	Error     string `json:"error,omitempty"`
	Status    int    `json:"status"`
}

// LinkPaymentsResponse reports each link and the resulting period.
type LinkPaymentsResponse struct {
	Results []LinkResultDTO `json:"results"`
	Period  PeriodDTO       `json:"period"`
}

// FeeConfigurationDTO represents a fee template.
type FeeConfigurationDTO struct {
	ID           string            `json:"id"`
	SiteID       string            `json:"site_id"`
	Name         string            `json:"name"`
	AcademicYear string            `json:"academic_year"`
	AcademicTerm int               `json:"academic_term"`
	Currency     string            `json:"currency"`
	Items        []billing.FeeItem `json:"items"`
	Total        decimal.Decimal   `json:"total"`
	IsActive     bool              `json:"is_active"`
	CreatedAt    time.Time         `json:"created_at"`
}

// BalanceDTO is a student's outstanding position for one term.
type BalanceDTO struct {
	PeriodID          string          `json:"period_id"`
	StudentID         string          `json:"student_id"`
	SiteID            string          `json:"site_id"`
	AcademicYear      string          `json:"academic_year"`
	AcademicTerm      int             `json:"academic_term"`
	BaseFeesTotal     decimal.Decimal `json:"base_fees_total"`
	AddedChargesTotal decimal.Decimal `json:"added_charges_total"`
	TotalPaid         decimal.Decimal `json:"total_paid"`
	CurrentBalance    decimal.Decimal `json:"current_balance"`
	PreviousArrears   decimal.Decimal `json:"previous_arrears"`
	TotalOutstanding  decimal.Decimal `json:"total_outstanding"`
	Currency          string          `json:"currency"`
}

// RolloverResultDTO is the outcome for one student of a rollover.
type RolloverResultDTO struct {
	StudentID      string `json:"student_id"`
	SourcePeriodID string `json:"source_period_id"`
	TargetPeriodID string `json:"target_period_id,omitempty"`
	Arrears        string `json:"arrears,omitempty"`
	Error          string `json:"error,omitempty"`
}

// RolloverResponse summarizes a rollover run.
type RolloverResponse struct {
	Processed int                 `json:"processed"`
	Failed    int                 `json:"failed"`
	Results   []RolloverResultDTO `json:"results"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toPeriodDTO(p *billing.Period) PeriodDTO {
	dto := PeriodDTO{
		ID:                 p.ID,
		StudentID:          p.StudentID,
		SiteID:             p.SiteID,
		AcademicYear:       p.AcademicYear,
		AcademicTerm:       p.AcademicTerm,
		FeeConfigurationID: p.FeeConfigurationID,
		Currency:           p.Currency,
		FeeItems:           nonNil(p.FeeItems),
		BaseFeesTotal:      p.BaseFeesTotal,
		AdditionalCharges:  nonNil(p.AdditionalCharges),
		AddedChargesTotal:  p.AddedChargesTotal,
		LinkedPayments:     nonNil(p.LinkedPayments),
		TotalPaid:          p.TotalPaid,
		CurrentBalance:     p.CurrentBalance,
		DisplayBalance:     p.DisplayBalance(),
		CarriedForwardFrom: p.CarriedForwardFrom,
		CarriedForwardTo:   p.CarriedForwardTo,
		IsCurrent:          p.IsCurrent,
		IsLocked:           p.IsLocked,
		Notes:              p.Notes,
		CreatedBy:          p.CreatedBy,
		LastModifiedBy:     p.LastModifiedBy,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
		Version:            p.Version,
	}
	if p.PaymentDueDate != nil {
		dto.PaymentDueDate = p.PaymentDueDate.Format(dateLayout)
	}
	return dto
}

func toPeriodDTOs(periods []*billing.Period) []PeriodDTO {
	out := make([]PeriodDTO, 0, len(periods))
	for _, p := range periods {
		out = append(out, toPeriodDTO(p))
	}
	return out
}

func toPaymentDTO(pay *billing.PaymentRecord) PaymentDTO {
	return PaymentDTO{
		ID:            pay.ID,
		StudentID:     pay.StudentID,
		SiteID:        pay.SiteID,
		AmountPaid:    pay.AmountPaid,
		Status:        string(pay.Status),
		DatePaid:      pay.DatePaid.Format(dateLayout),
		AcademicYear:  pay.AcademicYear,
		AcademicTerm:  pay.AcademicTerm,
		ReceiptNumber: pay.ReceiptNumber,
		Method:        pay.Method,
		RecordedBy:    pay.RecordedBy,
		PeriodID:      pay.PeriodID,
		CreatedAt:     pay.CreatedAt,
	}
}

func toFeeConfigurationDTO(fc *billing.FeeConfiguration) FeeConfigurationDTO {
	return FeeConfigurationDTO{
		ID:           fc.ID,
		SiteID:       fc.SiteID,
		Name:         fc.Name,
		AcademicYear: fc.AcademicYear,
		AcademicTerm: fc.AcademicTerm,
		Currency:     fc.Currency,
		Items:        nonNil(fc.Items),
		Total:        fc.Total(),
		IsActive:     fc.IsActive,
		CreatedAt:    fc.CreatedAt,
	}
}

func toBalanceDTO(b billing.BalanceSummary) BalanceDTO {
	return BalanceDTO{
		PeriodID:          b.PeriodID,
		StudentID:         b.Key.StudentID,
		SiteID:            b.Key.SiteID,
		AcademicYear:      b.Key.AcademicYear,
		AcademicTerm:      b.Key.AcademicTerm,
		BaseFeesTotal:     b.BaseFeesTotal,
		AddedChargesTotal: b.AddedChargesTotal,
		TotalPaid:         b.TotalPaid,
		CurrentBalance:    b.CurrentBalance,
		PreviousArrears:   b.PreviousArrears,
		TotalOutstanding:  b.TotalOutstanding,
		Currency:          b.Currency,
	}
}

// nonNil keeps empty collections as [] rather than null on the wire.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// parseDate parses an optional calendar date. Empty input yields nil.
func parseDate(field, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, &billing.ValidationError{Field: field, Message: "must be a date (YYYY-MM-DD)"}
	}
	return &t, nil
}

// parseAmount parses a decimal string.
func parseAmount(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &billing.ValidationError{Field: field, Message: "must be a decimal amount"}
	}
	return d, nil
}
