/*
Package billing provides the student billing ledger engine.

PURPOSE:
  Keeps one Billing Period per (student, site, academic year, academic term).
  A period is built from a fee configuration snapshot, grows through appended
  charges, is settled by linked payments, and can be carried forward into the
  next term with its unpaid balance re-billed as arrears.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal amount, always paired with the period's currency
  - PeriodKey: composite identity (student, site, year, term), totally ordered
  - Period: the aggregate root, with cached totals and an audit trail
  - ChargeEntry: one appended charge (never edited, never removed)
  - PaymentRecord: externally owned payment, linked by id
  - FeeConfiguration: source of fee item snapshots

DESIGN PRINCIPLES:
  1. Cached totals are never the source of truth: they are recomputed from
     fee items, charges and confirmed payments (see balance.go)
  2. Append-only ledgers: AdditionalCharges and AuditTrail only grow
  3. Precision: amounts use decimal.Decimal, never float64
  4. Every mutation bumps Version so stores can reject stale writes

SEE ALSO:
  - balance.go: ComputeTotals / ComputeArrears
  - charge.go: charge validation and append
  - carryforward.go: term-to-term linking
  - service.go: transactional orchestration
*/
package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// DefaultCurrency is used when a fee configuration does not name one.
const DefaultCurrency = "UGX"

// MustParseAmount parses a decimal string, panicking on malformed input.
// Intended for constants in tests and demo scenarios.
func MustParseAmount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// NonNegative floors an amount at zero.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// PERIOD KEY - (student, site, academic year, academic term)
// =============================================================================

// PeriodKey is the composite identity of a billing period.
type PeriodKey struct {
	StudentID    string
	SiteID       string
	AcademicYear string // e.g. "2025/2026"
	AcademicTerm int    // 1-based
}

// Before orders keys by academic year, then academic term.
// Student and site are not compared: ordering is only meaningful within one
// student's chain at one site.
func (k PeriodKey) Before(other PeriodKey) bool {
	if k.AcademicYear != other.AcademicYear {
		return k.AcademicYear < other.AcademicYear
	}
	return k.AcademicTerm < other.AcademicTerm
}

// SameOwner reports whether both keys belong to the same student at the same site.
func (k PeriodKey) SameOwner(other PeriodKey) bool {
	return k.StudentID == other.StudentID && k.SiteID == other.SiteID
}

func (k PeriodKey) String() string {
	return fmt.Sprintf("%s@%s %s T%d", k.StudentID, k.SiteID, k.AcademicYear, k.AcademicTerm)
}

// =============================================================================
// FEE ITEMS & CONFIGURATION
// =============================================================================

// FeeItem is one line of base fees, snapshotted at period creation.
type FeeItem struct {
	Description string          `json:"description"`
	Category    ChargeCategory  `json:"category"`
	Amount      decimal.Decimal `json:"amount"`
}

// FeeConfiguration is the template a period's fee items are copied from.
type FeeConfiguration struct {
	ID           string
	SiteID       string
	Name         string
	AcademicYear string
	AcademicTerm int
	Currency     string
	Items        []FeeItem
	IsActive     bool
	CreatedAt    time.Time
}

// Total sums the configuration's items.
func (fc FeeConfiguration) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range fc.Items {
		total = total.Add(item.Amount)
	}
	return total
}

// =============================================================================
// CHARGE LEDGER ENTRY
// =============================================================================

type ChargeCategory string

const (
	CategoryTuition   ChargeCategory = "tuition"
	CategoryTransport ChargeCategory = "transport"
	CategoryMaterials ChargeCategory = "materials"
	CategoryUniform   ChargeCategory = "uniform"
	CategoryMeals     ChargeCategory = "meals"
	CategoryActivity  ChargeCategory = "activity"
	CategoryExam      ChargeCategory = "exam"
	CategoryLibrary   ChargeCategory = "library"
	CategoryArrears   ChargeCategory = "arrears" // Unpaid balance brought forward
	CategoryOther     ChargeCategory = "other"

	// CategoryReversal is system-assigned; callers cannot submit it.
	CategoryReversal ChargeCategory = "reversal"
)

var userCategories = map[ChargeCategory]bool{
	CategoryTuition:   true,
	CategoryTransport: true,
	CategoryMaterials: true,
	CategoryUniform:   true,
	CategoryMeals:     true,
	CategoryActivity:  true,
	CategoryExam:      true,
	CategoryLibrary:   true,
	CategoryArrears:   true,
	CategoryOther:     true,
}

// IsUserCategory reports whether callers may submit charges of this category.
func (c ChargeCategory) IsUserCategory() bool { return userCategories[c] }

// ChargeEntry is one additional charge on a period.
// Entries are appended, never edited or removed. A correction is a new
// reversal entry whose Amount is the negated original.
type ChargeEntry struct {
	ID          string          `json:"id"`
	ChargedDate time.Time       `json:"charged_date"`
	Category    ChargeCategory  `json:"category"`
	Particulars string          `json:"particulars"`
	Amount      decimal.Decimal `json:"amount"`
	AddedBy     string          `json:"added_by"`
	Reference   string          `json:"reference,omitempty"`
	Notes       string          `json:"notes,omitempty"`
	Reverses    string          `json:"reverses,omitempty"` // ID of the entry this one reverses
}

// =============================================================================
// PAYMENT RECORD (external collaborator)
// =============================================================================

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentReversed  PaymentStatus = "reversed"
)

// Valid reports whether s is a known status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentConfirmed, PaymentFailed, PaymentReversed:
		return true
	}
	return false
}

// PaymentRecord is a payment against a billing period.
type PaymentRecord struct {
	ID            string
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
	PeriodID      string // Set once linked
	CreatedAt     time.Time
}

// =============================================================================
// AUDIT TRAIL
// =============================================================================

type AuditAction string

const (
	AuditPeriodCreated        AuditAction = "period_created"
	AuditChargeAdded          AuditAction = "charge_added"
	AuditChargeReversed       AuditAction = "charge_reversed"
	AuditPaymentLinked        AuditAction = "payment_linked"
	AuditTotalsRefreshed      AuditAction = "totals_refreshed"
	AuditLocked               AuditAction = "locked"
	AuditUnlocked             AuditAction = "unlocked"
	AuditCarriedForward       AuditAction = "carried_forward"
	AuditCarriedForwardFrom   AuditAction = "carried_forward_from"
	AuditCarryForwardUnlinked AuditAction = "carry_forward_unlinked"
	AuditDetailsUpdated       AuditAction = "details_updated"
	AuditSuperseded           AuditAction = "superseded"
	AuditReinstated           AuditAction = "reinstated"
)

// AuditEntry is an immutable record of one mutating action.
type AuditEntry struct {
	ID            string         `json:"id"`
	Action        AuditAction    `json:"action"`
	PerformedBy   string         `json:"performed_by"`
	PerformedAt   time.Time      `json:"performed_at"`
	Details       map[string]any `json:"details,omitempty"`
	PreviousValue any            `json:"previous_value,omitempty"`
	NewValue      any            `json:"new_value,omitempty"`
}

// =============================================================================
// BILLING PERIOD - aggregate root
// =============================================================================

// Period is one student's bill for one academic term at one site.
type Period struct {
	ID string
	PeriodKey

	FeeConfigurationID string
	Currency           string

	FeeItems          []FeeItem
	BaseFeesTotal     decimal.Decimal
	AdditionalCharges []ChargeEntry
	AddedChargesTotal decimal.Decimal

	LinkedPayments []string
	TotalPaid      decimal.Decimal

	// Signed: negative means credit. Use DisplayBalance for presentation.
	CurrentBalance decimal.Decimal

	CarriedForwardFrom string
	CarriedForwardTo   string

	IsCurrent bool
	IsLocked  bool

	Notes          string
	PaymentDueDate *time.Time

	AuditTrail     []AuditEntry
	CreatedBy      string
	LastModifiedBy string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time

	// Incremented on every write; stores reject updates carrying a stale value.
	Version int64
}

// Key returns the period's composite identity.
func (p *Period) Key() PeriodKey { return p.PeriodKey }

// DisplayBalance is CurrentBalance floored at zero.
func (p *Period) DisplayBalance() decimal.Decimal { return NonNegative(p.CurrentBalance) }

// IsDeleted reports whether the period was soft-deleted.
func (p *Period) IsDeleted() bool { return p.DeletedAt != nil }

// HasLinkedPayment reports whether paymentID is already linked.
func (p *Period) HasLinkedPayment(paymentID string) bool {
	for _, id := range p.LinkedPayments {
		if id == paymentID {
			return true
		}
	}
	return false
}

// FindCharge returns the charge with the given id.
func (p *Period) FindCharge(chargeID string) (ChargeEntry, bool) {
	for _, c := range p.AdditionalCharges {
		if c.ID == chargeID {
			return c, true
		}
	}
	return ChargeEntry{}, false
}

// IsChargeReversed reports whether a reversal entry exists for chargeID.
func (p *Period) IsChargeReversed(chargeID string) bool {
	for _, c := range p.AdditionalCharges {
		if c.Reverses == chargeID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so stores and callers never share slices.
func (p *Period) Clone() *Period {
	if p == nil {
		return nil
	}
	cp := *p
	cp.FeeItems = append([]FeeItem(nil), p.FeeItems...)
	cp.AdditionalCharges = append([]ChargeEntry(nil), p.AdditionalCharges...)
	cp.LinkedPayments = append([]string(nil), p.LinkedPayments...)
	cp.AuditTrail = append([]AuditEntry(nil), p.AuditTrail...)
	if p.PaymentDueDate != nil {
		d := *p.PaymentDueDate
		cp.PaymentDueDate = &d
	}
	if p.DeletedAt != nil {
		d := *p.DeletedAt
		cp.DeletedAt = &d
	}
	return &cp
}
