/*
store.go - Persistence interface for billing periods and their collaborators

PURPOSE:
  Defines the boundary between billing logic and the database. The service
  only talks to these interfaces; implementations live in billing/store
  (in-memory) and store/sqlite (SQL via sqlx).

KEY INTERFACES:
  Store:   periods, payments and fee configurations
  TxStore: Store + WithTx for all-or-nothing multi-record writes

OPTIMISTIC CONCURRENCY:
  UpdatePeriod is a compare-and-swap on Version:
    - p.Version must equal the stored version, otherwise
      ErrConcurrentModification is returned and nothing is written
    - on success the stored version becomes p.Version+1 and p.Version
      is advanced to match
  InsertPeriod starts every period at Version 1.

UNIQUENESS:
  Only one live (not soft-deleted) period may exist per PeriodKey.
  InsertPeriod returns *DuplicatePeriodError when the key is taken.
  Payment receipt numbers are unique; InsertPayment returns
  ErrDuplicateReceipt on collision.

VISIBILITY:
  GetPeriod, FindPeriod and the List* methods never return soft-deleted
  periods.
*/
package billing

import (
	"context"
	"errors"
)

// ErrDuplicateReceipt is returned by stores when a receipt number is reused.
var ErrDuplicateReceipt = errors.New("duplicate receipt number")

// =============================================================================
// STORE
// =============================================================================

// Store handles persistence for the billing engine.
type Store interface {
	PeriodStore
	PaymentStore
	FeeConfigurationStore
}

// PeriodStore persists billing periods.
type PeriodStore interface {
	// InsertPeriod persists a new period and sets p.Version to 1.
	InsertPeriod(ctx context.Context, p *Period) error

	// UpdatePeriod overwrites the stored period if p.Version is current.
	UpdatePeriod(ctx context.Context, p *Period) error

	// GetPeriod returns a live period by id, or *NotFoundError.
	GetPeriod(ctx context.Context, id string) (*Period, error)

	// FindPeriod returns the live period for key, or *NotFoundError.
	FindPeriod(ctx context.Context, key PeriodKey) (*Period, error)

	// ListPeriods returns a student's live periods at a site in key order.
	ListPeriods(ctx context.Context, studentID, siteID string) ([]*Period, error)

	// ListCurrentPeriods returns live current periods at a site for one term.
	ListCurrentPeriods(ctx context.Context, siteID, academicYear string, academicTerm int) ([]*Period, error)

	// FindSuccessor returns the live period carried forward from periodID, or nil.
	FindSuccessor(ctx context.Context, periodID string) (*Period, error)

	// DeletePeriod physically removes a period.
	DeletePeriod(ctx context.Context, id string) error
}

// PaymentStore persists payment records.
type PaymentStore interface {
	InsertPayment(ctx context.Context, pay *PaymentRecord) error
	UpdatePayment(ctx context.Context, pay *PaymentRecord) error
	GetPayment(ctx context.Context, id string) (*PaymentRecord, error)

	// ListPayments returns the payments with the given ids; unknown ids are skipped.
	ListPayments(ctx context.Context, ids []string) ([]PaymentRecord, error)
}

// FeeConfigurationStore persists fee configurations.
type FeeConfigurationStore interface {
	InsertFeeConfiguration(ctx context.Context, fc *FeeConfiguration) error
	GetFeeConfiguration(ctx context.Context, id string) (*FeeConfiguration, error)

	// ListFeeConfigurations returns configurations for a site; empty siteID lists all.
	ListFeeConfigurations(ctx context.Context, siteID string) ([]FeeConfiguration, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the given Store is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
