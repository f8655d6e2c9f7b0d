/*
errors.go - Centralized error types for the billing engine

ERROR CATEGORIES:
  1. Lookup errors     - NotFoundError (period, payment, fee configuration)
  2. Input errors      - ValidationError (bad amount, empty particulars, ...)
  3. State errors      - LockedError, DuplicatePeriodError, ReferentialIntegrityError
  4. Concurrency       - ErrConcurrentModification (stale Version on update)

Every structured error unwraps to a sentinel, so callers can branch with
errors.Is and still read the context with errors.As:

    var locked *billing.LockedError
    if errors.As(err, &locked) {
        log.Printf("period %s is locked", locked.PeriodID)
    }

Anything else coming out of the service is an infrastructure failure
(connectivity, disk). The service does not retry those.
*/
package billing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound               = errors.New("not found")
	ErrValidation             = errors.New("validation failed")
	ErrLocked                 = errors.New("billing period is locked")
	ErrDuplicatePeriod        = errors.New("billing period already exists")
	ErrReferentialIntegrity   = errors.New("referential integrity violation")
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names what was looked up.
type NotFoundError struct {
	Kind string // "period", "payment", "fee_configuration", "charge"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ValidationError points at the offending field.
type ValidationError struct {
	PeriodID string
	Field    string
	Message  string
}

func (e *ValidationError) Error() string {
	if e.PeriodID != "" {
		return fmt.Sprintf("period %s: %s: %s", e.PeriodID, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// LockedError is returned for any ledger mutation on a locked period.
type LockedError struct {
	PeriodID string
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("billing period %s is locked", e.PeriodID)
}

func (e *LockedError) Unwrap() error { return ErrLocked }

// DuplicatePeriodError is returned when create or carry-forward targets an occupied key.
type DuplicatePeriodError struct {
	Key        PeriodKey
	ExistingID string
}

func (e *DuplicatePeriodError) Error() string {
	return fmt.Sprintf("billing period already exists for %s (id: %s)", e.Key, e.ExistingID)
}

func (e *DuplicatePeriodError) Unwrap() error { return ErrDuplicatePeriod }

// ReferentialIntegrityError explains why a delete or link was refused.
type ReferentialIntegrityError struct {
	PeriodID string
	Reason   string
}

func (e *ReferentialIntegrityError) Error() string {
	return fmt.Sprintf("billing period %s: %s", e.PeriodID, e.Reason)
}

func (e *ReferentialIntegrityError) Unwrap() error { return ErrReferentialIntegrity }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on a fresh read.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the caller's input or the period's state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrLocked) ||
		errors.Is(err, ErrDuplicatePeriod) ||
		errors.Is(err, ErrReferentialIntegrity)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// PeriodNotFound, PaymentNotFound and ConfigNotFound build the lookup errors stores return.
func PeriodNotFound(id string) error  { return &NotFoundError{Kind: "period", ID: id} }
func PaymentNotFound(id string) error { return &NotFoundError{Kind: "payment", ID: id} }
func ConfigNotFound(id string) error  { return &NotFoundError{Kind: "fee_configuration", ID: id} }
