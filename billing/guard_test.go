package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// DELETION GUARD
// =============================================================================

func TestCanDelete(t *testing.T) {
	free := testPeriod("2025", 1)
	assert.NoError(t, CanDelete(free, false))

	locked := testPeriod("2025", 1)
	locked.IsLocked = true
	assert.ErrorIs(t, CanDelete(locked, false), ErrLocked)

	paid := testPeriod("2025", 1)
	paid.LinkedPayments = []string{"a"}
	assert.ErrorIs(t, CanDelete(paid, false), ErrReferentialIntegrity)

	source := testPeriod("2025", 1)
	assert.ErrorIs(t, CanDelete(source, true), ErrReferentialIntegrity)

	source.CarriedForwardTo = "next"
	assert.ErrorIs(t, CanDelete(source, false), ErrReferentialIntegrity)
}
