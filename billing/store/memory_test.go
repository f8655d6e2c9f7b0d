package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fee-ledger/billing"
)

func period(id string, term int) *billing.Period {
	return &billing.Period{
		ID: id,
		PeriodKey: billing.PeriodKey{
			StudentID: "stu-1", SiteID: "site-1", AcademicYear: "2025", AcademicTerm: term,
		},
		Currency:  "UGX",
		IsCurrent: true,
		FeeItems: []billing.FeeItem{
			{Description: "Tuition", Category: billing.CategoryTuition, Amount: billing.MustParseAmount("100")},
		},
	}
}

func TestMemory_UpdateIsCompareAndSwap(t *testing.T) {
	// GIVEN: A stored period and two readers of version 1
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.InsertPeriod(ctx, period("p1", 1)))

	first, err := m.GetPeriod(ctx, "p1")
	require.NoError(t, err)
	second, err := m.GetPeriod(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Version)

	// WHEN: Both write
	first.Notes = "first"
	require.NoError(t, m.UpdatePeriod(ctx, first))
	second.Notes = "second"
	err = m.UpdatePeriod(ctx, second)

	// THEN: The stale writer loses
	assert.ErrorIs(t, err, billing.ErrConcurrentModification)
	stored, _ := m.GetPeriod(ctx, "p1")
	assert.Equal(t, "first", stored.Notes)
	assert.Equal(t, int64(2), stored.Version)
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.InsertPeriod(ctx, period("p1", 1)))

	got, _ := m.GetPeriod(ctx, "p1")
	got.FeeItems[0].Description = "mutated"
	got.LinkedPayments = append(got.LinkedPayments, "pay-x")

	again, _ := m.GetPeriod(ctx, "p1")
	assert.Equal(t, "Tuition", again.FeeItems[0].Description)
	assert.Empty(t, again.LinkedPayments)
}

func TestMemory_LiveKeyUniqueness(t *testing.T) {
	// GIVEN: A live period for term 1
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.InsertPeriod(ctx, period("p1", 1)))

	// THEN: A second period for the same key is rejected
	err := m.InsertPeriod(ctx, period("p2", 1))
	var dup *billing.DuplicatePeriodError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "p1", dup.ExistingID)

	// WHEN: The first is soft-deleted
	p, _ := m.GetPeriod(ctx, "p1")
	now := time.Now()
	p.DeletedAt = &now
	require.NoError(t, m.UpdatePeriod(ctx, p))

	// THEN: The key is free and the deleted period is hidden
	require.NoError(t, m.InsertPeriod(ctx, period("p2", 1)))
	_, err = m.GetPeriod(ctx, "p1")
	assert.True(t, billing.IsNotFound(err))
}

func TestMemory_ReceiptNumbersAreUnique(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.InsertPayment(ctx, &billing.PaymentRecord{ID: "a", ReceiptNumber: "R-1"}))

	err := m.InsertPayment(ctx, &billing.PaymentRecord{ID: "b", ReceiptNumber: "R-1"})
	assert.ErrorIs(t, err, billing.ErrDuplicateReceipt)

	got, err := m.ListPayments(ctx, []string{"a", "missing"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}

func TestTxMemory_RollsBackOnError(t *testing.T) {
	// GIVEN: A store with one period
	ctx := context.Background()
	tm := NewTxMemory()
	require.NoError(t, tm.InsertPeriod(ctx, period("p1", 1)))

	// WHEN: A transaction writes twice then fails
	boom := errors.New("boom")
	err := tm.WithTx(ctx, func(st billing.Store) error {
		p, err := st.GetPeriod(ctx, "p1")
		if err != nil {
			return err
		}
		p.IsCurrent = false
		if err := st.UpdatePeriod(ctx, p); err != nil {
			return err
		}
		if err := st.InsertPeriod(ctx, period("p2", 2)); err != nil {
			return err
		}
		return boom
	})

	// THEN: Neither write survives
	assert.ErrorIs(t, err, boom)
	p, err := tm.GetPeriod(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, p.IsCurrent)
	assert.Equal(t, int64(1), p.Version)
	_, err = tm.GetPeriod(ctx, "p2")
	assert.True(t, billing.IsNotFound(err))
}

func TestMemory_Reset(t *testing.T) {
	ctx := context.Background()
	tm := NewTxMemory()
	require.NoError(t, tm.InsertPeriod(ctx, period("p1", 1)))
	require.NoError(t, tm.InsertPayment(ctx, &billing.PaymentRecord{ID: "a", ReceiptNumber: "R-1"}))

	require.NoError(t, tm.Reset(ctx))

	_, err := tm.GetPeriod(ctx, "p1")
	assert.True(t, billing.IsNotFound(err))
	assert.NoError(t, tm.InsertPayment(ctx, &billing.PaymentRecord{ID: "b", ReceiptNumber: "R-1"}))
}
