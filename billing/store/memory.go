// Package store provides in-memory billing.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/fee-ledger/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	periods  map[string]*billing.Period
	payments map[string]*billing.PaymentRecord
	configs  map[string]*billing.FeeConfiguration
	receipts map[string]string // receipt number -> payment id
}

func NewMemory() *Memory {
	return &Memory{
		periods:  make(map[string]*billing.Period),
		payments: make(map[string]*billing.PaymentRecord),
		configs:  make(map[string]*billing.FeeConfiguration),
		receipts: make(map[string]string),
	}
}

// Reset drops every record.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.periods = make(map[string]*billing.Period)
	m.payments = make(map[string]*billing.PaymentRecord)
	m.configs = make(map[string]*billing.FeeConfiguration)
	m.receipts = make(map[string]string)
	return nil
}

// -----------------------------------------------------------------------------
// Periods
// -----------------------------------------------------------------------------

func (m *Memory) InsertPeriod(_ context.Context, p *billing.Period) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertPeriodLocked(p)
}

func (m *Memory) insertPeriodLocked(p *billing.Period) error {
	if existing := m.findLocked(p.Key()); existing != nil {
		return &billing.DuplicatePeriodError{Key: p.Key(), ExistingID: existing.ID}
	}
	p.Version = 1
	m.periods[p.ID] = p.Clone()
	return nil
}

// UpdatePeriod is a compare-and-swap on Version.
func (m *Memory) UpdatePeriod(_ context.Context, p *billing.Period) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updatePeriodLocked(p)
}

func (m *Memory) updatePeriodLocked(p *billing.Period) error {
	stored, ok := m.periods[p.ID]
	if !ok {
		return billing.PeriodNotFound(p.ID)
	}
	if stored.Version != p.Version {
		return billing.ErrConcurrentModification
	}
	p.Version++
	m.periods[p.ID] = p.Clone()
	return nil
}

func (m *Memory) GetPeriod(_ context.Context, id string) (*billing.Period, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPeriodLocked(id)
}

func (m *Memory) getPeriodLocked(id string) (*billing.Period, error) {
	p, ok := m.periods[id]
	if !ok || p.IsDeleted() {
		return nil, billing.PeriodNotFound(id)
	}
	return p.Clone(), nil
}

func (m *Memory) FindPeriod(_ context.Context, key billing.PeriodKey) (*billing.Period, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findPeriodLocked(key)
}

func (m *Memory) findPeriodLocked(key billing.PeriodKey) (*billing.Period, error) {
	if p := m.findLocked(key); p != nil {
		return p.Clone(), nil
	}
	return nil, billing.PeriodNotFound(key.String())
}

func (m *Memory) findLocked(key billing.PeriodKey) *billing.Period {
	for _, p := range m.periods {
		if !p.IsDeleted() && p.Key() == key {
			return p
		}
	}
	return nil
}

func (m *Memory) ListPeriods(_ context.Context, studentID, siteID string) ([]*billing.Period, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPeriodsLocked(studentID, siteID), nil
}

func (m *Memory) listPeriodsLocked(studentID, siteID string) []*billing.Period {
	var out []*billing.Period
	for _, p := range m.periods {
		if !p.IsDeleted() && p.StudentID == studentID && p.SiteID == siteID {
			out = append(out, p.Clone())
		}
	}
	billing.SortPeriods(out)
	return out
}

func (m *Memory) ListCurrentPeriods(_ context.Context, siteID, academicYear string, academicTerm int) ([]*billing.Period, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listCurrentLocked(siteID, academicYear, academicTerm), nil
}

func (m *Memory) listCurrentLocked(siteID, academicYear string, academicTerm int) []*billing.Period {
	var out []*billing.Period
	for _, p := range m.periods {
		if p.IsDeleted() || !p.IsCurrent {
			continue
		}
		if p.SiteID == siteID && p.AcademicYear == academicYear && p.AcademicTerm == academicTerm {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out
}

func (m *Memory) FindSuccessor(_ context.Context, periodID string) (*billing.Period, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findSuccessorLocked(periodID), nil
}

func (m *Memory) findSuccessorLocked(periodID string) *billing.Period {
	for _, p := range m.periods {
		if !p.IsDeleted() && p.CarriedForwardFrom == periodID {
			return p.Clone()
		}
	}
	return nil
}

func (m *Memory) DeletePeriod(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deletePeriodLocked(id)
}

func (m *Memory) deletePeriodLocked(id string) error {
	if _, ok := m.periods[id]; !ok {
		return billing.PeriodNotFound(id)
	}
	delete(m.periods, id)
	return nil
}

// -----------------------------------------------------------------------------
// Payments
// -----------------------------------------------------------------------------

func (m *Memory) InsertPayment(_ context.Context, pay *billing.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertPaymentLocked(pay)
}

func (m *Memory) insertPaymentLocked(pay *billing.PaymentRecord) error {
	if _, taken := m.receipts[pay.ReceiptNumber]; taken {
		return billing.ErrDuplicateReceipt
	}
	cp := *pay
	m.payments[pay.ID] = &cp
	m.receipts[pay.ReceiptNumber] = pay.ID
	return nil
}

func (m *Memory) UpdatePayment(_ context.Context, pay *billing.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updatePaymentLocked(pay)
}

func (m *Memory) updatePaymentLocked(pay *billing.PaymentRecord) error {
	if _, ok := m.payments[pay.ID]; !ok {
		return billing.PaymentNotFound(pay.ID)
	}
	cp := *pay
	m.payments[pay.ID] = &cp
	return nil
}

func (m *Memory) GetPayment(_ context.Context, id string) (*billing.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPaymentLocked(id)
}

func (m *Memory) getPaymentLocked(id string) (*billing.PaymentRecord, error) {
	pay, ok := m.payments[id]
	if !ok {
		return nil, billing.PaymentNotFound(id)
	}
	cp := *pay
	return &cp, nil
}

func (m *Memory) ListPayments(_ context.Context, ids []string) ([]billing.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPaymentsLocked(ids), nil
}

func (m *Memory) listPaymentsLocked(ids []string) []billing.PaymentRecord {
	out := make([]billing.PaymentRecord, 0, len(ids))
	for _, id := range ids {
		if pay, ok := m.payments[id]; ok {
			out = append(out, *pay)
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// Fee configurations
// -----------------------------------------------------------------------------

func (m *Memory) InsertFeeConfiguration(_ context.Context, fc *billing.FeeConfiguration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertConfigLocked(fc)
}

func (m *Memory) insertConfigLocked(fc *billing.FeeConfiguration) error {
	cp := *fc
	cp.Items = append([]billing.FeeItem(nil), fc.Items...)
	m.configs[fc.ID] = &cp
	return nil
}

func (m *Memory) GetFeeConfiguration(_ context.Context, id string) (*billing.FeeConfiguration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getConfigLocked(id)
}

func (m *Memory) getConfigLocked(id string) (*billing.FeeConfiguration, error) {
	fc, ok := m.configs[id]
	if !ok {
		return nil, billing.ConfigNotFound(id)
	}
	cp := *fc
	cp.Items = append([]billing.FeeItem(nil), fc.Items...)
	return &cp, nil
}

func (m *Memory) ListFeeConfigurations(_ context.Context, siteID string) ([]billing.FeeConfiguration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listConfigsLocked(siteID), nil
}

func (m *Memory) listConfigsLocked(siteID string) []billing.FeeConfiguration {
	var out []billing.FeeConfiguration
	for _, fc := range m.configs {
		if siteID != "" && fc.SiteID != siteID {
			continue
		}
		cp := *fc
		cp.Items = append([]billing.FeeItem(nil), fc.Items...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// Transactions are serialized by the store mutex.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	periods  map[string]*billing.Period
	payments map[string]*billing.PaymentRecord
	configs  map[string]*billing.FeeConfiguration
	receipts map[string]string
}

// snapshot copies the maps. Stored values are replaced wholesale on write,
// never mutated in place, so sharing the pointers is safe.
func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		periods:  make(map[string]*billing.Period, len(tm.periods)),
		payments: make(map[string]*billing.PaymentRecord, len(tm.payments)),
		configs:  make(map[string]*billing.FeeConfiguration, len(tm.configs)),
		receipts: make(map[string]string, len(tm.receipts)),
	}
	for k, v := range tm.periods {
		s.periods[k] = v
	}
	for k, v := range tm.payments {
		s.payments[k] = v
	}
	for k, v := range tm.configs {
		s.configs[k] = v
	}
	for k, v := range tm.receipts {
		s.receipts[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.periods = s.periods
	tm.payments = s.payments
	tm.configs = s.configs
	tm.receipts = s.receipts
}

// txMemoryView is the Store handed to WithTx callbacks. The parent lock is
// already held, so it calls the *Locked helpers directly.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) InsertPeriod(_ context.Context, p *billing.Period) error {
	return tv.parent.insertPeriodLocked(p)
}

func (tv *txMemoryView) UpdatePeriod(_ context.Context, p *billing.Period) error {
	return tv.parent.updatePeriodLocked(p)
}

func (tv *txMemoryView) GetPeriod(_ context.Context, id string) (*billing.Period, error) {
	return tv.parent.getPeriodLocked(id)
}

func (tv *txMemoryView) FindPeriod(_ context.Context, key billing.PeriodKey) (*billing.Period, error) {
	return tv.parent.findPeriodLocked(key)
}

func (tv *txMemoryView) ListPeriods(_ context.Context, studentID, siteID string) ([]*billing.Period, error) {
	return tv.parent.listPeriodsLocked(studentID, siteID), nil
}

func (tv *txMemoryView) ListCurrentPeriods(_ context.Context, siteID, academicYear string, academicTerm int) ([]*billing.Period, error) {
	return tv.parent.listCurrentLocked(siteID, academicYear, academicTerm), nil
}

func (tv *txMemoryView) FindSuccessor(_ context.Context, periodID string) (*billing.Period, error) {
	return tv.parent.findSuccessorLocked(periodID), nil
}

func (tv *txMemoryView) DeletePeriod(_ context.Context, id string) error {
	return tv.parent.deletePeriodLocked(id)
}

func (tv *txMemoryView) InsertPayment(_ context.Context, pay *billing.PaymentRecord) error {
	return tv.parent.insertPaymentLocked(pay)
}

func (tv *txMemoryView) UpdatePayment(_ context.Context, pay *billing.PaymentRecord) error {
	return tv.parent.updatePaymentLocked(pay)
}

func (tv *txMemoryView) GetPayment(_ context.Context, id string) (*billing.PaymentRecord, error) {
	return tv.parent.getPaymentLocked(id)
}

func (tv *txMemoryView) ListPayments(_ context.Context, ids []string) ([]billing.PaymentRecord, error) {
	return tv.parent.listPaymentsLocked(ids), nil
}

func (tv *txMemoryView) InsertFeeConfiguration(_ context.Context, fc *billing.FeeConfiguration) error {
	return tv.parent.insertConfigLocked(fc)
}

func (tv *txMemoryView) GetFeeConfiguration(_ context.Context, id string) (*billing.FeeConfiguration, error) {
	return tv.parent.getConfigLocked(id)
}

func (tv *txMemoryView) ListFeeConfigurations(_ context.Context, siteID string) ([]billing.FeeConfiguration, error) {
	return tv.parent.listConfigsLocked(siteID), nil
}
