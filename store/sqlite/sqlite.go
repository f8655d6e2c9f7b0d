/*
Package sqlite provides a SQL-backed implementation of billing.TxStore.

PURPOSE:
  Persists billing periods, payment records and fee configurations.
  SQLite (mattn/go-sqlite3) is the default; the same schema and queries
  run on PostgreSQL (lib/pq). sqlx rebinds placeholders per driver.

INTERFACES IMPLEMENTED:
  billing.Store:   periods, payments, fee configurations
  billing.TxStore: WithTx, one database transaction per call

KEY TABLES:
  billing_periods:     one row per period; child collections as JSON columns
                       (fee_items_json, charges_json, payments_json, audit_json)
  payment_records:     externally owned payments, linked by period_id
  fee_configurations:  fee item templates (items_json)

INDEXES:
  - idx_periods_live_key: UNIQUE (student, site, year, term) WHERE deleted_at IS NULL.
    Only one live period per key; soft-deleted rows free the key.
  - idx_periods_carried_from: successor lookups for the deletion guard
  - idx_payments_receipt: UNIQUE receipt numbers

OPTIMISTIC CONCURRENCY:
  UpdatePeriod runs
    UPDATE ... SET version = version + 1 WHERE id = ? AND version = ?
  Zero rows affected on an existing id means another writer got there
  first: billing.ErrConcurrentModification.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety, as SQLite has a single writer.
  WithTx holds the write lock for the whole transaction.

USAGE:
  store, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := billing.NewService(store)

MIGRATION:
  Schema is auto-migrated on Open().

SEE ALSO:
  - billing/store.go: interface definitions
  - billing/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/warp/fee-ledger/billing"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Store implements billing.TxStore on a SQL database.
type Store struct {
	db *sqlx.DB
	mu sync.RWMutex
}

// New opens a SQLite store at dbPath. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	return Open(DriverSQLite, dbPath+"?_foreign_keys=on&_journal_mode=WAL")
}

// Open connects with the given driver ("sqlite3" or "postgres") and migrates.
func Open(driver, dsn string) (*Store, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if driver == DriverSQLite {
		// One connection: ":memory:" databases are per-connection.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity (used by the health endpoint).
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS fee_configurations (
		id TEXT PRIMARY KEY,
		site_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		academic_year TEXT NOT NULL DEFAULT '',
		academic_term INTEGER NOT NULL DEFAULT 0,
		currency TEXT NOT NULL,
		items_json TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_fee_configurations_site
		ON fee_configurations(site_id);

	CREATE TABLE IF NOT EXISTS billing_periods (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		site_id TEXT NOT NULL,
		academic_year TEXT NOT NULL,
		academic_term INTEGER NOT NULL,
		fee_configuration_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		fee_items_json TEXT NOT NULL,
		base_fees_total TEXT NOT NULL,
		charges_json TEXT NOT NULL,
		added_charges_total TEXT NOT NULL,
		payments_json TEXT NOT NULL,
		total_paid TEXT NOT NULL,
		current_balance TEXT NOT NULL,
		carried_forward_from TEXT,
		carried_forward_to TEXT,
		is_current BOOLEAN NOT NULL,
		is_locked BOOLEAN NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		payment_due_date TEXT,
		audit_json TEXT NOT NULL,
		created_by TEXT NOT NULL,
		last_modified_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		deleted_at TEXT,
		version BIGINT NOT NULL
	);

	-- One live period per (student, site, year, term)
	CREATE UNIQUE INDEX IF NOT EXISTS idx_periods_live_key
		ON billing_periods(student_id, site_id, academic_year, academic_term)
		WHERE deleted_at IS NULL;

	CREATE INDEX IF NOT EXISTS idx_periods_carried_from
		ON billing_periods(carried_forward_from);

	CREATE INDEX IF NOT EXISTS idx_periods_site_term
		ON billing_periods(site_id, academic_year, academic_term);

	CREATE TABLE IF NOT EXISTS payment_records (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		site_id TEXT NOT NULL DEFAULT '',
		amount_paid TEXT NOT NULL,
		status TEXT NOT NULL,
		date_paid TEXT NOT NULL,
		academic_year TEXT NOT NULL,
		academic_term INTEGER NOT NULL,
		receipt_number TEXT NOT NULL,
		method TEXT NOT NULL DEFAULT '',
		recorded_by TEXT NOT NULL DEFAULT '',
		period_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_receipt
		ON payment_records(receipt_number);

	CREATE INDEX IF NOT EXISTS idx_payments_period
		ON payment_records(period_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ROWS
// =============================================================================

type periodRow struct {
	ID                 string         `db:"id"`
	StudentID          string         `db:"student_id"`
	SiteID             string         `db:"site_id"`
	AcademicYear       string         `db:"academic_year"`
	AcademicTerm       int            `db:"academic_term"`
	FeeConfigurationID string         `db:"fee_configuration_id"`
	Currency           string         `db:"currency"`
	FeeItemsJSON       string         `db:"fee_items_json"`
	BaseFeesTotal      string         `db:"base_fees_total"`
	ChargesJSON        string         `db:"charges_json"`
	AddedChargesTotal  string         `db:"added_charges_total"`
	PaymentsJSON       string         `db:"payments_json"`
	TotalPaid          string         `db:"total_paid"`
	CurrentBalance     string         `db:"current_balance"`
	CarriedForwardFrom sql.NullString `db:"carried_forward_from"`
	CarriedForwardTo   sql.NullString `db:"carried_forward_to"`
	IsCurrent          bool           `db:"is_current"`
	IsLocked           bool           `db:"is_locked"`
	Notes              string         `db:"notes"`
	PaymentDueDate     sql.NullString `db:"payment_due_date"`
	AuditJSON          string         `db:"audit_json"`
	CreatedBy          string         `db:"created_by"`
	LastModifiedBy     string         `db:"last_modified_by"`
	CreatedAt          string         `db:"created_at"`
	UpdatedAt          string         `db:"updated_at"`
	DeletedAt          sql.NullString `db:"deleted_at"`
	Version            int64          `db:"version"`
}

const periodColumns = `id, student_id, site_id, academic_year, academic_term, fee_configuration_id,
	currency, fee_items_json, base_fees_total, charges_json, added_charges_total, payments_json,
	total_paid, current_balance, carried_forward_from, carried_forward_to, is_current, is_locked,
	notes, payment_due_date, audit_json, created_by, last_modified_by, created_at, updated_at,
	deleted_at, version`

func toPeriodRow(p *billing.Period) (periodRow, error) {
	items, err := json.Marshal(nonNil(p.FeeItems))
	if err != nil {
		return periodRow{}, errors.Wrap(err, "encode fee items")
	}
	charges, err := json.Marshal(nonNil(p.AdditionalCharges))
	if err != nil {
		return periodRow{}, errors.Wrap(err, "encode charges")
	}
	payments, err := json.Marshal(nonNil(p.LinkedPayments))
	if err != nil {
		return periodRow{}, errors.Wrap(err, "encode linked payments")
	}
	audit, err := json.Marshal(nonNil(p.AuditTrail))
	if err != nil {
		return periodRow{}, errors.Wrap(err, "encode audit trail")
	}
	return periodRow{
		ID:                 p.ID,
		StudentID:          p.StudentID,
		SiteID:             p.SiteID,
		AcademicYear:       p.AcademicYear,
		AcademicTerm:       p.AcademicTerm,
		FeeConfigurationID: p.FeeConfigurationID,
		Currency:           p.Currency,
		FeeItemsJSON:       string(items),
		BaseFeesTotal:      p.BaseFeesTotal.String(),
		ChargesJSON:        string(charges),
		AddedChargesTotal:  p.AddedChargesTotal.String(),
		PaymentsJSON:       string(payments),
		TotalPaid:          p.TotalPaid.String(),
		CurrentBalance:     p.CurrentBalance.String(),
		CarriedForwardFrom: nullString(p.CarriedForwardFrom),
		CarriedForwardTo:   nullString(p.CarriedForwardTo),
		IsCurrent:          p.IsCurrent,
		IsLocked:           p.IsLocked,
		Notes:              p.Notes,
		PaymentDueDate:     nullTime(p.PaymentDueDate),
		AuditJSON:          string(audit),
		CreatedBy:          p.CreatedBy,
		LastModifiedBy:     p.LastModifiedBy,
		CreatedAt:          formatTime(p.CreatedAt),
		UpdatedAt:          formatTime(p.UpdatedAt),
		DeletedAt:          nullTime(p.DeletedAt),
		Version:            p.Version,
	}, nil
}

func (r periodRow) toPeriod() (*billing.Period, error) {
	dec := &columnDecoder{what: "period " + r.ID}
	p := &billing.Period{
		ID: r.ID,
		PeriodKey: billing.PeriodKey{
			StudentID:    r.StudentID,
			SiteID:       r.SiteID,
			AcademicYear: r.AcademicYear,
			AcademicTerm: r.AcademicTerm,
		},
		FeeConfigurationID: r.FeeConfigurationID,
		Currency:           r.Currency,
		BaseFeesTotal:      dec.decimal("base_fees_total", r.BaseFeesTotal),
		AddedChargesTotal:  dec.decimal("added_charges_total", r.AddedChargesTotal),
		TotalPaid:          dec.decimal("total_paid", r.TotalPaid),
		CurrentBalance:     dec.decimal("current_balance", r.CurrentBalance),
		CarriedForwardFrom: r.CarriedForwardFrom.String,
		CarriedForwardTo:   r.CarriedForwardTo.String,
		IsCurrent:          r.IsCurrent,
		IsLocked:           r.IsLocked,
		Notes:              r.Notes,
		PaymentDueDate:     dec.nullTime("payment_due_date", r.PaymentDueDate),
		CreatedBy:          r.CreatedBy,
		LastModifiedBy:     r.LastModifiedBy,
		CreatedAt:          dec.time("created_at", r.CreatedAt),
		UpdatedAt:          dec.time("updated_at", r.UpdatedAt),
		DeletedAt:          dec.nullTime("deleted_at", r.DeletedAt),
		Version:            r.Version,
	}
	if dec.err != nil {
		return nil, dec.err
	}
	if err := json.Unmarshal([]byte(r.FeeItemsJSON), &p.FeeItems); err != nil {
		return nil, errors.Wrapf(err, "decode fee items of period %s", r.ID)
	}
	if err := json.Unmarshal([]byte(r.ChargesJSON), &p.AdditionalCharges); err != nil {
		return nil, errors.Wrapf(err, "decode charges of period %s", r.ID)
	}
	if err := json.Unmarshal([]byte(r.PaymentsJSON), &p.LinkedPayments); err != nil {
		return nil, errors.Wrapf(err, "decode linked payments of period %s", r.ID)
	}
	if err := json.Unmarshal([]byte(r.AuditJSON), &p.AuditTrail); err != nil {
		return nil, errors.Wrapf(err, "decode audit trail of period %s", r.ID)
	}
	return p, nil
}

type paymentRow struct {
	ID            string         `db:"id"`
	StudentID     string         `db:"student_id"`
	SiteID        string         `db:"site_id"`
	AmountPaid    string         `db:"amount_paid"`
	Status        string         `db:"status"`
	DatePaid      string         `db:"date_paid"`
	AcademicYear  string         `db:"academic_year"`
	AcademicTerm  int            `db:"academic_term"`
	ReceiptNumber string         `db:"receipt_number"`
	Method        string         `db:"method"`
	RecordedBy    string         `db:"recorded_by"`
	PeriodID      sql.NullString `db:"period_id"`
	CreatedAt     string         `db:"created_at"`
}

const paymentColumns = `id, student_id, site_id, amount_paid, status, date_paid, academic_year,
	academic_term, receipt_number, method, recorded_by, period_id, created_at`

func toPaymentRow(pay *billing.PaymentRecord) paymentRow {
	return paymentRow{
		ID:            pay.ID,
		StudentID:     pay.StudentID,
		SiteID:        pay.SiteID,
		AmountPaid:    pay.AmountPaid.String(),
		Status:        string(pay.Status),
		DatePaid:      formatTime(pay.DatePaid),
		AcademicYear:  pay.AcademicYear,
		AcademicTerm:  pay.AcademicTerm,
		ReceiptNumber: pay.ReceiptNumber,
		Method:        pay.Method,
		RecordedBy:    pay.RecordedBy,
		PeriodID:      nullString(pay.PeriodID),
		CreatedAt:     formatTime(pay.CreatedAt),
	}
}

func (r paymentRow) toPayment() (billing.PaymentRecord, error) {
	dec := &columnDecoder{what: "payment " + r.ID}
	pay := billing.PaymentRecord{
		ID:            r.ID,
		StudentID:     r.StudentID,
		SiteID:        r.SiteID,
		AmountPaid:    dec.decimal("amount_paid", r.AmountPaid),
		Status:        billing.PaymentStatus(r.Status),
		DatePaid:      dec.time("date_paid", r.DatePaid),
		AcademicYear:  r.AcademicYear,
		AcademicTerm:  r.AcademicTerm,
		ReceiptNumber: r.ReceiptNumber,
		Method:        r.Method,
		RecordedBy:    r.RecordedBy,
		PeriodID:      r.PeriodID.String,
		CreatedAt:     dec.time("created_at", r.CreatedAt),
	}
	return pay, dec.err
}

type configRow struct {
	ID           string `db:"id"`
	SiteID       string `db:"site_id"`
	Name         string `db:"name"`
	AcademicYear string `db:"academic_year"`
	AcademicTerm int    `db:"academic_term"`
	Currency     string `db:"currency"`
	ItemsJSON    string `db:"items_json"`
	IsActive     bool   `db:"is_active"`
	CreatedAt    string `db:"created_at"`
}

const configColumns = `id, site_id, name, academic_year, academic_term, currency, items_json, is_active, created_at`

func (r configRow) toConfig() (billing.FeeConfiguration, error) {
	dec := &columnDecoder{what: "fee configuration " + r.ID}
	fc := billing.FeeConfiguration{
		ID:           r.ID,
		SiteID:       r.SiteID,
		Name:         r.Name,
		AcademicYear: r.AcademicYear,
		AcademicTerm: r.AcademicTerm,
		Currency:     r.Currency,
		IsActive:     r.IsActive,
		CreatedAt:    dec.time("created_at", r.CreatedAt),
	}
	if dec.err != nil {
		return fc, dec.err
	}
	if err := json.Unmarshal([]byte(r.ItemsJSON), &fc.Items); err != nil {
		return fc, errors.Wrapf(err, "decode items of fee configuration %s", r.ID)
	}
	return fc, nil
}

// =============================================================================
// PERIOD STORE
// =============================================================================

// dbtx is what both *sqlx.DB and *sqlx.Tx provide.
type dbtx interface {
	sqlx.ExtContext
}

func (s *Store) InsertPeriod(ctx context.Context, p *billing.Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertPeriod(ctx, s.db, p)
}

func insertPeriod(ctx context.Context, q dbtx, p *billing.Period) error {
	p.Version = 1
	row, err := toPeriodRow(p)
	if err != nil {
		return err
	}
	query := `INSERT INTO billing_periods (` + periodColumns + `) VALUES (
		:id, :student_id, :site_id, :academic_year, :academic_term, :fee_configuration_id,
		:currency, :fee_items_json, :base_fees_total, :charges_json, :added_charges_total, :payments_json,
		:total_paid, :current_balance, :carried_forward_from, :carried_forward_to, :is_current, :is_locked,
		:notes, :payment_due_date, :audit_json, :created_by, :last_modified_by, :created_at, :updated_at,
		:deleted_at, :version)`
	if _, err := sqlx.NamedExecContext(ctx, q, query, row); err != nil {
		if isUniqueConstraintError(err) {
			existing, findErr := findPeriod(ctx, q, p.Key())
			if findErr == nil {
				return &billing.DuplicatePeriodError{Key: p.Key(), ExistingID: existing.ID}
			}
			return &billing.DuplicatePeriodError{Key: p.Key()}
		}
		return errors.Wrap(err, "failed to insert billing period")
	}
	return nil
}

func (s *Store) UpdatePeriod(ctx context.Context, p *billing.Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updatePeriod(ctx, s.db, p)
}

func updatePeriod(ctx context.Context, q dbtx, p *billing.Period) error {
	row, err := toPeriodRow(p)
	if err != nil {
		return err
	}
	query := `UPDATE billing_periods SET
		fee_configuration_id = :fee_configuration_id, currency = :currency,
		fee_items_json = :fee_items_json, base_fees_total = :base_fees_total,
		charges_json = :charges_json, added_charges_total = :added_charges_total,
		payments_json = :payments_json, total_paid = :total_paid, current_balance = :current_balance,
		carried_forward_from = :carried_forward_from, carried_forward_to = :carried_forward_to,
		is_current = :is_current, is_locked = :is_locked, notes = :notes,
		payment_due_date = :payment_due_date, audit_json = :audit_json,
		last_modified_by = :last_modified_by, updated_at = :updated_at, deleted_at = :deleted_at,
		version = version + 1
		WHERE id = :id AND version = :version`
	res, err := sqlx.NamedExecContext(ctx, q, query, row)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &billing.DuplicatePeriodError{Key: p.Key()}
		}
		return errors.Wrap(err, "failed to update billing period")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if n == 0 {
		var exists int
		err := sqlx.GetContext(ctx, q, &exists, q.Rebind(`SELECT COUNT(*) FROM billing_periods WHERE id = ?`), p.ID)
		if err != nil {
			return errors.Wrap(err, "failed to check billing period")
		}
		if exists == 0 {
			return billing.PeriodNotFound(p.ID)
		}
		return billing.ErrConcurrentModification
	}
	p.Version++
	return nil
}

func (s *Store) GetPeriod(ctx context.Context, id string) (*billing.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPeriod(ctx, s.db, id)
}

func getPeriod(ctx context.Context, q dbtx, id string) (*billing.Period, error) {
	var row periodRow
	query := q.Rebind(`SELECT ` + periodColumns + ` FROM billing_periods WHERE id = ? AND deleted_at IS NULL`)
	if err := sqlx.GetContext(ctx, q, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, billing.PeriodNotFound(id)
		}
		return nil, errors.Wrap(err, "failed to get billing period")
	}
	return row.toPeriod()
}

func (s *Store) FindPeriod(ctx context.Context, key billing.PeriodKey) (*billing.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findPeriod(ctx, s.db, key)
}

func findPeriod(ctx context.Context, q dbtx, key billing.PeriodKey) (*billing.Period, error) {
	var row periodRow
	query := q.Rebind(`SELECT ` + periodColumns + ` FROM billing_periods
		WHERE student_id = ? AND site_id = ? AND academic_year = ? AND academic_term = ?
		AND deleted_at IS NULL`)
	err := sqlx.GetContext(ctx, q, &row, query, key.StudentID, key.SiteID, key.AcademicYear, key.AcademicTerm)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, billing.PeriodNotFound(key.String())
		}
		return nil, errors.Wrap(err, "failed to find billing period")
	}
	return row.toPeriod()
}

func (s *Store) ListPeriods(ctx context.Context, studentID, siteID string) ([]*billing.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPeriods(ctx, s.db, studentID, siteID)
}

func listPeriods(ctx context.Context, q dbtx, studentID, siteID string) ([]*billing.Period, error) {
	return queryPeriods(ctx, q, `SELECT `+periodColumns+` FROM billing_periods
		WHERE student_id = ? AND site_id = ? AND deleted_at IS NULL
		ORDER BY academic_year, academic_term`, studentID, siteID)
}

func (s *Store) ListCurrentPeriods(ctx context.Context, siteID, academicYear string, academicTerm int) ([]*billing.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listCurrentPeriods(ctx, s.db, siteID, academicYear, academicTerm)
}

func listCurrentPeriods(ctx context.Context, q dbtx, siteID, academicYear string, academicTerm int) ([]*billing.Period, error) {
	return queryPeriods(ctx, q, `SELECT `+periodColumns+` FROM billing_periods
		WHERE site_id = ? AND academic_year = ? AND academic_term = ?
		AND is_current = ? AND deleted_at IS NULL
		ORDER BY student_id`, siteID, academicYear, academicTerm, true)
}

func (s *Store) FindSuccessor(ctx context.Context, periodID string) (*billing.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findSuccessor(ctx, s.db, periodID)
}

func findSuccessor(ctx context.Context, q dbtx, periodID string) (*billing.Period, error) {
	periods, err := queryPeriods(ctx, q, `SELECT `+periodColumns+` FROM billing_periods
		WHERE carried_forward_from = ? AND deleted_at IS NULL`, periodID)
	if err != nil || len(periods) == 0 {
		return nil, err
	}
	return periods[0], nil
}

func (s *Store) DeletePeriod(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deletePeriod(ctx, s.db, id)
}

func deletePeriod(ctx context.Context, q dbtx, id string) error {
	res, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM billing_periods WHERE id = ?`), id)
	if err != nil {
		return errors.Wrap(err, "failed to delete billing period")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return billing.PeriodNotFound(id)
	}
	return nil
}

func queryPeriods(ctx context.Context, q dbtx, query string, args ...any) ([]*billing.Period, error) {
	var rows []periodRow
	if err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "failed to query billing periods")
	}
	periods := make([]*billing.Period, 0, len(rows))
	for _, r := range rows {
		p, err := r.toPeriod()
		if err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, nil
}

// =============================================================================
// PAYMENT STORE
// =============================================================================

func (s *Store) InsertPayment(ctx context.Context, pay *billing.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertPayment(ctx, s.db, pay)
}

func insertPayment(ctx context.Context, q dbtx, pay *billing.PaymentRecord) error {
	query := `INSERT INTO payment_records (` + paymentColumns + `) VALUES (
		:id, :student_id, :site_id, :amount_paid, :status, :date_paid, :academic_year,
		:academic_term, :receipt_number, :method, :recorded_by, :period_id, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, q, query, toPaymentRow(pay)); err != nil {
		if isUniqueConstraintError(err) {
			return billing.ErrDuplicateReceipt
		}
		return errors.Wrap(err, "failed to insert payment record")
	}
	return nil
}

func (s *Store) UpdatePayment(ctx context.Context, pay *billing.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updatePayment(ctx, s.db, pay)
}

func updatePayment(ctx context.Context, q dbtx, pay *billing.PaymentRecord) error {
	query := `UPDATE payment_records SET
		amount_paid = :amount_paid, status = :status, date_paid = :date_paid,
		method = :method, recorded_by = :recorded_by, period_id = :period_id
		WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, q, query, toPaymentRow(pay))
	if err != nil {
		return errors.Wrap(err, "failed to update payment record")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return billing.PaymentNotFound(pay.ID)
	}
	return nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (*billing.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPayment(ctx, s.db, id)
}

func getPayment(ctx context.Context, q dbtx, id string) (*billing.PaymentRecord, error) {
	var row paymentRow
	query := q.Rebind(`SELECT ` + paymentColumns + ` FROM payment_records WHERE id = ?`)
	if err := sqlx.GetContext(ctx, q, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, billing.PaymentNotFound(id)
		}
		return nil, errors.Wrap(err, "failed to get payment record")
	}
	pay, err := row.toPayment()
	if err != nil {
		return nil, err
	}
	return &pay, nil
}

func (s *Store) ListPayments(ctx context.Context, ids []string) ([]billing.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPayments(ctx, s.db, ids)
}

func listPayments(ctx context.Context, q dbtx, ids []string) ([]billing.PaymentRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT `+paymentColumns+` FROM payment_records WHERE id IN (?)`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build payment query")
	}
	var rows []paymentRow
	if err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "failed to list payment records")
	}
	payments := make([]billing.PaymentRecord, 0, len(rows))
	for _, r := range rows {
		pay, err := r.toPayment()
		if err != nil {
			return nil, err
		}
		payments = append(payments, pay)
	}
	return payments, nil
}

// =============================================================================
// FEE CONFIGURATION STORE
// =============================================================================

func (s *Store) InsertFeeConfiguration(ctx context.Context, fc *billing.FeeConfiguration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertConfig(ctx, s.db, fc)
}

func insertConfig(ctx context.Context, q dbtx, fc *billing.FeeConfiguration) error {
	items, err := json.Marshal(nonNil(fc.Items))
	if err != nil {
		return errors.Wrap(err, "encode fee configuration items")
	}
	row := configRow{
		ID:           fc.ID,
		SiteID:       fc.SiteID,
		Name:         fc.Name,
		AcademicYear: fc.AcademicYear,
		AcademicTerm: fc.AcademicTerm,
		Currency:     fc.Currency,
		ItemsJSON:    string(items),
		IsActive:     fc.IsActive,
		CreatedAt:    formatTime(fc.CreatedAt),
	}
	query := `INSERT INTO fee_configurations (` + configColumns + `) VALUES (
		:id, :site_id, :name, :academic_year, :academic_term, :currency, :items_json, :is_active, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, q, query, row); err != nil {
		return errors.Wrap(err, "failed to insert fee configuration")
	}
	return nil
}

func (s *Store) GetFeeConfiguration(ctx context.Context, id string) (*billing.FeeConfiguration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getConfig(ctx, s.db, id)
}

func getConfig(ctx context.Context, q dbtx, id string) (*billing.FeeConfiguration, error) {
	var row configRow
	query := q.Rebind(`SELECT ` + configColumns + ` FROM fee_configurations WHERE id = ?`)
	if err := sqlx.GetContext(ctx, q, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, billing.ConfigNotFound(id)
		}
		return nil, errors.Wrap(err, "failed to get fee configuration")
	}
	fc, err := row.toConfig()
	if err != nil {
		return nil, err
	}
	return &fc, nil
}

func (s *Store) ListFeeConfigurations(ctx context.Context, siteID string) ([]billing.FeeConfiguration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listConfigs(ctx, s.db, siteID)
}

func listConfigs(ctx context.Context, q dbtx, siteID string) ([]billing.FeeConfiguration, error) {
	query := `SELECT ` + configColumns + ` FROM fee_configurations`
	var args []any
	if siteID != "" {
		query += ` WHERE site_id = ?`
		args = append(args, siteID)
	}
	query += ` ORDER BY created_at`

	var rows []configRow
	if err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "failed to list fee configurations")
	}
	configs := make([]billing.FeeConfiguration, 0, len(rows))
	for _, r := range rows {
		fc, err := r.toConfig()
		if err != nil {
			return nil, err
		}
		configs = append(configs, fc)
	}
	return configs, nil
}

// =============================================================================
// TRANSACTIONAL STORE (billing.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store billing.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return errors.Wrap(sqlTx.Commit(), "failed to commit transaction")
}

type txStore struct {
	tx *sqlx.Tx
}

func (ts *txStore) InsertPeriod(ctx context.Context, p *billing.Period) error {
	return insertPeriod(ctx, ts.tx, p)
}

func (ts *txStore) UpdatePeriod(ctx context.Context, p *billing.Period) error {
	return updatePeriod(ctx, ts.tx, p)
}

func (ts *txStore) GetPeriod(ctx context.Context, id string) (*billing.Period, error) {
	return getPeriod(ctx, ts.tx, id)
}

func (ts *txStore) FindPeriod(ctx context.Context, key billing.PeriodKey) (*billing.Period, error) {
	return findPeriod(ctx, ts.tx, key)
}

func (ts *txStore) ListPeriods(ctx context.Context, studentID, siteID string) ([]*billing.Period, error) {
	return listPeriods(ctx, ts.tx, studentID, siteID)
}

func (ts *txStore) ListCurrentPeriods(ctx context.Context, siteID, academicYear string, academicTerm int) ([]*billing.Period, error) {
	return listCurrentPeriods(ctx, ts.tx, siteID, academicYear, academicTerm)
}

func (ts *txStore) FindSuccessor(ctx context.Context, periodID string) (*billing.Period, error) {
	return findSuccessor(ctx, ts.tx, periodID)
}

func (ts *txStore) DeletePeriod(ctx context.Context, id string) error {
	return deletePeriod(ctx, ts.tx, id)
}

func (ts *txStore) InsertPayment(ctx context.Context, pay *billing.PaymentRecord) error {
	return insertPayment(ctx, ts.tx, pay)
}

func (ts *txStore) UpdatePayment(ctx context.Context, pay *billing.PaymentRecord) error {
	return updatePayment(ctx, ts.tx, pay)
}

func (ts *txStore) GetPayment(ctx context.Context, id string) (*billing.PaymentRecord, error) {
	return getPayment(ctx, ts.tx, id)
}

func (ts *txStore) ListPayments(ctx context.Context, ids []string) ([]billing.PaymentRecord, error) {
	return listPayments(ctx, ts.tx, ids)
}

func (ts *txStore) InsertFeeConfiguration(ctx context.Context, fc *billing.FeeConfiguration) error {
	return insertConfig(ctx, ts.tx, fc)
}

func (ts *txStore) GetFeeConfiguration(ctx context.Context, id string) (*billing.FeeConfiguration, error) {
	return getConfig(ctx, ts.tx, id)
}

func (ts *txStore) ListFeeConfigurations(ctx context.Context, siteID string) ([]billing.FeeConfiguration, error) {
	return listConfigs(ctx, ts.tx, siteID)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"payment_records", "billing_periods", "fee_configurations"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return errors.Wrapf(err, "failed to clear %s", table)
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// columnDecoder parses text columns of one row and keeps the first error.
type columnDecoder struct {
	what string
	err  error
}

func (d *columnDecoder) time(col, s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil && d.err == nil {
		d.err = errors.Wrapf(err, "decode %s of %s", col, d.what)
	}
	return t
}

func (d *columnDecoder) nullTime(col string, s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := d.time(col, s.String)
	return &t
}

func (d *columnDecoder) decimal(col, s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil && d.err == nil {
		d.err = errors.Wrapf(err, "decode %s of %s", col, d.what)
	}
	return v
}

// nonNil makes empty collections encode as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func isUniqueConstraintError(err error) bool {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
