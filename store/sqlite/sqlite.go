/*
Package sqlite provides a SQLite-backed implementation of the lifecycle
storage interfaces.

PURPOSE:
  Implements lifecycle.Store and lifecycle.TxStore using SQLite. In
  production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

KEY TABLES:
  applications:  Pharmacist applications to job postings
  contracts:     Engagement offers and their derived financial terms
  payments:      Platform-fee obligations, one per approved contract
  penalties:     Sanctions, linked to the contract whose lapse caused them
  pharmacies, pharmacists, job_postings: Directory read models
  sweep_runs:    Overdue sweep execution records

UNIQUENESS:
  - idx_contracts_application enforces at most one contract per application
  - idx_payments_contract enforces at most one payment per contract
  Violations surface as lifecycle.ErrConflict.

STATUS-CONDITIONED WRITES:
  Every entity update runs "UPDATE ... WHERE id = ? AND status = ?". Zero
  affected rows means the row moved since it was read and the write fails
  with lifecycle.ErrConcurrentModification. Together with WithTx and the
  store mutex this serializes guard-check-then-write per contract.

WAL MODE:
  SQLite is opened with WAL for better concurrency: readers don't block,
  single writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/engagements.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - lifecycle/store.go: Interface definitions
  - lifecycle/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pharmabridge/engagement-engine/lifecycle"
)

// Store implements lifecycle.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS applications (
		id TEXT PRIMARY KEY,
		job_posting_id TEXT NOT NULL,
		pharmacist_id TEXT NOT NULL,
		status TEXT NOT NULL,
		applied_at TEXT NOT NULL,
		offered_at TEXT,
		responded_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_applications_pharmacist
		ON applications(pharmacist_id);
	CREATE INDEX IF NOT EXISTS idx_applications_posting
		ON applications(job_posting_id);

	CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		application_id TEXT NOT NULL,
		pharmacy_id TEXT NOT NULL,
		pharmacist_id TEXT NOT NULL,
		job_posting_id TEXT NOT NULL,
		initial_work_date TEXT NOT NULL,
		work_days INTEGER NOT NULL,
		work_hours TEXT,
		daily_wage INTEGER NOT NULL,
		total_compensation INTEGER NOT NULL,
		platform_fee INTEGER NOT NULL,
		payment_deadline TEXT NOT NULL,
		status TEXT NOT NULL,
		cancellation_reason TEXT,
		created_at TEXT NOT NULL,
		approved_at TEXT,
		payment_confirmed_at TEXT,
		cancelled_at TEXT,
		completed_at TEXT
	);

	-- CRITICAL: one application yields at most one contract, ever
	CREATE UNIQUE INDEX IF NOT EXISTS idx_contracts_application
		ON contracts(application_id);
	CREATE INDEX IF NOT EXISTS idx_contracts_pharmacy
		ON contracts(pharmacy_id);
	CREATE INDEX IF NOT EXISTS idx_contracts_pharmacist
		ON contracts(pharmacist_id);
	-- Overdue scan hot path
	CREATE INDEX IF NOT EXISTS idx_contracts_status_deadline
		ON contracts(status, payment_deadline);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL,
		pharmacy_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		status TEXT NOT NULL,
		payment_date TEXT,
		transfer_name TEXT,
		confirmation_note TEXT,
		created_at TEXT NOT NULL,
		reported_at TEXT,
		confirmed_at TEXT
	);

	-- One payment obligation per contract
	CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_contract
		ON payments(contract_id);
	CREATE INDEX IF NOT EXISTS idx_payments_pharmacy
		ON payments(pharmacy_id);
	CREATE INDEX IF NOT EXISTS idx_payments_status
		ON payments(status);

	CREATE TABLE IF NOT EXISTS penalties (
		id TEXT PRIMARY KEY,
		pharmacy_id TEXT NOT NULL,
		contract_id TEXT,
		penalty_type TEXT NOT NULL,
		reason TEXT NOT NULL,
		status TEXT NOT NULL,
		resolution_request_note TEXT,
		resolution_note TEXT,
		imposed_at TEXT NOT NULL,
		resolution_requested_at TEXT,
		resolved_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_penalties_pharmacy
		ON penalties(pharmacy_id);
	CREATE INDEX IF NOT EXISTS idx_penalties_contract
		ON penalties(contract_id) WHERE contract_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS pharmacies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		address TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pharmacists (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS job_postings (
		id TEXT PRIMARY KEY,
		pharmacy_id TEXT NOT NULL,
		title TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_job_postings_pharmacy
		ON job_postings(pharmacy_id);

	CREATE TABLE IF NOT EXISTS sweep_runs (
		id TEXT PRIMARY KEY,
		as_of TEXT NOT NULL,
		matched INTEGER NOT NULL DEFAULT 0,
		cancelled INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_sweep_runs_as_of
		ON sweep_runs(as_of);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so the same query helpers
// serve plain calls and transactional calls.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// TRANSACTIONAL STORE (lifecycle.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. The store mutex
// is held for the duration so the read-check-write inside fn cannot
// interleave with any other writer.
func (s *Store) WithTx(ctx context.Context, fn func(store lifecycle.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore routes every operation through the open transaction. No locking:
// WithTx already holds the store mutex.
type txStore struct {
	tx *sql.Tx
}

// =============================================================================
// APPLICATIONS
// =============================================================================

func (s *Store) SaveApplication(ctx context.Context, app lifecycle.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveApplication(ctx, s.db, app)
}

func (ts *txStore) SaveApplication(ctx context.Context, app lifecycle.Application) error {
	return saveApplication(ctx, ts.tx, app)
}

func saveApplication(ctx context.Context, q dbtx, app lifecycle.Application) error {
	query := `
		INSERT INTO applications (id, job_posting_id, pharmacist_id, status, applied_at, offered_at, responded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			offered_at = excluded.offered_at,
			responded_at = excluded.responded_at
	`
	_, err := q.ExecContext(ctx, query,
		app.ID, app.JobPostingID, app.PharmacistID, app.Status,
		formatTime(app.AppliedAt), formatTimePtr(app.OfferedAt), formatTimePtr(app.RespondedAt),
	)
	return err
}

func (s *Store) GetApplication(ctx context.Context, id lifecycle.ApplicationID) (*lifecycle.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getApplication(ctx, s.db, id)
}

func (ts *txStore) GetApplication(ctx context.Context, id lifecycle.ApplicationID) (*lifecycle.Application, error) {
	return getApplication(ctx, ts.tx, id)
}

func getApplication(ctx context.Context, q dbtx, id lifecycle.ApplicationID) (*lifecycle.Application, error) {
	var (
		app                  lifecycle.Application
		appliedAt            string
		offeredAt, responded sql.NullString
	)
	err := q.QueryRowContext(ctx,
		"SELECT id, job_posting_id, pharmacist_id, status, applied_at, offered_at, responded_at FROM applications WHERE id = ?",
		id,
	).Scan(&app.ID, &app.JobPostingID, &app.PharmacistID, &app.Status, &appliedAt, &offeredAt, &responded)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	app.AppliedAt = parseTime(appliedAt)
	app.OfferedAt = parseTimePtr(offeredAt)
	app.RespondedAt = parseTimePtr(responded)
	return &app, nil
}

func (s *Store) UpdateApplication(ctx context.Context, app lifecycle.Application, from lifecycle.ApplicationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateApplication(ctx, s.db, app, from)
}

func (ts *txStore) UpdateApplication(ctx context.Context, app lifecycle.Application, from lifecycle.ApplicationStatus) error {
	return updateApplication(ctx, ts.tx, app, from)
}

func updateApplication(ctx context.Context, q dbtx, app lifecycle.Application, from lifecycle.ApplicationStatus) error {
	res, err := q.ExecContext(ctx, `
		UPDATE applications
		SET status = ?, offered_at = ?, responded_at = ?
		WHERE id = ? AND status = ?`,
		app.Status, formatTimePtr(app.OfferedAt), formatTimePtr(app.RespondedAt),
		app.ID, from,
	)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

// =============================================================================
// CONTRACTS
// =============================================================================

const contractColumns = `id, application_id, pharmacy_id, pharmacist_id, job_posting_id,
	initial_work_date, work_days, work_hours, daily_wage,
	total_compensation, platform_fee, payment_deadline,
	status, cancellation_reason,
	created_at, approved_at, payment_confirmed_at, cancelled_at, completed_at`

func (s *Store) SaveContract(ctx context.Context, c lifecycle.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveContract(ctx, s.db, c)
}

func (ts *txStore) SaveContract(ctx context.Context, c lifecycle.Contract) error {
	return saveContract(ctx, ts.tx, c)
}

func saveContract(ctx context.Context, q dbtx, c lifecycle.Contract) error {
	query := `
		INSERT INTO contracts (` + contractColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		c.ID, c.ApplicationID, c.PharmacyID, c.PharmacistID, c.JobPostingID,
		c.InitialWorkDate.String(), c.WorkDays, c.WorkHours, c.DailyWage,
		c.TotalCompensation, c.PlatformFee, c.PaymentDeadline.String(),
		c.Status, c.CancellationReason,
		formatTime(c.CreatedAt), formatTimePtr(c.ApprovedAt), formatTimePtr(c.PaymentConfirmedAt),
		formatTimePtr(c.CancelledAt), formatTimePtr(c.CompletedAt),
	)
	if err != nil && isUniqueConstraintError(err) {
		return &lifecycle.ConflictError{Entity: "contract", Against: "application " + string(c.ApplicationID)}
	}
	return err
}

func (s *Store) GetContract(ctx context.Context, id lifecycle.ContractID) (*lifecycle.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getContractWhere(ctx, s.db, "id = ?", id)
}

func (ts *txStore) GetContract(ctx context.Context, id lifecycle.ContractID) (*lifecycle.Contract, error) {
	return getContractWhere(ctx, ts.tx, "id = ?", id)
}

func (s *Store) GetContractByApplication(ctx context.Context, id lifecycle.ApplicationID) (*lifecycle.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getContractWhere(ctx, s.db, "application_id = ?", id)
}

func (ts *txStore) GetContractByApplication(ctx context.Context, id lifecycle.ApplicationID) (*lifecycle.Contract, error) {
	return getContractWhere(ctx, ts.tx, "application_id = ?", id)
}

func getContractWhere(ctx context.Context, q dbtx, where string, arg any) (*lifecycle.Contract, error) {
	contracts, err := queryContracts(ctx, q,
		"SELECT "+contractColumns+" FROM contracts WHERE "+where, arg)
	if err != nil {
		return nil, err
	}
	if len(contracts) == 0 {
		return nil, nil
	}
	return &contracts[0], nil
}

func (s *Store) UpdateContract(ctx context.Context, c lifecycle.Contract, from lifecycle.ContractStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateContract(ctx, s.db, c, from)
}

func (ts *txStore) UpdateContract(ctx context.Context, c lifecycle.Contract, from lifecycle.ContractStatus) error {
	return updateContract(ctx, ts.tx, c, from)
}

// updateContract touches only mutable fields. The financial terms are
// derived once at creation and deliberately absent from the SET list.
func updateContract(ctx context.Context, q dbtx, c lifecycle.Contract, from lifecycle.ContractStatus) error {
	res, err := q.ExecContext(ctx, `
		UPDATE contracts
		SET status = ?, cancellation_reason = ?,
		    approved_at = ?, payment_confirmed_at = ?, cancelled_at = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		c.Status, c.CancellationReason,
		formatTimePtr(c.ApprovedAt), formatTimePtr(c.PaymentConfirmedAt),
		formatTimePtr(c.CancelledAt), formatTimePtr(c.CompletedAt),
		c.ID, from,
	)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

func (s *Store) ListContracts(ctx context.Context, f lifecycle.ContractFilter) ([]lifecycle.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listContracts(ctx, s.db, f)
}

func (ts *txStore) ListContracts(ctx context.Context, f lifecycle.ContractFilter) ([]lifecycle.Contract, error) {
	return listContracts(ctx, ts.tx, f)
}

func listContracts(ctx context.Context, q dbtx, f lifecycle.ContractFilter) ([]lifecycle.Contract, error) {
	where := []string{"1=1"}
	var args []any
	if f.PharmacyID != "" {
		where = append(where, "pharmacy_id = ?")
		args = append(args, f.PharmacyID)
	}
	if f.PharmacistID != "" {
		where = append(where, "pharmacist_id = ?")
		args = append(args, f.PharmacistID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}

	query := "SELECT " + contractColumns + " FROM contracts WHERE " +
		strings.Join(where, " AND ") + " ORDER BY created_at ASC"
	return queryContracts(ctx, q, query, args...)
}

// ListContractsDue selects the overdue sweep's working set: still pending
// payment, deadline day fully passed (strictly before asOf).
func (s *Store) ListContractsDue(ctx context.Context, asOf lifecycle.Date) ([]lifecycle.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listContractsDue(ctx, s.db, asOf)
}

func (ts *txStore) ListContractsDue(ctx context.Context, asOf lifecycle.Date) ([]lifecycle.Contract, error) {
	return listContractsDue(ctx, ts.tx, asOf)
}

func listContractsDue(ctx context.Context, q dbtx, asOf lifecycle.Date) ([]lifecycle.Contract, error) {
	query := "SELECT " + contractColumns + ` FROM contracts
		WHERE status = ? AND payment_deadline < ?
		ORDER BY payment_deadline ASC`
	return queryContracts(ctx, q, query, lifecycle.ContractPendingPayment, asOf.String())
}

func queryContracts(ctx context.Context, q dbtx, query string, args ...any) ([]lifecycle.Contract, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contracts: %w", err)
	}
	defer rows.Close()

	var contracts []lifecycle.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
	}
	return contracts, rows.Err()
}

func scanContract(rows *sql.Rows) (lifecycle.Contract, error) {
	var (
		c                  lifecycle.Contract
		workDate, deadline string
		workHours, reason  sql.NullString
		createdAt          string
		approvedAt         sql.NullString
		confirmedAt        sql.NullString
		cancelledAt        sql.NullString
		completedAt        sql.NullString
	)
	err := rows.Scan(
		&c.ID, &c.ApplicationID, &c.PharmacyID, &c.PharmacistID, &c.JobPostingID,
		&workDate, &c.WorkDays, &workHours, &c.DailyWage,
		&c.TotalCompensation, &c.PlatformFee, &deadline,
		&c.Status, &reason,
		&createdAt, &approvedAt, &confirmedAt, &cancelledAt, &completedAt,
	)
	if err != nil {
		return c, fmt.Errorf("failed to scan contract: %w", err)
	}
	c.InitialWorkDate, _ = lifecycle.ParseDate(workDate)
	c.PaymentDeadline, _ = lifecycle.ParseDate(deadline)
	c.WorkHours = workHours.String
	c.CancellationReason = reason.String
	c.CreatedAt = parseTime(createdAt)
	c.ApprovedAt = parseTimePtr(approvedAt)
	c.PaymentConfirmedAt = parseTimePtr(confirmedAt)
	c.CancelledAt = parseTimePtr(cancelledAt)
	c.CompletedAt = parseTimePtr(completedAt)
	return c, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = `id, contract_id, pharmacy_id, amount, status,
	payment_date, transfer_name, confirmation_note,
	created_at, reported_at, confirmed_at`

func (s *Store) SavePayment(ctx context.Context, p lifecycle.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return savePayment(ctx, s.db, p)
}

func (ts *txStore) SavePayment(ctx context.Context, p lifecycle.Payment) error {
	return savePayment(ctx, ts.tx, p)
}

func savePayment(ctx context.Context, q dbtx, p lifecycle.Payment) error {
	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		p.ID, p.ContractID, p.PharmacyID, p.Amount, p.Status,
		formatDatePtr(p.PaymentDate), p.TransferName, p.ConfirmationNote,
		formatTime(p.CreatedAt), formatTimePtr(p.ReportedAt), formatTimePtr(p.ConfirmedAt),
	)
	if err != nil && isUniqueConstraintError(err) {
		return &lifecycle.ConflictError{Entity: "payment", Against: "contract " + string(p.ContractID)}
	}
	return err
}

func (s *Store) GetPayment(ctx context.Context, id lifecycle.PaymentID) (*lifecycle.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPaymentWhere(ctx, s.db, "id = ?", id)
}

func (ts *txStore) GetPayment(ctx context.Context, id lifecycle.PaymentID) (*lifecycle.Payment, error) {
	return getPaymentWhere(ctx, ts.tx, "id = ?", id)
}

func (s *Store) GetPaymentByContract(ctx context.Context, id lifecycle.ContractID) (*lifecycle.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPaymentWhere(ctx, s.db, "contract_id = ?", id)
}

func (ts *txStore) GetPaymentByContract(ctx context.Context, id lifecycle.ContractID) (*lifecycle.Payment, error) {
	return getPaymentWhere(ctx, ts.tx, "contract_id = ?", id)
}

func getPaymentWhere(ctx context.Context, q dbtx, where string, arg any) (*lifecycle.Payment, error) {
	payments, err := queryPayments(ctx, q,
		"SELECT "+paymentColumns+" FROM payments WHERE "+where, arg)
	if err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		return nil, nil
	}
	return &payments[0], nil
}

func (s *Store) UpdatePayment(ctx context.Context, p lifecycle.Payment, from lifecycle.PaymentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updatePayment(ctx, s.db, p, from)
}

func (ts *txStore) UpdatePayment(ctx context.Context, p lifecycle.Payment, from lifecycle.PaymentStatus) error {
	return updatePayment(ctx, ts.tx, p, from)
}

func updatePayment(ctx context.Context, q dbtx, p lifecycle.Payment, from lifecycle.PaymentStatus) error {
	res, err := q.ExecContext(ctx, `
		UPDATE payments
		SET status = ?, payment_date = ?, transfer_name = ?, confirmation_note = ?,
		    reported_at = ?, confirmed_at = ?
		WHERE id = ? AND status = ?`,
		p.Status, formatDatePtr(p.PaymentDate), p.TransferName, p.ConfirmationNote,
		formatTimePtr(p.ReportedAt), formatTimePtr(p.ConfirmedAt),
		p.ID, from,
	)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

func (s *Store) ListPayments(ctx context.Context, pharmacyID lifecycle.PharmacyID) ([]lifecycle.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPayments(ctx, s.db, pharmacyID)
}

func (ts *txStore) ListPayments(ctx context.Context, pharmacyID lifecycle.PharmacyID) ([]lifecycle.Payment, error) {
	return listPayments(ctx, ts.tx, pharmacyID)
}

func listPayments(ctx context.Context, q dbtx, pharmacyID lifecycle.PharmacyID) ([]lifecycle.Payment, error) {
	query := "SELECT " + paymentColumns + " FROM payments"
	var args []any
	if pharmacyID != "" {
		query += " WHERE pharmacy_id = ?"
		args = append(args, pharmacyID)
	}
	query += " ORDER BY created_at ASC"
	return queryPayments(ctx, q, query, args...)
}

func queryPayments(ctx context.Context, q dbtx, query string, args ...any) ([]lifecycle.Payment, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []lifecycle.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func scanPayment(rows *sql.Rows) (lifecycle.Payment, error) {
	var (
		p                       lifecycle.Payment
		paymentDate             sql.NullString
		transferName, confNote  sql.NullString
		createdAt               string
		reportedAt, confirmedAt sql.NullString
	)
	err := rows.Scan(
		&p.ID, &p.ContractID, &p.PharmacyID, &p.Amount, &p.Status,
		&paymentDate, &transferName, &confNote,
		&createdAt, &reportedAt, &confirmedAt,
	)
	if err != nil {
		return p, fmt.Errorf("failed to scan payment: %w", err)
	}
	if paymentDate.Valid && paymentDate.String != "" {
		d, _ := lifecycle.ParseDate(paymentDate.String)
		p.PaymentDate = &d
	}
	p.TransferName = transferName.String
	p.ConfirmationNote = confNote.String
	p.CreatedAt = parseTime(createdAt)
	p.ReportedAt = parseTimePtr(reportedAt)
	p.ConfirmedAt = parseTimePtr(confirmedAt)
	return p, nil
}

// =============================================================================
// PENALTIES
// =============================================================================

const penaltyColumns = `id, pharmacy_id, contract_id, penalty_type, reason, status,
	resolution_request_note, resolution_note,
	imposed_at, resolution_requested_at, resolved_at`

func (s *Store) SavePenalty(ctx context.Context, p lifecycle.Penalty) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return savePenalty(ctx, s.db, p)
}

func (ts *txStore) SavePenalty(ctx context.Context, p lifecycle.Penalty) error {
	return savePenalty(ctx, ts.tx, p)
}

func savePenalty(ctx context.Context, q dbtx, p lifecycle.Penalty) error {
	var contractID any
	if p.ContractID != nil {
		contractID = string(*p.ContractID)
	}
	query := `
		INSERT INTO penalties (` + penaltyColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		p.ID, p.PharmacyID, contractID, p.Type, p.Reason, p.Status,
		p.ResolutionRequestNote, p.ResolutionNote,
		formatTime(p.ImposedAt), formatTimePtr(p.ResolutionRequestedAt), formatTimePtr(p.ResolvedAt),
	)
	return err
}

func (s *Store) GetPenalty(ctx context.Context, id lifecycle.PenaltyID) (*lifecycle.Penalty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPenalty(ctx, s.db, id)
}

func (ts *txStore) GetPenalty(ctx context.Context, id lifecycle.PenaltyID) (*lifecycle.Penalty, error) {
	return getPenalty(ctx, ts.tx, id)
}

func getPenalty(ctx context.Context, q dbtx, id lifecycle.PenaltyID) (*lifecycle.Penalty, error) {
	penalties, err := queryPenalties(ctx, q,
		"SELECT "+penaltyColumns+" FROM penalties WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(penalties) == 0 {
		return nil, nil
	}
	return &penalties[0], nil
}

func (s *Store) UpdatePenalty(ctx context.Context, p lifecycle.Penalty, from lifecycle.PenaltyStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updatePenalty(ctx, s.db, p, from)
}

func (ts *txStore) UpdatePenalty(ctx context.Context, p lifecycle.Penalty, from lifecycle.PenaltyStatus) error {
	return updatePenalty(ctx, ts.tx, p, from)
}

func updatePenalty(ctx context.Context, q dbtx, p lifecycle.Penalty, from lifecycle.PenaltyStatus) error {
	res, err := q.ExecContext(ctx, `
		UPDATE penalties
		SET status = ?, resolution_request_note = ?, resolution_note = ?,
		    resolution_requested_at = ?, resolved_at = ?
		WHERE id = ? AND status = ?`,
		p.Status, p.ResolutionRequestNote, p.ResolutionNote,
		formatTimePtr(p.ResolutionRequestedAt), formatTimePtr(p.ResolvedAt),
		p.ID, from,
	)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

func (s *Store) ListPenalties(ctx context.Context, pharmacyID lifecycle.PharmacyID) ([]lifecycle.Penalty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPenalties(ctx, s.db, pharmacyID)
}

func (ts *txStore) ListPenalties(ctx context.Context, pharmacyID lifecycle.PharmacyID) ([]lifecycle.Penalty, error) {
	return listPenalties(ctx, ts.tx, pharmacyID)
}

func listPenalties(ctx context.Context, q dbtx, pharmacyID lifecycle.PharmacyID) ([]lifecycle.Penalty, error) {
	query := "SELECT " + penaltyColumns + " FROM penalties"
	var args []any
	if pharmacyID != "" {
		query += " WHERE pharmacy_id = ?"
		args = append(args, pharmacyID)
	}
	query += " ORDER BY imposed_at ASC"
	return queryPenalties(ctx, q, query, args...)
}

func queryPenalties(ctx context.Context, q dbtx, query string, args ...any) ([]lifecycle.Penalty, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query penalties: %w", err)
	}
	defer rows.Close()

	var penalties []lifecycle.Penalty
	for rows.Next() {
		p, err := scanPenalty(rows)
		if err != nil {
			return nil, err
		}
		penalties = append(penalties, p)
	}
	return penalties, rows.Err()
}

func scanPenalty(rows *sql.Rows) (lifecycle.Penalty, error) {
	var (
		p                    lifecycle.Penalty
		contractID           sql.NullString
		requestNote, resNote sql.NullString
		imposedAt            string
		requestedAt          sql.NullString
		resolvedAt           sql.NullString
	)
	err := rows.Scan(
		&p.ID, &p.PharmacyID, &contractID, &p.Type, &p.Reason, &p.Status,
		&requestNote, &resNote,
		&imposedAt, &requestedAt, &resolvedAt,
	)
	if err != nil {
		return p, fmt.Errorf("failed to scan penalty: %w", err)
	}
	if contractID.Valid && contractID.String != "" {
		cid := lifecycle.ContractID(contractID.String)
		p.ContractID = &cid
	}
	p.ResolutionRequestNote = requestNote.String
	p.ResolutionNote = resNote.String
	p.ImposedAt = parseTime(imposedAt)
	p.ResolutionRequestedAt = parseTimePtr(requestedAt)
	p.ResolvedAt = parseTimePtr(resolvedAt)
	return p, nil
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (s *Store) SavePharmacy(ctx context.Context, p lifecycle.Pharmacy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return savePharmacy(ctx, s.db, p)
}

func (ts *txStore) SavePharmacy(ctx context.Context, p lifecycle.Pharmacy) error {
	return savePharmacy(ctx, ts.tx, p)
}

func savePharmacy(ctx context.Context, q dbtx, p lifecycle.Pharmacy) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO pharmacies (id, name, address, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, address = excluded.address`,
		p.ID, p.Name, p.Address, formatTime(p.CreatedAt),
	)
	return err
}

func (s *Store) GetPharmacy(ctx context.Context, id lifecycle.PharmacyID) (*lifecycle.Pharmacy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPharmacy(ctx, s.db, id)
}

func (ts *txStore) GetPharmacy(ctx context.Context, id lifecycle.PharmacyID) (*lifecycle.Pharmacy, error) {
	return getPharmacy(ctx, ts.tx, id)
}

func getPharmacy(ctx context.Context, q dbtx, id lifecycle.PharmacyID) (*lifecycle.Pharmacy, error) {
	var (
		p         lifecycle.Pharmacy
		address   sql.NullString
		createdAt string
	)
	err := q.QueryRowContext(ctx,
		"SELECT id, name, address, created_at FROM pharmacies WHERE id = ?", id,
	).Scan(&p.ID, &p.Name, &address, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Address = address.String
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

func (s *Store) SavePharmacist(ctx context.Context, p lifecycle.Pharmacist) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return savePharmacist(ctx, s.db, p)
}

func (ts *txStore) SavePharmacist(ctx context.Context, p lifecycle.Pharmacist) error {
	return savePharmacist(ctx, ts.tx, p)
}

func savePharmacist(ctx context.Context, q dbtx, p lifecycle.Pharmacist) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO pharmacists (id, name, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		p.ID, p.Name, formatTime(p.CreatedAt),
	)
	return err
}

func (s *Store) GetPharmacist(ctx context.Context, id lifecycle.PharmacistID) (*lifecycle.Pharmacist, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPharmacist(ctx, s.db, id)
}

func (ts *txStore) GetPharmacist(ctx context.Context, id lifecycle.PharmacistID) (*lifecycle.Pharmacist, error) {
	return getPharmacist(ctx, ts.tx, id)
}

func getPharmacist(ctx context.Context, q dbtx, id lifecycle.PharmacistID) (*lifecycle.Pharmacist, error) {
	var (
		p         lifecycle.Pharmacist
		createdAt string
	)
	err := q.QueryRowContext(ctx,
		"SELECT id, name, created_at FROM pharmacists WHERE id = ?", id,
	).Scan(&p.ID, &p.Name, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

func (s *Store) SaveJobPosting(ctx context.Context, jp lifecycle.JobPosting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveJobPosting(ctx, s.db, jp)
}

func (ts *txStore) SaveJobPosting(ctx context.Context, jp lifecycle.JobPosting) error {
	return saveJobPosting(ctx, ts.tx, jp)
}

func saveJobPosting(ctx context.Context, q dbtx, jp lifecycle.JobPosting) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO job_postings (id, pharmacy_id, title, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET pharmacy_id = excluded.pharmacy_id, title = excluded.title`,
		jp.ID, jp.PharmacyID, jp.Title, formatTime(jp.CreatedAt),
	)
	return err
}

func (s *Store) GetJobPosting(ctx context.Context, id lifecycle.JobPostingID) (*lifecycle.JobPosting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getJobPosting(ctx, s.db, id)
}

func (ts *txStore) GetJobPosting(ctx context.Context, id lifecycle.JobPostingID) (*lifecycle.JobPosting, error) {
	return getJobPosting(ctx, ts.tx, id)
}

func getJobPosting(ctx context.Context, q dbtx, id lifecycle.JobPostingID) (*lifecycle.JobPosting, error) {
	var (
		jp        lifecycle.JobPosting
		createdAt string
	)
	err := q.QueryRowContext(ctx,
		"SELECT id, pharmacy_id, title, created_at FROM job_postings WHERE id = ?", id,
	).Scan(&jp.ID, &jp.PharmacyID, &jp.Title, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	jp.CreatedAt = parseTime(createdAt)
	return &jp, nil
}

// =============================================================================
// SWEEP RUNS
// =============================================================================

func (s *Store) SaveSweepRun(ctx context.Context, run lifecycle.SweepRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveSweepRun(ctx, s.db, run)
}

func (ts *txStore) SaveSweepRun(ctx context.Context, run lifecycle.SweepRun) error {
	return saveSweepRun(ctx, ts.tx, run)
}

func saveSweepRun(ctx context.Context, q dbtx, run lifecycle.SweepRun) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO sweep_runs (id, as_of, matched, cancelled, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.AsOf.String(), run.Matched, run.Cancelled, run.Error,
		formatTime(run.StartedAt), formatTimePtr(run.CompletedAt),
	)
	return err
}

func (s *Store) ListSweepRuns(ctx context.Context) ([]lifecycle.SweepRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listSweepRuns(ctx, s.db)
}

func (ts *txStore) ListSweepRuns(ctx context.Context) ([]lifecycle.SweepRun, error) {
	return listSweepRuns(ctx, ts.tx)
}

func listSweepRuns(ctx context.Context, q dbtx) ([]lifecycle.SweepRun, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, as_of, matched, cancelled, error, started_at, completed_at
		FROM sweep_runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []lifecycle.SweepRun
	for rows.Next() {
		var (
			run         lifecycle.SweepRun
			asOf        string
			errText     sql.NullString
			startedAt   string
			completedAt sql.NullString
		)
		if err := rows.Scan(&run.ID, &asOf, &run.Matched, &run.Cancelled, &errText, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		run.AsOf, _ = lifecycle.ParseDate(asOf)
		run.Error = errText.String
		run.StartedAt = parseTime(startedAt)
		run.CompletedAt = parseTimePtr(completedAt)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return lifecycle.ErrConcurrentModification
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func formatDatePtr(d *lifecycle.Date) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
