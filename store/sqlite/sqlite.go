/*
Package sqlite provides a SQLite-backed implementation of loan storage.

PURPOSE:
  Implements loan.Store plus product-config persistence using SQLite. In
  production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

WHAT IS STORED:
  Only the loan's immutable facts: the header, the pristine schedule dues
  and the append-only transaction history. Paid/waived amounts, completion
  and status are derived, so they are recomputed by replaying the history
  on load instead of being persisted and kept in sync.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on loan_transactions
  - No DELETE statements on loan_transactions
  - Corrections enter the ledger as refunds, never as edits

KEY TABLES:
  loans:             Loan headers (product, policy, currency)
  installments:      Pristine schedule dues per loan
  loan_transactions: Immutable transaction ledger
  products:          Loan product JSON configs (versioned)

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/loans.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - loan/store.go: Interface definition
  - store/memory: In-memory implementation for testing
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
	"github.com/warp/repayment-engine/allocation"
	"github.com/warp/repayment-engine/loan"
	"github.com/warp/repayment-engine/money"
	"github.com/warp/repayment-engine/schedule"
)

// Store implements loan.Store and product persistence using SQLite.
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
	-- Loan headers
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		product_code TEXT NOT NULL,
		policy_code TEXT NOT NULL,
		currency_code TEXT NOT NULL,
		decimal_places INTEGER NOT NULL,
		in_multiples_of INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_loans_product
		ON loans(product_code);

	-- Pristine schedule dues per loan (no derived amounts)
	CREATE TABLE IF NOT EXISTS installments (
		loan_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		due_date TEXT NOT NULL,
		principal_due TEXT NOT NULL,
		interest_due TEXT NOT NULL,
		fee_due TEXT NOT NULL,
		penalty_due TEXT NOT NULL,
		PRIMARY KEY (loan_id, number),
		FOREIGN KEY (loan_id) REFERENCES loans(id)
	);

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS loan_transactions (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		txn_date TEXT NOT NULL,
		penalty_only INTEGER NOT NULL DEFAULT 0,
		penalty_share TEXT,
		created_at TEXT NOT NULL,
		FOREIGN KEY (loan_id) REFERENCES loans(id)
	);

	CREATE INDEX IF NOT EXISTS idx_loan_transactions_loan
		ON loan_transactions(loan_id, created_at);

	-- Loan products (versioned JSON configs)
	CREATE TABLE IF NOT EXISTS products (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		config_json TEXT NOT NULL,
		version INTEGER DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LOAN STORE (loan.Store interface)
// =============================================================================

// CreateLoan stores the header and pristine schedule of a new loan.
func (s *Store) CreateLoan(ctx context.Context, l *loan.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO loans (id, product_code, policy_code, currency_code, decimal_places, in_multiples_of, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.ProductCode, string(l.PolicyCode()),
		l.Currency.Code, l.Currency.DecimalPlaces, l.Currency.InMultiplesOf,
		now,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return loan.ErrDuplicateLoan
		}
		return fmt.Errorf("failed to insert loan: %w", err)
	}

	for _, inst := range l.Schedule {
		_, err = sqlTx.ExecContext(ctx, `
			INSERT INTO installments (loan_id, number, due_date, principal_due, interest_due, fee_due, penalty_due)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			l.ID, inst.Number, inst.DueDate.Format(time.RFC3339),
			inst.Principal.Due.Amount().String(),
			inst.Interest.Due.Amount().String(),
			inst.Fee.Due.Amount().String(),
			inst.Penalty.Due.Amount().String(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert installment %d: %w", inst.Number, err)
		}
	}

	for _, tx := range l.Transactions {
		if err := appendTx(ctx, sqlTx, l.ID, tx); err != nil {
			return err
		}
	}

	return sqlTx.Commit()
}

// AppendTransaction adds one processed transaction to a loan's history.
func (s *Store) AppendTransaction(ctx context.Context, loanID string, tx *allocation.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.loanExists(ctx, loanID)
	if err != nil {
		return err
	}
	if !exists {
		return loan.ErrNotFound
	}
	return appendTx(ctx, s.db, loanID, tx)
}

func appendTx(ctx context.Context, db interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, loanID string, tx *allocation.Transaction) error {
	penaltyOnly := 0
	if tx.IsPenaltyPayment() {
		penaltyOnly = 1
	}
	var penaltyShare *string
	if tx.IsChargesWaiver() {
		v := tx.PenaltyShare().Amount().String()
		penaltyShare = &v
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO loan_transactions (id, loan_id, kind, amount, txn_date, penalty_only, penalty_share, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, loanID, string(tx.Kind),
		tx.Amount.Amount().String(),
		tx.Date.Format(time.RFC3339),
		penaltyOnly, penaltyShare,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// GetLoan reconstructs a loan by replaying its history.
func (s *Store) GetLoan(ctx context.Context, id string) (*loan.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.loadLoan(ctx, id)
}

// ListLoans reconstructs every stored loan, oldest first.
func (s *Store) ListLoans(ctx context.Context) ([]*loan.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id FROM loans ORDER BY created_at ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	loans := make([]*loan.Loan, 0, len(ids))
	for _, id := range ids {
		l, err := s.loadLoan(ctx, id)
		if err != nil {
			return nil, err
		}
		loans = append(loans, l)
	}
	return loans, nil
}

func (s *Store) loadLoan(ctx context.Context, id string) (*loan.Loan, error) {
	var (
		productCode, policyCode, currencyCode string
		decimalPlaces                         int32
		inMultiplesOf                         int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT product_code, policy_code, currency_code, decimal_places, in_multiples_of FROM loans WHERE id = ?",
		id,
	).Scan(&productCode, &policyCode, &currencyCode, &decimalPlaces, &inMultiplesOf)
	if err == sql.ErrNoRows {
		return nil, loan.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load loan %s: %w", id, err)
	}

	currency := money.NewCurrency(currencyCode, decimalPlaces, inMultiplesOf)

	installments, err := s.loadInstallments(ctx, id, currency)
	if err != nil {
		return nil, err
	}
	history, err := s.loadTransactions(ctx, id, currency)
	if err != nil {
		return nil, err
	}

	return loan.Restore(id, productCode, currency, allocation.PolicyCode(policyCode), installments, history)
}

func (s *Store) loadInstallments(ctx context.Context, loanID string, currency *money.Currency) (schedule.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT number, due_date, principal_due, interest_due, fee_due, penalty_due
		FROM installments
		WHERE loan_id = ?
		ORDER BY number ASC`, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load installments: %w", err)
	}
	defer rows.Close()

	var installments schedule.Schedule
	for rows.Next() {
		var (
			number                                       int
			dueDate, principal, interest, fee, penalty string
		)
		if err := rows.Scan(&number, &dueDate, &principal, &interest, &fee, &penalty); err != nil {
			return nil, err
		}

		due, err := time.Parse(time.RFC3339, dueDate)
		if err != nil {
			return nil, fmt.Errorf("installment %d: bad due date: %w", number, err)
		}
		amounts := make([]money.Money, 4)
		for i, raw := range []string{principal, interest, fee, penalty} {
			amounts[i], err = money.NewFromString(currency, raw)
			if err != nil {
				return nil, fmt.Errorf("installment %d: bad amount: %w", number, err)
			}
		}

		inst, err := schedule.NewInstallment(number, due, amounts[0], amounts[1], amounts[2], amounts[3])
		if err != nil {
			return nil, fmt.Errorf("installment %d: %w", number, err)
		}
		installments = append(installments, inst)
	}
	return installments, rows.Err()
}

func (s *Store) loadTransactions(ctx context.Context, loanID string, currency *money.Currency) ([]*allocation.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, amount, txn_date, penalty_only, penalty_share
		FROM loan_transactions
		WHERE loan_id = ?
		ORDER BY created_at ASC, rowid ASC`, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	defer rows.Close()

	var history []*allocation.Transaction
	for rows.Next() {
		var (
			id, kind, amountRaw, txnDate string
			penaltyOnly                  int
			penaltyShare                 sql.NullString
		)
		if err := rows.Scan(&id, &kind, &amountRaw, &txnDate, &penaltyOnly, &penaltyShare); err != nil {
			return nil, err
		}

		amount, err := money.NewFromString(currency, amountRaw)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: bad amount: %w", id, err)
		}
		date, err := time.Parse(time.RFC3339, txnDate)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: bad date: %w", id, err)
		}

		var tx *allocation.Transaction
		switch allocation.Kind(kind) {
		case allocation.KindRepayment:
			tx = allocation.NewRepayment(amount, date)
		case allocation.KindInterestWaiver:
			tx = allocation.NewInterestWaiver(amount, date)
		case allocation.KindChargesWaiver:
			share := money.Zero(currency)
			if penaltyShare.Valid {
				share, err = money.NewFromString(currency, penaltyShare.String)
				if err != nil {
					return nil, fmt.Errorf("transaction %s: bad penalty share: %w", id, err)
				}
			}
			tx = allocation.NewChargesWaiver(amount, share, date)
		case allocation.KindChargePayment:
			tx = allocation.NewChargePayment(amount, date, penaltyOnly == 1)
		case allocation.KindRefund:
			tx = allocation.NewRefund(amount, date)
		case allocation.KindWriteOff:
			tx = allocation.NewWriteOff(amount, date)
		default:
			return nil, fmt.Errorf("transaction %s: unknown kind %q", id, kind)
		}
		tx.ID = id
		history = append(history, tx)
	}
	return history, rows.Err()
}

func (s *Store) loanExists(ctx context.Context, id string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM loans WHERE id = ?", id).Scan(&count)
	return count > 0, err
}

// =============================================================================
// PRODUCT STORE
// =============================================================================

// ProductRecord is a stored loan product with its JSON config.
type ProductRecord struct {
	Code       string
	Name       string
	ConfigJSON string
	Version    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SaveProduct saves a product record, bumping the version on update.
func (s *Store) SaveProduct(ctx context.Context, p ProductRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO products (code, name, config_json, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			config_json = excluded.config_json,
			version = products.version + 1,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, query,
		p.Code, p.Name, p.ConfigJSON, p.Version, now, now,
	)
	return err
}

// GetProduct retrieves a product by code. Returns nil if not found.
func (s *Store) GetProduct(ctx context.Context, code string) (*ProductRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p ProductRecord
	var createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx,
		"SELECT code, name, config_json, version, created_at, updated_at FROM products WHERE code = ?",
		code,
	).Scan(&p.Code, &p.Name, &p.ConfigJSON, &p.Version, &createdAt, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &p, nil
}

// ListProducts returns all products.
func (s *Store) ListProducts(ctx context.Context) ([]ProductRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT code, name, config_json, version, created_at, updated_at FROM products ORDER BY name",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []ProductRecord
	for rows.Next() {
		var p ProductRecord
		var createdAt, updatedAt string
		if err := rows.Scan(&p.Code, &p.Name, &p.ConfigJSON, &p.Version, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		products = append(products, p)
	}
	return products, rows.Err()
}

// DeleteProduct removes a product.
func (s *Store) DeleteProduct(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM products WHERE code = ?", code)
	return err
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"loan_transactions", "installments", "loans", "products"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
