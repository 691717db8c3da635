/*
Package sqlite provides a SQLite-backed implementation of the ledger storage
interfaces.

PURPOSE:
  Implements ledger.Repository (entries, units, tenancies) on SQLite. The
  PostgreSQL store in store/postgres follows the same schema with dialect
  differences only.

APPEND-ONLY ENFORCEMENT:
  ledger_entries has no UPDATE or DELETE path. Corrections are new entries.
  Tenancies are updated only to set move_out_date.

KEY TABLES:
  units:          Rentable units
  tenancies:      Tenants occupying units (never deleted)
  ledger_entries: Immutable CHARGE / PAYMENT records

UNIQUENESS:
  - idempotency_key UNIQUE: one entry per key
  - idx_unique_rent_charge: one rent CHARGE per (tenancy, period), even for
    a writer that forgot the idempotency key
  Both surface as ledger.ErrDuplicateIdempotencyKey.

CONCURRENCY:
  Uses sync.RWMutex so concurrent charge workers serialize their writes
  instead of hitting SQLITE_BUSY.

USAGE:
  store, err := sqlite.New("./data/rent.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := rent.NewEngine(store, notifier)
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/rent-ledger/ledger"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = time.RFC3339Nano
)

// Store implements ledger.Repository using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ ledger.Repository = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// DB exposes the handle for the Prometheus DB stats collector.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS units (
		id TEXT PRIMARY KEY,
		building_name TEXT NOT NULL DEFAULT '',
		unit_number TEXT NOT NULL,
		monthly_rent TEXT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'VACANT',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tenancies (
		id TEXT PRIMARY KEY,
		unit_id TEXT NOT NULL DEFAULT '',
		unit_label TEXT NOT NULL DEFAULT '',
		tenant_name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		monthly_rent TEXT NOT NULL,
		deposit TEXT NOT NULL DEFAULT '0',
		currency TEXT NOT NULL,
		move_in_date TEXT NOT NULL,
		move_out_date TEXT,
		created_at TEXT NOT NULL
	);

	-- Active tenancy lookups (move_out_date IS NULL OR move_out_date > ?)
	CREATE INDEX IF NOT EXISTS idx_tenancies_move_out
		ON tenancies(move_out_date);
	CREATE INDEX IF NOT EXISTS idx_tenancies_unit
		ON tenancies(unit_id);

	-- Ledger entries (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		tenancy_id TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('CHARGE', 'PAYMENT')),
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		transaction_date TEXT NOT NULL,
		description TEXT NOT NULL,
		payment_method TEXT,
		reference_number TEXT,
		notes TEXT,
		period_key TEXT,
		idempotency_key TEXT UNIQUE,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- Balance and statement queries (hot path)
	CREATE INDEX IF NOT EXISTS idx_entries_tenancy_date
		ON ledger_entries(tenancy_id, transaction_date, created_at);

	-- Idempotency lookup by description
	CREATE INDEX IF NOT EXISTS idx_entries_tenancy_description
		ON ledger_entries(tenancy_id, description) WHERE kind = 'CHARGE';

	-- CRITICAL: one rent charge per tenancy per billing period
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_rent_charge
		ON ledger_entries(tenancy_id, period_key)
		WHERE kind = 'CHARGE' AND idempotency_key LIKE 'rent:%';
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

const entryColumns = `id, tenancy_id, kind, amount, currency, transaction_date, description,
	payment_method, reference_number, notes, period_key, idempotency_key, created_by, created_at`

// Append persists a single entry.
func (s *Store) Append(ctx context.Context, e ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.ID),
		string(e.TenancyID),
		string(e.Kind),
		e.Amount.Value.String(),
		string(e.Amount.Currency),
		e.TransactionDate.Format(dateLayout),
		e.Description,
		nullString(string(e.PaymentMethod)),
		nullString(e.ReferenceNumber),
		nullString(e.Notes),
		nullString(e.PeriodKey),
		nullString(e.IdempotencyKey),
		e.CreatedBy,
		e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

// Entries returns a tenancy's entries by transaction date then creation time.
func (s *Store) Entries(ctx context.Context, id ledger.TenancyID) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE tenancy_id = ?
		ORDER BY transaction_date, created_at`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) FindChargeByDescription(ctx context.Context, id ledger.TenancyID, description string) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE tenancy_id = ? AND kind = 'CHARGE' AND description = ?
		ORDER BY created_at LIMIT 1`, string(id), description)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ledger_entries WHERE idempotency_key = ?",
		idempotencyKey).Scan(&count)
	return count > 0, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (ledger.Entry, error) {
	var (
		e                                                   ledger.Entry
		id, tenancyID, kind, amount, currency               string
		txDate, createdAt                                   string
		method, reference, notes, periodKey, idempotencyKey sql.NullString
	)
	err := row.Scan(&id, &tenancyID, &kind, &amount, &currency, &txDate, &e.Description,
		&method, &reference, &notes, &periodKey, &idempotencyKey, &e.CreatedBy, &createdAt)
	if err != nil {
		return ledger.Entry{}, err
	}

	e.ID = ledger.EntryID(id)
	e.TenancyID = ledger.TenancyID(tenancyID)
	e.Kind = ledger.EntryKind(kind)
	if e.Amount, err = ledger.NewMoneyFromString(amount, ledger.Currency(currency)); err != nil {
		return ledger.Entry{}, fmt.Errorf("entry %s: bad amount %q: %w", id, amount, err)
	}
	if e.TransactionDate, err = parseTime("entry", id, "transaction_date", dateLayout, txDate); err != nil {
		return ledger.Entry{}, err
	}
	if e.CreatedAt, err = parseTime("entry", id, "created_at", timeLayout, createdAt); err != nil {
		return ledger.Entry{}, err
	}
	e.PaymentMethod = ledger.PaymentMethod(method.String)
	e.ReferenceNumber = reference.String
	e.Notes = notes.String
	e.PeriodKey = periodKey.String
	e.IdempotencyKey = idempotencyKey.String
	return e, nil
}

// =============================================================================
// UNITS
// =============================================================================

const unitColumns = `id, building_name, unit_number, monthly_rent, currency, status, created_at`

func (s *Store) SaveUnit(ctx context.Context, u ledger.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.Status == "" {
		u.Status = ledger.UnitVacant
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO units (`+unitColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			building_name = excluded.building_name,
			unit_number = excluded.unit_number,
			monthly_rent = excluded.monthly_rent,
			currency = excluded.currency,
			status = excluded.status`,
		string(u.ID), u.BuildingName, u.UnitNumber,
		u.MonthlyRent.Value.String(), currencyOf(u.MonthlyRent),
		string(u.Status), u.CreatedAt.Format(timeLayout),
	)
	return err
}

func (s *Store) GetUnit(ctx context.Context, id ledger.UnitID) (*ledger.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+unitColumns+" FROM units WHERE id = ?", string(id))
	u, err := scanUnit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrUnitNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) ListUnits(ctx context.Context) ([]ledger.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+unitColumns+" FROM units ORDER BY building_name, unit_number")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanUnit(row scanner) (ledger.Unit, error) {
	var (
		u                             ledger.Unit
		id, rent, currency, status, c string
	)
	if err := row.Scan(&id, &u.BuildingName, &u.UnitNumber, &rent, &currency, &status, &c); err != nil {
		return ledger.Unit{}, err
	}
	var err error
	u.ID = ledger.UnitID(id)
	if u.MonthlyRent, err = ledger.NewMoneyFromString(rent, ledger.Currency(currency)); err != nil {
		return ledger.Unit{}, fmt.Errorf("unit %s: bad monthly_rent %q: %w", id, rent, err)
	}
	u.Status = ledger.UnitStatus(status)
	if u.CreatedAt, err = parseTime("unit", id, "created_at", timeLayout, c); err != nil {
		return ledger.Unit{}, err
	}
	return u, nil
}

// =============================================================================
// TENANCIES
// =============================================================================

const tenancyColumns = `id, unit_id, unit_label, tenant_name, email, phone, monthly_rent, deposit,
	currency, move_in_date, move_out_date, created_at`

// SaveTenancy creates or replaces a tenancy and marks its unit occupied.
func (s *Store) SaveTenancy(ctx context.Context, t ledger.Tenancy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO tenancies (`+tenancyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			unit_id = excluded.unit_id,
			unit_label = excluded.unit_label,
			tenant_name = excluded.tenant_name,
			email = excluded.email,
			phone = excluded.phone,
			monthly_rent = excluded.monthly_rent,
			deposit = excluded.deposit,
			currency = excluded.currency,
			move_in_date = excluded.move_in_date,
			move_out_date = excluded.move_out_date`,
		string(t.ID), string(t.UnitID), t.UnitLabel, t.TenantName, t.Email, t.Phone,
		t.MonthlyRent.Value.String(), t.Deposit.Value.String(), currencyOf(t.MonthlyRent),
		t.MoveInDate.Format(dateLayout), nullDate(t.MoveOutDate), t.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save tenancy: %w", err)
	}

	if t.UnitID != "" && t.MoveOutDate == nil {
		if _, err := sqlTx.ExecContext(ctx,
			"UPDATE units SET status = ? WHERE id = ?",
			string(ledger.UnitOccupied), string(t.UnitID)); err != nil {
			return err
		}
	}
	return sqlTx.Commit()
}

func (s *Store) GetTenancy(ctx context.Context, id ledger.TenancyID) (*ledger.Tenancy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTenancy(ctx, s.db, id)
}

// ListTenancies returns tenancies newest move-in first, ties by ID.
func (s *Store) ListTenancies(ctx context.Context) ([]ledger.Tenancy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryTenancies(ctx, `
		SELECT `+tenancyColumns+` FROM tenancies
		ORDER BY move_in_date DESC, id`)
}

// ListActiveTenancies is the SQL form of Tenancy.IsActive.
func (s *Store) ListActiveTenancies(ctx context.Context, asOf time.Time) ([]ledger.Tenancy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryTenancies(ctx, `
		SELECT `+tenancyColumns+` FROM tenancies
		WHERE move_out_date IS NULL OR move_out_date > ?
		ORDER BY move_in_date DESC, id`, ledger.Date(asOf).Format(dateLayout))
}

// MoveOut sets the move-out date and frees the unit if nobody else lives
// there.
func (s *Store) MoveOut(ctx context.Context, id ledger.TenancyID, date time.Time) (*ledger.Tenancy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	t, err := getTenancy(ctx, sqlTx, id)
	if err != nil {
		return nil, err
	}
	if err := t.MoveOut(date); err != nil {
		return nil, err
	}
	if _, err := sqlTx.ExecContext(ctx,
		"UPDATE tenancies SET move_out_date = ? WHERE id = ? AND move_out_date IS NULL",
		t.MoveOutDate.Format(dateLayout), string(id)); err != nil {
		return nil, err
	}

	if t.UnitID != "" {
		_, err = sqlTx.ExecContext(ctx, `
			UPDATE units SET status = ?
			WHERE id = ? AND NOT EXISTS (
				SELECT 1 FROM tenancies
				WHERE unit_id = ? AND id != ? AND move_out_date IS NULL
			)`,
			string(ledger.UnitVacant), string(t.UnitID), string(t.UnitID), string(id))
		if err != nil {
			return nil, err
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return nil, err
	}
	return t, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getTenancy(ctx context.Context, q querier, id ledger.TenancyID) (*ledger.Tenancy, error) {
	row := q.QueryRowContext(ctx, "SELECT "+tenancyColumns+" FROM tenancies WHERE id = ?", string(id))
	t, err := scanTenancy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrTenancyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) queryTenancies(ctx context.Context, query string, args ...any) ([]ledger.Tenancy, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Tenancy
	for rows.Next() {
		t, err := scanTenancy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTenancy(row scanner) (ledger.Tenancy, error) {
	var (
		t                                           ledger.Tenancy
		id, unitID, rent, deposit, currency, moveIn string
		createdAt                                   string
		moveOut                                     sql.NullString
	)
	err := row.Scan(&id, &unitID, &t.UnitLabel, &t.TenantName, &t.Email, &t.Phone,
		&rent, &deposit, &currency, &moveIn, &moveOut, &createdAt)
	if err != nil {
		return ledger.Tenancy{}, err
	}
	cur := ledger.Currency(currency)
	t.ID = ledger.TenancyID(id)
	t.UnitID = ledger.UnitID(unitID)
	if t.MonthlyRent, err = ledger.NewMoneyFromString(rent, cur); err != nil {
		return ledger.Tenancy{}, fmt.Errorf("tenancy %s: bad monthly_rent %q: %w", id, rent, err)
	}
	if t.Deposit, err = ledger.NewMoneyFromString(deposit, cur); err != nil {
		return ledger.Tenancy{}, fmt.Errorf("tenancy %s: bad deposit %q: %w", id, deposit, err)
	}
	if t.MoveInDate, err = parseTime("tenancy", id, "move_in_date", dateLayout, moveIn); err != nil {
		return ledger.Tenancy{}, err
	}
	if moveOut.Valid {
		d, err := parseTime("tenancy", id, "move_out_date", dateLayout, moveOut.String)
		if err != nil {
			return ledger.Tenancy{}, err
		}
		t.MoveOutDate = &d
	}
	if t.CreatedAt, err = parseTime("tenancy", id, "created_at", timeLayout, createdAt); err != nil {
		return ledger.Tenancy{}, err
	}
	return t, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// parseTime reads a stored date or timestamp; a row that doesn't parse is
// reported rather than read as the zero time.
func parseTime(table, id, column, layout, value string) (time.Time, error) {
	t, err := time.Parse(layout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s %s: bad %s %q: %w", table, id, column, value, err)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: ledger.Date(*t).Format(dateLayout), Valid: true}
}

func currencyOf(m ledger.Money) string {
	if m.Currency == "" {
		return string(ledger.DefaultCurrency)
	}
	return string(m.Currency)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
