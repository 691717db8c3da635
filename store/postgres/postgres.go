/*
Package postgres provides a PostgreSQL implementation of ledger.Repository.

PURPOSE:
  Production storage for multi-instance deployments. Same tables as the
  SQLite store; amounts are NUMERIC and dates are DATE.

DRIVER:
  database/sql with the pgx stdlib driver ("pgx"). Open() registers nothing
  itself; the blank import below does.

DUPLICATES:
  Appends use INSERT ... ON CONFLICT DO NOTHING. Zero rows affected means an
  idempotency key (or the one-rent-charge-per-period index) already holds
  the row, reported as ledger.ErrDuplicateIdempotencyKey. Concurrent
  charge runs on different instances therefore skip instead of failing.
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/warp/rent-ledger/ledger"
)

// Schema is applied by Migrate. Statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS units (
	id            TEXT PRIMARY KEY,
	building_name TEXT NOT NULL DEFAULT '',
	unit_number   TEXT NOT NULL,
	monthly_rent  NUMERIC(14,2) NOT NULL,
	currency      TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'VACANT',
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS tenancies (
	id            TEXT PRIMARY KEY,
	unit_id       TEXT NOT NULL DEFAULT '',
	unit_label    TEXT NOT NULL DEFAULT '',
	tenant_name   TEXT NOT NULL,
	email         TEXT NOT NULL DEFAULT '',
	phone         TEXT NOT NULL DEFAULT '',
	monthly_rent  NUMERIC(14,2) NOT NULL CHECK (monthly_rent >= 0),
	deposit       NUMERIC(14,2) NOT NULL DEFAULT 0,
	currency      TEXT NOT NULL,
	move_in_date  DATE NOT NULL,
	move_out_date DATE,
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tenancies_move_out ON tenancies(move_out_date);

CREATE TABLE IF NOT EXISTS ledger_entries (
	id               TEXT PRIMARY KEY,
	tenancy_id       TEXT NOT NULL,
	kind             TEXT NOT NULL CHECK (kind IN ('CHARGE', 'PAYMENT')),
	amount           NUMERIC(14,2) NOT NULL CHECK (amount > 0),
	currency         TEXT NOT NULL,
	transaction_date DATE NOT NULL,
	description      TEXT NOT NULL,
	payment_method   TEXT,
	reference_number TEXT,
	notes            TEXT,
	period_key       TEXT,
	idempotency_key  TEXT UNIQUE,
	created_by       TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entries_tenancy_date
	ON ledger_entries(tenancy_id, transaction_date, created_at);

CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_rent_charge
	ON ledger_entries(tenancy_id, period_key)
	WHERE kind = 'CHARGE' AND idempotency_key LIKE 'rent:%';
`

type Store struct {
	db *sql.DB
}

var _ ledger.Repository = (*Store)(nil)

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects with the pgx driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.Open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres.Open: ping: %w", err)
	}
	return NewStore(db), nil
}

func (s *Store) DB() *sql.DB   { return s.db }
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("postgres.Migrate: %w", err)
	}
	return nil
}

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

const entryColumns = `id, tenancy_id, kind, amount, currency, transaction_date, description,
	payment_method, reference_number, notes, period_key, idempotency_key, created_by, created_at`

func (s *Store) Append(ctx context.Context, e ledger.Entry) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT DO NOTHING`,
		string(e.ID), string(e.TenancyID), string(e.Kind),
		e.Amount.Value.String(), string(e.Amount.Currency),
		ledger.Date(e.TransactionDate), e.Description,
		nullString(string(e.PaymentMethod)), nullString(e.ReferenceNumber), nullString(e.Notes),
		nullString(e.PeriodKey), nullString(e.IdempotencyKey),
		e.CreatedBy, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres.Append: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres.Append: %w", err)
	}
	if n == 0 {
		return ledger.ErrDuplicateIdempotencyKey
	}
	return nil
}

func (s *Store) Entries(ctx context.Context, id ledger.TenancyID) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE tenancy_id = $1
		ORDER BY transaction_date, created_at`, string(id))
	if err != nil {
		return nil, fmt.Errorf("postgres.Entries: %w", err)
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
	row := s.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE tenancy_id = $1 AND kind = 'CHARGE' AND description = $2
		ORDER BY created_at LIMIT 1`, string(id), description)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres.FindChargeByDescription: %w", err)
	}
	return &e, nil
}

func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM ledger_entries WHERE idempotency_key = $1)",
		idempotencyKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres.Exists: %w", err)
	}
	return exists, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (ledger.Entry, error) {
	var (
		e                                                   ledger.Entry
		id, tenancyID, kind, amount, currency               string
		method, reference, notes, periodKey, idempotencyKey sql.NullString
	)
	err := row.Scan(&id, &tenancyID, &kind, &amount, &currency, &e.TransactionDate, &e.Description,
		&method, &reference, &notes, &periodKey, &idempotencyKey, &e.CreatedBy, &e.CreatedAt)
	if err != nil {
		return ledger.Entry{}, err
	}
	e.ID = ledger.EntryID(id)
	e.TenancyID = ledger.TenancyID(tenancyID)
	e.Kind = ledger.EntryKind(kind)
	if e.Amount, err = ledger.NewMoneyFromString(amount, ledger.Currency(currency)); err != nil {
		return ledger.Entry{}, fmt.Errorf("entry %s: bad amount %q: %w", id, amount, err)
	}
	e.TransactionDate = ledger.Date(e.TransactionDate)
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
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.Status == "" {
		u.Status = ledger.UnitVacant
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO units (`+unitColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			building_name = EXCLUDED.building_name,
			unit_number = EXCLUDED.unit_number,
			monthly_rent = EXCLUDED.monthly_rent,
			currency = EXCLUDED.currency,
			status = EXCLUDED.status`,
		string(u.ID), u.BuildingName, u.UnitNumber, u.MonthlyRent.Value.String(),
		currencyOf(u.MonthlyRent), string(u.Status), u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres.SaveUnit: %w", err)
	}
	return nil
}

func (s *Store) GetUnit(ctx context.Context, id ledger.UnitID) (*ledger.Unit, error) {
	u, err := scanUnit(s.db.QueryRowContext(ctx, "SELECT "+unitColumns+" FROM units WHERE id = $1", string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrUnitNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres.GetUnit: %w", err)
	}
	return &u, nil
}

func (s *Store) ListUnits(ctx context.Context) ([]ledger.Unit, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+unitColumns+" FROM units ORDER BY building_name, unit_number")
	if err != nil {
		return nil, fmt.Errorf("postgres.ListUnits: %w", err)
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
		u                          ledger.Unit
		id, rent, currency, status string
	)
	if err := row.Scan(&id, &u.BuildingName, &u.UnitNumber, &rent, &currency, &status, &u.CreatedAt); err != nil {
		return ledger.Unit{}, err
	}
	var err error
	u.ID = ledger.UnitID(id)
	if u.MonthlyRent, err = ledger.NewMoneyFromString(rent, ledger.Currency(currency)); err != nil {
		return ledger.Unit{}, fmt.Errorf("unit %s: bad monthly_rent %q: %w", id, rent, err)
	}
	u.Status = ledger.UnitStatus(status)
	return u, nil
}

// =============================================================================
// TENANCIES
// =============================================================================

const tenancyColumns = `id, unit_id, unit_label, tenant_name, email, phone, monthly_rent, deposit,
	currency, move_in_date, move_out_date, created_at`

func (s *Store) SaveTenancy(ctx context.Context, t ledger.Tenancy) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres.SaveTenancy: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tenancies (`+tenancyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			unit_id = EXCLUDED.unit_id,
			unit_label = EXCLUDED.unit_label,
			tenant_name = EXCLUDED.tenant_name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			monthly_rent = EXCLUDED.monthly_rent,
			deposit = EXCLUDED.deposit,
			currency = EXCLUDED.currency,
			move_in_date = EXCLUDED.move_in_date,
			move_out_date = EXCLUDED.move_out_date`,
		string(t.ID), string(t.UnitID), t.UnitLabel, t.TenantName, t.Email, t.Phone,
		t.MonthlyRent.Value.String(), t.Deposit.Value.String(), currencyOf(t.MonthlyRent),
		ledger.Date(t.MoveInDate), nullTime(t.MoveOutDate), t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres.SaveTenancy: %w", err)
	}
	if t.UnitID != "" && t.MoveOutDate == nil {
		if _, err := tx.ExecContext(ctx, "UPDATE units SET status = $1 WHERE id = $2",
			string(ledger.UnitOccupied), string(t.UnitID)); err != nil {
			return fmt.Errorf("postgres.SaveTenancy: unit status: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetTenancy(ctx context.Context, id ledger.TenancyID) (*ledger.Tenancy, error) {
	t, err := scanTenancy(s.db.QueryRowContext(ctx,
		"SELECT "+tenancyColumns+" FROM tenancies WHERE id = $1", string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrTenancyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres.GetTenancy: %w", err)
	}
	return &t, nil
}

func (s *Store) ListTenancies(ctx context.Context) ([]ledger.Tenancy, error) {
	return s.queryTenancies(ctx, `
		SELECT `+tenancyColumns+` FROM tenancies
		ORDER BY move_in_date DESC, id`)
}

// ListActiveTenancies is the SQL form of Tenancy.IsActive.
func (s *Store) ListActiveTenancies(ctx context.Context, asOf time.Time) ([]ledger.Tenancy, error) {
	return s.queryTenancies(ctx, `
		SELECT `+tenancyColumns+` FROM tenancies
		WHERE move_out_date IS NULL OR move_out_date > $1
		ORDER BY move_in_date DESC, id`, ledger.Date(asOf))
}

func (s *Store) MoveOut(ctx context.Context, id ledger.TenancyID, date time.Time) (*ledger.Tenancy, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("postgres.MoveOut: %w", err)
	}
	defer tx.Rollback()

	t, err := scanTenancy(tx.QueryRowContext(ctx,
		"SELECT "+tenancyColumns+" FROM tenancies WHERE id = $1 FOR UPDATE", string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrTenancyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres.MoveOut: %w", err)
	}
	if err := t.MoveOut(date); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE tenancies SET move_out_date = $1 WHERE id = $2",
		*t.MoveOutDate, string(id)); err != nil {
		return nil, fmt.Errorf("postgres.MoveOut: %w", err)
	}
	if t.UnitID != "" {
		_, err = tx.ExecContext(ctx, `
			UPDATE units SET status = $1
			WHERE id = $2 AND NOT EXISTS (
				SELECT 1 FROM tenancies
				WHERE unit_id = $2 AND id <> $3 AND move_out_date IS NULL
			)`, string(ledger.UnitVacant), string(t.UnitID), string(id))
		if err != nil {
			return nil, fmt.Errorf("postgres.MoveOut: unit status: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("postgres.MoveOut: %w", err)
	}
	return &t, nil
}

func (s *Store) queryTenancies(ctx context.Context, query string, args ...any) ([]ledger.Tenancy, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query tenancies: %w", err)
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
		t                                   ledger.Tenancy
		id, unitID, rent, deposit, currency string
		moveOut                             sql.NullTime
	)
	err := row.Scan(&id, &unitID, &t.UnitLabel, &t.TenantName, &t.Email, &t.Phone,
		&rent, &deposit, &currency, &t.MoveInDate, &moveOut, &t.CreatedAt)
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
	t.MoveInDate = ledger.Date(t.MoveInDate)
	if moveOut.Valid {
		d := ledger.Date(moveOut.Time)
		t.MoveOutDate = &d
	}
	return t, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: ledger.Date(*t), Valid: true}
}

func currencyOf(m ledger.Money) string {
	if m.Currency == "" {
		return string(ledger.DefaultCurrency)
	}
	return string(m.Currency)
}
