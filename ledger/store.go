/*
store.go - Persistence interfaces for entries and tenancies

PURPOSE:
  Defines the boundary between the ledger logic and the database.
  Implementations exist for memory, SQLite and PostgreSQL.

KEY INTERFACES:
  Store:        Ledger entry persistence (append, load, lookup)
  TenancyStore: Units and tenancies (the rent roll)
  Repository:   Both, which is what the engines need

APPEND-ONLY CONTRACT:
  Store has no Update() or Delete(). Corrections are new entries.

IDEMPOTENCY:
  Append must reject an entry whose idempotency key already exists with
  ErrDuplicateIdempotencyKey, atomically. The rent engine relies on this
  to turn a check-then-create race into a skip instead of a double charge.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory for tests and dev
  - store/sqlite/sqlite.go: SQLite
  - store/postgres/postgres.go: PostgreSQL
*/
package ledger

import (
	"context"
	"time"
)

// Store handles persistence of ledger entries.
type Store interface {
	// Append persists an entry. Returns ErrDuplicateIdempotencyKey if the
	// key exists. This is the ONLY write operation.
	Append(ctx context.Context, e Entry) error

	// Entries returns all entries of a tenancy, ordered by transaction
	// date then creation time.
	Entries(ctx context.Context, id TenancyID) ([]Entry, error)

	// FindChargeByDescription returns the CHARGE entry of the tenancy with
	// exactly this description, or nil.
	FindChargeByDescription(ctx context.Context, id TenancyID, description string) (*Entry, error)

	// Exists checks if an idempotency key already exists.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}

// TenancyStore persists units and tenancies.
type TenancyStore interface {
	SaveUnit(ctx context.Context, u Unit) error
	GetUnit(ctx context.Context, id UnitID) (*Unit, error)
	ListUnits(ctx context.Context) ([]Unit, error)

	SaveTenancy(ctx context.Context, t Tenancy) error
	GetTenancy(ctx context.Context, id TenancyID) (*Tenancy, error)
	ListTenancies(ctx context.Context) ([]Tenancy, error)

	// ListActiveTenancies returns tenancies for which IsActive(asOf) holds.
	ListActiveTenancies(ctx context.Context, asOf time.Time) ([]Tenancy, error)

	// MoveOut sets the move-out date. Returns ErrAlreadyMovedOut if set.
	MoveOut(ctx context.Context, id TenancyID, date time.Time) (*Tenancy, error)
}

// Repository is the full storage surface used by the engines.
type Repository interface {
	Store
	TenancyStore
}
