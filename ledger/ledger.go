/*
ledger.go - Append-only tenancy ledger

PURPOSE:
  The Ledger is the source of truth for everything a tenant was charged
  and everything they paid. Balances are computed by replaying entries;
  there's no balance column that can get out of sync.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. POSITIVE AMOUNTS: amount > 0; direction comes from Kind.
  3. IDEMPOTENT: Same idempotency key = same entry (no duplicates).
  4. PAYMENT METHOD: Only PAYMENT entries carry one.
  5. ONE RENT CHARGE: A CHARGE described as a period's rent always gets
     that period's rent key, however it was created.

CORRECTIONS:
  A wrong charge is corrected by a PAYMENT (credit) entry with a note,
  never by editing or deleting the charge.

SEE ALSO:
  - store.go: Persistence interface
  - balance.go: Balance derivation
*/
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Ledger validates and records entries for tenancies.
type Ledger interface {
	// Record validates e, fills ID and CreatedAt when empty, and appends it.
	Record(ctx context.Context, e Entry) (Entry, error)

	// Entries returns a tenancy's entries chronologically.
	Entries(ctx context.Context, id TenancyID) ([]Entry, error)

	// FindChargeByDescription is the idempotency lookup for period charges.
	FindChargeByDescription(ctx context.Context, id TenancyID, description string) (*Entry, error)

	// Summary derives the tenancy's balance from its entries.
	Summary(ctx context.Context, id TenancyID) (BalanceSummary, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store
	Now   func() time.Time
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store, Now: time.Now}
}

func (l *DefaultLedger) Record(ctx context.Context, e Entry) (Entry, error) {
	period, isRent := RentPeriodOf(e)
	if isRent {
		e.Description = RentDescription(period)
		e.PeriodKey = period.Key()
		e.IdempotencyKey = RentIdempotencyKey(e.TenancyID, period)
	}
	if err := ValidateEntry(e); err != nil {
		return Entry{}, err
	}
	if e.ID == "" {
		e.ID = EntryID(uuid.NewString())
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.Now().UTC()
	}
	if e.Amount.Currency == "" {
		e.Amount.Currency = DefaultCurrency
	}
	e.TransactionDate = Date(e.TransactionDate)

	if e.IdempotencyKey != "" {
		exists, err := l.Store.Exists(ctx, e.IdempotencyKey)
		if err != nil {
			return Entry{}, err
		}
		if exists {
			return Entry{}, ErrDuplicateIdempotencyKey
		}
	}
	if isRent {
		// Rows written before rent keys existed are matched by description.
		existing, err := l.Store.FindChargeByDescription(ctx, e.TenancyID, e.Description)
		if err != nil {
			return Entry{}, err
		}
		if existing != nil {
			return Entry{}, ErrDuplicateIdempotencyKey
		}
	}
	if err := l.Store.Append(ctx, e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (l *DefaultLedger) Entries(ctx context.Context, id TenancyID) ([]Entry, error) {
	return l.Store.Entries(ctx, id)
}

func (l *DefaultLedger) FindChargeByDescription(ctx context.Context, id TenancyID, description string) (*Entry, error) {
	return l.Store.FindChargeByDescription(ctx, id, description)
}

func (l *DefaultLedger) Summary(ctx context.Context, id TenancyID) (BalanceSummary, error) {
	entries, err := l.Store.Entries(ctx, id)
	if err != nil {
		return BalanceSummary{}, err
	}
	return Summarize(id, entries), nil
}

// ValidateEntry enforces the entry invariants.
func ValidateEntry(e Entry) error {
	if e.TenancyID == "" {
		return &ValidationError{Field: "tenancy_id", Message: "is required"}
	}
	if !e.Kind.Valid() {
		return &ValidationError{Field: "kind", Message: "must be CHARGE or PAYMENT"}
	}
	if !e.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Message: "must be greater than zero"}
	}
	if strings.TrimSpace(e.Description) == "" {
		return &ValidationError{Field: "description", Message: "is required"}
	}
	if e.TransactionDate.IsZero() {
		return &ValidationError{Field: "transaction_date", Message: "is required"}
	}
	if err := validateKey(e); err != nil {
		return err
	}
	if e.PaymentMethod != "" {
		if e.Kind != KindPayment {
			return &ValidationError{Field: "payment_method", Message: "is only allowed on payments"}
		}
		if !e.PaymentMethod.Valid() {
			return &ValidationError{Field: "payment_method", Message: "is not a known method"}
		}
	}
	return nil
}
