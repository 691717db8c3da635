/*
Package ledger provides the core rent ledger engine.

PURPOSE:
  This package contains the types and algorithms shared by every part of
  the rental system that touches money: tenancies, ledger entries, billing
  periods and derived balances. Rent charging, late fees and statements
  are built on top of it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A decimal amount with a currency (e.g., KES 20000.00)
  - Entry: An immutable ledger record (CHARGE or PAYMENT)
  - EntryKind: Direction of an entry; amounts are never negative
  - IDs: Type-safe identifiers for tenancies, units and entries

DESIGN PRINCIPLES:
  1. Immutability: Entries are never modified or deleted by the core
  2. Precision: Uses decimal.Decimal, never float64
  3. Direction by kind: a CHARGE raises the balance, a PAYMENT lowers it
  4. Auditability: Every entry carries created-by and an idempotency key

USAGE:
  entry := ledger.Entry{
      TenancyID:   "ten-001",
      Kind:        ledger.KindCharge,
      Amount:      ledger.NewMoney(20000, ledger.DefaultCurrency),
      Description: "Rent payment for March 2026",
  }

SEE ALSO:
  - balance.go: Balance derivation from entries
  - period.go: Billing periods
  - ledger.go: Validated append-only ledger
*/
package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Decimal amount with currency
// =============================================================================

type Money struct {
	Value    decimal.Decimal
	Currency Currency
}

type Currency string

const (
	CurrencyKES Currency = "KES"
	CurrencyUSD Currency = "USD"

	DefaultCurrency = CurrencyKES
)

func NewMoney(value int64, currency Currency) Money {
	return Money{Value: decimal.NewFromInt(value), Currency: currency}
}

func NewMoneyFromString(s string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, err
	}
	return Money{Value: d, Currency: currency}, nil
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func ZeroMoney(currency Currency) Money { return Money{Value: decimal.Zero, Currency: currency} }

func (m Money) Zero() Money                 { return Money{Value: decimal.Zero, Currency: m.Currency} }
func (m Money) Add(o Money) Money           { return Money{Value: m.Value.Add(o.Value), Currency: m.pick(o)} }
func (m Money) Sub(o Money) Money           { return Money{Value: m.Value.Sub(o.Value), Currency: m.pick(o)} }
func (m Money) Mul(s decimal.Decimal) Money { return Money{Value: m.Value.Mul(s), Currency: m.Currency} }
func (m Money) Neg() Money                  { return Money{Value: m.Value.Neg(), Currency: m.Currency} }
func (m Money) IsNegative() bool            { return m.Value.IsNegative() }
func (m Money) IsZero() bool                { return m.Value.IsZero() }
func (m Money) IsPositive() bool            { return m.Value.IsPositive() }
func (m Money) GreaterThan(o Money) bool    { return m.Value.GreaterThan(o.Value) }
func (m Money) LessThan(o Money) bool       { return m.Value.LessThan(o.Value) }
func (m Money) Equal(o Money) bool          { return m.Value.Equal(o.Value) }

func (m Money) Max(o Money) Money {
	if o.GreaterThan(m) {
		return o
	}
	return m
}

// Round returns the amount rounded to cents.
func (m Money) Round() Money { return Money{Value: m.Value.Round(2), Currency: m.Currency} }

// String renders the amount as "KES 20000.00".
func (m Money) String() string {
	return string(m.Currency) + " " + m.Value.StringFixed(2)
}

// pick keeps a currency when one side is a zero value with no currency set.
func (m Money) pick(o Money) Currency {
	if m.Currency == "" {
		return o.Currency
	}
	return m.Currency
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TenancyID string
type UnitID string
type EntryID string

// =============================================================================
// ENTRY - Atomic change to a tenancy balance
// =============================================================================

type EntryKind string

const (
	KindCharge  EntryKind = "CHARGE"  // Rent due, late fees, ad hoc charges
	KindPayment EntryKind = "PAYMENT" // Money received from the tenant
)

func (k EntryKind) Valid() bool { return k == KindCharge || k == KindPayment }

type PaymentMethod string

const (
	MethodCash         PaymentMethod = "CASH"
	MethodMpesa        PaymentMethod = "MPESA"
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	MethodCheque       PaymentMethod = "CHEQUE"
	MethodOther        PaymentMethod = "OTHER"
)

func (p PaymentMethod) Valid() bool {
	switch p {
	case MethodCash, MethodMpesa, MethodBankTransfer, MethodCheque, MethodOther:
		return true
	}
	return false
}

type Entry struct {
	ID              EntryID
	TenancyID       TenancyID
	Kind            EntryKind
	Amount          Money
	TransactionDate time.Time
	Description     string
	PaymentMethod   PaymentMethod // PAYMENT only
	ReferenceNumber string
	Notes           string

	// PeriodKey is the billing period ("2026-03") a period-bound charge
	// belongs to. Empty for payments and ad hoc charges.
	PeriodKey      string
	IdempotencyKey string

	// Audit fields
	CreatedBy string
	CreatedAt time.Time
}

// Signed returns the amount as it affects the balance.
func (e Entry) Signed() Money {
	if e.Kind == KindPayment {
		return e.Amount.Neg()
	}
	return e.Amount
}

// =============================================================================
// IDEMPOTENCY KEYS
// =============================================================================
//
// Keys are unique across the whole ledger, so every key embeds the tenancy.
// The rent: and latefee: namespaces belong to period charges; client keys
// live under manual:.

const (
	rentKeyPrefix    = "rent:"
	lateFeeKeyPrefix = "latefee:"
	manualKeyPrefix  = "manual:"
)

// RentIdempotencyKey is the uniqueness key for one rent charge per
// tenancy per billing period.
func RentIdempotencyKey(id TenancyID, p BillingPeriod) string {
	return rentKeyPrefix + string(id) + ":" + p.Key()
}

// LateFeeIdempotencyKey allows one late fee per tenancy per month.
func LateFeeIdempotencyKey(id TenancyID, p BillingPeriod) string {
	return lateFeeKeyPrefix + string(id) + ":" + p.Key()
}

// ManualIdempotencyKey scopes a client-supplied key to its tenancy. An
// empty key stays empty. Keys in the period charge namespaces are rejected.
func ManualIdempotencyKey(id TenancyID, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", nil
	}
	if strings.HasPrefix(key, rentKeyPrefix) || strings.HasPrefix(key, lateFeeKeyPrefix) {
		return "", &ValidationError{Field: "idempotency_key", Message: "uses a reserved prefix"}
	}
	return manualKeyPrefix + string(id) + ":" + key, nil
}

// validateKey checks that a key in a period charge namespace is exactly the
// key of a CHARGE for the entry's own tenancy and period.
func validateKey(e Entry) error {
	var want string
	switch {
	case strings.HasPrefix(e.IdempotencyKey, rentKeyPrefix):
		want = rentKeyPrefix + string(e.TenancyID) + ":" + e.PeriodKey
	case strings.HasPrefix(e.IdempotencyKey, lateFeeKeyPrefix):
		want = lateFeeKeyPrefix + string(e.TenancyID) + ":" + e.PeriodKey
	default:
		return nil
	}
	if e.Kind != KindCharge || e.PeriodKey == "" || e.IdempotencyKey != want {
		return &ValidationError{Field: "idempotency_key", Message: "is reserved for period charges"}
	}
	return nil
}

// Date truncates t to a UTC calendar day.
func Date(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
