/*
balance.go - Tenant balance derivation

PURPOSE:
  Computes what a tenant owes from their ledger entries. The balance is
  never stored; it is re-derived from the full entry set every time it is
  displayed, so it can't drift from the ledger.

RULE:
  balance = Σ CHARGE.amount − Σ PAYMENT.amount

  Positive: tenant owes money.
  Zero or negative: paid up, or in credit.

ORDER:
  Summation is commutative, so ComputeBalance ignores entry order.
  RunningBalances sorts by (transaction date, created-at) because a
  statement shows the balance after each line.

SEE ALSO:
  - statement/statement.go: Tenant statements built from RunningBalances
  - latefee/latefee.go: Uses Summarize to find overdue tenancies
*/
package ledger

import (
	"sort"
	"time"
)

// ComputeBalance returns Σ charges − Σ payments. Empty input yields zero.
func ComputeBalance(entries []Entry) Money {
	balance := ZeroMoney("")
	for _, e := range entries {
		balance = balance.Add(e.Signed())
	}
	if balance.Currency == "" {
		balance.Currency = DefaultCurrency
	}
	return balance
}

// BalanceSummary breaks a balance into its components.
type BalanceSummary struct {
	TenancyID     TenancyID
	TotalCharges  Money
	TotalPayments Money
	Balance       Money
	EntryCount    int

	// OldestCharge is the transaction date of the earliest CHARGE, nil when
	// the tenancy has never been charged.
	OldestCharge *time.Time

	// LatestCharge is the transaction date of the most recent CHARGE.
	LatestCharge *time.Time
}

// Summarize totals the entries of one tenancy.
func Summarize(id TenancyID, entries []Entry) BalanceSummary {
	currency := DefaultCurrency
	if len(entries) > 0 && entries[0].Amount.Currency != "" {
		currency = entries[0].Amount.Currency
	}

	s := BalanceSummary{
		TenancyID:     id,
		TotalCharges:  ZeroMoney(currency),
		TotalPayments: ZeroMoney(currency),
		EntryCount:    len(entries),
	}
	for _, e := range entries {
		switch e.Kind {
		case KindCharge:
			s.TotalCharges = s.TotalCharges.Add(e.Amount)
			if s.OldestCharge == nil || e.TransactionDate.Before(*s.OldestCharge) {
				d := e.TransactionDate
				s.OldestCharge = &d
			}
			if s.LatestCharge == nil || e.TransactionDate.After(*s.LatestCharge) {
				d := e.TransactionDate
				s.LatestCharge = &d
			}
		case KindPayment:
			s.TotalPayments = s.TotalPayments.Add(e.Amount)
		}
	}
	s.Balance = s.TotalCharges.Sub(s.TotalPayments)
	return s
}

// InArrears reports whether the tenant owes money.
func (s BalanceSummary) InArrears() bool { return s.Balance.IsPositive() }

// =============================================================================
// RUNNING BALANCE - For statements
// =============================================================================

type BalanceLine struct {
	Entry   Entry
	Balance Money // balance after this entry
}

// RunningBalances returns the entries in statement order with the balance
// after each one. The input slice is not modified.
func RunningBalances(entries []Entry) []BalanceLine {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	SortChronological(sorted)

	lines := make([]BalanceLine, len(sorted))
	balance := ZeroMoney(DefaultCurrency)
	for i, e := range sorted {
		balance = balance.Add(e.Signed())
		lines[i] = BalanceLine{Entry: e, Balance: balance}
	}
	return lines
}

// SortChronological orders entries by transaction date, then creation time.
func SortChronological(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.TransactionDate.Equal(b.TransactionDate) {
			return a.TransactionDate.Before(b.TransactionDate)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}
