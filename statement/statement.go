// Package statement builds tenant statements and the portfolio summary shown
// on the dashboard. Everything here is derived from ledger entries; nothing
// is stored.
package statement

import (
	"sort"
	"time"

	"github.com/warp/rent-ledger/ledger"
)

// Statement is a tenant's full account history.
type Statement struct {
	Tenancy        ledger.Tenancy
	Lines          []ledger.BalanceLine
	TotalCharges   ledger.Money
	TotalPayments  ledger.Money
	CurrentBalance ledger.Money
	GeneratedAt    time.Time
}

// Build assembles the statement for t. Lines are chronological and the last
// running balance equals CurrentBalance.
func Build(t ledger.Tenancy, entries []ledger.Entry, now time.Time) Statement {
	summary := ledger.Summarize(t.ID, entries)
	return Statement{
		Tenancy:        t,
		Lines:          ledger.RunningBalances(entries),
		TotalCharges:   summary.TotalCharges,
		TotalPayments:  summary.TotalPayments,
		CurrentBalance: summary.Balance,
		GeneratedAt:    now,
	}
}

// =============================================================================
// PORTFOLIO
// =============================================================================

// Portfolio is the dashboard roll-up across tenancies.
type Portfolio struct {
	Tenancies       int
	ActiveTenancies int
	InArrears       int
	TotalCharged    ledger.Money
	TotalCollected  ledger.Money
	Outstanding     ledger.Money

	// Arrears lists tenancies that owe money, largest balance first.
	Arrears []ledger.BalanceSummary
}

// Summarize rolls up balances. entriesByID holds each tenancy's entries.
func Summarize(tenancies []ledger.Tenancy, entriesByID map[ledger.TenancyID][]ledger.Entry, asOf time.Time) Portfolio {
	p := Portfolio{
		Tenancies:      len(tenancies),
		TotalCharged:   ledger.ZeroMoney(ledger.DefaultCurrency),
		TotalCollected: ledger.ZeroMoney(ledger.DefaultCurrency),
		Outstanding:    ledger.ZeroMoney(ledger.DefaultCurrency),
		Arrears:        []ledger.BalanceSummary{},
	}
	for _, t := range tenancies {
		if t.IsActive(asOf) {
			p.ActiveTenancies++
		}
		s := ledger.Summarize(t.ID, entriesByID[t.ID])
		p.TotalCharged = p.TotalCharged.Add(s.TotalCharges)
		p.TotalCollected = p.TotalCollected.Add(s.TotalPayments)
		if s.InArrears() {
			p.InArrears++
			p.Outstanding = p.Outstanding.Add(s.Balance)
			p.Arrears = append(p.Arrears, s)
		}
	}
	sortArrears(p.Arrears)
	return p
}

func sortArrears(a []ledger.BalanceSummary) {
	sort.SliceStable(a, func(i, j int) bool {
		return a[i].Balance.GreaterThan(a[j].Balance)
	})
}
