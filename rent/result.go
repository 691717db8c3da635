package rent

import (
	"github.com/warp/rent-ledger/ledger"
)

// Outcome is what happened to one tenancy in a charge run.
type Outcome string

const (
	OutcomeCharged     Outcome = "charged"
	OutcomeSkipped     Outcome = "skipped" // already charged for the period
	OutcomeFailed      Outcome = "failed"  // retryable on the next run
	OutcomeWouldCharge Outcome = "would_charge"
)

// TenancyOutcome is the per-tenancy line of a ChargingResult.
type TenancyOutcome struct {
	TenancyID  ledger.TenancyID
	TenantName string
	UnitLabel  string
	Outcome    Outcome
	Amount     ledger.Money
	EntryID    ledger.EntryID
	Error      string

	err error
}

// ChargingResult summarizes one ChargeAll run.
type ChargingResult struct {
	Period      ledger.BillingPeriod
	Charged     int
	Skipped     int
	TotalAmount ledger.Money

	// Errors holds "<tenant name>: <detail>" messages in tenancy order.
	Errors []string

	DryRun            bool
	NotificationsSent bool
	Outcomes          []TenancyOutcome
}

// Success is true when no tenancy failed.
func (r *ChargingResult) Success() bool { return len(r.Errors) == 0 }

func newResult(period ledger.BillingPeriod, outcomes []TenancyOutcome, dryRun bool) *ChargingResult {
	r := &ChargingResult{
		Period:      period,
		TotalAmount: ledger.ZeroMoney(ledger.DefaultCurrency),
		Errors:      []string{},
		DryRun:      dryRun,
		Outcomes:    outcomes,
	}
	for _, o := range outcomes {
		switch o.Outcome {
		case OutcomeCharged, OutcomeWouldCharge:
			r.Charged++
			r.TotalAmount = r.TotalAmount.Add(o.Amount)
		case OutcomeSkipped:
			r.Skipped++
		case OutcomeFailed:
			r.Errors = append(r.Errors, o.TenantName+": "+o.Error)
		}
	}
	return r
}
