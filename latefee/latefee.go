/*
Package latefee charges late fees to tenancies with overdue balances.

RULE:
  A tenancy gets a late fee on asOf when all of these hold:
    - it is active on asOf
    - its balance is positive
    - its oldest CHARGE is more than GraceDays old
    - it has no late fee for asOf's month yet

  fee = max(monthly rent × Percent / 100, Minimum), rounded to cents

  The fee is a CHARGE described "Late Fee for March 2026 (9 days overdue)"
  with idempotency key latefee:<tenancy>:<YYYY-MM>, so at most one late fee
  is posted per tenancy per month however often the job runs.

SEE ALSO:
  - reminder.go: Late payment reminders, which post nothing
*/
package latefee

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/warp/rent-ledger/ledger"
	"github.com/warp/rent-ledger/metrics"
	"github.com/warp/rent-ledger/notify"
	"github.com/warp/rent-ledger/session"
)

const (
	DefaultGraceDays = 5
	DefaultPercent   = 5
	DefaultMinimum   = 500
)

// Policy holds the late fee parameters.
type Policy struct {
	GraceDays int
	Percent   decimal.Decimal
	Minimum   ledger.Money
}

func DefaultPolicy() Policy {
	return Policy{
		GraceDays: DefaultGraceDays,
		Percent:   decimal.NewFromInt(DefaultPercent),
		Minimum:   ledger.NewMoney(DefaultMinimum, ledger.DefaultCurrency),
	}
}

func (p Policy) Validate() error {
	if p.GraceDays < 0 {
		return &ledger.ValidationError{Field: "grace_days", Message: "must not be negative"}
	}
	if p.Percent.IsNegative() {
		return &ledger.ValidationError{Field: "late_fee_percent", Message: "must not be negative"}
	}
	if p.Minimum.IsNegative() {
		return &ledger.ValidationError{Field: "min_late_fee", Message: "must not be negative"}
	}
	return nil
}

// Fee is the late fee for a monthly rent.
func (p Policy) Fee(monthlyRent ledger.Money) ledger.Money {
	pct := monthlyRent.Mul(p.Percent.Div(decimal.NewFromInt(100)))
	floor := p.Minimum
	if floor.Currency == "" {
		floor.Currency = monthlyRent.Currency
	}
	return pct.Max(floor).Round()
}

// Options control one run.
type Options struct {
	Session session.Session
	DryRun  bool
	Notify  bool
}

// =============================================================================
// RESULT
// =============================================================================

type Outcome string

const (
	OutcomeApplied    Outcome = "applied"
	OutcomeSkipped    Outcome = "skipped" // already has this month's fee
	OutcomeFailed     Outcome = "failed"
	OutcomeWouldApply Outcome = "would_apply"
)

type Item struct {
	TenancyID   ledger.TenancyID
	TenantName  string
	DaysOverdue int
	Balance     ledger.Money
	Fee         ledger.Money
	Outcome     Outcome
	Error       string
}

type Result struct {
	Period  ledger.BillingPeriod
	Applied int
	Skipped int
	Total   ledger.Money
	Items   []Item
	Errors  []string
	DryRun  bool
}

// =============================================================================
// ASSESSOR
// =============================================================================

type Assessor struct {
	Repo     ledger.Repository
	Ledger   ledger.Ledger
	Notifier notify.Notifier
	Policy   Policy
}

func NewAssessor(repo ledger.Repository, notifier notify.Notifier, policy Policy) *Assessor {
	return &Assessor{
		Repo:     repo,
		Ledger:   ledger.NewLedger(repo),
		Notifier: notifier,
		Policy:   policy,
	}
}

// Apply assesses every active tenancy as of asOf.
func (a *Assessor) Apply(ctx context.Context, asOf time.Time, opts Options) (*Result, error) {
	if err := a.Policy.Validate(); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	tenancies, err := a.Repo.ListActiveTenancies(ctx, asOf)
	if err != nil {
		return nil, &ledger.StoreUnavailableError{Op: "list active tenancies", Err: err}
	}

	period := ledger.PeriodOf(asOf)
	result := &Result{
		Period: period,
		Total:  ledger.ZeroMoney(ledger.DefaultCurrency),
		Items:  []Item{},
		Errors: []string{},
		DryRun: opts.DryRun,
	}

	for _, t := range tenancies {
		item, eligible := a.assess(ctx, t, asOf, period, opts)
		if !eligible {
			continue
		}
		result.Items = append(result.Items, item)
		switch item.Outcome {
		case OutcomeApplied, OutcomeWouldApply:
			result.Applied++
			result.Total = result.Total.Add(item.Fee)
			if item.Outcome == OutcomeApplied && opts.Notify {
				a.sendNotice(ctx, t, item, period)
			}
		case OutcomeSkipped:
			result.Skipped++
		case OutcomeFailed:
			result.Errors = append(result.Errors, item.TenantName+": "+item.Error)
		}
	}

	applied := OutcomeApplied
	if opts.DryRun {
		applied = OutcomeWouldApply
	}
	metrics.AddLateFees(string(applied), result.Applied)
	metrics.AddLateFees(string(OutcomeSkipped), result.Skipped)
	metrics.AddLateFees(string(OutcomeFailed), len(result.Errors))

	log.Info().
		Str("period", period.Key()).
		Bool("dry_run", opts.DryRun).
		Int("applied", result.Applied).
		Int("skipped", result.Skipped).
		Int("errors", len(result.Errors)).
		Str("total", result.Total.String()).
		Msg("latefee: run complete")

	return result, nil
}

// assess returns eligible=false for tenancies that owe nothing or are still
// within the grace period.
func (a *Assessor) assess(ctx context.Context, t ledger.Tenancy, asOf time.Time, period ledger.BillingPeriod, opts Options) (Item, bool) {
	item := Item{TenancyID: t.ID, TenantName: t.TenantName}
	fail := func(err error) (Item, bool) {
		item.Outcome = OutcomeFailed
		item.Error = err.Error()
		return item, true
	}

	entries, err := a.Ledger.Entries(ctx, t.ID)
	if err != nil {
		return fail(err)
	}
	summary := ledger.Summarize(t.ID, entries)
	if !summary.InArrears() || summary.OldestCharge == nil {
		return item, false
	}
	days := DaysBetween(*summary.OldestCharge, asOf)
	if days <= a.Policy.GraceDays {
		return item, false
	}

	item.DaysOverdue = days
	item.Balance = summary.Balance
	item.Fee = a.Policy.Fee(t.MonthlyRent)

	entry := ledger.Entry{
		TenancyID:       t.ID,
		Kind:            ledger.KindCharge,
		Amount:          item.Fee,
		TransactionDate: ledger.Date(asOf),
		Description:     fmt.Sprintf("Late Fee for %s (%d days overdue)", period.Label(), days),
		Notes:           fmt.Sprintf("Auto-generated late fee: %s%% of rent", a.Policy.Percent.String()),
		PeriodKey:       period.Key(),
		IdempotencyKey:  ledger.LateFeeIdempotencyKey(t.ID, period),
		CreatedBy:       opts.Session.Actor(),
	}

	if opts.DryRun {
		exists, err := a.Repo.Exists(ctx, entry.IdempotencyKey)
		if err != nil {
			return fail(err)
		}
		if exists {
			item.Outcome = OutcomeSkipped
			return item, true
		}
		if err := ledger.ValidateEntry(entry); err != nil {
			return fail(err)
		}
		item.Outcome = OutcomeWouldApply
		return item, true
	}

	_, err = a.Ledger.Record(ctx, entry)
	switch {
	case errors.Is(err, ledger.ErrDuplicateIdempotencyKey):
		item.Outcome = OutcomeSkipped
	case err != nil:
		return fail(err)
	default:
		item.Outcome = OutcomeApplied
	}
	return item, true
}

func (a *Assessor) sendNotice(ctx context.Context, t ledger.Tenancy, item Item, period ledger.BillingPeriod) {
	if a.Notifier == nil {
		return
	}
	err := a.Notifier.LateFee(ctx, notify.LateFee{
		To:          notify.RecipientOf(t),
		Period:      period.Label(),
		DaysOverdue: item.DaysOverdue,
		Fee:         item.Fee,
		Balance:     item.Balance.Add(item.Fee),
	})
	if err != nil {
		log.Warn().Err(err).Str("tenancy_id", string(t.ID)).Msg("latefee: notification failed")
	}
}

// DaysBetween counts calendar days from from to to.
func DaysBetween(from, to time.Time) int {
	return int(ledger.Date(to).Sub(ledger.Date(from)).Hours() / 24)
}
