/*
Package rent charges monthly rent to every active tenancy.

PURPOSE:
  "Charge rent for March 2026" is the monthly job the property office runs.
  ChargeAll posts exactly one rent CHARGE per active tenancy for a billing
  period and reports what happened.

ALGORITHM (ChargeAll):
  1. Parse the period label into a BillingPeriod
  2. Take the run lock for the period (a second concurrent run is refused)
  3. Load active tenancies. Failure here aborts the run with a
     StoreUnavailableError; there's nothing partial to report
  4. For each tenancy, concurrently but bounded:
       a. Look for a CHARGE described "Rent payment for <period>" -> skipped
       b. Otherwise record the charge with idempotency key
          rent:<tenancy>:<YYYY-MM>
       c. ErrDuplicateIdempotencyKey from the store means another writer got
          there first -> skipped, not an error
       d. Any other failure -> "<tenant name>: <detail>", keep going
  5. Aggregate in tenancy order, notify charged tenants, return the result

STATE PER (TENANCY, PERIOD):
  not-yet-charged -> charged  (terminal)
  not-yet-charged -> skipped  (already charged)
  not-yet-charged -> failed   (stays not-yet-charged; retried next run)

CANCELLATION:
  The run detaches from the caller's cancellation and always finishes the
  batch, even if the HTTP client that started it has gone away.
*/
package rent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/warp/rent-ledger/ledger"
	"github.com/warp/rent-ledger/metrics"
	"github.com/warp/rent-ledger/notify"
	"github.com/warp/rent-ledger/session"
)

// ErrChargeInProgress is returned when a run for the same period is already
// going.
var ErrChargeInProgress = errors.New("rent charge already in progress for this period")

const (
	DefaultConcurrency = 8
	DefaultLockTTL     = 10 * time.Minute
)

// Options control one ChargeAll run.
type Options struct {
	// Session is the caller; its user ID is recorded as created-by.
	Session session.Session

	// DryRun reports what would be charged without writing anything.
	DryRun bool

	// Notify sends a rent-charged notification to each charged tenant.
	Notify bool
}

type Engine struct {
	Repo     ledger.Repository
	Ledger   ledger.Ledger
	Notifier notify.Notifier
	Locker   Locker

	Concurrency int
	LockTTL     time.Duration
	Now         func() time.Time
}

func NewEngine(repo ledger.Repository, notifier notify.Notifier) *Engine {
	return &Engine{
		Repo:        repo,
		Ledger:      ledger.NewLedger(repo),
		Notifier:    notifier,
		Locker:      NewLocalLocker(),
		Concurrency: DefaultConcurrency,
		LockTTL:     DefaultLockTTL,
		Now:         time.Now,
	}
}

// ChargeAll charges rent for periodLabel to every active tenancy.
func (e *Engine) ChargeAll(ctx context.Context, periodLabel string, opts Options) (*ChargingResult, error) {
	period, err := ledger.ParsePeriod(periodLabel)
	if err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	logger := log.With().
		Str("period", period.Key()).
		Bool("dry_run", opts.DryRun).
		Str("actor", opts.Session.Actor()).
		Logger()

	if !opts.DryRun && e.Locker != nil {
		unlock, ok, err := e.Locker.TryLock(ctx, lockKey(period.Key()), e.lockTTL())
		if err != nil {
			metrics.ObserveChargeRun(metrics.ResultError, time.Since(start))
			return nil, fmt.Errorf("rent.ChargeAll: acquire run lock: %w", err)
		}
		if !ok {
			metrics.ObserveChargeRun(metrics.ResultInProgress, time.Since(start))
			return nil, ErrChargeInProgress
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				logger.Warn().Err(err).Msg("rent: release run lock")
			}
		}()
	}

	asOf := e.now()
	tenancies, err := e.Repo.ListActiveTenancies(ctx, asOf)
	if err != nil {
		metrics.ObserveChargeRun(metrics.ResultError, time.Since(start))
		logger.Error().Err(err).Msg("rent: list active tenancies")
		return nil, &ledger.StoreUnavailableError{Op: "list active tenancies", Err: err}
	}

	// Each worker writes only its own slot, so the result keeps tenancy
	// order whatever the completion order.
	outcomes := make([]TenancyOutcome, len(tenancies))
	g := new(errgroup.Group)
	g.SetLimit(e.concurrency())
	for i, t := range tenancies {
		g.Go(func() error {
			outcomes[i] = e.chargeOne(ctx, t, period, asOf, opts)
			return nil
		})
	}
	_ = g.Wait()

	result := newResult(period, outcomes, opts.DryRun)
	if opts.Notify && !opts.DryRun {
		e.notifyCharged(ctx, tenancies, outcomes, period)
		result.NotificationsSent = true
	}

	runResult := metrics.ResultSuccess
	if !result.Success() {
		runResult = metrics.ResultPartial
	}
	charged := OutcomeCharged
	if opts.DryRun {
		charged = OutcomeWouldCharge
	}
	metrics.AddCharges(string(charged), result.Charged)
	metrics.AddCharges(string(OutcomeSkipped), result.Skipped)
	metrics.AddCharges(string(OutcomeFailed), len(result.Errors))
	metrics.ObserveChargeRun(runResult, time.Since(start))

	logger.Info().
		Int("tenancies", len(tenancies)).
		Int("charged", result.Charged).
		Int("skipped", result.Skipped).
		Int("errors", len(result.Errors)).
		Str("total", result.TotalAmount.String()).
		Dur("elapsed", time.Since(start)).
		Msg("rent: charge run complete")

	return result, nil
}

// chargeOne runs the check-then-create for a single tenancy. It never
// returns an error; failures become an OutcomeFailed line.
func (e *Engine) chargeOne(ctx context.Context, t ledger.Tenancy, period ledger.BillingPeriod, asOf time.Time, opts Options) TenancyOutcome {
	out := TenancyOutcome{
		TenancyID:  t.ID,
		TenantName: t.TenantName,
		UnitLabel:  t.UnitLabel,
		Amount:     t.MonthlyRent,
	}
	fail := func(err error) TenancyOutcome {
		out.Outcome = OutcomeFailed
		out.Error = err.Error()
		out.err = err
		log.Warn().Err(err).Str("tenancy_id", string(t.ID)).Str("period", period.Key()).Msg("rent: charge failed")
		return out
	}

	entry := RentCharge(t, period, asOf, opts.Session)

	existing, err := e.Ledger.FindChargeByDescription(ctx, t.ID, entry.Description)
	if err != nil {
		return fail(err)
	}
	if existing != nil {
		out.Outcome = OutcomeSkipped
		out.EntryID = existing.ID
		return out
	}

	if opts.DryRun {
		if err := ledger.ValidateEntry(entry); err != nil {
			return fail(err)
		}
		out.Outcome = OutcomeWouldCharge
		return out
	}

	recorded, err := e.Ledger.Record(ctx, entry)
	switch {
	case errors.Is(err, ledger.ErrDuplicateIdempotencyKey):
		out.Outcome = OutcomeSkipped
		return out
	case err != nil:
		return fail(err)
	}
	out.Outcome = OutcomeCharged
	out.EntryID = recorded.ID
	out.Amount = recorded.Amount
	return out
}

// RentCharge builds the rent CHARGE for a tenancy and period.
func RentCharge(t ledger.Tenancy, period ledger.BillingPeriod, asOf time.Time, s session.Session) ledger.Entry {
	return ledger.Entry{
		TenancyID:       t.ID,
		Kind:            ledger.KindCharge,
		Amount:          t.MonthlyRent,
		TransactionDate: period.ChargeDate(asOf),
		Description:     ledger.RentDescription(period),
		Notes:           "Auto-generated rent charge for " + period.Label(),
		PeriodKey:       period.Key(),
		IdempotencyKey:  ledger.RentIdempotencyKey(t.ID, period),
		CreatedBy:       s.Actor(),
	}
}

func (e *Engine) notifyCharged(ctx context.Context, tenancies []ledger.Tenancy, outcomes []TenancyOutcome, period ledger.BillingPeriod) {
	if e.Notifier == nil {
		return
	}
	for i, o := range outcomes {
		if o.Outcome != OutcomeCharged {
			continue
		}
		t := tenancies[i]
		summary, err := e.Ledger.Summary(ctx, t.ID)
		if err != nil {
			log.Warn().Err(err).Str("tenancy_id", string(t.ID)).Msg("rent: balance for notification")
			continue
		}
		err = e.Notifier.RentCharged(ctx, notify.RentCharged{
			To:      notify.RecipientOf(t),
			Unit:    t.UnitLabel,
			Period:  period.Label(),
			Amount:  o.Amount,
			Balance: summary.Balance,
		})
		if err != nil {
			log.Warn().Err(err).Str("tenancy_id", string(t.ID)).Msg("rent: notification failed")
		}
	}
}

// =============================================================================
// SINGLE TENANCY
// =============================================================================

// ChargeRequest charges one tenancy outside a portfolio run.
type ChargeRequest struct {
	// Period defaults to the current month.
	Period string

	// Amount defaults to the tenancy's monthly rent.
	Amount *ledger.Money

	Session session.Session
	Notify  bool
}

// ChargeTenancy charges rent to a single tenancy. It is keyed by period like
// ChargeAll, so charging the same tenancy twice for a month is a skip.
func (e *Engine) ChargeTenancy(ctx context.Context, id ledger.TenancyID, req ChargeRequest) (TenancyOutcome, error) {
	t, err := e.Repo.GetTenancy(ctx, id)
	if err != nil {
		return TenancyOutcome{}, err
	}

	asOf := e.now()
	period := ledger.PeriodOf(asOf)
	if req.Period != "" {
		if period, err = ledger.ParsePeriod(req.Period); err != nil {
			return TenancyOutcome{}, err
		}
	}
	if !t.IsActive(asOf) {
		return TenancyOutcome{}, &ledger.ValidationError{Field: "tenancy_id", Message: "tenancy has moved out"}
	}

	tenancy := *t
	if req.Amount != nil {
		tenancy.MonthlyRent = *req.Amount
	}
	out := e.chargeOne(ctx, tenancy, period, asOf, Options{Session: req.Session})
	if out.Outcome == OutcomeFailed {
		return out, fmt.Errorf("rent.ChargeTenancy: %w", out.err)
	}
	if out.Outcome == OutcomeCharged && req.Notify {
		e.notifyCharged(ctx, []ledger.Tenancy{tenancy}, []TenancyOutcome{out}, period)
	}
	return out, nil
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e *Engine) concurrency() int {
	if e.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return e.Concurrency
}

func (e *Engine) lockTTL() time.Duration {
	if e.LockTTL <= 0 {
		return DefaultLockTTL
	}
	return e.LockTTL
}
