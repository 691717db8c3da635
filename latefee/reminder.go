package latefee

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/warp/rent-ledger/ledger"
	"github.com/warp/rent-ledger/metrics"
	"github.com/warp/rent-ledger/notify"
)

const DefaultReminderDays = 5

// ErrNoNotifier is returned when reminders are sent without a notifier.
var ErrNoNotifier = errors.New("no notifier configured")

type ReminderOptions struct {
	DryRun bool
}

type NoticeOutcome string

const (
	NoticeSent      NoticeOutcome = "sent"
	NoticeWouldSend NoticeOutcome = "would_send"
	NoticeFailed    NoticeOutcome = "failed"
)

// Notice is one tenancy's reminder.
type Notice struct {
	TenancyID  ledger.TenancyID
	TenantName string
	DaysLate   int
	AmountDue  ledger.Money
	Outcome    NoticeOutcome
	Error      string
}

type ReminderResult struct {
	AsOf    time.Time
	Checked int
	Sent    int
	Notices []Notice
	Errors  []string
	DryRun  bool
}

// Reminder sends late payment reminders. A tenancy is reminded on asOf
// when it is active, its balance is positive and its most recent CHARGE is
// at least Days old. Nothing is posted to the ledger, so every run sends
// again.
type Reminder struct {
	Repo     ledger.Repository
	Ledger   ledger.Ledger
	Notifier notify.Notifier
	Days     int
}

func NewReminder(repo ledger.Repository, notifier notify.Notifier, days int) *Reminder {
	return &Reminder{
		Repo:     repo,
		Ledger:   ledger.NewLedger(repo),
		Notifier: notifier,
		Days:     days,
	}
}

// Send reminds every active tenancy that is overdue as of asOf.
func (r *Reminder) Send(ctx context.Context, asOf time.Time, opts ReminderOptions) (*ReminderResult, error) {
	if r.Days < 0 {
		return nil, &ledger.ValidationError{Field: "days", Message: "must not be negative"}
	}
	if r.Notifier == nil && !opts.DryRun {
		return nil, ErrNoNotifier
	}
	ctx = context.WithoutCancel(ctx)

	tenancies, err := r.Repo.ListActiveTenancies(ctx, asOf)
	if err != nil {
		return nil, &ledger.StoreUnavailableError{Op: "list active tenancies", Err: err}
	}

	result := &ReminderResult{
		AsOf:    ledger.Date(asOf),
		Checked: len(tenancies),
		Notices: []Notice{},
		Errors:  []string{},
		DryRun:  opts.DryRun,
	}
	for _, t := range tenancies {
		notice, due := r.remind(ctx, t, asOf, opts)
		if !due {
			continue
		}
		result.Notices = append(result.Notices, notice)
		switch notice.Outcome {
		case NoticeSent, NoticeWouldSend:
			result.Sent++
		case NoticeFailed:
			result.Errors = append(result.Errors, notice.TenantName+": "+notice.Error)
		}
	}

	sent := NoticeSent
	if opts.DryRun {
		sent = NoticeWouldSend
	}
	metrics.AddReminders(string(sent), result.Sent)
	metrics.AddReminders(string(NoticeFailed), len(result.Errors))

	log.Info().
		Time("as_of", result.AsOf).
		Bool("dry_run", opts.DryRun).
		Int("checked", result.Checked).
		Int("sent", result.Sent).
		Int("errors", len(result.Errors)).
		Msg("latefee: reminders complete")

	return result, nil
}

// remind returns due=false for tenancies that owe nothing or were charged
// too recently.
func (r *Reminder) remind(ctx context.Context, t ledger.Tenancy, asOf time.Time, opts ReminderOptions) (Notice, bool) {
	notice := Notice{TenancyID: t.ID, TenantName: t.TenantName}

	summary, err := r.Ledger.Summary(ctx, t.ID)
	if err != nil {
		notice.Outcome = NoticeFailed
		notice.Error = err.Error()
		return notice, true
	}
	if !summary.InArrears() || summary.LatestCharge == nil {
		return notice, false
	}
	days := DaysBetween(*summary.LatestCharge, asOf)
	if days < r.Days {
		return notice, false
	}
	notice.DaysLate = days
	notice.AmountDue = summary.Balance

	if opts.DryRun {
		notice.Outcome = NoticeWouldSend
		return notice, true
	}
	err = r.Notifier.LatePayment(ctx, notify.LatePayment{
		To:        notify.RecipientOf(t),
		DaysLate:  days,
		AmountDue: summary.Balance,
	})
	if err != nil {
		log.Warn().Err(err).Str("tenancy_id", string(t.ID)).Msg("latefee: reminder failed")
		notice.Outcome = NoticeFailed
		notice.Error = err.Error()
		return notice, true
	}
	notice.Outcome = NoticeSent
	return notice, true
}
