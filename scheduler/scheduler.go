/*
Package scheduler runs the recurring ledger jobs.

JOBS:
  charge-rent:    ChargeAll for the current month (default 06:00 UTC on the 1st)
  apply-late-fees: late fee assessment (default 07:00 UTC daily)
  send-late-reminders: reminders for unpaid balances (default 09:00 UTC daily)

  The ledger jobs are idempotent, so a missed or repeated tick is harmless:
  rent is keyed per tenancy per month and late fees per tenancy per month.
  Reminders post nothing and send on every run.

  Jobs run to completion once started. A tick that fires while the previous
  run of the same job is still going is skipped, and a panic is logged and
  recovered by the cron chain.

USAGE:
  s, err := scheduler.New(engine, assessor, reminder, scheduler.Config{...})
  s.Start()
  defer s.Stop()
*/
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/warp/rent-ledger/latefee"
	"github.com/warp/rent-ledger/ledger"
	"github.com/warp/rent-ledger/rent"
	"github.com/warp/rent-ledger/session"
)

// Config holds the cron specs (with seconds) for each job. An empty spec
// leaves that job unscheduled.
type Config struct {
	ChargeRentCron string
	LateFeeCron    string
	ReminderCron   string
	Notify         bool
}

type Scheduler struct {
	cron     *cron.Cron
	engine   *rent.Engine
	assessor *latefee.Assessor
	reminder *latefee.Reminder
	cfg      Config
	now      func() time.Time
}

// New creates the scheduler and registers its jobs.
func New(engine *rent.Engine, assessor *latefee.Assessor, reminder *latefee.Reminder, cfg Config) (*Scheduler, error) {
	logger := log.With().Str("component", "scheduler").Logger()
	cronLog := cron.PrintfLogger(&logger)
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithSeconds(),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	s := &Scheduler{
		cron:     c,
		engine:   engine,
		assessor: assessor,
		reminder: reminder,
		cfg:      cfg,
		now:      time.Now,
	}

	if cfg.ChargeRentCron != "" && engine != nil {
		if _, err := c.AddFunc(cfg.ChargeRentCron, s.job("charge-rent", s.ChargeRent)); err != nil {
			return nil, fmt.Errorf("scheduler.New: charge-rent %q: %w", cfg.ChargeRentCron, err)
		}
	}
	if cfg.LateFeeCron != "" && assessor != nil {
		if _, err := c.AddFunc(cfg.LateFeeCron, s.job("apply-late-fees", s.ApplyLateFees)); err != nil {
			return nil, fmt.Errorf("scheduler.New: apply-late-fees %q: %w", cfg.LateFeeCron, err)
		}
	}
	if cfg.ReminderCron != "" && reminder != nil {
		if _, err := c.AddFunc(cfg.ReminderCron, s.job("send-late-reminders", s.SendLateReminders)); err != nil {
			return nil, fmt.Errorf("scheduler.New: send-late-reminders %q: %w", cfg.ReminderCron, err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Info().Int("jobs", len(s.cron.Entries())).Msg("scheduler: started")
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info().Msg("scheduler: stopped")
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

// ChargeRent charges the current month.
func (s *Scheduler) ChargeRent(ctx context.Context) error {
	label := ledger.PeriodOf(s.now()).Label()
	res, err := s.engine.ChargeAll(ctx, label, rent.Options{
		Session: session.System(),
		Notify:  s.cfg.Notify,
	})
	if errors.Is(err, rent.ErrChargeInProgress) {
		log.Info().Str("period", label).Msg("scheduler: charge run already in progress")
		return nil
	}
	if err != nil {
		return err
	}
	if !res.Success() {
		log.Warn().Strs("errors", res.Errors).Str("period", label).Msg("scheduler: charge run had failures")
	}
	return nil
}

// ApplyLateFees assesses late fees as of today.
func (s *Scheduler) ApplyLateFees(ctx context.Context) error {
	res, err := s.assessor.Apply(ctx, s.now(), latefee.Options{
		Session: session.System(),
		Notify:  s.cfg.Notify,
	})
	if err != nil {
		return err
	}
	if len(res.Errors) > 0 {
		log.Warn().Strs("errors", res.Errors).Msg("scheduler: late fee run had failures")
	}
	return nil
}

// SendLateReminders reminds overdue tenancies as of today. The job is
// skipped when notifications are off.
func (s *Scheduler) SendLateReminders(ctx context.Context) error {
	if !s.cfg.Notify {
		return nil
	}
	res, err := s.reminder.Send(ctx, s.now(), latefee.ReminderOptions{})
	if err != nil {
		return err
	}
	if len(res.Errors) > 0 {
		log.Warn().Strs("errors", res.Errors).Msg("scheduler: reminder run had failures")
	}
	return nil
}

// job turns a ledger job into a cron func that logs its outcome.
func (s *Scheduler) job(name string, run func(context.Context) error) func() {
	return func() {
		start := time.Now()
		if err := run(context.Background()); err != nil {
			log.Error().Err(err).Str("job", name).Dur("elapsed", time.Since(start)).Msg("scheduler: job failed")
			return
		}
		log.Info().Str("job", name).Dur("elapsed", time.Since(start)).Msg("scheduler: job done")
	}
}
