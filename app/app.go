/*
Package app wires the ledger from configuration. Both the HTTP server and
rentctl start here so that they charge rent the same way.

STARTUP SEQUENCE:
  1. Open the store (memory, SQLite file, or PostgreSQL + migrate)
  2. Register metrics, with pool stats for SQL stores
  3. Connect the Redis run lock when configured
  4. Build the notifier (log, plus SendGrid when an API key is set)
  5. Build the rent engine, late fee assessor and reminder run

USAGE:
  a, err := app.Open(ctx, cfg)
  if err != nil { ... }
  defer a.Close()
  a.Engine.ChargeAll(ctx, "March 2026", rent.Options{...})
*/
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/warp/rent-ledger/config"
	"github.com/warp/rent-ledger/latefee"
	"github.com/warp/rent-ledger/ledger"
	"github.com/warp/rent-ledger/ledger/store"
	"github.com/warp/rent-ledger/metrics"
	"github.com/warp/rent-ledger/notify"
	"github.com/warp/rent-ledger/rent"
	"github.com/warp/rent-ledger/store/postgres"
	redisstore "github.com/warp/rent-ledger/store/redis"
	"github.com/warp/rent-ledger/store/sqlite"
)

type App struct {
	Config   *config.Config
	Repo     ledger.Repository
	Engine   *rent.Engine
	Assessor *latefee.Assessor
	Reminder *latefee.Reminder
	Notifier notify.Notifier

	ping    func(ctx context.Context) error
	closers []func() error
}

// Open builds the App. On error everything opened so far is closed.
func Open(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	db, err := a.openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	metrics.Init(db)

	policy, err := cfg.LateFeePolicy()
	if err != nil {
		return nil, fmt.Errorf("app.Open: %w", err)
	}

	a.Notifier = newNotifier(cfg.SendGrid)

	a.Engine = rent.NewEngine(a.Repo, a.Notifier)
	a.Engine.Concurrency = cfg.Ledger.ChargeConcurrency
	if cfg.Redis.Addr != "" {
		locker, err := redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("app.Open: %w", err)
		}
		a.closers = append(a.closers, locker.Close)
		a.Engine.Locker = locker
		log.Info().Str("addr", cfg.Redis.Addr).Msg("app: using redis run lock")
	}

	a.Assessor = latefee.NewAssessor(a.Repo, a.Notifier, policy)
	a.Reminder = latefee.NewReminder(a.Repo, a.Notifier, cfg.LateFee.ReminderDays)
	return a, nil
}

// openStore sets Repo and returns the SQL handle for pool metrics, nil for
// the memory store.
func (a *App) openStore(ctx context.Context, cfg config.StoreConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case "memory":
		a.Repo = store.NewMemory()
		a.ping = func(context.Context) error { return nil }
		log.Warn().Msg("app: using in-memory store, data is lost on exit")
		return nil, nil

	case "sqlite":
		if cfg.DSN != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil {
				return nil, fmt.Errorf("app.Open: create data dir: %w", err)
			}
		}
		s, err := sqlite.New(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("app.Open: %w", err)
		}
		a.Repo, a.ping = s, s.Ping
		a.closers = append(a.closers, s.Close)
		log.Info().Str("path", cfg.DSN).Msg("app: using sqlite store")
		return s.DB(), nil

	case "postgres":
		s, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("app.Open: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		if err := s.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("app.Open: %w", err)
		}
		a.Repo, a.ping = s, s.Ping
		log.Info().Msg("app: using postgres store")
		return s.DB(), nil
	}
	return nil, fmt.Errorf("app.Open: unknown store driver %q", cfg.Driver)
}

func newNotifier(cfg config.SendGridConfig) notify.Notifier {
	logNotifier := notify.NewLogNotifier(log.Logger)
	if cfg.APIKey == "" {
		return logNotifier
	}
	log.Info().Str("from", cfg.FromEmail).Msg("app: sending notifications with sendgrid")
	return notify.Multi{logNotifier, notify.NewSendGridNotifier(cfg.APIKey, cfg.FromEmail, cfg.FromName)}
}

// Ready reports whether the store answers.
func (a *App) Ready(ctx context.Context) error {
	if a.ping == nil {
		return errors.New("app: store not open")
	}
	return a.ping(ctx)
}

// Close releases everything Open acquired, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
