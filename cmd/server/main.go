/*
main.go - Application entry point

PURPOSE:
  Starts the rent ledger HTTP server and, when enabled, the scheduler that
  charges rent and applies late fees.

STARTUP SEQUENCE:
  1. Load .env, then config (defaults, YAML file, RENT_* env)
  2. Configure zerolog
  3. Open the app (store, metrics, lock, notifier, engine, assessor)
  4. Start the scheduler if enabled
  5. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (optional)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop scheduling new jobs and wait for running ones
  2. Stop accepting new connections
  3. Wait for active requests to complete (shutdown timeout)
  4. Close the store and the lock

EXAMPLES:
  # SQLite file at the default path
  ./server

  # In-memory store with a demo scenario loaded through the API
  RENT_STORE_DRIVER=memory ./server

  # PostgreSQL with the scheduler on
  RENT_STORE_DRIVER=postgres RENT_STORE_DSN=postgres://... RENT_SCHEDULER_ENABLED=true ./server

SEE ALSO:
  - config/config.go: All settings and their env names
  - app/app.go: Dependency wiring
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/warp/rent-ledger/api"
	"github.com/warp/rent-ledger/app"
	"github.com/warp/rent-ledger/config"
	"github.com/warp/rent-ledger/logging"
	"github.com/warp/rent-ledger/scheduler"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("RENT_CONFIG"), "path to YAML config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Scheduler.Enabled {
		sched, err := scheduler.New(a.Engine, a.Assessor, a.Reminder, scheduler.Config{
			ChargeRentCron: cfg.Scheduler.ChargeRentCron,
			LateFeeCron:    cfg.Scheduler.LateFeeCron,
			ReminderCron:   cfg.Scheduler.ReminderCron,
			Notify:         cfg.Scheduler.Notify,
		})
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
		log.Info().Int("jobs", sched.Jobs()).Msg("scheduler started")
	}

	if cfg.JWT.Secret == "" {
		log.Warn().Msg("RENT_JWT_SECRET is empty: API is unauthenticated and every request acts as system")
	}

	handler := api.NewHandler(a.Repo, a.Engine, a.Assessor, a.Notifier)
	handler.ReminderDays = cfg.LateFee.ReminderDays
	router := api.NewRouter(ctx, handler, api.RouterOptions{
		JWTSecret:   cfg.JWT.Secret,
		CORSOrigins: cfg.Server.CORSOrigins,
		RateLimit:   cfg.Server.RateLimit,
		RateBurst:   cfg.Server.RateBurst,
		Ready:       a.Ready,
		StaticDir:   "./web/dist",
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  2 * cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("store", cfg.Store.Driver).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}
