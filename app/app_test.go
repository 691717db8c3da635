package app_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rent-ledger/app"
	"github.com/warp/rent-ledger/config"
	"github.com/warp/rent-ledger/notify"
	"github.com/warp/rent-ledger/rent"
	"github.com/warp/rent-ledger/seed"
	"github.com/warp/rent-ledger/session"
)

func TestOpen_SQLiteFile(t *testing.T) {
	// GIVEN: A SQLite path in a directory that doesn't exist yet
	// WHEN: The app is opened and rent is charged
	// THEN: The directory is created and the run goes through the engine
	cfg := config.Default()
	cfg.Store.DSN = filepath.Join(t.TempDir(), "nested", "rent.db")

	ctx := context.Background()
	a, err := app.Open(ctx, cfg)
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Ready(ctx))
	assert.Equal(t, cfg.Ledger.ChargeConcurrency, a.Engine.Concurrency)
	assert.IsType(t, &notify.LogNotifier{}, a.Notifier)

	asOf := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	_, err = seed.Load(ctx, a.Repo, "small", asOf)
	require.NoError(t, err)

	a.Engine.Now = func() time.Time { return asOf }
	res, err := a.Engine.ChargeAll(ctx, "March 2026", rent.Options{Session: session.System()})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Charged)
}

func TestOpen_Memory(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Driver = "memory"

	a, err := app.Open(context.Background(), cfg)
	require.NoError(t, err)
	assert.NoError(t, a.Ready(context.Background()))
	assert.NoError(t, a.Close())
}

func TestOpen_SendGridAddsNotifier(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Driver = "memory"
	cfg.SendGrid.APIKey = "SG.test"
	cfg.SendGrid.FromEmail = "rent@example.com"

	a, err := app.Open(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	multi, ok := a.Notifier.(notify.Multi)
	require.True(t, ok)
	assert.Len(t, multi, 2)
}

func TestOpen_Errors(t *testing.T) {
	t.Run("UnknownDriver", func(t *testing.T) {
		cfg := config.Default()
		cfg.Store.Driver = "mongo"
		_, err := app.Open(context.Background(), cfg)
		assert.ErrorContains(t, err, "unknown store driver")
	})

	t.Run("RedisUnreachable", func(t *testing.T) {
		cfg := config.Default()
		cfg.Store.Driver = "memory"
		cfg.Redis.Addr = "127.0.0.1:1"

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := app.Open(ctx, cfg)
		assert.Error(t, err)
	})
}
