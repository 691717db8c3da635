package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient emulates SET NX and the compare-and-delete script.
type fakeClient struct {
	mu   sync.Mutex
	keys map[string]string
	ttls map[string]time.Duration
	err  error
}

func newFake() *fakeClient {
	return &fakeClient{keys: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeClient) SetNX(_ context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, held := f.keys[key]; held {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = value.(string)
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeClient) Eval(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys[keys[0]] == args[0].(string) {
		delete(f.keys, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestLocker(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("second holder refused until release", func(t *testing.T) {
		t.Parallel()
		fake := newFake()
		l := &Locker{client: fake}

		unlock, ok, err := l.TryLock(ctx, "rent-ledger:charge-run:2026-03", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, time.Minute, fake.ttls["rent-ledger:charge-run:2026-03"])

		_, ok, err = l.TryLock(ctx, "rent-ledger:charge-run:2026-03", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, unlock(ctx))

		_, ok, err = l.TryLock(ctx, "rent-ledger:charge-run:2026-03", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("stale unlock leaves new holder alone", func(t *testing.T) {
		t.Parallel()
		fake := newFake()
		l := &Locker{client: fake}

		unlock, ok, err := l.TryLock(ctx, "k", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		// Simulate expiry and another instance taking the key
		fake.mu.Lock()
		fake.keys["k"] = "other-token"
		fake.mu.Unlock()

		require.NoError(t, unlock(ctx))
		assert.Equal(t, "other-token", fake.keys["k"])
	})

	t.Run("redis error", func(t *testing.T) {
		t.Parallel()
		fake := newFake()
		fake.err = errors.New("connection refused")
		l := &Locker{client: fake}

		_, ok, err := l.TryLock(ctx, "k", time.Minute)
		assert.False(t, ok)
		assert.ErrorContains(t, err, "connection refused")
	})
}
