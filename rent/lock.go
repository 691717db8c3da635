package rent

import (
	"context"
	"sync"
	"time"
)

// Locker guards a charge run so two runs for the same period can't overlap.
// TryLock returns ok=false when someone else holds key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, ok bool, err error)
}

// LocalLocker is an in-process Locker. It is enough for a single server;
// multi-instance deployments use the Redis locker.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time), now: time.Now}
}

func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if expires, ok := l.held[key]; ok && now.Before(expires) {
		return nil, false, nil
	}
	expires := now.Add(ttl)
	l.held[key] = expires

	unlock := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		// Don't release a lock that expired and was taken by someone else
		if l.held[key].Equal(expires) {
			delete(l.held, key)
		}
		return nil
	}
	return unlock, true, nil
}

// lockKey is the run lock for a billing period.
func lockKey(periodKey string) string {
	return "rent-ledger:charge-run:" + periodKey
}
