// Package redis provides the charge-run lock for deployments with more than
// one server instance.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds our token, so a run
// that outlived its TTL can't release a lock another instance now holds.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

type client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// Locker implements rent.Locker with SET NX PX.
type Locker struct {
	client client
	closer func() error
}

func New(ctx context.Context, addr, password string, db int) (*Locker, error) {
	c := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis.New: ping: %w", err)
	}

	return &Locker{client: c, closer: c.Close}, nil
}

func (l *Locker) Close() error {
	if l.closer == nil {
		return nil
	}
	if err := l.closer(); err != nil {
		return fmt.Errorf("redis.Locker.Close: %w", err)
	}
	return nil
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis.Locker.TryLock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	unlock := func(ctx context.Context) error {
		if err := l.client.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("redis.Locker.Unlock: %w", err)
		}
		return nil
	}
	return unlock, true, nil
}
