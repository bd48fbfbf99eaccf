// Package lock provides named, TTL-bounded exclusive leases on Redis.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jobpilot-workers/internal/common/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "jobpilot:lock:"

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// ErrNotHeld is returned when a lease was lost to expiry or another owner.
var ErrNotHeld = errors.New("LOCK_NOT_HELD")

type Locker struct {
	client redis.Cmdable
	logger logger.Logger
}

func NewLocker(client redis.Cmdable, log logger.Logger) *Locker {
	return &Locker{client: client, logger: log}
}

// Lease is a held lock. The owner token makes release safe after expiry.
type Lease struct {
	locker *Locker
	key    string
	token  string
	ttl    time.Duration
}

func (l *Lease) Name() string  { return l.key[len(keyPrefix):] }
func (l *Lease) Token() string { return l.token }

// Acquire tries once. ok is false when another owner holds the lease.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, bool, error) {
	key := keyPrefix + name
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lease{locker: l, key: key, token: token, ttl: ttl}, true, nil
}

// Release deletes the key only if this lease still owns it.
func (l *Lease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.locker.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", l.Name(), err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Renew pushes the expiry out by the original TTL.
func (l *Lease) Renew(ctx context.Context) error {
	n, err := renewScript.Run(ctx, l.locker.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("renew lock %s: %w", l.Name(), err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// KeepAlive renews the lease every third of its TTL until ctx is done.
func (l *Lease) KeepAlive(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Renew(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				l.locker.logger.Warn("lease renewal failed", map[string]interface{}{
					"lock":  l.Name(),
					"error": err.Error(),
				})
				if errors.Is(err, ErrNotHeld) {
					return
				}
			}
		}
	}
}

// WithLock runs fn while holding name. When the lease is taken elsewhere fn
// is not called and ran is false with a nil error.
func (l *Locker) WithLock(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) (ran bool, err error) {
	lease, ok, err := l.Acquire(ctx, name, ttl)
	if err != nil {
		return false, err
	}
	if !ok {
		l.logger.Info("lock held elsewhere, skipping", map[string]interface{}{"lock": name})
		return false, nil
	}
	defer func() {
		// Release on a fresh context so a cancelled run still frees the key.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if rErr := lease.Release(releaseCtx); rErr != nil {
			l.logger.Warn("lock release failed", map[string]interface{}{"lock": name, "error": rErr.Error()})
		}
	}()

	return true, fn(ctx)
}
