// Package lock provides the per-login dialog lock. FinTS permits one dialog
// per login at a time; the lock turns a second concurrent attempt into a fast
// refusal instead of a bank-side protocol error.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrHeld is returned when the login's lock is held elsewhere.
	ErrHeld = errors.New("login lock held")
	// ErrUnavailable wraps Redis transport failures.
	ErrUnavailable = errors.New("login lock redis unavailable")
)

// releaseScript deletes the lock only when still owned by the caller, so a
// lease that outlived its TTL cannot release a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Guard hands out leases on per-login locks.
type Guard struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

func NewGuard(redisClient *redis.Client, prefix string, ttl time.Duration) *Guard {
	return &Guard{redis: redisClient, prefix: prefix, ttl: ttl}
}

func (g *Guard) key(login string) string {
	return g.prefix + ":" + login
}

// Lease is one acquired lock. Release it when request handling for the login
// ends; an unreleased lease frees itself after the guard TTL.
type Lease struct {
	guard *Guard
	key   string
	owner string
}

// Acquire takes the lock for a login, or fails with ErrHeld immediately. The
// owner token ties the lease to its holder.
func (g *Guard) Acquire(ctx context.Context, login, owner string) (*Lease, error) {
	ok, err := g.redis.SetNX(ctx, g.key(login), owner, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &Lease{guard: g, key: g.key(login), owner: owner}, nil
}

// Release frees the lock if this lease still owns it.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, l.guard.redis, []string{l.key}, l.owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
