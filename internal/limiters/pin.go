package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrPINRateLimited = errors.New("pin attempts rate limited")
	ErrPINUnavailable = errors.New("pin limiter unavailable")
)

type PINConfig struct {
	MaxAttempts int
	Cooldown    time.Duration
}

// PINLimiter counts failed PIN submissions per login within a cooldown
// window. The counter key expires with the window; a success resets it.
type PINLimiter struct {
	redis       *redis.Client
	maxAttempts int
	cooldown    time.Duration
}

func NewPINLimiter(redisClient *redis.Client, cfg PINConfig) *PINLimiter {
	return &PINLimiter{
		redis:       redisClient,
		maxAttempts: cfg.MaxAttempts,
		cooldown:    cfg.Cooldown,
	}
}

func (l *PINLimiter) key(login string) string {
	return "pfa:" + login
}

func (l *PINLimiter) Check(ctx context.Context, login string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	count, err := l.redis.Get(ctx, l.key(login)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrPINUnavailable, err)
	}
	if int(count) >= l.maxAttempts {
		return ErrPINRateLimited
	}
	return nil
}

func (l *PINLimiter) RecordFailure(ctx context.Context, login string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	count, err := l.redis.Incr(ctx, l.key(login)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPINUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, l.key(login), l.cooldown).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrPINUnavailable, err)
		}
	}
	if int(count) >= l.maxAttempts {
		return ErrPINRateLimited
	}
	return nil
}

func (l *PINLimiter) Reset(ctx context.Context, login string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(login)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPINUnavailable, err)
	}
	return nil
}
