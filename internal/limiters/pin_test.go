package limiters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T) (*PINLimiter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewPINLimiter(rdb, PINConfig{MaxAttempts: 3, Cooldown: 15 * time.Minute}), mr
}

func TestCheckBelowLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	if err := limiter.Check(ctx, "12345678:kunde1"); err != nil {
		t.Fatalf("Check fresh login: %v", err)
	}
	if err := limiter.RecordFailure(ctx, "12345678:kunde1"); err != nil {
		t.Fatalf("first failure: %v", err)
	}
	if err := limiter.Check(ctx, "12345678:kunde1"); err != nil {
		t.Fatalf("Check after one failure: %v", err)
	}
}

func TestLimitReachedBlocks(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	_ = limiter.RecordFailure(ctx, "12345678:kunde1")
	_ = limiter.RecordFailure(ctx, "12345678:kunde1")
	if err := limiter.RecordFailure(ctx, "12345678:kunde1"); !errors.Is(err, ErrPINRateLimited) {
		t.Fatalf("third failure err = %v, want ErrPINRateLimited", err)
	}
	if err := limiter.Check(ctx, "12345678:kunde1"); !errors.Is(err, ErrPINRateLimited) {
		t.Fatalf("Check at limit err = %v, want ErrPINRateLimited", err)
	}

	// Other logins keep their own budget.
	if err := limiter.Check(ctx, "12345678:kunde2"); err != nil {
		t.Fatalf("Check other login: %v", err)
	}
}

func TestResetClearsBudget(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	_ = limiter.RecordFailure(ctx, "12345678:kunde1")
	_ = limiter.RecordFailure(ctx, "12345678:kunde1")
	_ = limiter.RecordFailure(ctx, "12345678:kunde1")

	if err := limiter.Reset(ctx, "12345678:kunde1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := limiter.Check(ctx, "12345678:kunde1"); err != nil {
		t.Fatalf("Check after reset: %v", err)
	}
}

func TestCooldownExpires(t *testing.T) {
	limiter, mr := newTestLimiter(t)
	ctx := context.Background()

	_ = limiter.RecordFailure(ctx, "12345678:kunde1")
	_ = limiter.RecordFailure(ctx, "12345678:kunde1")
	_ = limiter.RecordFailure(ctx, "12345678:kunde1")

	mr.FastForward(16 * time.Minute)
	if err := limiter.Check(ctx, "12345678:kunde1"); err != nil {
		t.Fatalf("Check after cooldown: %v", err)
	}
}
