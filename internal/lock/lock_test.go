package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestGuard(t *testing.T) (*Guard, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewGuard(rdb, "dl", time.Minute), mr
}

func TestAcquireIsExclusive(t *testing.T) {
	guard, _ := newTestGuard(t)
	ctx := context.Background()

	lease, err := guard.Acquire(ctx, "12345678:kunde1", "owner-a")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := guard.Acquire(ctx, "12345678:kunde1", "owner-b"); !errors.Is(err, ErrHeld) {
		t.Fatalf("second Acquire err = %v, want ErrHeld", err)
	}

	// A different login is unaffected.
	if _, err := guard.Acquire(ctx, "12345678:kunde2", "owner-b"); err != nil {
		t.Fatalf("Acquire other login: %v", err)
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := guard.Acquire(ctx, "12345678:kunde1", "owner-b"); err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
}

func TestStaleLeaseCannotReleaseSuccessor(t *testing.T) {
	guard, mr := newTestGuard(t)
	ctx := context.Background()

	stale, err := guard.Acquire(ctx, "12345678:kunde1", "owner-a")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// Lease expires, someone else takes the lock.
	mr.FastForward(2 * time.Minute)
	if _, err := guard.Acquire(ctx, "12345678:kunde1", "owner-b"); err != nil {
		t.Fatalf("Acquire after expiry: %v", err)
	}

	if err := stale.Release(ctx); err != nil {
		t.Fatalf("stale Release: %v", err)
	}
	if _, err := guard.Acquire(ctx, "12345678:kunde1", "owner-c"); !errors.Is(err, ErrHeld) {
		t.Fatalf("successor lock lost to stale release: err = %v", err)
	}
}
