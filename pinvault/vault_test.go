package pinvault

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestVault(t *testing.T) (*Vault, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	v, err := New(rdb, Config{
		MasterSecret: []byte("test-master-secret"),
		SessionTTL:   time.Minute,
		Prefix:       "pv",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v, mr
}

func TestStoreFetchRoundTrip(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	if err := v.Store(ctx, "u1:bl1", "1234", TierSession); err != nil {
		t.Fatalf("Store: %v", err)
	}
	pin, tier, err := v.Fetch(ctx, "u1:bl1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if pin != "1234" || tier != TierSession {
		t.Fatalf("got (%q, %v), want (1234, session)", pin, tier)
	}
}

func TestStoreRejectsSentinelAndBadTiers(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	if err := v.Store(ctx, "u1:bl1", CachedSentinel, TierSession); !errors.Is(err, ErrSentinelPIN) {
		t.Fatalf("sentinel store err = %v, want ErrSentinelPIN", err)
	}
	if err := v.Store(ctx, "u1:bl1", "1234", TierDecline); !errors.Is(err, ErrTierNotStorable) {
		t.Fatalf("decline store err = %v, want ErrTierNotStorable", err)
	}
	if _, _, err := v.Fetch(ctx, "u1:bl1"); !errors.Is(err, ErrNoPIN) {
		t.Fatalf("Fetch after rejected stores err = %v, want ErrNoPIN", err)
	}
}

func TestPINNeverStoredInPlaintext(t *testing.T) {
	v, mr := newTestVault(t)
	ctx := context.Background()

	const pin = "86420"
	if err := v.Store(ctx, "u1:bl1", pin, TierPersistent); err != nil {
		t.Fatalf("Store: %v", err)
	}
	for _, key := range mr.Keys() {
		value, err := mr.Get(key)
		if err != nil {
			t.Fatalf("read key %s: %v", key, err)
		}
		if strings.Contains(value, pin) {
			t.Fatalf("key %s holds the pin in plaintext", key)
		}
	}
}

func TestTierChangeReplacesOtherTier(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	if err := v.Store(ctx, "u1:bl1", "1234", TierSession); err != nil {
		t.Fatalf("Store session: %v", err)
	}
	if err := v.Store(ctx, "u1:bl1", "1234", TierPersistent); err != nil {
		t.Fatalf("Store persistent: %v", err)
	}
	tier, err := v.CachedTier(ctx, "u1:bl1")
	if err != nil {
		t.Fatalf("CachedTier: %v", err)
	}
	if tier != TierPersistent {
		t.Fatalf("tier = %v, want persistent", tier)
	}

	// Downgrade back to session; the persistent copy must disappear.
	if err := v.Store(ctx, "u1:bl1", "5678", TierSession); err != nil {
		t.Fatalf("Store session again: %v", err)
	}
	pin, tier, err := v.Fetch(ctx, "u1:bl1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if pin != "5678" || tier != TierSession {
		t.Fatalf("got (%q, %v), want (5678, session)", pin, tier)
	}
}

func TestSessionEntryExpires(t *testing.T) {
	v, mr := newTestVault(t)
	ctx := context.Background()

	if err := v.Store(ctx, "u1:bl1", "1234", TierResume); err != nil {
		t.Fatalf("Store: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	if _, _, err := v.Fetch(ctx, "u1:bl1"); !errors.Is(err, ErrNoPIN) {
		t.Fatalf("Fetch after expiry err = %v, want ErrNoPIN", err)
	}
}

func TestResolve(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	got, err := v.Resolve(ctx, "u1:bl1", "4321")
	if err != nil || got != "4321" {
		t.Fatalf("passthrough = (%q, %v), want (4321, nil)", got, err)
	}

	if _, err := v.Resolve(ctx, "u1:bl1", CachedSentinel); !errors.Is(err, ErrNoPIN) {
		t.Fatalf("sentinel without cache err = %v, want ErrNoPIN", err)
	}

	if err := v.Store(ctx, "u1:bl1", "1234", TierSession); err != nil {
		t.Fatalf("Store: %v", err)
	}
	got, err = v.Resolve(ctx, "u1:bl1", CachedSentinel)
	if err != nil || got != "1234" {
		t.Fatalf("sentinel resolve = (%q, %v), want (1234, nil)", got, err)
	}
}

func TestPurge(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	if err := v.Store(ctx, "u1:bl1", "1234", TierPersistent); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := v.Purge(ctx, "u1:bl1"); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if _, _, err := v.Fetch(ctx, "u1:bl1"); !errors.Is(err, ErrNoPIN) {
		t.Fatalf("Fetch after purge err = %v, want ErrNoPIN", err)
	}
	if err := v.Purge(ctx, "u1:bl1"); err != nil {
		t.Fatalf("Purge absent label: %v", err)
	}
}

func TestWrongMasterSecretFailsClosed(t *testing.T) {
	v, mr := newTestVault(t)
	ctx := context.Background()

	if err := v.Store(ctx, "u1:bl1", "1234", TierPersistent); err != nil {
		t.Fatalf("Store: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	other, err := New(rdb, Config{MasterSecret: []byte("different-secret"), Prefix: "pv"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, _, err := other.Fetch(ctx, "u1:bl1"); !errors.Is(err, errCipherFormat) {
		t.Fatalf("Fetch with wrong secret err = %v, want cipher failure", err)
	}
}
