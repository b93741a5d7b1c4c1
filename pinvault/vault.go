package pinvault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedSentinel is the placeholder shown in place of a cached PIN. Callers
// submit it verbatim to mean "use the cached PIN"; the vault refuses to store
// it as a PIN value.
const CachedSentinel = "******"

// Tier is the caching policy chosen for a PIN.
type Tier uint8

const (
	// TierNone means no decision was made yet.
	TierNone Tier = iota
	// TierDecline means the user declined caching; the PIN is never stored.
	TierDecline
	// TierResume keeps the PIN only for the lifetime of a suspended workflow.
	TierResume
	// TierSession keeps the PIN for the configured session TTL.
	TierSession
	// TierPersistent keeps the PIN until it is purged.
	TierPersistent
)

func (t Tier) String() string {
	switch t {
	case TierNone:
		return "none"
	case TierDecline:
		return "decline"
	case TierResume:
		return "resume"
	case TierSession:
		return "session"
	case TierPersistent:
		return "persistent"
	}
	return "unknown"
}

// Storable reports whether the tier results in a Redis entry.
func (t Tier) Storable() bool {
	return t == TierResume || t == TierSession || t == TierPersistent
}

var (
	// ErrNoPIN is returned when no cached PIN exists for a label.
	ErrNoPIN = errors.New("no cached pin")
	// ErrSentinelPIN is returned when the cached-PIN sentinel is submitted
	// where a real PIN is required.
	ErrSentinelPIN = errors.New("pin sentinel is not a pin")
	// ErrTierNotStorable is returned when Store is called with a tier that
	// forbids caching.
	ErrTierNotStorable = errors.New("pin tier forbids caching")
	// ErrVaultUnavailable wraps Redis transport failures.
	ErrVaultUnavailable = errors.New("pin vault unavailable")
)

const defaultPrefix = "pv"

// Config carries the vault dependencies. MasterSecret must stay stable across
// processes or previously cached PINs become undecryptable.
type Config struct {
	MasterSecret []byte
	SessionTTL   time.Duration
	Prefix       string
}

// Vault is a Redis-backed encrypted PIN cache. Safe for concurrent use.
type Vault struct {
	redis      *redis.Client
	master     []byte
	sessionTTL time.Duration
	prefix     string
}

// New constructs a vault. The master secret must be non-empty.
func New(redisClient *redis.Client, cfg Config) (*Vault, error) {
	if redisClient == nil {
		return nil, errors.New("pinvault: redis client is nil")
	}
	if len(cfg.MasterSecret) == 0 {
		return nil, errors.New("pinvault: master secret is empty")
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Vault{
		redis:      redisClient,
		master:     append([]byte(nil), cfg.MasterSecret...),
		sessionTTL: ttl,
		prefix:     prefix,
	}, nil
}

func (v *Vault) sessionKey(label string) string {
	return v.prefix + ":s:" + label
}

func (v *Vault) persistentKey(label string) string {
	return v.prefix + ":p:" + label
}

// Store caches a PIN under the given tier, replacing any entry in the other
// tier so one label never resolves ambiguously. TierResume and TierSession
// entries expire after the session TTL; TierPersistent entries do not expire.
func (v *Vault) Store(ctx context.Context, label, pin string, tier Tier) error {
	if pin == CachedSentinel {
		return ErrSentinelPIN
	}
	if pin == "" {
		return errors.New("pinvault: empty pin")
	}
	if !tier.Storable() {
		return ErrTierNotStorable
	}

	sealed, err := sealPIN(v.master, pin)
	if err != nil {
		return err
	}
	value := append([]byte{byte(tier)}, sealed...)

	var set, del string
	var ttl time.Duration
	if tier == TierPersistent {
		set, del, ttl = v.persistentKey(label), v.sessionKey(label), 0
	} else {
		set, del, ttl = v.sessionKey(label), v.persistentKey(label), v.sessionTTL
	}

	pipe := v.redis.TxPipeline()
	pipe.Set(ctx, set, value, ttl)
	pipe.Del(ctx, del)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrVaultUnavailable, err)
	}
	return nil
}

// Fetch returns the cached PIN and its tier, or ErrNoPIN. The session tier is
// consulted first.
func (v *Vault) Fetch(ctx context.Context, label string) (string, Tier, error) {
	for _, key := range []string{v.sessionKey(label), v.persistentKey(label)} {
		value, err := v.redis.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return "", TierNone, fmt.Errorf("%w: %v", ErrVaultUnavailable, err)
		}
		if len(value) < 1 {
			return "", TierNone, errCipherFormat
		}
		pin, err := openPIN(v.master, value[1:])
		if err != nil {
			return "", TierNone, err
		}
		return pin, Tier(value[0]), nil
	}
	return "", TierNone, ErrNoPIN
}

// Resolve turns user input into a usable PIN: the sentinel resolves to the
// cached PIN, anything else passes through unchanged.
func (v *Vault) Resolve(ctx context.Context, label, provided string) (string, error) {
	if provided != CachedSentinel {
		return provided, nil
	}
	pin, _, err := v.Fetch(ctx, label)
	if err != nil {
		return "", err
	}
	return pin, nil
}

// CachedTier reports the tier of the cached entry for a label, TierNone when
// nothing is cached.
func (v *Vault) CachedTier(ctx context.Context, label string) (Tier, error) {
	for _, key := range []string{v.sessionKey(label), v.persistentKey(label)} {
		value, err := v.redis.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return TierNone, fmt.Errorf("%w: %v", ErrVaultUnavailable, err)
		}
		if len(value) < 1 {
			return TierNone, errCipherFormat
		}
		return Tier(value[0]), nil
	}
	return TierNone, nil
}

// Purge removes both tiers for a label. Removing an absent label is not an
// error.
func (v *Vault) Purge(ctx context.Context, label string) error {
	if err := v.redis.Del(ctx, v.sessionKey(label), v.persistentKey(label)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrVaultUnavailable, err)
	}
	return nil
}
