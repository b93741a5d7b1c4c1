package fintsflow

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/finwerk/fintsflow/banks"
	"github.com/finwerk/fintsflow/dialog"
	"github.com/finwerk/fintsflow/internal/limiters"
	"github.com/finwerk/fintsflow/internal/lock"
	"github.com/finwerk/fintsflow/internal/stores"
	"github.com/finwerk/fintsflow/pinvault"
)

// Builder assembles an Engine. A builder is single-use.
type Builder struct {
	config Config
	redis  *redis.Client

	factory   dialog.ClientFactory
	store     LoginStore
	directory *banks.Directory
	auditSink AuditSink

	built bool
}

// New returns a builder preloaded with defaults.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing workflows, the PIN vault, locks
// and limiters.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithClientFactory sets the protocol client implementation.
func (b *Builder) WithClientFactory(factory dialog.ClientFactory) *Builder {
	b.factory = factory
	return b
}

// WithLoginStore sets the persistence port for logins and accounts.
func (b *Builder) WithLoginStore(store LoginStore) *Builder {
	b.store = store
	return b
}

// WithBankDirectory overrides the embedded bank-code directory.
func (b *Builder) WithBankDirectory(dir *banks.Directory) *Builder {
	b.directory = dir
	return b
}

// WithAuditSink sets the audit event receiver.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles counter collection.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the dialog open latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, constructs every component and wires
// the flow service.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.factory == nil {
		return nil, errors.New("client factory required")
	}
	if b.store == nil {
		return nil, errors.New("login store required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	directory := b.directory
	if directory == nil {
		embedded, err := banks.Embedded()
		if err != nil {
			return nil, err
		}
		directory = embedded
	}

	vault, err := pinvault.New(b.redis, pinvault.Config{
		MasterSecret: cfg.PIN.MasterSecret,
		SessionTTL:   cfg.PIN.SessionTTL,
		Prefix:       cfg.PIN.RedisPrefix,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:    cfg,
		factory:   b.factory,
		store:     b.store,
		directory: directory,
		vault:     vault,
		workflows: stores.NewWorkflowStore(b.redis, cfg.Workflow.RedisPrefix),
		locks:     lock.NewGuard(b.redis, cfg.Lock.RedisPrefix, cfg.Lock.TTL),
		pinLimiter: limiters.NewPINLimiter(b.redis, limiters.PINConfig{
			MaxAttempts: cfg.PIN.MaxAttempts,
			Cooldown:    cfg.PIN.AttemptCooldown,
		}),
		audit:   newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics: NewMetrics(cfg.Metrics),
	}
	engine.flows = engine.buildFlowService()

	b.built = true

	return engine, nil
}
