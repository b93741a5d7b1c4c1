package fintsflow

import (
	"errors"
	"time"
)

// Config carries all engine tuning. Populate it before Build; the engine
// copies it and treats its copy as immutable.
type Config struct {
	Dialog   DialogConfig
	Workflow WorkflowConfig
	PIN      PINConfig
	Lock     LockConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

/*
====================================
DIALOG CONFIG
====================================
*/

// DialogConfig governs protocol dialogs with the bank.
type DialogConfig struct {
	// ProductID is the registration identifier sent in every dialog
	// initialization. Banks reject unregistered products.
	ProductID string

	// OpenTimeout bounds a single dialog initialization round trip.
	OpenTimeout time.Duration
}

/*
====================================
WORKFLOW CONFIG
====================================
*/

// WorkflowConfig governs suspended multi-step workflows (enrollment and
// TAN-guarded transfers).
type WorkflowConfig struct {
	// TokenTTL bounds how long a suspended workflow stays resumable. Bank
	// dialogs cannot be held open much longer than a few minutes.
	TokenTTL time.Duration

	// SigningSecret signs the resume tokens handed to callers.
	SigningSecret []byte

	RedisPrefix string
}

/*
====================================
PIN CONFIG
====================================
*/

// PINConfig governs the encrypted PIN cache and failed-PIN throttling.
type PINConfig struct {
	// MasterSecret derives the at-rest encryption keys. Changing it orphans
	// every cached PIN.
	MasterSecret []byte

	// SessionTTL bounds session-tier and resume-tier cache entries.
	SessionTTL time.Duration

	RedisPrefix string

	// MaxAttempts failed PIN submissions within AttemptCooldown lock further
	// attempts for the rest of the cooldown.
	MaxAttempts     int
	AttemptCooldown time.Duration
}

/*
====================================
LOCK CONFIG
====================================
*/

// LockConfig governs the per-login dialog lock that keeps concurrent
// processes from opening parallel dialogs for one login.
type LockConfig struct {
	// TTL is the lease duration; a crashed holder frees the login after TTL.
	TTL time.Duration

	RedisPrefix string
}

// AuditConfig mirrors the async audit dispatcher settings.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

func defaultConfig() Config {
	return Config{
		Dialog: DialogConfig{
			ProductID:   "",
			OpenTimeout: 30 * time.Second,
		},
		Workflow: WorkflowConfig{
			TokenTTL:    5 * time.Minute,
			RedisPrefix: "wf",
		},
		PIN: PINConfig{
			SessionTTL:      15 * time.Minute,
			RedisPrefix:     "pv",
			MaxAttempts:     3,
			AttemptCooldown: 15 * time.Minute,
		},
		Lock: LockConfig{
			TTL:         2 * time.Minute,
			RedisPrefix: "dl",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Workflow.SigningSecret = cloneBytes(cfg.Workflow.SigningSecret)
	out.PIN.MasterSecret = cloneBytes(cfg.PIN.MasterSecret)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration for internally consistent values.
func (c *Config) Validate() error {
	// Dialog
	if c.Dialog.ProductID == "" {
		return errors.New("Dialog ProductID must be set")
	}
	if c.Dialog.OpenTimeout <= 0 {
		return errors.New("Dialog OpenTimeout must be > 0")
	}

	// Workflow
	if c.Workflow.TokenTTL <= 0 {
		return errors.New("Workflow TokenTTL must be > 0")
	}
	if len(c.Workflow.SigningSecret) < 32 {
		return errors.New("Workflow SigningSecret must be >= 32 bytes")
	}
	if c.Workflow.RedisPrefix == "" {
		return errors.New("Workflow RedisPrefix must be set")
	}

	// PIN
	if len(c.PIN.MasterSecret) < 32 {
		return errors.New("PIN MasterSecret must be >= 32 bytes")
	}
	if c.PIN.SessionTTL <= 0 {
		return errors.New("PIN SessionTTL must be > 0")
	}
	if c.PIN.RedisPrefix == "" {
		return errors.New("PIN RedisPrefix must be set")
	}
	if c.PIN.MaxAttempts <= 0 {
		return errors.New("PIN MaxAttempts must be > 0")
	}
	if c.PIN.AttemptCooldown <= 0 {
		return errors.New("PIN AttemptCooldown must be > 0")
	}

	// Lock
	if c.Lock.TTL <= 0 {
		return errors.New("Lock TTL must be > 0")
	}
	if c.Lock.TTL < c.Dialog.OpenTimeout {
		return errors.New("Lock TTL must cover Dialog OpenTimeout")
	}
	if c.Lock.RedisPrefix == "" {
		return errors.New("Lock RedisPrefix must be set")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics latency histograms require Metrics Enabled")
	}

	return nil
}
