// Package fintsflow provides a FinTS/HBCI 3.0 dialog and session lifecycle
// engine: it enrolls bank logins, drives suspendable multi-step workflows
// across request boundaries, bridges TAN challenges to the user, and caches
// PINs encrypted in Redis.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build]. One bank login is still limited to a single dialog at a
// time; concurrent attempts fail fast with [ErrLoginBusy].
//
// # Architecture boundaries
//
// fintsflow is the public surface. It exposes [Engine], [Builder], [Config]
// and value types (EnrollmentStatus, TransferChallenge, Account, etc.). All
// internal coordination, workflow persistence, locking, throttling and flow
// orchestration lives under internal/ and is never exported. The protocol
// client itself is pluggable through [dialog.ClientFactory]; this module
// drives dialogs, it does not speak the wire format.
//
// # What this package must NOT do
//
//   - Expose Redis clients, workflow records, or encoding details in its
//     public API.
//   - Persist a PIN anywhere outside the encrypted vault, or echo one back
//     in errors, audit events, or snapshots.
//   - Import any sub-package that re-imports fintsflow (no import cycles).
package fintsflow
