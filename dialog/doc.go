// Package dialog implements the FinTS dialog lifecycle: open, pause, resume,
// and close of one authenticated protocol session with a bank, plus the
// per-unit-of-work registry that guarantees every opened session is closed or
// paused exactly once.
//
// The package is deliberately ignorant of the wire protocol. All bank I/O goes
// through the [Client] contract; implementations wrap an actual FinTS/HBCI 3.0
// protocol library. State captured at pause or close is carried as [Blob]
// values: opaque, version-tagged byte strings that are never interpreted here.
//
// # Architecture boundaries
//
//   - No persistence. Callers own snapshot and continuation storage.
//   - No concurrency control across processes. The host engine serializes
//     dialog spans per login; a [Scope] only tracks one unit of work.
//   - A [Session] handle is single-goroutine; it is not safe for concurrent use.
package dialog
