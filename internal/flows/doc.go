// Package flows implements the banking workflows behind the engine facade:
// enrollment, TAN-guarded transfers, statement retrieval and account
// synchronization. Flows receive every dependency as injected functions and
// host sentinel errors, keeping this package free of persistence, Redis and
// engine imports.
package flows
