// Package pgstore is a PostgreSQL implementation of the engine's LoginStore
// port, built on database/sql with the pgx stdlib driver. Schema management is
// a single idempotent Migrate call; hosts with their own migration tooling can
// apply Schema themselves.
package pgstore
