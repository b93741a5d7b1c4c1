package pgstore

import "context"

// Schema is the full DDL for the login store. Every statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS bank_logins (
	id         TEXT PRIMARY KEY,
	bank_code  TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	endpoint   TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS user_logins (
	id            TEXT PRIMARY KEY,
	bank_login_id TEXT NOT NULL REFERENCES bank_logins (id),
	user_id       TEXT NOT NULL,
	login_name    TEXT NOT NULL,
	display_name  TEXT NOT NULL,
	snapshot      BYTEA,
	tan_mechanism TEXT NOT NULL DEFAULT '',
	tan_medium    TEXT NOT NULL DEFAULT '',
	tan_media     JSONB NOT NULL DEFAULT '[]',
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	UNIQUE (bank_login_id, user_id, login_name)
);

CREATE INDEX IF NOT EXISTS user_logins_user_idx ON user_logins (user_id);

CREATE TABLE IF NOT EXISTS accounts (
	id            TEXT PRIMARY KEY,
	user_login_id TEXT NOT NULL REFERENCES user_logins (id) ON DELETE CASCADE,
	iban          TEXT NOT NULL,
	account_no    TEXT NOT NULL DEFAULT '',
	sub_account   TEXT NOT NULL DEFAULT '',
	blz           TEXT NOT NULL DEFAULT '',
	name          TEXT NOT NULL DEFAULT '',
	caps          BIGINT NOT NULL DEFAULT 0,
	updated_at    TIMESTAMPTZ NOT NULL,
	UNIQUE (user_login_id, iban)
);

CREATE TABLE IF NOT EXISTS bank_messages (
	id            TEXT PRIMARY KEY,
	user_login_id TEXT NOT NULL REFERENCES user_logins (id) ON DELETE CASCADE,
	code          TEXT NOT NULL DEFAULT '',
	text          TEXT NOT NULL,
	params        TEXT NOT NULL DEFAULT '',
	received_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS bank_messages_login_idx ON bank_messages (user_login_id, received_at DESC);
`

// Migrate applies the schema.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, Schema)
	return err
}
