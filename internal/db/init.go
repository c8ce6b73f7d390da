package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS roles (
    name TEXT PRIMARY KEY
);

INSERT INTO roles (name) VALUES ('admin'), ('user'), ('viewer')
ON CONFLICT DO NOTHING;

CREATE TABLE IF NOT EXISTS identities (
    id UUID PRIMARY KEY,
    username TEXT UNIQUE NOT NULL,
    password_verifier BYTEA NOT NULL,
    role TEXT NOT NULL REFERENCES roles(name),
    active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS key_records (
    identity_id UUID PRIMARY KEY REFERENCES identities(id) ON DELETE CASCADE,
    public_wrap_key BYTEA,
    encrypted_private_key BYTEA,
    wrapped_data_key BYTEA
);

CREATE TABLE IF NOT EXISTS audit_events (
    id UUID PRIMARY KEY,
    action TEXT NOT NULL,
    actor_id UUID,
    target_id UUID,
    success BOOLEAN NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// InitPostgres opens the database, verifies connectivity, and applies
// the schema. The key columns are opaque BYTEA: the store never
// interprets them.
func InitPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return db, nil
}
