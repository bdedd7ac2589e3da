// Package postgres implements the dispatch and patient stores on PostgreSQL
// via the pgx stdlib driver. Conditional transitions are single UPDATE
// statements guarded by the current status, so concurrent engine instances
// can share one database.
package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open opens a pooled connection to Postgres and verifies it with a ping.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS dispatch_requests (
	id              TEXT PRIMARY KEY,
	report_id       TEXT NOT NULL,
	animal_id       TEXT NOT NULL,
	owner_id        TEXT NOT NULL,
	priority        INT NOT NULL,
	lat             DOUBLE PRECISION NOT NULL,
	lon             DOUBLE PRECISION NOT NULL,
	address         TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	notified        JSONB NOT NULL DEFAULT '[]',
	declined        JSONB NOT NULL DEFAULT '[]',
	assigned_vet    TEXT NOT NULL DEFAULT '',
	radius_km       DOUBLE PRECISION NOT NULL,
	escalation_tier INT NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL,
	expires_at      TIMESTAMPTZ NOT NULL,
	accepted_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_requests_pending
	ON dispatch_requests (expires_at) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS notifications (
	id           TEXT PRIMARY KEY,
	request_id   TEXT NOT NULL REFERENCES dispatch_requests(id),
	vet_id       TEXT NOT NULL,
	channels     JSONB NOT NULL DEFAULT '[]',
	distance_km  DOUBLE PRECISION NOT NULL,
	status       TEXT NOT NULL,
	sent_at      TIMESTAMPTZ NOT NULL,
	delivered_at TIMESTAMPTZ,
	read_at      TIMESTAMPTZ,
	responded_at TIMESTAMPTZ,
	UNIQUE (request_id, vet_id)
);

CREATE TABLE IF NOT EXISTS responses (
	id         TEXT PRIMARY KEY,
	request_id TEXT NOT NULL,
	vet_id     TEXT NOT NULL,
	action     TEXT NOT NULL,
	message    TEXT NOT NULL DEFAULT '',
	latency_ms BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_responses_vet ON responses (vet_id);

CREATE TABLE IF NOT EXISTS patients (
	id             TEXT PRIMARY KEY,
	vet_id         TEXT NOT NULL,
	animal_id      TEXT NOT NULL,
	owner_id       TEXT NOT NULL,
	status         TEXT NOT NULL,
	request_id     TEXT NOT NULL,
	notes          JSONB NOT NULL DEFAULT '[]',
	next_follow_up TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL,
	UNIQUE (vet_id, animal_id)
);

CREATE TABLE IF NOT EXISTS follow_ups (
	id         TEXT PRIMARY KEY,
	patient_id TEXT NOT NULL REFERENCES patients(id),
	type       TEXT NOT NULL,
	due        TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

// Migrate creates the schema if it does not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}
