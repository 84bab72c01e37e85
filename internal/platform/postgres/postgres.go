// Package postgres opens the two database handles the gateway uses: a pgx pool
// for policy reads and a database/sql handle (lib/pq) for the audit table.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq" // register "postgres" driver for database/sql

	"consentgate/internal/platform/config"
)

var (
	connectRetries = 10
	retryDelay     = 2 * time.Second
	pingTimeout    = 2 * time.Second
)

// Schema is the DDL for the gateway's tables. Both statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS consent_policies (
	id               TEXT PRIMARY KEY,
	subject_id       TEXT NOT NULL,
	purpose          TEXT NOT NULL,
	policy_json      JSONB NOT NULL,
	confidence_score DOUBLE PRECISION NOT NULL,
	expires_at       TIMESTAMPTZ NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS consent_policies_lookup_idx
	ON consent_policies (subject_id, purpose, created_at DESC);

CREATE TABLE IF NOT EXISTS audit_events (
	event_id         UUID PRIMARY KEY,
	occurred_at      TIMESTAMPTZ NOT NULL,
	event_type       TEXT NOT NULL,
	actor_id         TEXT NOT NULL,
	organization     TEXT NOT NULL,
	subject_id       TEXT NOT NULL,
	purpose          TEXT NOT NULL,
	decision         TEXT NOT NULL,
	request_id       TEXT NOT NULL,
	permitted_fields TEXT[] NOT NULL,
	justifications   TEXT[] NOT NULL
);
`

// OpenPool connects a pgx pool, retrying while the database comes up.
func OpenPool(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MinConns = 1
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	if cfg.ConnTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnTimeout
	}

	var lastErr error
	for i := 0; i < connectRetries; i++ {
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err = pool.Ping(pingCtx)
			cancel()
			if err == nil {
				return pool, nil
			}
			pool.Close()
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
	return nil, fmt.Errorf("db ping retries exhausted: %w", lastErr)
}

// OpenDB opens a database/sql handle using the lib/pq driver.
func OpenDB(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(int(cfg.MaxConns))
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate applies Schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
