// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pgstore implements the scanner's durable stores on PostgreSQL,
// for deployments where several service instances share one database.
//
// Events are stored as JSONB payloads with the routing columns (scan id,
// sequence, type, page id) broken out for indexing. Sequencing takes a
// per-scan advisory lock so concurrent writers cannot allocate the same
// EventSeq; the single-producer rule still holds per scan, the lock just
// makes violations fail safe instead of corrupting the log.
package pgstore

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
)

// Schema is applied on startup. Idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS scan_event (
	scan_id    TEXT        NOT NULL,
	event_seq  BIGINT      NOT NULL,
	event_type TEXT        NOT NULL,
	page_id    TEXT        NOT NULL DEFAULT '',
	ts         TIMESTAMPTZ NOT NULL,
	payload    JSONB       NOT NULL,
	PRIMARY KEY (scan_id, event_seq)
);

CREATE INDEX IF NOT EXISTS scan_event_type_idx
	ON scan_event (scan_id, event_type, page_id);

CREATE TABLE IF NOT EXISTS scan_checkpoint (
	scan_id         TEXT        NOT NULL,
	space_key       TEXT        NOT NULL,
	last_page_id    TEXT        NOT NULL DEFAULT '',
	last_attachment TEXT        NOT NULL DEFAULT '',
	status          TEXT        NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (scan_id, space_key)
);

CREATE INDEX IF NOT EXISTS scan_checkpoint_space_idx
	ON scan_checkpoint (space_key, updated_at DESC);

CREATE TABLE IF NOT EXISTS pii_access_audit (
	id              TEXT        PRIMARY KEY,
	scan_id         TEXT        NOT NULL,
	purpose         TEXT        NOT NULL DEFAULT '',
	pii_count       INT         NOT NULL DEFAULT 0,
	accessed_at     TIMESTAMPTZ NOT NULL,
	retention_until TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS pii_access_audit_scan_idx
	ON pii_access_audit (scan_id, accessed_at DESC);

CREATE INDEX IF NOT EXISTS pii_access_audit_retention_idx
	ON pii_access_audit (retention_until);
`

// Config holds PostgreSQL connection settings.
type Config struct {
	// DSN is the lib/pq connection string, e.g.
	// "postgres://sentinel:***@db:5432/sentinel?sslmode=require".
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns production connection-pool defaults for the DSN.
func DefaultConfig(dsn string) Config {
	return Config{
		DSN:             dsn,
		MaxOpenConns:    16,
		MaxIdleConns:    4,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Open connects, verifies the connection, and applies the schema.
func Open(cfg Config) (*sqlx.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}
