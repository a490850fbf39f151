// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/AleutianAI/WikiSentinel/services/scanner/crypto"
	"github.com/AleutianAI/WikiSentinel/services/scanner/datatypes"
	"github.com/AleutianAI/WikiSentinel/services/scanner/storage"
)

// EventStore is the PostgreSQL implementation of storage.EventStore.
type EventStore struct {
	db        *sqlx.DB
	cipher    crypto.Cipher
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewEventStore builds an EventStore on the shared connection pool.
func NewEventStore(db *sqlx.DB, cipher crypto.Cipher, retention time.Duration, logger *slog.Logger) *EventStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventStore{
		db:        db,
		cipher:    cipher,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

// scanLockID hashes the scan id into the advisory-lock keyspace.
func scanLockID(scanID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(scanID))
	return int64(h.Sum64())
}

// Append implements storage.EventStore.
func (s *EventStore) Append(ctx context.Context, event *datatypes.ScanEvent) error {
	if event == nil || event.ScanID == "" {
		return storage.ErrBlankKey
	}
	if !event.Type.Persistent() {
		return fmt.Errorf("event type %s is not persistent", event.Type)
	}
	if event.Ts.IsZero() {
		event.Ts = s.now().UTC()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Serialize sequence allocation per scan across instances.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, scanLockID(event.ScanID)); err != nil {
		return fmt.Errorf("acquire scan lock: %w", err)
	}

	if event.EventSeq <= 0 {
		var last int64
		err := tx.GetContext(ctx, &last,
			`SELECT coalesce(max(event_seq), 0) FROM scan_event WHERE scan_id = $1`, event.ScanID)
		if err != nil {
			return fmt.Errorf("read last sequence: %w", err)
		}
		event.EventSeq = last + 1
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// ON CONFLICT DO NOTHING gives the idempotent re-insert semantics.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO scan_event (scan_id, event_seq, event_type, page_id, ts, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (scan_id, event_seq) DO NOTHING`,
		event.ScanID, event.EventSeq, string(event.Type), event.PageID, event.Ts, payload)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// ListByScan implements storage.EventStore.
func (s *EventStore) ListByScan(ctx context.Context, scanID string) ([]datatypes.ScanEvent, error) {
	if scanID == "" {
		return nil, storage.ErrBlankKey
	}
	var payloads [][]byte
	err := s.db.SelectContext(ctx, &payloads,
		`SELECT payload FROM scan_event WHERE scan_id = $1 ORDER BY event_seq`, scanID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return decodeEvents(payloads)
}

// ListByScanAndTypes implements storage.EventStore.
func (s *EventStore) ListByScanAndTypes(ctx context.Context, scanID string, types []datatypes.EventType) ([]datatypes.ScanEvent, error) {
	if scanID == "" {
		return nil, storage.ErrBlankKey
	}
	if len(types) == 0 {
		return nil, nil
	}
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	query, args, err := sqlx.In(
		`SELECT payload FROM scan_event WHERE scan_id = ? AND event_type IN (?) ORDER BY event_seq`,
		scanID, names)
	if err != nil {
		return nil, fmt.Errorf("build type filter: %w", err)
	}
	var payloads [][]byte
	if err := s.db.SelectContext(ctx, &payloads, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list events by type: %w", err)
	}
	return decodeEvents(payloads)
}

// ListItemEventsDecrypted implements storage.EventStore. Read and audit
// insert share one transaction.
func (s *EventStore) ListItemEventsDecrypted(ctx context.Context, scanID, pageID, purpose string) ([]datatypes.ScanEvent, error) {
	if scanID == "" || pageID == "" {
		return nil, storage.ErrBlankKey
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reveal: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var payloads [][]byte
	err = tx.SelectContext(ctx, &payloads, `
		SELECT payload FROM scan_event
		WHERE scan_id = $1 AND page_id = $2 AND event_type IN ($3, $4)
		ORDER BY event_seq`,
		scanID, pageID, string(datatypes.EventItem), string(datatypes.EventAttachmentItem))
	if err != nil {
		return nil, fmt.Errorf("list item events: %w", err)
	}

	events, err := decodeEvents(payloads)
	if err != nil {
		return nil, err
	}

	piiCount := 0
	for i := range events {
		if events[i].Result == nil {
			continue
		}
		if err := decryptResult(s.cipher, events[i].Result); err != nil {
			return nil, err
		}
		piiCount += len(events[i].Result.DetectedEntities)
	}

	now := s.now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO pii_access_audit (id, scan_id, purpose, pii_count, accessed_at, retention_until)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), scanID, purpose, piiCount, now, now.Add(s.retention))
	if err != nil {
		return nil, fmt.Errorf("record reveal audit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reveal: %w", err)
	}
	return events, nil
}

// LatestScan implements storage.EventStore.
func (s *EventStore) LatestScan(ctx context.Context) (*storage.ScanInfo, error) {
	var info storage.ScanInfo
	err := s.db.QueryRowxContext(ctx, `
		SELECT scan_id, min(ts) AS started_at, max(event_seq) AS last_seq
		FROM scan_event
		GROUP BY scan_id
		ORDER BY min(ts) DESC
		LIMIT 1`).Scan(&info.ScanID, &info.StartedAt, &info.LastSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read latest scan: %w", err)
	}
	return &info, nil
}

func decodeEvents(payloads [][]byte) ([]datatypes.ScanEvent, error) {
	var events []datatypes.ScanEvent
	for _, payload := range payloads {
		var ev datatypes.ScanEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("decode event payload: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func decryptResult(cipher crypto.Cipher, result *datatypes.ScanResult) error {
	for i := range result.DetectedEntities {
		entity := &result.DetectedEntities[i]
		for _, field := range []*string{&entity.SensitiveContext, &entity.SensitiveValue} {
			if *field == "" || !cipher.IsEncrypted(*field) {
				continue
			}
			plain, err := cipher.Decrypt(*field)
			if err != nil {
				return fmt.Errorf("decrypt entity field: %w", err)
			}
			*field = plain
		}
	}
	return nil
}

var _ storage.EventStore = (*EventStore)(nil)
