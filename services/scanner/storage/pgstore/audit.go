// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pgstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/AleutianAI/WikiSentinel/services/scanner/datatypes"
	"github.com/AleutianAI/WikiSentinel/services/scanner/storage"
)

// AuditStore is the PostgreSQL implementation of storage.AuditStore.
type AuditStore struct {
	db        *sqlx.DB
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewAuditStore builds an AuditStore on the shared pool.
func NewAuditStore(db *sqlx.DB, retention time.Duration, logger *slog.Logger) *AuditStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditStore{db: db, retention: retention, logger: logger, now: time.Now}
}

// auditRow maps the pii_access_audit table.
type auditRow struct {
	ID             string    `db:"id"`
	ScanID         string    `db:"scan_id"`
	Purpose        string    `db:"purpose"`
	PiiCount       int       `db:"pii_count"`
	AccessedAt     time.Time `db:"accessed_at"`
	RetentionUntil time.Time `db:"retention_until"`
}

// Record implements storage.AuditStore.
func (s *AuditStore) Record(ctx context.Context, rec datatypes.AuditRecord) error {
	if rec.ScanID == "" {
		return storage.ErrBlankKey
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.AccessedAt.IsZero() {
		rec.AccessedAt = s.now().UTC()
	}
	if rec.RetentionUntil.IsZero() {
		rec.RetentionUntil = rec.AccessedAt.Add(s.retention)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pii_access_audit (id, scan_id, purpose, pii_count, accessed_at, retention_until)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.ScanID, rec.Purpose, rec.PiiCount, rec.AccessedAt, rec.RetentionUntil)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// ListByScan implements storage.AuditStore.
func (s *AuditStore) ListByScan(ctx context.Context, scanID string) ([]datatypes.AuditRecord, error) {
	if scanID == "" {
		return nil, storage.ErrBlankKey
	}
	var rows []auditRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, scan_id, purpose, pii_count, accessed_at, retention_until
		FROM pii_access_audit WHERE scan_id = $1 ORDER BY accessed_at DESC`, scanID)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	recs := make([]datatypes.AuditRecord, 0, len(rows))
	for _, row := range rows {
		recs = append(recs, datatypes.AuditRecord{
			ID:             row.ID,
			ScanID:         row.ScanID,
			Purpose:        row.Purpose,
			PiiCount:       row.PiiCount,
			AccessedAt:     row.AccessedAt,
			RetentionUntil: row.RetentionUntil,
		})
	}
	return recs, nil
}

// PurgeExpired implements storage.AuditStore.
func (s *AuditStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM pii_access_audit WHERE retention_until < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge audit records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count purged records: %w", err)
	}
	if n > 0 {
		s.logger.Info("purged expired audit records", "count", n)
	}
	return int(n), nil
}

var _ storage.AuditStore = (*AuditStore)(nil)
