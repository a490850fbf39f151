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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/AleutianAI/WikiSentinel/services/scanner/datatypes"
	"github.com/AleutianAI/WikiSentinel/services/scanner/storage"
)

// CheckpointStore is the PostgreSQL implementation of
// storage.CheckpointStore.
type CheckpointStore struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewCheckpointStore builds a CheckpointStore on the shared pool.
func NewCheckpointStore(db *sqlx.DB, logger *slog.Logger) *CheckpointStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckpointStore{db: db, logger: logger, now: time.Now}
}

// checkpointRow maps the scan_checkpoint table.
type checkpointRow struct {
	ScanID         string    `db:"scan_id"`
	SpaceKey       string    `db:"space_key"`
	LastPageID     string    `db:"last_page_id"`
	LastAttachment string    `db:"last_attachment"`
	Status         string    `db:"status"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r checkpointRow) toCheckpoint() datatypes.Checkpoint {
	return datatypes.Checkpoint{
		ScanID:                      r.ScanID,
		SpaceKey:                    r.SpaceKey,
		LastProcessedPageID:         r.LastPageID,
		LastProcessedAttachmentName: r.LastAttachment,
		Status:                      datatypes.ParseScanStatus(r.Status),
		UpdatedAt:                   r.UpdatedAt,
	}
}

const checkpointColumns = `scan_id, space_key, last_page_id, last_attachment, status, updated_at`

// Save implements storage.CheckpointStore.
func (s *CheckpointStore) Save(ctx context.Context, cp datatypes.Checkpoint) error {
	if cp.ScanID == "" || cp.SpaceKey == "" {
		s.logger.Warn("checkpoint save skipped: blank key",
			"scan_id", cp.ScanID, "space_key", cp.SpaceKey)
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_checkpoint (scan_id, space_key, last_page_id, last_attachment, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (scan_id, space_key) DO UPDATE SET
			last_page_id = EXCLUDED.last_page_id,
			last_attachment = EXCLUDED.last_attachment,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`,
		cp.ScanID, cp.SpaceKey, cp.LastProcessedPageID, cp.LastProcessedAttachmentName,
		string(cp.Status), s.now().UTC())
	if err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	return nil
}

// FindByScanAndSpace implements storage.CheckpointStore.
func (s *CheckpointStore) FindByScanAndSpace(ctx context.Context, scanID, spaceKey string) (*datatypes.Checkpoint, error) {
	if scanID == "" || spaceKey == "" {
		return nil, storage.ErrBlankKey
	}
	var row checkpointRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+checkpointColumns+` FROM scan_checkpoint WHERE scan_id = $1 AND space_key = $2`,
		scanID, spaceKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	cp := row.toCheckpoint()
	return &cp, nil
}

// FindByScan implements storage.CheckpointStore.
func (s *CheckpointStore) FindByScan(ctx context.Context, scanID string) ([]datatypes.Checkpoint, error) {
	if scanID == "" {
		return nil, storage.ErrBlankKey
	}
	var rows []checkpointRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+checkpointColumns+` FROM scan_checkpoint WHERE scan_id = $1 ORDER BY space_key`,
		scanID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	cps := make([]datatypes.Checkpoint, 0, len(rows))
	for _, row := range rows {
		cps = append(cps, row.toCheckpoint())
	}
	return cps, nil
}

// FindLatestBySpace implements storage.CheckpointStore.
func (s *CheckpointStore) FindLatestBySpace(ctx context.Context, spaceKey string) (*datatypes.Checkpoint, error) {
	if spaceKey == "" {
		return nil, storage.ErrBlankKey
	}
	var row checkpointRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+checkpointColumns+` FROM scan_checkpoint WHERE space_key = $1 ORDER BY updated_at DESC LIMIT 1`,
		spaceKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read latest checkpoint: %w", err)
	}
	cp := row.toCheckpoint()
	return &cp, nil
}

// DeleteByScan implements storage.CheckpointStore.
func (s *CheckpointStore) DeleteByScan(ctx context.Context, scanID string) error {
	if scanID == "" {
		return storage.ErrBlankKey
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM scan_checkpoint WHERE scan_id = $1`, scanID); err != nil {
		return fmt.Errorf("delete checkpoints: %w", err)
	}
	return nil
}

// PauseScan implements storage.CheckpointStore.
func (s *CheckpointStore) PauseScan(ctx context.Context, scanID string) error {
	if scanID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE scan_checkpoint
		SET status = $1, updated_at = $2
		WHERE scan_id = $3 AND status NOT IN ($4, $5)`,
		string(datatypes.StatusPaused), s.now().UTC(), scanID,
		string(datatypes.StatusCompleted), string(datatypes.StatusFailed))
	if err != nil {
		return fmt.Errorf("pause checkpoints: %w", err)
	}
	return nil
}

var _ storage.CheckpointStore = (*CheckpointStore)(nil)
