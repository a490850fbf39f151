// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package storage defines the durable store contracts of the scanner.
//
// Two backends implement them: badgerstore (embedded, the default) and
// pgstore (PostgreSQL, for shared deployments). The orchestrator and the
// handlers only ever see these interfaces.
//
// Ownership rules: the EventStore is the sole writer of events and the
// CheckpointStore the sole writer of checkpoints. Event writes are
// serialized per scan (the orchestrator is a single producer), checkpoint
// writes per (scan, space).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/AleutianAI/WikiSentinel/services/scanner/datatypes"
)

// Errors shared by all backends.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrBlankKey indicates a required identifier was blank. Saves with
	// blank keys are ignored by contract, but reads report it.
	ErrBlankKey = errors.New("blank identifier")
)

// ScanInfo is the registry entry for a scan, maintained by the EventStore
// on first append.
type ScanInfo struct {
	ScanID    string    `json:"scanId"`
	StartedAt time.Time `json:"startedAt"`
	LastSeq   int64     `json:"lastSeq"`
}

// EventStore persists the ordered event log of every scan.
type EventStore interface {
	// Append writes the event and assigns the next dense EventSeq for
	// its scan. If the event already carries a positive EventSeq, the
	// append is idempotent: re-inserting an existing (scanId, eventSeq)
	// is a no-op. Keepalive events are rejected.
	Append(ctx context.Context, event *datatypes.ScanEvent) error

	// ListByScan returns all events of a scan in EventSeq order.
	ListByScan(ctx context.Context, scanID string) ([]datatypes.ScanEvent, error)

	// ListByScanAndTypes returns the scan's events of the given types,
	// in EventSeq order. An empty type list matches nothing.
	ListByScanAndTypes(ctx context.Context, scanID string, types []datatypes.EventType) ([]datatypes.ScanEvent, error)

	// ListItemEventsDecrypted returns the item and attachmentItem events
	// of (scan, page) with sensitive fields decrypted, and records an
	// audit entry for the reveal atomically with the read. Values are
	// only passed through the cipher when IsEncrypted reports true.
	ListItemEventsDecrypted(ctx context.Context, scanID, pageID, purpose string) ([]datatypes.ScanEvent, error)

	// LatestScan returns the registry entry of the most recently
	// started scan, or ErrNotFound when no scan was ever recorded.
	LatestScan(ctx context.Context) (*ScanInfo, error)
}

// CheckpointStore persists per-(scan, space) resume points.
type CheckpointStore interface {
	// Save upserts the checkpoint with UpdatedAt set to now. Saves with
	// a blank ScanID or SpaceKey are silently ignored.
	Save(ctx context.Context, cp datatypes.Checkpoint) error

	// FindByScanAndSpace returns the checkpoint for the key, or
	// ErrNotFound.
	FindByScanAndSpace(ctx context.Context, scanID, spaceKey string) (*datatypes.Checkpoint, error)

	// FindByScan returns the scan's checkpoints in SpaceKey order.
	FindByScan(ctx context.Context, scanID string) ([]datatypes.Checkpoint, error)

	// FindLatestBySpace returns the most recently updated checkpoint of
	// the space across all scans, or ErrNotFound.
	FindLatestBySpace(ctx context.Context, spaceKey string) (*datatypes.Checkpoint, error)

	// DeleteByScan removes every checkpoint of the scan.
	DeleteByScan(ctx context.Context, scanID string) error

	// PauseScan transitions every non-terminal checkpoint of the scan
	// to Paused. Terminal checkpoints (Completed, Failed) are untouched.
	// A blank scanID is a no-op.
	PauseScan(ctx context.Context, scanID string) error
}

// AuditStore persists reveal audit records and purges them past retention.
type AuditStore interface {
	// Record persists the audit record, assigning ID and RetentionUntil
	// if unset.
	Record(ctx context.Context, rec datatypes.AuditRecord) error

	// ListByScan returns the scan's audit records, newest first.
	ListByScan(ctx context.Context, scanID string) ([]datatypes.AuditRecord, error)

	// PurgeExpired deletes records with RetentionUntil before now and
	// returns how many were removed.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// ConfigStore exposes the read-only policy knobs the scanner consults at
// request time. The config package provides the live implementation.
type ConfigStore interface {
	// AllowSecretReveal reports whether reveal endpoints are enabled.
	AllowSecretReveal() bool

	// RetentionPeriod returns the audit retention duration.
	RetentionPeriod() time.Duration
}
