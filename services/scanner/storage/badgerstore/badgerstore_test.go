// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badgerstore

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/WikiSentinel/services/scanner/crypto"
	"github.com/AleutianAI/WikiSentinel/services/scanner/datatypes"
	"github.com/AleutianAI/WikiSentinel/services/scanner/storage"
)

func testDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testCipher(t *testing.T) crypto.Cipher {
	t.Helper()
	c, err := crypto.NewAESCipher([]byte("badgerstore-test-key"))
	require.NoError(t, err)
	return c
}

func newTestEventStore(t *testing.T) (*EventStore, crypto.Cipher) {
	t.Helper()
	db := testDB(t)
	c := testCipher(t)
	return NewEventStore(db, c, 730*24*time.Hour, nil), c
}

// ==========================================================================
// EventStore
// ==========================================================================

func TestAppendAssignsDenseSequence(t *testing.T) {
	store, _ := newTestEventStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ev := &datatypes.ScanEvent{ScanID: "scan-1", Type: datatypes.EventPageStart}
		require.NoError(t, store.Append(ctx, ev))
		assert.Equal(t, int64(i+1), ev.EventSeq)
	}

	events, err := store.ListByScan(ctx, "scan-1")
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.EventSeq, "sequence must be dense and ordered")
	}
}

func TestAppendIsIdempotentOnExplicitSeq(t *testing.T) {
	store, _ := newTestEventStore(t)
	ctx := context.Background()

	first := &datatypes.ScanEvent{ScanID: "scan-1", Type: datatypes.EventStart, Message: "original"}
	require.NoError(t, store.Append(ctx, first))
	require.Equal(t, int64(1), first.EventSeq)

	// Retried emission with the same (scanId, eventSeq): must not overwrite.
	retry := &datatypes.ScanEvent{ScanID: "scan-1", EventSeq: 1, Type: datatypes.EventStart, Message: "retry"}
	require.NoError(t, store.Append(ctx, retry))

	events, err := store.ListByScan(ctx, "scan-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "original", events[0].Message)

	// The counter keeps going from the highest assigned seq.
	next := &datatypes.ScanEvent{ScanID: "scan-1", Type: datatypes.EventComplete}
	require.NoError(t, store.Append(ctx, next))
	assert.Equal(t, int64(2), next.EventSeq)
}

func TestAppendRejectsKeepalive(t *testing.T) {
	store, _ := newTestEventStore(t)

	err := store.Append(context.Background(), &datatypes.ScanEvent{
		ScanID: "scan-1",
		Type:   datatypes.EventKeepalive,
	})
	assert.Error(t, err)
}

func TestAppendRejectsBlankScanID(t *testing.T) {
	store, _ := newTestEventStore(t)

	err := store.Append(context.Background(), &datatypes.ScanEvent{Type: datatypes.EventStart})
	assert.ErrorIs(t, err, storage.ErrBlankKey)
}

func TestSequencesAreIndependentPerScan(t *testing.T) {
	store, _ := newTestEventStore(t)
	ctx := context.Background()

	a := &datatypes.ScanEvent{ScanID: "scan-a", Type: datatypes.EventStart}
	require.NoError(t, store.Append(ctx, a))
	b := &datatypes.ScanEvent{ScanID: "scan-b", Type: datatypes.EventStart}
	require.NoError(t, store.Append(ctx, b))
	a2 := &datatypes.ScanEvent{ScanID: "scan-a", Type: datatypes.EventComplete}
	require.NoError(t, store.Append(ctx, a2))

	assert.Equal(t, int64(1), a.EventSeq)
	assert.Equal(t, int64(1), b.EventSeq)
	assert.Equal(t, int64(2), a2.EventSeq)
}

func TestListByScanAndTypes(t *testing.T) {
	store, _ := newTestEventStore(t)
	ctx := context.Background()

	for _, typ := range []datatypes.EventType{
		datatypes.EventStart,
		datatypes.EventPageStart,
		datatypes.EventItem,
		datatypes.EventPageComplete,
		datatypes.EventComplete,
	} {
		require.NoError(t, store.Append(ctx, &datatypes.ScanEvent{ScanID: "scan-1", Type: typ}))
	}

	got, err := store.ListByScanAndTypes(ctx, "scan-1", []datatypes.EventType{
		datatypes.EventItem, datatypes.EventPageComplete,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, datatypes.EventItem, got[0].Type)
	assert.Equal(t, datatypes.EventPageComplete, got[1].Type)

	// Empty type list matches nothing.
	got, err = store.ListByScanAndTypes(ctx, "scan-1", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestListByScanUnknownScanIsEmpty(t *testing.T) {
	store, _ := newTestEventStore(t)

	events, err := store.ListByScan(context.Background(), "no-such-scan")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestLatestScan(t *testing.T) {
	store, _ := newTestEventStore(t)
	ctx := context.Background()

	_, err := store.LatestScan(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.Append(ctx, &datatypes.ScanEvent{ScanID: "scan-1", Type: datatypes.EventStart}))
	require.NoError(t, store.Append(ctx, &datatypes.ScanEvent{ScanID: "scan-1", Type: datatypes.EventComplete}))
	require.NoError(t, store.Append(ctx, &datatypes.ScanEvent{ScanID: "scan-2", Type: datatypes.EventStart}))

	info, err := store.LatestScan(ctx)
	require.NoError(t, err)
	assert.Equal(t, "scan-2", info.ScanID)
	assert.Equal(t, int64(1), info.LastSeq)
}

func TestListItemEventsDecrypted(t *testing.T) {
	db := testDB(t)
	c := testCipher(t)
	store := NewEventStore(db, c, 730*24*time.Hour, nil)
	audits := NewAuditStore(db, 730*24*time.Hour, nil)
	ctx := context.Background()

	encValue, err := c.Encrypt("john@example.com")
	require.NoError(t, err)
	encCtx, err := c.Encrypt("Contact john@example.com for details")
	require.NoError(t, err)

	item := &datatypes.ScanEvent{
		ScanID: "scan-1",
		Type:   datatypes.EventItem,
		PageID: "p-1",
		Result: &datatypes.ScanResult{
			ScanID: "scan-1",
			PageID: "p-1",
			DetectedEntities: []datatypes.PiiEntity{
				{PiiType: "email", SensitiveValue: encValue, SensitiveContext: encCtx, MaskedContext: "Contact [EMAIL] for details"},
			},
		},
	}
	require.NoError(t, store.Append(ctx, item))
	require.NoError(t, store.Append(ctx, &datatypes.ScanEvent{
		ScanID: "scan-1", Type: datatypes.EventItem, PageID: "p-other",
		Result: &datatypes.ScanResult{PageID: "p-other"},
	}))

	got, err := store.ListItemEventsDecrypted(ctx, "scan-1", "p-1", "incident-42")
	require.NoError(t, err)
	require.Len(t, got, 1)
	entity := got[0].Result.DetectedEntities[0]
	assert.Equal(t, "john@example.com", entity.SensitiveValue)
	assert.Equal(t, "Contact john@example.com for details", entity.SensitiveContext)
	assert.Equal(t, "Contact [EMAIL] for details", entity.MaskedContext)

	// The reveal left an audit trace in the same database.
	recs, err := audits.ListByScan(ctx, "scan-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "incident-42", recs[0].Purpose)
	assert.Equal(t, 1, recs[0].PiiCount)
	assert.NotEmpty(t, recs[0].ID)

	// Stored event is untouched: still encrypted at rest.
	stored, err := store.ListByScan(ctx, "scan-1")
	require.NoError(t, err)
	assert.True(t, c.IsEncrypted(stored[0].Result.DetectedEntities[0].SensitiveValue))
}

func TestListItemEventsDecryptedPassesPlainValuesThrough(t *testing.T) {
	store, _ := newTestEventStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, &datatypes.ScanEvent{
		ScanID: "scan-1", Type: datatypes.EventAttachmentItem, PageID: "p-1",
		Result: &datatypes.ScanResult{
			PageID: "p-1",
			DetectedEntities: []datatypes.PiiEntity{
				{PiiType: "phone", SensitiveValue: "06 11 22 33 44"},
			},
		},
	}))

	got, err := store.ListItemEventsDecrypted(ctx, "scan-1", "p-1", "test")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "06 11 22 33 44", got[0].Result.DetectedEntities[0].SensitiveValue)
}

// ==========================================================================
// CheckpointStore
// ==========================================================================

func newTestCheckpointStore(t *testing.T) *CheckpointStore {
	t.Helper()
	return NewCheckpointStore(testDB(t), nil)
}

func TestCheckpointSaveAndFind(t *testing.T) {
	store := newTestCheckpointStore(t)
	ctx := context.Background()

	cp := datatypes.Checkpoint{
		ScanID:              "scan-1",
		SpaceKey:            "ENG",
		LastProcessedPageID: "p-3",
		Status:              datatypes.StatusRunning,
	}
	require.NoError(t, store.Save(ctx, cp))

	got, err := store.FindByScanAndSpace(ctx, "scan-1", "ENG")
	require.NoError(t, err)
	assert.Equal(t, "p-3", got.LastProcessedPageID)
	assert.Equal(t, datatypes.StatusRunning, got.Status)
	assert.False(t, got.UpdatedAt.IsZero(), "Save must stamp UpdatedAt")

	_, err = store.FindByScanAndSpace(ctx, "scan-1", "HR")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCheckpointSaveUpserts(t *testing.T) {
	store := newTestCheckpointStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, datatypes.Checkpoint{
		ScanID: "scan-1", SpaceKey: "ENG", LastProcessedPageID: "p-1", Status: datatypes.StatusRunning,
	}))
	require.NoError(t, store.Save(ctx, datatypes.Checkpoint{
		ScanID: "scan-1", SpaceKey: "ENG", LastProcessedPageID: "p-2", Status: datatypes.StatusRunning,
	}))

	cps, err := store.FindByScan(ctx, "scan-1")
	require.NoError(t, err)
	require.Len(t, cps, 1, "same (scan, space) must upsert, not duplicate")
	assert.Equal(t, "p-2", cps[0].LastProcessedPageID)
}

func TestCheckpointSaveIgnoresBlankKeys(t *testing.T) {
	store := newTestCheckpointStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, datatypes.Checkpoint{SpaceKey: "ENG"}))
	require.NoError(t, store.Save(ctx, datatypes.Checkpoint{ScanID: "scan-1"}))

	cps, err := store.FindByScan(ctx, "scan-1")
	require.NoError(t, err)
	assert.Empty(t, cps)
}

func TestCheckpointFindByScanOrdersBySpaceKey(t *testing.T) {
	store := newTestCheckpointStore(t)
	ctx := context.Background()

	for _, space := range []string{"ZULU", "ALPHA", "MIKE"} {
		require.NoError(t, store.Save(ctx, datatypes.Checkpoint{
			ScanID: "scan-1", SpaceKey: space, Status: datatypes.StatusRunning,
		}))
	}

	cps, err := store.FindByScan(ctx, "scan-1")
	require.NoError(t, err)
	require.Len(t, cps, 3)
	assert.Equal(t, []string{"ALPHA", "MIKE", "ZULU"},
		[]string{cps[0].SpaceKey, cps[1].SpaceKey, cps[2].SpaceKey})
}

func TestCheckpointFindLatestBySpace(t *testing.T) {
	store := newTestCheckpointStore(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	clock := base
	store.now = func() time.Time { return clock }

	require.NoError(t, store.Save(ctx, datatypes.Checkpoint{
		ScanID: "scan-old", SpaceKey: "ENG", LastProcessedPageID: "p-1", Status: datatypes.StatusPaused,
	}))
	clock = base.Add(time.Hour)
	require.NoError(t, store.Save(ctx, datatypes.Checkpoint{
		ScanID: "scan-new", SpaceKey: "ENG", LastProcessedPageID: "p-7", Status: datatypes.StatusRunning,
	}))
	require.NoError(t, store.Save(ctx, datatypes.Checkpoint{
		ScanID: "scan-new", SpaceKey: "HR", Status: datatypes.StatusRunning,
	}))

	got, err := store.FindLatestBySpace(ctx, "ENG")
	require.NoError(t, err)
	assert.Equal(t, "scan-new", got.ScanID)
	assert.Equal(t, "p-7", got.LastProcessedPageID)

	_, err = store.FindLatestBySpace(ctx, "LEGAL")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCheckpointDeleteByScan(t *testing.T) {
	store := newTestCheckpointStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, datatypes.Checkpoint{ScanID: "scan-1", SpaceKey: "ENG", Status: datatypes.StatusRunning}))
	require.NoError(t, store.Save(ctx, datatypes.Checkpoint{ScanID: "scan-1", SpaceKey: "HR", Status: datatypes.StatusRunning}))
	require.NoError(t, store.Save(ctx, datatypes.Checkpoint{ScanID: "scan-2", SpaceKey: "ENG", Status: datatypes.StatusRunning}))

	require.NoError(t, store.DeleteByScan(ctx, "scan-1"))

	cps, err := store.FindByScan(ctx, "scan-1")
	require.NoError(t, err)
	assert.Empty(t, cps)

	// Other scans are untouched.
	cps, err = store.FindByScan(ctx, "scan-2")
	require.NoError(t, err)
	assert.Len(t, cps, 1)
}

func TestPauseScanSkipsTerminalCheckpoints(t *testing.T) {
	store := newTestCheckpointStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, datatypes.Checkpoint{ScanID: "scan-1", SpaceKey: "ENG", Status: datatypes.StatusRunning}))
	require.NoError(t, store.Save(ctx, datatypes.Checkpoint{ScanID: "scan-1", SpaceKey: "HR", Status: datatypes.StatusCompleted}))
	require.NoError(t, store.Save(ctx, datatypes.Checkpoint{ScanID: "scan-1", SpaceKey: "LEGAL", Status: datatypes.StatusFailed}))

	require.NoError(t, store.PauseScan(ctx, "scan-1"))

	byStatus := map[string]datatypes.ScanStatus{}
	cps, err := store.FindByScan(ctx, "scan-1")
	require.NoError(t, err)
	for _, cp := range cps {
		byStatus[cp.SpaceKey] = cp.Status
	}
	assert.Equal(t, datatypes.StatusPaused, byStatus["ENG"])
	assert.Equal(t, datatypes.StatusCompleted, byStatus["HR"])
	assert.Equal(t, datatypes.StatusFailed, byStatus["LEGAL"])
}

func TestPauseScanBlankIDIsNoOp(t *testing.T) {
	store := newTestCheckpointStore(t)
	assert.NoError(t, store.PauseScan(context.Background(), ""))
}

// ==========================================================================
// AuditStore
// ==========================================================================

func TestAuditRecordAndList(t *testing.T) {
	store := NewAuditStore(testDB(t), 730*24*time.Hour, nil)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.Record(ctx, datatypes.AuditRecord{
		ScanID: "scan-1", Purpose: "review", PiiCount: 3, AccessedAt: base,
	}))
	require.NoError(t, store.Record(ctx, datatypes.AuditRecord{
		ScanID: "scan-1", Purpose: "export", PiiCount: 1, AccessedAt: base.Add(time.Hour),
	}))
	require.NoError(t, store.Record(ctx, datatypes.AuditRecord{
		ScanID: "scan-2", Purpose: "other", AccessedAt: base,
	}))

	recs, err := store.ListByScan(ctx, "scan-1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "export", recs[0].Purpose, "newest first")
	assert.Equal(t, "review", recs[1].Purpose)
	for _, rec := range recs {
		assert.NotEmpty(t, rec.ID)
		assert.Equal(t, rec.AccessedAt.Add(730*24*time.Hour), rec.RetentionUntil)
	}
}

func TestAuditRecordRejectsBlankScan(t *testing.T) {
	store := NewAuditStore(testDB(t), time.Hour, nil)
	err := store.Record(context.Background(), datatypes.AuditRecord{Purpose: "x"})
	assert.ErrorIs(t, err, storage.ErrBlankKey)
}

func TestAuditPurgeExpired(t *testing.T) {
	store := NewAuditStore(testDB(t), time.Hour, nil)
	ctx := context.Background()

	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Record(ctx, datatypes.AuditRecord{
		ScanID: "scan-1", AccessedAt: now.Add(-3 * time.Hour), RetentionUntil: now.Add(-2 * time.Hour),
	}))
	require.NoError(t, store.Record(ctx, datatypes.AuditRecord{
		ScanID: "scan-1", AccessedAt: now.Add(-30 * time.Minute), RetentionUntil: now.Add(30 * time.Minute),
	}))

	purged, err := store.PurgeExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	recs, err := store.ListByScan(ctx, "scan-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].RetentionUntil.After(now))

	// Second purge finds nothing.
	purged, err = store.PurgeExpired(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, purged)
}
