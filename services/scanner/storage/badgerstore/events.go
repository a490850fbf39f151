// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badgerstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/WikiSentinel/services/scanner/crypto"
	"github.com/AleutianAI/WikiSentinel/services/scanner/datatypes"
	"github.com/AleutianAI/WikiSentinel/services/scanner/storage"
)

// Key prefixes. See the package comment for the full layout.
const (
	eventPrefix   = "evt/"
	seqPrefix     = "seq/"
	scanPrefix    = "scan/"
	latestScanKey = "scan-latest"
)

func eventKey(scanID string, seq int64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", eventPrefix, scanID, seq))
}

func seqKey(scanID string) []byte {
	return []byte(seqPrefix + scanID)
}

func scanKey(scanID string) []byte {
	return []byte(scanPrefix + scanID)
}

// EventStore is the badger-backed implementation of storage.EventStore.
//
// Sequencing relies on the orchestrator being the single producer per
// scan: the read-modify-write of the sequence counter happens inside one
// badger transaction, and no two transactions race on the same scan.
type EventStore struct {
	db        *badger.DB
	cipher    crypto.Cipher
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewEventStore builds an EventStore. The cipher is used by the
// decrypt-on-read query path; retention sizes the audit records written
// alongside those reads.
func NewEventStore(db *badger.DB, cipher crypto.Cipher, retention time.Duration, logger *slog.Logger) *EventStore {
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

// Append implements storage.EventStore.
func (s *EventStore) Append(ctx context.Context, event *datatypes.ScanEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event == nil || event.ScanID == "" {
		return storage.ErrBlankKey
	}
	if !event.Type.Persistent() {
		return fmt.Errorf("event type %s is not persistent", event.Type)
	}
	if event.Ts.IsZero() {
		event.Ts = s.now().UTC()
	}

	return s.db.Update(func(txn *badger.Txn) error {
		last, err := readSeq(txn, event.ScanID)
		if err != nil {
			return err
		}

		if event.EventSeq > 0 {
			// Idempotent re-insertion: an existing (scanId, eventSeq)
			// means a retried emission that already committed.
			if _, err := txn.Get(eventKey(event.ScanID, event.EventSeq)); err == nil {
				return nil
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("probe event key: %w", err)
			}
		} else {
			event.EventSeq = last + 1
		}

		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		if err := txn.Set(eventKey(event.ScanID, event.EventSeq), data); err != nil {
			return fmt.Errorf("write event: %w", err)
		}

		if event.EventSeq > last {
			if err := writeSeq(txn, event.ScanID, event.EventSeq); err != nil {
				return err
			}
		}
		return s.updateScanRegistry(txn, event)
	})
}

// updateScanRegistry keeps scan/{id} and scan-latest current. Runs inside
// the append transaction.
func (s *EventStore) updateScanRegistry(txn *badger.Txn, event *datatypes.ScanEvent) error {
	info := storage.ScanInfo{ScanID: event.ScanID, StartedAt: event.Ts, LastSeq: event.EventSeq}

	item, err := txn.Get(scanKey(event.ScanID))
	switch {
	case err == nil:
		var existing storage.ScanInfo
		if decodeErr := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &existing)
		}); decodeErr == nil {
			info.StartedAt = existing.StartedAt
			if existing.LastSeq > info.LastSeq {
				info.LastSeq = existing.LastSeq
			}
		}
	case errors.Is(err, badger.ErrKeyNotFound):
		// First event of this scan: it becomes the latest scan.
		if err := txn.Set([]byte(latestScanKey), []byte(event.ScanID)); err != nil {
			return fmt.Errorf("write latest scan: %w", err)
		}
	default:
		return fmt.Errorf("read scan registry: %w", err)
	}

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal scan info: %w", err)
	}
	if err := txn.Set(scanKey(event.ScanID), data); err != nil {
		return fmt.Errorf("write scan info: %w", err)
	}
	return nil
}

// ListByScan implements storage.EventStore.
func (s *EventStore) ListByScan(ctx context.Context, scanID string) ([]datatypes.ScanEvent, error) {
	return s.list(ctx, scanID, nil)
}

// ListByScanAndTypes implements storage.EventStore.
func (s *EventStore) ListByScanAndTypes(ctx context.Context, scanID string, types []datatypes.EventType) ([]datatypes.ScanEvent, error) {
	if len(types) == 0 {
		return nil, nil
	}
	wanted := make(map[datatypes.EventType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}
	return s.list(ctx, scanID, wanted)
}

func (s *EventStore) list(ctx context.Context, scanID string, wanted map[datatypes.EventType]bool) ([]datatypes.ScanEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if scanID == "" {
		return nil, storage.ErrBlankKey
	}

	var events []datatypes.ScanEvent
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := []byte(eventPrefix + scanID + "/")
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var ev datatypes.ScanEvent
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			}); err != nil {
				return fmt.Errorf("decode event %s: %w", it.Item().Key(), err)
			}
			if wanted == nil || wanted[ev.Type] {
				events = append(events, ev)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// ListItemEventsDecrypted implements storage.EventStore. The audit record
// for the reveal is written in the same transaction as the read, so a
// reveal can never succeed without leaving its trace.
func (s *EventStore) ListItemEventsDecrypted(ctx context.Context, scanID, pageID, purpose string) ([]datatypes.ScanEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if scanID == "" || pageID == "" {
		return nil, storage.ErrBlankKey
	}

	var events []datatypes.ScanEvent
	piiCount := 0

	err := s.db.Update(func(txn *badger.Txn) error {
		events = events[:0]
		piiCount = 0

		opts := badger.DefaultIteratorOptions
		prefix := []byte(eventPrefix + scanID + "/")
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var ev datatypes.ScanEvent
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			}); err != nil {
				return fmt.Errorf("decode event %s: %w", it.Item().Key(), err)
			}
			if ev.Type != datatypes.EventItem && ev.Type != datatypes.EventAttachmentItem {
				continue
			}
			if ev.PageID != pageID || ev.Result == nil {
				continue
			}
			if err := s.decryptResult(ev.Result); err != nil {
				return err
			}
			piiCount += len(ev.Result.DetectedEntities)
			events = append(events, ev)
		}

		now := s.now().UTC()
		rec := datatypes.AuditRecord{
			ID:             uuid.New().String(),
			ScanID:         scanID,
			Purpose:        purpose,
			PiiCount:       piiCount,
			AccessedAt:     now,
			RetentionUntil: now.Add(s.retention),
		}
		return writeAuditRecord(txn, rec)
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// decryptResult decrypts sensitive entity fields in place. Values without
// the ciphertext prefix pass through untouched.
func (s *EventStore) decryptResult(result *datatypes.ScanResult) error {
	for i := range result.DetectedEntities {
		entity := &result.DetectedEntities[i]
		for _, field := range []*string{&entity.SensitiveContext, &entity.SensitiveValue} {
			if *field == "" || !s.cipher.IsEncrypted(*field) {
				continue
			}
			plain, err := s.cipher.Decrypt(*field)
			if err != nil {
				return fmt.Errorf("decrypt entity field: %w", err)
			}
			*field = plain
		}
	}
	return nil
}

// LatestScan implements storage.EventStore.
func (s *EventStore) LatestScan(ctx context.Context) (*storage.ScanInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var info storage.ScanInfo
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(latestScanKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read latest scan: %w", err)
		}
		var scanID string
		if err := item.Value(func(val []byte) error {
			scanID = string(val)
			return nil
		}); err != nil {
			return err
		}

		item, err = txn.Get(scanKey(scanID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read scan info: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &info)
		})
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func readSeq(txn *badger.Txn, scanID string) (int64, error) {
	item, err := txn.Get(seqKey(scanID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read sequence: %w", err)
	}
	var seq int64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("sequence value has %d bytes", len(val))
		}
		seq = int64(binary.BigEndian.Uint64(val))
		return nil
	})
	return seq, err
}

func writeSeq(txn *badger.Txn, scanID string, seq int64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(seq))
	if err := txn.Set(seqKey(scanID), buf); err != nil {
		return fmt.Errorf("write sequence: %w", err)
	}
	return nil
}

var _ storage.EventStore = (*EventStore)(nil)
