// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badgerstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/WikiSentinel/services/scanner/datatypes"
	"github.com/AleutianAI/WikiSentinel/services/scanner/storage"
)

const auditPrefix = "audit/"

// auditKey orders records by RetentionUntil so PurgeExpired walks an
// ordered prefix and stops at the first live record.
func auditKey(rec datatypes.AuditRecord) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", auditPrefix, rec.RetentionUntil.UnixNano(), rec.ID))
}

func writeAuditRecord(txn *badger.Txn, rec datatypes.AuditRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	if err := txn.Set(auditKey(rec), data); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	return nil
}

// AuditStore is the badger-backed implementation of storage.AuditStore.
type AuditStore struct {
	db        *badger.DB
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewAuditStore builds an AuditStore. retention fills RetentionUntil on
// records that arrive without one.
func NewAuditStore(db *badger.DB, retention time.Duration, logger *slog.Logger) *AuditStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditStore{db: db, retention: retention, logger: logger, now: time.Now}
}

// Record implements storage.AuditStore.
func (s *AuditStore) Record(ctx context.Context, rec datatypes.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
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
	return s.db.Update(func(txn *badger.Txn) error {
		return writeAuditRecord(txn, rec)
	})
}

// ListByScan implements storage.AuditStore.
func (s *AuditStore) ListByScan(ctx context.Context, scanID string) ([]datatypes.AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if scanID == "" {
		return nil, storage.ErrBlankKey
	}

	var recs []datatypes.AuditRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := []byte(auditPrefix)
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec datatypes.AuditRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode audit record %s: %w", it.Item().Key(), err)
			}
			if rec.ScanID == scanID {
				recs = append(recs, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].AccessedAt.After(recs[j].AccessedAt)
	})
	return recs, nil
}

// PurgeExpired implements storage.AuditStore.
func (s *AuditStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	cutoff := []byte(fmt.Sprintf("%s%020d", auditPrefix, now.UnixNano()))
	purged := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(auditPrefix)
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			// Keys sort by RetentionUntil: the first live record ends
			// the walk.
			if string(key) >= string(cutoff) {
				break
			}
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("delete audit record %s: %w", key, err)
			}
		}
		purged = len(keys)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		s.logger.Info("purged expired audit records", "count", purged)
	}
	return purged, nil
}

var _ storage.AuditStore = (*AuditStore)(nil)
