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
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/WikiSentinel/services/scanner/datatypes"
	"github.com/AleutianAI/WikiSentinel/services/scanner/storage"
)

const checkpointPrefix = "ckpt/"

func checkpointKey(scanID, spaceKey string) []byte {
	return []byte(checkpointPrefix + scanID + "/" + spaceKey)
}

// CheckpointStore is the badger-backed implementation of
// storage.CheckpointStore.
type CheckpointStore struct {
	db     *badger.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewCheckpointStore builds a CheckpointStore on the shared database.
func NewCheckpointStore(db *badger.DB, logger *slog.Logger) *CheckpointStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckpointStore{db: db, logger: logger, now: time.Now}
}

// Save implements storage.CheckpointStore.
func (s *CheckpointStore) Save(ctx context.Context, cp datatypes.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cp.ScanID == "" || cp.SpaceKey == "" {
		s.logger.Warn("checkpoint save skipped: blank key",
			"scan_id", cp.ScanID, "space_key", cp.SpaceKey)
		return nil
	}
	cp.UpdatedAt = s.now().UTC()

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(checkpointKey(cp.ScanID, cp.SpaceKey), data); err != nil {
			return fmt.Errorf("write checkpoint: %w", err)
		}
		return nil
	})
}

// FindByScanAndSpace implements storage.CheckpointStore.
func (s *CheckpointStore) FindByScanAndSpace(ctx context.Context, scanID, spaceKey string) (*datatypes.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if scanID == "" || spaceKey == "" {
		return nil, storage.ErrBlankKey
	}

	var cp datatypes.Checkpoint
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(checkpointKey(scanID, spaceKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read checkpoint: %w", err)
		}
		return item.Value(func(val []byte) error {
			return decodeCheckpoint(val, &cp)
		})
	})
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// FindByScan implements storage.CheckpointStore. Keys embed the space key,
// so prefix iteration already yields SpaceKey order.
func (s *CheckpointStore) FindByScan(ctx context.Context, scanID string) ([]datatypes.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if scanID == "" {
		return nil, storage.ErrBlankKey
	}

	var cps []datatypes.Checkpoint
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := []byte(checkpointPrefix + scanID + "/")
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var cp datatypes.Checkpoint
			if err := it.Item().Value(func(val []byte) error {
				return decodeCheckpoint(val, &cp)
			}); err != nil {
				return fmt.Errorf("decode checkpoint %s: %w", it.Item().Key(), err)
			}
			cps = append(cps, cp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cps, nil
}

// FindLatestBySpace implements storage.CheckpointStore. Checkpoints are
// bounded by scans x spaces, so a full scan of the prefix is cheap enough
// that no secondary index is kept.
func (s *CheckpointStore) FindLatestBySpace(ctx context.Context, spaceKey string) (*datatypes.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if spaceKey == "" {
		return nil, storage.ErrBlankKey
	}

	var latest *datatypes.Checkpoint
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := []byte(checkpointPrefix)
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if !strings.HasSuffix(string(it.Item().Key()), "/"+spaceKey) {
				continue
			}
			var cp datatypes.Checkpoint
			if err := it.Item().Value(func(val []byte) error {
				return decodeCheckpoint(val, &cp)
			}); err != nil {
				return fmt.Errorf("decode checkpoint %s: %w", it.Item().Key(), err)
			}
			if latest == nil || cp.UpdatedAt.After(latest.UpdatedAt) {
				latest = &cp
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return latest, nil
}

// DeleteByScan implements storage.CheckpointStore.
func (s *CheckpointStore) DeleteByScan(ctx context.Context, scanID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if scanID == "" {
		return storage.ErrBlankKey
	}

	return s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(checkpointPrefix + scanID + "/")
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Collect first: deleting under an open iterator is undefined.
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("delete checkpoint %s: %w", key, err)
			}
		}
		return nil
	})
}

// PauseScan implements storage.CheckpointStore.
func (s *CheckpointStore) PauseScan(ctx context.Context, scanID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if scanID == "" {
		return nil
	}

	return s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := []byte(checkpointPrefix + scanID + "/")
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		type pending struct {
			key []byte
			cp  datatypes.Checkpoint
		}
		var updates []pending
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var cp datatypes.Checkpoint
			if err := it.Item().Value(func(val []byte) error {
				return decodeCheckpoint(val, &cp)
			}); err != nil {
				return fmt.Errorf("decode checkpoint %s: %w", it.Item().Key(), err)
			}
			if cp.Status.Terminal() {
				continue
			}
			cp.Status = datatypes.StatusPaused
			cp.UpdatedAt = s.now().UTC()
			updates = append(updates, pending{key: it.Item().KeyCopy(nil), cp: cp})
		}
		for _, u := range updates {
			data, err := json.Marshal(u.cp)
			if err != nil {
				return fmt.Errorf("marshal checkpoint: %w", err)
			}
			if err := txn.Set(u.key, data); err != nil {
				return fmt.Errorf("write checkpoint %s: %w", u.key, err)
			}
		}
		return nil
	})
}

// decodeCheckpoint unmarshals a stored checkpoint, normalizing any status
// value an older build may have written.
func decodeCheckpoint(val []byte, cp *datatypes.Checkpoint) error {
	if err := json.Unmarshal(val, cp); err != nil {
		return err
	}
	cp.Status = datatypes.ParseScanStatus(string(cp.Status))
	return nil
}

var _ storage.CheckpointStore = (*CheckpointStore)(nil)
