// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package audit gates access to decrypted PII and enforces the retention
// of the resulting audit trail.
//
// Reveal is the only path from ciphertext to cleartext. It is disabled by
// default and controlled by the hot-reloadable allowSecretReveal policy
// switch: the policy is consulted on every call, so flipping it in the
// config file takes effect on the next request. The audit entry for a
// reveal is written by the store in the same transaction as the read, so
// there is no window where data was revealed but not recorded.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/WikiSentinel/services/scanner/datatypes"
	"github.com/AleutianAI/WikiSentinel/services/scanner/storage"
)

// ErrRevealDisabled is returned while the allowSecretReveal policy is off.
var ErrRevealDisabled = errors.New("secret reveal is disabled by policy")

// ErrPurposeRequired is returned when a reveal request carries no purpose.
// Every reveal must be attributable to a stated reason.
var ErrPurposeRequired = errors.New("a reveal purpose is required")

// Service performs policy-checked reveals and serves the audit history.
type Service struct {
	events storage.EventStore
	audits storage.AuditStore
	policy storage.ConfigStore
	logger *slog.Logger
}

// NewService wires the reveal service.
func NewService(events storage.EventStore, audits storage.AuditStore, policy storage.ConfigStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{events: events, audits: audits, policy: policy, logger: logger}
}

// Reveal returns the item and attachmentItem events of (scan, page) with
// their sensitive fields decrypted. The purge-proof audit entry is written
// atomically with the read by the event store.
func (s *Service) Reveal(ctx context.Context, scanID, pageID, purpose string) ([]datatypes.ScanEvent, error) {
	if !s.policy.AllowSecretReveal() {
		return nil, ErrRevealDisabled
	}
	if strings.TrimSpace(scanID) == "" || strings.TrimSpace(pageID) == "" {
		return nil, storage.ErrBlankKey
	}
	if strings.TrimSpace(purpose) == "" {
		return nil, ErrPurposeRequired
	}

	events, err := s.events.ListItemEventsDecrypted(ctx, scanID, pageID, purpose)
	if err != nil {
		return nil, fmt.Errorf("reveal scan %s page %s: %w", scanID, pageID, err)
	}

	s.logger.Info("pii revealed",
		"scan_id", scanID,
		"page_id", pageID,
		"purpose", purpose,
		"events", len(events))
	return events, nil
}

// History returns the scan's audit records, newest first.
func (s *Service) History(ctx context.Context, scanID string) ([]datatypes.AuditRecord, error) {
	if strings.TrimSpace(scanID) == "" {
		return nil, storage.ErrBlankKey
	}
	return s.audits.ListByScan(ctx, scanID)
}
