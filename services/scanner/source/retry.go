// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/WikiSentinel/services/scanner/datatypes"
)

// RetrySource decorates a ContentSource with client-side rate limiting
// and bounded retries on transient failures.
//
// Only errors wrapping ErrTransient are retried; everything else
// (not-found, context cancellation) surfaces immediately.
type RetrySource struct {
	inner    ContentSource
	limiter  *rate.Limiter
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
}

// NewRetrySource wraps inner. requestsPerSecond caps the call rate,
// attempts bounds the retries per call (0 means no retries).
func NewRetrySource(inner ContentSource, requestsPerSecond float64, attempts int, logger *slog.Logger) *RetrySource {
	if logger == nil {
		logger = slog.Default()
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	if attempts < 0 {
		attempts = 0
	}
	return &RetrySource{
		inner:    inner,
		limiter:  rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		attempts: attempts,
		backoff:  200 * time.Millisecond,
		logger:   logger,
	}
}

// call runs fn under the rate limiter, retrying transient failures with
// linear backoff.
func (s *RetrySource) call(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.attempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil || !errors.Is(lastErr, ErrTransient) {
			return lastErr
		}
		if attempt < s.attempts {
			s.logger.Warn("source call failed, retrying",
				"op", op, "attempt", attempt+1, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.backoff * time.Duration(attempt+1)):
			}
		}
	}
	return fmt.Errorf("%s: retries exhausted: %w", op, lastErr)
}

// ListSpaces implements ContentSource.
func (s *RetrySource) ListSpaces(ctx context.Context) ([]datatypes.Space, error) {
	var out []datatypes.Space
	err := s.call(ctx, "list spaces", func() error {
		var err error
		out, err = s.inner.ListSpaces(ctx)
		return err
	})
	return out, err
}

// ListPages implements ContentSource.
func (s *RetrySource) ListPages(ctx context.Context, spaceKey string) ([]datatypes.Page, error) {
	var out []datatypes.Page
	err := s.call(ctx, "list pages", func() error {
		var err error
		out, err = s.inner.ListPages(ctx, spaceKey)
		return err
	})
	return out, err
}

// GetPage implements ContentSource.
func (s *RetrySource) GetPage(ctx context.Context, pageID string) (*datatypes.Page, error) {
	var out *datatypes.Page
	err := s.call(ctx, "get page", func() error {
		var err error
		out, err = s.inner.GetPage(ctx, pageID)
		return err
	})
	return out, err
}

// ListAttachments implements ContentSource.
func (s *RetrySource) ListAttachments(ctx context.Context, pageID string) ([]datatypes.AttachmentInfo, error) {
	var out []datatypes.AttachmentInfo
	err := s.call(ctx, "list attachments", func() error {
		var err error
		out, err = s.inner.ListAttachments(ctx, pageID)
		return err
	})
	return out, err
}

// Download implements ContentSource.
func (s *RetrySource) Download(ctx context.Context, pageID string, att datatypes.AttachmentInfo) ([]byte, error) {
	var out []byte
	err := s.call(ctx, "download attachment", func() error {
		var err error
		out, err = s.inner.Download(ctx, pageID, att)
		return err
	})
	return out, err
}

// ModifiedSince implements ContentSource.
func (s *RetrySource) ModifiedSince(ctx context.Context, pageID string, since time.Time) (bool, error) {
	var out bool
	err := s.call(ctx, "modified since", func() error {
		var err error
		out, err = s.inner.ModifiedSince(ctx, pageID, since)
		return err
	})
	return out, err
}

var _ ContentSource = (*RetrySource)(nil)
