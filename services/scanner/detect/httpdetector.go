// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// HTTPDetector calls an external detection service over HTTP.
//
// POST {url}/analyze with {"text": ..., "language": ...}; the service
// answers with a Result. 5xx responses are retried with linear backoff up
// to the retry budget; 4xx responses are permanent failures.
type HTTPDetector struct {
	url      string
	language string
	client   *http.Client
	retries  int
	backoff  time.Duration
	logger   *slog.Logger
}

// HTTPDetectorOption customizes the adapter.
type HTTPDetectorOption func(*HTTPDetector)

// WithHTTPClient injects the HTTP client (tests, custom transports).
func WithHTTPClient(client *http.Client) HTTPDetectorOption {
	return func(d *HTTPDetector) { d.client = client }
}

// WithRetries sets the retry budget for 5xx responses.
func WithRetries(n int) HTTPDetectorOption {
	return func(d *HTTPDetector) {
		if n >= 0 {
			d.retries = n
		}
	}
}

// NewHTTPDetector builds the adapter for the service at url. language is
// passed through to the service on every request.
func NewHTTPDetector(url, language string, logger *slog.Logger, opts ...HTTPDetectorOption) *HTTPDetector {
	if logger == nil {
		logger = slog.Default()
	}
	d := &HTTPDetector{
		url:      url,
		language: language,
		client:   &http.Client{Timeout: 30 * time.Second},
		retries:  2,
		backoff:  250 * time.Millisecond,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type detectRequest struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// Detect implements PiiDetector.
func (d *HTTPDetector) Detect(ctx context.Context, text string) (*Result, error) {
	body, err := json.Marshal(detectRequest{Text: text, Language: d.language})
	if err != nil {
		return nil, fmt.Errorf("marshal detect request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= d.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(d.backoff * time.Duration(attempt)):
			}
		}

		result, retryable, err := d.post(ctx, body)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		d.logger.Warn("detector call failed, retrying",
			"attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("%w: %w", ErrDetectorUnavailable, lastErr)
}

// post performs one request. The second return value reports whether the
// failure is worth retrying.
func (d *HTTPDetector) post(ctx context.Context, body []byte) (*Result, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("build detect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("call detector: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		var result Result
		if err := json.NewDecoder(io.LimitReader(resp.Body, 16<<20)).Decode(&result); err != nil {
			return nil, false, fmt.Errorf("decode detector response: %w", err)
		}
		return &result, false, nil
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("detector returned %d", resp.StatusCode)
	default:
		return nil, false, fmt.Errorf("detector rejected request: %d", resp.StatusCode)
	}
}

var _ PiiDetector = (*HTTPDetector)(nil)
