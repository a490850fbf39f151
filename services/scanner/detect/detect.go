// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package detect defines the PII detection boundary.
//
// Detection itself runs in an external service; this package holds the
// capability interface, the HTTP adapter for that service, and a static
// detector for tests and demos. Detected spans index into the text that
// was submitted.
package detect

import (
	"context"
	"errors"
)

// Entity is one detected PII span.
type Entity struct {
	// Type is the detection type, e.g. "email", "phone", "iban".
	Type string `json:"type"`

	// Start and End are rune offsets into the submitted text,
	// 0 <= Start <= End <= len(text).
	Start int `json:"start"`
	End   int `json:"end"`

	// Confidence is the detector's score in [0, 1].
	Confidence float64 `json:"confidence"`
}

// Result is the detector's answer for one text.
type Result struct {
	Entities []Entity `json:"entities"`

	// Stats maps detection type to count as reported by the detector.
	Stats map[string]int `json:"stats,omitempty"`
}

// ErrDetectorUnavailable indicates the detection service could not be
// reached or kept failing past the retry budget.
var ErrDetectorUnavailable = errors.New("detector unavailable")

// PiiDetector analyzes plain text for PII spans.
//
// Implementations must be safe for concurrent use: independent scans run
// in parallel and share one detector.
type PiiDetector interface {
	Detect(ctx context.Context, text string) (*Result, error)
}
