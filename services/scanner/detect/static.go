// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package detect

import (
	"context"
	"regexp"
)

// StaticDetector finds a small fixed set of patterns (emails, French
// phone numbers). It exists for tests and demo mode; it is NOT a real PII
// detector and must not be deployed as one.
type StaticDetector struct{}

// NewStaticDetector returns the pattern-based detector.
func NewStaticDetector() *StaticDetector {
	return &StaticDetector{}
}

var staticPatterns = []struct {
	piiType    string
	pattern    *regexp.Regexp
	confidence float64
}{
	{"email", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), 0.95},
	{"phone", regexp.MustCompile(`0[1-9](?:[ .]?\d{2}){4}`), 0.85},
}

// Detect implements PiiDetector. Offsets are rune-based to match the
// contract, so the byte indexes from the regexp engine are converted.
func (d *StaticDetector) Detect(ctx context.Context, text string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{Stats: make(map[string]int)}
	for _, p := range staticPatterns {
		for _, loc := range p.pattern.FindAllStringIndex(text, -1) {
			result.Entities = append(result.Entities, Entity{
				Type:       p.piiType,
				Start:      runeOffset(text, loc[0]),
				End:        runeOffset(text, loc[1]),
				Confidence: p.confidence,
			})
			result.Stats[p.piiType]++
		}
	}
	return result, nil
}

// runeOffset converts a byte offset into a rune offset.
func runeOffset(s string, byteOff int) int {
	return len([]rune(s[:byteOff]))
}

var _ PiiDetector = (*StaticDetector)(nil)
