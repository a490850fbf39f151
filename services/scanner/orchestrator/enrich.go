// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"log/slog"
	"strings"

	"github.com/AleutianAI/WikiSentinel/pkg/masking"
	"github.com/AleutianAI/WikiSentinel/services/scanner/crypto"
	"github.com/AleutianAI/WikiSentinel/services/scanner/datatypes"
)

// Enricher fills the context fields of detected entities: the masked
// window, the sensitive window, and the raw detected value.
//
// Enrich is idempotent: fields that already hold a value are preserved, so
// re-running it over a replayed result changes nothing. Any panic inside
// the window math is contained and returns the input unchanged.
type Enricher struct {
	extractor *masking.Extractor
	logger    *slog.Logger
}

// NewEnricher builds an Enricher around the window extractor.
func NewEnricher(extractor *masking.Extractor, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{extractor: extractor, logger: logger}
}

// Enrich fills maskedContext, sensitiveContext, sensitiveValue, and the
// type label on entities that lack them, and rebuilds the summary.
func (e *Enricher) Enrich(result *datatypes.ScanResult) *datatypes.ScanResult {
	if result == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("enrichment panic contained", "scan_id", result.ScanID, "panic", r)
		}
	}()

	runes := []rune(result.SourceContent)
	siblings := make([]masking.Span, 0, len(result.DetectedEntities))
	for _, entity := range result.DetectedEntities {
		siblings = append(siblings, masking.Span{
			Start: entity.StartPosition,
			End:   entity.EndPosition,
			Type:  entity.PiiType,
		})
	}

	for i := range result.DetectedEntities {
		entity := &result.DetectedEntities[i]

		if entity.PiiTypeLabel == "" {
			entity.PiiTypeLabel = strings.ToUpper(strings.TrimSpace(entity.PiiType))
		}
		if entity.SensitiveValue == "" {
			entity.SensitiveValue = sliceRunes(runes, entity.StartPosition, entity.EndPosition)
		}
		if entity.MaskedContext == "" {
			entity.MaskedContext = e.extractor.ExtractMasked(
				result.SourceContent, entity.StartPosition, entity.EndPosition,
				entity.PiiType, siblings)
		}
		if entity.SensitiveContext == "" {
			entity.SensitiveContext = e.extractor.ExtractSensitive(
				result.SourceContent, entity.StartPosition, entity.EndPosition)
		}
	}

	result.Summary = result.Summarize()
	return result
}

// EncryptSensitive seals the sensitive entity fields with the cipher.
// Already-encrypted values pass through unchanged (Encrypt is idempotent),
// so the call is safe on retried emissions.
func EncryptSensitive(cipher crypto.Cipher, result *datatypes.ScanResult) error {
	if result == nil {
		return nil
	}
	for i := range result.DetectedEntities {
		entity := &result.DetectedEntities[i]
		for _, field := range []*string{&entity.SensitiveValue, &entity.SensitiveContext} {
			if *field == "" {
				continue
			}
			sealed, err := cipher.Encrypt(*field)
			if err != nil {
				return err
			}
			*field = sealed
		}
	}
	return nil
}

func sliceRunes(runes []rune, start, end int) string {
	if start < 0 {
		start = 0
	}
	if end > len(runes) {
		end = len(runes)
	}
	if start >= end {
		return ""
	}
	return string(runes[start:end])
}
