// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extract turns attachment bytes into plain text for detection.
//
// The extractor is a capability interface: real deployments can inject an
// adapter over a document-conversion service. The built-in HeuristicExtractor
// handles the text-like formats directly and applies the image-only
// heuristic that keeps OCR noise and binary garbage out of the detector.
package extract

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/AleutianAI/WikiSentinel/services/scanner/datatypes"
)

// TextExtractor converts attachment bytes to plain text. An empty result
// means "nothing analyzable here" and is not an error.
type TextExtractor interface {
	Extract(ctx context.Context, att datatypes.AttachmentInfo, data []byte) (string, error)
}

const (
	// minTextLength is the shortest extraction worth analyzing.
	minTextLength = 50

	// noSpaceProbeLength: a run this long without any space reads as an
	// encoded blob, not prose.
	noSpaceProbeLength = 100

	minPrintableRatio    = 0.8
	minAlphanumericRatio = 0.3
	maxSpecialRatio      = 0.4
)

var (
	htmlTagPattern    = regexp.MustCompile(`<[^>]*>`)
	htmlEntityPattern = regexp.MustCompile(`&[a-zA-Z#0-9]+;`)
)

// HeuristicExtractor extracts the text-like formats (txt, csv, html, htm)
// in process and rejects content that fails the image-only heuristic.
type HeuristicExtractor struct{}

// NewHeuristicExtractor returns the built-in extractor.
func NewHeuristicExtractor() *HeuristicExtractor {
	return &HeuristicExtractor{}
}

// Extract implements TextExtractor. Formats it cannot parse return empty
// text, which the attachment processor treats as a silent skip.
func (e *HeuristicExtractor) Extract(ctx context.Context, att datatypes.AttachmentInfo, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", nil
	}

	var text string
	switch att.Ext() {
	case "txt", "csv":
		text = string(data)
	case "html", "htm":
		text = stripMarkup(string(data))
	default:
		// Binary office formats need an external converter; without one
		// there is nothing safe to analyze.
		return "", nil
	}

	if ImageOnly(text) {
		return "", nil
	}
	return strings.TrimSpace(text), nil
}

// ImageOnly reports whether extracted text is unanalyzable: blank, too
// short, space-less beyond prose length, or dominated by non-printable,
// non-alphanumeric, or special characters. Such output typically comes
// from scanned images or binary payloads run through a text converter.
func ImageOnly(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}

	runes := []rune(trimmed)
	if len(runes) < minTextLength {
		return true
	}
	if len(runes) >= noSpaceProbeLength && !strings.ContainsRune(trimmed, ' ') {
		return true
	}

	var printable, alphanumeric, special int
	for _, r := range runes {
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			printable++
		}
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			alphanumeric++
		case !unicode.IsSpace(r):
			special++
		}
	}

	total := float64(len(runes))
	if float64(printable)/total < minPrintableRatio {
		return true
	}
	if float64(alphanumeric)/total < minAlphanumericRatio {
		return true
	}
	if float64(special)/total > maxSpecialRatio {
		return true
	}
	return false
}

// stripMarkup removes tags and entities from HTML-ish content.
func stripMarkup(s string) string {
	s = htmlTagPattern.ReplaceAllString(s, " ")
	s = htmlEntityPattern.ReplaceAllString(s, " ")
	return s
}

var _ TextExtractor = (*HeuristicExtractor)(nil)
