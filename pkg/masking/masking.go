// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package masking builds masked and sensitive context windows around PII
// spans detected in page or attachment text.
//
// Two context variants exist for every detection:
//
//   - masked: the detected values are replaced by [TYPE] tokens. Safe to
//     store and display in clear.
//   - sensitive: the real values are kept verbatim. Must be encrypted
//     before persistence (see the scanner's crypto package).
//
// Both variants are a window over the LINE containing the span, truncated
// at word boundaries, with "…" markers where the line was cut.
//
// # Algorithm
//
//  1. Clamp the span to the source bounds; reject blank sources.
//  2. Find the line containing the span.
//  3. Splice replacement text for every entity intersecting the line
//     (the main entity plus supplied siblings), in start order.
//  4. Clean markup from the text between entities.
//  5. Center a window on the main entity, expand up to SideLength on each
//     side, then out to the nearest whitespace while the total stays within
//     MaxLength. A word is never split: if the budget lands mid-word the
//     window retreats to the previous boundary instead.
//  6. Collapse whitespace runs and trim.
//
// Positions are rune offsets into the source. Any out-of-range position or
// blank source yields the empty string.
package masking

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// Default window geometry. Overridable per Extractor.
const (
	DefaultMaxLength  = 200
	DefaultSideLength = 80
)

// UnknownToken is the mask used when the detection type is missing.
const UnknownToken = "[UNKNOWN]"

// ellipsis marks a window edge that cut the line.
const ellipsis = "…"

// Span is an entity position used when masking sibling entities that share
// a line with the main detection.
type Span struct {
	Start int
	End   int
	Type  string
}

// Mask builds the [TYPE] replacement token for a detection type.
//
// A nil-ish type (empty, blank, or the literal string "null") yields
// [UNKNOWN]. The type is uppercased: Mask("email") == "[EMAIL]".
func Mask(piiType string) string {
	t := strings.TrimSpace(piiType)
	if t == "" || strings.EqualFold(t, "null") {
		return UnknownToken
	}
	return "[" + strings.ToUpper(t) + "]"
}

// Extractor extracts context windows with a fixed geometry.
//
// The zero value is not usable; construct with NewExtractor.
type Extractor struct {
	maxLength  int
	sideLength int
}

// NewExtractor returns an Extractor with the given window geometry.
//
// Non-positive values fall back to the defaults. When maxLength cannot fit
// two side windows (maxLength < 2*sideLength), sideLength is clamped down
// to maxLength/2 so the window math never goes negative.
func NewExtractor(maxLength, sideLength int) *Extractor {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	if sideLength <= 0 {
		sideLength = DefaultSideLength
	}
	if sideLength*2 > maxLength {
		sideLength = maxLength / 2
	}
	return &Extractor{maxLength: maxLength, sideLength: sideLength}
}

// NewDefaultExtractor returns an Extractor with the default geometry
// (MaxLength 200, SideLength 80).
func NewDefaultExtractor() *Extractor {
	return NewExtractor(DefaultMaxLength, DefaultSideLength)
}

// ExtractMasked returns the masked line window around [start,end).
//
// The main span is replaced by Mask(piiType). Sibling spans intersecting
// the same line are replaced by their own tokens, so a line holding several
// detections never leaks a neighbor's raw value. Returns "" when the source
// is blank or the positions are out of range.
func (e *Extractor) ExtractMasked(source string, start, end int, piiType string, siblings []Span) string {
	return e.extract(source, start, end, true, piiType, siblings)
}

// ExtractSensitive returns the unmasked line window around [start,end).
//
// The returned text contains the real detected value and MUST be encrypted
// before it is persisted. Returns "" when the source is blank or the
// positions are out of range.
func (e *Extractor) ExtractSensitive(source string, start, end int) string {
	return e.extract(source, start, end, false, "", nil)
}

func (e *Extractor) extract(source string, start, end int, masked bool, piiType string, siblings []Span) string {
	if strings.TrimSpace(source) == "" {
		return ""
	}

	runes := []rune(source)
	n := len(runes)
	if start < 0 {
		start = 0
	}
	if end > n {
		end = n
	}
	if start > end || start > n {
		return ""
	}

	lineStart, lineEnd := lineBounds(runes, start, end)
	parser := parserFor(string(runes[lineStart:lineEnd]))

	// Collect the spans to replace on this line: the main entity first,
	// then siblings intersecting the line. Overlapping spans keep the
	// earlier one.
	spans := []replacement{{span: Span{Start: start, End: end, Type: piiType}, main: true}}
	if masked {
		for _, sib := range siblings {
			if sib.Start == start && sib.End == end {
				continue // the main entity itself
			}
			if sib.End <= lineStart || sib.Start >= lineEnd {
				continue
			}
			if sib.Start > sib.End {
				continue
			}
			spans = append(spans, replacement{span: sib})
		}
	}
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].span.Start < spans[j].span.Start })

	// Splice replacements in start order, cleaning markup on the text
	// between them. Doing the cleanup segment-wise keeps the main token
	// position exact.
	var line []rune
	mainPos, mainEnd := 0, 0
	cursor := lineStart
	for _, sp := range spans {
		s := maxInt(sp.span.Start, lineStart)
		sEnd := minInt(sp.span.End, lineEnd)
		if s < cursor {
			continue // overlaps the previous span
		}
		line = append(line, []rune(parser.Clean(string(runes[cursor:s])))...)

		var repl []rune
		if masked {
			repl = []rune(Mask(sp.span.Type))
		} else {
			repl = runes[s:sEnd]
		}
		if sp.main {
			mainPos = len(line)
			mainEnd = mainPos + len(repl)
		}
		line = append(line, repl...)
		cursor = sEnd
	}
	line = append(line, []rune(parser.Clean(string(runes[cursor:lineEnd])))...)

	lo, hi, cutLeft, cutRight := e.window(line, mainPos, mainEnd)

	out := strings.TrimSpace(collapseWhitespace(string(line[lo:hi])))
	if out == "" {
		return ""
	}
	if cutLeft {
		out = ellipsis + out
	}
	if cutRight {
		out = out + ellipsis
	}
	return out
}

// window computes the [lo,hi) rune window on line centered on the main
// token, honoring SideLength, MaxLength, and word boundaries.
func (e *Extractor) window(line []rune, mainPos, mainEnd int) (lo, hi int, cutLeft, cutRight bool) {
	budget := e.maxLength

	lo = maxInt(0, mainPos-e.sideLength)
	hi = minInt(len(line), mainEnd+e.sideLength)

	// A token longer than the budget still wins: the window always
	// contains the full main token.
	if hi-lo > budget {
		budget = hi - lo
	}

	// Extend outward to the nearest whitespace while within budget.
	for lo > 0 && !unicode.IsSpace(line[lo-1]) && hi-lo < budget {
		lo--
	}
	for hi < len(line) && !unicode.IsSpace(line[hi]) && hi-lo < budget {
		hi++
	}

	// Budget ran out mid-word: retreat inward to the previous boundary
	// rather than splitting the word.
	if lo > 0 && !unicode.IsSpace(line[lo-1]) {
		for lo < mainPos && !unicode.IsSpace(line[lo]) {
			lo++
		}
		for lo < mainPos && unicode.IsSpace(line[lo]) {
			lo++
		}
	}
	if hi < len(line) && !unicode.IsSpace(line[hi]) {
		for hi > mainEnd && !unicode.IsSpace(line[hi-1]) {
			hi--
		}
		for hi > mainEnd && unicode.IsSpace(line[hi-1]) {
			hi--
		}
	}

	return lo, hi, lo > 0, hi < len(line)
}

type replacement struct {
	span Span
	main bool
}

// lineBounds returns the rune bounds of the line(s) containing [start,end).
func lineBounds(runes []rune, start, end int) (int, int) {
	lineStart := start
	for lineStart > 0 && runes[lineStart-1] != '\n' {
		lineStart--
	}
	lineEnd := end
	for lineEnd < len(runes) && runes[lineEnd] != '\n' {
		lineEnd++
	}
	return lineStart, lineEnd
}

// ContentParser cleans a text fragment before it enters a context window.
type ContentParser interface {
	Clean(fragment string) string
}

type plainParser struct{}

func (plainParser) Clean(fragment string) string { return fragment }

var (
	tagPattern    = regexp.MustCompile(`<[^>]*>`)
	entityPattern = regexp.MustCompile(`&(nbsp|amp|lt|gt|quot|#\d+);`)
	macroPattern  = regexp.MustCompile(`\{[^}]*\}`)
)

// markupParser strips HTML tags, common entities, and wiki macro braces,
// replacing each with a space so word boundaries survive.
type markupParser struct{}

func (markupParser) Clean(fragment string) string {
	out := tagPattern.ReplaceAllString(fragment, " ")
	out = macroPattern.ReplaceAllString(out, " ")
	out = entityPattern.ReplaceAllStringFunc(out, func(m string) string {
		switch m {
		case "&nbsp;":
			return " "
		case "&amp;":
			return "&"
		case "&lt;":
			return "<"
		case "&gt;":
			return ">"
		case "&quot;":
			return `"`
		default:
			return " "
		}
	})
	return out
}

// parserFor picks the parser matching the content shape of the line.
func parserFor(line string) ContentParser {
	if tagPattern.MatchString(line) || macroPattern.MatchString(line) {
		return markupParser{}
	}
	return plainParser{}
}

var whitespacePattern = regexp.MustCompile(`\s+`)

func collapseWhitespace(s string) string {
	return whitespacePattern.ReplaceAllString(s, " ")
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// String implements fmt.Stringer for debugging.
func (s Span) String() string {
	return fmt.Sprintf("[%d,%d)%s", s.Start, s.End, s.Type)
}
