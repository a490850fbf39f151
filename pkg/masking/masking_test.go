// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package masking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMask(t *testing.T) {
	tests := []struct {
		name    string
		piiType string
		want    string
	}{
		{"lowercase type", "email", "[EMAIL]"},
		{"already uppercase", "PHONE", "[PHONE]"},
		{"mixed case", "CrEdIt_CaRd", "[CREDIT_CARD]"},
		{"empty", "", "[UNKNOWN]"},
		{"blank", "   ", "[UNKNOWN]"},
		{"literal null", "null", "[UNKNOWN]"},
		{"literal NULL", "NULL", "[UNKNOWN]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Mask(tt.piiType))
		})
	}
}

func TestExtractMaskedBasic(t *testing.T) {
	e := NewDefaultExtractor()
	source := "Contact us at john@example.com for details"
	start := strings.Index(source, "john")
	end := start + len("john@example.com")

	ctx := e.ExtractMasked(source, start, end, "email", nil)
	require.NotEmpty(t, ctx)
	assert.Contains(t, ctx, "[EMAIL]")
	assert.NotContains(t, ctx, "john@example.com")
	assert.Contains(t, ctx, "Contact us at")
}

func TestExtractSensitiveKeepsValue(t *testing.T) {
	e := NewDefaultExtractor()
	source := "Contact us at john@example.com for details"
	start := strings.Index(source, "john")
	end := start + len("john@example.com")

	ctx := e.ExtractSensitive(source, start, end)
	require.NotEmpty(t, ctx)
	assert.Contains(t, ctx, "john@example.com")
}

func TestExtractInvalidInputs(t *testing.T) {
	e := NewDefaultExtractor()

	tests := []struct {
		name   string
		source string
		start  int
		end    int
	}{
		{"empty source", "", 0, 0},
		{"blank source", "   ", 0, 1},
		{"start beyond end", "hello world", 6, 2},
		{"start beyond length", "hi", 10, 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, e.ExtractMasked(tt.source, tt.start, tt.end, "email", nil))
			assert.Empty(t, e.ExtractSensitive(tt.source, tt.start, tt.end))
		})
	}
}

func TestExtractClampsPositions(t *testing.T) {
	e := NewDefaultExtractor()
	source := "short text"

	// end past the source length is clamped, not rejected.
	ctx := e.ExtractMasked(source, 6, 99, "word", nil)
	assert.Contains(t, ctx, "[WORD]")

	ctx = e.ExtractMasked(source, -5, 5, "word", nil)
	assert.Contains(t, ctx, "[WORD]")
}

func TestExtractLineIsolation(t *testing.T) {
	e := NewDefaultExtractor()
	source := "first line\nemail: a@b.com here\nthird line"
	start := strings.Index(source, "a@b.com")
	end := start + len("a@b.com")

	ctx := e.ExtractMasked(source, start, end, "email", nil)
	assert.NotContains(t, ctx, "first line")
	assert.NotContains(t, ctx, "third line")
	assert.Contains(t, ctx, "[EMAIL]")
}

func TestExtractMaskedSiblings(t *testing.T) {
	e := NewDefaultExtractor()
	source := "Contact: john@example.com and phone 06 11 22 33 44 provided"
	emailStart := strings.Index(source, "john")
	emailEnd := emailStart + len("john@example.com")
	phoneStart := strings.Index(source, "06 11")
	phoneEnd := phoneStart + len("06 11 22 33 44")

	siblings := []Span{{Start: phoneStart, End: phoneEnd, Type: "phone"}}
	ctx := e.ExtractMasked(source, emailStart, emailEnd, "email", siblings)

	require.NotEmpty(t, ctx)
	assert.Contains(t, ctx, "[EMAIL]")
	assert.Contains(t, ctx, "[PHONE]")
	assert.NotContains(t, ctx, "john@example.com")
	assert.NotContains(t, ctx, "06 11 22 33 44")

	// The reverse direction works the same way.
	ctx2 := e.ExtractMasked(source, phoneStart, phoneEnd, "phone",
		[]Span{{Start: emailStart, End: emailEnd, Type: "email"}})
	assert.Contains(t, ctx2, "[PHONE]")
	assert.Contains(t, ctx2, "[EMAIL]")
	assert.NotContains(t, ctx2, "06 11 22 33 44")
}

func TestExtractTruncationAndEllipsis(t *testing.T) {
	e := NewExtractor(40, 15)

	long := strings.Repeat("word ", 30) + "target@mail.fr " + strings.Repeat("tail ", 30)
	start := strings.Index(long, "target")
	end := start + len("target@mail.fr")

	ctx := e.ExtractMasked(long, start, end, "email", nil)
	require.NotEmpty(t, ctx)
	assert.True(t, strings.HasPrefix(ctx, "…"), "left cut should be marked: %q", ctx)
	assert.True(t, strings.HasSuffix(ctx, "…"), "right cut should be marked: %q", ctx)
	assert.Contains(t, ctx, "[EMAIL]")

	// Words are never split: every space-separated chunk must be a full
	// "word" or "tail" token from the source (modulo the mask and marks).
	body := strings.Trim(ctx, "…")
	for _, part := range strings.Fields(body) {
		if part == "[EMAIL]" {
			continue
		}
		assert.Contains(t, []string{"word", "tail"}, part, "split word in %q", ctx)
	}
}

func TestExtractNoEllipsisWhenWholeLine(t *testing.T) {
	e := NewDefaultExtractor()
	source := "small a@b.fr line"
	start := strings.Index(source, "a@b.fr")
	ctx := e.ExtractMasked(source, start, start+len("a@b.fr"), "email", nil)
	assert.False(t, strings.HasPrefix(ctx, "…"))
	assert.False(t, strings.HasSuffix(ctx, "…"))
}

func TestExtractMarkupCleaning(t *testing.T) {
	e := NewDefaultExtractor()
	source := `<p>Send to <b>jane@corp.io</b>&nbsp;now</p>`
	start := strings.Index(source, "jane@corp.io")
	end := start + len("jane@corp.io")

	ctx := e.ExtractMasked(source, start, end, "email", nil)
	require.NotEmpty(t, ctx)
	assert.Contains(t, ctx, "[EMAIL]")
	assert.NotContains(t, ctx, "<p>")
	assert.NotContains(t, ctx, "<b>")
	assert.NotContains(t, ctx, "&nbsp;")
	assert.NotContains(t, ctx, "jane@corp.io")
}

func TestExtractWhitespaceCollapse(t *testing.T) {
	e := NewDefaultExtractor()
	source := "value   \t  a@b.com   \t  end"
	start := strings.Index(source, "a@b.com")
	ctx := e.ExtractMasked(source, start, start+len("a@b.com"), "email", nil)
	assert.Equal(t, "value [EMAIL] end", ctx)
}

func TestNewExtractorGuardrail(t *testing.T) {
	// sideLength*2 > maxLength gets clamped instead of producing a
	// negative budget.
	e := NewExtractor(20, 300)
	assert.Equal(t, 20, e.maxLength)
	assert.Equal(t, 10, e.sideLength)

	// Non-positive values fall back to defaults.
	d := NewExtractor(0, -1)
	assert.Equal(t, DefaultMaxLength, d.maxLength)
	assert.Equal(t, DefaultSideLength, d.sideLength)
}

func TestExtractZeroWidthSpan(t *testing.T) {
	e := NewDefaultExtractor()
	ctx := e.ExtractMasked("some text here", 5, 5, "marker", nil)
	assert.Contains(t, ctx, "[MARKER]")
}
