// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/AleutianAI/WikiSentinel/services/scanner/datatypes"
)

// sseFrameParser accumulates SSE lines into scan events. The server frames
// each event as:
//
//	event: item\n
//	data: {...}\n
//	\n
//
// Comment lines (": ...") and keepalive ticks are delivery noise, not scan
// content; Feed returns nil for them.
type sseFrameParser struct {
	eventType string
	data      strings.Builder
}

// Feed consumes one line (without trailing newline). A blank line closes
// the pending frame and returns the decoded event; any other outcome is
// (nil, nil) or a decode error.
func (p *sseFrameParser) Feed(line string) (*datatypes.ScanEvent, error) {
	switch {
	case line == "":
		return p.flush()
	case strings.HasPrefix(line, ":"):
		return nil, nil
	case strings.HasPrefix(line, "event:"):
		p.eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		return nil, nil
	case strings.HasPrefix(line, "data:"):
		if p.data.Len() > 0 {
			p.data.WriteByte('\n')
		}
		p.data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		return nil, nil
	default:
		// Unknown SSE field; clients ignore these.
		return nil, nil
	}
}

func (p *sseFrameParser) flush() (*datatypes.ScanEvent, error) {
	if p.data.Len() == 0 && p.eventType == "" {
		return nil, nil
	}
	payload := p.data.String()
	eventType := p.eventType
	p.data.Reset()
	p.eventType = ""

	if payload == "" {
		return nil, nil
	}
	var event datatypes.ScanEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return nil, fmt.Errorf("decode %q event: %w", eventType, err)
	}
	if event.Type == "" {
		event.Type = datatypes.EventType(eventType)
	}
	return &event, nil
}

// readEventStream reads SSE frames from r and calls fn for every decoded
// scan event, keepalives included. It returns nil when the stream ends,
// or the first error from the reader, the decoder, or fn.
func readEventStream(r io.Reader, fn func(datatypes.ScanEvent) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var parser sseFrameParser
	for scanner.Scan() {
		event, err := parser.Feed(scanner.Text())
		if err != nil {
			return err
		}
		if event == nil {
			continue
		}
		if err := fn(*event); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	// A final frame without a trailing blank line still counts.
	event, err := parser.flush()
	if err != nil {
		return err
	}
	if event != nil {
		return fn(*event)
	}
	return nil
}
