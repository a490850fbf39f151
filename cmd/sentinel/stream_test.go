// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/WikiSentinel/services/scanner/datatypes"
)

func collectEvents(t *testing.T, stream string) []datatypes.ScanEvent {
	t.Helper()
	var events []datatypes.ScanEvent
	err := readEventStream(strings.NewReader(stream), func(e datatypes.ScanEvent) error {
		events = append(events, e)
		return nil
	})
	require.NoError(t, err)
	return events
}

func TestReadEventStream(t *testing.T) {
	stream := "event: start\n" +
		`data: {"scanId":"s-1","eventSeq":1,"type":"start","spaceKey":"HR","pagesTotal":2,"analysisProgressPercentage":0}` + "\n" +
		"\n" +
		"event: complete\n" +
		`data: {"scanId":"s-1","eventSeq":2,"type":"complete","spaceKey":"HR","analysisProgressPercentage":100}` + "\n" +
		"\n"

	events := collectEvents(t, stream)
	require.Len(t, events, 2)
	assert.Equal(t, datatypes.EventStart, events[0].Type)
	assert.Equal(t, "HR", events[0].SpaceKey)
	assert.Equal(t, int64(1), events[0].EventSeq)
	assert.Equal(t, datatypes.EventComplete, events[1].Type)
	assert.Equal(t, 100, events[1].Progress)
}

func TestReadEventStreamIgnoresComments(t *testing.T) {
	stream := ": idle\n" +
		"\n" +
		"event: keepalive\n" +
		`data: {"scanId":"s-1","type":"keepalive"}` + "\n" +
		"\n" +
		": another comment\n" +
		"\n"

	events := collectEvents(t, stream)
	require.Len(t, events, 1)
	assert.Equal(t, datatypes.EventKeepalive, events[0].Type)
	assert.False(t, events[0].Type.Persistent())
}

func TestReadEventStreamFinalFrameWithoutBlankLine(t *testing.T) {
	stream := "event: error\n" +
		`data: {"scanId":"s-1","type":"error","message":"space listing failed"}`

	events := collectEvents(t, stream)
	require.Len(t, events, 1)
	assert.Equal(t, datatypes.EventError, events[0].Type)
	assert.Equal(t, "space listing failed", events[0].Message)
}

func TestReadEventStreamTypeFallsBackToSSEField(t *testing.T) {
	// A payload missing its type field inherits the SSE event name.
	stream := "event: pageComplete\n" +
		`data: {"scanId":"s-1","pageId":"p-1","analysisProgressPercentage":50}` + "\n" +
		"\n"

	events := collectEvents(t, stream)
	require.Len(t, events, 1)
	assert.Equal(t, datatypes.EventPageComplete, events[0].Type)
	assert.Equal(t, "p-1", events[0].PageID)
}

func TestReadEventStreamBadJSON(t *testing.T) {
	stream := "event: item\ndata: {not json}\n\n"
	err := readEventStream(strings.NewReader(stream), func(datatypes.ScanEvent) error {
		t.Fatal("callback should not run for an undecodable frame")
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestReadEventStreamCallbackErrorStops(t *testing.T) {
	stream := "event: start\n" +
		`data: {"scanId":"s-1","type":"start"}` + "\n" +
		"\n" +
		"event: complete\n" +
		`data: {"scanId":"s-1","type":"complete"}` + "\n" +
		"\n"

	calls := 0
	err := readEventStream(strings.NewReader(stream), func(datatypes.ScanEvent) error {
		calls++
		return assert.AnError
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestFeedMultiLineData(t *testing.T) {
	var parser sseFrameParser
	_, err := parser.Feed(`data: {"scanId":"s-1",`)
	require.NoError(t, err)
	_, err = parser.Feed(`data: "type":"start"}`)
	require.NoError(t, err)

	event, err := parser.Feed("")
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, datatypes.EventStart, event.Type)
}
