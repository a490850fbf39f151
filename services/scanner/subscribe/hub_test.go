// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package subscribe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/WikiSentinel/services/scanner/datatypes"
	"github.com/AleutianAI/WikiSentinel/services/scanner/observability"
)

func newTestHub(keepalive time.Duration) *Hub {
	return NewHub(keepalive, observability.Nop(), nil)
}

// recv waits for one event with a deadline so a broken hub fails the test
// instead of hanging it.
func recv(t *testing.T, sub *Subscriber) datatypes.ScanEvent {
	t.Helper()
	select {
	case evt, ok := <-sub.Events():
		require.True(t, ok, "event channel closed early")
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return datatypes.ScanEvent{}
	}
}

func TestHubDeliversInOrder(t *testing.T) {
	hub := newTestHub(time.Minute)
	src := make(chan datatypes.ScanEvent)
	hub.Open("scan-1", src)

	sub, err := hub.Attach("scan-1")
	require.NoError(t, err)

	go func() {
		src <- datatypes.ScanEvent{ScanID: "scan-1", EventSeq: 1, Type: datatypes.EventStart}
		src <- datatypes.ScanEvent{ScanID: "scan-1", EventSeq: 2, Type: datatypes.EventPageStart}
		src <- datatypes.ScanEvent{ScanID: "scan-1", EventSeq: 3, Type: datatypes.EventComplete}
		close(src)
	}()

	assert.Equal(t, int64(1), recv(t, sub).EventSeq)
	assert.Equal(t, int64(2), recv(t, sub).EventSeq)
	assert.Equal(t, int64(3), recv(t, sub).EventSeq)

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok, "channel should close when the source ends")
	case <-time.After(2 * time.Second):
		t.Fatal("channel never closed")
	}
}

func TestHubKeepaliveOnIdleStream(t *testing.T) {
	hub := newTestHub(20 * time.Millisecond)
	src := make(chan datatypes.ScanEvent)
	defer close(src)
	hub.Open("scan-1", src)

	sub, err := hub.Attach("scan-1")
	require.NoError(t, err)

	tick := recv(t, sub)
	assert.Equal(t, datatypes.EventKeepalive, tick.Type)
	assert.Equal(t, "scan-1", tick.ScanID)
	assert.False(t, tick.Type.Persistent())
}

func TestHubSecondSubscriberPreemptsFirst(t *testing.T) {
	hub := newTestHub(time.Minute)
	src := make(chan datatypes.ScanEvent)
	defer close(src)
	hub.Open("scan-1", src)

	first, err := hub.Attach("scan-1")
	require.NoError(t, err)
	second, err := hub.Attach("scan-1")
	require.NoError(t, err)

	select {
	case <-first.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("first subscriber was not preempted")
	}

	src <- datatypes.ScanEvent{ScanID: "scan-1", EventSeq: 7, Type: datatypes.EventItem}
	assert.Equal(t, int64(7), recv(t, second).EventSeq)

	// The preempted subscriber gets nothing further.
	select {
	case evt := <-first.Events():
		t.Fatalf("preempted subscriber received %v", evt.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubAttachUnknownScan(t *testing.T) {
	hub := newTestHub(time.Minute)
	_, err := hub.Attach("nope")
	assert.ErrorIs(t, err, ErrNoStream)
}

func TestHubUnregistersWhenSourceCloses(t *testing.T) {
	hub := newTestHub(time.Minute)
	src := make(chan datatypes.ScanEvent)
	hub.Open("scan-1", src)
	require.True(t, hub.Live("scan-1"))

	close(src)

	require.Eventually(t, func() bool {
		return !hub.Live("scan-1")
	}, 2*time.Second, 10*time.Millisecond)

	_, err := hub.Attach("scan-1")
	assert.ErrorIs(t, err, ErrNoStream)
}

func TestHubSubscribeAfterEndGetsClosedChannel(t *testing.T) {
	hub := newTestHub(time.Minute)
	src := make(chan datatypes.ScanEvent)
	stream := hub.Open("scan-1", src)
	close(src)

	require.Eventually(t, func() bool {
		return !hub.Live("scan-1")
	}, 2*time.Second, 10*time.Millisecond)

	sub := stream.Subscribe()
	_, ok := <-sub.Events()
	assert.False(t, ok)
	select {
	case <-sub.Done():
	default:
		t.Fatal("done should be closed for a subscriber on an ended stream")
	}
	sub.Close() // must be safe after the fact
}

func TestHubCloseDetachesSubscriber(t *testing.T) {
	hub := newTestHub(time.Minute)
	src := make(chan datatypes.ScanEvent)
	defer close(src)
	hub.Open("scan-1", src)

	sub, err := hub.Attach("scan-1")
	require.NoError(t, err)
	sub.Close()
	sub.Close() // idempotent

	select {
	case <-sub.Done():
	default:
		t.Fatal("done should be closed")
	}

	// A fresh subscriber still works after the old one closed.
	replacement, err := hub.Attach("scan-1")
	require.NoError(t, err)
	src <- datatypes.ScanEvent{ScanID: "scan-1", EventSeq: 1, Type: datatypes.EventStart}
	assert.Equal(t, int64(1), recv(t, replacement).EventSeq)
}

func TestHubOpenReplacesExistingStream(t *testing.T) {
	hub := newTestHub(time.Minute)
	first := make(chan datatypes.ScanEvent)
	defer close(first)
	hub.Open("scan-1", first)

	sub, err := hub.Attach("scan-1")
	require.NoError(t, err)

	second := make(chan datatypes.ScanEvent)
	defer close(second)
	hub.Open("scan-1", second)

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber on replaced stream was not detached")
	}

	fresh, err := hub.Attach("scan-1")
	require.NoError(t, err)
	second <- datatypes.ScanEvent{ScanID: "scan-1", EventSeq: 42, Type: datatypes.EventStart}
	assert.Equal(t, int64(42), recv(t, fresh).EventSeq)
}
