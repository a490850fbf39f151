// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package subscribe fans scan event streams out to live subscribers.
//
// Each running scan has at most ONE live subscriber at a time. Attaching
// a new subscriber preempts the previous one (last reader wins), which is
// what a browser reconnect or a second CLI attach should do. Preempted
// subscribers observe it through their Done channel.
//
// Delivery preserves the order of the source channel: a single pump
// goroutine per stream reads the orchestrator's channel and forwards to
// whoever is attached. When the stream has been idle for the keepalive
// interval, the pump injects a keepalive event so proxies and load
// balancers do not cut the connection. Keepalives are delivery-only and
// never reach the event store.
package subscribe

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/WikiSentinel/services/scanner/datatypes"
	"github.com/AleutianAI/WikiSentinel/services/scanner/observability"
)

// ErrNoStream is returned by Attach when no live stream exists for the
// scan. Callers should fall back to replaying the event store.
var ErrNoStream = errors.New("subscribe: no live stream for scan")

// subscriberBuffer absorbs short write stalls (one SSE flush) without
// blocking the pump. Sustained slowness backs up into the orchestrator,
// which switches to store-only emission after its grace window.
const subscriberBuffer = 16

// =============================================================================
// Hub
// =============================================================================

// Hub tracks the live stream of every running scan, keyed by scan id.
type Hub struct {
	keepalive time.Duration
	metrics   *observability.Metrics
	logger    *slog.Logger

	mu      sync.Mutex
	streams map[string]*Stream
}

// NewHub builds a hub. keepalive is the idle interval before a liveness
// tick is injected into attached subscribers.
func NewHub(keepalive time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Hub {
	if keepalive <= 0 {
		keepalive = 15 * time.Second
	}
	if metrics == nil {
		metrics = observability.Nop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		keepalive: keepalive,
		metrics:   metrics,
		logger:    logger,
		streams:   make(map[string]*Stream),
	}
}

// Open registers src as the live stream for scanID and starts pumping it.
// The stream unregisters itself when src closes. If a stream is already
// registered under the same scan id (a resumed scan), its subscriber is
// detached and the registration is replaced.
func (h *Hub) Open(scanID string, src <-chan datatypes.ScanEvent) *Stream {
	s := &Stream{hub: h, scanID: scanID}

	h.mu.Lock()
	if prev, ok := h.streams[scanID]; ok {
		prev.detach()
	}
	h.streams[scanID] = s
	h.mu.Unlock()

	go s.pump(src)
	return s
}

// Attach subscribes to the running stream for scanID, preempting any
// subscriber currently attached to it.
func (h *Hub) Attach(scanID string) (*Subscriber, error) {
	h.mu.Lock()
	s, ok := h.streams[scanID]
	h.mu.Unlock()
	if !ok {
		return nil, ErrNoStream
	}
	return s.Subscribe(), nil
}

// Live reports whether a stream is currently registered for scanID.
func (h *Hub) Live(scanID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.streams[scanID]
	return ok
}

func (h *Hub) unregister(s *Stream) {
	h.mu.Lock()
	if h.streams[s.scanID] == s {
		delete(h.streams, s.scanID)
	}
	h.mu.Unlock()
}

// =============================================================================
// Stream
// =============================================================================

// Stream is the live event feed of one running scan.
type Stream struct {
	hub    *Hub
	scanID string

	mu     sync.Mutex
	sub    *Subscriber
	closed bool
}

// Subscribe attaches a subscriber, detaching the previous one if present.
// A subscriber attached after the stream has ended gets an immediately
// closed event channel.
func (s *Stream) Subscribe() *Subscriber {
	sub := &Subscriber{
		stream: s,
		ch:     make(chan datatypes.ScanEvent, subscriberBuffer),
		done:   make(chan struct{}),
	}

	s.hub.metrics.ActiveStreams.Inc()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(sub.ch)
		sub.release()
		return sub
	}
	prev := s.sub
	s.sub = sub
	s.mu.Unlock()

	if prev != nil {
		prev.release()
		s.hub.logger.Debug("subscriber preempted", "scan_id", s.scanID)
	}
	return sub
}

// detach drops the current subscriber without closing the stream.
func (s *Stream) detach() {
	s.mu.Lock()
	prev := s.sub
	s.sub = nil
	s.mu.Unlock()
	if prev != nil {
		prev.release()
	}
}

// pump is the single goroutine forwarding src to the attached subscriber.
// Being the sole sender, it is also the only place that may close a
// subscriber's event channel.
func (s *Stream) pump(src <-chan datatypes.ScanEvent) {
	ticker := time.NewTicker(s.hub.keepalive)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-src:
			if !ok {
				s.end()
				return
			}
			s.deliver(evt, true)
			ticker.Reset(s.hub.keepalive)
		case <-ticker.C:
			tick := datatypes.ScanEvent{
				ScanID: s.scanID,
				Type:   datatypes.EventKeepalive,
				Ts:     time.Now().UTC(),
			}
			if s.deliver(tick, false) {
				s.hub.metrics.KeepalivesSent.Inc()
			}
		}
	}
}

// deliver hands evt to the attached subscriber. Blocking sends escape when
// the subscriber goes away mid-send and retry against its replacement, so
// a reconnect racing an emission does not lose the event. Keepalives are
// best-effort: a full buffer just skips the tick.
func (s *Stream) deliver(evt datatypes.ScanEvent, block bool) bool {
	for {
		s.mu.Lock()
		sub := s.sub
		s.mu.Unlock()
		if sub == nil {
			return false
		}

		if !block {
			select {
			case sub.ch <- evt:
				return true
			default:
				return false
			}
		}

		select {
		case sub.ch <- evt:
			return true
		case <-sub.done:
			// Preempted or closed mid-send; loop re-reads s.sub.
		}
	}
}

// end closes the stream after src is exhausted.
func (s *Stream) end() {
	s.mu.Lock()
	s.closed = true
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		close(sub.ch) // pump is the sole sender and is exiting
		sub.release()
	}
	s.hub.unregister(s)
}

// =============================================================================
// Subscriber
// =============================================================================

// Subscriber is one attached consumer of a scan stream.
//
// Consumers must select on both Events and Done: Events closes when the
// scan ends, Done closes when this subscriber is preempted by a newer one
// or explicitly closed.
type Subscriber struct {
	stream *Stream
	ch     chan datatypes.ScanEvent
	done   chan struct{}
	once   sync.Once
}

// Events is the ordered event feed. Closed when the scan's source channel
// closes.
func (s *Subscriber) Events() <-chan datatypes.ScanEvent { return s.ch }

// Done closes when the subscriber is detached for any reason.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Close detaches the subscriber. Safe to call more than once.
func (s *Subscriber) Close() {
	s.stream.mu.Lock()
	if s.stream.sub == s {
		s.stream.sub = nil
	}
	s.stream.mu.Unlock()
	s.release()
}

func (s *Subscriber) release() {
	s.once.Do(func() {
		close(s.done)
		s.stream.hub.metrics.ActiveStreams.Dec()
	})
}
