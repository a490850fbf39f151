// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability holds the Prometheus instrumentation of the
// scanner service.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sentinel"

// Metrics bundles the scanner's Prometheus collectors.
type Metrics struct {
	EventsEmitted  *prometheus.CounterVec
	ItemFailures   prometheus.Counter
	ScanDuration   prometheus.Histogram
	ActiveStreams  prometheus.Gauge
	KeepalivesSent prometheus.Counter
	AuditPurges    prometheus.Counter
}

// New registers the collectors on the given registerer. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry
// to avoid duplicate-registration panics.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_events_total",
			Help:      "Scan events emitted, by event type.",
		}, []string{"type"}),
		ItemFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_item_failures_total",
			Help:      "Non-fatal per-item failures (scanError events).",
		}),
		ScanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Wall time of completed space scans.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}),
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Live subscriber streams currently attached.",
		}),
		KeepalivesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keepalives_sent_total",
			Help:      "Keepalive ticks sent on idle streams.",
		}),
		AuditPurges: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_records_purged_total",
			Help:      "Audit records removed past retention.",
		}),
	}
}

// Nop returns metrics bound to a throwaway registry, for tests and tools
// that do not scrape.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}
