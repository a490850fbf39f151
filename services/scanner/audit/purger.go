// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/AleutianAI/WikiSentinel/services/scanner/observability"
	"github.com/AleutianAI/WikiSentinel/services/scanner/storage"
)

// Purger removes audit records past their retention deadline on a fixed
// schedule. Purge failures are logged and retried on the next tick rather
// than stopping the loop: a transient store error must not end retention
// enforcement for the life of the process.
type Purger struct {
	audits   storage.AuditStore
	schedule time.Duration
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewPurger builds a purger running every schedule interval.
func NewPurger(audits storage.AuditStore, schedule time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Purger {
	if schedule <= 0 {
		schedule = 24 * time.Hour
	}
	if metrics == nil {
		metrics = observability.Nop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Purger{
		audits:   audits,
		schedule: schedule,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Run purges once immediately, then on every tick until ctx is cancelled.
// It always returns ctx.Err(), making it directly usable as an errgroup
// task alongside the HTTP server.
func (p *Purger) Run(ctx context.Context) error {
	p.purgeOnce(ctx)

	ticker := time.NewTicker(p.schedule)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.purgeOnce(ctx)
		}
	}
}

func (p *Purger) purgeOnce(ctx context.Context) {
	purged, err := p.audits.PurgeExpired(ctx, p.now().UTC())
	if err != nil {
		p.logger.Error("audit purge failed", "error", err)
		return
	}
	if purged > 0 {
		p.metrics.AuditPurges.Add(float64(purged))
		p.logger.Info("audit records purged", "count", purged)
	}
}
