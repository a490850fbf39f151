// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/WikiSentinel/services/scanner/source"
	"github.com/AleutianAI/WikiSentinel/services/scanner/storage"
)

// readinessTimeout bounds the dependency probes so a hung source cannot
// hang the health endpoint.
const readinessTimeout = 2 * time.Second

// HealthCheck handles GET /health. Liveness only: the process is up.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readiness handles GET /ready: probes the content source and the event
// store concurrently and reports 503 when either is unreachable.
func Readiness(src source.ContentSource, events storage.EventStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
		defer cancel()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			if _, err := src.ListSpaces(ctx); err != nil {
				return fmt.Errorf("content source: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			// An empty store is healthy; only real failures count.
			if _, err := events.LatestScan(ctx); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("event store: %w", err)
			}
			return nil
		})

		if err := g.Wait(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}
