// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP surface of the scanner service:
// SSE scan streams, a WebSocket mirror, status queries, the policy-gated
// reveal endpoint, and health checks.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/WikiSentinel/services/scanner/datatypes"
	"github.com/AleutianAI/WikiSentinel/services/scanner/orchestrator"
	"github.com/AleutianAI/WikiSentinel/services/scanner/subscribe"
)

// ScanHandler starts, resumes, pauses, and streams scans.
//
// Stream endpoints bind the scan's lifetime to the HTTP request: when the
// client disconnects, the request context cancels, the orchestrator
// flushes in-flight events and checkpoints, and a later resume picks up
// from there. A second viewer can attach to a running scan's stream and
// preempts the previous viewer; the scan itself is unaffected.
type ScanHandler struct {
	orch   *orchestrator.Orchestrator
	hub    *subscribe.Hub
	logger *slog.Logger
}

// NewScanHandler wires the scan endpoints.
func NewScanHandler(orch *orchestrator.Orchestrator, hub *subscribe.Hub, logger *slog.Logger) *ScanHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScanHandler{orch: orch, hub: hub, logger: logger}
}

// StreamSpace handles GET /v1/scans/space/:spaceKey/stream.
// Starts a scan of one space and streams its events over SSE.
func (h *ScanHandler) StreamSpace(c *gin.Context) {
	spaceKey := strings.TrimSpace(c.Param("spaceKey"))
	if spaceKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "spaceKey is required"})
		return
	}

	scanID, events := h.orch.StreamSpace(c.Request.Context(), spaceKey)
	h.logger.Info("space scan started", "scan_id", scanID, "space_key", spaceKey)
	h.stream(c, scanID, events)
}

// StreamAll handles GET /v1/scans/all/stream.
// Starts a scan of every space and streams its events over SSE.
func (h *ScanHandler) StreamAll(c *gin.Context) {
	scanID, events := h.orch.StreamAllSpaces(c.Request.Context())
	h.logger.Info("global scan started", "scan_id", scanID)
	h.stream(c, scanID, events)
}

// Resume handles GET /v1/scans/:scanId/resume.
// Resumes an interrupted scan from its checkpoints and streams the rest.
func (h *ScanHandler) Resume(c *gin.Context) {
	scanID := strings.TrimSpace(c.Param("scanId"))
	if scanID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scanId is required"})
		return
	}

	events := h.orch.ResumeAllSpaces(c.Request.Context(), scanID)
	h.logger.Info("scan resumed", "scan_id", scanID)
	h.stream(c, scanID, events)
}

// Attach handles GET /v1/scans/:scanId/stream.
// Attaches to the live stream of a running scan, preempting any viewer
// currently attached. 404 when the scan is not live.
func (h *ScanHandler) Attach(c *gin.Context) {
	scanID := strings.TrimSpace(c.Param("scanId"))

	sub, err := h.hub.Attach(scanID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, subscribe.ErrNoStream) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "no live stream for scan"})
		return
	}
	defer sub.Close()

	c.Header("X-Scan-Id", scanID)
	SetSSEHeaders(c.Writer)
	writer, werr := NewSSEWriter(c.Writer)
	if werr != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	h.forward(c, writer, sub)
}

// Pause handles POST /v1/scans/:scanId/pause.
// Marks every non-terminal checkpoint of the scan Paused. The running
// stream, if any, is not interrupted; pausing is a durable state change
// consulted on the next resume.
func (h *ScanHandler) Pause(c *gin.Context) {
	scanID := strings.TrimSpace(c.Param("scanId"))
	if scanID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scanId is required"})
		return
	}

	if err := h.orch.PauseScan(c.Request.Context(), scanID); err != nil {
		h.logger.Error("pause failed", "scan_id", scanID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "pause failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scanId": scanID, "status": string(datatypes.StatusPaused)})
}

// stream registers the scan's channel on the hub and forwards the events
// of a fresh subscription to the client.
func (h *ScanHandler) stream(c *gin.Context, scanID string, events <-chan datatypes.ScanEvent) {
	sub := h.hub.Open(scanID, events).Subscribe()
	defer sub.Close()

	c.Header("X-Scan-Id", scanID)
	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	h.forward(c, writer, sub)
}

// forward pumps subscription events onto the SSE writer until the scan
// completes, the viewer is preempted, or the client disconnects.
func (h *ScanHandler) forward(c *gin.Context, writer SSEWriter, sub *subscribe.Subscriber) {
	ctx := c.Request.Context()
	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writer.WriteEvent(evt); err != nil {
				h.logger.Debug("sse write failed, client likely gone", "error", err)
				return
			}
		case <-sub.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}
