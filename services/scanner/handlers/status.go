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
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/WikiSentinel/pkg/severity"
	"github.com/AleutianAI/WikiSentinel/services/scanner/datatypes"
	"github.com/AleutianAI/WikiSentinel/services/scanner/storage"
)

// SpaceStatus is the per-space slice of a scan status response.
type SpaceStatus struct {
	SpaceKey                    string    `json:"spaceKey"`
	Status                      string    `json:"status"`
	LastProcessedPageID         string    `json:"lastProcessedPageId,omitempty"`
	LastProcessedAttachmentName string    `json:"lastProcessedAttachmentName,omitempty"`
	UpdatedAt                   time.Time `json:"updatedAt"`
}

// ScanStatusResponse summarizes a scan: lifecycle per space, finding
// counts by PII type, and the aggregate risk level derived from them.
type ScanStatusResponse struct {
	ScanID         string             `json:"scanId"`
	StartedAt      time.Time          `json:"startedAt"`
	LastSeq        int64              `json:"lastSeq"`
	Spaces         []SpaceStatus      `json:"spaces"`
	PagesCompleted int                `json:"pagesCompleted"`
	ItemsAnalyzed  int                `json:"itemsAnalyzed"`
	ItemFailures   int                `json:"itemFailures"`
	PiiCounts      map[string]int     `json:"piiCounts"`
	RiskLevel      severity.RiskLevel `json:"riskLevel"`
}

// StatusHandler serves scan status and stored-event queries.
type StatusHandler struct {
	events      storage.EventStore
	checkpoints storage.CheckpointStore
	logger      *slog.Logger
}

// NewStatusHandler wires the status endpoints.
func NewStatusHandler(events storage.EventStore, checkpoints storage.CheckpointStore, logger *slog.Logger) *StatusHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusHandler{events: events, checkpoints: checkpoints, logger: logger}
}

// Latest handles GET /v1/scans/latest/status.
// Reports the most recently started scan, or 404 when none was recorded.
func (h *StatusHandler) Latest(c *gin.Context) {
	info, err := h.events.LatestScan(c.Request.Context())
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no scan recorded"})
		return
	}
	if err != nil {
		h.logger.Error("latest scan lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status lookup failed"})
		return
	}
	h.respondStatus(c, info)
}

// Status handles GET /v1/scans/:scanId/status.
func (h *StatusHandler) Status(c *gin.Context) {
	scanID := strings.TrimSpace(c.Param("scanId"))
	if scanID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scanId is required"})
		return
	}
	h.respondStatus(c, &storage.ScanInfo{ScanID: scanID})
}

// Space handles GET /v1/spaces/:spaceKey/status.
// Reports the most recent checkpoint of the space across all scans.
func (h *StatusHandler) Space(c *gin.Context) {
	spaceKey := strings.TrimSpace(c.Param("spaceKey"))
	if spaceKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "spaceKey is required"})
		return
	}

	cp, err := h.checkpoints.FindLatestBySpace(c.Request.Context(), spaceKey)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "space was never scanned"})
		return
	}
	if err != nil {
		h.logger.Error("space status lookup failed", "space_key", spaceKey, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status lookup failed"})
		return
	}
	c.JSON(http.StatusOK, toSpaceStatus(*cp))
}

// Events handles GET /v1/scans/:scanId/events[?types=item,scanError].
// Replays the stored events of a scan in eventSeq order.
func (h *StatusHandler) Events(c *gin.Context) {
	scanID := strings.TrimSpace(c.Param("scanId"))
	if scanID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scanId is required"})
		return
	}

	var (
		events []datatypes.ScanEvent
		err    error
	)
	if raw := strings.TrimSpace(c.Query("types")); raw != "" {
		types := make([]datatypes.EventType, 0, 4)
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, datatypes.EventType(t))
			}
		}
		events, err = h.events.ListByScanAndTypes(c.Request.Context(), scanID, types)
	} else {
		events, err = h.events.ListByScan(c.Request.Context(), scanID)
	}
	if err != nil {
		h.logger.Error("event replay failed", "scan_id", scanID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event replay failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scanId": scanID, "events": events})
}

func (h *StatusHandler) respondStatus(c *gin.Context, info *storage.ScanInfo) {
	resp, err := h.buildStatus(c.Request.Context(), info)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown scan"})
		return
	}
	if err != nil {
		h.logger.Error("status build failed", "scan_id", info.ScanID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status lookup failed"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// buildStatus aggregates checkpoints and stored item events into a status
// response. A scan with neither events nor checkpoints reads as unknown.
func (h *StatusHandler) buildStatus(ctx context.Context, info *storage.ScanInfo) (*ScanStatusResponse, error) {
	cps, err := h.checkpoints.FindByScan(ctx, info.ScanID)
	if err != nil {
		return nil, err
	}

	events, err := h.events.ListByScanAndTypes(ctx, info.ScanID, []datatypes.EventType{
		datatypes.EventItem,
		datatypes.EventAttachmentItem,
		datatypes.EventPageComplete,
		datatypes.EventScanError,
	})
	if err != nil {
		return nil, err
	}
	if len(cps) == 0 && len(events) == 0 {
		return nil, storage.ErrNotFound
	}

	resp := &ScanStatusResponse{
		ScanID:    info.ScanID,
		StartedAt: info.StartedAt,
		LastSeq:   info.LastSeq,
		Spaces:    make([]SpaceStatus, 0, len(cps)),
		PiiCounts: make(map[string]int),
	}
	for _, cp := range cps {
		resp.Spaces = append(resp.Spaces, toSpaceStatus(cp))
	}
	for _, evt := range events {
		switch evt.Type {
		case datatypes.EventPageComplete:
			resp.PagesCompleted++
		case datatypes.EventScanError:
			resp.ItemFailures++
		case datatypes.EventItem, datatypes.EventAttachmentItem:
			resp.ItemsAnalyzed++
			if evt.Result != nil {
				for piiType, count := range evt.Result.Summary {
					resp.PiiCounts[piiType] += count
				}
			}
		}
		if evt.EventSeq > resp.LastSeq {
			resp.LastSeq = evt.EventSeq
		}
	}
	resp.RiskLevel = severity.Risk(resp.PiiCounts)
	return resp, nil
}

func toSpaceStatus(cp datatypes.Checkpoint) SpaceStatus {
	return SpaceStatus{
		SpaceKey:                    cp.SpaceKey,
		Status:                      string(cp.Status),
		LastProcessedPageID:         cp.LastProcessedPageID,
		LastProcessedAttachmentName: cp.LastProcessedAttachmentName,
		UpdatedAt:                   cp.UpdatedAt,
	}
}
