// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/WikiSentinel/services/scanner/audit"
	"github.com/AleutianAI/WikiSentinel/services/scanner/storage"
)

// RevealRequest asks for the decrypted findings of one page of one scan.
// The purpose is mandatory and lands verbatim in the audit trail.
type RevealRequest struct {
	ScanID  string `json:"scanId" binding:"required"`
	PageID  string `json:"pageId" binding:"required"`
	Purpose string `json:"purpose" binding:"required"`
}

// RevealHandler serves decrypted PII behind the allowSecretReveal policy.
type RevealHandler struct {
	svc    *audit.Service
	logger *slog.Logger
}

// NewRevealHandler wires the reveal endpoints.
func NewRevealHandler(svc *audit.Service, logger *slog.Logger) *RevealHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RevealHandler{svc: svc, logger: logger}
}

// Reveal handles POST /v1/reveal.
//
// 403 while the policy switch is off, 400 on blank identifiers or a
// missing purpose. A successful response means the audit record was
// committed together with the read.
func (h *RevealHandler) Reveal(c *gin.Context) {
	var req RevealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scanId, pageId, and purpose are required"})
		return
	}

	events, err := h.svc.Reveal(c.Request.Context(), req.ScanID, req.PageID, req.Purpose)
	switch {
	case errors.Is(err, audit.ErrRevealDisabled):
		c.JSON(http.StatusForbidden, gin.H{"error": "secret reveal is disabled by policy"})
		return
	case errors.Is(err, audit.ErrPurposeRequired), errors.Is(err, storage.ErrBlankKey):
		c.JSON(http.StatusBadRequest, gin.H{"error": "scanId, pageId, and purpose are required"})
		return
	case err != nil:
		// The wrapped error may reference stored data; log it, return a
		// generic message.
		h.logger.Error("reveal failed", "scan_id", req.ScanID, "page_id", req.PageID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reveal failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"scanId": req.ScanID,
		"pageId": req.PageID,
		"events": events,
	})
}

// History handles GET /v1/scans/:scanId/audit.
// Lists the reveal audit trail of a scan, newest first.
func (h *RevealHandler) History(c *gin.Context) {
	scanID := strings.TrimSpace(c.Param("scanId"))

	records, err := h.svc.History(c.Request.Context(), scanID)
	switch {
	case errors.Is(err, storage.ErrBlankKey):
		c.JSON(http.StatusBadRequest, gin.H{"error": "scanId is required"})
		return
	case err != nil:
		h.logger.Error("audit history lookup failed", "scan_id", scanID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audit lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scanId": scanID, "records": records})
}
