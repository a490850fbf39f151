// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/WikiSentinel/services/scanner/subscribe"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler mirrors a live scan stream over WebSocket for clients that
// cannot consume SSE. Events are sent as one JSON object per message,
// identical to the SSE data payloads.
type WSHandler struct {
	hub    *subscribe.Hub
	logger *slog.Logger
}

// NewWSHandler wires the WebSocket mirror.
func NewWSHandler(hub *subscribe.Hub, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{hub: hub, logger: logger}
}

// Mirror handles GET /v1/scans/:scanId/ws.
// Attaching preempts any viewer on the same scan, same as the SSE attach.
func (h *WSHandler) Mirror(c *gin.Context) {
	scanID := strings.TrimSpace(c.Param("scanId"))

	// Attach before upgrading so a missing stream is a clean 404 instead
	// of an immediately closed socket.
	sub, err := h.hub.Attach(scanID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no live stream for scan"})
		return
	}
	defer sub.Close()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "scan_id", scanID, "error", err)
		return
	}
	defer ws.Close()
	h.logger.Info("websocket mirror attached", "scan_id", scanID)

	// Drain the read side to learn about client close.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "scan complete"))
				return
			}
			if err := ws.WriteJSON(evt); err != nil {
				h.logger.Debug("websocket write failed, client likely gone", "error", err)
				return
			}
		case <-sub.Done():
			return
		case <-clientGone:
			return
		}
	}
}
