// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/WikiSentinel/services/scanner/audit"
	"github.com/AleutianAI/WikiSentinel/services/scanner/handlers"
	"github.com/AleutianAI/WikiSentinel/services/scanner/middleware"
	"github.com/AleutianAI/WikiSentinel/services/scanner/orchestrator"
	"github.com/AleutianAI/WikiSentinel/services/scanner/source"
	"github.com/AleutianAI/WikiSentinel/services/scanner/storage"
	"github.com/AleutianAI/WikiSentinel/services/scanner/subscribe"
)

// Deps carries everything the route tree needs.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Hub          *subscribe.Hub
	Source       source.ContentSource
	Events       storage.EventStore
	Checkpoints  storage.CheckpointStore
	Audit        *audit.Service
	AuthToken    string
	Logger       *slog.Logger
}

// SetupRoutes mounts the scanner API. Health and metrics stay outside the
// auth guard so probes and scrapers need no token.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/ready", handlers.Readiness(deps.Source, deps.Events))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	scans := handlers.NewScanHandler(deps.Orchestrator, deps.Hub, deps.Logger)
	status := handlers.NewStatusHandler(deps.Events, deps.Checkpoints, deps.Logger)
	reveal := handlers.NewRevealHandler(deps.Audit, deps.Logger)
	ws := handlers.NewWSHandler(deps.Hub, deps.Logger)

	v1 := router.Group("/v1")
	v1.Use(middleware.TokenAuth(deps.AuthToken))
	{
		v1.GET("/scans/all/stream", scans.StreamAll)
		v1.GET("/scans/space/:spaceKey/stream", scans.StreamSpace)
		v1.GET("/scans/latest/status", status.Latest)
		v1.GET("/scans/:scanId/stream", scans.Attach)
		v1.GET("/scans/:scanId/resume", scans.Resume)
		v1.POST("/scans/:scanId/pause", scans.Pause)
		v1.GET("/scans/:scanId/status", status.Status)
		v1.GET("/scans/:scanId/events", status.Events)
		v1.GET("/scans/:scanId/audit", reveal.History)
		v1.GET("/scans/:scanId/ws", ws.Mirror)
		v1.GET("/spaces/:spaceKey/status", status.Space)
		v1.POST("/reveal", reveal.Reveal)
	}
}
