// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/WikiSentinel/pkg/masking"
	"github.com/AleutianAI/WikiSentinel/services/scanner/audit"
	"github.com/AleutianAI/WikiSentinel/services/scanner/crypto"
	"github.com/AleutianAI/WikiSentinel/services/scanner/datatypes"
	"github.com/AleutianAI/WikiSentinel/services/scanner/detect"
	"github.com/AleutianAI/WikiSentinel/services/scanner/extract"
	"github.com/AleutianAI/WikiSentinel/services/scanner/orchestrator"
	"github.com/AleutianAI/WikiSentinel/services/scanner/routes"
	"github.com/AleutianAI/WikiSentinel/services/scanner/source"
	"github.com/AleutianAI/WikiSentinel/services/scanner/storage/badgerstore"
	"github.com/AleutianAI/WikiSentinel/services/scanner/subscribe"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubPolicy is a fixed-policy ConfigStore.
type stubPolicy struct {
	allow bool
}

func (p stubPolicy) AllowSecretReveal() bool        { return p.allow }
func (p stubPolicy) RetentionPeriod() time.Duration { return 730 * 24 * time.Hour }

// brokenSource fails every listing, for the readiness probe test.
type brokenSource struct {
	source.ContentSource
}

func (brokenSource) ListSpaces(context.Context) ([]datatypes.Space, error) {
	return nil, errors.New("backend offline")
}

type server struct {
	router      *gin.Engine
	orch        *orchestrator.Orchestrator
	events      *badgerstore.EventStore
	checkpoints *badgerstore.CheckpointStore
	hub         *subscribe.Hub
}

func newServer(t *testing.T, src source.ContentSource, allowReveal bool, token string) *server {
	t.Helper()
	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cipher, err := crypto.NewAESCipher([]byte("handlers-test-key"))
	require.NoError(t, err)

	events := badgerstore.NewEventStore(db, cipher, time.Hour, nil)
	checkpoints := badgerstore.NewCheckpointStore(db, nil)
	audits := badgerstore.NewAuditStore(db, time.Hour, nil)

	processor := extract.NewProcessor(src, extract.NewHeuristicExtractor(), []string{"txt", "csv", "html"})
	enricher := orchestrator.NewEnricher(masking.NewDefaultExtractor(), nil)
	orch := orchestrator.New(src, detect.NewStaticDetector(), processor, events, checkpoints,
		cipher, enricher, nil, nil, orchestrator.Options{
			BaseURL:      "https://wiki.example.com",
			GraceTimeout: time.Second,
		})

	hub := subscribe.NewHub(time.Minute, nil, nil)
	auditSvc := audit.NewService(events, audits, stubPolicy{allow: allowReveal}, nil)

	router := gin.New()
	routes.SetupRoutes(router, routes.Deps{
		Orchestrator: orch,
		Hub:          hub,
		Source:       src,
		Events:       events,
		Checkpoints:  checkpoints,
		Audit:        auditSvc,
		AuthToken:    token,
	})
	return &server{router: router, orch: orch, events: events, checkpoints: checkpoints, hub: hub}
}

func demoSource() *source.MemorySource {
	return source.NewMemorySource().
		AddSpace(datatypes.Space{Key: "HR"}).
		AddPage("HR", datatypes.Page{
			ID:    "p-1",
			Title: "Contacts",
			Body:  "Reach the team at team@example.com for onboarding",
		})
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestStreamSpaceOverSSE(t *testing.T) {
	srv := newServer(t, demoSource(), false, "")

	w := get(srv.router, "/v1/scans/space/HR/stream")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")
	assert.NotEmpty(t, w.Header().Get("X-Scan-Id"))

	body := w.Body.String()
	assert.Contains(t, body, "event: start")
	assert.Contains(t, body, "event: pageStart")
	assert.Contains(t, body, "event: item")
	assert.Contains(t, body, "event: complete")
	// The raw value never appears on the wire; only its ciphertext and
	// the masked context do.
	assert.NotContains(t, body, "team@example.com")
	assert.Contains(t, body, "[EMAIL]")
}

func TestStreamSpaceRequiresSpaceKey(t *testing.T) {
	srv := newServer(t, demoSource(), false, "")
	w := get(srv.router, "/v1/scans/space/%20/stream")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusAfterScan(t *testing.T) {
	srv := newServer(t, demoSource(), false, "")
	w := get(srv.router, "/v1/scans/space/HR/stream")
	scanID := w.Header().Get("X-Scan-Id")
	require.NotEmpty(t, scanID)

	w = get(srv.router, "/v1/scans/"+scanID+"/status")
	require.Equal(t, http.StatusOK, w.Code)

	var status struct {
		ScanID         string         `json:"scanId"`
		Spaces         []any          `json:"spaces"`
		PagesCompleted int            `json:"pagesCompleted"`
		ItemsAnalyzed  int            `json:"itemsAnalyzed"`
		PiiCounts      map[string]int `json:"piiCounts"`
		RiskLevel      string         `json:"riskLevel"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, scanID, status.ScanID)
	assert.Len(t, status.Spaces, 1)
	assert.Equal(t, 1, status.PagesCompleted)
	assert.Equal(t, 1, status.ItemsAnalyzed)
	assert.Equal(t, 1, status.PiiCounts["email"])
	assert.NotEmpty(t, status.RiskLevel)

	// The same scan is also the latest one.
	w = get(srv.router, "/v1/scans/latest/status")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), scanID)
}

func TestStatusUnknownScan(t *testing.T) {
	srv := newServer(t, demoSource(), false, "")
	w := get(srv.router, "/v1/scans/no-such-scan/status")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLatestStatusWithoutScans(t *testing.T) {
	srv := newServer(t, demoSource(), false, "")
	w := get(srv.router, "/v1/scans/latest/status")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEventReplayWithTypeFilter(t *testing.T) {
	srv := newServer(t, demoSource(), false, "")
	scanID := get(srv.router, "/v1/scans/space/HR/stream").Header().Get("X-Scan-Id")

	w := get(srv.router, "/v1/scans/"+scanID+"/events?types=item,pageComplete")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Events []datatypes.ScanEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 2)
	assert.Equal(t, datatypes.EventItem, resp.Events[0].Type)
	assert.Equal(t, datatypes.EventPageComplete, resp.Events[1].Type)
}

func TestAttachWithoutLiveStream(t *testing.T) {
	srv := newServer(t, demoSource(), false, "")
	w := get(srv.router, "/v1/scans/gone/stream")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAttachStreamsLiveEvents(t *testing.T) {
	srv := newServer(t, demoSource(), false, "")

	feed := make(chan datatypes.ScanEvent)
	srv.hub.Open("scan-live", feed)
	go func() {
		feed <- datatypes.ScanEvent{ScanID: "scan-live", EventSeq: 1, Type: datatypes.EventStart}
		feed <- datatypes.ScanEvent{ScanID: "scan-live", EventSeq: 2, Type: datatypes.EventComplete, Progress: 100}
		close(feed)
	}()

	w := get(srv.router, "/v1/scans/scan-live/stream")
	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "event: start")
	assert.Contains(t, body, "event: complete")
}

func TestPauseMarksNonTerminalCheckpoints(t *testing.T) {
	srv := newServer(t, demoSource(), false, "")

	require.NoError(t, srv.checkpoints.Save(context.Background(), datatypes.Checkpoint{
		ScanID:   "scan-9",
		SpaceKey: "HR",
		Status:   datatypes.StatusRunning,
	}))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/v1/scans/scan-9/pause", nil)
	srv.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = get(srv.router, "/v1/spaces/HR/status")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(datatypes.StatusPaused))
}

func TestSpaceStatusNeverScanned(t *testing.T) {
	srv := newServer(t, demoSource(), false, "")
	w := get(srv.router, "/v1/spaces/GHOST/status")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRevealDeniedByPolicy(t *testing.T) {
	srv := newServer(t, demoSource(), false, "")
	scanID := get(srv.router, "/v1/scans/space/HR/stream").Header().Get("X-Scan-Id")

	w := postJSON(srv.router, "/v1/reveal",
		`{"scanId":"`+scanID+`","pageId":"p-1","purpose":"incident"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRevealDecryptsAndAudits(t *testing.T) {
	srv := newServer(t, demoSource(), true, "")
	scanID := get(srv.router, "/v1/scans/space/HR/stream").Header().Get("X-Scan-Id")

	w := postJSON(srv.router, "/v1/reveal",
		`{"scanId":"`+scanID+`","pageId":"p-1","purpose":"incident-7"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "team@example.com", "reveal must return the cleartext value")

	w = get(srv.router, "/v1/scans/"+scanID+"/audit")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "incident-7")
}

func TestRevealValidatesBody(t *testing.T) {
	srv := newServer(t, demoSource(), true, "")
	w := postJSON(srv.router, "/v1/reveal", `{"scanId":"s","pageId":"p"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBearerTokenGuardsAPI(t *testing.T) {
	srv := newServer(t, demoSource(), false, "hunter2")

	w := get(srv.router, "/v1/scans/latest/status")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req, _ := http.NewRequest(http.MethodGet, "/v1/scans/latest/status", nil)
	req.Header.Set("Authorization", "Bearer hunter2")
	w = httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code, "authorized request reaches the handler")

	// Health stays open.
	assert.Equal(t, http.StatusOK, get(srv.router, "/health").Code)
}

func TestHealthAndReadiness(t *testing.T) {
	srv := newServer(t, demoSource(), false, "")
	assert.Equal(t, http.StatusOK, get(srv.router, "/health").Code)
	assert.Equal(t, http.StatusOK, get(srv.router, "/ready").Code)

	degraded := newServer(t, brokenSource{ContentSource: demoSource()}, false, "")
	w := get(degraded.router, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotContains(t, strings.ToLower(w.Body.String()), "team@example.com")
}

func postJSON(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}
