// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrator drives PII scans over a content source.
//
// A scan is a cold, cancellable stream: StreamSpace, StreamAllSpaces, and
// ResumeAllSpaces each return a channel that starts producing when the
// caller consumes it and stops when the context is cancelled. Within a
// scan there is exactly one producer goroutine, so event order is a
// structural guarantee, not a locking discipline.
//
// Every persistent event is appended to the event store before it is
// delivered to the channel; the store is the durable record, the channel
// the live view. The checkpoint for an item is saved after its event is
// appended and before the next item begins, which is what makes resume
// correct.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/WikiSentinel/pkg/progress"
	"github.com/AleutianAI/WikiSentinel/services/scanner/crypto"
	"github.com/AleutianAI/WikiSentinel/services/scanner/datatypes"
	"github.com/AleutianAI/WikiSentinel/services/scanner/detect"
	"github.com/AleutianAI/WikiSentinel/services/scanner/extract"
	"github.com/AleutianAI/WikiSentinel/services/scanner/observability"
	"github.com/AleutianAI/WikiSentinel/services/scanner/source"
	"github.com/AleutianAI/WikiSentinel/services/scanner/storage"
)

// appendAttempts bounds event-store retries per emission.
const appendAttempts = 3

// Options tunes an Orchestrator.
type Options struct {
	// BaseURL builds page view URLs on pageStart/item events. Empty
	// leaves PageURL blank.
	BaseURL string

	// ScanTimeout bounds a whole scan. Zero means no limit.
	ScanTimeout time.Duration

	// GraceTimeout bounds the in-flight event flush after cancellation.
	GraceTimeout time.Duration
}

// Orchestrator coordinates source enumeration, extraction, detection,
// enrichment, persistence, and delivery.
type Orchestrator struct {
	source      source.ContentSource
	detector    detect.PiiDetector
	processor   *extract.Processor
	events      storage.EventStore
	checkpoints storage.CheckpointStore
	cipher      crypto.Cipher
	enricher    *Enricher
	metrics     *observability.Metrics
	logger      *slog.Logger
	opts        Options
	now         func() time.Time
}

// New wires an Orchestrator. All collaborators are required except
// metrics and logger, which default to no-op and slog.Default.
func New(
	src source.ContentSource,
	detector detect.PiiDetector,
	processor *extract.Processor,
	events storage.EventStore,
	checkpoints storage.CheckpointStore,
	cipher crypto.Cipher,
	enricher *Enricher,
	metrics *observability.Metrics,
	logger *slog.Logger,
	opts Options,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.Nop()
	}
	if opts.GraceTimeout <= 0 {
		opts.GraceTimeout = 5 * time.Second
	}
	return &Orchestrator{
		source:      src,
		detector:    detector,
		processor:   processor,
		events:      events,
		checkpoints: checkpoints,
		cipher:      cipher,
		enricher:    enricher,
		metrics:     metrics,
		logger:      logger,
		opts:        opts,
		now:         time.Now,
	}
}

// run carries the per-stream state of one scan.
type run struct {
	scanID  string
	ch      chan datatypes.ScanEvent
	tracker *progress.Tracker
}

// StreamSpace scans one space under a fresh scan id. The returned channel
// closes when the scan finishes or the context is cancelled.
func (o *Orchestrator) StreamSpace(ctx context.Context, spaceKey string) (string, <-chan datatypes.ScanEvent) {
	scanID := uuid.New().String()
	r := &run{scanID: scanID, ch: make(chan datatypes.ScanEvent), tracker: progress.NewTracker()}
	go func() {
		defer close(r.ch)
		ctx, cancel := o.scanContext(ctx)
		defer cancel()
		o.scanSpace(ctx, r, spaceKey, nil)
	}()
	return scanID, r.ch
}

// StreamAllSpaces scans every space of the source sequentially under one
// scan id, bracketed by multiStart and multiComplete.
func (o *Orchestrator) StreamAllSpaces(ctx context.Context) (string, <-chan datatypes.ScanEvent) {
	scanID := uuid.New().String()
	r := &run{scanID: scanID, ch: make(chan datatypes.ScanEvent), tracker: progress.NewTracker()}
	go func() {
		defer close(r.ch)
		ctx, cancel := o.scanContext(ctx)
		defer cancel()
		o.runAllSpaces(ctx, r, nil)
	}()
	return scanID, r.ch
}

// ResumeAllSpaces continues a prior scan from its checkpoints. Spaces
// whose checkpoint is Completed emit nothing; missing checkpoints scan
// fresh; unknown page ids restart their space from the first page.
func (o *Orchestrator) ResumeAllSpaces(ctx context.Context, scanID string) <-chan datatypes.ScanEvent {
	r := &run{scanID: scanID, ch: make(chan datatypes.ScanEvent), tracker: progress.NewTracker()}
	go func() {
		defer close(r.ch)
		ctx, cancel := o.scanContext(ctx)
		defer cancel()
		o.runAllSpaces(ctx, r, o.loadCheckpoint)
	}()
	return r.ch
}

// PauseScan transitions the scan's non-terminal checkpoints to Paused.
// This is the only path that marks a scan Paused; cancellation never does.
func (o *Orchestrator) PauseScan(ctx context.Context, scanID string) error {
	return o.checkpoints.PauseScan(ctx, scanID)
}

func (o *Orchestrator) scanContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.opts.ScanTimeout > 0 {
		return context.WithTimeout(ctx, o.opts.ScanTimeout)
	}
	return context.WithCancel(ctx)
}

// checkpointLoader fetches the resume point for a space, or nil for a
// fresh scan of it.
type checkpointLoader func(ctx context.Context, scanID, spaceKey string) (*datatypes.Checkpoint, error)

func (o *Orchestrator) loadCheckpoint(ctx context.Context, scanID, spaceKey string) (*datatypes.Checkpoint, error) {
	cp, err := o.checkpoints.FindByScanAndSpace(ctx, scanID, spaceKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return cp, err
}

// runAllSpaces is the shared body of StreamAllSpaces and ResumeAllSpaces.
func (o *Orchestrator) runAllSpaces(ctx context.Context, r *run, loader checkpointLoader) {
	o.emit(ctx, r, datatypes.ScanEvent{Type: datatypes.EventMultiStart})

	spaces, err := o.source.ListSpaces(ctx)
	switch {
	case err != nil:
		o.emit(ctx, r, datatypes.ScanEvent{
			Type:    datatypes.EventError,
			Message: fmt.Sprintf("listing spaces failed: %v", err),
		})
	case len(spaces) == 0:
		o.emit(ctx, r, datatypes.ScanEvent{
			Type:    datatypes.EventError,
			Message: "no spaces available to scan",
		})
	default:
		for _, space := range spaces {
			if ctx.Err() != nil {
				break
			}
			var cp *datatypes.Checkpoint
			if loader != nil {
				cp, err = loader(ctx, r.scanID, space.Key)
				if err != nil {
					o.emit(ctx, r, datatypes.ScanEvent{
						Type:     datatypes.EventError,
						SpaceKey: space.Key,
						Message:  fmt.Sprintf("loading checkpoint failed: %v", err),
					})
					continue
				}
			}
			o.scanSpace(ctx, r, space.Key, cp)
		}
	}

	o.emit(ctx, r, datatypes.ScanEvent{Type: datatypes.EventMultiComplete, Progress: 100})
}

// scanSpace drives one space: start, per-page processing, complete. A nil
// checkpoint means a fresh scan.
func (o *Orchestrator) scanSpace(ctx context.Context, r *run, spaceKey string, cp *datatypes.Checkpoint) {
	if cp != nil && cp.Status == datatypes.StatusCompleted {
		return
	}
	started := o.now()

	pages, err := o.source.ListPages(ctx, spaceKey)
	if err != nil {
		o.emit(ctx, r, datatypes.ScanEvent{
			Type:     datatypes.EventError,
			SpaceKey: spaceKey,
			Message:  fmt.Sprintf("listing pages failed: %v", err),
		})
		o.saveCheckpoint(ctx, r, datatypes.Checkpoint{
			ScanID: r.scanID, SpaceKey: spaceKey, Status: datatypes.StatusFailed,
		})
		return
	}

	originalTotal := len(pages)
	analyzedOffset, remaining := resumeWindow(pages, cp)

	// Progress is monotonic within the space stream. Each space gets a
	// fresh floor so a later space in a multi scan can start below 100.
	tracker := progress.NewTracker()

	o.emit(ctx, r, datatypes.ScanEvent{
		Type:       datatypes.EventStart,
		SpaceKey:   spaceKey,
		PagesTotal: len(remaining),
		Progress:   tracker.Report(analyzedOffset, originalTotal),
	})

	for k, page := range remaining {
		if ctx.Err() != nil {
			return
		}
		pct := tracker.Report(analyzedOffset+k, originalTotal)
		o.scanPage(ctx, r, spaceKey, page, k+1, len(remaining), pct)
	}
	if ctx.Err() != nil {
		// Cancelled: leave the checkpoint where the last item put it.
		return
	}

	o.emit(ctx, r, datatypes.ScanEvent{
		Type:     datatypes.EventComplete,
		SpaceKey: spaceKey,
		Progress: tracker.Clamp(100),
	})
	o.saveCheckpoint(ctx, r, datatypes.Checkpoint{
		ScanID:   r.scanID,
		SpaceKey: spaceKey,
		Status:   datatypes.StatusCompleted,
	})
	o.metrics.ScanDuration.Observe(o.now().Sub(started).Seconds())
}

// resumeWindow applies the resume algorithm: which pages are left and how
// many count as already analyzed.
func resumeWindow(pages []datatypes.Page, cp *datatypes.Checkpoint) (analyzedOffset int, remaining []datatypes.Page) {
	if cp == nil || cp.LastProcessedPageID == "" {
		return 0, pages
	}
	idx := -1
	for i, page := range pages {
		if page.ID == cp.LastProcessedPageID {
			idx = i
			break
		}
	}
	if cp.LastProcessedAttachmentName != "" {
		// An attachment was in flight: the page is not fully analyzed
		// and must be re-processed.
		from := idx
		if from < 0 {
			from = 0
		}
		return from, pages[from:]
	}
	return idx + 1, pages[idx+1:]
}

// scanPage processes one page: pageStart, attachments, body, pageComplete.
// pct is the progress value for every event of this page.
func (o *Orchestrator) scanPage(ctx context.Context, r *run, spaceKey string, page datatypes.Page, index, total, pct int) {
	pageURL := source.PageURL(o.opts.BaseURL, page.ID)

	o.emit(ctx, r, datatypes.ScanEvent{
		Type:       datatypes.EventPageStart,
		SpaceKey:   spaceKey,
		PageID:     page.ID,
		PageTitle:  page.Title,
		PageURL:    pageURL,
		PageIndex:  index,
		PagesTotal: total,
		Progress:   pct,
	})

	o.scanAttachments(ctx, r, spaceKey, page, pageURL, pct)
	if ctx.Err() != nil {
		return
	}
	o.scanBody(ctx, r, spaceKey, page, pageURL, pct)
	if ctx.Err() != nil {
		return
	}

	o.emit(ctx, r, datatypes.ScanEvent{
		Type:     datatypes.EventPageComplete,
		SpaceKey: spaceKey,
		PageID:   page.ID,
		Progress: pct,
	})
	o.saveCheckpoint(ctx, r, datatypes.Checkpoint{
		ScanID:              r.scanID,
		SpaceKey:            spaceKey,
		LastProcessedPageID: page.ID,
		Status:              datatypes.StatusRunning,
	})
}

// scanAttachments walks the page's extractable attachments. Failures are
// per-item: they emit scanError and never abort the page.
func (o *Orchestrator) scanAttachments(ctx context.Context, r *run, spaceKey string, page datatypes.Page, pageURL string, pct int) {
	atts, err := o.source.ListAttachments(ctx, page.ID)
	if err != nil {
		o.emitScanError(ctx, r, spaceKey, page.ID, "", pct,
			fmt.Sprintf("listing attachments failed: %v", err))
		return
	}

	it := o.processor.Pairs(ctx, page.ID, atts)
	for {
		if ctx.Err() != nil {
			return
		}
		pair, failed, err := it.Next()
		if err != nil {
			name := ""
			if failed != nil {
				name = failed.Name
			}
			o.emitScanError(ctx, r, spaceKey, page.ID, name, pct,
				fmt.Sprintf("attachment processing failed: %v", err))
			continue
		}
		if pair == nil {
			return
		}

		detection, err := o.detector.Detect(ctx, pair.Text)
		if err != nil {
			o.emitScanError(ctx, r, spaceKey, page.ID, pair.Attachment.Name, pct,
				fmt.Sprintf("detection failed: %v", err))
			continue
		}

		result := o.buildResult(r.scanID, spaceKey, page, pageURL, pair.Text, detection, pct)
		result.AttachmentName = pair.Attachment.Name
		result.AttachmentType = pair.Attachment.MimeType
		result.AttachmentURL = pair.Attachment.URL

		if !o.emitItem(ctx, r, datatypes.ScanEvent{
			Type:           datatypes.EventAttachmentItem,
			SpaceKey:       spaceKey,
			PageID:         page.ID,
			PageTitle:      page.Title,
			AttachmentName: pair.Attachment.Name,
			Progress:       pct,
			Result:         result,
		}) {
			continue
		}
		o.saveCheckpoint(ctx, r, datatypes.Checkpoint{
			ScanID:                      r.scanID,
			SpaceKey:                    spaceKey,
			LastProcessedPageID:         page.ID,
			LastProcessedAttachmentName: pair.Attachment.Name,
			Status:                      datatypes.StatusRunning,
		})
	}
}

// scanBody detects the page body and emits its item event. A body
// detection failure suppresses the item: there is no result to report.
func (o *Orchestrator) scanBody(ctx context.Context, r *run, spaceKey string, page datatypes.Page, pageURL string, pct int) {
	detection, err := o.detector.Detect(ctx, page.Body)
	if err != nil {
		o.emitScanError(ctx, r, spaceKey, page.ID, "", pct,
			fmt.Sprintf("detection failed: %v", err))
		return
	}

	result := o.buildResult(r.scanID, spaceKey, page, pageURL, page.Body, detection, pct)
	if !o.emitItem(ctx, r, datatypes.ScanEvent{
		Type:      datatypes.EventItem,
		SpaceKey:  spaceKey,
		PageID:    page.ID,
		PageTitle: page.Title,
		PageURL:   pageURL,
		Progress:  pct,
		Result:    result,
	}) {
		return
	}
	o.saveCheckpoint(ctx, r, datatypes.Checkpoint{
		ScanID:                      r.scanID,
		SpaceKey:                    spaceKey,
		LastProcessedPageID:         page.ID,
		LastProcessedAttachmentName: "",
		Status:                      datatypes.StatusRunning,
	})
}

// buildResult converts a detection into an enriched, encrypted ScanResult.
func (o *Orchestrator) buildResult(scanID, spaceKey string, page datatypes.Page, pageURL, text string, detection *detect.Result, pct int) *datatypes.ScanResult {
	result := &datatypes.ScanResult{
		ScanID:                     scanID,
		SpaceKey:                   spaceKey,
		PageID:                     page.ID,
		PageTitle:                  page.Title,
		PageURL:                    pageURL,
		SourceContent:              text,
		DetectedEntities:           make([]datatypes.PiiEntity, 0, len(detection.Entities)),
		AnalysisProgressPercentage: pct,
		EmittedAt:                  o.now().UTC(),
		IsFinal:                    true,
	}
	for _, entity := range detection.Entities {
		result.DetectedEntities = append(result.DetectedEntities, datatypes.PiiEntity{
			PiiType:       entity.Type,
			StartPosition: entity.Start,
			EndPosition:   entity.End,
			Confidence:    entity.Confidence,
		})
	}
	o.enricher.Enrich(result)
	return result
}

// emitItem enriches nothing further but encrypts the sensitive fields and
// emits the event. Returns false when the item had to be skipped; the
// caller must then NOT advance the checkpoint.
func (o *Orchestrator) emitItem(ctx context.Context, r *run, ev datatypes.ScanEvent) bool {
	if err := EncryptSensitive(o.cipher, ev.Result); err != nil {
		o.emitScanError(ctx, r, ev.SpaceKey, ev.PageID, ev.AttachmentName, ev.Progress,
			fmt.Sprintf("encrypting sensitive fields failed: %v", err))
		return false
	}
	return o.emit(ctx, r, ev)
}

// emitScanError reports a non-fatal per-item failure.
func (o *Orchestrator) emitScanError(ctx context.Context, r *run, spaceKey, pageID, attachmentName string, pct int, message string) {
	o.metrics.ItemFailures.Inc()
	o.emit(ctx, r, datatypes.ScanEvent{
		Type:           datatypes.EventScanError,
		SpaceKey:       spaceKey,
		PageID:         pageID,
		AttachmentName: attachmentName,
		Message:        message,
		Progress:       pct,
	})
}

// emit persists the event (with bounded retries) and delivers it to the
// stream. Persistence failures skip delivery so the stream never carries
// an event the store does not have. After cancellation the in-flight
// event still gets a bounded grace window to reach the consumer.
func (o *Orchestrator) emit(ctx context.Context, r *run, ev datatypes.ScanEvent) bool {
	ev.ScanID = r.scanID
	ev.Ts = o.now().UTC()

	var err error
	for attempt := 1; attempt <= appendAttempts; attempt++ {
		if err = o.events.Append(ctx, &ev); err == nil {
			break
		}
		if ctx.Err() != nil {
			return false
		}
		o.logger.Warn("event append failed",
			"scan_id", r.scanID, "type", ev.Type, "attempt", attempt, "error", err)
	}
	if err != nil {
		o.logger.Error("event dropped after append retries",
			"scan_id", r.scanID, "type", ev.Type, "error", err)
		return false
	}
	o.metrics.EventsEmitted.WithLabelValues(string(ev.Type)).Inc()

	grace := time.NewTimer(o.opts.GraceTimeout)
	defer grace.Stop()
	select {
	case r.ch <- ev:
		return true
	case <-ctx.Done():
		// Flush with grace: the event is already durable, give the
		// consumer one last chance to see it.
		select {
		case r.ch <- ev:
		case <-grace.C:
		}
		return true
	case <-grace.C:
		o.logger.Warn("subscriber too slow, event delivered to store only",
			"scan_id", r.scanID, "type", ev.Type)
		return true
	}
}

// saveCheckpoint upserts the checkpoint, logging rather than failing the
// scan on store errors: the event log stays the source of truth.
func (o *Orchestrator) saveCheckpoint(ctx context.Context, r *run, cp datatypes.Checkpoint) {
	if err := o.checkpoints.Save(ctx, cp); err != nil && ctx.Err() == nil {
		o.logger.Error("checkpoint save failed",
			"scan_id", cp.ScanID, "space_key", cp.SpaceKey, "error", err)
	}
}
