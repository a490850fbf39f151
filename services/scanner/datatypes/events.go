// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes holds the shared data model of the scanner service:
// scan events, results, checkpoints, audit records, and the content types
// returned by a ContentSource.
//
// Everything here is a plain serializable value. Behavior lives in the
// packages that own it (orchestrator, storage, handlers).
package datatypes

import "time"

// EventType identifies a scan event. The set is closed; the string values
// are the stable on-the-wire labels.
type EventType string

const (
	// EventMultiStart opens a global (all-spaces) scan.
	EventMultiStart EventType = "multiStart"

	// EventStart opens a single space scan.
	EventStart EventType = "start"

	// EventPageStart announces that a page is being processed.
	EventPageStart EventType = "pageStart"

	// EventItem carries the PII result for a page body.
	EventItem EventType = "item"

	// EventAttachmentItem carries the PII result for one attachment.
	EventAttachmentItem EventType = "attachmentItem"

	// EventPageComplete closes a page.
	EventPageComplete EventType = "pageComplete"

	// EventScanError reports a non-fatal per-item failure. The scan
	// continues with the next item.
	EventScanError EventType = "scanError"

	// EventComplete closes a space scan. Progress is always 100.
	EventComplete EventType = "complete"

	// EventMultiComplete closes a global scan.
	EventMultiComplete EventType = "multiComplete"

	// EventError reports a fatal enumeration failure for a space
	// (spaceKey set) or globally (spaceKey empty).
	EventError EventType = "error"

	// EventKeepalive is a liveness tick on idle streams. Never persisted.
	EventKeepalive EventType = "keepalive"
)

// Persistent reports whether events of this type are written to the event
// store. Keepalive ticks are delivery-only.
func (t EventType) Persistent() bool {
	return t != EventKeepalive
}

// ScanEvent is the unit of the scan stream: persisted in order by the
// event store and delivered live to the subscriber.
//
// Within a scan, EventSeq is dense and strictly increasing, assigned by
// the event store on append. Fields beyond the header are populated per
// event type; consumers must tolerate additional fields.
type ScanEvent struct {
	ScanID   string    `json:"scanId"`
	EventSeq int64     `json:"eventSeq,omitempty"`
	Type     EventType `json:"type"`
	Ts       time.Time `json:"ts"`

	SpaceKey string `json:"spaceKey,omitempty"`
	PageID   string `json:"pageId,omitempty"`

	// pageStart / start metadata
	PageTitle  string `json:"pageTitle,omitempty"`
	PageURL    string `json:"pageUrl,omitempty"`
	PageIndex  int    `json:"pageIndex,omitempty"`
	PagesTotal int    `json:"pagesTotal,omitempty"`

	// scanError metadata
	AttachmentName string `json:"attachmentName,omitempty"`
	Message        string `json:"message,omitempty"`

	// Progress accompanies every non-keepalive event and is monotonic
	// non-decreasing within a scan.
	Progress int `json:"analysisProgressPercentage"`

	// Result is the payload of item and attachmentItem events.
	Result *ScanResult `json:"result,omitempty"`
}

// ScanStatus is the lifecycle status of a scan or of a per-space checkpoint.
type ScanStatus string

const (
	StatusRunning   ScanStatus = "Running"
	StatusPaused    ScanStatus = "Paused"
	StatusCompleted ScanStatus = "Completed"
	StatusFailed    ScanStatus = "Failed"
)

// Terminal reports whether the status is immutable except by explicit reset.
func (s ScanStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseScanStatus maps a persisted string back to a ScanStatus. Invalid
// values read back as Running, the defensive default: a checkpoint with a
// corrupt status should be re-scanned, not silently skipped.
func ParseScanStatus(s string) ScanStatus {
	switch ScanStatus(s) {
	case StatusRunning, StatusPaused, StatusCompleted, StatusFailed:
		return ScanStatus(s)
	default:
		return StatusRunning
	}
}
