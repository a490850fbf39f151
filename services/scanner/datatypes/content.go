// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"path"
	"strings"
	"time"
)

// Space is a top-level grouping of pages in the content source.
type Space struct {
	Key  string `json:"key"`
	Name string `json:"name,omitempty"`
}

// Page is a document with a body and zero or more attachments.
type Page struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

// AttachmentInfo describes a binary file linked to a page.
type AttachmentInfo struct {
	Name      string `json:"name"`
	Extension string `json:"extension,omitempty"`
	MimeType  string `json:"mimeType,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Ext returns the lowercase extension of the attachment, preferring the
// declared Extension field and falling back to the file name suffix.
func (a AttachmentInfo) Ext() string {
	if a.Extension != "" {
		return strings.ToLower(strings.TrimPrefix(a.Extension, "."))
	}
	return strings.ToLower(strings.TrimPrefix(path.Ext(a.Name), "."))
}

// Checkpoint is the durable resume point for one (scan, space) pair.
// At most one checkpoint exists per key; Save upserts.
type Checkpoint struct {
	ScanID   string `json:"scanId"`
	SpaceKey string `json:"spaceKey"`

	// LastProcessedPageID is the last page whose pageComplete was
	// persisted, or the page in flight when an attachment was the last
	// persisted item (see LastProcessedAttachmentName).
	LastProcessedPageID string `json:"lastProcessedPageId,omitempty"`

	// LastProcessedAttachmentName, when set, marks the page as NOT yet
	// fully analyzed: resume re-processes LastProcessedPageID.
	LastProcessedAttachmentName string `json:"lastProcessedAttachmentName,omitempty"`

	Status    ScanStatus `json:"status"`
	UpdatedAt time.Time  `json:"updatedAt"`
}
