// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package source

import (
	"context"
	"sync"
	"time"

	"github.com/AleutianAI/WikiSentinel/services/scanner/datatypes"
)

// MemorySource is an in-memory ContentSource for tests and demo mode.
// Space and page order is insertion order.
type MemorySource struct {
	mu          sync.RWMutex
	spaces      []datatypes.Space
	pages       map[string][]datatypes.Page // spaceKey -> pages
	attachments map[string][]datatypes.AttachmentInfo
	blobs       map[string][]byte // pageID/name -> content
	modified    map[string]time.Time
}

// NewMemorySource returns an empty source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		pages:       make(map[string][]datatypes.Page),
		attachments: make(map[string][]datatypes.AttachmentInfo),
		blobs:       make(map[string][]byte),
		modified:    make(map[string]time.Time),
	}
}

// AddSpace registers a space.
func (s *MemorySource) AddSpace(space datatypes.Space) *MemorySource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spaces = append(s.spaces, space)
	return s
}

// AddPage appends a page to a space.
func (s *MemorySource) AddPage(spaceKey string, page datatypes.Page) *MemorySource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[spaceKey] = append(s.pages[spaceKey], page)
	return s
}

// AddAttachment attaches a named blob to a page.
func (s *MemorySource) AddAttachment(pageID string, att datatypes.AttachmentInfo, content []byte) *MemorySource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachments[pageID] = append(s.attachments[pageID], att)
	s.blobs[pageID+"/"+att.Name] = content
	return s
}

// Touch records a modification time for a page.
func (s *MemorySource) Touch(pageID string, at time.Time) *MemorySource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modified[pageID] = at
	return s
}

// ListSpaces implements ContentSource.
func (s *MemorySource) ListSpaces(ctx context.Context) ([]datatypes.Space, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]datatypes.Space, len(s.spaces))
	copy(out, s.spaces)
	return out, nil
}

// ListPages implements ContentSource.
func (s *MemorySource) ListPages(ctx context.Context, spaceKey string) ([]datatypes.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, space := range s.spaces {
		if space.Key == spaceKey {
			out := make([]datatypes.Page, len(s.pages[spaceKey]))
			copy(out, s.pages[spaceKey])
			return out, nil
		}
	}
	return nil, ErrSpaceNotFound
}

// GetPage implements ContentSource.
func (s *MemorySource) GetPage(ctx context.Context, pageID string) (*datatypes.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, pages := range s.pages {
		for _, page := range pages {
			if page.ID == pageID {
				p := page
				return &p, nil
			}
		}
	}
	return nil, ErrPageNotFound
}

// ListAttachments implements ContentSource.
func (s *MemorySource) ListAttachments(ctx context.Context, pageID string) ([]datatypes.AttachmentInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]datatypes.AttachmentInfo, len(s.attachments[pageID]))
	copy(out, s.attachments[pageID])
	return out, nil
}

// Download implements ContentSource.
func (s *MemorySource) Download(ctx context.Context, pageID string, att datatypes.AttachmentInfo) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.blobs[pageID+"/"+att.Name]
	if !ok {
		return nil, ErrPageNotFound
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, nil
}

// ModifiedSince implements ContentSource. Pages without a recorded
// modification time report true.
func (s *MemorySource) ModifiedSince(ctx context.Context, pageID string, since time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.modified[pageID]
	if !ok {
		return true, nil
	}
	return at.After(since), nil
}

var _ ContentSource = (*MemorySource)(nil)
