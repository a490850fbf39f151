// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package source defines the content source the scanner enumerates.
//
// The scanner is deliberately decoupled from any concrete wiki product:
// deployments inject a ContentSource. The package ships an in-memory
// implementation for tests and demos, and a RetrySource decorator that
// adds rate limiting and bounded retries around any injected source.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/WikiSentinel/services/scanner/datatypes"
)

// Errors reported by content sources.
var (
	// ErrSpaceNotFound indicates the space key does not exist.
	ErrSpaceNotFound = errors.New("space not found")

	// ErrPageNotFound indicates the page id does not exist.
	ErrPageNotFound = errors.New("page not found")

	// ErrTransient wraps failures worth retrying (timeouts, 5xx,
	// connection resets). RetrySource only retries errors matching it.
	ErrTransient = errors.New("transient source failure")
)

// Transient wraps err so RetrySource will retry it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// ContentSource enumerates spaces, pages, and attachments.
//
// Implementations must be safe for concurrent use; a global scan walks
// spaces sequentially but status queries may hit the source in parallel.
type ContentSource interface {
	// ListSpaces returns every space visible to the scanner.
	ListSpaces(ctx context.Context) ([]datatypes.Space, error)

	// ListPages returns the pages of a space in the source's canonical
	// order. The order must be stable between calls for resume to work.
	ListPages(ctx context.Context, spaceKey string) ([]datatypes.Page, error)

	// GetPage returns one page with its body.
	GetPage(ctx context.Context, pageID string) (*datatypes.Page, error)

	// ListAttachments returns the attachments of a page.
	ListAttachments(ctx context.Context, pageID string) ([]datatypes.AttachmentInfo, error)

	// Download returns the raw bytes of an attachment.
	Download(ctx context.Context, pageID string, att datatypes.AttachmentInfo) ([]byte, error)

	// ModifiedSince reports whether the page changed after the given
	// time. Sources that cannot tell report true, which errs on the
	// side of re-scanning.
	ModifiedSince(ctx context.Context, pageID string, since time.Time) (bool, error)
}

// PageURL assembles the canonical view URL of a page.
//
// Joining is single-slash: trailing slashes on base and any leading
// noise on the id are trimmed, so "http://wiki/" + " p-1 " yields
// "http://wiki/pages/viewpage.action?pageId=p-1".
func PageURL(baseURL, pageID string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	id := strings.TrimSpace(pageID)
	if base == "" || id == "" {
		return ""
	}
	return base + "/pages/viewpage.action?pageId=" + id
}
