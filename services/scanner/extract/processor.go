// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extract

import (
	"context"
	"strings"

	"github.com/AleutianAI/WikiSentinel/services/scanner/datatypes"
	"github.com/AleutianAI/WikiSentinel/services/scanner/source"
)

// Pair is one analyzable attachment with its extracted text.
type Pair struct {
	Attachment datatypes.AttachmentInfo
	Text       string
}

// Processor filters a page's attachments to the extractable whitelist,
// downloads each, and extracts text. It yields pairs lazily so the
// orchestrator can stop mid-page on cancellation without downloading the
// rest.
type Processor struct {
	source    source.ContentSource
	extractor TextExtractor
	allowed   map[string]bool
}

// NewProcessor builds a Processor with the extension whitelist. Extensions
// match case-insensitively with or without a leading dot.
func NewProcessor(src source.ContentSource, extractor TextExtractor, extensions []string) *Processor {
	allowed := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}
	return &Processor{source: src, extractor: extractor, allowed: allowed}
}

// Extractable reports whether the attachment's extension is whitelisted.
func (p *Processor) Extractable(att datatypes.AttachmentInfo) bool {
	return p.allowed[att.Ext()]
}

// Pairs returns a pull-based iterator over the page's analyzable
// attachments in declared order. Each Next call performs the download and
// extraction for exactly one emitted pair; empty downloads and image-only
// extractions are skipped silently. Download or extraction errors surface
// with the attachment that caused them so the caller can emit a scanError
// and continue.
func (p *Processor) Pairs(ctx context.Context, pageID string, atts []datatypes.AttachmentInfo) *PairIterator {
	extractable := make([]datatypes.AttachmentInfo, 0, len(atts))
	for _, att := range atts {
		if p.Extractable(att) {
			extractable = append(extractable, att)
		}
	}
	return &PairIterator{processor: p, ctx: ctx, pageID: pageID, pending: extractable}
}

// PairIterator walks the extractable attachments of one page.
type PairIterator struct {
	processor *Processor
	ctx       context.Context
	pageID    string
	pending   []datatypes.AttachmentInfo
}

// Next returns the next pair. When an attachment fails, it returns the
// failing attachment alongside the error. A nil pair with a nil error
// means the iterator is exhausted.
func (it *PairIterator) Next() (*Pair, *datatypes.AttachmentInfo, error) {
	for len(it.pending) > 0 {
		att := it.pending[0]
		it.pending = it.pending[1:]

		if err := it.ctx.Err(); err != nil {
			return nil, &att, err
		}

		data, err := it.processor.source.Download(it.ctx, it.pageID, att)
		if err != nil {
			return nil, &att, err
		}
		if len(data) == 0 {
			continue
		}

		text, err := it.processor.extractor.Extract(it.ctx, att, data)
		if err != nil {
			return nil, &att, err
		}
		if text == "" {
			continue
		}
		return &Pair{Attachment: att, Text: text}, nil, nil
	}
	return nil, nil, nil
}
