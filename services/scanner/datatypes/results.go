// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// ScanResult is the payload of item and attachmentItem events: the PII
// findings for one page body or one attachment.
type ScanResult struct {
	ScanID    string `json:"scanId"`
	SpaceKey  string `json:"spaceKey"`
	PageID    string `json:"pageId"`
	PageTitle string `json:"pageTitle"`
	PageURL   string `json:"pageUrl,omitempty"`

	// Attachment fields are set only on attachmentItem results.
	AttachmentName string `json:"attachmentName,omitempty"`
	AttachmentType string `json:"attachmentType,omitempty"`
	AttachmentURL  string `json:"attachmentUrl,omitempty"`

	// SourceContent is the text the detector ran over. Entity positions
	// index into it.
	SourceContent string `json:"sourceContent"`

	DetectedEntities []PiiEntity `json:"detectedEntities"`

	// Summary maps detection type to count, e.g. {"email": 2, "phone": 1}.
	Summary map[string]int `json:"summary"`

	AnalysisProgressPercentage int       `json:"analysisProgressPercentage"`
	EmittedAt                  time.Time `json:"emittedAt"`
	IsFinal                    bool      `json:"isFinal"`
}

// PiiEntity is a single detection span inside a ScanResult.
//
// Positions are offsets into SourceContent with 0 <= Start <= End <=
// len(SourceContent). SensitiveValue and SensitiveContext hold real data
// and MUST be encrypted before persistence; MaskedContext holds [TYPE]
// tokens and may be stored in clear.
type PiiEntity struct {
	PiiType      string `json:"piiType"`
	PiiTypeLabel string `json:"piiTypeLabel,omitempty"`

	StartPosition int     `json:"startPosition"`
	EndPosition   int     `json:"endPosition"`
	Confidence    float64 `json:"confidence"`

	SensitiveValue   string `json:"sensitiveValue,omitempty"`
	SensitiveContext string `json:"sensitiveContext,omitempty"`
	MaskedContext    string `json:"maskedContext,omitempty"`
}

// Summarize rebuilds the type → count summary from the detected entities.
func (r *ScanResult) Summarize() map[string]int {
	summary := make(map[string]int, len(r.DetectedEntities))
	for _, e := range r.DetectedEntities {
		summary[e.PiiType]++
	}
	return summary
}

// AuditRecord traces one reveal of sensitive data for compliance review.
type AuditRecord struct {
	ID             string    `json:"id"`
	ScanID         string    `json:"scanId"`
	Purpose        string    `json:"purpose"`
	PiiCount       int       `json:"piiCount"`
	AccessedAt     time.Time `json:"accessedAt"`
	RetentionUntil time.Time `json:"retentionUntil"`
}
