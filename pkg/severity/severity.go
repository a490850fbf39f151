// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package severity classifies PII detection types into severity tiers and
// rolls per-space detection counts up into an overall risk level.
//
// Severity is a property of the detection TYPE (a credit card number is
// always high severity); risk is a property of a SPACE (how many detections
// of which severities it accumulated). Both functions are pure.
package severity

import "strings"

// Severity is the categorical severity of a single detection type.
type Severity string

const (
	High   Severity = "high"
	Medium Severity = "medium"
	Low    Severity = "low"
)

// RiskLevel is the rolled-up risk of a space, derived from detection counts.
//
// Labels are kept in French to match the dashboard vocabulary.
type RiskLevel string

const (
	RiskNone     RiskLevel = "Aucun"
	RiskLow      RiskLevel = "Faible"
	RiskMedium   RiskLevel = "Moyen"
	RiskHigh     RiskLevel = "Élevé"
	RiskCritical RiskLevel = "Critique"
)

// Weights applied to each severity tier when computing risk.
const (
	weightHigh    = 10
	weightMedium  = 5
	weightLow     = 2
	weightUnknown = 1
)

// severityByType maps normalized detection types to their severity tier.
//
// Types absent from the table are treated as Low by Classify and weighted
// as unknown by Score.
var severityByType = map[string]Severity{
	// Financial and credential material: direct monetary or account access.
	"credit_card":    High,
	"iban":           High,
	"bank_account":   High,
	"password":       High,
	"api_key":        High,
	"secret":         High,
	"ssn":            High,
	"nir":            High, // French social security number
	"passport":       High,
	"id_card":        High,
	"driver_license": High,
	"medical":        High,
	"health":         High,

	// Direct identifiers.
	"email":         Medium,
	"phone":         Medium,
	"phone_number":  Medium,
	"address":       Medium,
	"date_of_birth": Medium,
	"iban_candidate": Medium,

	// Weak identifiers.
	"person":       Low,
	"person_name":  Low,
	"location":     Low,
	"organization": Low,
	"ip_address":   Low,
	"url":          Low,
	"date":         Low,
}

// Classify returns the severity tier for a detection type.
//
// The lookup is case-insensitive. Unknown or blank types classify as Low:
// an unrecognized detector label should never silently become high severity.
func Classify(piiType string) Severity {
	if s, ok := severityByType[normalize(piiType)]; ok {
		return s
	}
	return Low
}

// Score computes the weighted sum for a per-type detection count map.
//
// Each detection contributes its severity weight: high=10, medium=5, low=2.
// Types absent from the severity table contribute 1 each.
func Score(counts map[string]int) int {
	total := 0
	for piiType, count := range counts {
		if count <= 0 {
			continue
		}
		w := weightUnknown
		if s, ok := severityByType[normalize(piiType)]; ok {
			switch s {
			case High:
				w = weightHigh
			case Medium:
				w = weightMedium
			case Low:
				w = weightLow
			}
		}
		total += w * count
	}
	return total
}

// Risk buckets the weighted score of a count map into a RiskLevel.
//
// Buckets: 0 → Aucun, 1–4 → Faible, 5–20 → Moyen, 21–49 → Élevé,
// ≥50 → Critique.
func Risk(counts map[string]int) RiskLevel {
	score := Score(counts)
	switch {
	case score <= 0:
		return RiskNone
	case score <= 4:
		return RiskLow
	case score <= 20:
		return RiskMedium
	case score <= 49:
		return RiskHigh
	default:
		return RiskCritical
	}
}

func normalize(piiType string) string {
	return strings.ToLower(strings.TrimSpace(piiType))
}
