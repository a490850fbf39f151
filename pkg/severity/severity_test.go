// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package severity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		piiType string
		want    Severity
	}{
		{"credit card is high", "credit_card", High},
		{"iban is high", "IBAN", High},
		{"email is medium", "email", Medium},
		{"phone is medium", "PHONE", Medium},
		{"person is low", "person", Low},
		{"unknown type is low", "zodiac_sign", Low},
		{"blank type is low", "", Low},
		{"whitespace trimmed", "  email  ", Medium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.piiType))
		})
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name   string
		counts map[string]int
		want   int
	}{
		{"empty", map[string]int{}, 0},
		{"nil", nil, 0},
		{"single high", map[string]int{"credit_card": 1}, 10},
		{"mixed tiers", map[string]int{"credit_card": 2, "email": 3, "person": 1}, 37},
		{"unknown weighs one", map[string]int{"mystery": 4}, 4},
		{"negative counts ignored", map[string]int{"email": -2, "person": 1}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(tt.counts))
		})
	}
}

func TestRiskBuckets(t *testing.T) {
	tests := []struct {
		name   string
		counts map[string]int
		want   RiskLevel
	}{
		{"no detections", nil, RiskNone},
		{"score 2 is faible", map[string]int{"person": 1}, RiskLow},
		{"score 4 is faible", map[string]int{"person": 2}, RiskLow},
		{"score 5 is moyen", map[string]int{"email": 1}, RiskMedium},
		{"score 20 is moyen", map[string]int{"email": 4}, RiskMedium},
		{"score 21 is eleve", map[string]int{"email": 4, "unknown": 1}, RiskHigh},
		{"score 49 is eleve", map[string]int{"email": 9, "person": 2}, RiskHigh},
		{"score 50 is critique", map[string]int{"credit_card": 5}, RiskCritical},
		{"big space is critique", map[string]int{"credit_card": 30, "email": 100}, RiskCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Risk(tt.counts))
		})
	}
}
