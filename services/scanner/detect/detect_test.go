// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package detect

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticDetectorFindsEmailAndPhone(t *testing.T) {
	d := NewStaticDetector()

	text := "Contact: john@example.com and phone 06 11 22 33 44 provided"
	result, err := d.Detect(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, result.Entities, 2)

	runes := []rune(text)
	email := result.Entities[0]
	assert.Equal(t, "email", email.Type)
	assert.Equal(t, "john@example.com", string(runes[email.Start:email.End]))

	phone := result.Entities[1]
	assert.Equal(t, "phone", phone.Type)
	assert.Equal(t, "06 11 22 33 44", string(runes[phone.Start:phone.End]))

	assert.Equal(t, map[string]int{"email": 1, "phone": 1}, result.Stats)
}

func TestStaticDetectorRuneOffsetsWithUnicode(t *testing.T) {
	d := NewStaticDetector()

	// Multi-byte characters before the entity shift byte offsets but not
	// rune offsets.
	text := "élève à Paris: jean@exemple.fr"
	result, err := d.Detect(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)

	runes := []rune(text)
	e := result.Entities[0]
	assert.Equal(t, "jean@exemple.fr", string(runes[e.Start:e.End]))
}

func TestStaticDetectorEmptyText(t *testing.T) {
	d := NewStaticDetector()
	result, err := d.Detect(context.Background(), "nothing sensitive here")
	require.NoError(t, err)
	assert.Empty(t, result.Entities)
}

func TestHTTPDetectorRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analyze", r.URL.Path)
		var req detectRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "fr", req.Language)

		_ = json.NewEncoder(w).Encode(Result{
			Entities: []Entity{{Type: "email", Start: 0, End: 16, Confidence: 0.95}},
			Stats:    map[string]int{"email": 1},
		})
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL, "fr", nil)
	result, err := d.Detect(context.Background(), "john@example.com sent a note")
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)
	assert.Equal(t, "email", result.Entities[0].Type)
}

func TestHTTPDetectorRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(Result{})
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL, "fr", nil, WithRetries(3))
	d.backoff = 0

	_, err := d.Detect(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPDetectorGivesUpAfterRetryBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL, "fr", nil, WithRetries(2))
	d.backoff = 0

	_, err := d.Detect(context.Background(), "text")
	assert.ErrorIs(t, err, ErrDetectorUnavailable)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPDetectorDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL, "fr", nil, WithRetries(5))
	_, err := d.Detect(context.Background(), "text")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDetectorUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}
