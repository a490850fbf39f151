// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/WikiSentinel/services/scanner/datatypes"
	"github.com/AleutianAI/WikiSentinel/services/scanner/handlers"
)

var (
	styleTitle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#2CD7C7"))
	styleMuted   = lipgloss.NewStyle().Foreground(lipgloss.Color("#2C4A54"))
	styleSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("#2CD7C7"))
	styleWarning = lipgloss.NewStyle().Foreground(lipgloss.Color("#F4D03F"))
	styleError   = lipgloss.NewStyle().Foreground(lipgloss.Color("#E74C3C"))
)

// useColor disables styling when stdout is not a terminal or when the
// user asked for machine-readable output.
func useColor() bool {
	return !jsonOutput && isatty.IsTerminal(os.Stdout.Fd())
}

func render(style lipgloss.Style, s string) string {
	if !useColor() {
		return s
	}
	return style.Render(s)
}

// riskStyle maps a risk label to its display style. The labels come from
// the severity package (Aucun through Critique).
func riskStyle(risk string) lipgloss.Style {
	switch risk {
	case "Critique", "Élevé":
		return styleError
	case "Moyen":
		return styleWarning
	case "Faible":
		return styleSuccess
	default:
		return styleMuted
	}
}

// printJSON writes v as indented JSON, the --json output path.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatEvent renders one scan event as a single line for the live stream
// view. Keepalives render as a muted tick so a quiet scan still shows life.
func formatEvent(event datatypes.ScanEvent) string {
	switch event.Type {
	case datatypes.EventMultiStart:
		return render(styleTitle, fmt.Sprintf("» scan %s started (all spaces)", event.ScanID))
	case datatypes.EventStart:
		return render(styleTitle, fmt.Sprintf("» scanning space %s (%d pages)", event.SpaceKey, event.PagesTotal))
	case datatypes.EventPageStart:
		return fmt.Sprintf("  page %d/%d: %s", event.PageIndex, event.PagesTotal, event.PageTitle)
	case datatypes.EventItem, datatypes.EventAttachmentItem:
		return formatItem(event)
	case datatypes.EventPageComplete:
		return render(styleMuted, fmt.Sprintf("  page done (%d%%)", event.Progress))
	case datatypes.EventScanError:
		target := event.PageID
		if event.AttachmentName != "" {
			target = event.AttachmentName
		}
		return render(styleWarning, fmt.Sprintf("  ⚠ %s: %s", target, event.Message))
	case datatypes.EventComplete:
		return render(styleSuccess, fmt.Sprintf("✓ space %s complete", event.SpaceKey))
	case datatypes.EventMultiComplete:
		return render(styleSuccess, fmt.Sprintf("✓ scan %s complete", event.ScanID))
	case datatypes.EventError:
		return render(styleError, fmt.Sprintf("✗ scan failed: %s", event.Message))
	case datatypes.EventKeepalive:
		return render(styleMuted, "  · keepalive")
	default:
		return fmt.Sprintf("  %s", event.Type)
	}
}

func formatItem(event datatypes.ScanEvent) string {
	if event.Result == nil {
		return render(styleMuted, "  (empty result)")
	}
	name := event.Result.PageTitle
	if event.Result.AttachmentName != "" {
		name = event.Result.AttachmentName
	}
	if len(event.Result.DetectedEntities) == 0 {
		return render(styleMuted, fmt.Sprintf("  %s: clean", name))
	}
	return render(styleWarning,
		fmt.Sprintf("  %s: %d finding(s) %s", name,
			len(event.Result.DetectedEntities), formatCounts(event.Result.Summary)))
}

// formatCounts renders a type → count map deterministically, e.g.
// "[email: 2, phone: 1]".
func formatCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "[]"
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %d", k, counts[k]))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// printStatus renders a scan status summary.
func printStatus(w io.Writer, status handlers.ScanStatusResponse) {
	fmt.Fprintln(w, render(styleTitle, "Scan "+status.ScanID))
	fmt.Fprintf(w, "  started:   %s\n", status.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "  pages:     %d completed\n", status.PagesCompleted)
	fmt.Fprintf(w, "  items:     %d analyzed, %d failed\n", status.ItemsAnalyzed, status.ItemFailures)
	fmt.Fprintf(w, "  findings:  %s\n", formatCounts(status.PiiCounts))
	risk := string(status.RiskLevel)
	fmt.Fprintf(w, "  risk:      %s\n", render(riskStyle(risk), risk))
	for _, space := range status.Spaces {
		marker := "○"
		switch datatypes.ParseScanStatus(space.Status) {
		case datatypes.StatusCompleted:
			marker = render(styleSuccess, "✓")
		case datatypes.StatusFailed:
			marker = render(styleError, "✗")
		case datatypes.StatusPaused:
			marker = render(styleWarning, "⏸")
		}
		fmt.Fprintf(w, "  %s %s: %s\n", marker, space.SpaceKey, space.Status)
	}
}
