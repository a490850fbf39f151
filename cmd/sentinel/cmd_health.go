// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Checks that the scanner service is up and ready",
	Run:   runHealthCommand,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func runHealthCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := newAPIClient(serverURL, authToken)
	report := map[string]string{}

	var health struct {
		Status string `json:"status"`
	}
	if err := client.getJSON(ctx, "/health", &health); err != nil {
		fmt.Fprintf(os.Stderr, "Error: service unreachable at %s: %v\n", serverURL, err)
		os.Exit(1)
	}
	report["health"] = health.Status

	var ready struct {
		Status string `json:"status"`
	}
	if err := client.getJSON(ctx, "/ready", &ready); err != nil {
		report["ready"] = "degraded"
	} else {
		report["ready"] = ready.Status
	}

	if jsonOutput {
		_ = printJSON(os.Stdout, report)
	} else {
		fmt.Printf("%s health: %s\n", render(styleSuccess, "✓"), report["health"])
		marker := render(styleSuccess, "✓")
		if report["ready"] != "ok" {
			marker = render(styleWarning, "⚠")
		}
		fmt.Printf("%s ready:  %s\n", marker, report["ready"])
	}
	if report["ready"] != "ok" {
		os.Exit(1)
	}
}
