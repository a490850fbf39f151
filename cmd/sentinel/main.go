// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL  string
	authToken  string
	jsonOutput bool

	rootCmd = &cobra.Command{
		Use:   "sentinel",
		Short: "A CLI to drive and inspect the WikiSentinel PII scanner",
		Long: `Sentinel talks to a running scanner service: start or resume scans
and follow their event stream, check scan status, and reveal audited
sensitive values when the server policy allows it.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server",
		envOr("SENTINEL_SERVER", "http://localhost:12310"),
		"Base URL of the scanner service")
	rootCmd.PersistentFlags().StringVar(&authToken, "token",
		os.Getenv("SENTINEL_TOKEN"),
		"Bearer token for the scanner API (empty when auth is disabled)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Print raw JSON instead of formatted output")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
