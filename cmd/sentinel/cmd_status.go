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
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/WikiSentinel/services/scanner/datatypes"
	"github.com/AleutianAI/WikiSentinel/services/scanner/handlers"
)

var (
	statusSpace string

	statusCmd = &cobra.Command{
		Use:   "status [scanId]",
		Short: "Shows the status of a scan",
		Long: `Shows per-space progress, finding counts, and the aggregate risk level
of a scan. Without arguments it reports the most recent scan.

Examples:
  sentinel status
  sentinel status 4f2c61d8-...
  sentinel status --space HR`,
		Args: cobra.MaximumNArgs(1),
		Run:  runStatusCommand,
	}

	eventsTypes string

	eventsCmd = &cobra.Command{
		Use:   "events [scanId]",
		Short: "Replays the stored events of a scan",
		Long: `Prints the persisted event log of a scan in order. Use --types to
filter, e.g. --types item,scanError.`,
		Args: cobra.ExactArgs(1),
		Run:  runEventsCommand,
	}
)

func init() {
	statusCmd.Flags().StringVar(&statusSpace, "space", "", "Report the latest scan touching this space")
	eventsCmd.Flags().StringVar(&eventsTypes, "types", "", "Comma-separated event types to include")
	rootCmd.AddCommand(statusCmd, eventsCmd)
}

func runStatusCommand(cmd *cobra.Command, args []string) {
	var path string
	switch {
	case statusSpace != "":
		path = "/v1/spaces/" + url.PathEscape(statusSpace) + "/status"
	case len(args) == 1:
		path = "/v1/scans/" + url.PathEscape(args[0]) + "/status"
	default:
		path = "/v1/scans/latest/status"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := newAPIClient(serverURL, authToken)
	var status handlers.ScanStatusResponse
	if err := client.getJSON(ctx, path, &status); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if jsonOutput {
		_ = printJSON(os.Stdout, status)
		return
	}
	printStatus(os.Stdout, status)
}

func runEventsCommand(cmd *cobra.Command, args []string) {
	path := "/v1/scans/" + url.PathEscape(args[0]) + "/events"
	if eventsTypes != "" {
		path += "?types=" + url.QueryEscape(strings.TrimSpace(eventsTypes))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := newAPIClient(serverURL, authToken)
	var resp struct {
		ScanID string                `json:"scanId"`
		Events []datatypes.ScanEvent `json:"events"`
	}
	if err := client.getJSON(ctx, path, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if jsonOutput {
		_ = printJSON(os.Stdout, resp)
		return
	}
	for _, event := range resp.Events {
		fmt.Printf("%6d %s\n", event.EventSeq, formatEvent(event))
	}
	fmt.Println(render(styleMuted, fmt.Sprintf("%d event(s)", len(resp.Events))))
}
