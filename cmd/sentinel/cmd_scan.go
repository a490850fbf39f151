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
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/WikiSentinel/services/scanner/datatypes"
)

var (
	scanAll bool

	scanCmd = &cobra.Command{
		Use:   "scan [spaceKey]",
		Short: "Starts a scan and follows its event stream",
		Long: `Starts a PII scan on the server and streams events until the scan
completes or Ctrl-C interrupts it. Interrupting disconnects the stream;
the server checkpoints its position so 'sentinel resume' can pick the
scan up later.

Examples:
  sentinel scan HR
  sentinel scan --all
  sentinel scan --all --json > events.jsonl`,
		Args: cobra.MaximumNArgs(1),
		Run:  runScanCommand,
	}

	resumeCmd = &cobra.Command{
		Use:   "resume [scanId]",
		Short: "Resumes an interrupted scan from its last checkpoint",
		Args:  cobra.ExactArgs(1),
		Run:   runResumeCommand,
	}

	pauseCmd = &cobra.Command{
		Use:   "pause [scanId]",
		Short: "Marks a scan paused so it will not be resumed",
		Args:  cobra.ExactArgs(1),
		Run:   runPauseCommand,
	}
)

func init() {
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "Scan every space instead of a single one")
	rootCmd.AddCommand(scanCmd, resumeCmd, pauseCmd)
}

func runScanCommand(cmd *cobra.Command, args []string) {
	var path string
	switch {
	case scanAll:
		path = "/v1/scans/all/stream"
	case len(args) == 1:
		path = "/v1/scans/space/" + url.PathEscape(args[0]) + "/stream"
	default:
		fmt.Fprintln(os.Stderr, "Error: pass a space key or --all")
		os.Exit(1)
	}
	followStream(path)
}

func runResumeCommand(cmd *cobra.Command, args []string) {
	followStream("/v1/scans/" + url.PathEscape(args[0]) + "/resume")
}

func runPauseCommand(cmd *cobra.Command, args []string) {
	client := newAPIClient(serverURL, authToken)
	var resp struct {
		ScanID string `json:"scanId"`
		Status string `json:"status"`
	}
	if err := client.postJSON(context.Background(), "/v1/scans/"+url.PathEscape(args[0])+"/pause", nil, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if jsonOutput {
		_ = printJSON(os.Stdout, resp)
		return
	}
	fmt.Printf("Scan %s is now %s.\n", resp.ScanID, resp.Status)
}

// followStream opens a scan stream and prints events until the stream
// ends. SIGINT cancels the request, which the server treats as a scan
// interruption: it flushes and checkpoints, leaving the scan resumable.
func followStream(path string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := newAPIClient(serverURL, authToken)
	body, scanID, err := client.openStream(ctx, path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer body.Close()

	if !jsonOutput && scanID != "" {
		fmt.Println(render(styleMuted, "scan id: "+scanID))
	}

	err = readEventStream(body, func(event datatypes.ScanEvent) error {
		if jsonOutput {
			if event.Type == datatypes.EventKeepalive {
				return nil
			}
			return printJSON(os.Stdout, event)
		}
		fmt.Println(formatEvent(event))
		return nil
	})
	if err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Error: stream failed: %v\n", err)
		os.Exit(1)
	}
	if ctx.Err() != nil && !jsonOutput && scanID != "" {
		fmt.Println(render(styleWarning,
			fmt.Sprintf("interrupted; continue with: sentinel resume %s", scanID)))
	}
}
