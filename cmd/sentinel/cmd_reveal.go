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
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/WikiSentinel/services/scanner/datatypes"
)

var (
	revealScanID  string
	revealPageID  string
	revealPurpose string

	revealCmd = &cobra.Command{
		Use:   "reveal",
		Short: "Reveals the sensitive values found on a page",
		Long: `Asks the server to decrypt the sensitive values a scan found on one
page. The server only honors this when its reveal policy allows it, and
every reveal is written to the scan's audit trail with the purpose you
give here.

Examples:
  sentinel reveal --scan 4f2c61d8-... --page 1001 --purpose "incident INC-42"`,
		Run: runRevealCommand,
	}

	auditCmd = &cobra.Command{
		Use:   "audit [scanId]",
		Short: "Lists the reveal audit trail of a scan",
		Args:  cobra.ExactArgs(1),
		Run:   runAuditCommand,
	}
)

func init() {
	revealCmd.Flags().StringVar(&revealScanID, "scan", "", "Scan id (required)")
	revealCmd.Flags().StringVar(&revealPageID, "page", "", "Page id (required)")
	revealCmd.Flags().StringVar(&revealPurpose, "purpose", "", "Why the values are needed; recorded in the audit trail (required)")
	_ = revealCmd.MarkFlagRequired("scan")
	_ = revealCmd.MarkFlagRequired("page")
	_ = revealCmd.MarkFlagRequired("purpose")
	rootCmd.AddCommand(revealCmd, auditCmd)
}

func runRevealCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := newAPIClient(serverURL, authToken)
	req := map[string]string{
		"scanId":  revealScanID,
		"pageId":  revealPageID,
		"purpose": revealPurpose,
	}
	var resp struct {
		ScanID string                `json:"scanId"`
		PageID string                `json:"pageId"`
		Events []datatypes.ScanEvent `json:"events"`
	}
	if err := client.postJSON(ctx, "/v1/reveal", req, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if jsonOutput {
		_ = printJSON(os.Stdout, resp)
		return
	}

	fmt.Println(render(styleTitle, fmt.Sprintf("Page %s (scan %s)", resp.PageID, resp.ScanID)))
	total := 0
	for _, event := range resp.Events {
		if event.Result == nil {
			continue
		}
		for _, entity := range event.Result.DetectedEntities {
			total++
			fmt.Printf("  %s %s (%.0f%%)\n",
				render(styleWarning, entity.PiiType+":"), entity.SensitiveValue, entity.Confidence*100)
			if entity.SensitiveContext != "" {
				fmt.Printf("    %s\n", render(styleMuted, entity.SensitiveContext))
			}
		}
	}
	if total == 0 {
		fmt.Println(render(styleMuted, "  no findings on this page"))
	}
	fmt.Println(render(styleMuted, "This access was recorded in the audit trail."))
}

func runAuditCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := newAPIClient(serverURL, authToken)
	var resp struct {
		ScanID  string                  `json:"scanId"`
		Records []datatypes.AuditRecord `json:"records"`
	}
	if err := client.getJSON(ctx, "/v1/scans/"+url.PathEscape(args[0])+"/audit", &resp); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if jsonOutput {
		_ = printJSON(os.Stdout, resp)
		return
	}
	if len(resp.Records) == 0 {
		fmt.Println(render(styleMuted, "no reveals recorded for this scan"))
		return
	}
	fmt.Println(render(styleTitle, "Reveal history for scan "+resp.ScanID))
	for _, record := range resp.Records {
		fmt.Printf("  %s  %d value(s)  %q\n",
			record.AccessedAt.Format("2006-01-02 15:04:05"), record.PiiCount, record.Purpose)
	}
}
