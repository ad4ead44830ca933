package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"dialwatch/internal/snapshot"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var showArchived bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status [campaign-id]",
		Short: "Show daemon status or one campaign's merged snapshot",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runCampaignStatus(ctx, cmd, args[0], asJSON)
			}
			return runDaemonStatus(ctx, cmd, showArchived, asJSON)
		},
	}

	cmd.Flags().BoolVar(&showArchived, "archived", false, "Include recently archived campaigns")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit raw JSON instead of tables")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runDaemonStatus(ctx *commandContext, cmd *cobra.Command, showArchived, asJSON bool) error {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	status, err := ctx.client().Status(cmd.Context())
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd, status)
	}

	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintf(out, "  Running: %s\n", yesNo(status.Running))
	if status.ArchiveDBPath != "" {
		fmt.Fprintf(out, "  Archive: %s\n", status.ArchiveDBPath)
	}
	fmt.Fprintf(out, "  Lock:    %s\n", status.LockFilePath)
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Tracked campaigns", colorize) {
		fmt.Fprintln(out, line)
	}
	if len(status.Tracked) == 0 {
		fmt.Fprintln(out, "  (none)")
	} else {
		rows := make([][]string, 0, len(status.Tracked))
		for _, info := range status.Tracked {
			rows = append(rows, []string{
				info.CampaignID,
				info.Name,
				stateLabel(info.State),
				yesNo(info.Degraded),
				fmt.Sprintf("%d/%d", info.Counts.Completed+info.Counts.Failed, info.Counts.Total),
				fmt.Sprintf("%d", info.Counts.Enriched),
			})
		}
		fmt.Fprintln(out, renderTable(
			[]column{
				textCol("Campaign"), textCol("Name"), textCol("State"),
				textCol("Degraded"), numCol("Settled"), numCol("Enriched"),
			},
			rows,
		))
	}

	if !showArchived {
		return nil
	}

	list, err := ctx.client().Campaigns(cmd.Context(), true)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	for _, line := range renderSectionHeader("Archived campaigns", colorize) {
		fmt.Fprintln(out, line)
	}
	if len(list.Archived) == 0 {
		fmt.Fprintln(out, "  (none)")
		return nil
	}
	rows := make([][]string, 0, len(list.Archived))
	for _, snap := range list.Archived {
		counts := snap.CountRecipients()
		rows = append(rows, []string{
			snap.CampaignID,
			snap.Name,
			overallLabel(snap),
			fmt.Sprintf("%d", counts.Total),
			snap.ComputedAt.Local().Format(time.RFC3339),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]column{
			textCol("Campaign"), textCol("Name"), textCol("Outcome"),
			numCol("Recipients"), textCol("Finished"),
		},
		rows,
	))
	return nil
}

func runCampaignStatus(ctx *commandContext, cmd *cobra.Command, campaignID string, asJSON bool) error {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	snap, err := ctx.client().Snapshot(cmd.Context(), campaignID)
	if errors.Is(err, ErrSnapshotPending) {
		fmt.Fprintf(out, "Campaign %s is tracked; waiting for the first poll cycle\n", campaignID)
		return nil
	}
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd, snap)
	}

	title := snap.Name
	if strings.TrimSpace(title) == "" {
		title = snap.CampaignID
	}
	for _, line := range renderSectionHeader(title, colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintf(out, "  Campaign: %s\n", snap.CampaignID)
	if snap.AgentID != "" {
		fmt.Fprintf(out, "  Agent:    %s\n", snap.AgentID)
	}
	fmt.Fprintf(out, "  State:    %s\n", overallLabel(snap))
	if snap.Degraded && snap.DegradedReason != "" {
		fmt.Fprintf(out, "  Reason:   %s\n", snap.DegradedReason)
	}
	fmt.Fprintf(out, "  Counts:   %s\n", countsSummary(snap.CountRecipients()))
	fmt.Fprintf(out, "  As of:    %s\n", snap.ComputedAt.Local().Format(time.RFC3339))
	fmt.Fprintln(out)

	rows := make([][]string, 0, len(snap.Recipients))
	for _, rec := range snap.Recipients {
		rows = append(rows, []string{
			rec.RecipientID,
			rec.PhoneNumber,
			colorizeState(rec.State, colorize),
			enrichmentSummary(rec),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]column{textCol("Recipient"), textCol("Phone"), textCol("State"), textCol("Enrichment")},
		rows,
	))
	return nil
}

func enrichmentSummary(rec snapshot.Recipient) string {
	switch {
	case rec.Enrichment != nil:
		summary := strings.TrimSpace(rec.Enrichment.Summary)
		if len(summary) > 48 {
			summary = summary[:45] + "..."
		}
		return fmt.Sprintf("%ds: %s", rec.Enrichment.DurationSeconds, summary)
	case rec.EnrichmentPending:
		return "pending"
	default:
		return "-"
	}
}
