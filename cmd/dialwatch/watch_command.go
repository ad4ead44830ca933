package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"dialwatch/internal/stream"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <campaign-id>",
		Short: "Stream a campaign's live events until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			return ctx.client().Watch(cmd.Context(), args[0], func(evt stream.Event) error {
				printEvent(out, evt, colorize)
				return nil
			})
		},
	}
}

func printEvent(out io.Writer, evt stream.Event, colorize bool) {
	stamp := evt.Timestamp.Local().Format(time.TimeOnly)
	switch evt.Kind {
	case stream.EventConnected:
		fmt.Fprintf(out, "%s connected", stamp)
		if evt.Snapshot != nil {
			fmt.Fprintf(out, ": %s", countsSummary(evt.Snapshot.CountRecipients()))
		}
		fmt.Fprintln(out)
	case stream.EventStatusUpdate:
		for _, rec := range evt.Diff {
			fmt.Fprintf(out, "%s %s -> %s", stamp, rec.RecipientID, colorizeState(rec.State, colorize))
			if rec.Enrichment != nil {
				fmt.Fprintf(out, " (enriched, %ds)", rec.Enrichment.DurationSeconds)
			} else if rec.EnrichmentPending {
				fmt.Fprint(out, " (enrichment pending)")
			}
			fmt.Fprintln(out)
		}
	case stream.EventBatchCompleted:
		label := "campaign completed"
		if evt.Snapshot != nil && evt.Snapshot.Degraded {
			label = "campaign completed (degraded): " + evt.Snapshot.DegradedReason
		}
		if colorize {
			label = ansiGreen + label + ansiReset
		}
		fmt.Fprintf(out, "%s %s\n", stamp, label)
		if evt.Snapshot != nil {
			fmt.Fprintf(out, "%s final: %s\n", stamp, countsSummary(evt.Snapshot.CountRecipients()))
		}
	case stream.EventError:
		label := "error: " + evt.Message
		if colorize {
			label = ansiRed + label + ansiReset
		}
		fmt.Fprintf(out, "%s %s\n", stamp, label)
	}
}
