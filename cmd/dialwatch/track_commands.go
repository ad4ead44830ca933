package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTrackCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "track <campaign-id>",
		Short: "Start tracking a campaign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			campaignID := args[0]
			if err := ctx.client().Track(cmd.Context(), campaignID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tracking campaign %s\n", campaignID)
			return nil
		},
	}
}

func newUntrackCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "untrack <campaign-id>",
		Short: "Stop tracking a campaign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			campaignID := args[0]
			if err := ctx.client().Untrack(cmd.Context(), campaignID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stopped tracking campaign %s\n", campaignID)
			return nil
		},
	}
}

func newRefreshCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <campaign-id>",
		Short: "Request an immediate poll cycle for a campaign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			campaignID := args[0]
			if err := ctx.client().Refresh(cmd.Context(), campaignID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Refresh scheduled for campaign %s\n", campaignID)
			return nil
		},
	}
}
