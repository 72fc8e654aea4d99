package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var sweepDays int

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete finished orders and trips older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			days := sweepDays
			if days == 0 {
				days = a.cfg.Retention.Days
			}
			res, err := a.sweeper.Sweep(ctx, days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d orders and %d trips\n", res.Orders, res.Trips)
			return nil
		})
	},
}

func init() {
	sweepCmd.Flags().IntVar(&sweepDays, "days", 0, "retention window in days (default retention.days)")
}
