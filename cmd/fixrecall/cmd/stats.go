package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fixrecall/internal/output"
)

func newStatsCmd() *cobra.Command {
	var jsonOutput bool
	var days int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show answer quality and usage statistics",
		Long: `Display aggregate statistics:
  - Number of analyses and how many were evaluated
  - Average faithfulness and relevancy
  - Outcome and degraded-mode counts for the last --days days
  - Top query terms and queries that found no context`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd.Context(), cmd, days, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&days, "days", 7, "Number of days of query telemetry to include")
	return cmd
}

func runStats(ctx context.Context, cmd *cobra.Command, days int, jsonOutput bool) error {
	st, err := openStores()
	if err != nil {
		return err
	}
	defer st.Close()

	hs, err := st.history.GetStats(ctx)
	if err != nil {
		return err
	}
	qs, err := st.metricsStore.Summary(days, time.Now())
	if err != nil {
		return err
	}
	return newWriter(cmd, jsonOutput).Stats(&output.StatsReport{History: hs, Queries: qs})
}
