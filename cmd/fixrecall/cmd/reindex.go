package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fixrecall/internal/async"
)

func newReindexCmd() *cobra.Command {
	var wait bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the index from every configured source",
		Long: `Load every configured source, embed new chunks and publish a new
index generation. Analyses already running keep the generation they
started with; the swap is atomic.

Only one reindex runs per data directory at a time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReindex(cmd.Context(), cmd, wait, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", true, "Report the finished generation; with --wait=false only the acknowledgment is printed")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runReindex(ctx context.Context, cmd *cobra.Command, wait, jsonOutput bool) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := newWriter(cmd, jsonOutput)
	reindexer := async.NewReindexer(ctx, a.rebuild)
	ack := reindexer.Trigger()

	if !wait {
		if jsonOutput {
			if err := out.JSON(ack); err != nil {
				return err
			}
		} else {
			out.Status("🔄", "Reindex started")
		}
	}

	done := make(chan struct{})
	go progressPrinter(cmd.OutOrStdout(), out, reindexer.Progress(), done)

	// The CLI process owns the run, so it always finishes before exiting.
	err = reindexer.Wait(ctx)
	close(done)
	_ = reindexer.Close()
	if err != nil {
		return err
	}
	if !wait {
		return nil
	}

	return out.Reindex(a.lastRun.Load())
}
