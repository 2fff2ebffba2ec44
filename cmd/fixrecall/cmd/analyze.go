package cmd

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	fixerrors "github.com/Aman-CERP/fixrecall/internal/errors"
)

func newAnalyzeCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "analyze <error text>",
		Short: "Suggest a fix for an error based on past incidents",
		Long: `Retrieve incidents related to the error text, ask the generation
model for a suggested solution grounded in them, grade the answer and
record it in history.

Examples:
  fixrecall analyze "NullPointerException in PaymentService.charge"
  fixrecall analyze "connection reset by peer" --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd.Context(), cmd, strings.Join(args, " "), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runAnalyze(ctx context.Context, cmd *cobra.Command, query string, jsonOutput bool) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := newWriter(cmd, jsonOutput)
	if g := a.manager.Current(); (g == nil || g.Count() == 0) && !jsonOutput {
		out.Warning("The index is empty; run 'fixrecall reindex' to add past incidents")
	}

	res, err := a.analyzer.Analyze(ctx, query)
	if res == nil {
		return err
	}
	if err != nil {
		// The answer stands; only the history write failed.
		if !errors.Is(err, fixerrors.ErrPersistence) {
			return err
		}
		slog.Warn("analysis_not_recorded", slog.String("error", err.Error()))
	}
	return out.Analysis(res)
}
