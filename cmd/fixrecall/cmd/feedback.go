package cmd

import (
	"context"

	"github.com/spf13/cobra"

	fixerrors "github.com/Aman-CERP/fixrecall/internal/errors"
	"github.com/Aman-CERP/fixrecall/internal/feedback"
)

type feedbackOptions struct {
	chunkID    string
	analysisID int64
	rating     int
	eventID    string
	jsonOutput bool
}

func newFeedbackCmd() *cobra.Command {
	var opts feedbackOptions

	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Rate a retrieved incident as helpful or not",
		Long: `Adjust the reputation of retrieved chunks. Helpful chunks rank slightly
higher in later searches, unhelpful ones slightly lower.

Rate a single chunk with --chunk, or every chunk an analysis used with
--analysis. Passing the same --event-id twice applies the vote once.

Examples:
  fixrecall feedback --chunk 3f9a0c1d2e4b5a67 --rating +1
  fixrecall feedback --analysis 42 --rating -1 --event-id review-42`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFeedback(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.chunkID, "chunk", "", "Chunk id to rate")
	cmd.Flags().Int64Var(&opts.analysisID, "analysis", 0, "Analysis id whose chunks to rate")
	cmd.Flags().IntVar(&opts.rating, "rating", 0, "+1 (helpful) or -1 (not helpful)")
	cmd.Flags().StringVar(&opts.eventID, "event-id", "", "Idempotency key for this vote")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagsMutuallyExclusive("chunk", "analysis")
	cmd.MarkFlagsOneRequired("chunk", "analysis")
	_ = cmd.MarkFlagRequired("rating")

	return cmd
}

func runFeedback(ctx context.Context, cmd *cobra.Command, opts feedbackOptions) error {
	if opts.chunkID == "" && opts.analysisID <= 0 {
		return fixerrors.ValidationError("--analysis must be a positive id", nil)
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var outcomes []*feedback.Outcome
	if opts.chunkID != "" {
		o, err := a.adjuster.Apply(ctx, feedback.Event{EventID: opts.eventID, ChunkID: opts.chunkID, Delta: opts.rating})
		if err != nil {
			return err
		}
		outcomes = []*feedback.Outcome{o}
	} else {
		outcomes, err = a.adjuster.ApplyToAnalysis(ctx, opts.analysisID, opts.rating, opts.eventID)
		if err != nil {
			return err
		}
	}
	return newWriter(cmd, opts.jsonOutput).Feedback(outcomes)
}
