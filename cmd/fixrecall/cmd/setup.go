package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	fixerrors "github.com/Aman-CERP/fixrecall/internal/errors"
	"github.com/Aman-CERP/fixrecall/internal/lifecycle"
)

func newSetupCmd() *cobra.Command {
	var (
		jsonOutput bool
		noPull     bool
		wait       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Pull the Ollama models the configuration needs",
		Long: `Check that every configured Ollama server answers and pull any missing
generation, evaluation or embedding model.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSetup(cmd.Context(), cmd, jsonOutput, !noPull, wait)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&noPull, "no-pull", false, "Only check; fail when a model is missing")
	cmd.Flags().DurationVar(&wait, "wait", 0, "Wait this long for Ollama to start answering")
	return cmd
}

func runSetup(ctx context.Context, cmd *cobra.Command, jsonOutput, autoPull bool, wait time.Duration) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := newWriter(cmd, jsonOutput)

	opts := lifecycle.EnsureOpts{AutoPull: autoPull, WaitTimeout: wait}
	if !jsonOutput {
		opts.ProgressFunc = func(p lifecycle.PullProgress) {
			if p.Total > 0 {
				out.Progress(int(p.Completed/1024), int(p.Total/1024), p.Model+": "+p.Status)
			}
		}
	}

	states, err := lifecycle.Ensure(ctx, lifecycle.Requirements(cfg), opts)
	if err != nil {
		var notRunning *lifecycle.NotRunningError
		var missing *lifecycle.ModelNotFoundError
		switch {
		case errors.As(err, &notRunning):
			return fixerrors.GenerationFailure(err.Error(), err).
				WithSuggestion("Start Ollama with 'ollama serve' or set generation.host")
		case errors.As(err, &missing):
			return fixerrors.ConfigError(err.Error(), err).
				WithSuggestion("Run 'fixrecall setup' without --no-pull, or 'ollama pull " + missing.Model + "'")
		}
		return err
	}

	if out.JSONMode() {
		return out.JSON(states)
	}
	for _, s := range states {
		if s.Pulled {
			out.Successf("%s: pulled %s", s.Role, s.Model)
		} else {
			out.Successf("%s: %s ready", s.Role, s.Model)
		}
	}
	return nil
}
