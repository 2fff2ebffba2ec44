package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fixrecall/internal/embed"
	fixerrors "github.com/Aman-CERP/fixrecall/internal/errors"
	"github.com/Aman-CERP/fixrecall/internal/llm"
	"github.com/Aman-CERP/fixrecall/internal/preflight"
)

func newDoctorCmd() *cobra.Command {
	var (
		jsonOutput bool
		verbose    bool
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the data directory, sources and models",
		Long: `Run preflight checks without opening the index: the data directory is
writable with enough free space, every local source exists, GitHub token
variables are set and the Ollama models answer.

Exits non-zero when a required check fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd.Context(), cmd, jsonOutput, verbose, timeout)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show details for each check")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "Timeout for each model probe")
	return cmd
}

func runDoctor(ctx context.Context, cmd *cobra.Command, jsonOutput, verbose bool, timeout time.Duration) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	checker := preflight.New(
		preflight.WithOutput(cmd.OutOrStdout()),
		preflight.WithVerbose(verbose),
		preflight.WithProbeTimeout(timeout),
	)

	generator, err := llm.NewGeneratorFromConfig(cfg.Generation)
	if err != nil {
		return err
	}
	probes := []preflight.Probe{
		{Role: "generation", Model: generator, Required: true},
	}
	judge, err := llm.NewJudgeFromConfig(cfg.Evaluation)
	if err != nil {
		return err
	}
	evaluation := preflight.Probe{Role: "evaluation"}
	if judge != nil {
		evaluation.Model = judge
	}
	probes = append(probes, evaluation)

	results := checker.RunAll(ctx, cfg, probes...)
	results = append(results, checkEmbedder(ctx, cfg.Embeddings.Provider, func(ctx context.Context) (embed.Embedder, error) {
		return embed.New(ctx, cfg.Embeddings, cfg.Dense.Dimensions)
	}))

	if jsonOutput {
		err = newWriter(cmd, true).JSON(map[string]any{
			"status": checker.SummaryStatus(results),
			"checks": results,
		})
	} else {
		checker.PrintResults(results)
	}
	if err != nil {
		return err
	}

	if checker.HasCriticalFailures(results) {
		var failed []string
		for _, r := range results {
			if r.IsCritical() {
				failed = append(failed, r.Name)
			}
		}
		return fixerrors.New(fixerrors.ErrCodeInternal,
			fmt.Sprintf("preflight failed: %s", strings.Join(failed, ", ")), nil).
			WithSuggestion("Fix the failed checks above and run 'fixrecall doctor' again")
	}
	return nil
}

// checkEmbedder reports whether the configured embedder can be built.
// Analysis still works without it, so a failure only warns.
func checkEmbedder(ctx context.Context, provider string, build func(context.Context) (embed.Embedder, error)) preflight.CheckResult {
	result := preflight.CheckResult{Name: "embeddings"}
	e, err := build(ctx)
	if err != nil {
		result.Status = preflight.StatusWarn
		result.Message = "falling back to static embeddings"
		result.Details = err.Error()
		return result
	}
	defer func() { _ = e.Close() }()

	result.Status = preflight.StatusPass
	result.Message = fmt.Sprintf("%s (%s, %d dims)", e.ModelName(), provider, e.Dimensions())
	return result
}
