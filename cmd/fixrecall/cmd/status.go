package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fixrecall/internal/index"
	"github.com/Aman-CERP/fixrecall/internal/output"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index, model and source status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	report := &output.StatusReport{
		DataDir:   a.cfg.Storage.DataDir,
		Sources:   sourceNames(a.cfg),
		Generator: a.generator.ModelName(),
	}
	if g := a.manager.Current(); g != nil {
		report.Generation = g.ID
		report.BuiltAt = g.BuiltAt
		report.Chunks = g.Count()
		report.DenseReady = g.DenseReady()
		check := index.Check(g)
		report.Consistent = check.Healthy()
		for _, issue := range check.Inconsistencies {
			report.Issues = append(report.Issues, issue.Type.String()+": "+issue.Details)
		}
	}
	if a.judge != nil {
		report.Evaluator = a.judge.ModelName()
	}

	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	report.GeneratorOK = a.generator.Available(probeCtx)

	return newWriter(cmd, jsonOutput).Overview(report)
}
