package cmd

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	fixerrors "github.com/Aman-CERP/fixrecall/internal/errors"
)

func newHistoryCmd() *cobra.Command {
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "history [analysis-id]",
		Short: "List past analyses, or show one in full",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := int64(0)
			if len(args) == 1 {
				n, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil || n <= 0 {
					return fixerrors.ValidationError("analysis id must be a positive integer, got "+args[0], err)
				}
				id = n
			}
			return runHistory(cmd.Context(), cmd, id, limit, jsonOutput)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of analyses")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runHistory(ctx context.Context, cmd *cobra.Command, id int64, limit int, jsonOutput bool) error {
	st, err := openStores()
	if err != nil {
		return err
	}
	defer st.Close()

	out := newWriter(cmd, jsonOutput)
	if id > 0 {
		rec, err := st.history.GetAnalysis(ctx, id)
		if err != nil {
			return err
		}
		return out.Record(rec)
	}

	records, err := st.history.GetHistory(ctx, limit)
	if err != nil {
		return err
	}
	return out.History(records)
}
