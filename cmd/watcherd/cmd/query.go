package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/nicktill/tinywatch/pkg/rollup"
)

// errNoData makes the command exit non-zero after printing a result with
// success=false.
var errNoData = errors.New("no rollup data")

func queryCmd(a *app) *cobra.Command {
	var (
		hours      float64
		tierName   string
		start, end int64
	)

	cmd := &cobra.Command{
		Use:   "query <source>",
		Short: "Print rollup rows of a source as JSON",
		Long: `Print rollup rows of a source as JSON.

With --hours the tier is chosen from the window. With --tier, --start and
--end are epoch seconds and default to the tier's retention window.

Examples:
  watcherd query ping --hours 6
  watcherd query ping --tier 30min --start 1714521600`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.openPipeline()
			if err != nil {
				return err
			}
			defer p.Close()

			ctx := context.Background()
			var res *rollup.ReadResult
			if tierName != "" {
				res, err = p.QueryTier(ctx, args[0], tierName, start, end, nil)
			} else {
				res, err = p.Query(ctx, args[0], hours)
			}
			if err != nil {
				return err
			}

			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return errNoData
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&hours, "hours", 1, "Lookback window in hours")
	cmd.Flags().StringVar(&tierName, "tier", "", "Read this tier instead of choosing by --hours")
	cmd.Flags().Int64Var(&start, "start", 0, "Start, epoch seconds (with --tier)")
	cmd.Flags().Int64Var(&end, "end", 0, "End, epoch seconds (with --tier)")
	return cmd
}
