package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nicktill/tinywatch/pkg/rollup"
)

func rollupCmd(a *app) *cobra.Command {
	var (
		force  bool
		source string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "rollup",
		Short: "Run every tier of every source once",
		Long: `Run every tier of every source once and print what was appended.

Tiers that ran less than one interval ago are skipped unless --force is given.
Fails when the daemon (or another rollup) owns rollups.

Examples:
  watcherd rollup
  watcherd rollup --force --source ping`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lock, err := acquireRollupLock(a.lockDir())
			if err != nil {
				return err
			}
			defer lock.Release()

			p, err := a.openPipeline()
			if err != nil {
				return err
			}
			defer p.Close()

			ctx := context.Background()
			var results []rollup.Result
			if source != "" {
				results, err = p.RunSource(ctx, source, force)
			} else {
				results, err = p.RunRollups(ctx, force)
			}

			if asJSON {
				if encErr := writeJSON(cmd.OutOrStdout(), results); encErr != nil {
					return encErr
				}
			} else {
				printResults(cmd.OutOrStdout(), results)
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Ignore the per-tier throttle")
	cmd.Flags().StringVar(&source, "source", "", "Only roll up this source")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	return cmd
}

func printResults(w io.Writer, results []rollup.Result) {
	sort.SliceStable(results, func(i, j int) bool { return results[i].Source < results[j].Source })

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tTIER\tROWS\tBUCKETS\tEMPTY\tPENDING\tPRUNED\tSTATUS")
	for _, r := range results {
		status := "ok"
		if r.Throttled {
			status = "throttled"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.Source, r.Tier, len(r.Rows), r.Buckets, r.Empty, r.Pending, r.Pruned, status)
	}
	tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
