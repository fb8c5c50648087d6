package cmd

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func rotateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Drop raw samples older than each source's raw retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.openPipeline()
			if err != nil {
				return err
			}
			defer p.Close()

			results, err := p.RotateRaw(context.Background())

			names := make([]string, 0, len(results))
			for name := range results {
				names = append(names, name)
			}
			sort.Strings(names)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SOURCE\tPURGED\tKEPT")
			for _, name := range names {
				fmt.Fprintf(tw, "%s\t%d\t%d\n", name, results[name].Purged, results[name].Kept)
			}
			tw.Flush()
			return err
		},
	}
}
