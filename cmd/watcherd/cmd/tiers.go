package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nicktill/tinywatch/pkg/tier"
)

func tiersCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "tiers [source]",
		Short: "Show the tier table, with rollup file status for a source",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var infos []tier.Info
			if len(args) == 0 {
				infos = tier.Default().Info(nil)
			} else {
				p, err := a.openPipeline()
				if err != nil {
					return err
				}
				defer p.Close()
				if infos, err = p.TiersInfo(args[0]); err != nil {
					return err
				}
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), infos)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TIER\tINTERVAL\tRETENTION\tGZIP\tFILE\tSIZE")
			for _, info := range infos {
				file := "-"
				if info.FileExists {
					file = info.Path
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%d\n",
					info.Name, info.Interval, info.Retention, info.Compressed, file, info.FileSize)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}
