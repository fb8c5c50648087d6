package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func resetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <source> <tier>",
		Short: "Forget a tier's checkpoint so it is rebuilt from the raw log",
		Long: `Forget a tier's checkpoint so the next rollup rebuilds it from whatever raw
samples are still retained. Existing rows of the tier are kept, so rows may be
duplicated unless the tier's rollup log is removed as well.`,
		Args: cobra.ExactArgs(2),
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

			if err := p.ResetTier(context.Background(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %s/%s.\n", args[0], args[1])
			return nil
		},
	}
}
