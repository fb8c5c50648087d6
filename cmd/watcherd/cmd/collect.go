package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nicktill/tinywatch/pkg/collect"
	"github.com/nicktill/tinywatch/pkg/config"
)

func collectCmd(a *app) *cobra.Command {
	var (
		remote   string
		apiKey   string
		every    time.Duration
		flushing time.Duration
	)

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Sample this process's Go runtime into the runtime source",
		Long: `Sample Go runtime statistics into the "runtime" source until interrupted.

Samples go to the local data directory, or with --remote to a watcherd
daemon over HTTP. The receiving side needs self_metrics enabled.

Examples:
  watcherd collect --remote http://127.0.0.1:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var sink collect.Sink
			if remote != "" {
				s, err := collect.NewHTTPSink(remote, apiKey)
				if err != nil {
					return err
				}
				sink = s
			} else {
				a.cfg.SelfMetrics = true
				p, err := a.openPipeline()
				if err != nil {
					return err
				}
				defer p.Close()
				sink = p
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			b := collect.New(sink, collect.Config{Source: collect.RuntimeSource, FlushEvery: flushing})
			b.Start(ctx)
			log.Infof("Collecting runtime samples every %v", every)
			collect.NewRuntimeCollector(b, every).Start(ctx)
			return b.Stop()
		},
	}

	cmd.Flags().StringVar(&remote, "remote", "", "Base URL of a watcherd daemon")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Bearer token for --remote")
	cmd.Flags().DurationVar(&every, "every", config.SelfMetricsEvery, "Sampling interval")
	cmd.Flags().DurationVar(&flushing, "flush-every", config.RollupInterval, "Batch flush interval")
	return cmd
}
