package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nicktill/tinywatch/pkg/pipeline"
	"github.com/nicktill/tinywatch/pkg/server"
)

// app carries the loaded configuration to subcommands.
type app struct {
	v          *viper.Viper
	configFile string
	cfg        server.Config
}

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "watcherd",
		Short: "watcherd stores metric samples and rolls them up into tiered averages.",
		Long: `watcherd appends raw metric samples to per-source logs and incrementally
rolls them up into 1-minute, 5-minute, 30-minute and 2-hour tiers.

Quick start:
  watcherd serve --config watcherd.yaml     # Run the daemon and HTTP API
  watcherd rollup --force                   # Run every tier once, ignoring throttles
  watcherd query ping --hours 24            # Read a day of ping rollups
  watcherd tiers ping                       # Show tier files of a source`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "Path to a YAML config file")
	flags.String("data-dir", "", "Data directory (overrides data_dir)")
	flags.String("log-level", "", "Log level: debug, info, warn, error (overrides log_level)")
	_ = a.v.BindPFlag("data_dir", flags.Lookup("data-dir"))
	_ = a.v.BindPFlag("log_level", flags.Lookup("log-level"))

	cmd.AddCommand(
		serveCmd(a),
		rollupCmd(a),
		rotateCmd(a),
		tiersCmd(a),
		queryCmd(a),
		resetCmd(a),
		collectCmd(a),
	)
	return cmd
}

func (a *app) load() error {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := server.LoadConfig(a.v, a.configFile)
	if err != nil {
		return err
	}
	if err := server.ParseLogLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	a.cfg = cfg
	return nil
}

// openPipeline builds a pipeline without prometheus instruments for
// one-shot commands. The checkpoint backend is only opened by commands that
// read or write checkpoints.
func (a *app) openPipeline() (*pipeline.Pipeline, error) {
	backend := server.InitializeLazyBackend(a.cfg)
	p, err := server.InitializePipeline(a.cfg, backend, nil)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return p, nil
}

func (a *app) lockDir() string {
	if a.cfg.LockDir != "" {
		return a.cfg.LockDir
	}
	return a.cfg.DataDir
}
