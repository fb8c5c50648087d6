package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nicktill/tinywatch/pkg/collect"
	"github.com/nicktill/tinywatch/pkg/config"
	"github.com/nicktill/tinywatch/pkg/daemonlock"
	"github.com/nicktill/tinywatch/pkg/server"
	"github.com/nicktill/tinywatch/pkg/server/monitor"
)

// rollupLockName is held by whichever process owns rollups: the daemon for
// its lifetime, or a one-shot rollup command.
const rollupLockName = "rollup"

func serveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the rollup scheduler and the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve()
		},
	}
}

func acquireRollupLock(dir string) (*daemonlock.Lock, error) {
	lock, err := daemonlock.New(dir).Acquire(rollupLockName)
	if err != nil {
		var held *daemonlock.HeldError
		if errors.As(err, &held) {
			return nil, fmt.Errorf("rollups are owned by another process (pid %d): %w", held.PID, err)
		}
		return nil, err
	}
	return lock, nil
}

func (a *app) serve() error {
	cfg := a.cfg

	lock, err := acquireRollupLock(a.lockDir())
	if err != nil {
		return err
	}
	defer lock.Release()

	backend, badgerStore, err := server.InitializeBackend(cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	p, err := server.InitializePipeline(cfg, backend, reg)
	if err != nil {
		backend.Close()
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.WithError(err).Warn("Failed to close checkpoint backend")
		}
	}()

	storageMonitor := monitor.NewStorageMonitor(cfg.DataDir, cfg.MaxStorageBytes())
	rollupMonitor := &monitor.RollupMonitor{StaleAfter: 10 * cfg.RollupInterval}
	apiHandler, exportHandler, hub := server.InitializeHandlers(p, storageMonitor)

	router := mux.NewRouter()
	server.SetupRoutes(router, apiHandler, exportHandler, storageMonitor, rollupMonitor, reg, cfg.Listen)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go hub.Run(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go server.RunRollups(ctx, p, rollupMonitor, cfg.RollupInterval, &wg)
	go server.RunRotation(ctx, p, storageMonitor, cfg.RotationInterval, &wg)
	if badgerStore != nil {
		wg.Add(1)
		go server.RunBadgerGC(ctx, badgerStore, config.BadgerGCInterval, &wg)
	}

	var batcher *collect.Batcher
	if cfg.SelfMetrics {
		batcher = collect.New(p, collect.Config{Source: collect.RuntimeSource, MaxBatchSize: 100, FlushEvery: config.RollupInterval})
		batcher.Start(ctx)
		go collect.NewRuntimeCollector(batcher, config.SelfMetricsEvery).Start(ctx)
		log.Info("Self metrics enabled (source \"runtime\")")
	}

	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      router,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("Listening on %s", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down...")
	case err = <-serveErr:
		log.WithError(err).Error("HTTP server failed")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown incomplete")
	}

	wg.Wait()
	if batcher != nil {
		_ = batcher.Stop()
	}
	log.Info("Stopped")
	return err
}
