package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mattjoyce/tapemaint/internal/api"
	"github.com/mattjoyce/tapemaint/internal/config"
	"github.com/mattjoyce/tapemaint/internal/events"
	"github.com/mattjoyce/tapemaint/internal/lock"
	"github.com/mattjoyce/tapemaint/internal/log"
	"github.com/mattjoyce/tapemaint/internal/maintenance"
	"github.com/mattjoyce/tapemaint/internal/objectstore"
	"github.com/mattjoyce/tapemaint/internal/repack"
	"github.com/mattjoyce/tapemaint/internal/schedstore"
)

var errInterrupted = errors.New("maintenance runner interrupted")

func startCmd(v *viper.Viper) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the maintenance daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
			if code := runDaemon(cmd.Context(), cfg, log.Get(), once); code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single cycle and exit")
	return cmd
}

// buildRoutines registers the enabled routines in execution order.
func buildRoutines(cfg *config.Config, b *backends, gc *objectstore.GarbageCollector, logger *slog.Logger) []maintenance.Routine {
	rt := cfg.Routines
	var routines []maintenance.Routine

	if rt.GarbageCollector.Enabled {
		routines = append(routines, maintenance.NewGCRoutine(gc, logger))
	}
	if rt.QueueCleanup.Enabled {
		routines = append(routines, maintenance.NewQueueCleanupRoutines(b.catalogue, b.sched, rt.QueueCleanup.BatchSize, logger)...)
	}
	if rt.FailedQueueRetention.Enabled {
		rc := rt.FailedQueueRetention
		routines = append(routines, maintenance.NewFailedQueueRetentionRoutine(b.sched, rc.BatchSize, rc.InactiveTimeLimit, logger))
	}
	if rt.MountFetchRetention.Enabled {
		rc := rt.MountFetchRetention
		routines = append(routines, maintenance.NewMountFetchRetentionRoutine(b.sched, rc.BatchSize, rc.InactiveTimeLimit, logger))
	}
	if rt.RepackExpand.Enabled {
		expander := repack.NewExpander(b.catalogue, b.sched, rt.RepackExpand.CatalogueCacheTTL)
		routines = append(routines, maintenance.NewRepackExpandRoutine(b.sched, expander, rt.RepackExpand.MaxRequestsToExpand, logger))
	}
	if rt.RepackReport.Enabled {
		rc := rt.RepackReport
		routines = append(routines, maintenance.NewRepackReportRoutine(maintenance.ReportsFrom(b.sched), rc.SoftTimeout, rc.BatchSize, logger))
	}
	return routines
}

// runDaemon owns the daemon lifecycle and returns the process exit code.
func runDaemon(parent context.Context, cfg *config.Config, base *slog.Logger, once bool) int {
	if parent == nil {
		parent = context.Background()
	}
	logger := base.With("component", "main")
	logger.Info("tapemaintd starting", "version", version, "name", cfg.Service.Name)

	pidLock, err := lock.AcquirePIDLock(cfg.Service.PIDFile)
	if err != nil {
		logger.Error("Failed to acquire PID lock (another instance may be running)", "path", cfg.Service.PIDFile, "error", err)
		return 1
	}
	defer func() { _ = pidLock.Release() }()
	logger.Info("Acquired PID lock", "path", pidLock.Path())

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	b, err := openBackends(ctx, cfg,
		schedstore.WithReportReclaimDelay(cfg.Routines.RepackReport.ReclaimDelay),
		schedstore.WithExpandReclaimDelay(cfg.Routines.RepackExpand.ReclaimDelay),
		schedstore.WithLogger(base.With("component", "schedstore")),
	)
	if err != nil {
		logger.Error("Failed to open backends", "error", err)
		return 1
	}
	defer func() { _ = b.Close() }()

	pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
	err = b.Ping(pingCtx)
	pingCancel()
	if err != nil {
		logger.Error("Backend connectivity check failed", "error", err)
		return 1
	}
	logger.Info("Backends opened",
		"catalogue", cfg.Backends.CataloguePath,
		"scheduler", cfg.Backends.SchedulerPath,
		"objectstore", cfg.Backends.ObjectStorePath,
	)

	gc := objectstore.NewGarbageCollector(b.objects, cfg.Routines.GarbageCollector.AgentTimeout)
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if err := gc.Close(closeCtx); err != nil {
			logger.Warn("Failed to unregister object store agent", "error", err)
		}
	}()

	hub := events.NewHub(256)
	runner := maintenance.NewRunner(cfg.Service.CycleInterval, base,
		maintenance.WithHardTimeout(cfg.Routines.HardTimeout),
		maintenance.WithEvents(hub),
	)
	for _, r := range buildRoutines(cfg, b, gc, base) {
		runner.Register(r)
	}

	if once {
		runner.RunCycle(ctx)
		logger.Info("Single cycle complete")
		return 0
	}

	exitCode := maintenance.ExitClean
	var g run.Group
	{
		g.Add(func() error {
			exitCode = runner.Run(ctx)
			if exitCode != maintenance.ExitClean {
				return errInterrupted
			}
			return nil
		}, func(error) {
			runner.Stop()
		})
	}
	{
		sigCh := make(chan os.Signal, 2)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		done := make(chan struct{})
		g.Add(func() error {
			defer signal.Stop(sigCh)
			select {
			case sig := <-sigCh:
				logger.Info("Received shutdown signal", "signal", sig.String())
				runner.Stop()
			case <-done:
				return nil
			}
			// A second signal abandons the cycle in progress.
			select {
			case sig := <-sigCh:
				logger.Warn("Received second signal, abandoning current cycle", "signal", sig.String())
				cancel()
			case <-done:
			}
			return nil
		}, func(error) {
			close(done)
		})
	}
	if cfg.API.Enabled {
		apiServer := api.New(api.Config{Listen: cfg.API.Listen, APIKey: cfg.API.APIKey}, runner, b.sched, hub, base)
		apiCtx, apiCancel := context.WithCancel(ctx)
		g.Add(func() error {
			if err := apiServer.Start(apiCtx); err != nil {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		}, func(error) {
			apiCancel()
		})
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("tapemaintd running (press Ctrl+C to stop)")
	if err := g.Run(); err != nil && !errors.Is(err, errInterrupted) {
		logger.Error("Component failed", "error", err)
		return 1
	}
	logger.Info("tapemaintd stopped", "exit_code", exitCode)
	return exitCode
}
