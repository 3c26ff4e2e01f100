package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/plexsphere/uplinkd/internal/agent"
	"github.com/plexsphere/uplinkd/internal/gateway"
	"github.com/plexsphere/uplinkd/internal/reconcile"
	"github.com/plexsphere/uplinkd/internal/route"
	"github.com/plexsphere/uplinkd/internal/status"
)

const (
	// drainTimeout is the maximum time for graceful shutdown.
	drainTimeout = 30 * time.Second

	// flushTimeout bounds route withdrawal on shutdown.
	flushTimeout = 15 * time.Second
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Start the failover controller",
	Long: "Start the uplinkd daemon. Verifies the routing backend, then probes every\n" +
		"configured interface on its check interval and keeps its default route in\n" +
		"line with the result. SIGHUP forces an immediate cycle.",
	RunE: runUp,
}

func init() {
	rootCmd.AddCommand(upCmd)
}

func runUp(cmd *cobra.Command, _ []string) error {
	// 1. Parse config.
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("uplinkd up: %w", err)
	}

	// 2. Set up structured logger.
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting uplinkd",
		"version", buildVersion,
		"backend", cfg.Routing.Backend,
	)

	// 3. Open the OS facilities.
	plat, err := newPlatform(cfg, true, logger)
	if err != nil {
		return fmt.Errorf("uplinkd up: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	if err := serve(ctx, cfg, plat, hup, logger); err != nil {
		return fmt.Errorf("uplinkd up: %w", err)
	}
	logger.Info("uplinkd stopped")
	return nil
}

// serve runs the controller on plat until ctx is cancelled. A backend that
// fails VerifyAvailable ends serve before any interface is probed.
func serve(ctx context.Context, cfg *agent.AgentConfig, plat *platform, hup <-chan os.Signal, logger *slog.Logger) error {
	ifaces, err := cfg.Uplinks(plat.lister)
	if err != nil {
		return err
	}

	if err := plat.backend.VerifyAvailable(ctx); err != nil {
		logger.Error("routing backend unavailable", "backend", plat.backend.Name(), "error", err)
		return err
	}

	selector := gateway.NewSelector(plat.links, plat.directory, plat.prober, logger)
	reconciler := reconcile.NewReconciler(selector, plat.backend, ifaces, cfg.Reconcile, logger)
	reconciler.RegisterObserver(status.NewWriter(cfg.DataDir, plat.backend, logger).Observe)

	for _, iface := range ifaces {
		logger.Info("monitoring interface",
			"interface", iface.Name,
			"metric", iface.Metric,
			"check_interval", iface.CheckInterval,
			"target", iface.TargetIP.String(),
		)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := reconciler.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		watchReload(gctx, hup, reconciler, logger)
		return nil
	})

	// Wait for shutdown signal or a failed goroutine.
	<-gctx.Done()
	logger.Info("shutting down", "reason", context.Cause(gctx))

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	var runErr error
	select {
	case runErr = <-done:
	case <-time.After(drainTimeout):
		logger.Warn("drain timeout exceeded, forcing exit")
	}

	shutdownRoutes(plat.backend, cfg.Routing.WithdrawOnShutdown, logger)
	return runErr
}

// triggerer is the part of the reconciler driven by SIGHUP.
type triggerer interface {
	TriggerReconcile()
}

func watchReload(ctx context.Context, hup <-chan os.Signal, t triggerer, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			logger.Info("SIGHUP received, triggering cycle")
			t.TriggerReconcile()
		}
	}
}

// shutdownRoutes withdraws every route installed by this process when
// withdraw is set. Otherwise routes stay in place for the next start.
func shutdownRoutes(backend route.Backend, withdraw bool, logger *slog.Logger) {
	if !withdraw {
		logger.Info("leaving installed routes in place", "routes", len(backend.Installed()))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := backend.Flush(ctx); err != nil {
		logger.Error("route withdrawal on shutdown failed", "error", err)
		return
	}
	logger.Info("installed routes withdrawn")
}
