package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"flotilla/internal/api"
	"flotilla/internal/cloud/hetzner"
	"flotilla/internal/controller"
	"flotilla/internal/fleet"
	"flotilla/internal/github"
	"flotilla/internal/leaderelection"
	"flotilla/internal/metrics"
	"flotilla/internal/provisioner"
	"flotilla/internal/remote"
	"flotilla/internal/scaler"
	"flotilla/internal/scripts"
	"flotilla/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the autoscaling control loop",
	Long: `Serve runs the reconciliation loop: every interval it lists the fleet,
correlates servers with registered runners, walks the queued workflow
runs and provisions, recycles or evicts servers to match demand.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := setupLogger(cfg)
	logger.Info("starting flotilla",
		"version", version,
		"repository", cfg.GitHub.Repository,
		"max_servers", cfg.Scaling.MaxServers,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	registry := prometheus.NewRegistry()
	met := metrics.NewMetrics(registry)
	met.BuildInfo.WithLabelValues(version).Set(1)

	ghClient := github.NewClient(cfg.GitHub, version, logger)

	provider := hetzner.New(cfg.Hetzner, version, registry, logger)
	defer provider.Close()

	scr, err := scripts.Load(cfg.Scripts.Dir)
	if err != nil {
		return fmt.Errorf("failed to load scripts: %w", err)
	}

	sshExec, err := remote.New(cfg.SSH.PrivateKeyPath, logger)
	if err != nil {
		return fmt.Errorf("failed to load ssh key: %w", err)
	}

	st, err := store.New(store.StoreConfig{
		Enabled:   cfg.Store.Enabled,
		Path:      cfg.Store.Path,
		MaxEvents: cfg.Store.MaxEvents,
	})
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}

	executor := provisioner.New(cfg, provider, ghClient, sshExec, scr.Setup, logger)
	engine := scaler.New(cfg, ghClient, provider, executor, scr, met, logger)
	collector := fleet.NewCollector(provider, ghClient, logger)
	ctrl := controller.New(cfg, collector, engine, met, st, logger)

	if cfg.Server.Enabled {
		apiServer := api.New(cfg, ctrl, provider, st, registry, logger)
		go func() {
			if err := apiServer.Start(ctx); err != nil {
				logger.Error("API server error", "error", err)
			}
		}()
	}

	le := leaderelection.New(leaderelection.Config{
		Enabled:      cfg.LeaderElection.Enabled,
		LockFilePath: cfg.LeaderElection.LockFilePath,
		RetryPeriod:  cfg.LeaderElection.RetryPeriod,
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- le.Run(ctx,
			func(ctx context.Context) {
				logger.Info("became leader, starting controller")
				met.Leader.Set(1)
				if err := ctrl.Run(ctx); err != nil {
					logger.Error("controller error", "error", err)
				}
			},
			func(ctx context.Context) {
				logger.Info("stopped being leader")
				met.Leader.Set(0)
			},
		)
	}()

	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
		cancel()
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	logger.Info("shutdown complete")
	return nil
}
