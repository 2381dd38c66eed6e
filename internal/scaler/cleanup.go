package scaler

import (
	"context"
	"fmt"
	"log/slog"

	"flotilla/internal/cloud"
	"flotilla/internal/fleet"
	"flotilla/internal/github"
)

type CleanupCloud interface {
	ListServers(ctx context.Context) ([]*cloud.Server, error)
	DeleteServer(ctx context.Context, name string) error
}

type CleanupGitHub interface {
	ListRunners(ctx context.Context) ([]*github.SelfHostedRunner, error)
	DeleteRunner(ctx context.Context, id int64) error
}

// Cleanup deregisters every runner this fleet registered and deletes
// every server it created. Individual failures are logged and skipped
// so one stuck resource does not strand the rest.
func Cleanup(ctx context.Context, cloudAPI CleanupCloud, gh CleanupGitHub, logger *slog.Logger) error {
	logger = logger.With("component", "cleanup")
	failures := 0

	runners, err := gh.ListRunners(ctx)
	if err != nil {
		return fmt.Errorf("listing runners: %w", err)
	}
	for _, runner := range runners {
		if !fleet.IsFleetServer(runner.Name) {
			continue
		}
		logger.Info("removing runner", "name", runner.Name, "id", runner.ID)
		if err := gh.DeleteRunner(ctx, runner.ID); err != nil {
			logger.Error("failed to remove runner", "name", runner.Name, "error", err)
			failures++
		}
	}

	servers, err := cloudAPI.ListServers(ctx)
	if err != nil {
		return fmt.Errorf("listing servers: %w", err)
	}
	for _, server := range servers {
		if !fleet.IsFleetServer(server.Name) {
			continue
		}
		logger.Info("deleting server", "name", server.Name)
		if err := cloudAPI.DeleteServer(ctx, server.Name); err != nil {
			logger.Error("failed to delete server", "name", server.Name, "error", err)
			failures++
		}
	}

	if failures > 0 {
		return fmt.Errorf("cleanup finished with %d failures", failures)
	}
	return nil
}
