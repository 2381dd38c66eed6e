package cmd

import (
	"context"
	"fmt"

	"flotilla/internal/cloud/hetzner"
	"flotilla/internal/github"
	"flotilla/internal/scaler"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Deregister all fleet runners and delete all fleet servers",
	Long: `Cleanup tears the fleet down: every runner registered by this
autoscaler is removed from the repository and every server it created
is deleted. Servers and runners outside the fleet namespace are left
untouched.`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := setupLogger(cfg)

	ghClient := github.NewClient(cfg.GitHub, version, logger)

	provider := hetzner.New(cfg.Hetzner, version, nil, logger)
	defer provider.Close()

	return scaler.Cleanup(context.Background(), provider, ghClient, logger)
}
