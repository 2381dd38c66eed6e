package cmd

import (
	"log/slog"
	"os"

	"flotilla/internal/config"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "flotilla",
	Short: "Autoscaler for GitHub Actions runners on Hetzner Cloud",
	Long: `Flotilla keeps a fleet of Hetzner Cloud servers sized to the GitHub
Actions job queue of a repository. Queued jobs get fresh ephemeral
runners, finished servers are recycled into new ones, and optional
standby pools keep warm capacity for latency-sensitive workflows.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file (optional)")
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

func setupLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if cfg.Debug {
		level = slog.LevelDebug
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}
