package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"observability-demo/internal/config"
)

// Global flags
var configPath string

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	return newRootCommand(version, commit, buildDate).ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "observability-demo",
		Short: "HTTP service instrumented with metrics, structured logs and traces",
		Long: `observability-demo serves a small user API whose every request is measured,
logged and traced. It injects latency and faults on purpose so dashboards
have errors and slow requests to show.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (overrides CONFIG_FILE)")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newSimulateCommand())

	return rootCmd
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		if err := os.Setenv("CONFIG_FILE", configPath); err != nil {
			return nil, err
		}
	}
	return config.Load()
}
