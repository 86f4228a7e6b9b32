package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"observability-demo/internal/simulate"
)

func newSimulateCommand() *cobra.Command {
	var (
		baseURL           string
		workers           int
		requestsPerWorker int
		noPause           bool
		timeout           time.Duration
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive realistic traffic against a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			opts := simulate.Options{
				BaseURL:           baseURL,
				Logger:            logger,
				Workers:           workers,
				RequestsPerWorker: requestsPerWorker,
			}
			if noPause {
				opts.Pause = simulate.NoPause
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			report, err := simulate.Run(ctx, opts)
			if report != nil {
				fmt.Fprint(cmd.OutOrStdout(), report.Summary())
			}
			return err
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "http://localhost:8000", "base URL of the server")
	cmd.Flags().IntVar(&workers, "workers", 5, "concurrent workers in the load phase")
	cmd.Flags().IntVar(&requestsPerWorker, "requests", 10, "requests per worker in the load phase")
	cmd.Flags().BoolVar(&noPause, "no-pause", false, "send requests back to back")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "abort the simulation after this long")
	return cmd
}
