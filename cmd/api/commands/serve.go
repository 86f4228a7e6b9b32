package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	_ "observability-demo/docs"
	"observability-demo/internal/config"
	"observability-demo/internal/infrastructure/di"
)

func newServeCommand() *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if address != "" {
				cfg.Server.Address = address
			}
			return serve(cmd.Context(), cfg.Server.Address, cfg)
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "", "listen address (overrides SERVER_ADDRESS)")
	return cmd
}

func serve(ctx context.Context, address string, cfg *config.Config) error {
	container, cleanup, err := di.InitializeContainer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize container: %w", err)
	}
	defer cleanup()

	logger := container.Zap
	container.WatchConfig()

	srv := &http.Server{
		Addr:         address,
		Handler:      container.Handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server",
			zap.String("address", address),
			zap.String("environment", string(cfg.Environment)),
			zap.String("version", cfg.ServiceVersion),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
		return err
	}
	if err := container.Tracer.ForceFlush(shutdownCtx); err != nil {
		logger.Warn("Failed to flush spans", zap.Error(err))
	}

	logger.Info("Server stopped")
	return nil
}
