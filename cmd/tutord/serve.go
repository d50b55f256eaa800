package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpserver "github.com/fyrsmithlabs/tutord/internal/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat HTTP server",
	Long: `Start the chat HTTP server and block until SIGINT or SIGTERM.

Endpoints:
  POST /api                 answer one message
  POST /api/stream          answer one message as server-sent events
  GET  /api/health-status   health points of the caller
  GET  /health              liveness
  GET  /metrics             Prometheus metrics`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

// runServe starts the server and blocks until ctx is cancelled.
func runServe(ctx context.Context) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			a.logger.Warn(context.Background(), "shutdown cleanup failed", zap.Error(err))
		}
	}()
	cfg := a.cfg

	a.logger.Info(ctx, "starting tutord",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("development_mode", cfg.Server.DevelopmentMode),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()),
	)

	p, err := a.pipeline()
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		if err := p.recorder.Close(drainCtx); err != nil {
			a.logger.Warn(drainCtx, "interaction log did not drain", zap.Error(err))
		}
	}()

	if cfg.Prompt.Watch && cfg.Prompt.Path != "" {
		go func() {
			if err := p.prompt.Watch(ctx, nil); err != nil {
				a.logger.Warn(ctx, "system prompt watch stopped", zap.Error(err))
			}
		}()
	}

	ident := httpserver.HeaderIdentifier{UserHeader: cfg.Server.IdentityHeader}
	if cfg.Server.DevelopmentMode && cfg.Server.DevUser != "" {
		a.logger.Warn(ctx, "development mode: requests without identity run as the dev user",
			zap.String("dev_user", cfg.Server.DevUser))
		ident.Fallback = cfg.Server.DevUser
	}

	srv, err := httpserver.NewServer(p.orch, p.tracker, a.logger, &httpserver.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		CORSOrigins: cfg.Server.CORSOrigins,
		Identifier:  ident,
		Metrics:     httpserver.NewHTTPMetricsWithMeter(a.tel.Meter(instrumentationName), a.logger.Underlying()),
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	a.logger.Info(shutdownCtx, "server shutdown complete")
	return nil
}
