package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	corporahttp "github.com/fyrsmithlabs/corpora/internal/http"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve ingestion and queries over a JSON API",
		Long: `Start the HTTP API. Routes live under /api/v1; /health and /metrics sit at
the root. The listen address comes from the server section of the config
unless --host or --port is given.

Examples:
  corpora serve
  corpora serve --port 8080
  curl -s localhost:3000/api/v1/query -d '{"query":"Which formation overlies the Hutton Sandstone?"}' \
    -H 'Content-Type: application/json'`,
		Args: cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			cfg := a.cfg.Server
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				if port < 0 || port > 65535 {
					return fmt.Errorf("port out of range: %d", port)
				}
				cfg.Port = port
			}

			srv, err := corporahttp.NewServer(corporahttp.Services{
				Query:       a.Query(),
				Ingest:      a.Ingest(),
				Collections: a.Collections(),
			}, a.logger.Named("http"), &corporahttp.Config{
				Host:           cfg.Host,
				Port:           cfg.Port,
				MaxUploadBytes: cfg.MaxUploadBytes,
				Version:        version,
			})
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), srv, cfg.ShutdownTimeout.Duration(), a.logger)
		}),
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (default server.host)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default server.port)")
	return cmd
}

// server is the lifecycle runServer drives.
type server interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// runServer blocks until srv fails or ctx is cancelled, then shuts srv down
// within timeout.
func runServer(ctx context.Context, srv server, timeout time.Duration, logger *zap.Logger) error {
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

	logger.Info("shutdown requested", zap.Duration("shutdown_timeout", timeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
