// Corpora ingests documents into named collections and answers questions
// from the top-ranked passages across them.
//
// Usage:
//
//	corpora ingest ./reports --collection wells --policy merge
//	corpora query "Which formation overlies the Hutton Sandstone?"
//	corpora collections list
//	corpora chat --metrics-addr :2112
//	corpora monitor --url http://localhost:9090
//	corpora serve --port 3000
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fyrsmithlabs/corpora/internal/config"
	"github.com/fyrsmithlabs/corpora/internal/logging"
	"github.com/fyrsmithlabs/corpora/internal/services"
	"github.com/fyrsmithlabs/corpora/internal/telemetry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

var (
	configPath string
	logLevel   string
	jsonOutput bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "corpora",
		Short: "Collection ingestion and multi-collection retrieval",
		Long: `corpora ingests documents into named vector collections and answers
questions from the best passages across the active collections.

Configuration is read from ~/.config/corpora/config.yaml (or --config) and
CORPORA_SECTION_FIELD environment variables.`,
		Version:       fmt.Sprintf("%s (%s)", version, gitCommit),
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			ctx := logging.WithRequestID(cmd.Context(), uuid.NewString())
			cmd.SetContext(logging.WithOperation(ctx, cmd.Name()))
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/corpora/config.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")

	root.AddCommand(
		newIngestCmd(),
		newQueryCmd(),
		newChatCmd(),
		newCollectionsCmd(),
		newMonitorCmd(),
		newServeCmd(),
	)
	return root
}

// app holds everything a command needs and releases it on Close.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	telemetry *telemetry.Telemetry
	services.Registry
}

// loadConfig reads --config or the default location.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadWithFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	lcfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, err
	}
	l, err := logging.NewLogger(lcfg)
	if err != nil {
		return nil, err
	}
	return l.Underlying(), nil
}

// openApp loads configuration and wires every service.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	tel, err := telemetry.New(ctx, cfg.Telemetry, logger.Named("telemetry"))
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	reg, err := services.Build(ctx, cfg, logger)
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, telemetry: tel, Registry: reg}, nil
}

// Close releases services, flushes telemetry and syncs the logger.
func (a *app) Close() {
	if err := a.Registry.Close(); err != nil {
		a.logger.Warn("closing services", zap.Error(err))
	}
	if err := a.telemetry.Shutdown(context.Background()); err != nil {
		a.logger.Debug("telemetry shutdown", zap.Error(err))
	}
	_ = a.logger.Sync()
}
