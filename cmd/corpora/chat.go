package main

import (
	"errors"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fyrsmithlabs/corpora/internal/tui"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newChatCmd() *cobra.Command {
	var (
		collections []string
		topK        int
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive question answering in the terminal",
		Long: `Start an interactive chat over the query engine. Each question searches the
active collections (or those named with --collection).

With --metrics-addr the process also serves Prometheus metrics at /metrics.

Examples:
  corpora chat
  corpora chat --collection wells --metrics-addr :2112`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if metricsAddr != "" {
				srv := &http.Server{
					Addr:              metricsAddr,
					Handler:           metricsHandler(),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Warn("metrics server stopped", zap.Error(err))
					}
				}()
				defer srv.Close()
				a.logger.Info("serving metrics", zap.String("addr", metricsAddr))
			}

			opts := tui.Options{TopK: topK}
			if cmd.Flags().Changed("collection") {
				opts.Collections = collections
			}
			_, err = tea.NewProgram(
				tui.NewModel(a.Query(), opts),
				tea.WithAltScreen(),
				tea.WithContext(cmd.Context()),
			).Run()
			return err
		},
	}
	cmd.Flags().StringArrayVarP(&collections, "collection", "c", nil, "collection to search (repeatable; default: active collections)")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of passages to keep (default from query.top_k)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
