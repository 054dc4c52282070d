package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fyrsmithlabs/corpora/internal/monitor"
	"github.com/spf13/cobra"
)

func newMonitorCmd() *cobra.Command {
	var (
		promURL  string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Live dashboard of ingestion and query metrics",
		Long: `Poll a Prometheus-compatible query API for corpora metrics and render
ingestion throughput, duplicate ratio, query latency and collection skips.

Expose metrics with "corpora chat --metrics-addr :2112" (or any long-running
process) and point a Prometheus server at it.

Examples:
  corpora monitor
  corpora monitor --url http://prometheus:9090 --interval 10s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if interval < time.Second {
				return fmt.Errorf("interval must be at least 1s, got %s", interval)
			}
			_, err := tea.NewProgram(
				monitor.NewModel(promURL, interval),
				tea.WithAltScreen(),
				tea.WithContext(cmd.Context()),
			).Run()
			return err
		},
	}
	cmd.Flags().StringVar(&promURL, "url", "http://localhost:9090", "Prometheus-compatible query API")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "refresh interval")
	return cmd
}
