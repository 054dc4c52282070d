package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30

	// Answers come from an LLM, so latency thresholds are in seconds.
	latencyWarn  = 5.0
	latencyError = 15.0
)

// Model is the bubbletea dashboard over a Prometheus-compatible API.
type Model struct {
	promURL    string
	interval   time.Duration
	lastUpdate time.Time
	metrics    MetricsSnapshot
	err        error
	quitting   bool

	duplicateProgress progress.Model
	noContextProgress progress.Model
	memoryProgress    progress.Model
}

// MetricsSnapshot holds the current metrics data
type MetricsSnapshot struct {
	IngestRate       float64
	DuplicateRatio   float64
	IngestSkipRate   float64
	BatchDurationP95 float64

	QueryRate          float64
	QueryLatencyP95    float64
	NoContextRatio     float64
	CollectionSkipRate float64

	StoreErrorRate float64

	Uptime     int64
	Goroutines int
	MemoryMB   float64

	// Historical data for sparklines (last N points)
	IngestRateHistory []float64
	QueryRateHistory  []float64
	LatencyHistory    []float64

	MemoryMax float64
}

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard polling promURL every interval.
func NewModel(promURL string, interval time.Duration) Model {
	return Model{
		promURL:  promURL,
		interval: interval,
		duplicateProgress: progress.New(
			progress.WithGradient("#00ffff", "#ff00ff"),
			progress.WithWidth(40),
		),
		noContextProgress: progress.New(
			progress.WithGradient("#00ff00", "#ff0000"),
			progress.WithWidth(40),
		),
		memoryProgress: progress.New(
			progress.WithGradient("#00ff00", "#ffff00"),
			progress.WithWidth(40),
		),
		metrics: MetricsSnapshot{
			IngestRateHistory: make([]float64, 0, historySize),
			QueryRateHistory:  make([]float64, 0, historySize),
			LatencyHistory:    make([]float64, 0, historySize),
			MemoryMax:         1024.0,
		},
	}
}

// getLatencyBadge returns a colored status badge based on latency
func getLatencyBadge(latencySeconds float64) string {
	switch {
	case latencySeconds < latencyWarn:
		return healthyStyle.Render("[✓]")
	case latencySeconds < latencyError:
		return warningStyle.Render("[⚠]")
	default:
		return errorStyle.Render("[✗]")
	}
}

// getStatusBadge summarizes query latency and backend errors.
func getStatusBadge(s MetricsSnapshot) string {
	switch {
	case s.StoreErrorRate > 0 || s.QueryLatencyP95 >= latencyError:
		return errorStyle.Render("✗ ERROR")
	case s.CollectionSkipRate > 0 || s.QueryLatencyP95 >= latencyWarn:
		return warningStyle.Render("⚠ WARN")
	default:
		return healthyStyle.Render("✓ HEALTHY")
	}
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()

	return sparklineStyle.Render(spark.View())
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

type tickMsg time.Time
type metricsMsg MetricsSnapshot
type errMsg error

// Init starts the refresh loop.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchMetrics(m.promURL),
	)
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchMetrics(promURL string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		snapshot, err := NewMetricsClient(promURL).Snapshot(ctx)
		if err != nil {
			return errMsg(err)
		}
		return metricsMsg(snapshot)
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchMetrics(m.promURL)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetchMetrics(m.promURL),
		)

	case metricsMsg:
		next := MetricsSnapshot(msg)
		next.IngestRateHistory = appendToHistory(m.metrics.IngestRateHistory, next.IngestRate)
		next.QueryRateHistory = appendToHistory(m.metrics.QueryRateHistory, next.QueryRate)
		next.LatencyHistory = appendToHistory(m.metrics.LatencyHistory, next.QueryLatencyP95)
		next.MemoryMax = m.metrics.MemoryMax
		if next.MemoryMB > next.MemoryMax {
			next.MemoryMax = next.MemoryMB
		}

		m.metrics = next
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	header := headerStyle.Render("corpora Metrics Dashboard")

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(errorStyle.Render("⚠ Cannot reach the metrics API") + "\n\n")
	b.WriteString(dimStyle.Render("URL: ") + valueStyle.Render(m.promURL) + "\n")
	b.WriteString(dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n\n")
	b.WriteString(dimStyle.Render("Please ensure:") + "\n")
	b.WriteString(dimStyle.Render("  1. corpora chat --metrics-addr :2112 is running") + "\n")
	b.WriteString(dimStyle.Render("  2. Prometheus scrapes it and serves the query API") + "\n\n")
	b.WriteString(footerStyle.Render("[q] quit  [r] retry") + "\n")

	return containerStyle.Render(header + "\n" + b.String())
}

func (m Model) renderDashboard() string {
	s := m.metrics
	var b strings.Builder

	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}

	b.WriteString(headerStyle.Render(" corpora Monitor ") + "\n")
	b.WriteString(fmt.Sprintf("%s   %s   %s   %s\n",
		getStatusBadge(s),
		dimStyle.Render("Uptime:"),
		valueStyle.Render(FormatUptime(s.Uptime)),
		dimStyle.Render(lastUpdateStr)))

	b.WriteString("\n" + sectionStyle.Render("┃ Queries") + "\n")
	b.WriteString(labelStyle.Render("  Rate: ") +
		valueStyle.Render(FormatRate(s.QueryRate, "req")) +
		"   " + createSparkline(s.QueryRateHistory) + "\n")
	b.WriteString(labelStyle.Render("  Latency (p95): ") +
		valueStyle.Render(FormatLatency(s.QueryLatencyP95)) +
		" " + getLatencyBadge(s.QueryLatencyP95) +
		"   " + createSparkline(s.LatencyHistory) + "\n")
	b.WriteString(labelStyle.Render("  No context: ") +
		m.noContextProgress.ViewAs(clamp01(s.NoContextRatio)) +
		" " + dimStyle.Render(FormatPercentage(s.NoContextRatio)) + "\n")
	b.WriteString(labelStyle.Render("  Collection skips: ") +
		valueStyle.Render(FormatRate(s.CollectionSkipRate, "skip")) + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ Ingestion") + "\n")
	b.WriteString(labelStyle.Render("  Inserted: ") +
		valueStyle.Render(FormatRate(s.IngestRate, "doc")) +
		"   " + createSparkline(s.IngestRateHistory) + "\n")
	b.WriteString(labelStyle.Render("  Duplicates: ") +
		m.duplicateProgress.ViewAs(clamp01(s.DuplicateRatio)) +
		" " + dimStyle.Render(FormatPercentage(s.DuplicateRatio)) + "\n")
	b.WriteString(labelStyle.Render("  Skipped: ") +
		valueStyle.Render(FormatRate(s.IngestSkipRate, "doc")) +
		"  " + labelStyle.Render("Batch (p95): ") +
		valueStyle.Render(FormatLatency(s.BatchDurationP95)) + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ Vector Store") + "\n")
	storeErrors := valueStyle.Render(FormatRate(s.StoreErrorRate, "err"))
	if s.StoreErrorRate > 0 {
		storeErrors = errorStyle.Render(FormatRate(s.StoreErrorRate, "err"))
	}
	b.WriteString(labelStyle.Render("  Errors: ") + storeErrors + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ System") + "\n")
	memoryPercent := 0.0
	if s.MemoryMax > 0 {
		memoryPercent = clamp01(s.MemoryMB / s.MemoryMax)
	}
	b.WriteString(labelStyle.Render("  Memory: ") +
		m.memoryProgress.ViewAs(memoryPercent) +
		" " + dimStyle.Render(fmt.Sprintf("%.1f MB", s.MemoryMB)) + "\n")
	b.WriteString(labelStyle.Render("  Goroutines: ") +
		valueStyle.Render(fmt.Sprintf("%d", s.Goroutines)) + "\n")

	b.WriteString("\n" + footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval)))

	return containerStyle.Render(b.String())
}
