// Package tui implements the interactive chat over the query engine.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fyrsmithlabs/corpora/internal/document"
	"github.com/fyrsmithlabs/corpora/internal/query"
)

// Querier is the subset of query.Engine the chat needs.
type Querier interface {
	Query(ctx context.Context, req query.Request) (*query.Result, error)
}

// Options configures the chat session.
type Options struct {
	// Collections restricts every question to these names; nil means the
	// active collections.
	Collections []string
	TopK        int
	// Timeout bounds one question. Default: 2m.
	Timeout time.Duration
}

type exchange struct {
	question string
	result   *query.Result
	err      error
}

// Model is the Bubble Tea model for the chat.
type Model struct {
	querier Querier
	opts    Options

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	history  []exchange
	pending  string
	ready    bool
	quitting bool
}

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	questionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	answerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231"))

	sourceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))
)

// NewModel creates a chat model.
func NewModel(q Querier, opts Options) Model {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}

	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.CharLimit = 0
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		querier:  q,
		opts:     opts,
		input:    ti,
		viewport: viewport.New(0, 0),
		spinner:  sp,
	}
}

type answerMsg struct {
	question string
	result   *query.Result
	err      error
}

// ask runs one question off the UI goroutine.
func ask(q Querier, opts Options, question string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
		defer cancel()
		res, err := q.Query(ctx, query.Request{
			Text:        question,
			Collections: opts.Collections,
			TopK:        opts.TopK,
		})
		return answerMsg{question: question, result: res, err: err}
	}
}

// Init starts the cursor blink.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles input, resize and answer messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, frame := inputBoxStyle.GetFrameSize()
		// header, input box, footer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-frame-3)
		m.input.Width = max(10, msg.Width-6)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			question := strings.TrimSpace(m.input.Value())
			if question == "" || m.pending != "" {
				return m, nil
			}
			m.pending = question
			m.input.Reset()
			m.refresh()
			return m, tea.Batch(ask(m.querier, m.opts, question), m.spinner.Tick)
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case answerMsg:
		m.pending = ""
		m.history = append(m.history, exchange{question: msg.question, result: msg.result, err: msg.err})
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if m.pending == "" {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.refresh()
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the transcript, the input box and the key help.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render("corpora chat")
	footer := footerStyle.Render("enter ask • pgup/pgdn scroll • esc quit")
	return header + "\n" + m.viewport.View() + "\n" + inputBoxStyle.Render(m.input.View()) + "\n" + footer
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.transcript())
	m.viewport.GotoBottom()
}

func (m Model) transcript() string {
	if len(m.history) == 0 && m.pending == "" {
		return sourceStyle.Render("No questions yet.")
	}
	var b strings.Builder
	for _, ex := range m.history {
		b.WriteString(questionStyle.Render("Q: "+ex.question) + "\n")
		if ex.err != nil {
			b.WriteString(errorStyle.Render("error: "+ex.err.Error()) + "\n\n")
			continue
		}
		b.WriteString(answerStyle.Render(ex.result.Answer) + "\n")
		for i, s := range ex.result.Sources {
			b.WriteString(sourceStyle.Render(formatSource(i+1, s)) + "\n")
		}
		for _, s := range ex.result.Skipped {
			b.WriteString(errorStyle.Render(fmt.Sprintf("skipped %s: %s", s.Collection, s.Reason)) + "\n")
		}
		b.WriteString("\n")
	}
	if m.pending != "" {
		b.WriteString(questionStyle.Render("Q: "+m.pending) + "\n")
		b.WriteString(m.spinner.View() + " searching...\n")
	}
	return b.String()
}

func formatSource(n int, c query.Candidate) string {
	where := c.Collection
	if name, ok := c.Locator[document.KeyFileName]; ok {
		where += "/" + document.FormatValue(name)
	}
	if page, ok := c.Locator[document.KeyPage]; ok {
		where += fmt.Sprintf(" p.%s", document.FormatValue(page))
	}
	return fmt.Sprintf("  [%d] %.3f %s  %s", n, c.Score, where, c.Snippet)
}
