package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fyrsmithlabs/corpora/internal/document"
	"github.com/fyrsmithlabs/corpora/internal/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQuerier struct {
	requests []query.Request
	result   *query.Result
	err      error
}

func (f *fakeQuerier) Query(_ context.Context, req query.Request) (*query.Result, error) {
	f.requests = append(f.requests, req)
	return f.result, f.err
}

func sized(m Model) Model {
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return updated.(Model)
}

func typeText(m Model, s string) Model {
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
	return updated.(Model)
}

func TestModel_InitAndView(t *testing.T) {
	m := NewModel(&fakeQuerier{}, Options{})
	assert.NotNil(t, m.Init())
	assert.Equal(t, "Loading...", m.View())

	m = sized(m)
	assert.Contains(t, m.View(), "corpora chat")
	assert.Contains(t, m.View(), "No questions yet.")
}

func TestModel_AskAndAnswer(t *testing.T) {
	q := &fakeQuerier{result: &query.Result{
		Answer: "Jurassic.",
		Sources: []query.Candidate{{
			Collection: "wells",
			Score:      0.9,
			Snippet:    "Birkhead Formation...",
			Locator:    map[string]any{document.KeyFileName: "units.psv", document.KeyPage: int64(3)},
		}},
	}}
	m := typeText(sized(NewModel(q, Options{Collections: []string{"wells"}, TopK: 3})), "How old?")

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(Model)
	require.NotNil(t, cmd)
	assert.Equal(t, "How old?", m.pending)
	assert.Empty(t, m.input.Value())

	msg := ask(q, m.opts, "How old?")()
	require.Len(t, q.requests, 1)
	assert.Equal(t, query.Request{Text: "How old?", Collections: []string{"wells"}, TopK: 3}, q.requests[0])

	updated, _ = m.Update(msg)
	m = updated.(Model)
	assert.Empty(t, m.pending)
	require.Len(t, m.history, 1)

	out := m.transcript()
	assert.Contains(t, out, "Jurassic.")
	assert.Contains(t, out, "wells/units.psv p.3")
}

func TestModel_IgnoresEnterWhileBusyOrEmpty(t *testing.T) {
	m := sized(NewModel(&fakeQuerier{}, Options{}))

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)

	m.pending = "earlier"
	m = typeText(m, "again")
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
}

func TestModel_ShowsErrors(t *testing.T) {
	m := sized(NewModel(&fakeQuerier{}, Options{}))
	updated, _ := m.Update(answerMsg{question: "q", err: errors.New("embedder down")})
	m = updated.(Model)
	assert.Contains(t, m.transcript(), "embedder down")
}

func TestModel_Quit(t *testing.T) {
	m := sized(NewModel(&fakeQuerier{}, Options{}))
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = updated.(Model)
	assert.True(t, m.quitting)
	assert.NotNil(t, cmd)
	assert.Empty(t, m.View())
}
