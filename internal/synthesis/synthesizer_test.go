package synthesis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fyrsmithlabs/corpora/internal/config"
	"github.com/fyrsmithlabs/corpora/internal/document"
	"github.com/fyrsmithlabs/corpora/internal/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// fakeModel answers from a script and records every prompt it receives.
type fakeModel struct {
	answers []string
	errs    []error
	prompts []string
	options []llms.CallOptions
}

func (m *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}
	m.options = append(m.options, opts)
	for _, part := range messages[0].Parts {
		if text, ok := part.(llms.TextContent); ok {
			m.prompts = append(m.prompts, text.Text)
		}
	}

	i := len(m.prompts) - 1
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	answer := "fallback"
	if i < len(m.answers) {
		answer = m.answers[i]
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: answer}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

var candidates = []query.Candidate{
	{
		Collection: "wells",
		Score:      0.92,
		Content:    "The Birkhead Formation is Jurassic.",
		Locator:    map[string]any{document.KeyFileName: "units.psv", document.KeyPage: int64(12)},
	},
	{
		Collection: "reports",
		Score:      0.81,
		Snippet:    "Hutton Sandstone overlies it...",
	},
}

func TestEvidence(t *testing.T) {
	got := Evidence(candidates)
	assert.Equal(t,
		"[1] (wells, units.psv, page 12)\nThe Birkhead Formation is Jurassic.\n\n"+
			"[2] (reports)\nHutton Sandstone overlies it...",
		got)
}

func TestLLM_Synthesize(t *testing.T) {
	model := &fakeModel{answers: []string{"  Jurassic [1].\n"}}
	s := New(model, Options{Temperature: 0.1, MaxTokens: 256}, nil)

	answer, err := s.Synthesize(context.Background(), "How old is the Birkhead Formation?", candidates)
	require.NoError(t, err)
	assert.Equal(t, "Jurassic [1].", answer)

	require.Len(t, model.prompts, 1)
	assert.Contains(t, model.prompts[0], "Question: How old is the Birkhead Formation?")
	assert.Contains(t, model.prompts[0], "[1] (wells, units.psv, page 12)")
	assert.Contains(t, model.prompts[0], "[2] (reports)")
	assert.InDelta(t, 0.1, model.options[0].Temperature, 1e-9)
	assert.Equal(t, 256, model.options[0].MaxTokens)
}

func TestLLM_RetriesTransientFailures(t *testing.T) {
	model := &fakeModel{
		errs:    []error{errors.New("503"), nil},
		answers: []string{"", "answer"},
	}
	s := New(model, Options{MaxRetries: 2, Backoff: time.Millisecond}, nil)

	answer, err := s.Synthesize(context.Background(), "q", candidates)
	require.NoError(t, err)
	assert.Equal(t, "answer", answer)
	assert.Len(t, model.prompts, 2)
}

func TestLLM_GivesUp(t *testing.T) {
	boom := errors.New("model unavailable")
	model := &fakeModel{errs: []error{boom, boom, boom}}
	s := New(model, Options{MaxRetries: 1, Backoff: time.Millisecond}, nil)

	_, err := s.Synthesize(context.Background(), "q", candidates)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSynthesisFailed)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, model.prompts, 2)
}

func TestLLM_CustomTemplate(t *testing.T) {
	model := &fakeModel{}
	s := New(model, Options{Template: "Q={{.question}}\n{{.context}}"}, nil)

	prompt, err := s.Prompt("why?", candidates[:1])
	require.NoError(t, err)
	assert.Equal(t, "Q=why?\n[1] (wells, units.psv, page 12)\nThe Birkhead Formation is Jurassic.", prompt)
}

func TestNewFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LLMConfig
		wantErr error
	}{
		{name: "ollama", cfg: config.LLMConfig{Provider: "ollama", Model: "qwen2.5:7b", BaseURL: "http://localhost:11434"}},
		{name: "openai", cfg: config.LLMConfig{Provider: "openai", Model: "gpt-4o-mini", BaseURL: "http://localhost:8000/v1"}},
		{name: "unknown", cfg: config.LLMConfig{Provider: "bard"}, wantErr: ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewFromConfig(tt.cfg, nil)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, s)
		})
	}
}
