// Package synthesis turns ranked retrieval candidates into an answer with a
// language model.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fyrsmithlabs/corpora/internal/config"
	"github.com/fyrsmithlabs/corpora/internal/document"
	"github.com/fyrsmithlabs/corpora/internal/logging"
	"github.com/fyrsmithlabs/corpora/internal/query"
	"github.com/fyrsmithlabs/corpora/internal/retry"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/prompts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	ErrSynthesisFailed = errors.New("answer synthesis failed")
	ErrInvalidConfig   = errors.New("invalid llm configuration")
)

var tracer = otel.Tracer("corpora.synthesis")

// DefaultTemplate asks the model to answer from the numbered evidence only.
const DefaultTemplate = `You answer questions using only the numbered context passages below.
Cite passages by their number, for example [1]. If the passages do not contain
the answer, say that you do not know.

Context:
{{.context}}

Question: {{.question}}
Answer:`

// Options tunes generation and request pacing.
type Options struct {
	Temperature float64
	MaxTokens   int
	// Timeout bounds each attempt. Zero means no per-attempt timeout.
	Timeout time.Duration
	// RateLimit is requests per second. Zero disables limiting.
	RateLimit  float64
	MaxRetries int
	Backoff    time.Duration
	// Template overrides DefaultTemplate. It receives "context" and "question".
	Template string
}

// LLM implements query.Synthesizer on a langchaingo model.
type LLM struct {
	model    llms.Model
	template prompts.PromptTemplate
	limiter  *rate.Limiter
	opts     Options
	logger   *zap.Logger
}

// New wraps model.
func New(model llms.Model, opts Options, logger *zap.Logger) *LLM {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Template == "" {
		opts.Template = DefaultTemplate
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	return &LLM{
		model:    model,
		template: prompts.NewPromptTemplate(opts.Template, []string{"context", "question"}),
		limiter:  rate.NewLimiter(limit, 1),
		opts:     opts,
		logger:   logger,
	}
}

// NewFromConfig builds the model named by cfg.Provider.
//
// Supported providers:
//   - "ollama" (default): local Ollama server
//   - "openai": any OpenAI-compatible chat endpoint
func NewFromConfig(cfg config.LLMConfig, logger *zap.Logger) (*LLM, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var client *http.Client
	if cfg.Timeout > 0 {
		client = &http.Client{Timeout: cfg.Timeout.Duration()}
	}

	var (
		model llms.Model
		err   error
	)
	switch cfg.Provider {
	case "ollama", "":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		if client != nil {
			opts = append(opts, ollama.WithHTTPClient(client))
		}
		model, err = ollama.New(opts...)
	case "openai":
		token := cfg.APIKey.Value()
		if token == "" {
			// Local OpenAI-compatible servers ignore the token but the client requires one.
			token = "placeholder"
		}
		opts := []openai.Option{openai.WithModel(cfg.Model), openai.WithToken(token)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		if client != nil {
			opts = append(opts, openai.WithHTTPClient(client))
		}
		model, err = openai.New(opts...)
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q (supported: ollama, openai)", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s client: %w", cfg.Provider, err)
	}

	logger.Info("answer synthesizer initialized",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		logging.Secret("api_key", cfg.APIKey),
	)
	return New(model, Options{
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		RateLimit:   cfg.RateLimit,
		MaxRetries:  cfg.MaxRetries,
	}, logger), nil
}

// Synthesize answers question from candidates, which arrive ranked.
func (s *LLM) Synthesize(ctx context.Context, question string, candidates []query.Candidate) (string, error) {
	ctx, span := tracer.Start(ctx, "LLM.Synthesize")
	defer span.End()
	span.SetAttributes(attribute.Int("candidates", len(candidates)))

	prompt, err := s.Prompt(question, candidates)
	if err != nil {
		return "", err
	}

	var callOpts []llms.CallOption
	if s.opts.Temperature > 0 {
		callOpts = append(callOpts, llms.WithTemperature(s.opts.Temperature))
	}
	if s.opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(s.opts.MaxTokens))
	}

	var answer string
	err = retry.Do(ctx, retry.Policy{MaxRetries: s.opts.MaxRetries, Backoff: s.opts.Backoff}, "synthesize",
		func(err error) bool {
			if errors.Is(err, context.Canceled) {
				return false
			}
			s.logger.Debug("retrying synthesis", zap.Error(err))
			return true
		},
		func(ctx context.Context) error {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
			if s.opts.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
				defer cancel()
			}
			out, err := llms.GenerateFromSinglePrompt(ctx, s.model, prompt, callOpts...)
			if err != nil {
				return err
			}
			answer = out
			return nil
		})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("%w: %w", ErrSynthesisFailed, err)
	}

	return strings.TrimSpace(answer), nil
}

// Prompt renders the prompt for question over candidates.
func (s *LLM) Prompt(question string, candidates []query.Candidate) (string, error) {
	prompt, err := s.template.Format(map[string]any{
		"context":  Evidence(candidates),
		"question": question,
	})
	if err != nil {
		return "", fmt.Errorf("%w: rendering prompt: %w", ErrSynthesisFailed, err)
	}
	return prompt, nil
}

// Evidence numbers candidates in rank order, each headed by its source.
func Evidence(candidates []query.Candidate) string {
	var b strings.Builder
	for i, c := range candidates {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] (%s", i+1, c.Collection)
		if name, ok := c.Locator[document.KeyFileName]; ok {
			fmt.Fprintf(&b, ", %s", document.FormatValue(name))
		}
		if page, ok := c.Locator[document.KeyPage]; ok {
			fmt.Fprintf(&b, ", page %s", document.FormatValue(page))
		}
		b.WriteString(")\n")
		text := c.Content
		if text == "" {
			text = c.Snippet
		}
		b.WriteString(strings.TrimSpace(text))
	}
	return b.String()
}

var _ query.Synthesizer = (*LLM)(nil)
