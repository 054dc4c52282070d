package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"time"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChainConfig configures an HTTP embedding backend reached through langchaingo.
type LangChainConfig struct {
	// Model is the embedding model name, e.g. "nomic-embed-text".
	Model string

	// BaseURL is the server URL. Ollama defaults to http://localhost:11434;
	// OpenAI defaults to the public API.
	BaseURL string

	// APIKey authenticates OpenAI-compatible endpoints.
	APIKey string

	// Timeout bounds each HTTP request. Zero means no client timeout.
	Timeout time.Duration

	// Dimension overrides dimension lookup and probing.
	Dimension int
}

// LangChainProvider adapts a langchaingo embedder to Provider.
type LangChainProvider struct {
	embedder  lcembeddings.Embedder
	dimension int
}

// NewOllamaProvider embeds through an Ollama server.
func NewOllamaProvider(ctx context.Context, cfg LangChainConfig) (*LangChainProvider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, ollama.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating ollama client: %w", err)
	}
	return newLangChainProvider(ctx, llm, cfg)
}

// NewOpenAIProvider embeds through the OpenAI API or a compatible server (TEI, vLLM).
func NewOpenAIProvider(ctx context.Context, cfg LangChainConfig) (*LangChainProvider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		// langchaingo requires a token; self-hosted compatible servers ignore it.
		apiKey = "placeholder"
	}
	opts := []openai.Option{
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(apiKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, openai.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}
	return newLangChainProvider(ctx, llm, cfg)
}

// newLangChainProvider resolves the dimension from the override, the known
// model table, or a probe embedding, in that order.
func newLangChainProvider(ctx context.Context, client lcembeddings.EmbedderClient, cfg LangChainConfig) (*LangChainProvider, error) {
	embedder, err := lcembeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	p := &LangChainProvider{embedder: embedder, dimension: cfg.Dimension}
	if p.dimension > 0 {
		return p, nil
	}
	if dim, ok := modelDimension(cfg.Model); ok {
		p.dimension = dim
		return p, nil
	}

	vec, err := p.EmbedQuery(ctx, "dimension probe")
	if err != nil {
		return nil, fmt.Errorf("probing dimension of %q: %w", cfg.Model, err)
	}
	p.dimension = len(vec)
	return p, nil
}

// EmbedDocuments generates embeddings for multiple texts.
func (p *LangChainProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), len(texts))
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *LangChainProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vec, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: empty vector", ErrEmbeddingFailed)
	}
	return vec, nil
}

// Dimension returns the embedding dimension.
func (p *LangChainProvider) Dimension() int {
	return p.dimension
}

// Close is a no-op; the HTTP clients hold no resources.
func (p *LangChainProvider) Close() error {
	return nil
}

var _ Provider = (*LangChainProvider)(nil)
