package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/corpora/internal/config"
	"github.com/fyrsmithlabs/corpora/internal/logging"
	"go.uber.org/zap"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Embedder generates vectors for documents and queries.
type Embedder interface {
	// EmbedDocuments returns one vector per text, in input order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery returns the vector for a single query string.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Provider is an Embedder with a known output dimension.
type Provider interface {
	Embedder
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// knownDimensions maps common embedding models to their output size.
var knownDimensions = map[string]int{
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"snowflake-arctic-embed": 1024,
	"bge-m3":                 1024,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// modelDimension looks up a model, ignoring an Ollama ":tag" suffix.
func modelDimension(model string) (int, bool) {
	if dim, ok := knownDimensions[model]; ok {
		return dim, true
	}
	if base, _, found := strings.Cut(model, ":"); found {
		dim, ok := knownDimensions[base]
		return dim, ok
	}
	return 0, false
}

// KnownDimension reports the output size of a model without loading it.
func KnownDimension(model string) (int, bool) {
	if dim, ok := modelDimension(model); ok {
		return dim, true
	}
	dim, ok := fastEmbedDimensions[model]
	return dim, ok
}

// NewProvider creates the provider named by cfg.Provider wrapped in Limited.
//
// Unknown Ollama or OpenAI models have their dimension discovered with a
// single probe embedding, so ctx bounds that request.
func NewProvider(ctx context.Context, cfg config.EmbeddingsConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case "ollama", "":
		p, err = NewOllamaProvider(ctx, LangChainConfig{
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout.Duration(),
		})
	case "openai":
		p, err = NewOpenAIProvider(ctx, LangChainConfig{
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey.Value(),
			Timeout: cfg.Timeout.Duration(),
		})
	case "fastembed":
		p, err = NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("embedding provider initialized",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Int("dimension", p.Dimension()),
		logging.Secret("api_key", cfg.APIKey),
	)

	return NewLimited(p, LimitedConfig{
		Model:      cfg.Model,
		RateLimit:  cfg.RateLimit,
		Burst:      cfg.Burst,
		MaxRetries: cfg.MaxRetries,
		Timeout:    cfg.Timeout.Duration(),
	}, logger), nil
}
