package embeddings

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/fyrsmithlabs/corpora/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient implements the langchaingo EmbedderClient.
type fakeClient struct {
	dim   int
	err   error
	calls int
}

func (f *fakeClient) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, f.dim)
		v[0] = float32(len(t))
		out[i] = v
	}
	return out, nil
}

// flakyProvider fails the first failures calls.
type flakyProvider struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    int
}

func (f *flakyProvider) next() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return nil
}

func (f *flakyProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if err := f.next(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (f *flakyProvider) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	if err := f.next(); err != nil {
		return nil, err
	}
	return []float32{1, 0, 0}, nil
}

func (f *flakyProvider) Dimension() int { return 3 }
func (f *flakyProvider) Close() error   { return nil }

func TestLangChainProvider_KnownModelDimension(t *testing.T) {
	client := &fakeClient{dim: 768}
	p, err := newLangChainProvider(context.Background(), client, LangChainConfig{Model: "nomic-embed-text:latest"})
	require.NoError(t, err)

	assert.Equal(t, 768, p.Dimension())
	assert.Equal(t, 0, client.calls, "known models must not be probed")
}

func TestLangChainProvider_ProbesUnknownModel(t *testing.T) {
	client := &fakeClient{dim: 12}
	p, err := newLangChainProvider(context.Background(), client, LangChainConfig{Model: "custom-embedder"})
	require.NoError(t, err)

	assert.Equal(t, 12, p.Dimension())
	assert.Equal(t, 1, client.calls)
}

func TestLangChainProvider_ProbeFailure(t *testing.T) {
	client := &fakeClient{dim: 12, err: errors.New("connection refused")}
	_, err := newLangChainProvider(context.Background(), client, LangChainConfig{Model: "custom-embedder"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestLangChainProvider_Embed(t *testing.T) {
	client := &fakeClient{dim: 4}
	p, err := newLangChainProvider(context.Background(), client, LangChainConfig{Model: "m", Dimension: 4})
	require.NoError(t, err)

	vecs, err := p.EmbedDocuments(context.Background(), []string{"a", "bbb"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, float32(1), vecs[0][0])
	assert.Equal(t, float32(3), vecs[1][0])

	_, err = p.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = p.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestLimited_RetriesTransientFailures(t *testing.T) {
	inner := &flakyProvider{failures: 2, err: errors.New("503 service unavailable")}
	l := NewLimited(inner, LimitedConfig{Model: "m", MaxRetries: 3, Backoff: 1}, nil)

	vec, err := l.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
	assert.Equal(t, 3, inner.calls)
}

func TestLimited_GivesUpAfterMaxRetries(t *testing.T) {
	inner := &flakyProvider{failures: 10, err: errors.New("timeout")}
	l := NewLimited(inner, LimitedConfig{Model: "m", MaxRetries: 2, Backoff: 1}, nil)

	_, err := l.EmbedDocuments(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Equal(t, 3, inner.calls)
}

func TestLimited_DoesNotRetryInputErrors(t *testing.T) {
	inner := &flakyProvider{failures: 10, err: ErrEmptyInput}
	l := NewLimited(inner, LimitedConfig{Model: "m", MaxRetries: 5, Backoff: 1}, nil)

	_, err := l.EmbedQuery(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Equal(t, 1, inner.calls)
}

func TestLimited_RejectsEmptyInput(t *testing.T) {
	inner := &flakyProvider{}
	l := NewLimited(inner, LimitedConfig{}, nil)

	_, err := l.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
	_, err = l.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Equal(t, 0, inner.calls)
	assert.Equal(t, 3, l.Dimension())
}

func TestLimited_CanceledContext(t *testing.T) {
	inner := &flakyProvider{failures: 10, err: errors.New("boom")}
	l := NewLimited(inner, LimitedConfig{MaxRetries: 5, RateLimit: 0.001, Burst: 1}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.EmbedQuery(ctx, "x")
	require.Error(t, err)
}

func TestModelDimension(t *testing.T) {
	tests := []struct {
		model string
		dim   int
		ok    bool
	}{
		{"nomic-embed-text", 768, true},
		{"nomic-embed-text:v1.5", 768, true},
		{"text-embedding-3-small", 1536, true},
		{"mystery", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			dim, ok := modelDimension(tt.model)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.dim, dim)
		})
	}
}

func TestNewProvider_UnknownProvider(t *testing.T) {
	_, err := NewProvider(context.Background(), config.EmbeddingsConfig{Provider: "word2vec"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewProvider_OllamaKnownModel(t *testing.T) {
	p, err := NewProvider(context.Background(), config.EmbeddingsConfig{
		Provider: "ollama",
		Model:    "nomic-embed-text",
		BaseURL:  "http://127.0.0.1:1",
	}, nil)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 768, p.Dimension())
	_, ok := p.(*Limited)
	assert.True(t, ok)
}

func TestNewProvider_MissingModel(t *testing.T) {
	_, err := NewProvider(context.Background(), config.EmbeddingsConfig{Provider: "openai"}, nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "model required"))
}

func TestKnownDimension(t *testing.T) {
	dim, ok := KnownDimension("BAAI/bge-small-en-v1.5")
	assert.True(t, ok)
	assert.Equal(t, 384, dim)

	dim, ok = KnownDimension("nomic-embed-text:latest")
	assert.True(t, ok)
	assert.Equal(t, 768, dim)

	_, ok = KnownDimension("mystery")
	assert.False(t, ok)
}
