package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/fyrsmithlabs/corpora/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_Accessors(t *testing.T) {
	cfg := config.Default()
	reg := NewRegistry(Options{Config: cfg})

	assert.Same(t, cfg, reg.Config())
	assert.Nil(t, reg.Embedder())
	assert.Nil(t, reg.VectorStore())
	assert.Nil(t, reg.Collections())
	assert.Nil(t, reg.Readers())
	assert.Nil(t, reg.Ingest())
	assert.Nil(t, reg.Query())
	assert.NoError(t, reg.Close())
}

func TestRegistry_CloseRunsInReverseAndJoinsErrors(t *testing.T) {
	var order []int
	boom := errors.New("boom")
	reg := NewRegistry(Options{Closers: []func() error{
		func() error { order = append(order, 1); return nil },
		func() error { order = append(order, 2); return boom },
		func() error { order = append(order, 3); return nil },
	}})

	err := reg.Close()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []int{3, 2, 1}, order)

	order = nil
	require.NoError(t, reg.Close())
	assert.Empty(t, order, "closers run once")
}

func TestBuild_Defaults(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.VectorStore.Path = filepath.Join(dir, "vectors")
	cfg.Registry.Path = filepath.Join(dir, "registry.db")

	// Defaults use Ollama with a known model, so no request is made here.
	reg, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	assert.Equal(t, 768, reg.Embedder().Dimension())
	assert.NotNil(t, reg.Ingest())
	assert.NotNil(t, reg.Query())
	assert.Contains(t, reg.Readers().Extensions(), ".csv")

	list, err := reg.Collections().List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestBuild_UnknownLLMProviderClosesOpenedServices(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.VectorStore.Path = filepath.Join(dir, "vectors")
	cfg.Registry.Path = filepath.Join(dir, "registry.db")
	cfg.LLM.Provider = "bard"

	_, err := Build(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "answer synthesizer")
}
