package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoadWithFile_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadWithFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "chromem", cfg.VectorStore.Provider)
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
	assert.Equal(t, "nomic-embed-text", cfg.Embeddings.Model)
	assert.Equal(t, "qwen2.5:7b", cfg.LLM.Model)
	assert.Equal(t, "merge", cfg.Ingest.DefaultPolicy)
	assert.InDelta(t, 0.95, cfg.Ingest.DuplicateThreshold, 1e-9)
	assert.Equal(t, 200, cfg.Ingest.ProbeLength)
	assert.Equal(t, 5, cfg.Query.TopK)
	assert.Equal(t, 200, cfg.Query.SnippetLength)
	assert.Equal(t, time.Second, cfg.Qdrant.RetryBackoff.Duration())
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Registry.LockTTL.Duration())
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	path := writeConfig(t, `
vectorstore:
  provider: qdrant
qdrant:
  host: qdrant.internal
  port: 6334
  api_key: s3cret
  retry_backoff: 250ms
ingest:
  default_policy: append
  duplicate_threshold: 0.9
query:
  top_k: 8
`, 0600)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, "qdrant", cfg.VectorStore.Provider)
	assert.Equal(t, "qdrant.internal", cfg.Qdrant.Host)
	assert.Equal(t, "s3cret", cfg.Qdrant.APIKey.Value())
	assert.Equal(t, "[REDACTED]", cfg.Qdrant.APIKey.String())
	assert.Equal(t, 250*time.Millisecond, cfg.Qdrant.RetryBackoff.Duration())
	assert.Equal(t, "append", cfg.Ingest.DefaultPolicy)
	assert.InDelta(t, 0.9, cfg.Ingest.DuplicateThreshold, 1e-9)
	assert.Equal(t, 8, cfg.Query.TopK)
}

func TestLoadWithFile_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "query:\n  top_k: 8\n", 0600)
	t.Setenv("CORPORA_QUERY_TOP_K", "3")
	t.Setenv("CORPORA_INGEST_DUPLICATE_THRESHOLD", "0.97")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Query.TopK)
	assert.InDelta(t, 0.97, cfg.Ingest.DuplicateThreshold, 1e-9)
}

func TestLoadWithFile_RejectsInsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	path := writeConfig(t, "query:\n  top_k: 8\n", 0644)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigFile)
}

func TestLoadWithFile_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown provider", "vectorstore:\n  provider: pinecone\n"},
		{"bad policy", "ingest:\n  default_policy: upsert\n"},
		{"threshold above one", "ingest:\n  duplicate_threshold: 1.5\n"},
		{"negative top_k", "query:\n  top_k: -1\n"},
		{"overlap exceeds chunk", "ingest:\n  chunk_size: 10\n  chunk_overlap: 20\n"},
		{"server port out of range", "server:\n  port: 70000\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadWithFile(writeConfig(t, tt.yaml, 0600))
			assert.Error(t, err)
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "qdrant.host", envKey("CORPORA_QDRANT_HOST"))
	assert.Equal(t, "ingest.duplicate_threshold", envKey("CORPORA_INGEST_DUPLICATE_THRESHOLD"))
	assert.Equal(t, "debug", envKey("CORPORA_DEBUG"))
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandPath("~/data")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data"), got)

	got, err = ExpandPath("/var/lib/corpora")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/corpora", got)
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("token")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "token", s.Value())
	assert.True(t, s.IsSet())

	b, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(b))

	assert.Equal(t, "", Secret("").String())
}
