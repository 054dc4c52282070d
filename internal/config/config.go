// Package config provides configuration loading for corpora.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration for corpora.
type Config struct {
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Qdrant      QdrantConfig      `koanf:"qdrant"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	LLM         LLMConfig         `koanf:"llm"`
	Registry    RegistryConfig    `koanf:"registry"`
	Ingest      IngestConfig      `koanf:"ingest"`
	Query       QueryConfig       `koanf:"query"`
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// VectorStoreConfig selects and configures the vector backend.
type VectorStoreConfig struct {
	// Provider is "chromem" (embedded, default) or "qdrant".
	Provider   string `koanf:"provider"`
	Path       string `koanf:"path"`
	Compress   bool   `koanf:"compress"`
	VectorSize int    `koanf:"vector_size"`
}

// QdrantConfig holds Qdrant gRPC connection settings.
type QdrantConfig struct {
	Host         string   `koanf:"host"`
	Port         int      `koanf:"port"`
	UseTLS       bool     `koanf:"use_tls"`
	APIKey       Secret   `koanf:"api_key"`
	MaxRetries   int      `koanf:"max_retries"`
	RetryBackoff Duration `koanf:"retry_backoff"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "ollama" (default), "openai" or "fastembed".
	Provider   string   `koanf:"provider"`
	Model      string   `koanf:"model"`
	BaseURL    string   `koanf:"base_url"`
	APIKey     Secret   `koanf:"api_key"`
	CacheDir   string   `koanf:"cache_dir"`
	RateLimit  float64  `koanf:"rate_limit"`
	Burst      int      `koanf:"burst"`
	MaxRetries int      `koanf:"max_retries"`
	Timeout    Duration `koanf:"timeout"`
}

// LLMConfig configures the answer synthesizer.
type LLMConfig struct {
	// Provider is "ollama" (default) or "openai".
	Provider    string   `koanf:"provider"`
	Model       string   `koanf:"model"`
	BaseURL     string   `koanf:"base_url"`
	APIKey      Secret   `koanf:"api_key"`
	Temperature float64  `koanf:"temperature"`
	MaxTokens   int      `koanf:"max_tokens"`
	Timeout     Duration `koanf:"timeout"`
	RateLimit   float64  `koanf:"rate_limit"`
	MaxRetries  int      `koanf:"max_retries"`
}

// RegistryConfig locates the collection registry database.
type RegistryConfig struct {
	Path string `koanf:"path"`

	// LockTTL bounds how long a crashed writer's lease blocks other writers.
	LockTTL Duration `koanf:"lock_ttl"`
}

// IngestConfig tunes ingestion.
type IngestConfig struct {
	DefaultPolicy      string  `koanf:"default_policy"`
	DuplicateThreshold float64 `koanf:"duplicate_threshold"`
	ProbeLength        int     `koanf:"probe_length"`
	ChunkSize          int     `koanf:"chunk_size"`
	ChunkOverlap       int     `koanf:"chunk_overlap"`
	// IgnoreFiles are gitignore-style files read at the root of an ingested
	// directory. Default: [.corporaignore].
	IgnoreFiles []string `koanf:"ignore_files"`
}

// QueryConfig tunes retrieval.
type QueryConfig struct {
	TopK           int `koanf:"top_k"`
	SnippetLength  int `koanf:"snippet_length"`
	MaxConcurrency int `koanf:"max_concurrency"`
}

// ServerConfig configures the HTTP API started by "corpora serve".
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	MaxUploadBytes  int64    `koanf:"max_upload_bytes"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled         bool     `koanf:"enabled"`
	Endpoint        string   `koanf:"endpoint"`
	Protocol        string   `koanf:"protocol"`
	Insecure        bool     `koanf:"insecure"`
	ServiceName     string   `koanf:"service_name"`
	ServiceVersion  string   `koanf:"service_version"`
	SampleRate      float64  `koanf:"sample_rate"`
	MetricsEnabled  bool     `koanf:"metrics_enabled"`
	ExportInterval  Duration `koanf:"export_interval"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	switch c.VectorStore.Provider {
	case "chromem":
		if c.VectorStore.Path == "" {
			errs = append(errs, errors.New("vectorstore.path is required for chromem"))
		}
	case "qdrant":
		if c.Qdrant.Host == "" {
			errs = append(errs, errors.New("qdrant.host is required"))
		}
		if c.Qdrant.Port <= 0 || c.Qdrant.Port > 65535 {
			errs = append(errs, fmt.Errorf("qdrant.port out of range: %d", c.Qdrant.Port))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported vectorstore.provider %q", c.VectorStore.Provider))
	}
	if c.VectorStore.VectorSize < 0 {
		errs = append(errs, errors.New("vectorstore.vector_size cannot be negative"))
	}

	switch c.Embeddings.Provider {
	case "ollama", "openai", "fastembed":
	default:
		errs = append(errs, fmt.Errorf("unsupported embeddings.provider %q", c.Embeddings.Provider))
	}
	if c.Embeddings.RateLimit < 0 {
		errs = append(errs, errors.New("embeddings.rate_limit cannot be negative"))
	}

	switch c.LLM.Provider {
	case "ollama", "openai":
	default:
		errs = append(errs, fmt.Errorf("unsupported llm.provider %q", c.LLM.Provider))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature must be between 0 and 2, got %g", c.LLM.Temperature))
	}

	if c.Registry.Path == "" {
		errs = append(errs, errors.New("registry.path is required"))
	}

	switch strings.ToLower(c.Ingest.DefaultPolicy) {
	case "replace", "append", "merge":
	default:
		errs = append(errs, fmt.Errorf("unsupported ingest.default_policy %q", c.Ingest.DefaultPolicy))
	}
	if c.Ingest.DuplicateThreshold <= 0 || c.Ingest.DuplicateThreshold > 1 {
		errs = append(errs, fmt.Errorf("ingest.duplicate_threshold must be in (0, 1], got %g", c.Ingest.DuplicateThreshold))
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		errs = append(errs, errors.New("ingest.chunk_overlap must be smaller than ingest.chunk_size"))
	}

	if c.Query.TopK <= 0 {
		errs = append(errs, errors.New("query.top_k must be positive"))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			errs = append(errs, errors.New("telemetry.endpoint is required when telemetry is enabled"))
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			errs = append(errs, fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %g", c.Telemetry.SampleRate))
		}
	}

	return errors.Join(errs...)
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	// VectorStore defaults (chromem is default - embedded, no external deps)
	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.Path == "" {
		cfg.VectorStore.Path = "~/.config/corpora/vectorstore"
	}

	if cfg.Qdrant.Host == "" {
		cfg.Qdrant.Host = "localhost"
	}
	if cfg.Qdrant.Port == 0 {
		cfg.Qdrant.Port = 6334
	}
	if cfg.Qdrant.MaxRetries == 0 {
		cfg.Qdrant.MaxRetries = 3
	}
	if cfg.Qdrant.RetryBackoff == 0 {
		cfg.Qdrant.RetryBackoff = Duration(time.Second)
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "ollama"
	}
	if cfg.Embeddings.Model == "" {
		switch cfg.Embeddings.Provider {
		case "fastembed":
			cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
		case "openai":
			cfg.Embeddings.Model = "text-embedding-3-small"
		default:
			cfg.Embeddings.Model = "nomic-embed-text"
		}
	}
	if cfg.Embeddings.BaseURL == "" && cfg.Embeddings.Provider == "ollama" {
		cfg.Embeddings.BaseURL = "http://localhost:11434"
	}
	if cfg.Embeddings.Burst == 0 {
		cfg.Embeddings.Burst = 4
	}
	if cfg.Embeddings.MaxRetries == 0 {
		cfg.Embeddings.MaxRetries = 3
	}
	if cfg.Embeddings.Timeout == 0 {
		cfg.Embeddings.Timeout = Duration(60 * time.Second)
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "ollama"
	}
	if cfg.LLM.Model == "" {
		if cfg.LLM.Provider == "openai" {
			cfg.LLM.Model = "gpt-4o-mini"
		} else {
			cfg.LLM.Model = "qwen2.5:7b"
		}
	}
	if cfg.LLM.BaseURL == "" && cfg.LLM.Provider == "ollama" {
		cfg.LLM.BaseURL = "http://localhost:11434"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.1
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 1024
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = Duration(120 * time.Second)
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 2
	}

	if cfg.Registry.Path == "" {
		cfg.Registry.Path = "~/.config/corpora/registry.db"
	}
	if cfg.Registry.LockTTL == 0 {
		cfg.Registry.LockTTL = Duration(30 * time.Second)
	}

	if cfg.Ingest.DefaultPolicy == "" {
		cfg.Ingest.DefaultPolicy = "merge"
	}
	if cfg.Ingest.DuplicateThreshold == 0 {
		cfg.Ingest.DuplicateThreshold = 0.95
	}
	if cfg.Ingest.ProbeLength == 0 {
		cfg.Ingest.ProbeLength = 200
	}
	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = 1024
	}
	if cfg.Ingest.ChunkOverlap == 0 {
		cfg.Ingest.ChunkOverlap = 50
	}

	if cfg.Query.TopK == 0 {
		cfg.Query.TopK = 5
	}
	if cfg.Query.SnippetLength == 0 {
		cfg.Query.SnippetLength = 200
	}
	if cfg.Query.MaxConcurrency == 0 {
		cfg.Query.MaxConcurrency = 4
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 32 << 20
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "corpora"
	}
	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = "0.1.0"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = Duration(15 * time.Second)
	}
	if cfg.Telemetry.ShutdownTimeout == 0 {
		cfg.Telemetry.ShutdownTimeout = Duration(5 * time.Second)
	}
}
