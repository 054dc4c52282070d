package embeddings

// fastEmbedDimensions maps accepted FastEmbed model names to dimensions.
var fastEmbedDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
	"fast-bge-small-en-v1.5":                 384,
	"fast-bge-small-en":                      384,
	"fast-bge-base-en-v1.5":                  768,
	"fast-bge-base-en":                       768,
	"fast-bge-small-zh-v1.5":                 512,
	"fast-all-MiniLM-L6-v2":                  384,
}

// FastEmbedConfig holds configuration for the FastEmbed provider.
type FastEmbedConfig struct {
	// Model defaults to BAAI/bge-small-en-v1.5.
	Model string

	// CacheDir holds downloaded model files. Default: ~/.cache/corpora/models.
	CacheDir string

	// MaxLength is the maximum input sequence length. Default: 512.
	MaxLength int

	// BatchSize bounds texts per ONNX run. Default: 256.
	BatchSize int
}

func (c *FastEmbedConfig) applyDefaults() {
	if c.Model == "" {
		c.Model = "BAAI/bge-small-en-v1.5"
	}
	if c.CacheDir == "" {
		c.CacheDir = "~/.cache/corpora/models"
	}
	if c.MaxLength == 0 {
		c.MaxLength = 512
	}
	if c.BatchSize == 0 {
		c.BatchSize = 256
	}
}
