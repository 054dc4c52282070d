package vectorstore

import (
	"fmt"

	"github.com/fyrsmithlabs/corpora/internal/config"
	"go.uber.org/zap"
)

// NewStore creates a Store for cfg.VectorStore.Provider:
//   - "chromem" (default): embedded ChromemStore, no external service
//   - "qdrant": QdrantStore against an external server
//
// vectorSize is the embedder's output dimension; it sizes new Qdrant
// collections unless cfg.VectorStore.VectorSize overrides it.
//
//	store, err := vectorstore.NewStore(cfg, provider.Dimension(), logger)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func NewStore(cfg *config.Config, vectorSize int, logger *zap.Logger) (Store, error) {
	if cfg.VectorStore.VectorSize > 0 {
		vectorSize = cfg.VectorStore.VectorSize
	}

	switch cfg.VectorStore.Provider {
	case "chromem", "":
		return NewChromemStore(ChromemConfig{
			Path:     cfg.VectorStore.Path,
			Compress: cfg.VectorStore.Compress,
		}, logger)

	case "qdrant":
		if vectorSize <= 0 {
			return nil, fmt.Errorf("%w: qdrant needs a vector size", ErrInvalidConfig)
		}
		return NewQdrantStore(QdrantConfig{
			Host:         cfg.Qdrant.Host,
			Port:         cfg.Qdrant.Port,
			APIKey:       cfg.Qdrant.APIKey.Value(),
			UseTLS:       cfg.Qdrant.UseTLS,
			VectorSize:   uint64(vectorSize),
			MaxRetries:   cfg.Qdrant.MaxRetries,
			RetryBackoff: cfg.Qdrant.RetryBackoff.Duration(),
		}, logger)

	default:
		return nil, fmt.Errorf("%w: unsupported provider %q (supported: chromem, qdrant)",
			ErrInvalidConfig, cfg.VectorStore.Provider)
	}
}
