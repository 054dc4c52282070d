package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/corpora/internal/retry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// LimitedConfig tunes the Limited wrapper.
type LimitedConfig struct {
	// Model labels metrics.
	Model string

	// RateLimit is requests per second. Zero disables limiting.
	RateLimit float64

	// Burst is the limiter bucket size. Default: 1.
	Burst int

	// MaxRetries bounds retries of failed requests.
	MaxRetries int

	// Backoff is the initial retry delay. Default: 500ms.
	Backoff time.Duration

	// Timeout bounds each attempt. Zero means no per-attempt timeout.
	Timeout time.Duration
}

// Limited wraps a Provider with a token-bucket rate limiter, bounded retries
// and metrics. Input validation errors are never retried.
type Limited struct {
	next    Provider
	cfg     LimitedConfig
	limiter *rate.Limiter
	metrics *Metrics
	logger  *zap.Logger
}

// NewLimited wraps next.
func NewLimited(next Provider, cfg LimitedConfig, logger *zap.Logger) *Limited {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	return &Limited{
		next:    next,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		metrics: NewMetrics(logger),
		logger:  logger,
	}
}

// EmbedDocuments embeds texts through the wrapped provider.
func (l *Limited) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	var vectors [][]float32
	err := l.do(ctx, "embed_documents", len(texts), func(ctx context.Context) error {
		v, err := l.next.EmbedDocuments(ctx, texts)
		if err != nil {
			return err
		}
		vectors = v
		return nil
	})
	return vectors, err
}

// EmbedQuery embeds a query through the wrapped provider.
func (l *Limited) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	var vec []float32
	err := l.do(ctx, "embed_query", 1, func(ctx context.Context) error {
		v, err := l.next.EmbedQuery(ctx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	return vec, err
}

// Dimension returns the wrapped provider's dimension.
func (l *Limited) Dimension() int {
	return l.next.Dimension()
}

// Close closes the wrapped provider.
func (l *Limited) Close() error {
	return l.next.Close()
}

func (l *Limited) do(ctx context.Context, operation string, batch int, op func(ctx context.Context) error) error {
	start := time.Now()
	attempt := 0

	err := retry.Do(ctx, retry.Policy{MaxRetries: l.cfg.MaxRetries, Backoff: l.cfg.Backoff}, operation,
		func(err error) bool {
			if !isRetryable(err) {
				return false
			}
			l.metrics.RecordRetry(ctx, l.cfg.Model, operation)
			l.logger.Debug("retrying embedding request",
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return true
		},
		func(ctx context.Context) error {
			attempt++
			if err := l.limiter.Wait(ctx); err != nil {
				return err
			}
			if l.cfg.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, l.cfg.Timeout)
				defer cancel()
			}
			return op(ctx)
		})

	l.metrics.RecordGeneration(ctx, l.cfg.Model, operation, time.Since(start), batch, err)
	if err != nil && !errors.Is(err, ErrEmbeddingFailed) && !errors.Is(err, ErrEmptyInput) {
		err = fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	return err
}

// isRetryable excludes input errors and caller cancellation.
func isRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrEmptyInput), errors.Is(err, ErrInvalidConfig):
		return false
	case errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}

var _ Provider = (*Limited)(nil)
