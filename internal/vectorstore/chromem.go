package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	providerChromem = "chromem"

	// payloadKey holds the JSON encoded metadata so value types survive the
	// string-only chromem metadata map.
	payloadKey = "_payload"
)

var chromemTracer = otel.Tracer("corpora.vectorstore.chromem")

// errVectorRequired is returned by the embedding func handed to chromem.
// Points always carry vectors, so chromem must never need to embed.
var errVectorRequired = errors.New("chromem store requires precomputed vectors")

// ChromemConfig holds configuration for the chromem-go embedded database.
type ChromemConfig struct {
	// Path is the directory for persistent storage. "~" is expanded.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Concurrency bounds parallel document writes. Default: 4.
	Concurrency int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.config/corpora/vectorstore"
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: path required", ErrInvalidConfig)
	}
	return nil
}

// ChromemStore implements Store on chromem-go.
//
// Data lives in memory and is persisted to gob files under Path on every write.
type ChromemStore struct {
	db     *chromem.DB
	path   string
	config ChromemConfig
	logger *zap.Logger

	// mu serializes collection create/delete so existence checks are atomic.
	mu sync.Mutex
}

// NewChromemStore opens (or creates) the database at config.Path.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	path, err := expandPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("%w: opening chromem DB: %v", ErrConnectionFailed, err)
	}

	logger.Info("chromem store initialized",
		zap.String("path", path),
		zap.Bool("compress", config.Compress),
	)

	return &ChromemStore{db: db, path: path, config: config, logger: logger}, nil
}

// embeddingFunc must be passed instead of nil: chromem-go falls back to its
// OpenAI embedder for persisted collections loaded with a nil func.
func embeddingFunc(context.Context, string) ([]float32, error) {
	return nil, errVectorRequired
}

func (s *ChromemStore) collection(name string) *chromem.Collection {
	return s.db.GetCollection(name, embeddingFunc)
}

// CreateCollection creates an empty collection.
func (s *ChromemStore) CreateCollection(ctx context.Context, name string) (err error) {
	_, span := chromemTracer.Start(ctx, "ChromemStore.CreateCollection")
	defer span.End()
	defer func(start time.Time) { observe(providerChromem, "create_collection", start, err) }(time.Now())
	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.collection(name) != nil {
		return fmt.Errorf("%w: %s", ErrCollectionExists, name)
	}
	if _, err := s.db.CreateCollection(name, nil, embeddingFunc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return backendError("creating collection", name, err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Info("created chromem collection", zap.String("collection", name))
	return nil
}

// DeleteCollection removes a collection and its files.
func (s *ChromemStore) DeleteCollection(ctx context.Context, name string) (err error) {
	_, span := chromemTracer.Start(ctx, "ChromemStore.DeleteCollection")
	defer span.End()
	defer func(start time.Time) { observe(providerChromem, "delete_collection", start, err) }(time.Now())
	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.collection(name) == nil {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if err := s.db.DeleteCollection(name); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return backendError("deleting collection", name, err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Info("deleted chromem collection", zap.String("collection", name))
	return nil
}

// CollectionExists checks if a collection exists.
func (s *ChromemStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	_, span := chromemTracer.Start(ctx, "ChromemStore.CollectionExists")
	defer span.End()

	if err := ValidateCollectionName(name); err != nil {
		return false, err
	}
	return s.collection(name) != nil, nil
}

// ListCollections returns collection names in sorted order.
func (s *ChromemStore) ListCollections(ctx context.Context) ([]string, error) {
	_, span := chromemTracer.Start(ctx, "ChromemStore.ListCollections")
	defer span.End()

	collections := s.db.ListCollections()
	names := make([]string, 0, len(collections))
	for name := range collections {
		names = append(names, name)
	}
	sort.Strings(names)

	span.SetAttributes(attribute.Int("collection_count", len(names)))
	return names, nil
}

// Count returns the number of vectors in a collection.
func (s *ChromemStore) Count(ctx context.Context, name string) (int, error) {
	_, span := chromemTracer.Start(ctx, "ChromemStore.Count")
	defer span.End()

	if err := ValidateCollectionName(name); err != nil {
		return 0, err
	}
	c := s.collection(name)
	if c == nil {
		return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return c.Count(), nil
}

// Insert adds points to a collection.
func (s *ChromemStore) Insert(ctx context.Context, name string, points []Point) (ids []string, err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Insert")
	defer span.End()
	defer func(start time.Time) { observe(providerChromem, "insert", start, err) }(time.Now())
	span.SetAttributes(
		attribute.String("collection", name),
		attribute.Int("point_count", len(points)),
	)

	if err := ValidateCollectionName(name); err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, ErrEmptyPoints
	}
	c := s.collection(name)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}

	docs := make([]chromem.Document, len(points))
	ids = make([]string, len(points))
	for i, p := range points {
		if len(p.Vector) == 0 {
			return nil, fmt.Errorf("point %d: %w", i, errVectorRequired)
		}
		id := p.ID
		if id == "" {
			id = uuid.NewString()
		}
		md, err := encodeChromemMetadata(p.Metadata)
		if err != nil {
			return nil, fmt.Errorf("point %d: encoding metadata: %w", i, err)
		}
		docs[i] = chromem.Document{
			ID:        id,
			Metadata:  md,
			Embedding: p.Vector,
			Content:   p.Content,
		}
		ids[i] = id
	}

	if err := c.AddDocuments(ctx, docs, s.config.Concurrency); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, backendError("inserting into", name, err)
	}

	PointsInserted.WithLabelValues(providerChromem).Add(float64(len(docs)))
	span.SetStatus(codes.Ok, "success")
	return ids, nil
}

// Query returns up to k nearest points.
func (s *ChromemStore) Query(ctx context.Context, name string, vector []float32, k int) (hits []ScoredPoint, err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Query")
	defer span.End()
	defer func(start time.Time) { observe(providerChromem, "query", start, err) }(time.Now())
	span.SetAttributes(
		attribute.String("collection", name),
		attribute.Int("k", k),
	)

	if err := ValidateCollectionName(name); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	c := s.collection(name)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}

	// chromem rejects nResults larger than the collection.
	n := c.Count()
	if n == 0 {
		return nil, nil
	}
	if k > n {
		k = n
	}

	results, err := c.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, backendError("querying", name, err)
	}

	hits = make([]ScoredPoint, len(results))
	for i, r := range results {
		hits[i] = ScoredPoint{
			ID:       r.ID,
			Content:  r.Content,
			Metadata: decodeChromemMetadata(r.Metadata),
			Score:    r.Similarity,
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// Locator describes the on-disk location of a collection.
func (s *ChromemStore) Locator(name string) string {
	return "chromem://" + s.path + "#" + name
}

// Close is a no-op; chromem persists on every write.
func (s *ChromemStore) Close() error {
	s.logger.Debug("chromem store closed")
	return nil
}

// encodeChromemMetadata flattens metadata to strings and keeps a typed JSON copy.
func encodeChromemMetadata(metadata map[string]any) (map[string]string, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		out[k] = fmt.Sprint(v)
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	out[payloadKey] = string(raw)
	return out, nil
}

// decodeChromemMetadata restores typed metadata, falling back to the flat strings.
func decodeChromemMetadata(metadata map[string]string) map[string]any {
	if len(metadata) == 0 {
		return nil
	}
	if raw, ok := metadata[payloadKey]; ok {
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.UseNumber()
		var typed map[string]any
		if err := dec.Decode(&typed); err == nil {
			for k, v := range typed {
				if n, ok := v.(json.Number); ok {
					typed[k] = numberValue(n)
				}
			}
			return typed
		}
	}
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		if k != payloadKey {
			out[k] = v
		}
	}
	return out
}

var _ Store = (*ChromemStore)(nil)
