package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/corpora/internal/retry"
)

const (
	providerQdrant = "qdrant"

	// Reserved payload fields.
	payloadContent = "content"
	payloadID      = "id"
)

var qdrantTracer = otel.Tracer("corpora.vectorstore.qdrant")

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname. Default: "localhost".
	Host string

	// Port is the gRPC port (not the HTTP port). Default: 6334.
	Port int

	// APIKey is sent with every request when set.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// VectorSize is the embedding dimension used for new collections.
	VectorSize uint64

	// MaxRetries bounds retries of transient failures. Default: 3.
	MaxRetries int

	// RetryBackoff is the initial backoff. Default: 1s.
	RetryBackoff time.Duration

	// MaxMessageSize caps gRPC messages. Default: 50MB.
	MaxMessageSize int

	// CircuitBreakerThreshold is the number of consecutive transient
	// failures that open the circuit for 30s. Default: 5.
	CircuitBreakerThreshold int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

// IsTransientError reports gRPC failures worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// isNotFound also matches wrapped errors; status.FromError unwraps.
func isNotFound(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == grpccodes.NotFound
}

// qdrantAPI is the subset of *qdrant.Client the store uses.
type qdrantAPI interface {
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	DeleteCollection(ctx context.Context, collectionName string) error
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	ListCollections(ctx context.Context) ([]string, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	Close() error
}

// QdrantStore implements Store on Qdrant's native gRPC API.
type QdrantStore struct {
	client qdrantAPI
	config QdrantConfig
	logger *zap.Logger

	circuitBreaker struct {
		mu       sync.Mutex
		failures int
		lastFail time.Time
	}
}

// NewQdrantStore connects to Qdrant and performs a health check.
func NewQdrantStore(config QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if !config.UseTLS {
		logger.Warn("qdrant gRPC using plaintext (TLS disabled)",
			zap.String("host", config.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := newQdrantStore(client, config, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}

	logger.Info("qdrant store initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.Uint64("vector_size", config.VectorSize),
	)
	return store, nil
}

func newQdrantStore(client qdrantAPI, config QdrantConfig, logger *zap.Logger) *QdrantStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QdrantStore{client: client, config: config, logger: logger}
}

// retryOperation retries transient failures with exponential backoff behind a
// circuit breaker.
func (s *QdrantStore) retryOperation(ctx context.Context, name string, op func(ctx context.Context) error) error {
	if s.isCircuitOpen() {
		return fmt.Errorf("%s: circuit breaker open", name)
	}
	policy := retry.Policy{MaxRetries: s.config.MaxRetries, Backoff: s.config.RetryBackoff}
	err := retry.Do(ctx, policy, name, func(err error) bool {
		if !IsTransientError(err) {
			return false
		}
		s.recordFailure()
		return !s.isCircuitOpen()
	}, op)
	if err == nil {
		s.resetCircuitBreaker()
	}
	return err
}

func (s *QdrantStore) recordFailure() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures++
	s.circuitBreaker.lastFail = time.Now()
}

func (s *QdrantStore) resetCircuitBreaker() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures = 0
}

func (s *QdrantStore) isCircuitOpen() bool {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()

	if s.circuitBreaker.failures >= s.config.CircuitBreakerThreshold {
		if time.Since(s.circuitBreaker.lastFail) > 30*time.Second {
			s.circuitBreaker.failures = 0
			return false
		}
		return true
	}
	return false
}

// CreateCollection creates a cosine-distance collection sized to VectorSize.
func (s *QdrantStore) CreateCollection(ctx context.Context, name string) (err error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.CreateCollection")
	defer span.End()
	defer func(start time.Time) { observe(providerQdrant, "create_collection", start, err) }(time.Now())
	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return err
	}

	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrCollectionExists, name)
	}

	err = s.retryOperation(ctx, "create_collection", func(ctx context.Context) error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.config.VectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.AlreadyExists {
			return fmt.Errorf("%w: %s", ErrCollectionExists, name)
		}
		return backendError("creating collection", name, err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Info("created qdrant collection", zap.String("collection", name))
	return nil
}

// DeleteCollection deletes a collection and all its points.
func (s *QdrantStore) DeleteCollection(ctx context.Context, name string) (err error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.DeleteCollection")
	defer span.End()
	defer func(start time.Time) { observe(providerQdrant, "delete_collection", start, err) }(time.Now())
	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return err
	}

	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}

	err = s.retryOperation(ctx, "delete_collection", func(ctx context.Context) error {
		return s.client.DeleteCollection(ctx, name)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return backendError("deleting collection", name, err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Info("deleted qdrant collection", zap.String("collection", name))
	return nil
}

// CollectionExists checks if a collection exists.
func (s *QdrantStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.CollectionExists")
	defer span.End()

	if err := ValidateCollectionName(name); err != nil {
		return false, err
	}

	var exists bool
	err := s.retryOperation(ctx, "collection_exists", func(ctx context.Context) error {
		ok, err := s.client.CollectionExists(ctx, name)
		if err != nil {
			return err
		}
		exists = ok
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return false, backendError("checking collection", name, err)
	}
	return exists, nil
}

// ListCollections returns all collection names.
func (s *QdrantStore) ListCollections(ctx context.Context) ([]string, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.ListCollections")
	defer span.End()

	var names []string
	err := s.retryOperation(ctx, "list_collections", func(ctx context.Context) error {
		res, err := s.client.ListCollections(ctx)
		if err != nil {
			return err
		}
		names = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, backendError("listing", "collections", err)
	}
	span.SetAttributes(attribute.Int("collection_count", len(names)))
	return names, nil
}

// Count returns the exact number of points in a collection.
func (s *QdrantStore) Count(ctx context.Context, name string) (int, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Count")
	defer span.End()

	if err := ValidateCollectionName(name); err != nil {
		return 0, err
	}

	var n uint64
	err := s.retryOperation(ctx, "count", func(ctx context.Context) error {
		res, err := s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: name,
			Exact:          qdrant.PtrOf(true),
		})
		if err != nil {
			return err
		}
		n = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		if isNotFound(err) {
			return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
		}
		return 0, backendError("counting", name, err)
	}
	return int(n), nil
}

// Insert upserts points and waits for them to be indexed.
func (s *QdrantStore) Insert(ctx context.Context, name string, points []Point) (ids []string, err error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Insert")
	defer span.End()
	defer func(start time.Time) { observe(providerQdrant, "insert", start, err) }(time.Now())
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

	structs := make([]*qdrant.PointStruct, len(points))
	ids = make([]string, len(points))
	for i, p := range points {
		if uint64(len(p.Vector)) != s.config.VectorSize {
			return nil, fmt.Errorf("point %d: vector size %d does not match collection size %d",
				i, len(p.Vector), s.config.VectorSize)
		}
		// Qdrant ids must be UUIDs or integers.
		id := p.ID
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		ids[i] = id
		structs[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(id),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: toPayload(id, p.Content, p.Metadata),
		}
	}

	err = s.retryOperation(ctx, "upsert", func(ctx context.Context) error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: name,
			Wait:           qdrant.PtrOf(true),
			Points:         structs,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
		}
		return nil, backendError("inserting into", name, err)
	}

	PointsInserted.WithLabelValues(providerQdrant).Add(float64(len(structs)))
	span.SetStatus(codes.Ok, "success")
	return ids, nil
}

// Query returns up to k nearest points with payloads.
func (s *QdrantStore) Query(ctx context.Context, name string, vector []float32, k int) (hits []ScoredPoint, err error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Query")
	defer span.End()
	defer func(start time.Time) { observe(providerQdrant, "query", start, err) }(time.Now())
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

	var results []*qdrant.ScoredPoint
	err = s.retryOperation(ctx, "query", func(ctx context.Context) error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: name,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
		}
		return nil, backendError("querying", name, err)
	}

	hits = make([]ScoredPoint, len(results))
	for i, point := range results {
		hits[i] = fromPayload(point.Payload)
		hits[i].Score = point.Score
		if hits[i].ID == "" && point.Id != nil {
			hits[i].ID = point.Id.GetUuid()
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// Locator returns the collection URL.
func (s *QdrantStore) Locator(name string) string {
	scheme := "qdrant"
	if s.config.UseTLS {
		scheme = "qdrants"
	}
	return fmt.Sprintf("%s://%s:%d/collections/%s", scheme, s.config.Host, s.config.Port, name)
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// toPayload converts metadata into a Qdrant payload. Content and id are
// reserved fields.
func toPayload(id, content string, metadata map[string]any) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(metadata)+2)
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			payload[k] = qdrant.NewValueString(val)
		case int:
			payload[k] = qdrant.NewValueInt(int64(val))
		case int64:
			payload[k] = qdrant.NewValueInt(val)
		case float64:
			payload[k] = qdrant.NewValueDouble(val)
		case float32:
			payload[k] = qdrant.NewValueDouble(float64(val))
		case bool:
			payload[k] = qdrant.NewValueBool(val)
		case nil:
			payload[k] = qdrant.NewValueNull()
		default:
			payload[k] = qdrant.NewValueString(fmt.Sprint(val))
		}
	}
	payload[payloadContent] = qdrant.NewValueString(content)
	payload[payloadID] = qdrant.NewValueString(id)
	return payload
}

// fromPayload splits a payload back into content, id and metadata.
func fromPayload(payload map[string]*qdrant.Value) ScoredPoint {
	var p ScoredPoint
	if len(payload) == 0 {
		return p
	}
	p.Metadata = make(map[string]any, len(payload))
	for k, v := range payload {
		switch val := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			switch k {
			case payloadContent:
				p.Content = val.StringValue
				continue
			case payloadID:
				p.ID = val.StringValue
				continue
			}
			p.Metadata[k] = val.StringValue
		case *qdrant.Value_IntegerValue:
			p.Metadata[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			p.Metadata[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			p.Metadata[k] = val.BoolValue
		}
	}
	return p
}

var _ Store = (*QdrantStore)(nil)
