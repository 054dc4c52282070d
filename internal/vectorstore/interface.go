package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrCollectionExists is returned when creating a collection that already exists.
	ErrCollectionExists = errors.New("collection already exists")

	// ErrInvalidConfig is returned when the store configuration is invalid.
	ErrInvalidConfig = errors.New("invalid vectorstore configuration")

	// ErrInvalidCollectionName is returned for names outside ^[A-Za-z0-9_-]{1,64}$.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrConnectionFailed is returned when the backend cannot be reached.
	ErrConnectionFailed = errors.New("failed to connect to vector store")

	// ErrEmptyPoints is returned when Insert is called with nothing to insert.
	ErrEmptyPoints = errors.New("no points to insert")

	// ErrBackend wraps any other failure reported by the backend.
	ErrBackend = errors.New("vector store backend error")
)

var collectionNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Point is one vector with its payload.
type Point struct {
	// ID identifies the stored vector. Empty IDs get a random UUID.
	ID       string
	Vector   []float32
	Content  string
	Metadata map[string]any
}

// ScoredPoint is a search hit.
type ScoredPoint struct {
	ID       string
	Content  string
	Metadata map[string]any
	// Score is cosine similarity.
	Score float32
}

// Store is a named-collection vector index.
type Store interface {
	// CreateCollection fails with ErrCollectionExists if name is taken.
	CreateCollection(ctx context.Context, name string) error

	// DeleteCollection fails with ErrCollectionNotFound if name is absent.
	DeleteCollection(ctx context.Context, name string) error

	CollectionExists(ctx context.Context, name string) (bool, error)

	ListCollections(ctx context.Context) ([]string, error)

	// Count returns the number of vectors in the collection.
	Count(ctx context.Context, name string) (int, error)

	// Insert adds points and returns their ids in input order.
	Insert(ctx context.Context, name string, points []Point) ([]string, error)

	// Query returns up to k nearest points, highest score first.
	Query(ctx context.Context, name string, vector []float32, k int) ([]ScoredPoint, error)

	// Locator describes where the collection is stored.
	Locator(name string) string

	Close() error
}

// ValidateCollectionName validates a collection name.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: must match ^[A-Za-z0-9_-]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// backendError wraps err with ErrBackend unless it already carries a sentinel
// callers branch on.
func backendError(op, name string, err error) error {
	if errors.Is(err, ErrCollectionNotFound) || errors.Is(err, ErrCollectionExists) ||
		errors.Is(err, ErrBackend) {
		return fmt.Errorf("%s %s: %w", op, name, err)
	}
	return fmt.Errorf("%s %s: %w: %w", op, name, ErrBackend, err)
}
