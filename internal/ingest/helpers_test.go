package ingest

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/fyrsmithlabs/corpora/internal/collections"
	"github.com/fyrsmithlabs/corpora/internal/document"
	"github.com/fyrsmithlabs/corpora/internal/reader"
	"github.com/fyrsmithlabs/corpora/internal/registry"
	"github.com/fyrsmithlabs/corpora/internal/vectorstore"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testDim = 256

// hashEmbedder maps each lowercase word to a hashed bucket, so identical
// texts embed identically and texts with disjoint words are near-orthogonal.
type hashEmbedder struct {
	calls atomic.Int64
	// fail, when set, rejects any call containing a matching text.
	fail func(text string) bool
}

func (e *hashEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if e.fail != nil && e.fail(t) {
			return nil, errors.New("embedding rejected")
		}
		out[i] = hashVector(t)
	}
	return out, nil
}

func (e *hashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func hashVector(text string) []float32 {
	v := make([]float32, testDim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%testDim]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}

// failingQueryStore wraps a Store whose Query always fails.
type failingQueryStore struct {
	vectorstore.Store
}

func (failingQueryStore) Query(context.Context, string, []float32, int) ([]vectorstore.ScoredPoint, error) {
	return nil, errors.New("query backend unavailable")
}

// failingInsertStore rejects any insert containing a matching text.
type failingInsertStore struct {
	vectorstore.Store
	fail func(text string) bool
}

func (s failingInsertStore) Insert(ctx context.Context, name string, points []vectorstore.Point) ([]string, error) {
	for _, p := range points {
		if s.fail(p.Content) {
			return nil, errors.New("insert rejected")
		}
	}
	return s.Store.Insert(ctx, name, points)
}

// flakyInsertStore rejects the first failures inserts containing text.
type flakyInsertStore struct {
	vectorstore.Store
	text     string
	failures *atomic.Int64
}

func (s flakyInsertStore) Insert(ctx context.Context, name string, points []vectorstore.Point) ([]string, error) {
	for _, p := range points {
		if p.Content == s.text && s.failures.Add(-1) >= 0 {
			return nil, errors.New("insert rejected")
		}
	}
	return s.Store.Insert(ctx, name, points)
}

type fixture struct {
	manager  *collections.Manager
	store    vectorstore.Store
	embedder *hashEmbedder
	readers  *reader.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{Path: filepath.Join(dir, "vectors")}, nil)
	require.NoError(t, err)
	reg, err := registry.Open(filepath.Join(dir, "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = reg.Close()
		_ = store.Close()
	})

	return &fixture{
		manager:  collections.NewManager(store, reg, nil),
		store:    store,
		embedder: &hashEmbedder{},
		readers:  reader.NewDefaultRegistry(reader.Options{}),
	}
}

// controller builds a Controller; store overrides the fixture store when set.
func (f *fixture) controller(store vectorstore.Store, logger *zap.Logger) *Controller {
	if store == nil {
		store = f.store
	}
	return NewController(f.manager, store, f.embedder, f.readers, Options{}, logger)
}

func textDocs(texts ...string) []document.Document {
	docs := make([]document.Document, len(texts))
	for i, t := range texts {
		docs[i] = document.New(t, document.IdentityKey("test", t), nil)
	}
	return docs
}
