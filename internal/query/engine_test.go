package query

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/fyrsmithlabs/corpora/internal/collections"
	"github.com/fyrsmithlabs/corpora/internal/document"
	"github.com/fyrsmithlabs/corpora/internal/logging"
	"github.com/fyrsmithlabs/corpora/internal/registry"
	"github.com/fyrsmithlabs/corpora/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// scriptedStore returns fixed hits per collection.
type scriptedStore struct {
	mu   sync.Mutex
	hits map[string][]vectorstore.ScoredPoint
	errs map[string]error
	seen []string
}

func newScriptedStore() *scriptedStore {
	return &scriptedStore{
		hits: map[string][]vectorstore.ScoredPoint{},
		errs: map[string]error{},
	}
}

func (s *scriptedStore) CreateCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hits[name]; !ok {
		s.hits[name] = nil
	}
	return nil
}

func (s *scriptedStore) DeleteCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hits, name)
	return nil
}

func (s *scriptedStore) CollectionExists(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.hits[name]
	return ok, nil
}

func (s *scriptedStore) ListCollections(context.Context) ([]string, error) { return nil, nil }

func (s *scriptedStore) Count(_ context.Context, name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hits[name]), nil
}

func (s *scriptedStore) Insert(context.Context, string, []vectorstore.Point) ([]string, error) {
	return nil, errors.New("read-only")
}

func (s *scriptedStore) Query(_ context.Context, name string, _ []float32, k int) ([]vectorstore.ScoredPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, name)
	if err, ok := s.errs[name]; ok {
		return nil, err
	}
	hits, ok := s.hits[name]
	if !ok {
		return nil, vectorstore.ErrCollectionNotFound
	}
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (s *scriptedStore) Locator(name string) string { return "scripted://" + name }
func (s *scriptedStore) Close() error               { return nil }

type constEmbedder struct{ err error }

func (e constEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, e.err
}

func (e constEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, e.err
}

// recordingSynth returns a fixed answer and records what it saw.
type recordingSynth struct {
	calls      int
	candidates []Candidate
	err        error
}

func (s *recordingSynth) Synthesize(_ context.Context, _ string, candidates []Candidate) (string, error) {
	s.calls++
	s.candidates = candidates
	if s.err != nil {
		return "", s.err
	}
	return "synthesized", nil
}

func hit(score float32, content string) vectorstore.ScoredPoint {
	return vectorstore.ScoredPoint{
		Content: content,
		Score:   score,
		Metadata: map[string]any{
			document.KeyFileName: content + ".txt",
			document.KeyRow:      int64(1),
			"unrelated":          "dropped",
		},
	}
}

type harness struct {
	manager *collections.Manager
	store   *scriptedStore
	synth   *recordingSynth
	engine  *Engine
	logger  *logging.TestLogger
}

func newHarness(t *testing.T, names ...string) *harness {
	t.Helper()
	reg, err := registry.Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	store := newScriptedStore()
	manager := collections.NewManager(store, reg, nil)
	for _, n := range names {
		_, err := manager.Create(context.Background(), n)
		require.NoError(t, err)
	}

	synth := &recordingSynth{}
	logger := logging.NewTestLogger()
	return &harness{
		manager: manager,
		store:   store,
		synth:   synth,
		logger:  logger,
		engine:  NewEngine(manager, store, constEmbedder{}, synth, Options{MaxConcurrency: 2}, logger.Underlying()),
	}
}

func scores(cs []Candidate) []float32 {
	out := make([]float32, len(cs))
	for i, c := range cs {
		out[i] = c.Score
	}
	return out
}

func TestEngine_FusesAcrossCollections(t *testing.T) {
	h := newHarness(t, "A", "B")
	h.store.hits["A"] = []vectorstore.ScoredPoint{hit(0.9, "a1"), hit(0.7, "a2")}
	h.store.hits["B"] = []vectorstore.ScoredPoint{hit(0.95, "b1"), hit(0.6, "b2")}

	res, err := h.engine.Query(context.Background(), Request{Text: "q", TopK: 3})
	require.NoError(t, err)

	assert.Equal(t, "synthesized", res.Answer)
	assert.Equal(t, []float32{0.95, 0.9, 0.7}, scores(res.Sources))
	assert.Equal(t, []string{"B", "A", "A"}, []string{
		res.Sources[0].Collection, res.Sources[1].Collection, res.Sources[2].Collection,
	})
	assert.Equal(t, map[string]any{document.KeyFileName: "b1.txt", document.KeyRow: int64(1)}, res.Sources[0].Locator)
	assert.Equal(t, 1, h.synth.calls)
	assert.Len(t, h.synth.candidates, 3)
}

func TestEngine_TiesKeepDeclarationThenRetrievalOrder(t *testing.T) {
	h := newHarness(t, "A", "B")
	h.store.hits["A"] = []vectorstore.ScoredPoint{hit(0.5, "a1"), hit(0.5, "a2")}
	h.store.hits["B"] = []vectorstore.ScoredPoint{hit(0.5, "b1")}

	res, err := h.engine.Query(context.Background(), Request{Text: "q", Collections: []string{"B", "A"}, TopK: 3})
	require.NoError(t, err)

	var got []string
	for _, s := range res.Sources {
		got = append(got, s.Content)
	}
	assert.Equal(t, []string{"b1", "a1", "a2"}, got)
}

func TestEngine_DisabledCollectionsExcludedByDefault(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "A", "B")
	h.store.hits["A"] = []vectorstore.ScoredPoint{hit(0.9, "a1")}
	h.store.hits["B"] = []vectorstore.ScoredPoint{hit(0.8, "b1")}
	require.NoError(t, h.manager.SetEnabled(ctx, "A", false))

	res, err := h.engine.Query(ctx, Request{Text: "q"})
	require.NoError(t, err)
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "B", res.Sources[0].Collection)

	res, err = h.engine.Query(ctx, Request{Text: "q", Collections: []string{"A"}})
	require.NoError(t, err)
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "A", res.Sources[0].Collection)
}

func TestEngine_SentinelWithoutCandidates(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, h *harness)
		req   Request
	}{
		{
			name: "no active collections",
			req:  Request{Text: "q"},
		},
		{
			name: "explicit empty list",
			req:  Request{Text: "q", Collections: []string{}},
			setup: func(t *testing.T, h *harness) {
				h.store.hits["A"] = []vectorstore.ScoredPoint{hit(0.9, "a1")}
			},
		},
		{
			name: "collections return nothing",
			req:  Request{Text: "q"},
			setup: func(t *testing.T, h *harness) {
				_, err := h.manager.Create(context.Background(), "empty")
				require.NoError(t, err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.setup != nil {
				tt.setup(t, h)
			}
			res, err := h.engine.Query(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, NoContextAnswer, res.Answer)
			assert.Empty(t, res.Sources)
			assert.Zero(t, h.synth.calls)
		})
	}
}

func TestEngine_SkipsMissingAndFailingCollections(t *testing.T) {
	h := newHarness(t, "A", "B")
	h.store.hits["A"] = []vectorstore.ScoredPoint{hit(0.9, "a1")}
	h.store.hits["B"] = []vectorstore.ScoredPoint{hit(0.8, "b1")}
	h.store.errs["B"] = vectorstore.ErrBackend

	res, err := h.engine.Query(context.Background(), Request{Text: "q", Collections: []string{"A", "B", "ghost"}})
	require.NoError(t, err)

	require.Len(t, res.Sources, 1)
	require.Len(t, res.Skipped, 2)
	assert.Equal(t, "B", res.Skipped[0].Collection)
	assert.Equal(t, "retrieval failed", res.Skipped[0].Reason)
	assert.Equal(t, "ghost", res.Skipped[1].Collection)
	assert.Equal(t, "collection not found", res.Skipped[1].Reason)
	h.logger.AssertLogged(t, zapcore.WarnLevel, "skipping collection")
}

func TestEngine_RepeatedCollectionSearchedOnce(t *testing.T) {
	h := newHarness(t, "A", "B")
	h.store.hits["A"] = []vectorstore.ScoredPoint{hit(0.9, "a1"), hit(0.7, "a2")}
	h.store.hits["B"] = []vectorstore.ScoredPoint{hit(0.7, "b1")}

	res, err := h.engine.Query(context.Background(), Request{Text: "q", Collections: []string{"A", "B", "A"}, TopK: 3})
	require.NoError(t, err)

	var got []string
	for _, s := range res.Sources {
		got = append(got, s.Collection+":"+s.Content)
	}
	assert.Equal(t, []string{"A:a1", "A:a2", "B:b1"}, got)
	assert.ElementsMatch(t, []string{"A", "B"}, h.store.seen)
}

func TestEngine_UnregisteredBackendCollectionNotSearched(t *testing.T) {
	h := newHarness(t, "A")
	h.store.hits["A"] = []vectorstore.ScoredPoint{hit(0.5, "a1")}
	h.store.hits["orphan"] = []vectorstore.ScoredPoint{hit(0.9, "o1")}

	res, err := h.engine.Query(context.Background(), Request{Text: "q", Collections: []string{"orphan", "A"}})
	require.NoError(t, err)

	require.Len(t, res.Sources, 1)
	assert.Equal(t, "A", res.Sources[0].Collection)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "orphan", res.Skipped[0].Collection)
	assert.Equal(t, "collection not found", res.Skipped[0].Reason)
	assert.NotContains(t, h.store.seen, "orphan")
}

func TestEngine_NothingSearchableSkipsEmbedding(t *testing.T) {
	h := newHarness(t, "empty")
	engine := NewEngine(h.manager, h.store, constEmbedder{err: errors.New("embedder down")}, h.synth, Options{}, nil)

	res, err := engine.Query(context.Background(), Request{Text: "q", Collections: []string{"empty", "ghost"}})
	require.NoError(t, err)
	assert.Equal(t, NoContextAnswer, res.Answer)
	assert.Empty(t, res.Sources)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "ghost", res.Skipped[0].Collection)
	assert.Empty(t, h.store.seen)
	assert.Zero(t, h.synth.calls)
}

func TestEngine_DeletedCollectionLeavesActiveSet(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "A", "B")
	h.store.hits["A"] = []vectorstore.ScoredPoint{hit(0.9, "a1")}
	h.store.hits["B"] = []vectorstore.ScoredPoint{hit(0.8, "b1")}

	existed, err := h.manager.Delete(ctx, "A")
	require.NoError(t, err)
	require.True(t, existed)

	h.store.seen = nil
	res, err := h.engine.Query(ctx, Request{Text: "q"})
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, h.store.seen)
	require.Len(t, res.Sources, 1)
	assert.Empty(t, res.Skipped)
}

func TestEngine_InvalidRequests(t *testing.T) {
	h := newHarness(t, "A")

	_, err := h.engine.Query(context.Background(), Request{Text: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = h.engine.Query(context.Background(), Request{Text: "q", TopK: -1})
	assert.ErrorIs(t, err, ErrInvalidTopK)
}

func TestEngine_DefaultTopK(t *testing.T) {
	h := newHarness(t, "A")
	for i := range 8 {
		h.store.hits["A"] = append(h.store.hits["A"], hit(float32(10-i)/10, "a"))
	}

	res, err := h.engine.Query(context.Background(), Request{Text: "q"})
	require.NoError(t, err)
	assert.Len(t, res.Sources, DefaultTopK)
}

func TestEngine_OperationErrorsPropagate(t *testing.T) {
	h := newHarness(t, "A")
	h.store.hits["A"] = []vectorstore.ScoredPoint{hit(0.9, "a1")}

	h.synth.err = errors.New("llm down")
	_, err := h.engine.Query(context.Background(), Request{Text: "q"})
	assert.ErrorContains(t, err, "llm down")

	engine := NewEngine(h.manager, h.store, constEmbedder{err: errors.New("embedder down")}, h.synth, Options{}, nil)
	_, err = engine.Query(context.Background(), Request{Text: "q"})
	assert.ErrorContains(t, err, "embedder down")
}

func TestSnippet(t *testing.T) {
	tests := []struct {
		name    string
		content string
		n       int
		want    string
	}{
		{"short", "hello", 200, "hello"},
		{"exact", strings.Repeat("a", 200), 200, strings.Repeat("a", 200)},
		{"long", strings.Repeat("a", 201), 200, strings.Repeat("a", 200) + "..."},
		{"runes", "ééééé", 3, "ééé..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Snippet(tt.content, tt.n))
		})
	}
}
