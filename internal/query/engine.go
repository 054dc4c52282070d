// Package query answers a question from the top-ranked passages of one or
// more collections.
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/corpora/internal/collections"
	"github.com/fyrsmithlabs/corpora/internal/document"
	"github.com/fyrsmithlabs/corpora/internal/embeddings"
	"github.com/fyrsmithlabs/corpora/internal/logging"
	"github.com/fyrsmithlabs/corpora/internal/vectorstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// NoContextAnswer is returned when no collection produced a candidate.
const NoContextAnswer = "no relevant context found"

const (
	DefaultTopK           = 5
	DefaultSnippetLength  = 200
	DefaultMaxConcurrency = 8
)

var (
	ErrEmptyQuery  = errors.New("query text is empty")
	ErrInvalidTopK = errors.New("top_k must not be negative")
)

var tracer = otel.Tracer("corpora.query")

// locatorKeys are the payload keys copied into Candidate.Locator.
var locatorKeys = []string{
	document.KeyFileName,
	document.KeyFilePath,
	document.KeyPage,
	document.KeyRow,
	document.KeySheet,
	document.KeyStableID,
}

// Candidate is one retrieved passage.
type Candidate struct {
	Collection string         `json:"collection"`
	Score      float32        `json:"score"`
	Snippet    string         `json:"snippet"`
	Locator    map[string]any `json:"locator,omitempty"`
	Content    string         `json:"-"`
}

// CollectionSkip records a collection that contributed nothing because it
// was missing or failed.
type CollectionSkip struct {
	Collection string `json:"collection"`
	Reason     string `json:"reason"`
	Err        error  `json:"-"`
}

// Request is one query. A nil Collections searches the active collections;
// a non-nil empty slice searches nothing.
type Request struct {
	Text        string
	Collections []string
	TopK        int
}

// Result is the answer with its ranked sources.
type Result struct {
	Answer  string           `json:"answer"`
	Sources []Candidate      `json:"sources"`
	Skipped []CollectionSkip `json:"skipped,omitempty"`
}

// Synthesizer composes an answer from ranked candidates.
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, candidates []Candidate) (string, error)
}

// Options tunes the Engine.
type Options struct {
	TopK           int
	SnippetLength  int
	MaxConcurrency int
}

// Engine runs multi-collection queries.
type Engine struct {
	manager  *collections.Manager
	store    vectorstore.Store
	embedder embeddings.Embedder
	synth    Synthesizer
	opts     Options
	logger   *zap.Logger
}

// NewEngine creates an Engine.
func NewEngine(
	manager *collections.Manager,
	store vectorstore.Store,
	embedder embeddings.Embedder,
	synth Synthesizer,
	opts Options,
	logger *zap.Logger,
) *Engine {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.SnippetLength <= 0 {
		opts.SnippetLength = DefaultSnippetLength
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		manager:  manager,
		store:    store,
		embedder: embedder,
		synth:    synth,
		opts:     opts,
		logger:   logger,
	}
}

// Query embeds req.Text once, searches every target collection in parallel
// and synthesizes an answer from the global top_k candidates.
func (e *Engine) Query(ctx context.Context, req Request) (res *Result, err error) {
	ctx, span := tracer.Start(ctx, "Engine.Query")
	defer span.End()

	start := time.Now()
	defer func() {
		QueryDuration.Observe(time.Since(start).Seconds())
		switch {
		case err != nil:
			QueriesTotal.WithLabelValues("error").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case res.Answer == NoContextAnswer && len(res.Sources) == 0:
			QueriesTotal.WithLabelValues("no_context").Inc()
		default:
			QueriesTotal.WithLabelValues("answered").Inc()
		}
	}()

	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyQuery
	}
	topK := req.TopK
	switch {
	case topK < 0:
		return nil, fmt.Errorf("%w: %d", ErrInvalidTopK, topK)
	case topK == 0:
		topK = e.opts.TopK
	}

	targets, err := e.targets(ctx, req.Collections)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("top_k", topK),
		attribute.StringSlice("collections", targets),
	)
	FanoutWidth.Observe(float64(len(targets)))

	ctx = logging.WithOperation(ctx, "query")
	log := e.logger.With(logging.ContextFields(ctx)...)

	if len(targets) == 0 {
		log.Info("no collections to search")
		return &Result{Answer: NoContextAnswer, Sources: []Candidate{}}, nil
	}

	live, skipped, err := e.searchable(ctx, targets)
	if err != nil {
		return nil, err
	}
	if len(live) == 0 {
		log.Info("no collection has content to search", zap.Int("skipped", len(skipped)))
		return &Result{Answer: NoContextAnswer, Sources: []Candidate{}, Skipped: skipped}, nil
	}

	vector, err := e.embedder.EmbedQuery(ctx, req.Text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	candidates, failed, err := e.fanOut(ctx, live, vector, topK)
	if err != nil {
		return nil, err
	}
	skipped = inDeclarationOrder(targets, append(skipped, failed...))

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	span.SetAttributes(attribute.Int("candidates", len(candidates)))

	res = &Result{Sources: candidates, Skipped: skipped}
	if len(candidates) == 0 {
		res.Answer = NoContextAnswer
		res.Sources = []Candidate{}
		return res, nil
	}

	answer, err := e.synth.Synthesize(ctx, req.Text, candidates)
	if err != nil {
		return nil, fmt.Errorf("synthesizing answer: %w", err)
	}
	res.Answer = answer

	log.Info("query answered",
		zap.Int("collections", len(targets)),
		zap.Int("sources", len(candidates)),
		zap.Int("skipped", len(skipped)),
	)
	return res, nil
}

// targets resolves the collections to search. The active set is re-read
// from the registry on every call. Repeated explicit names are searched once,
// at their first position.
func (e *Engine) targets(ctx context.Context, names []string) ([]string, error) {
	if names != nil {
		seen := make(map[string]struct{}, len(names))
		out := make([]string, 0, len(names))
		for _, n := range names {
			if _, dup := seen[n]; dup {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
		return out, nil
	}
	active, err := e.manager.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading active collections: %w", err)
	}
	out := make([]string, len(active))
	for i, c := range active {
		out[i] = c.Name
	}
	return out, nil
}

// searchable drops targets that are not registered, cannot be counted or
// hold no vectors. Unregistered names are skipped as not found even when the
// backend has a collection of that name; empty collections are dropped
// silently.
func (e *Engine) searchable(ctx context.Context, names []string) ([]string, []CollectionSkip, error) {
	counts := make([]int, len(names))
	errs := make([]error, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.MaxConcurrency)
	for i, name := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c, err := e.manager.Get(gctx, name)
			if err != nil {
				errs[i] = err
				return nil
			}
			counts[i] = c.VectorCount
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var (
		live    []string
		skipped []CollectionSkip
	)
	for i, name := range names {
		switch {
		case errs[i] != nil:
			skipped = append(skipped, e.skip(name, errs[i]))
		case counts[i] > 0:
			live = append(live, name)
		}
	}
	return live, skipped, nil
}

func (e *Engine) skip(name string, err error) CollectionSkip {
	reason := "retrieval failed"
	if errors.Is(err, vectorstore.ErrCollectionNotFound) {
		reason = "collection not found"
	}
	e.logger.Warn("skipping collection",
		zap.String("collection", name),
		zap.String("reason", reason),
		zap.Error(err))
	CollectionSkips.Inc()
	return CollectionSkip{Collection: name, Reason: reason, Err: err}
}

// inDeclarationOrder orders skips by their collection's position in names.
func inDeclarationOrder(names []string, skipped []CollectionSkip) []CollectionSkip {
	pos := make(map[string]int, len(names))
	for i, n := range names {
		pos[n] = i
	}
	sort.SliceStable(skipped, func(i, j int) bool {
		return pos[skipped[i].Collection] < pos[skipped[j].Collection]
	})
	return skipped
}

// fanOut searches every collection concurrently. Results land in a slot per
// collection so concatenation follows declaration order, not arrival.
// A collection that is missing or fails is skipped; only cancellation of
// ctx fails the whole fan-out.
func (e *Engine) fanOut(ctx context.Context, names []string, vector []float32, k int) ([]Candidate, []CollectionSkip, error) {
	hits := make([][]vectorstore.ScoredPoint, len(names))
	errs := make([]error, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.MaxConcurrency)
	for i, name := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			hits[i], errs[i] = e.store.Query(gctx, name, vector, k)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var (
		candidates []Candidate
		skipped    []CollectionSkip
	)
	for i, name := range names {
		if err := errs[i]; err != nil {
			skipped = append(skipped, e.skip(name, err))
			continue
		}
		for _, h := range hits[i] {
			candidates = append(candidates, Candidate{
				Collection: name,
				Score:      h.Score,
				Snippet:    Snippet(h.Content, e.opts.SnippetLength),
				Locator:    locator(h.Metadata),
				Content:    h.Content,
			})
		}
	}
	return candidates, skipped, nil
}

// Snippet returns the first n runes of content, with "..." appended when
// content is longer.
func Snippet(content string, n int) string {
	i := 0
	for pos := range content {
		if i == n {
			return content[:pos] + "..."
		}
		i++
	}
	return content
}

func locator(payload map[string]any) map[string]any {
	out := make(map[string]any, len(locatorKeys))
	for _, k := range locatorKeys {
		if v, ok := payload[k]; ok {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
