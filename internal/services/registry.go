package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/corpora/internal/collections"
	"github.com/fyrsmithlabs/corpora/internal/config"
	"github.com/fyrsmithlabs/corpora/internal/embeddings"
	"github.com/fyrsmithlabs/corpora/internal/ingest"
	"github.com/fyrsmithlabs/corpora/internal/query"
	"github.com/fyrsmithlabs/corpora/internal/reader"
	"github.com/fyrsmithlabs/corpora/internal/registry"
	"github.com/fyrsmithlabs/corpora/internal/synthesis"
	"github.com/fyrsmithlabs/corpora/internal/vectorstore"
	"go.uber.org/zap"
)

// Registry provides access to the wired services.
type Registry interface {
	Config() *config.Config
	Embedder() embeddings.Provider
	VectorStore() vectorstore.Store
	Collections() *collections.Manager
	Readers() *reader.Registry
	Ingest() *ingest.Controller
	Query() *query.Engine
	Close() error
}

// Options holds prebuilt service instances. Closers run in reverse order
// on Close.
type Options struct {
	Config      *config.Config
	Embedder    embeddings.Provider
	VectorStore vectorstore.Store
	Collections *collections.Manager
	Readers     *reader.Registry
	Ingest      *ingest.Controller
	Query       *query.Engine
	Closers     []func() error
}

type services struct {
	config      *config.Config
	embedder    embeddings.Provider
	vectorStore vectorstore.Store
	collections *collections.Manager
	readers     *reader.Registry
	ingest      *ingest.Controller
	query       *query.Engine
	closers     []func() error
}

// NewRegistry creates a Registry over prebuilt services.
func NewRegistry(opts Options) Registry {
	return &services{
		config:      opts.Config,
		embedder:    opts.Embedder,
		vectorStore: opts.VectorStore,
		collections: opts.Collections,
		readers:     opts.Readers,
		ingest:      opts.Ingest,
		query:       opts.Query,
		closers:     opts.Closers,
	}
}

func (s *services) Config() *config.Config            { return s.config }
func (s *services) Embedder() embeddings.Provider     { return s.embedder }
func (s *services) VectorStore() vectorstore.Store    { return s.vectorStore }
func (s *services) Collections() *collections.Manager { return s.collections }
func (s *services) Readers() *reader.Registry         { return s.readers }
func (s *services) Ingest() *ingest.Controller        { return s.ingest }
func (s *services) Query() *query.Engine              { return s.query }

// Close releases resources in reverse construction order.
func (s *services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Build constructs every service from cfg. On failure, whatever was already
// opened is closed before returning.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var closers []func() error
	fail := func(err error) (Registry, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	embedder, err := embeddings.NewProvider(ctx, cfg.Embeddings, logger.Named("embeddings"))
	if err != nil {
		return fail(fmt.Errorf("creating embedding provider: %w", err))
	}
	closers = append(closers, embedder.Close)

	store, err := vectorstore.NewStore(cfg, embedder.Dimension(), logger.Named("vectorstore"))
	if err != nil {
		return fail(fmt.Errorf("creating vector store: %w", err))
	}
	closers = append(closers, store.Close)

	reg, err := registry.Open(cfg.Registry.Path)
	if err != nil {
		return fail(fmt.Errorf("opening collection registry: %w", err))
	}
	closers = append(closers, reg.Close)

	manager := collections.NewManager(store, reg, logger.Named("collections"),
		collections.WithLease(cfg.Registry.LockTTL.Duration(), 0))
	readers := reader.NewDefaultRegistry(reader.Options{
		ChunkSize:    cfg.Ingest.ChunkSize,
		ChunkOverlap: cfg.Ingest.ChunkOverlap,
	})

	policy, err := ingest.ParsePolicy(cfg.Ingest.DefaultPolicy)
	if err != nil {
		return fail(err)
	}
	controller := ingest.NewController(manager, store, embedder, readers, ingest.Options{
		DefaultPolicy:      policy,
		DuplicateThreshold: cfg.Ingest.DuplicateThreshold,
		ProbeLength:        cfg.Ingest.ProbeLength,
		IgnoreFiles:        cfg.Ingest.IgnoreFiles,
	}, logger.Named("ingest"))

	synth, err := synthesis.NewFromConfig(cfg.LLM, logger.Named("synthesis"))
	if err != nil {
		return fail(fmt.Errorf("creating answer synthesizer: %w", err))
	}
	engine := query.NewEngine(manager, store, embedder, synth, query.Options{
		TopK:           cfg.Query.TopK,
		SnippetLength:  cfg.Query.SnippetLength,
		MaxConcurrency: cfg.Query.MaxConcurrency,
	}, logger.Named("query"))

	return NewRegistry(Options{
		Config:      cfg,
		Embedder:    embedder,
		VectorStore: store,
		Collections: manager,
		Readers:     readers,
		Ingest:      controller,
		Query:       engine,
		Closers:     closers,
	}), nil
}
