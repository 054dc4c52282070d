// Package ingest writes documents into collections under a replace, append
// or merge policy.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyrsmithlabs/corpora/internal/collections"
	"github.com/fyrsmithlabs/corpora/internal/document"
	"github.com/fyrsmithlabs/corpora/internal/embeddings"
	"github.com/fyrsmithlabs/corpora/internal/ignore"
	"github.com/fyrsmithlabs/corpora/internal/logging"
	"github.com/fyrsmithlabs/corpora/internal/reader"
	"github.com/fyrsmithlabs/corpora/internal/vectorstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("corpora.ingest")

// SkipReason classifies a unit of work that was not ingested.
type SkipReason string

const (
	SkipReader      SkipReason = "reader"
	SkipUnsupported SkipReason = "unsupported"
	SkipEmbedding   SkipReason = "embedding"
	SkipBackend     SkipReason = "backend"
)

// Skip records a file or document left out of the batch.
type Skip struct {
	Source   string     `json:"source,omitempty"`
	StableID string     `json:"stable_id,omitempty"`
	Reason   SkipReason `json:"reason"`
	Error    string     `json:"error,omitempty"`
	Err      error      `json:"-"`
}

// Request is one ingestion batch. Documents and the documents read from
// Paths (files or directories) are ingested together.
type Request struct {
	Collection string
	Policy     Policy
	Documents  []document.Document
	Paths      []string
}

// Result summarizes a batch.
type Result struct {
	Collection           string `json:"collection"`
	Policy               Policy `json:"policy"`
	ResultingVectorCount int    `json:"resulting_vector_count"`
	InsertedCount        int    `json:"inserted_count"`
	Duplicates           int    `json:"duplicates"`
	Skipped              []Skip `json:"skipped"`
	NoDocuments          bool   `json:"no_documents"`
}

// Options tunes the Controller.
type Options struct {
	// DefaultPolicy applies when Request.Policy is empty. Default: merge.
	DefaultPolicy Policy
	// DuplicateThreshold and ProbeLength configure the merge resolver.
	DuplicateThreshold float64
	ProbeLength        int
	// BatchSize bounds texts per embedding call and points per insert. Default: 64.
	BatchSize int
	// IgnoreFiles are read at the root of each ingested directory.
	// Default: [.corporaignore].
	IgnoreFiles []string
}

// Controller runs ingestion batches.
type Controller struct {
	manager  *collections.Manager
	store    vectorstore.Store
	embedder embeddings.Embedder
	readers  *reader.Registry
	opts     Options
	logger   *zap.Logger
}

// NewController creates a Controller.
func NewController(
	manager *collections.Manager,
	store vectorstore.Store,
	embedder embeddings.Embedder,
	readers *reader.Registry,
	opts Options,
	logger *zap.Logger,
) *Controller {
	if opts.DefaultPolicy == "" {
		opts.DefaultPolicy = PolicyMerge
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.IgnoreFiles == nil {
		opts.IgnoreFiles = []string{ignore.DefaultFile}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		manager:  manager,
		store:    store,
		embedder: embedder,
		readers:  readers,
		opts:     opts,
		logger:   logger,
	}
}

// Ingest runs one batch. Per-file and per-document failures are recorded in
// Result.Skipped; only failures to prepare the target collection, invalid
// input and cancellation return an error.
func (c *Controller) Ingest(ctx context.Context, req Request) (res *Result, err error) {
	ctx, span := tracer.Start(ctx, "Controller.Ingest")
	defer span.End()

	if err := vectorstore.ValidateCollectionName(req.Collection); err != nil {
		return nil, err
	}
	policy := req.Policy
	if policy == "" {
		policy = c.opts.DefaultPolicy
	}
	if policy, err = ParsePolicy(string(policy)); err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("collection", req.Collection),
		attribute.String("policy", string(policy)),
	)
	ctx = logging.WithCollection(logging.WithOperation(ctx, "ingest"), req.Collection)
	log := c.logger.With(logging.ContextFields(ctx)...)

	start := time.Now()
	defer func() {
		BatchDuration.WithLabelValues(string(policy)).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	res = &Result{Collection: req.Collection, Policy: policy}

	docs := make([]document.Document, 0, len(req.Documents))
	for _, d := range req.Documents {
		if !d.IsBlank() {
			docs = append(docs, withStableID(d))
		}
	}
	for _, p := range req.Paths {
		read, skips, err := c.readPath(ctx, p)
		if err != nil {
			return nil, err
		}
		docs = append(docs, read...)
		res.Skipped = append(res.Skipped, skips...)
	}

	if len(docs) == 0 {
		res.NoDocuments = true
		if n, err := c.manager.Count(ctx, req.Collection); err == nil {
			res.ResultingVectorCount = n
		}
		log.Info("no documents to ingest")
		c.recordOutcomes(res)
		return res, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock, err := c.manager.Lock(ctx, req.Collection)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var target *collections.Collection
	switch policy {
	case PolicyReplace:
		target, err = c.manager.Reset(ctx, req.Collection)
	default:
		target, _, err = c.manager.OpenOrCreate(ctx, req.Collection)
	}
	if err != nil {
		return nil, fmt.Errorf("preparing collection %s: %w", req.Collection, err)
	}

	if policy == PolicyMerge && target.VectorCount > 0 {
		err = c.merge(ctx, req.Collection, docs, res)
	} else {
		_, err = c.write(ctx, req.Collection, docs, res)
	}
	if err != nil {
		return nil, err
	}

	if res.InsertedCount > 0 {
		if err := c.manager.Touch(ctx, req.Collection); err != nil {
			log.Warn("failed to touch registry", zap.Error(err))
		}
	}
	n, err := c.manager.Count(ctx, req.Collection)
	if err != nil {
		return nil, fmt.Errorf("counting collection %s: %w", req.Collection, err)
	}
	res.ResultingVectorCount = n
	c.recordOutcomes(res)

	span.SetAttributes(
		attribute.Int("inserted", res.InsertedCount),
		attribute.Int("duplicates", res.Duplicates),
		attribute.Int("skipped", len(res.Skipped)),
	)
	log.Info("ingestion complete",
		zap.String("policy", string(policy)),
		zap.Int("inserted", res.InsertedCount),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("skipped", len(res.Skipped)),
		zap.Int("vector_count", res.ResultingVectorCount),
	)
	return res, nil
}

// readPath reads a file, or every file under a directory. Hidden entries and
// paths matched by the directory's ignore files are skipped. Only
// cancellation is returned as an error.
func (c *Controller) readPath(ctx context.Context, root string) ([]document.Document, []Skip, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, []Skip{{Source: root, Reason: SkipReader, Error: err.Error(), Err: &reader.Error{Path: root, Err: err}}}, nil
	}
	if !info.IsDir() {
		docs, skip := c.readFile(ctx, root)
		if skip != nil {
			return nil, []Skip{*skip}, ctx.Err()
		}
		return docs, nil, ctx.Err()
	}

	matcher, err := ignore.NewParser(c.opts.IgnoreFiles, nil).ParseDir(root)
	if err != nil {
		return nil, []Skip{{Source: root, Reason: SkipReader, Error: err.Error(), Err: err}}, nil
	}

	var (
		docs  []document.Document
		skips []Skip
	)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if path != root && (strings.HasPrefix(d.Name(), ".") || isIgnored(matcher, root, path, d)) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if walkErr != nil {
			skips = append(skips, Skip{Source: path, Reason: SkipReader, Error: walkErr.Error(), Err: walkErr})
			return nil
		}
		if d.IsDir() {
			return nil
		}
		read, skip := c.readFile(ctx, path)
		if skip != nil {
			skips = append(skips, *skip)
			return nil
		}
		docs = append(docs, read...)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return docs, skips, nil
}

func isIgnored(m *ignore.Matcher, root, path string, d fs.DirEntry) bool {
	if m.Len() == 0 {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return m.Match(rel, d.IsDir())
}

func (c *Controller) readFile(ctx context.Context, path string) ([]document.Document, *Skip) {
	docs, err := c.readers.Read(ctx, path)
	if err != nil {
		reason := SkipReader
		if errors.Is(err, reader.ErrUnsupported) {
			reason = SkipUnsupported
		}
		c.logger.Warn("skipping file", zap.String("path", path), zap.String("reason", string(reason)), zap.Error(err))
		return nil, &Skip{Source: path, Reason: reason, Error: err.Error(), Err: err}
	}
	out := docs[:0]
	for _, d := range docs {
		if !d.IsBlank() {
			out = append(out, withStableID(d))
		}
	}
	return out, nil
}

// merge writes the documents a fresh Resolver does not judge redundant. A
// document that only repeats one still waiting to be written flushes the
// batch first, so it is judged against what actually landed.
func (c *Controller) merge(ctx context.Context, collection string, docs []document.Document, res *Result) error {
	resolver := NewResolver(c.embedder, c.store, c.opts.DuplicateThreshold, c.opts.ProbeLength, c.logger)

	var batch []document.Document
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		inserted, err := c.write(ctx, collection, batch, res)
		resolver.Settle(inserted)
		batch = nil
		return err
	}

	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		v := resolver.Check(ctx, collection, d)
		if v.Pending {
			if err := flush(); err != nil {
				return err
			}
			v = resolver.Check(ctx, collection, d)
		}
		if v.Duplicate {
			res.Duplicates++
			c.logger.Debug("duplicate dropped",
				zap.String("collection", collection),
				zap.String("stable_id", d.StableID),
				zap.Float32("score", v.Score))
			continue
		}
		batch = append(batch, d)
		if len(batch) >= c.opts.BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// write embeds and inserts docs in batches and returns the stable ids of the
// documents it inserted.
func (c *Controller) write(ctx context.Context, collection string, docs []document.Document, res *Result) (map[string]bool, error) {
	inserted := make(map[string]bool, len(docs))
	for start := 0; start < len(docs); start += c.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return inserted, err
		}
		end := min(start+c.opts.BatchSize, len(docs))
		batch := docs[start:end]

		points := c.embed(ctx, batch, res)
		if len(points) == 0 {
			continue
		}
		for _, id := range c.insert(ctx, collection, points, res) {
			inserted[id] = true
		}
	}
	return inserted, ctx.Err()
}

type pendingPoint struct {
	doc   document.Document
	point vectorstore.Point
}

// embed embeds a batch, falling back to one call per document when the
// batch call fails so a single bad text only skips itself.
func (c *Controller) embed(ctx context.Context, batch []document.Document, res *Result) []pendingPoint {
	texts := make([]string, len(batch))
	for i, d := range batch {
		texts[i] = d.Text
	}

	vectors, err := c.embedder.EmbedDocuments(ctx, texts)
	if err == nil && len(vectors) == len(batch) {
		out := make([]pendingPoint, len(batch))
		for i, d := range batch {
			out[i] = newPending(d, vectors[i])
		}
		return out
	}
	c.logger.Warn("batch embedding failed, retrying per document",
		zap.Int("batch_size", len(batch)), zap.Error(err))

	var out []pendingPoint
	for _, d := range batch {
		if ctx.Err() != nil {
			return out
		}
		v, err := c.embedder.EmbedDocuments(ctx, []string{d.Text})
		if err != nil || len(v) != 1 {
			if err == nil {
				err = fmt.Errorf("%w: got %d vectors for 1 text", embeddings.ErrEmbeddingFailed, len(v))
			}
			res.Skipped = append(res.Skipped, docSkip(d, SkipEmbedding, err))
			continue
		}
		out = append(out, newPending(d, v[0]))
	}
	return out
}

// insert writes points, falling back to one insert per point on failure. It
// returns the stable ids of the inserted documents.
func (c *Controller) insert(ctx context.Context, collection string, pending []pendingPoint, res *Result) []string {
	points := make([]vectorstore.Point, len(pending))
	ids := make([]string, 0, len(pending))
	for i, p := range pending {
		points[i] = p.point
	}
	_, err := c.store.Insert(ctx, collection, points)
	if err == nil {
		res.InsertedCount += len(points)
		for _, p := range pending {
			ids = append(ids, p.doc.StableID)
		}
		return ids
	}
	c.logger.Warn("batch insert failed, retrying per document",
		zap.String("collection", collection), zap.Int("batch_size", len(points)), zap.Error(err))

	for _, p := range pending {
		if ctx.Err() != nil {
			return ids
		}
		if _, err := c.store.Insert(ctx, collection, []vectorstore.Point{p.point}); err != nil {
			res.Skipped = append(res.Skipped, docSkip(p.doc, SkipBackend, err))
			continue
		}
		res.InsertedCount++
		ids = append(ids, p.doc.StableID)
	}
	return ids
}

func (c *Controller) recordOutcomes(res *Result) {
	policy := string(res.Policy)
	DocumentsTotal.WithLabelValues(policy, "inserted").Add(float64(res.InsertedCount))
	DocumentsTotal.WithLabelValues(policy, "duplicate").Add(float64(res.Duplicates))
	DocumentsTotal.WithLabelValues(policy, "skipped").Add(float64(len(res.Skipped)))
}

func newPending(d document.Document, vec []float32) pendingPoint {
	return pendingPoint{
		doc: d,
		point: vectorstore.Point{
			Vector:   vec,
			Content:  d.Text,
			Metadata: d.Metadata.Map(),
		},
	}
}

func docSkip(d document.Document, reason SkipReason, err error) Skip {
	return Skip{
		Source:   d.Metadata.String(document.KeyFilePath),
		StableID: d.StableID,
		Reason:   reason,
		Error:    err.Error(),
		Err:      err,
	}
}

// withStableID derives an id from the text for documents built without one.
func withStableID(d document.Document) document.Document {
	if d.StableID != "" {
		return d
	}
	return document.New(d.Text, document.IdentityKey("text", d.Text), d.Metadata)
}
