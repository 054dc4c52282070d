package ingest

import (
	"context"
	"math"

	"github.com/fyrsmithlabs/corpora/internal/document"
	"github.com/fyrsmithlabs/corpora/internal/embeddings"
	"github.com/fyrsmithlabs/corpora/internal/vectorstore"
	"go.uber.org/zap"
)

const (
	// DefaultDuplicateThreshold is the similarity a neighbour must exceed.
	DefaultDuplicateThreshold = 0.95
	// DefaultProbeLength is the number of leading runes embedded as the probe.
	DefaultProbeLength = 200
)

// Resolver decides whether a document is already represented in a
// collection. It embeds a probe (the first ProbeLength runes of the text),
// fetches the single nearest neighbour and reports a duplicate when its score
// is strictly greater than the threshold. Probe failures are fail-open.
//
// A Resolver also remembers the probes of documents it passed. They stay
// pending until Settle reports which of them were inserted; only inserted
// probes catch later repeats. Use one Resolver per batch.
type Resolver struct {
	embedder    embeddings.Embedder
	store       vectorstore.Store
	threshold   float64
	probeLength int
	logger      *zap.Logger

	accepted [][]float32
	pending  []pendingProbe
}

type pendingProbe struct {
	stableID string
	vector   []float32
}

// Verdict is the outcome of one duplicate check.
type Verdict struct {
	// Duplicate is set when the document repeats inserted content.
	Duplicate bool

	// Pending is set when the document only repeats a passed document that
	// has not been settled yet. Settle and check again.
	Pending bool

	// Score is the best similarity seen.
	Score float32
}

// NewResolver creates a Resolver. Non-positive threshold or probeLength
// select the defaults.
func NewResolver(embedder embeddings.Embedder, store vectorstore.Store, threshold float64, probeLength int, logger *zap.Logger) *Resolver {
	if threshold <= 0 {
		threshold = DefaultDuplicateThreshold
	}
	if probeLength <= 0 {
		probeLength = DefaultProbeLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		embedder:    embedder,
		store:       store,
		threshold:   threshold,
		probeLength: probeLength,
		logger:      logger,
	}
}

// Check judges doc against collection. A document that passes is held as
// pending under its stable id.
func (r *Resolver) Check(ctx context.Context, collection string, doc document.Document) Verdict {
	probe := probeText(doc.Text, r.probeLength)
	vectors, err := r.embedder.EmbedDocuments(ctx, []string{probe})
	if err != nil || len(vectors) != 1 {
		r.logger.Warn("duplicate probe embedding failed, inserting anyway",
			zap.String("collection", collection),
			zap.String("stable_id", doc.StableID),
			zap.Error(err))
		return Verdict{}
	}
	vec := vectors[0]

	var best float32
	for _, prev := range r.accepted {
		best = max(best, cosine(vec, prev))
	}
	if float64(best) > r.threshold {
		return Verdict{Duplicate: true, Score: best}
	}

	hits, err := r.store.Query(ctx, collection, vec, 1)
	switch {
	case err != nil:
		r.logger.Warn("duplicate probe query failed, inserting anyway",
			zap.String("collection", collection),
			zap.String("stable_id", doc.StableID),
			zap.Error(err))
	case len(hits) > 0:
		best = max(best, hits[0].Score)
		if float64(hits[0].Score) > r.threshold {
			return Verdict{Duplicate: true, Score: best}
		}
	}

	for _, p := range r.pending {
		if s := cosine(vec, p.vector); float64(s) > r.threshold {
			return Verdict{Pending: true, Score: s}
		}
	}

	r.pending = append(r.pending, pendingProbe{stableID: doc.StableID, vector: vec})
	return Verdict{Score: best}
}

// Settle keeps the pending probes whose documents were inserted and forgets
// the rest.
func (r *Resolver) Settle(inserted map[string]bool) {
	for _, p := range r.pending {
		if inserted[p.stableID] {
			r.accepted = append(r.accepted, p.vector)
		}
	}
	r.pending = r.pending[:0]
}

// probeText returns the first n runes of text.
func probeText(text string, n int) string {
	i := 0
	for pos := range text {
		if i == n {
			return text[:pos]
		}
		i++
	}
	return text
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
