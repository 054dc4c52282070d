package http

import (
	"sort"

	"github.com/fyrsmithlabs/corpora/internal/document"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version,omitempty"`
	Collections int    `json:"collections"`
	Active      int    `json:"active"`
	Vectors     int    `json:"vectors"`
}

// QueryRequest is the request body for POST /api/v1/query.
// Omitting collections searches the active set; an empty list searches nothing.
type QueryRequest struct {
	Query          string   `json:"query"`
	Collections    []string `json:"collections"`
	TopK           int      `json:"top_k"`
	ConversationID string   `json:"conversation_id,omitempty"`
}

// CreateCollectionRequest is the request body for POST /api/v1/collections.
type CreateCollectionRequest struct {
	Name string `json:"name"`
}

// EnabledRequest is the request body for PUT /api/v1/collections/:name/enabled.
type EnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

// DocumentInput is one caller-supplied document.
type DocumentInput struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
	StableID string         `json:"stable_id,omitempty"`
}

// IngestRequest is the request body for POST /api/v1/collections/:name/documents.
type IngestRequest struct {
	Policy    string          `json:"policy,omitempty"`
	Documents []DocumentInput `json:"documents"`
}

// DeleteResponse is the response body for DELETE /api/v1/collections/:name.
type DeleteResponse struct {
	Name    string `json:"name"`
	Deleted bool   `json:"deleted"`
}

// toDocument converts input; metadata keys are applied in sorted order so
// the stored order does not depend on map iteration.
func (in DocumentInput) toDocument() document.Document {
	md := document.NewMetadata()
	keys := make([]string, 0, len(in.Metadata))
	for k := range in.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		md.Set(k, in.Metadata[k])
	}
	if in.StableID != "" {
		md.Set(document.KeyStableID, in.StableID)
	}
	return document.Document{Text: in.Text, Metadata: md, StableID: in.StableID}
}
