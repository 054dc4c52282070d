// Package document defines the normalized record produced by readers and
// consumed by ingestion.
package document

import (
	"strings"

	"github.com/google/uuid"
)

// Well-known metadata keys.
const (
	KeyStableID = "stable_id"
	KeyFileName = "file_name"
	KeyFilePath = "file_path"
	KeyFileType = "file_type"
	KeyPage     = "page_number"
	KeyRow      = "row_index"
	KeySheet    = "sheet_name"
	KeyChunk    = "chunk_index"
)

// stableNamespace scopes StableID so ids never collide with other v5 UUIDs.
var stableNamespace = uuid.MustParse("6f1d3c1e-8a0b-5c5e-9d3f-2b7a4e1c9f60")

// Document is one normalized unit of text ready for embedding.
type Document struct {
	Text     string
	Metadata *Metadata
	StableID string
}

// New builds a Document whose StableID derives from identityKey and records
// that id in the metadata.
func New(text, identityKey string, md *Metadata) Document {
	if md == nil {
		md = NewMetadata()
	}
	id := StableID(identityKey)
	md.Set(KeyStableID, id)
	return Document{Text: text, Metadata: md, StableID: id}
}

// StableID derives a deterministic id from a caller-chosen identity key.
// The same key always yields the same id, in any process.
func StableID(identityKey string) string {
	return uuid.NewSHA1(stableNamespace, []byte(identityKey)).String()
}

// IdentityKey joins identity parts with "|".
func IdentityKey(parts ...string) string {
	return strings.Join(parts, "|")
}

// IsBlank reports whether the document carries no text worth embedding.
func (d Document) IsBlank() bool {
	return strings.TrimSpace(d.Text) == ""
}
