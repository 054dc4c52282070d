package reader

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/corpora/internal/document"
)

var (
	// ErrRead matches every *Error.
	ErrRead = errors.New("reading document failed")

	// ErrUnsupported indicates no reader is registered for a file's extension.
	ErrUnsupported = errors.New("unsupported file type")
)

// Error records which file a reader failed on.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("reading %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrRead) true for any *Error.
func (e *Error) Is(target error) bool { return target == ErrRead }

// Reader reads one file into documents.
type Reader interface {
	Read(ctx context.Context, path string) ([]document.Document, error)
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc func(ctx context.Context, path string) ([]document.Document, error)

// Read calls f.
func (f ReaderFunc) Read(ctx context.Context, path string) ([]document.Document, error) {
	return f(ctx, path)
}

// Registry maps lowercase file extensions (with the dot) to readers.
type Registry struct {
	mu      sync.RWMutex
	readers map[string]Reader
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{readers: make(map[string]Reader)}
}

// Register adds or replaces the reader for ext. A missing leading dot is added.
func (r *Registry) Register(ext string, rd Reader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readers[normalizeExt(ext)] = rd
}

// Lookup returns the reader registered for path's extension.
func (r *Registry) Lookup(path string) (Reader, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rd, ok := r.readers[normalizeExt(filepath.Ext(path))]
	return rd, ok
}

// Supports reports whether a reader is registered for path.
func (r *Registry) Supports(path string) bool {
	_, ok := r.Lookup(path)
	return ok
}

// Read reads path with the matching reader. Unregistered extensions return
// ErrUnsupported; reader failures are returned as *Error.
func (r *Registry) Read(ctx context.Context, path string) ([]document.Document, error) {
	rd, ok := r.Lookup(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, path)
	}
	docs, err := rd.Read(ctx, path)
	if err != nil {
		var rerr *Error
		if errors.As(err, &rerr) {
			return nil, err
		}
		return nil, &Error{Path: path, Err: err}
	}
	return docs, nil
}

// Extensions returns the registered extensions in sorted order.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.readers))
	for ext := range r.readers {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Options tunes the default readers.
type Options struct {
	// ChunkSize and ChunkOverlap control text splitting. Defaults: 1024 / 50.
	ChunkSize    int
	ChunkOverlap int
}

// NewDefaultRegistry registers every built-in reader.
func NewDefaultRegistry(opts Options) *Registry {
	r := NewRegistry()

	text := NewTextReader(opts.ChunkSize, opts.ChunkOverlap)
	r.Register(".txt", text)
	r.Register(".text", text)

	md := NewMarkdownReader(opts.ChunkSize, opts.ChunkOverlap)
	r.Register(".md", md)
	r.Register(".markdown", md)

	r.Register(".csv", NewCSVReader())
	r.Register(".xlsx", NewXLSXReader())

	pipe := NewPipeReader()
	r.Register(".psv", pipe)
	r.Register(".pipe", pipe)

	js := NewJSONReader()
	r.Register(".json", js)
	r.Register(".jsonl", js)
	r.Register(".ndjson", js)

	return r
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// fileMetadata starts a document's metadata with the file fields.
func fileMetadata(path, fileType string) *document.Metadata {
	return document.NewMetadata().
		Set(document.KeyFileName, filepath.Base(path)).
		Set(document.KeyFilePath, path).
		Set(document.KeyFileType, fileType)
}

// absPath falls back to path when it cannot be made absolute.
func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// truncateRunes shortens s to max runes, ending in "..." when cut.
func truncateRunes(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
