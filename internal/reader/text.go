package reader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/corpora/internal/document"
	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
)

const (
	defaultChunkSize    = 1024
	defaultChunkOverlap = 50
)

// TextReader loads a whole file and splits it into overlapping chunks, one
// document per chunk.
type TextReader struct {
	splitter textsplitter.TextSplitter
	fileType string
}

// NewTextReader splits on paragraph, line and word boundaries.
func NewTextReader(chunkSize, chunkOverlap int) *TextReader {
	size, overlap := chunkDefaults(chunkSize, chunkOverlap)
	return &TextReader{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
		),
		fileType: "txt",
	}
}

// NewMarkdownReader splits along markdown structure before falling back to size.
func NewMarkdownReader(chunkSize, chunkOverlap int) *TextReader {
	size, overlap := chunkDefaults(chunkSize, chunkOverlap)
	return &TextReader{
		splitter: textsplitter.NewMarkdownTextSplitter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
		),
		fileType: "md",
	}
}

func chunkDefaults(size, overlap int) (int, int) {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = defaultChunkOverlap
		if overlap >= size {
			overlap = 0
		}
	}
	return size, overlap
}

// Read implements Reader. Chunk identity is "<file name>#<chunk index>".
func (r *TextReader) Read(ctx context.Context, path string) ([]document.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	defer f.Close()

	chunks, err := documentloaders.NewText(f).LoadAndSplit(ctx, r.splitter)
	if err != nil {
		return nil, &Error{Path: path, Err: fmt.Errorf("splitting: %w", err)}
	}

	abs := absPath(path)
	name := filepath.Base(path)
	docs := make([]document.Document, 0, len(chunks))
	for i, chunk := range chunks {
		if strings.TrimSpace(chunk.PageContent) == "" {
			continue
		}
		md := fileMetadata(abs, r.fileType).Set(document.KeyChunk, i)
		copyLoaderMetadata(md, chunk)
		docs = append(docs, document.New(chunk.PageContent, fmt.Sprintf("%s#%d", name, i), md))
	}
	return docs, nil
}

// copyLoaderMetadata keeps scalar metadata a langchaingo loader attached.
func copyLoaderMetadata(md *document.Metadata, d schema.Document) {
	for k, v := range d.Metadata {
		if _, exists := md.Get(k); exists {
			continue
		}
		switch v.(type) {
		case string, bool, int, int64, float64, float32:
			md.Set(k, v)
		}
	}
}

var _ Reader = (*TextReader)(nil)

// fileTypeOf returns the extension without the dot.
func fileTypeOf(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}
