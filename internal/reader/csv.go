package reader

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/corpora/internal/document"
	"github.com/tmc/langchaingo/documentloaders"
)

// CSVReader emits one document per data row; its text is "column: value"
// lines in header order.
type CSVReader struct{}

// NewCSVReader creates a CSVReader.
func NewCSVReader() *CSVReader {
	return &CSVReader{}
}

// Read implements Reader. Row identity is "<file name>|<row index>" so the
// same file staged under different directories keeps its ids.
func (r *CSVReader) Read(ctx context.Context, path string) ([]document.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	defer f.Close()

	rows, err := documentloaders.NewCSV(f).Load(ctx)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}

	abs := absPath(path)
	name := filepath.Base(path)
	docs := make([]document.Document, 0, len(rows))
	for i, row := range rows {
		if strings.TrimSpace(row.PageContent) == "" {
			continue
		}
		rowIndex := i + 1
		md := fileMetadata(abs, "csv").Set(document.KeyRow, rowIndex)
		docs = append(docs, document.New(row.PageContent,
			document.IdentityKey(name, strconv.Itoa(rowIndex)), md))
	}
	return docs, nil
}

var _ Reader = (*CSVReader)(nil)
