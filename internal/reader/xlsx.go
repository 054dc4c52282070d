package reader

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/corpora/internal/document"
	"github.com/xuri/excelize/v2"
)

// XLSXReader emits one document per data row of every worksheet. The first
// non-blank row of a sheet is its header; the text is "column: value" lines
// in header order.
type XLSXReader struct{}

// NewXLSXReader creates an XLSXReader.
func NewXLSXReader() *XLSXReader {
	return &XLSXReader{}
}

// Read implements Reader. Row identity is "<file name>|<sheet>|<row index>".
// Empty sheets produce no documents.
func (r *XLSXReader) Read(ctx context.Context, path string) ([]document.Document, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	defer f.Close()

	abs := absPath(path)
	name := filepath.Base(path)
	var docs []document.Document
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, &Error{Path: path, Err: err}
		}

		var header []string
		rowIndex := 0
		for _, row := range rows {
			if blankRow(row) {
				continue
			}
			if header == nil {
				header = headerNames(row)
				continue
			}
			rowIndex++
			text := renderRow(header, row)
			if text == "" {
				continue
			}
			md := fileMetadata(abs, "xlsx").
				Set(document.KeySheet, sheet).
				Set(document.KeyRow, rowIndex)
			docs = append(docs, document.New(text,
				document.IdentityKey(name, sheet, strconv.Itoa(rowIndex)), md))
		}
	}
	return docs, nil
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// headerNames trims header cells; blank cells become "column_<n>".
func headerNames(row []string) []string {
	out := make([]string, len(row))
	for i, c := range row {
		c = strings.TrimSpace(c)
		if c == "" {
			c = "column_" + strconv.Itoa(i+1)
		}
		out[i] = c
	}
	return out
}

// renderRow writes non-blank cells as "column: value" lines. Cells beyond the
// header are named by position.
func renderRow(header, row []string) string {
	var b strings.Builder
	for i, c := range row {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		col := "column_" + strconv.Itoa(i+1)
		if i < len(header) {
			col = header[i]
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(col)
		b.WriteString(": ")
		b.WriteString(c)
	}
	return b.String()
}

var _ Reader = (*XLSXReader)(nil)
