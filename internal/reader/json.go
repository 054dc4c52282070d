package reader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/corpora/internal/document"
)

// textFields are the object fields used as document text, in priority order.
// When none is present the object is rendered as "key: value" lines.
var textFields = []string{"text", "content", "page_content", "body"}

const maxJSONMetadataRunes = 120

// JSONReader reads a JSON array of objects, a single object, or JSON Lines.
// Each object becomes one document; scalar fields other than the text field
// become metadata.
type JSONReader struct{}

// NewJSONReader creates a JSONReader.
func NewJSONReader() *JSONReader {
	return &JSONReader{}
}

// Read implements Reader. Object identity is "<file name>|<index>".
func (r *JSONReader) Read(ctx context.Context, path string) ([]document.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}

	var objects []map[string]any
	switch ft := fileTypeOf(path); ft {
	case "jsonl", "ndjson":
		objects, err = decodeJSONLines(raw)
	default:
		objects, err = decodeJSON(raw)
	}
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}

	abs := absPath(path)
	name := filepath.Base(path)
	docs := make([]document.Document, 0, len(objects))
	for i, obj := range objects {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rowIndex := i + 1
		md := fileMetadata(abs, fileTypeOf(path)).Set(document.KeyRow, rowIndex)
		text := objectText(obj, md)
		if strings.TrimSpace(text) == "" {
			continue
		}
		docs = append(docs, document.New(text, document.IdentityKey(name, strconv.Itoa(rowIndex)), md))
	}
	return docs, nil
}

func decodeJSON(raw []byte) ([]map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if trimmed[0] == '[' {
		var objects []map[string]any
		if err := dec.Decode(&objects); err != nil {
			return nil, fmt.Errorf("decoding JSON array: %w", err)
		}
		return objects, nil
	}
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("decoding JSON object: %w", err)
	}
	return []map[string]any{obj}, nil
}

func decodeJSONLines(raw []byte) ([]map[string]any, error) {
	var objects []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil && err != io.EOF {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		objects = append(objects, obj)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return objects, nil
}

// objectText picks the text field and copies scalar fields into md.
func objectText(obj map[string]any, md *document.Metadata) string {
	textKey := ""
	for _, k := range textFields {
		if s, ok := obj[k].(string); ok && strings.TrimSpace(s) != "" {
			textKey = k
			break
		}
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var lines []string
	for _, k := range keys {
		if k == textKey {
			continue
		}
		v, ok := scalar(obj[k])
		if !ok {
			if textKey == "" {
				if b, err := json.Marshal(obj[k]); err == nil {
					lines = append(lines, k+": "+string(b))
				}
			}
			continue
		}
		if s, isString := v.(string); isString {
			md.Set(k, truncateRunes(s, maxJSONMetadataRunes))
		} else {
			md.Set(k, v)
		}
		if textKey == "" {
			lines = append(lines, k+": "+document.FormatValue(v))
		}
	}

	if textKey != "" {
		return obj[textKey].(string)
	}
	return strings.Join(lines, "\n")
}

// scalar converts decoded JSON scalars to metadata values.
func scalar(v any) (any, bool) {
	switch val := v.(type) {
	case string, bool:
		return val, true
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, true
		}
		if f, err := val.Float64(); err == nil {
			return f, true
		}
		return val.String(), true
	default:
		return nil, false
	}
}

var _ Reader = (*JSONReader)(nil)
