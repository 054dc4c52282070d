package reader

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/corpora/internal/document"
)

const maxPipeMetadataRunes = 120

// Columns rendered first, in this order, when present.
var pipePreferredKeys = []string{
	"Stratigraphic Name", "Stratno", "Category", "Rank", "Status",
	"Usage", "Parent Name", "Parent Stratno", "Lithology Description",
	"Primary Lithology Group", "Secondary Lithology Group", "Lithology",
	"Minimum Age Name", "Maximum Age Name", "Top Minimum Age Name",
	"Base Maximum Age Name", "Numerical Age", "Type Section State",
	"Definition Card", "Contents",
}

// Columns copied into metadata.
var pipeMetadataKeys = []string{
	"Stratigraphic Name", "Stratno", "Category", "Rank", "Status", "Usage",
	"Parent Name", "Parent Stratno", "Primary Lithology Group", "Secondary Lithology Group",
	"Minimum Age Name", "Maximum Age Name", "Top Minimum Age Name", "Base Maximum Age Name",
	"Numerical Age", "Type Section State", "Reference Id", "Usage No", "Last Update",
}

// Header aliases for the identity columns.
var (
	stratNoAliases   = []string{"Stratno", "Strat No", "Strat No."}
	stratNameAliases = []string{"Stratigraphic Name", "Name"}
	usageNoAliases   = []string{"Usage No", "UsageNo"}
	refIDAliases     = []string{"Reference Id", "ReferenceId", "Ref Id"}
	pageAliases      = []string{"Page Number", "PageNumber", "Page"}
)

var digitsPattern = regexp.MustCompile(`\d+`)

// PipeReader reads pipe-delimited tables with a header row, one document per
// data row. Blank lines are ignored, cells are trimmed of whitespace and
// quotes, and rows are padded or truncated to the header width.
type PipeReader struct{}

// NewPipeReader creates a PipeReader.
func NewPipeReader() *PipeReader {
	return &PipeReader{}
}

// Read implements Reader.
func (r *PipeReader) Read(ctx context.Context, path string) ([]document.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	defer f.Close()

	records, err := readPipeRecords(f)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	if len(records) == 0 {
		return nil, nil
	}

	headers := records[0]
	abs := absPath(path)
	fileName := filepath.Base(abs)
	status, topic := classifyPipeFile(fileName)

	docs := make([]document.Document, 0, len(records)-1)
	for i, cols := range records[1:] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rowIndex := i + 1
		row := zipRow(headers, cols)

		stratNo := firstValue(row, stratNoAliases)
		stratName := firstValue(row, stratNameAliases)
		usageNo := firstValue(row, usageNoAliases)
		refID := firstValue(row, refIDAliases)

		var page string
		md := fileMetadata(abs, fileTypeOf(path)).
			Set("dataset_status", status).
			Set("dataset_topic", topic).
			Set(document.KeyRow, rowIndex)
		if m := digitsPattern.FindString(firstValue(row, pageAliases)); m != "" {
			if n, err := strconv.Atoi(m); err == nil {
				md.Set(document.KeyPage, n)
				page = m
			}
		}
		for _, key := range pipeMetadataKeys {
			if v := row.get(key); v != "" {
				md.Set(key, truncateRunes(v, maxPipeMetadataRunes))
			}
		}

		identity := document.IdentityKey(fileName, stratNo, stratName, refID, usageNo, page, strconv.Itoa(rowIndex))
		docs = append(docs, document.New(renderPipeRow(row, stratName, stratNo), identity, md))
	}
	return docs, nil
}

// readPipeRecords splits non-blank lines on '|' and trims each cell of
// whitespace and double quotes. Quoting does not escape the delimiter.
func readPipeRecords(rd io.Reader) ([][]string, error) {
	var records [][]string
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.ToValidUTF8(sc.Text(), "")
		if strings.TrimSpace(line) == "" {
			continue
		}
		cells := strings.Split(line, "|")
		for i, c := range cells {
			cells[i] = strings.Trim(strings.TrimSpace(c), `"`)
		}
		records = append(records, cells)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// pipeRow keeps header order for rendering.
type pipeRow struct {
	keys   []string
	values map[string]string
}

func (r pipeRow) get(key string) string {
	return strings.TrimSpace(r.values[key])
}

func zipRow(headers, cols []string) pipeRow {
	row := pipeRow{keys: headers, values: make(map[string]string, len(headers))}
	for i, h := range headers {
		if i < len(cols) {
			row.values[h] = cols[i]
		} else {
			row.values[h] = ""
		}
	}
	return row
}

func firstValue(row pipeRow, aliases []string) string {
	for _, key := range aliases {
		if v := row.get(key); v != "" {
			return v
		}
	}
	return ""
}

// renderPipeRow writes "Key: value" lines: name and number first, then the
// preferred columns, then the rest in header order.
func renderPipeRow(row pipeRow, stratName, stratNo string) string {
	var lines []string
	seen := map[string]bool{"Stratigraphic Name": true, "Stratno": true}
	if stratName != "" {
		lines = append(lines, "Stratigraphic Name: "+stratName)
	}
	if stratNo != "" {
		lines = append(lines, "Stratno: "+stratNo)
	}
	for _, key := range pipePreferredKeys {
		if seen[key] {
			continue
		}
		if v := row.get(key); v != "" {
			lines = append(lines, key+": "+v)
			seen[key] = true
		}
	}
	for _, key := range row.keys {
		if seen[key] {
			continue
		}
		if v := row.get(key); v != "" {
			lines = append(lines, key+": "+v)
			seen[key] = true
		}
	}
	if len(lines) == 0 {
		return "Empty row"
	}
	return strings.Join(lines, "\n")
}

// classifyPipeFile infers currency and topic from the file name.
func classifyPipeFile(name string) (status, topic string) {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "not current"), strings.Contains(lower, "notcurrent"):
		status = "not_current"
	case strings.Contains(lower, "current"):
		status = "current"
	default:
		status = "unknown"
	}
	switch {
	case strings.Contains(lower, "name"):
		topic = "names"
	case strings.Contains(lower, "definition"):
		topic = "definition"
	case strings.Contains(lower, "reference"):
		topic = "references"
	case strings.Contains(lower, "article"):
		topic = "articles"
	default:
		topic = "general"
	}
	return status, topic
}

var _ Reader = (*PipeReader)(nil)
