// Package ignore reads gitignore-style files that exclude paths from
// directory ingestion.
package ignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultFile is the ignore file looked up at the root of an ingested directory.
const DefaultFile = ".corporaignore"

// Parser reads and parses gitignore-style files.
type Parser struct {
	// IgnoreFiles is the list of ignore file names to look for.
	IgnoreFiles []string

	// FallbackPatterns are used when no ignore files are found.
	FallbackPatterns []string
}

// NewParser creates a new ignore file parser with the given configuration.
func NewParser(ignoreFiles, fallbackPatterns []string) *Parser {
	return &Parser{
		IgnoreFiles:      ignoreFiles,
		FallbackPatterns: fallbackPatterns,
	}
}

// rule is one parsed pattern line.
type rule struct {
	pattern string
	// dirOnly rules ("build/") only match directories.
	dirOnly bool
	// anchored rules contain a slash and match the path relative to the root;
	// the rest match the base name at any depth.
	anchored bool
	// floating anchored rules ("**/cache/tmp") match at any depth.
	floating bool
}

// Matcher decides whether a path under a root is ignored.
type Matcher struct {
	rules []rule
}

// ParseDir reads every ignore file in root and returns the combined matcher.
// When none exist the fallback patterns apply.
func (p *Parser) ParseDir(root string) (*Matcher, error) {
	var lines []string
	foundAny := false

	for _, name := range p.IgnoreFiles {
		fileLines, err := readLines(filepath.Join(root, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		lines = append(lines, fileLines...)
		foundAny = true
	}
	if !foundAny {
		lines = p.FallbackPatterns
	}

	m := &Matcher{}
	seen := make(map[rule]bool)
	for _, line := range lines {
		r, ok := parseLine(line)
		if !ok || seen[r] {
			continue
		}
		if _, err := filepath.Match(r.pattern, "test"); err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", line, err)
		}
		seen[r] = true
		m.rules = append(m.rules, r)
	}
	return m, nil
}

func readLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// parseLine parses a single line. Comments, blank lines and negations
// (unsupported) yield ok == false.
func parseLine(line string) (rule, bool) {
	line = strings.TrimRight(line, " \t")
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return rule{}, false
	}

	var r rule
	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if rest, ok := strings.CutPrefix(line, "**/"); ok {
		line = rest
		r.anchored = strings.Contains(line, "/")
		r.floating = r.anchored
	} else if strings.Contains(line, "/") {
		// A leading slash anchors to the root, as does any inner slash.
		r.anchored = true
		line = strings.TrimPrefix(line, "/")
	}
	if line == "" {
		return rule{}, false
	}
	r.pattern = line
	return r, true
}

// Len returns the number of active rules.
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.rules)
}

// Match reports whether relPath (slash or OS separated, relative to the
// root) is ignored. Callers skip the whole subtree of an ignored directory.
func (m *Matcher) Match(relPath string, isDir bool) bool {
	if m == nil {
		return false
	}
	relPath = filepath.ToSlash(relPath)
	base := relPath[strings.LastIndex(relPath, "/")+1:]

	for _, r := range m.rules {
		if r.dirOnly && !isDir {
			continue
		}
		if !r.anchored {
			if matched, _ := filepath.Match(r.pattern, base); matched {
				return true
			}
			continue
		}
		for target := relPath; ; {
			if matched, _ := filepath.Match(r.pattern, target); matched {
				return true
			}
			i := strings.Index(target, "/")
			if !r.floating || i < 0 {
				break
			}
			target = target[i+1:]
		}
	}
	return false
}
