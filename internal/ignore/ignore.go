// Package ignore reads gitignore-style files that keep course files out of
// the retrieval index.
package ignore

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// DefaultFiles are read from the ingest root when present.
var DefaultFiles = []string{".tutordignore", ".gitignore"}

// DefaultPatterns apply when the ingest root has no ignore file.
var DefaultPatterns = []string{".git/", "node_modules/", "*.draft.md"}

// Matcher decides whether a path relative to the ingest root is ignored.
type Matcher struct {
	rules []rule
}

type rule struct {
	glob     string
	dirOnly  bool
	anchored bool
}

// Load reads every file in names from root. When none exist the fallback
// patterns are used.
func Load(root string, names, fallback []string) (*Matcher, error) {
	var patterns []string
	found := false
	for _, name := range names {
		lines, err := readLines(filepath.Join(root, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		patterns = append(patterns, lines...)
		found = true
	}
	if !found {
		patterns = fallback
	}
	return New(patterns...), nil
}

// New builds a Matcher from gitignore-style patterns. Comments, blank
// lines and negations are skipped.
func New(patterns ...string) *Matcher {
	m := &Matcher{}
	seen := make(map[string]bool)
	for _, p := range patterns {
		r, ok := parseLine(p)
		if !ok {
			continue
		}
		key := r.glob
		if r.dirOnly {
			key += "/"
		}
		if r.anchored {
			key = "/" + key
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		m.rules = append(m.rules, r)
	}
	return m
}

// Len returns the number of active rules.
func (m *Matcher) Len() int { return len(m.rules) }

// Match reports whether rel, a slash-separated path relative to the root,
// is ignored. isDir marks directories so that dir-only rules apply.
func (m *Matcher) Match(rel string, isDir bool) bool {
	rel = strings.TrimPrefix(path.Clean(filepath.ToSlash(rel)), "/")
	if rel == "." || rel == "" {
		return false
	}
	for _, r := range m.rules {
		if r.dirOnly && !isDir {
			continue
		}
		if r.matches(rel) {
			return true
		}
	}
	return false
}

func (r rule) matches(rel string) bool {
	if r.anchored || strings.Contains(r.glob, "/") {
		ok, _ := path.Match(r.glob, rel)
		return ok
	}
	ok, _ := path.Match(r.glob, path.Base(rel))
	return ok
}

func readLines(p string) ([]string, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// parseLine turns one ignore file line into a rule.
func parseLine(line string) (rule, bool) {
	line = strings.TrimRight(line, " \t")
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return rule{}, false
	}
	var r rule
	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimRight(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		r.anchored = true
		line = strings.TrimLeft(line, "/")
	}
	if line == "" {
		return rule{}, false
	}
	if _, err := path.Match(line, ""); err != nil {
		return rule{}, false
	}
	r.glob = line
	return r, true
}
