// Package secrets redacts credentials that learners paste into questions
// before interaction records leave the process.
//
// Detection uses the default Gitleaks rule set. An optional TOML allowlist
// suppresses findings that match operator supplied patterns, such as the
// placeholder keys that appear in course handouts.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

var (
	// ErrInvalidRegex indicates an allowlist pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrInvalidTOML indicates an allowlist file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")
)

// Allowlist holds content patterns that are never treated as secrets.
type Allowlist struct {
	Regexes   []string
	StopWords []string
}

// LoadAllowlist reads an allowlist file of the form
//
//	[allowlist]
//	regexes = ['''AKIA[0-9A-Z]{16}EXAMPLE''']
//	stopwords = ["changeme"]
//
// A missing file yields an empty allowlist.
func LoadAllowlist(path string) (*Allowlist, error) {
	if path == "" {
		return &Allowlist{}, nil
	}
	var doc struct {
		Allowlist struct {
			Regexes   []string `toml:"regexes"`
			StopWords []string `toml:"stopwords"`
		} `toml:"allowlist"`
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return &Allowlist{}, nil
		}
		return nil, err
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}
	for _, pattern := range doc.Allowlist.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: %q in %s: %v", ErrInvalidRegex, pattern, path, err)
		}
	}
	return &Allowlist{
		Regexes:   doc.Allowlist.Regexes,
		StopWords: doc.Allowlist.StopWords,
	}, nil
}

// Redactor replaces detected secrets with a marker naming the rule that
// matched. It is safe for concurrent use.
type Redactor struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// NewRedactor builds a Redactor from the default Gitleaks rules plus allow.
// A nil allow applies no extra allowlist.
func NewRedactor(allow *Allowlist) (*Redactor, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks rules: %w", err)
	}
	if allow != nil && (len(allow.Regexes) > 0 || len(allow.StopWords) > 0) {
		entry := &gitleaksConfig.Allowlist{
			Description: "tutord allowlist",
			StopWords:   allow.StopWords,
		}
		for _, pattern := range allow.Regexes {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRegex, pattern, err)
			}
			entry.Regexes = append(entry.Regexes, (*gitleaksRegexp.Regexp)(re))
		}
		detector.Config.Allowlists = append(detector.Config.Allowlists, entry)
	}
	return &Redactor{detector: detector}, nil
}

// Redact returns text with every detected secret replaced and the number
// of secrets found.
func (r *Redactor) Redact(text string) (string, int) {
	if strings.TrimSpace(text) == "" {
		return text, 0
	}
	r.mu.Lock()
	findings := r.detector.DetectString(text)
	r.mu.Unlock()

	matches := make([]match, 0, len(findings))
	for _, f := range findings {
		matches = append(matches, match{rule: f.RuleID, secret: f.Secret})
	}
	return replace(text, matches), len(matches)
}

type match struct {
	rule   string
	secret string
}

// Marker is the replacement written in place of a secret found by rule.
func Marker(rule string) string {
	return "[REDACTED:" + rule + "]"
}

// replace substitutes longer secrets first so a secret that contains
// another is not split by the shorter replacement.
func replace(text string, matches []match) string {
	sort.SliceStable(matches, func(i, j int) bool {
		return len(matches[i].secret) > len(matches[j].secret)
	})
	for _, m := range matches {
		if m.secret == "" {
			continue
		}
		text = strings.ReplaceAll(text, m.secret, Marker(m.rule))
	}
	return text
}
