package retrieval

import (
	"fmt"
	"slices"
	"strings"
)

// contextHeader introduces retrieved content in the generation prompt.
const contextHeader = "The following is additional context that may be helpful in answering the user's query.\n\n"

// Group filters hits below threshold, merges the rest by DocID in hit order,
// and returns at most k excerpts ordered by descending relevance. Documents
// with equal relevance keep the order in which they were first seen.
func Group(hits []Hit, threshold float64, k int) []Excerpt {
	if k <= 0 {
		return []Excerpt{}
	}

	index := make(map[string]int)
	excerpts := make([]Excerpt, 0, len(hits))
	for _, h := range hits {
		if h.Score < threshold {
			continue
		}
		i, ok := index[h.DocID]
		if !ok {
			index[h.DocID] = len(excerpts)
			excerpts = append(excerpts, Excerpt{
				DocID:     h.DocID,
				Summary:   h.Summary,
				Chunks:    []string{h.Chunk},
				Relevance: h.Score,
			})
			continue
		}
		e := &excerpts[i]
		e.Chunks = append(e.Chunks, h.Chunk)
		if h.Score > e.Relevance {
			e.Relevance = h.Score
		}
		if e.Summary == "" {
			e.Summary = h.Summary
		}
	}

	slices.SortStableFunc(excerpts, func(a, b Excerpt) int {
		switch {
		case a.Relevance > b.Relevance:
			return -1
		case a.Relevance < b.Relevance:
			return 1
		}
		return 0
	})

	if len(excerpts) > k {
		excerpts = excerpts[:k]
	}
	return excerpts
}

// Format renders excerpts as a numbered context block for the system prompt.
// It returns "" when there is nothing to add.
func Format(excerpts []Excerpt) string {
	if len(excerpts) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(contextHeader)
	for i, e := range excerpts {
		fmt.Fprintf(&b, "#%d %s\n", i+1, e.Summary)
		for j, chunk := range e.Chunks {
			fmt.Fprintf(&b, "#%d.%d %s\n", i+1, j+1, chunk)
		}
	}
	return b.String()
}
