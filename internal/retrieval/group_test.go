package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroup_MergesChunksByDocument(t *testing.T) {
	hits := []Hit{
		{DocID: "doc_42", Summary: "Binary search trees", Chunk: "BST insertion keeps order", Score: 0.81},
		{DocID: "doc_7", Summary: "Graphs", Chunk: "BFS uses a queue", Score: 0.35},
		{DocID: "doc_42", Summary: "Binary search trees", Chunk: "Deletion has three cases", Score: 0.66},
	}

	got := Group(hits, 0.4, 5)

	require.Len(t, got, 1)
	assert.Equal(t, "doc_42", got[0].DocID)
	assert.Equal(t, "Binary search trees", got[0].Summary)
	assert.Equal(t, []string{"BST insertion keeps order", "Deletion has three cases"}, got[0].Chunks)
	assert.InDelta(t, 0.81, got[0].Relevance, 1e-9)
}

func TestGroup(t *testing.T) {
	tests := []struct {
		name      string
		hits      []Hit
		threshold float64
		k         int
		wantDocs  []string
	}{
		{
			name:     "empty input",
			hits:     nil,
			k:        5,
			wantDocs: []string{},
		},
		{
			name: "orders by max relevance",
			hits: []Hit{
				{DocID: "a", Score: 0.5},
				{DocID: "b", Score: 0.9},
				{DocID: "a", Score: 0.95},
				{DocID: "c", Score: 0.7},
			},
			threshold: 0.4,
			k:         5,
			wantDocs:  []string{"a", "b", "c"},
		},
		{
			name: "ties keep first-seen order",
			hits: []Hit{
				{DocID: "x", Score: 0.6},
				{DocID: "y", Score: 0.6},
				{DocID: "z", Score: 0.6},
			},
			threshold: 0.4,
			k:         5,
			wantDocs:  []string{"x", "y", "z"},
		},
		{
			name: "caps at k",
			hits: []Hit{
				{DocID: "a", Score: 0.9},
				{DocID: "b", Score: 0.8},
				{DocID: "c", Score: 0.7},
			},
			threshold: 0.4,
			k:         2,
			wantDocs:  []string{"a", "b"},
		},
		{
			name: "threshold is inclusive",
			hits: []Hit{
				{DocID: "a", Score: 0.4},
				{DocID: "b", Score: 0.39},
			},
			threshold: 0.4,
			k:         5,
			wantDocs:  []string{"a"},
		},
		{
			name:      "non-positive k returns nothing",
			hits:      []Hit{{DocID: "a", Score: 0.9}},
			threshold: 0.4,
			k:         0,
			wantDocs:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Group(tt.hits, tt.threshold, tt.k)
			ids := make([]string, 0, len(got))
			for _, e := range got {
				ids = append(ids, e.DocID)
			}
			assert.Equal(t, tt.wantDocs, ids)
		})
	}
}

func TestGroup_ExcerptInvariants(t *testing.T) {
	hits := []Hit{
		{DocID: "a", Chunk: "1", Score: 0.9},
		{DocID: "b", Chunk: "2", Score: 0.2},
		{DocID: "a", Chunk: "3", Score: 0.45},
		{DocID: "c", Chunk: "4", Score: 0.5},
		{DocID: "b", Chunk: "5", Score: 0.41},
	}

	got := Group(hits, 0.4, 10)

	seen := map[string]bool{}
	for i, e := range got {
		assert.False(t, seen[e.DocID], "doc %s appears twice", e.DocID)
		seen[e.DocID] = true
		assert.NotEmpty(t, e.Chunks)
		assert.GreaterOrEqual(t, e.Relevance, 0.4)
		if i > 0 {
			assert.GreaterOrEqual(t, got[i-1].Relevance, e.Relevance)
		}
	}
	assert.Equal(t, []string{"5"}, got[2].Chunks)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "", Format(nil))

	out := Format([]Excerpt{
		{DocID: "doc_42", Summary: "Binary search trees", Chunks: []string{"insertion", "deletion"}},
		{DocID: "doc_7", Summary: "Graphs", Chunks: []string{"bfs"}},
	})

	want := "The following is additional context that may be helpful in answering the user's query.\n\n" +
		"#1 Binary search trees\n" +
		"#1.1 insertion\n" +
		"#1.2 deletion\n" +
		"#2 Graphs\n" +
		"#2.1 bfs\n"
	assert.Equal(t, want, out)
}
