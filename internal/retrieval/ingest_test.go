package retrieval

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/tutord/internal/ignore"
)

func TestSplitDocument(t *testing.T) {
	content := "# Binary search trees\n\n" + strings.Repeat("word ", 100)

	chunks := SplitDocument("week3/bst.md", content, 120, 20)

	require.Greater(t, len(chunks), 1)
	ids := map[string]bool{}
	for _, c := range chunks {
		assert.Equal(t, "week3/bst.md", c.DocID)
		assert.Equal(t, "Binary search trees", c.Summary)
		assert.LessOrEqual(t, len(c.Text), 120)
		assert.NotEmpty(t, c.Text)
		assert.False(t, ids[c.ID], "duplicate chunk id")
		ids[c.ID] = true
	}
}

func TestSplitDocument_DeterministicIDs(t *testing.T) {
	a := SplitDocument("doc", "alpha beta gamma", 800, 80)
	b := SplitDocument("doc", "alpha beta gamma", 800, 80)
	require.Len(t, a, 1)
	assert.Equal(t, a[0].ID, b[0].ID)
	assert.Equal(t, "alpha beta gamma", a[0].Summary)
}

func TestSplitDocument_Empty(t *testing.T) {
	assert.Empty(t, SplitDocument("doc", "   \n", 100, 10))
}

func TestSplitDocument_NoWhitespaceTerminates(t *testing.T) {
	chunks := SplitDocument("doc", strings.Repeat("x", 1000), 100, 99)
	assert.NotEmpty(t, chunks)
}

func TestIngester_IngestDir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "week1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "week1", "intro.md"), []byte("# Intro\nWelcome to the course."), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("Office hours are on Friday."), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "slides.pdf"), []byte("%PDF"), 0o600))

	w := &recordingWriter{}
	in, err := NewIngester(w, 0, 0, nil)
	require.NoError(t, err)

	n, err := in.IngestDir(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	docs := map[string]string{}
	for _, c := range w.chunks {
		docs[c.DocID] = c.Summary
	}
	assert.Equal(t, map[string]string{
		"week1/intro.md": "Intro",
		"notes.txt":      "Office hours are on Friday.",
	}, docs)
}

func TestIngester_IngestDirSkipsIgnored(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "solutions"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "solutions", "hw1.md"), []byte("The answer is 42."), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "heaps.draft.md"), []byte("Unfinished."), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "heaps.md"), []byte("A heap is a tree."), 0o600))

	w := &recordingWriter{}
	in, err := NewIngester(w, 0, 0, nil)
	require.NoError(t, err)
	in.SetIgnore(ignore.New("solutions/", "*.draft.md"))

	n, err := in.IngestDir(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, w.chunks, 1)
	assert.Equal(t, "heaps.md", w.chunks[0].DocID)
}

func TestIngester_WriterError(t *testing.T) {
	w := &recordingWriter{err: errBackendDown}
	in, err := NewIngester(w, 0, 0, nil)
	require.NoError(t, err)

	_, err = in.IngestDocument(context.Background(), "doc", "some text")
	assert.ErrorIs(t, err, errBackendDown)
}

func TestIngester_IntoChromem(t *testing.T) {
	ctx := context.Background()
	s := newTestChromem(t, newKeywordEmbedder())
	in, err := NewIngester(s, 0, 0, nil)
	require.NoError(t, err)

	_, err = in.IngestDocument(ctx, "doc_42", "# Trees\nbinary search tree basics")
	require.NoError(t, err)

	hits, err := s.SimilaritySearch(ctx, "binary search tree", "s1")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc_42", hits[0].DocID)
	assert.Equal(t, "Trees", hits[0].Summary)
}
