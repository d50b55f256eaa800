package retrieval

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/tutord/internal/ignore"
	"github.com/fyrsmithlabs/tutord/internal/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 80

	// upsertBatch bounds the chunks embedded per call.
	upsertBatch = 64
)

// chunkNamespace scopes deterministic chunk ids so re-ingesting a file
// overwrites its previous chunks.
var chunkNamespace = uuid.MustParse("6f0b6b2e-6c1e-4c52-9a0e-2f9f3f6f8d11")

var ingestExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
	".txt":      true,
}

// Chunk is a unit of course content ready to be embedded.
type Chunk struct {
	ID      string
	DocID   string
	Summary string
	Text    string
}

// Writer stores chunks in a searchable collection.
type Writer interface {
	Upsert(ctx context.Context, chunks []Chunk) error
}

// Ingester loads course files from disk into a Writer.
type Ingester struct {
	writer  Writer
	size    int
	overlap int
	ignore  *ignore.Matcher
	logger  *logging.Logger
}

// NewIngester creates an Ingester. Non-positive sizes select the defaults.
func NewIngester(w Writer, size, overlap int, logger *logging.Logger) (*Ingester, error) {
	if w == nil {
		return nil, fmt.Errorf("%w: writer is required", ErrInvalidConfig)
	}
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Ingester{writer: w, size: size, overlap: overlap, logger: logger.Named("ingest")}, nil
}

// SetIgnore skips paths matched by m in later IngestDir calls.
func (in *Ingester) SetIgnore(m *ignore.Matcher) {
	in.ignore = m
}

// IngestDir walks root and ingests every markdown and text file. The doc id
// of a file is its slash-separated path relative to root. It returns the
// number of chunks written.
func (in *Ingester) IngestDir(ctx context.Context, root string) (int, error) {
	var total int
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if in.ignore != nil && rel != "." && in.ignore.Match(rel, d.IsDir()) {
			in.logger.Debug(ctx, "skipping ignored path", zap.String("path", rel))
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !ingestExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		n, err := in.IngestDocument(ctx, filepath.ToSlash(rel), string(content))
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", path, err)
		}
		total += n
		return nil
	})
	if err != nil {
		return total, err
	}
	in.logger.Info(ctx, "ingested course content", zap.String("root", root), zap.Int("chunks", total))
	return total, nil
}

// IngestDocument chunks one document and writes it.
func (in *Ingester) IngestDocument(ctx context.Context, docID, content string) (int, error) {
	chunks := SplitDocument(docID, content, in.size, in.overlap)
	for start := 0; start < len(chunks); start += upsertBatch {
		end := min(start+upsertBatch, len(chunks))
		if err := in.writer.Upsert(ctx, chunks[start:end]); err != nil {
			return start, err
		}
		ingestedChunks.Add(float64(end - start))
	}
	in.logger.Debug(ctx, "ingested document", zap.String("doc_id", docID), zap.Int("chunks", len(chunks)))
	return len(chunks), nil
}

// SplitDocument cuts content into overlapping chunks of at most size bytes,
// breaking at whitespace where possible. Every chunk carries the document
// summary: its first markdown heading or first non-empty line.
func SplitDocument(docID, content string, size, overlap int) []Chunk {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	summary := summarize(content)

	var chunks []Chunk
	start := 0
	for start < len(content) {
		end := min(start+size, len(content))
		if end < len(content) {
			if i := strings.LastIndexAny(content[start:end], " \n\t"); i > 0 {
				end = start + i
			}
		}

		if text := strings.TrimSpace(content[start:end]); text != "" {
			chunks = append(chunks, Chunk{
				ID:      uuid.NewSHA1(chunkNamespace, []byte(docID+"#"+strconv.Itoa(len(chunks)))).String(),
				DocID:   docID,
				Summary: summary,
				Text:    text,
			})
		}

		if end >= len(content) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

func summarize(content string) string {
	var first string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
		if first == "" {
			first = line
		}
	}
	const maxSummary = 120
	if len(first) > maxSummary {
		first = first[:maxSummary]
	}
	return first
}
