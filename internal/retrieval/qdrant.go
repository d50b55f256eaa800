package retrieval

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
)

var qdrantTracer = otel.Tracer(instrumentationName + "/qdrant")

// defaultMaxMessageSize matches Qdrant's default gRPC limit.
const defaultMaxMessageSize = 50 * 1024 * 1024

// QdrantConfig configures the remote course collection.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	MaxHits    int
}

// QdrantSearcher searches a Qdrant collection over gRPC.
type QdrantSearcher struct {
	client     *qdrant.Client
	embedder   Embedder
	collection string
	maxHits    int
}

// NewQdrantSearcher connects to Qdrant. The collection is created on first
// Upsert if it does not exist.
func NewQdrantSearcher(cfg QdrantConfig, embedder Embedder) (*QdrantSearcher, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if cfg.Host == "" || cfg.Port <= 0 {
		return nil, fmt.Errorf("%w: qdrant host and port are required", ErrInvalidConfig)
	}
	if cfg.Collection == "" || cfg.MaxHits <= 0 {
		return nil, fmt.Errorf("%w: collection and max hits are required", ErrInvalidConfig)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(defaultMaxMessageSize),
				grpc.MaxCallSendMsgSize(defaultMaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	return &QdrantSearcher{
		client:     client,
		embedder:   embedder,
		collection: cfg.Collection,
		maxHits:    cfg.MaxHits,
	}, nil
}

// Close releases the gRPC connection.
func (s *QdrantSearcher) Close() error {
	return s.client.Close()
}

// SimilaritySearch implements Searcher.
func (s *QdrantSearcher) SimilaritySearch(ctx context.Context, query, _ string) ([]Hit, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantSearcher.SimilaritySearch")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", s.collection),
		attribute.Int("limit", s.maxHits),
	)

	if query == "" {
		return nil, ErrEmptyQuery
	}

	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: embedding query: %w", ErrSearchFailed, err)
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          qdrant.PtrOf(uint64(s.maxHits)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: querying collection %s: %w", ErrSearchFailed, s.collection, err)
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, pointToHit(p))
	}

	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

func pointToHit(p *qdrant.ScoredPoint) Hit {
	h := Hit{Score: float64(p.GetScore())}
	payload := p.GetPayload()
	h.DocID = payload[metaDocID].GetStringValue()
	h.Summary = payload[metaSummary].GetStringValue()
	h.Chunk = payload[metaContent].GetStringValue()
	if h.DocID == "" {
		h.DocID = p.GetId().GetUuid()
	}
	return h
}

// Upsert embeds chunks and writes them as points, creating the collection
// with cosine distance when it is missing.
func (s *QdrantSearcher) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding %d chunks: %w", len(chunks), err)
	}
	if len(vectors) != len(chunks) || len(vectors[0]) == 0 {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	if err := s.ensureCollection(ctx, uint64(len(vectors[0]))); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, c := range chunks {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(c.ID),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(map[string]any{
				metaDocID:   c.DocID,
				metaSummary: c.Summary,
				metaContent: c.Text,
			}),
		}
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upserting %d points into %s: %w", len(points), s.collection, err)
	}
	return nil
}

func (s *QdrantSearcher) ensureCollection(ctx context.Context, dim uint64) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", s.collection, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     dim,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.collection, err)
	}
	return nil
}
