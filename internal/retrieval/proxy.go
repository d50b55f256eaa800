package retrieval

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/tutord/internal/courseproxy"
)

// proxyScore is assigned to proxy results. The proxy applies the threshold
// itself and does not report scores, so every returned chunk passed it.
const proxyScore = 1.0

// ProxySearcher searches course content through the course proxy.
type ProxySearcher struct {
	client    *courseproxy.Client
	threshold float64
	maxHits   int
}

// NewProxySearcher creates a ProxySearcher. threshold and maxHits are sent to
// the proxy, which filters server side.
func NewProxySearcher(client *courseproxy.Client, threshold float64, maxHits int) (*ProxySearcher, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: proxy client is required", ErrInvalidConfig)
	}
	if maxHits <= 0 {
		return nil, fmt.Errorf("%w: max hits must be positive", ErrInvalidConfig)
	}
	return &ProxySearcher{client: client, threshold: threshold, maxHits: maxHits}, nil
}

// SimilaritySearch implements Searcher. Results keep the proxy's order.
func (s *ProxySearcher) SimilaritySearch(ctx context.Context, query, sessionID string) ([]Hit, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	cols, err := s.client.Retrieve(ctx, courseproxy.RetrieveRequest{
		Query:        query,
		SessionID:    sessionID,
		RAGThreshold: s.threshold,
		RAGK:         s.maxHits,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSearchFailed, err)
	}

	var hits []Hit
	for i, col := range cols {
		docID := col.DocID
		if docID == "" {
			docID = fmt.Sprintf("proxy-%d", i+1)
		}
		for _, chunk := range col.Chunks {
			hits = append(hits, Hit{DocID: docID, Summary: col.Summary, Chunk: chunk, Score: proxyScore})
		}
	}
	return hits, nil
}
