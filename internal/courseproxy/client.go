// Package courseproxy is a client for the course LLM proxy.
//
// The proxy exposes a single POST endpoint. The request_type header selects
// between a model call ("call") and a course content search ("retrieve").
// Authentication is a shared key sent in the x-api-key header.
package courseproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrInvalidConfig indicates missing endpoint or credentials.
	ErrInvalidConfig = errors.New("invalid course proxy configuration")

	// ErrRequestFailed indicates a transport-level failure.
	ErrRequestFailed = errors.New("course proxy request failed")

	// ErrMalformedResponse indicates a 200 response that could not be decoded.
	ErrMalformedResponse = errors.New("malformed course proxy response")
)

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 4 * 1024 * 1024

// StatusError is returned for non-200 responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("course proxy returned status %d", e.Code)
	}
	return fmt.Sprintf("course proxy returned status %d: %s", e.Code, e.Body)
}

// Retryable reports whether the request may succeed if repeated.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Config holds proxy connection settings.
type Config struct {
	Endpoint string
	APIKey   string
	// RateLimit is the sustained requests per second. Zero disables limiting.
	RateLimit float64
	Timeout   time.Duration
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("%w: endpoint required", ErrInvalidConfig)
	}
	if c.APIKey == "" {
		return fmt.Errorf("%w: api key required", ErrInvalidConfig)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("%w: rate limit must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Client talks to the course proxy.
type Client struct {
	config  Config
	http    *http.Client
	limiter *rate.Limiter
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(1, int(cfg.RateLimit)))
	}
	return &Client{
		config:  cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
	}, nil
}

// CallRequest is the body of a model call.
type CallRequest struct {
	Model        string  `json:"model"`
	System       string  `json:"system"`
	Query        string  `json:"query"`
	Temperature  float64 `json:"temperature"`
	LastK        int     `json:"lastk"`
	SessionID    string  `json:"session_id"`
	RAGThreshold float64 `json:"rag_threshold"`
	RAGUsage     bool    `json:"rag_usage"`
	RAGK         int     `json:"rag_k"`
}

type callResponse struct {
	Result   *string `json:"result"`
	Response *string `json:"response"`
}

// RetrieveRequest is the body of a course content search.
type RetrieveRequest struct {
	Query        string  `json:"query"`
	SessionID    string  `json:"session_id"`
	RAGThreshold float64 `json:"rag_threshold"`
	RAGK         int     `json:"rag_k"`
}

// Collection is one document returned by a search.
type Collection struct {
	DocID   string   `json:"doc_id,omitempty"`
	Summary string   `json:"doc_summary"`
	Chunks  []string `json:"chunks"`
}

// Call runs a model call and returns the completion text.
func (c *Client) Call(ctx context.Context, req CallRequest) (string, error) {
	body, err := c.post(ctx, "call", req)
	if err != nil {
		return "", err
	}
	var resp callResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	switch {
	case resp.Result != nil:
		return *resp.Result, nil
	case resp.Response != nil:
		return *resp.Response, nil
	}
	return "", fmt.Errorf("%w: neither result nor response present", ErrMalformedResponse)
}

// Retrieve runs a course content search.
func (c *Client) Retrieve(ctx context.Context, req RetrieveRequest) ([]Collection, error) {
	body, err := c.post(ctx, "retrieve", req)
	if err != nil {
		return nil, err
	}
	var collections []Collection
	if err := json.Unmarshal(body, &collections); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return collections, nil
}

func (c *Client) post(ctx context.Context, requestType string, payload any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: waiting for rate limiter: %w", ErrRequestFailed, err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.config.APIKey)
	httpReq.Header.Set("request_type", requestType)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", ErrRequestFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: snippet}
	}
	return body, nil
}
