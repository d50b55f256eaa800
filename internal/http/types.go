package http

import (
	"github.com/fyrsmithlabs/tutord/internal/budget"
	"github.com/fyrsmithlabs/tutord/internal/orchestrator"
)

// ChatRequest is the request body for POST /api and POST /api/stream.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
}

// ErrorResponse is the body of every failed chat request.
type ErrorResponse struct {
	Error          string         `json:"error"`
	ConversationID string         `json:"conversation_id,omitempty"`
	HealthStatus   *budget.Status `json:"health_status,omitempty"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// Frame is one server-sent event on POST /api/stream. Loading and thinking
// frames carry only Message; complete frames carry the whole outcome.
type Frame struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	*orchestrator.Outcome
}
