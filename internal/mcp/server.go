// Package mcp exposes the tutor to editor assistants over the Model Context
// Protocol. The server speaks MCP on stdin and stdout and runs every
// question through the same pipeline as the HTTP API, charged to a single
// configured user.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tutord/internal/budget"
	"github.com/fyrsmithlabs/tutord/internal/logging"
	"github.com/fyrsmithlabs/tutord/internal/orchestrator"
)

// Platform is recorded on every request made through MCP.
const Platform = "vscode"

// Pipeline answers one request. *orchestrator.Orchestrator implements it.
type Pipeline interface {
	Run(ctx context.Context, req orchestrator.Request) orchestrator.Outcome
}

// HealthChecker reports a user's health points. *budget.Tracker implements it.
type HealthChecker interface {
	Check(ctx context.Context, userID string) (budget.State, error)
	Status(s budget.State) budget.Status
}

// Config configures the MCP server.
type Config struct {
	// User is charged for every question.
	User    string
	Version string
}

// Server is an MCP server over the tutor pipeline.
type Server struct {
	mcpServer *mcpsdk.Server
	pipeline  Pipeline
	health    HealthChecker
	user      string
	logger    *logging.Logger
}

// NewServer registers the tutor tools.
func NewServer(pipeline Pipeline, health HealthChecker, logger *logging.Logger, cfg Config) (*Server, error) {
	if pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if health == nil {
		return nil, errors.New("health checker is required")
	}
	if strings.TrimSpace(cfg.User) == "" {
		return nil, errors.New("user is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{
		mcpServer: mcpsdk.NewServer(&mcpsdk.Implementation{
			Name:    "tutord",
			Version: cfg.Version,
		}, nil),
		pipeline: pipeline,
		health:   health,
		user:     cfg.User,
		logger:   logger.Named("mcp"),
	}
	s.registerTools()
	return s, nil
}

// Run serves MCP on stdin and stdout until ctx is done or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	if err := s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "ask_tutor",
		Description: "Ask the course tutor a question. Answers are grounded in course material when it is available and cost one health point.",
	}, s.handleAsk)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "health_status",
		Description: "Show how many questions remain before the tutor asks you to wait.",
	}, s.handleHealthStatus)
}

// AskParams are the ask_tutor arguments.
type AskParams struct {
	Question       string `json:"question" jsonschema:"The question for the tutor"`
	ConversationID string `json:"conversation_id,omitempty" jsonschema:"Continue an earlier conversation (optional)"`
}

// HealthStatusParams are the health_status arguments.
type HealthStatusParams struct{}

func (s *Server) handleAsk(ctx context.Context, _ *mcpsdk.CallToolRequest, params *AskParams) (*mcpsdk.CallToolResult, any, error) {
	if params == nil || strings.TrimSpace(params.Question) == "" {
		return errorResult("question is required"), nil, nil
	}

	out := s.pipeline.Run(ctx, orchestrator.Request{
		UserID:         s.user,
		ConversationID: params.ConversationID,
		Message:        params.Question,
		Platform:       Platform,
	})
	if !out.OK() {
		s.logger.Info(ctx, "mcp question not answered",
			zap.String("state", string(out.State)),
			zap.Error(out.Err),
		)
		return errorResult(out.Error), nil, nil
	}
	return textResult(formatAnswer(out)), nil, nil
}

func (s *Server) handleHealthStatus(ctx context.Context, _ *mcpsdk.CallToolRequest, _ *HealthStatusParams) (*mcpsdk.CallToolResult, any, error) {
	state, err := s.health.Check(ctx, s.user)
	if err != nil {
		return nil, nil, fmt.Errorf("health status: %w", err)
	}
	return textResult(formatStatus(s.health.Status(state))), nil, nil
}

func formatAnswer(out orchestrator.Outcome) string {
	var b strings.Builder
	b.WriteString(out.Response)
	if len(out.Excerpts) > 0 {
		b.WriteString("\n\nSources:")
		for _, ex := range out.Excerpts {
			fmt.Fprintf(&b, "\n- %s (relevance %.2f)", ex.DocID, ex.Relevance)
		}
	}
	fmt.Fprintf(&b, "\n\nConversation: %s", out.ConversationID)
	if hs := out.HealthStatus; hs != nil {
		fmt.Fprintf(&b, "\nHealth points: %d/%d", hs.CurrentPoints, hs.MaxPoints)
	}
	return b.String()
}

func formatStatus(st budget.Status) string {
	text := fmt.Sprintf("Health points: %d/%d", st.CurrentPoints, st.MaxPoints)
	if st.CurrentPoints < st.MaxPoints {
		text += fmt.Sprintf("\nNext point in %s", st.TimeUntilNextRegen.Round(time.Second))
	}
	if !st.CanQuery {
		text += "\nOut of questions for now."
	}
	return text
}

func textResult(text string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
	}
}

func errorResult(text string) *mcpsdk.CallToolResult {
	r := textResult(text)
	r.IsError = true
	return r
}
