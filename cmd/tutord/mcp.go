package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/tutord/internal/mcp"
)

var mcpUser string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the tutor to editor assistants over MCP stdio",
	Long: `Speak the Model Context Protocol on stdin and stdout so an editor assistant
can ask the tutor questions. Every question is charged to --user. Logs go to
stderr.

Tools:
  ask_tutor       ask a question, optionally continuing a conversation
  health_status   show remaining health points

Example editor configuration:
  {"command": "tutord", "args": ["mcp", "--user", "ada@tufts.edu"]}`,
	Args: cobra.NoArgs,
	PreRun: func(*cobra.Command, []string) {
		logToStderr = true
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runMCP(ctx)
	},
}

func init() {
	mcpCmd.Flags().StringVar(&mcpUser, "user", "", "user id charged for questions (required)")
	_ = mcpCmd.MarkFlagRequired("user")
}

func runMCP(ctx context.Context) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	p, err := a.pipeline()
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		_ = p.recorder.Close(drainCtx)
	}()

	srv, err := mcp.NewServer(p.orch, p.tracker, a.logger, mcp.Config{User: mcpUser, Version: version})
	if err != nil {
		return err
	}
	a.logger.Info(ctx, "mcp server ready")
	return srv.Run(ctx)
}
