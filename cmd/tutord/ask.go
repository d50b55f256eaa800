package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/tutord/internal/orchestrator"
)

var (
	askUser         string
	askConversation string
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask one question through the full pipeline",
	Long: `Run one question through budget, retrieval, generation and validation
without starting the server. Progress goes to stderr and the answer to stdout.

Examples:
  tutord ask "What is the difference between a stack and a queue?"
  tutord ask --user ada@tufts.edu --conversation hw3 "Why is my BST unbalanced?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := newApp(ctx, configPath)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		p, err := a.pipeline()
		if err != nil {
			return err
		}
		defer p.recorder.Close(context.Background())

		req := orchestrator.Request{
			UserID:         askUser,
			ConversationID: askConversation,
			Message:        strings.Join(args, " "),
			Platform:       "cli",
		}
		return ask(ctx, p.orch, req, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	askCmd.Flags().StringVar(&askUser, "user", "cli", "user id charged for the question")
	askCmd.Flags().StringVar(&askConversation, "conversation", "", "conversation id")
}

func ask(ctx context.Context, orch *orchestrator.Orchestrator, req orchestrator.Request, stdout, stderr io.Writer) error {
	for ev := range orch.Stream(ctx, req) {
		switch ev.Kind {
		case orchestrator.EventLoading, orchestrator.EventThinking:
			fmt.Fprintln(stderr, ev.Message)
		case orchestrator.EventComplete:
			fmt.Fprintln(stdout, ev.Outcome.Response)
			if hs := ev.Outcome.HealthStatus; hs != nil {
				fmt.Fprintf(stderr, "health points: %d/%d\n", hs.CurrentPoints, hs.MaxPoints)
			}
		case orchestrator.EventError:
			return errors.New(ev.Outcome.Error)
		}
	}
	return nil
}
