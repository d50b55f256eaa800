package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/tutord/internal/budget"
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Inspect or reset a user's health points",
	Long: `Inspect or reset health point ledgers in the configured store.

The memory store lives inside the server process, so these commands are only
useful with storage.driver set to sqlite.

Examples:
  tutord budget show ada@tufts.edu
  tutord budget reset ada@tufts.edu`,
}

var budgetShowCmd = &cobra.Command{
	Use:   "show <user>",
	Short: "Print a user's current health status as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTracker(cmd.Context(), func(t *budget.Tracker) error {
			return showBudget(cmd.Context(), cmd.OutOrStdout(), t, args[0])
		})
	},
}

var budgetResetCmd = &cobra.Command{
	Use:   "reset <user>",
	Short: "Restore a user's health points to the maximum",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTracker(cmd.Context(), func(t *budget.Tracker) error {
			return resetBudget(cmd.Context(), cmd.OutOrStdout(), t, args[0])
		})
	},
}

func init() {
	budgetCmd.AddCommand(budgetShowCmd)
	budgetCmd.AddCommand(budgetResetCmd)
}

func withTracker(ctx context.Context, fn func(*budget.Tracker) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	if a.cfg.Storage.Driver != "sqlite" {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "warning: storage.driver is memory; showing a fresh ledger")
	}
	t, err := a.tracker()
	if err != nil {
		return err
	}
	return fn(t)
}

// budgetView is the JSON printed by the budget commands.
type budgetView struct {
	User   string        `json:"user"`
	Known  bool          `json:"known"`
	Status budget.Status `json:"status"`
}

func showBudget(ctx context.Context, w io.Writer, t *budget.Tracker, user string) error {
	state, known, err := t.Peek(ctx, user)
	if err != nil {
		return fmt.Errorf("reading budget for %s: %w", user, err)
	}
	return writeJSON(w, budgetView{User: user, Known: known, Status: t.Status(state)})
}

func resetBudget(ctx context.Context, w io.Writer, t *budget.Tracker, user string) error {
	state, err := t.Reset(ctx, user)
	if err != nil {
		return fmt.Errorf("resetting budget for %s: %w", user, err)
	}
	return writeJSON(w, budgetView{User: user, Known: true, Status: t.Status(state)})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
