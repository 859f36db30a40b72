package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/mender/internal/control"
)

var abandonReason string

var abandonCmd = &cobra.Command{
	Use:   "abandon [task_id]",
	Short: "Abandon a task's active recovery",
	Args:  cobra.ExactArgs(1),
	Run:   runAbandon,
}

func init() {
	abandonCmd.Flags().StringVar(&abandonReason, "reason", "", "why recovery is being abandoned")
	rootCmd.AddCommand(abandonCmd)
}

func runAbandon(cmd *cobra.Command, args []string) {
	taskID := args[0]
	cfg := loadConfig()

	app, err := control.NewEngine(cfg, nil)
	if err != nil {
		slog.Error("Failed to initialize engine", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = app.Stop(context.Background())
	}()

	attempt, err := app.Orchestrator().Abandon(context.Background(), taskID, abandonReason)
	if err != nil {
		slog.Error("Failed to abandon recovery", "task", taskID, "error", err)
		os.Exit(1)
	}

	fmt.Printf("Abandoned recovery for task %s at attempt %d\n", taskID, attempt.AttemptNumber)
}
