package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/mender/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tasks with recovery in flight or parked for retry",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	rows, err := db.QueryContext(ctx, `
		SELECT task_id, workspace_id, attempt_number, status,
		       COALESCE(recovery_strategy, ''), COALESCE(to_char(next_retry_at, 'YYYY-MM-DD HH24:MI:SS'), '-')
		FROM recovery_attempts
		WHERE status IN ('pending', 'analyzing', 'executing', 'retrying')
		  AND completed_at IS NULL
		ORDER BY started_at`)
	if err != nil {
		slog.Error("Failed to query attempts", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = rows.Close()
	}()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "TASK\tWORKSPACE\tATTEMPT\tSTATUS\tSTRATEGY\tNEXT RETRY")

	for rows.Next() {
		var taskID, workspaceID, status, strategy, nextRetry string
		var attempt int
		if err := rows.Scan(&taskID, &workspaceID, &attempt, &status, &strategy, &nextRetry); err != nil {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n", taskID, workspaceID, attempt, status, strategy, nextRetry)
	}
	_ = w.Flush()
}
