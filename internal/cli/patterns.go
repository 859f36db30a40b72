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

var patternsWorkspace string

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "List known failure patterns",
	Run:   runPatterns,
}

func init() {
	patternsCmd.Flags().StringVar(&patternsWorkspace, "workspace", "", "limit to one workspace")
	rootCmd.AddCommand(patternsCmd)
}

func runPatterns(cmd *cobra.Command, args []string) {
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

	query := `
		SELECT workspace_id, failure_type, occurrence_count, is_transient,
		       confidence_score, to_char(last_detected_at, 'YYYY-MM-DD HH24:MI:SS')
		FROM failure_patterns`
	queryArgs := []any{}
	if patternsWorkspace != "" {
		query += ` WHERE workspace_id = $1`
		queryArgs = append(queryArgs, patternsWorkspace)
	}
	query += ` ORDER BY last_detected_at DESC`

	rows, err := db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		slog.Error("Failed to query patterns", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = rows.Close()
	}()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "WORKSPACE\tTYPE\tSEEN\tTRANSIENT\tCONFIDENCE\tLAST SEEN")

	for rows.Next() {
		var workspaceID, failureType, lastSeen string
		var count int
		var transient bool
		var confidence float64
		if err := rows.Scan(&workspaceID, &failureType, &count, &transient, &confidence, &lastSeen); err != nil {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%.2f\t%s\n", workspaceID, failureType, count, transient, confidence, lastSeen)
	}
	_ = w.Flush()
}
