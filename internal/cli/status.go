package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/crmsync/leadrelay/internal/infra/storage/sqlite"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue depth, dead letters, and per-location delivery counts",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Database.Path == "" {
		slog.Error("No database path configured")
		os.Exit(1)
	}

	ctx := context.Background()
	store, err := sqlite.NewStore(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = store.Close()
	}()

	queued, err := store.Failures().Count(ctx)
	if err != nil {
		slog.Error("Failed to count queued failures", "error", err)
		os.Exit(1)
	}
	dead, err := store.DeadLetters().Count(ctx)
	if err != nil {
		slog.Error("Failed to count dead letters", "error", err)
		os.Exit(1)
	}
	meta, err := store.Meta().Get(ctx)
	if err != nil {
		slog.Error("Failed to read pipeline metadata", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Queued failures: %d\n", queued)
	fmt.Printf("Dead letters:    %d\n", dead)
	if !meta.LastCheckAt.IsZero() {
		fmt.Printf("Last cycle:      %s\n", meta.LastCheckAt.Format("2006-01-02 15:04:05 MST"))
	} else {
		fmt.Println("Last cycle:      never")
	}

	if len(meta.LocationCounts) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
		_, _ = fmt.Fprintln(w, "LOCATION\tDELIVERED")
		for location, count := range meta.LocationCounts {
			_, _ = fmt.Fprintf(w, "%s\t%d\n", location, count)
		}
		_ = w.Flush()
	}
}
