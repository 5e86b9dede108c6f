package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/crmsync/leadrelay/internal/infra/storage"
	"github.com/crmsync/leadrelay/internal/infra/storage/sqlite"
)

var requeueCmd = &cobra.Command{
	Use:   "requeue-dead-letters [fingerprint]",
	Short: "Move dead letters back into the retry queue, all of them or one by fingerprint",
	Args:  cobra.MaximumNArgs(1),
	Run:   runRequeue,
}

func init() {
	rootCmd.AddCommand(requeueCmd)
}

func runRequeue(cmd *cobra.Command, args []string) {
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

	if len(args) == 1 {
		fp := args[0]
		if err := store.DeadLetters().Requeue(ctx, fp); err != nil {
			if errors.Is(err, storage.ErrNotDeadLettered) {
				fmt.Printf("No dead letter for fingerprint %s\n", fp)
				os.Exit(1)
			}
			slog.Error("Failed to requeue dead letter", "fingerprint", fp, "error", err)
			os.Exit(1)
		}
		fmt.Printf("Requeued %s for retry on the next cycle\n", fp)
		return
	}

	moved, err := store.DeadLetters().RequeueAll(ctx)
	if err != nil {
		slog.Error("Failed to requeue dead letters", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Requeued %d dead letters for retry on the next cycle\n", moved)
}
