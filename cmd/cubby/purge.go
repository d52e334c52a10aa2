package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/cubbyd/cubby/config"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Permanently remove soft-deleted blobs",
	Long: `Permanently remove blobs that have been soft-deleted.

Soft deletion only marks a blob's metadata; its content stays on disk until
it is overwritten or purged. This command removes both the content and the
metadata record of every blob soft-deleted longer ago than --older-than.

Run this periodically to reclaim storage space.`,
	RunE: runPurge,
}

var purgeOlderThan time.Duration

func init() {
	purgeCmd.Flags().DurationVar(&purgeOlderThan, "older-than", 30*24*time.Hour, "minimum age of the soft-delete mark")
	rootCmd.AddCommand(purgeCmd)
}

func runPurge(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.FromContext(ctx)
	if err != nil {
		return err
	}

	service, cleanup, err := newService(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	n, err := service.Purge(ctx, purgeOlderThan)
	if err != nil {
		return fmt.Errorf("purge: %w", err)
	}

	slog.Info("purge complete", "removed", n, "older_than", purgeOlderThan)
	return nil
}
