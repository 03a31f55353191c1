package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/walinekit/sitestats/internal/stats"
)

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Delete the cached statistics",
	Long: `Delete the cached statistics so the next count queries the server.

Examples:
  sitestats clear-cache --store-dir ./.sitestats`,
	Args: cobra.NoArgs,
	RunE: runClearCache,
}

func init() {
	rootCmd.AddCommand(clearCacheCmd)
}

func runClearCache(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	client, err := newClient(ctx, cfg, logger, stats.NewNoop())
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.ClearCache(ctx); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	fmt.Printf("Cleared %s\n", client.CacheKey())
	return nil
}
