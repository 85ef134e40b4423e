package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"codebundle-score/cache"
	"codebundle-score/clierr"
	"codebundle-score/logger"
	"codebundle-score/output"
)

var flagHistoryLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded scoring runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the report cache",
}

var cacheResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every cache entry (run history is kept)",
	Args:  cobra.NoArgs,
	RunE:  runCacheReset,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println("codebundle-score", version)
	},
}

func init() {
	historyCmd.Flags().IntVarP(&flagHistoryLimit, "limit", "n", 20, "number of runs to show (0 for all)")
	cacheCmd.AddCommand(cacheResetCmd)
	rootCmd.AddCommand(historyCmd, cacheCmd, versionCmd)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	root, err := filepath.Abs(flagDir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", flagDir, err)
	}
	store, err := a.openCache(root)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(cmd.Context(), flagHistoryLimit)
	if err != nil {
		return err
	}
	if a.format == output.FormatJSON {
		if runs == nil {
			runs = []*cache.Run{}
		}
		return output.JSON(os.Stdout, runs)
	}
	output.RunsTable(os.Stdout, runs)
	return nil
}

func runCacheReset(cmd *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	root, err := filepath.Abs(flagDir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", flagDir, err)
	}

	store, err := a.openCache(root)
	if clierr.Is(err, clierr.CacheCorruption) && a.cfg.Cache.Backend == "json" {
		// An unreadable JSON cache cannot be opened to be emptied; drop it.
		path := a.cfg.Cache.Path
		if path == "" {
			path = filepath.Join(root, cache.DefaultFile)
		}
		if rmErr := a.fs.Remove(path); rmErr != nil {
			return clierr.Wrap(clierr.CacheCorruption, rmErr, "remove corrupt cache")
		}
		a.log.Warn("cache.corrupt_removed", logger.String("path", path))
		return printReset(a, -1)
	}
	if err != nil {
		return err
	}

	n, err := store.Reset(cmd.Context())
	if err != nil {
		store.Close()
		return err
	}
	if err := store.Close(); err != nil {
		return err
	}
	return printReset(a, n)
}

// printReset reports the number of removed entries; -1 means the whole
// cache file was discarded.
func printReset(a *app, n int) error {
	if a.format == output.FormatJSON {
		return output.JSON(os.Stdout, map[string]any{"removed": n})
	}
	if n < 0 {
		fmt.Println("Removed corrupt cache file.")
		return nil
	}
	fmt.Printf("Removed %d cache entries.\n", n)
	return nil
}
