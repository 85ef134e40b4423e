package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"codebundle-score/analysis"
	"codebundle-score/cache"
	"codebundle-score/logger"
	"codebundle-score/watcher"
)

var (
	flagWatchApply   bool
	flagWatchNoCache bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-score the directory whenever a .robot file changes",
	Long: `Run an analysis of --dir, then keep watching it and run again after
every burst of .robot file changes. Unchanged tasks are answered from the
report cache, so re-runs only evaluate what was edited.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&flagWatchApply, "apply-suggestions", false, "patch files after each run")
	watchCmd.Flags().BoolVar(&flagWatchNoCache, "no-cache", false, "do not use the report cache")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()
	if flagWatchNoCache {
		a.cfg.Cache.Disabled = true
	}

	root, err := filepath.Abs(flagDir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", flagDir, err)
	}
	ctx := cmd.Context()

	eval, err := a.evaluator()
	if err != nil {
		return err
	}
	var store cache.Store
	if !a.cfg.Cache.Disabled {
		if store, err = a.openCache(root); err != nil {
			return err
		}
		defer func() {
			if cerr := store.Close(); cerr != nil {
				a.log.Warn("cache.close_failed", logger.Err(cerr))
			}
		}()
	}
	engine := analysis.NewEngine(a.cfg.RuleEngineConfig(), a.fs, eval, store, a.log)

	// Runs are serialized; the engine is not safe for concurrent use.
	var mu sync.Mutex
	pass := func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		res, err := engine.Run(ctx, a.runOptions(root, nil, flagWatchApply, false))
		if err != nil {
			return err
		}
		a.render(os.Stdout, runOutput{Result: res})
		return nil
	}

	if err := pass(ctx); err != nil {
		return err
	}

	w, err := watcher.New(root, func(paths []string) {
		a.log.Info("watch.rerun", logger.Strings("changed", paths))
		if err := pass(ctx); err != nil && ctx.Err() == nil {
			a.log.Error("watch.run_failed", logger.Err(err))
		}
	}, a.log)
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer w.Close()

	a.log.Info("watch.started", logger.String("root", root))
	w.Run(ctx)
	a.log.Info("watch.stopped")
	return nil
}
