// Package cache persists title-check results by task content hash so
// unchanged tasks never reach the title evaluator twice, and records a
// history of scoring runs. A store is opened once per run and flushed on
// Close.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/afero"

	"codebundle-score/clierr"
	"codebundle-score/logger"
	"codebundle-score/rules"
)

// DefaultFile is the JSON cache file name, relative to the scanned root.
const DefaultFile = ".codebundle-score-cache.json"

// DefaultSQLiteFile is the SQLite cache file name.
const DefaultSQLiteFile = ".codebundle-score-cache.db"

// timeLayout is fixed-width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Run is one recorded scoring run.
type Run struct {
	ID             string    `json:"id"`
	Root           string    `json:"root"`
	Evaluator      string    `json:"evaluator"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Files          int       `json:"files"`
	Findings       int       `json:"findings"`
	OverallScore   *float64  `json:"overall_score"`
	EvaluatorCalls int       `json:"evaluator_calls"`
	CacheHits      int       `json:"cache_hits"`
	Patched        int       `json:"patched"`
}

// Store is the report cache plus run history.
type Store interface {
	rules.FindingCache

	RecordRun(ctx context.Context, run *Run) error
	ListRuns(ctx context.Context, limit int) ([]*Run, error)

	// Reset deletes every cache entry and reports how many were removed.
	// Run history is kept.
	Reset(ctx context.Context) (int, error)

	Close() error
}

// Config selects and configures the backend.
type Config struct {
	Backend string      `yaml:"backend" validate:"omitempty,oneof=json sqlite mysql"`
	Path    string      `yaml:"path"`
	MySQL   MySQLConfig `yaml:"mysql"`
}

// Open creates the configured store. Path must already be resolved by the
// caller; the JSON backend reads and writes it through fsys.
func Open(cfg Config, fsys afero.Fs, log logger.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "json":
		return NewJSONStore(fsys, cfg.Path, log)
	case "sqlite":
		return NewSQLiteStore(cfg.Path, log)
	case "mysql":
		return NewMySQLStore(cfg.MySQL, log)
	default:
		return nil, clierr.Newf(clierr.InvalidConfig, "unknown cache backend %q", cfg.Backend)
	}
}

func corrupt(err error, where string) error {
	return clierr.Wrap(clierr.CacheCorruption, err,
		fmt.Sprintf("cache %s is unreadable; delete it or run `codebundle-score cache reset`", where))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
