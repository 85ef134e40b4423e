package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"codebundle-score/logger"

	_ "modernc.org/sqlite"
)

// NewSQLiteStore opens (or creates) a SQLite cache database.
func NewSQLiteStore(dbPath string, log logger.Logger) (Store, error) {
	if dbPath == "" {
		dbPath = DefaultSQLiteFile
	}
	dsn := dbPath + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, corrupt(err, dbPath)
	}

	schema := `
CREATE TABLE IF NOT EXISTS cache_entries (
    content_hash TEXT PRIMARY KEY,
    verdict TEXT NOT NULL,
    findings TEXT NOT NULL DEFAULT '[]',
    min_title_score INTEGER NOT NULL DEFAULT 0,
    computed_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS scoring_runs (
    id TEXT PRIMARY KEY,
    root TEXT NOT NULL DEFAULT '',
    evaluator TEXT NOT NULL DEFAULT '',
    started_at TEXT NOT NULL,
    finished_at TEXT NOT NULL,
    files INTEGER NOT NULL DEFAULT 0,
    findings INTEGER NOT NULL DEFAULT 0,
    overall_score REAL,
    evaluator_calls INTEGER NOT NULL DEFAULT 0,
    cache_hits INTEGER NOT NULL DEFAULT 0,
    patched INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON scoring_runs(started_at);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, corrupt(err, dbPath)
	}

	s := newSQLStore(db, dialect{
		name: "sqlite",
		upsert: `INSERT INTO cache_entries (content_hash, verdict, findings, min_title_score, computed_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(content_hash) DO UPDATE SET verdict=excluded.verdict, findings=excluded.findings, min_title_score=excluded.min_title_score, computed_at=excluded.computed_at`,
	}, log)
	if err := s.verify(ctx, dbPath); err != nil {
		db.Close()
		return nil, err
	}

	log.Info("cache.sqlite.opened", logger.String("path", dbPath))
	return s, nil
}
