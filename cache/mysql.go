package cache

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"codebundle-score/clierr"
	"codebundle-score/logger"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLConfig holds connection settings for the MySQL backend.
type MySQLConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// NewMySQLStore connects to a shared MySQL cache, useful when several CI
// runners score the same corpus.
func NewMySQLStore(cfg MySQLConfig, log logger.Logger) (Store, error) {
	if cfg.DSN == "" {
		return nil, clierr.New(clierr.InvalidConfig, "cache.mysql.dsn is required for the mysql backend")
	}
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, clierr.Wrap(clierr.CollaboratorError, err, "connect to mysql cache")
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cache_entries (
    content_hash CHAR(64) PRIMARY KEY,
    verdict JSON NOT NULL,
    findings JSON NOT NULL,
    min_title_score INT NOT NULL DEFAULT 0,
    computed_at VARCHAR(32) NOT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

		`CREATE TABLE IF NOT EXISTS scoring_runs (
    id VARCHAR(64) PRIMARY KEY,
    root VARCHAR(1024) NOT NULL DEFAULT '',
    evaluator VARCHAR(64) NOT NULL DEFAULT '',
    started_at VARCHAR(32) NOT NULL,
    finished_at VARCHAR(32) NOT NULL,
    files INT NOT NULL DEFAULT 0,
    findings INT NOT NULL DEFAULT 0,
    overall_score DOUBLE NULL,
    evaluator_calls INT NOT NULL DEFAULT 0,
    cache_hits INT NOT NULL DEFAULT 0,
    patched INT NOT NULL DEFAULT 0
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

		`CREATE INDEX idx_runs_started_at ON scoring_runs(started_at)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			if isDuplicateKeyError(err) {
				continue
			}
			db.Close()
			return nil, corrupt(err, "mysql schema")
		}
	}

	s := newSQLStore(db, dialect{
		name: "mysql",
		upsert: `INSERT INTO cache_entries (content_hash, verdict, findings, min_title_score, computed_at) VALUES (?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE verdict=VALUES(verdict), findings=VALUES(findings), min_title_score=VALUES(min_title_score), computed_at=VALUES(computed_at)`,
	}, log)
	if err := s.verify(ctx, "mysql schema"); err != nil {
		db.Close()
		return nil, err
	}

	log.Info("cache.mysql.opened")
	return s, nil
}

func isDuplicateKeyError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "Duplicate key name") ||
		strings.Contains(msg, "already exists")
}
