package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"codebundle-score/clierr"
	"codebundle-score/logger"
	"codebundle-score/rules"
)

// dialect holds the statements that differ between SQL backends.
type dialect struct {
	name   string
	upsert string
}

// sqlStore is shared by the SQLite and MySQL backends. Lookups go to the
// database; stores are buffered and written in one transaction on Close.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	log     logger.Logger
	timeout time.Duration

	mu        sync.Mutex
	pending   map[string]*rules.CacheEntry
	closeOnce sync.Once
}

func newSQLStore(db *sql.DB, d dialect, log logger.Logger) *sqlStore {
	return &sqlStore{
		db:      db,
		dialect: d,
		log:     log,
		timeout: 5 * time.Second,
		pending: make(map[string]*rules.CacheEntry),
	}
}

// verify reads one row of each table so a schema that exists but does not
// match fails at open instead of mid-run.
func (s *sqlStore) verify(ctx context.Context, where string) error {
	probes := []string{
		`SELECT content_hash, verdict, findings, min_title_score, computed_at FROM cache_entries LIMIT 1`,
		`SELECT id, root, evaluator, started_at, finished_at, files, findings, overall_score, evaluator_calls, cache_hits, patched FROM scoring_runs LIMIT 1`,
	}
	for _, q := range probes {
		rows, err := s.db.QueryContext(ctx, q)
		if err != nil {
			return corrupt(err, where)
		}
		rows.Close()
	}
	return nil
}

// Lookup reports rows that exist but cannot be decoded as CACHE_CORRUPTION,
// matching the JSON backend. Query failures are logged and treated as a miss.
func (s *sqlStore) Lookup(hash string) (*rules.CacheEntry, bool, error) {
	s.mu.Lock()
	if e, ok := s.pending[hash]; ok {
		s.mu.Unlock()
		return e, true, nil
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT content_hash, verdict, findings, min_title_score, computed_at FROM cache_entries WHERE content_hash = ?`, hash)
	e, err := scanEntry(row)
	switch {
	case err == nil:
		return e, true, nil
	case err == sql.ErrNoRows:
		return nil, false, nil
	case clierr.Is(err, clierr.CacheCorruption):
		s.log.Error("cache."+s.dialect.name+".corrupt_entry", logger.String("hash", hash), logger.Err(err))
		return nil, false, err
	default:
		s.log.Warn("cache."+s.dialect.name+".lookup_failed", logger.String("hash", hash), logger.Err(err))
		return nil, false, nil
	}
}

func (s *sqlStore) Store(entry *rules.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *entry
	s.pending[entry.ContentHash] = &clone
	return nil
}

func (s *sqlStore) RecordRun(ctx context.Context, run *Run) error {
	var overall sql.NullFloat64
	if run.OverallScore != nil {
		overall = sql.NullFloat64{Float64: *run.OverallScore, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scoring_runs (id, root, evaluator, started_at, finished_at, files, findings, overall_score, evaluator_calls, cache_hits, patched)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Root, run.Evaluator, formatTime(run.StartedAt), formatTime(run.FinishedAt),
		run.Files, run.Findings, overall, run.EvaluatorCalls, run.CacheHits, run.Patched,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *sqlStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, root, evaluator, started_at, finished_at, files, findings, overall_score, evaluator_calls, cache_hits, patched
		 FROM scoring_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var result []*Run
	for rows.Next() {
		var (
			r                 Run
			started, finished string
			overall           sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &r.Root, &r.Evaluator, &started, &finished,
			&r.Files, &r.Findings, &overall, &r.EvaluatorCalls, &r.CacheHits, &r.Patched); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("run %s started_at: %w", r.ID, err)
		}
		if r.FinishedAt, err = parseTime(finished); err != nil {
			return nil, fmt.Errorf("run %s finished_at: %w", r.ID, err)
		}
		if overall.Valid {
			v := overall.Float64
			r.OverallScore = &v
		}
		result = append(result, &r)
	}
	return result, rows.Err()
}

func (s *sqlStore) Reset(ctx context.Context) (int, error) {
	s.mu.Lock()
	s.pending = make(map[string]*rules.CacheEntry)
	s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	if err != nil {
		return 0, fmt.Errorf("reset cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqlStore) flush() error {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[string]*rules.CacheEntry)
	s.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin flush: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, s.dialect.upsert)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for hash, e := range pending {
		verdict, err := json.Marshal(e.Verdict)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("marshal verdict %s: %w", hash, err)
		}
		findings, err := json.Marshal(e.Findings)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("marshal findings %s: %w", hash, err)
		}
		if _, err := stmt.ExecContext(ctx, hash, string(verdict), string(findings), e.MinTitleScore, formatTime(e.ComputedAt)); err != nil {
			tx.Rollback()
			return fmt.Errorf("upsert %s: %w", hash, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit flush: %w", err)
	}
	s.log.Info("cache."+s.dialect.name+".flushed", logger.Int("entries", len(pending)))
	return nil
}

func (s *sqlStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.flush()
		if cerr := s.db.Close(); err == nil {
			err = cerr
		}
		s.log.Info("cache." + s.dialect.name + ".closed")
	})
	return err
}

type scannable interface {
	Scan(dest ...any) error
}

// scanEntry returns Scan errors unchanged and wraps decode failures as
// CACHE_CORRUPTION.
func scanEntry(row scannable) (*rules.CacheEntry, error) {
	var e rules.CacheEntry
	var verdict, findings, computed string
	if err := row.Scan(&e.ContentHash, &verdict, &findings, &e.MinTitleScore, &computed); err != nil {
		return nil, err
	}
	where := "entry " + e.ContentHash
	if err := json.Unmarshal([]byte(verdict), &e.Verdict); err != nil {
		return nil, corrupt(fmt.Errorf("unmarshal verdict: %w", err), where)
	}
	if e.Verdict == nil {
		return nil, corrupt(fmt.Errorf("entry %s has no verdict", e.ContentHash), where)
	}
	if err := json.Unmarshal([]byte(findings), &e.Findings); err != nil {
		return nil, corrupt(fmt.Errorf("unmarshal findings: %w", err), where)
	}
	t, err := parseTime(computed)
	if err != nil {
		return nil, corrupt(fmt.Errorf("computed_at: %w", err), where)
	}
	e.ComputedAt = t
	return &e, nil
}
