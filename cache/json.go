package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"sync"

	"github.com/spf13/afero"

	"codebundle-score/logger"
	"codebundle-score/rules"
)

const jsonVersion = 1

// JSONStore keeps the cache in memory and writes it back to a single JSON
// file on Close. Nothing is written when nothing changed.
type JSONStore struct {
	fs        afero.Fs
	path      string
	log       logger.Logger
	mu        sync.RWMutex
	data      jsonData
	dirty     bool
	closeOnce sync.Once
}

type jsonData struct {
	Version int                          `json:"version"`
	Entries map[string]*rules.CacheEntry `json:"entries"`
	Runs    []*Run                       `json:"runs"`
}

// NewJSONStore loads path if it exists. A file that does not parse is a
// CACHE_CORRUPTION error.
func NewJSONStore(fsys afero.Fs, path string, log logger.Logger) (*JSONStore, error) {
	if path == "" {
		path = DefaultFile
	}
	s := &JSONStore{
		fs:   fsys,
		path: path,
		log:  log,
		data: jsonData{Version: jsonVersion, Entries: make(map[string]*rules.CacheEntry)},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	log.Info("cache.json.opened", logger.String("path", path), logger.Int("entries", len(s.data.Entries)))
	return s, nil
}

func (s *JSONStore) load() error {
	raw, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read json cache: %w", err)
	}
	if len(raw) == 0 {
		return nil
	}
	var d jsonData
	if err := json.Unmarshal(raw, &d); err != nil {
		return corrupt(err, s.path)
	}
	if d.Version != jsonVersion {
		return corrupt(fmt.Errorf("unsupported version %d", d.Version), s.path)
	}
	if d.Entries == nil {
		d.Entries = make(map[string]*rules.CacheEntry)
	}
	for hash, e := range d.Entries {
		if e == nil || e.Verdict == nil || e.ContentHash != hash {
			return corrupt(fmt.Errorf("entry %s is incomplete", hash), s.path)
		}
	}
	s.data = d
	return nil
}

// Path returns the cache file location.
func (s *JSONStore) Path() string { return s.path }

// Lookup never fails: Load already rejected undecodable entries.
func (s *JSONStore) Lookup(hash string) (*rules.CacheEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data.Entries[hash]
	return e, ok, nil
}

func (s *JSONStore) Store(entry *rules.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *entry
	s.data.Entries[entry.ContentHash] = &clone
	s.dirty = true
	return nil
}

func (s *JSONStore) RecordRun(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *run
	s.data.Runs = append(s.data.Runs, &clone)
	s.dirty = true
	return nil
}

// ListRuns returns the most recent runs first.
func (s *JSONStore) ListRuns(_ context.Context, limit int) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Run, 0, len(s.data.Runs))
	for _, r := range s.data.Runs {
		clone := *r
		result = append(result, &clone)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *JSONStore) Reset(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.data.Entries)
	s.data.Entries = make(map[string]*rules.CacheEntry)
	s.dirty = true
	return n, nil
}

func (s *JSONStore) flush() error {
	s.mu.RLock()
	if !s.dirty {
		s.mu.RUnlock()
		return nil
	}
	raw, err := json.MarshalIndent(s.data, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal json cache: %w", err)
	}
	if err := afero.WriteFile(s.fs, s.path, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("write json cache: %w", err)
	}
	return nil
}

// Close flushes the cache once; later calls are no-ops.
func (s *JSONStore) Close() error {
	var flushErr error
	s.closeOnce.Do(func() {
		flushErr = s.flush()
		s.log.Info("cache.json.closed", logger.String("path", s.path), logger.Bool("written", s.dirty && flushErr == nil))
	})
	return flushErr
}
