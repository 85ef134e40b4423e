package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type structuredCore struct {
	mu     sync.Mutex
	out    io.Writer
	closer io.Closer
	enc    *json.Encoder
}

// StructuredLogger writes one JSON object per line (NDJSON). CI jobs keep
// the file as a build artifact next to task_analysis.json.
type StructuredLogger struct {
	level      Level
	baseFields []Field
	core       *structuredCore
}

// NewStructured creates a structured JSON logger appending to path.
func NewStructured(path string, level Level) (*StructuredLogger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open structured log: %w", err)
	}
	l := NewStructuredWriter(f, level)
	l.core.closer = f
	return l, nil
}

// NewStructuredWriter writes NDJSON to w. Close does not close w.
func NewStructuredWriter(w io.Writer, level Level) *StructuredLogger {
	return &StructuredLogger{
		level: level,
		core:  &structuredCore{out: w, enc: json.NewEncoder(w)},
	}
}

func (s *StructuredLogger) Debug(msg string, fields ...Field) { s.log(LevelDebug, msg, fields) }
func (s *StructuredLogger) Info(msg string, fields ...Field)  { s.log(LevelInfo, msg, fields) }
func (s *StructuredLogger) Warn(msg string, fields ...Field)  { s.log(LevelWarn, msg, fields) }
func (s *StructuredLogger) Error(msg string, fields ...Field) { s.log(LevelError, msg, fields) }

func (s *StructuredLogger) WithFields(fields ...Field) Logger {
	return &StructuredLogger{level: s.level, baseFields: mergeFields(s.baseFields, fields), core: s.core}
}

func (s *StructuredLogger) Close() error {
	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	if s.core.closer == nil {
		return nil
	}
	err := s.core.closer.Close()
	s.core.closer = nil
	s.core.enc = nil
	return err
}

func (s *StructuredLogger) log(level Level, msg string, fields []Field) {
	if level < s.level {
		return
	}
	all := mergeFields(s.baseFields, fields)

	entry := make(map[string]any, 3+len(all))
	for _, f := range all {
		entry[f.Key] = f.Value
	}
	entry["time"] = time.Now().UTC().Format(time.RFC3339)
	entry["level"] = level.String()
	entry["msg"] = msg

	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	if s.core.enc == nil {
		return
	}
	_ = s.core.enc.Encode(entry)
}
