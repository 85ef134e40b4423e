// Package patch writes synthesized edits back into codebundle files. A file
// is patched all-or-nothing: if any edit's span no longer holds the text it
// was computed against, nothing is written and a PATCH_CONFLICT is returned.
package patch

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"codebundle-score/clierr"
	"codebundle-score/codebundle"
	"codebundle-score/logger"
)

// Status of one edit against the current file content.
type Status string

const (
	StatusPending Status = "pending"
	StatusApplied Status = "already_applied"
	StatusStale   Status = "stale"
)

// Result summarizes a per-file patch.
type Result struct {
	Path           string `json:"path"`
	Applied        int    `json:"applied"`
	AlreadyApplied int    `json:"already_applied"`
	Written        bool   `json:"written"`
}

// Applier rewrites files on fsys.
type Applier struct {
	fs  afero.Fs
	log logger.Logger
}

// New creates an applier.
func New(fsys afero.Fs, log logger.Logger) *Applier {
	return &Applier{fs: fsys, log: log}
}

// line is one physical line with its terminator kept apart so untouched
// lines are written back byte for byte.
type line struct {
	text string
	eol  string
}

// splitKeepEOL returns a leading byte order mark apart from the lines so
// edit spans compare against the same text the parser saw.
func splitKeepEOL(data []byte) (bom string, out []line) {
	if rest, ok := bytes.CutPrefix(data, []byte(codebundle.BOM)); ok {
		bom, data = codebundle.BOM, rest
	}
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			out = append(out, line{text: string(data)})
			break
		}
		text, eol := string(data[:i]), "\n"
		if strings.HasSuffix(text, "\r") {
			text, eol = text[:len(text)-1], "\r\n"
		}
		out = append(out, line{text: text, eol: eol})
		data = data[i+1:]
	}
	return bom, out
}

func join(bom string, lines []line) []byte {
	var b bytes.Buffer
	b.WriteString(bom)
	for _, l := range lines {
		b.WriteString(l.text)
		b.WriteString(l.eol)
	}
	return b.Bytes()
}

// Apply re-reads path and applies edits to it. Edits whose replacement is
// already in place are skipped, so applying the same edits twice leaves the
// file untouched the second time.
func (a *Applier) Apply(path string, edits []*codebundle.Edit) (*Result, error) {
	res := &Result{Path: path}
	if len(edits) == 0 {
		return res, nil
	}

	data, err := afero.ReadFile(a.fs, path)
	if err != nil {
		return nil, fmt.Errorf("read %s for patching: %w", path, err)
	}
	bom, lines := splitKeepEOL(data)

	sorted := make([]*codebundle.Edit, len(edits))
	copy(sorted, edits)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartLine < sorted[j].StartLine })

	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].Overlaps(sorted[i]) {
			return nil, conflict(path, sorted[i], "overlaps the edit at line %d", sorted[i-1].StartLine)
		}
	}

	// Walk edits top-down; replacements already present shift the
	// position of every later span by their line delta.
	type pendingEdit struct {
		edit *codebundle.Edit
		at   int // 0-based index of the span in the current content
	}
	var pending []pendingEdit
	offset := 0
	for _, e := range sorted {
		at := e.StartLine - 1 + offset
		switch classify(lines, at, e) {
		case StatusPending:
			pending = append(pending, pendingEdit{edit: e, at: at})
		case StatusApplied:
			res.AlreadyApplied++
			offset += e.Delta()
		default:
			return nil, conflict(path, e, "span no longer matches the analyzed text")
		}
	}

	if len(pending) == 0 {
		a.log.Debug("patch.noop", logger.String("path", path), logger.Int("already_applied", res.AlreadyApplied))
		return res, nil
	}

	for i := len(pending) - 1; i >= 0; i-- {
		p := pending[i]
		lines = splice(lines, p.at, p.edit)
	}
	res.Applied = len(pending)

	if err := a.writeAtomic(path, join(bom, lines)); err != nil {
		return nil, err
	}
	res.Written = true
	a.log.Info("patch.applied",
		logger.String("path", path),
		logger.Int("applied", res.Applied),
		logger.Int("already_applied", res.AlreadyApplied),
	)
	return res, nil
}

// Check classifies every edit without writing. It reports the first
// conflict the same way Apply would.
func (a *Applier) Check(path string, edits []*codebundle.Edit) ([]Status, error) {
	data, err := afero.ReadFile(a.fs, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	_, lines := splitKeepEOL(data)
	out := make([]Status, len(edits))
	order := make([]int, len(edits))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return edits[order[i]].StartLine < edits[order[j]].StartLine })
	offset := 0
	for _, i := range order {
		e := edits[i]
		out[i] = classify(lines, e.StartLine-1+offset, e)
		if out[i] == StatusApplied {
			offset += e.Delta()
		}
	}
	return out, nil
}

func classify(lines []line, at int, e *codebundle.Edit) Status {
	if len(e.Original) != e.EndLine-e.StartLine+1 {
		return StatusStale
	}
	if matches(lines, at, e.Original) {
		return StatusPending
	}
	if matches(lines, at, e.Replacement) {
		return StatusApplied
	}
	return StatusStale
}

func matches(lines []line, at int, want []string) bool {
	if at < 0 || at+len(want) > len(lines) {
		return false
	}
	for i, w := range want {
		if lines[at+i].text != w {
			return false
		}
	}
	return true
}

// splice replaces the span at index at with the edit's replacement. New
// lines take the terminator of the first replaced line.
func splice(lines []line, at int, e *codebundle.Edit) []line {
	n := len(e.Original)
	eol := lines[at].eol
	lastEOL := lines[at+n-1].eol
	repl := make([]line, len(e.Replacement))
	for i, text := range e.Replacement {
		repl[i] = line{text: text, eol: eol}
	}
	if len(repl) > 0 {
		// Keep a missing final newline missing.
		repl[len(repl)-1].eol = lastEOL
		if lastEOL == "" {
			for i := 0; i < len(repl)-1; i++ {
				if repl[i].eol == "" {
					repl[i].eol = "\n"
				}
			}
		}
	}
	out := make([]line, 0, len(lines)-n+len(repl))
	out = append(out, lines[:at]...)
	out = append(out, repl...)
	return append(out, lines[at+n:]...)
}

func (a *Applier) writeAtomic(path string, data []byte) error {
	info, err := a.fs.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	tmp, err := afero.TempFile(a.fs, filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		a.fs.Remove(tmpName)
		return fmt.Errorf("write temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		a.fs.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := a.fs.Chmod(tmpName, info.Mode().Perm()); err != nil {
		a.log.Warn("patch.chmod_failed", logger.String("path", path), logger.Err(err))
	}
	if err := a.fs.Rename(tmpName, path); err != nil {
		a.fs.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func conflict(path string, e *codebundle.Edit, format string, args ...any) error {
	return clierr.Newf(clierr.PatchConflict, "%s: edit at lines %d-%d %s", path, e.StartLine, e.EndLine, fmt.Sprintf(format, args...)).
		WithDetails(map[string]any{"path": path, "start_line": e.StartLine, "end_line": e.EndLine})
}
