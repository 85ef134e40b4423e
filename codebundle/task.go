// Package codebundle parses Robot Framework codebundle files (runbook.robot,
// sli.robot) into task records. Parsing never fails on malformed content:
// unparsable regions become synthetic tasks carrying a parse error so the
// rest of the file is still analyzed.
package codebundle

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// TaskType is the capability tag that selects which checks apply to a task.
type TaskType string

const (
	TypeRunbook TaskType = "runbook"
	TypeSLI     TaskType = "sli"
	TypeUnknown TaskType = "unknown"
)

// Access tags recognised on tasks.
const (
	AccessReadOnly  = "access:readonly"
	AccessReadWrite = "access:read-write"
)

var reVarRef = regexp.MustCompile(`\$\{([A-Za-z0-9_.]+)\}`)

// Task is one entry of the *** Tasks *** (or *** Test Cases ***) section.
// Line numbers are 1-based and inclusive; Body holds the verbatim lines
// after the title line through EndLine, without line terminators.
type Task struct {
	Title      string
	TitleLine  string // verbatim line holding the title
	Type       TaskType
	Body       []string
	SourceFile string
	StartLine  int
	EndLine    int

	Tags          []string
	TagsLine      int // first line of the [Tags] setting, 0 when absent
	TagsEndLine   int // last continuation line of [Tags]
	Documentation string

	HasIssue      bool
	IssueDynamic  bool
	HasPushMetric bool
	HasPreReport  bool

	// Synthetic marks a placeholder spanning an unparsable region.
	Synthetic  bool
	ParseError string
}

// Text returns the title and body joined by newlines.
func (t *Task) Text() string {
	if len(t.Body) == 0 {
		return t.Title
	}
	return t.Title + "\n" + strings.Join(t.Body, "\n")
}

// ContentHash is the sha256 of the task text, hex-encoded. It keys the
// report cache, so any edit to the title or body invalidates the entry.
func (t *Task) ContentHash() string {
	sum := sha256.Sum256([]byte(t.Text()))
	return hex.EncodeToString(sum[:])
}

// AccessTag returns the declared access tag, or "" when none is present.
func (t *Task) AccessTag() string {
	for _, tag := range t.Tags {
		switch strings.ToLower(strings.TrimSpace(tag)) {
		case AccessReadOnly:
			return AccessReadOnly
		case AccessReadWrite:
			return AccessReadWrite
		}
	}
	return ""
}

// BodyIndent is the leading whitespace of the first non-blank body line,
// defaulting to four spaces.
func (t *Task) BodyIndent() string {
	for _, line := range t.Body {
		if strings.TrimSpace(line) == "" {
			continue
		}
		return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
	}
	return "    "
}

// Variables lists the distinct ${NAME} references in the body, in order of
// first appearance.
func (t *Task) Variables() []string {
	seen := make(map[string]bool)
	var out []string
	for _, line := range t.Body {
		for _, m := range reVarRef.FindAllStringSubmatch(line, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				out = append(out, m[1])
			}
		}
	}
	return out
}

// TitleVariables lists the ${NAME} references inside the title.
func (t *Task) TitleVariables() []string {
	var out []string
	for _, m := range reVarRef.FindAllStringSubmatch(t.Title, -1) {
		out = append(out, m[1])
	}
	return out
}

// Suite holds the *** Settings *** values and the user variables imported
// by the Suite Initialization keyword.
type Suite struct {
	Documentation     string
	Metadata          map[string]string
	SuiteSetup        string
	ImportedVariables []string
}

// File is a parsed codebundle file.
type File struct {
	Path  string
	Kind  TaskType // from the file name; TypeUnknown when the name is neutral
	Suite Suite
	Tasks []*Task
	Lines int
}

// ParseErrors returns the synthetic tasks of the file.
func (f *File) ParseErrors() []*Task {
	var out []*Task
	for _, t := range f.Tasks {
		if t.Synthetic {
			out = append(out, t)
		}
	}
	return out
}
