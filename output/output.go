// Package output renders scoring results as a table, JSON or compact
// one-line-per-finding text.
package output

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// Format represents an output format.
type Format int

const (
	// FormatAuto picks table on a terminal and JSON otherwise.
	FormatAuto Format = iota
	FormatJSON
	FormatTable
	FormatCompact
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatTable:
		return "table"
	case FormatCompact:
		return "compact"
	default:
		return "auto"
	}
}

// ParseFormat parses a --format value. The empty string is FormatAuto.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FormatAuto, nil
	case "json":
		return FormatJSON, nil
	case "table":
		return FormatTable, nil
	case "compact", "oneline":
		return FormatCompact, nil
	}
	return FormatAuto, fmt.Errorf("unknown output format %q (want table, json or compact)", s)
}

// Resolve turns FormatAuto into a concrete format: CODEBUNDLE_SCORE_OUTPUT
// wins, then table when stdout is a terminal, JSON otherwise.
func Resolve(f Format) Format {
	if f != FormatAuto {
		return f
	}
	if env, err := ParseFormat(os.Getenv("CODEBUNDLE_SCORE_OUTPUT")); err == nil && env != FormatAuto {
		return env
	}
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return FormatTable
	}
	return FormatJSON
}
