// Package rules runs the fixed, ordered quality checklist against parsed
// codebundle tasks and produces findings.
package rules

import (
	"fmt"

	"codebundle-score/codebundle"
)

// Kind classifies a finding.
type Kind string

const (
	KindTitleQuality     Kind = "title_quality"
	KindMissingAccessTag Kind = "missing_access_tag"
	KindNoIssueRaised    Kind = "no_issue_raised"
	KindStaticIssue      Kind = "static_issue"
	KindNoMetricPushed   Kind = "no_metric_pushed"
	KindMissingMetadata  Kind = "missing_metadata"
	KindParseError       Kind = "parse_error"
)

// AutoFixable reports whether the suggestion synthesizer can produce a
// concrete replacement for findings of this kind.
func (k Kind) AutoFixable() bool {
	return k == KindTitleQuality || k == KindMissingAccessTag
}

// Severity of a finding.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Penalty is the score deduction one finding of this severity costs.
func (s Severity) Penalty() float64 {
	switch s {
	case SeverityError:
		return 1.0
	case SeverityWarning:
		return 0.5
	case SeverityInfo:
		return 0.1
	default:
		return 0
	}
}

// FileLevel is the TaskIndex of findings that belong to the file rather
// than a task.
const FileLevel = -1

// Finding is one check result. Edit and Hint are consumed by the suggestion
// synthesizer and patch applier and never serialized.
type Finding struct {
	Kind          Kind     `json:"kind"`
	Severity      Severity `json:"severity"`
	Message       string   `json:"message"`
	SuggestedFix  *string  `json:"suggested_fix"`
	LineRange     [2]int   `json:"line_range"`
	Task          string   `json:"task,omitempty"`
	LowConfidence bool     `json:"low_confidence,omitempty"`

	TaskIndex int              `json:"-"`
	Hint      Hint             `json:"-"`
	Edit      *codebundle.Edit `json:"-"`
}

// Hint carries evaluator output the synthesizer may use.
type Hint struct {
	SuggestedTitle string `json:"suggested_title,omitempty"`
	AccessTag      string `json:"access_tag,omitempty"`
}

func (f Finding) String() string {
	return fmt.Sprintf("%s[%s] L%d-%d %s", f.Kind, f.Severity, f.LineRange[0], f.LineRange[1], f.Message)
}

// Rebase shifts the finding's line range by delta lines.
func (f Finding) Rebase(delta int) Finding {
	f.LineRange = [2]int{f.LineRange[0] + delta, f.LineRange[1] + delta}
	return f
}
