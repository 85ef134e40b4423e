// Package score reduces findings into per-file and overall scores and
// writes the task_analysis.json and reference_scores.json artifacts.
package score

import (
	"math"

	"codebundle-score/codebundle"
	"codebundle-score/rules"
)

// FileReport is the scored result of one codebundle file.
type FileReport struct {
	TaskCount int             `json:"task_count"`
	Score     float64         `json:"score"`
	Findings  []rules.Finding `json:"findings"`

	// CodebundleScore rates the runbook's task count on the 1-5 scale.
	// It is omitted for sli and unknown files.
	CodebundleScore *int `json:"codebundle_score,omitempty"`
}

// Report is the serialized task_analysis.json. PerFile keys are
// slash-separated paths relative to the scanned root; encoding/json writes
// them in lexicographic order.
type Report struct {
	OverallScore *float64             `json:"overall_score"`
	PerFile      map[string]FileReport `json:"per_file"`
}

// FileInput is what the aggregator needs to know about one analyzed file.
type FileInput struct {
	Path     string
	Kind     codebundle.TaskType
	Tasks    int
	Findings []rules.Finding
}

// Aggregate builds the report. Findings keep the order they were produced
// in; an empty input gives an empty per_file map and a null overall score.
func Aggregate(files []FileInput) *Report {
	r := &Report{PerFile: make(map[string]FileReport, len(files))}
	if len(files) == 0 {
		return r
	}

	sum := 0.0
	for _, f := range files {
		findings := f.Findings
		if findings == nil {
			findings = []rules.Finding{}
		}
		fr := FileReport{
			TaskCount: f.Tasks,
			Score:     FileScore(f.Tasks, findings),
			Findings:  findings,
		}
		if f.Kind == codebundle.TypeRunbook {
			cs := CodebundleScore(f.Tasks)
			fr.CodebundleScore = &cs
		}
		r.PerFile[f.Path] = fr
		sum += fr.Score
	}
	overall := round(sum / float64(len(r.PerFile)))
	r.OverallScore = &overall
	return r
}

// FileScore is 1 minus the severity penalties normalized by task count,
// clamped to [0, 1].
func FileScore(tasks int, findings []rules.Finding) float64 {
	penalty := 0.0
	for _, f := range findings {
		penalty += f.Severity.Penalty()
	}
	s := 1 - penalty/float64(max(1, tasks))
	return round(math.Min(1, math.Max(0, s)))
}

// CodebundleScore rates a runbook by how many tasks it holds: a handful of
// focused tasks is ideal, very small or sprawling bundles score lower.
func CodebundleScore(tasks int) int {
	switch {
	case tasks < 3:
		return 2
	case tasks <= 6:
		return 3
	case tasks <= 8:
		return 4
	case tasks <= 10:
		return 3
	default:
		return 2
	}
}

func round(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// FindingCount totals findings across the report.
func (r *Report) FindingCount() int {
	n := 0
	for _, f := range r.PerFile {
		n += len(f.Findings)
	}
	return n
}
