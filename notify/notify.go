// Package notify posts scoring run summaries to chat webhooks.
package notify

import (
	"context"
	"sort"

	"codebundle-score/analysis"
	"codebundle-score/rules"
)

// Notifier delivers a run summary.
type Notifier interface {
	Notify(ctx context.Context, s *Summary) error
}

// FileLine is one file's entry in a summary.
type FileLine struct {
	Path     string
	Score    float64
	Findings int
}

// Summary is the chat-friendly digest of one analysis run.
type Summary struct {
	RunID        string
	Source       string // directory or repository URL
	OverallScore *float64
	Files        int
	Findings     int
	Errors       int
	Worst        []FileLine
	Modified     []string
	Conflicts    int
	PRURL        string
}

// maxWorst caps how many low-scoring files are listed.
const maxWorst = 5

// Summarize builds a Summary from an analysis result.
func Summarize(source string, res *analysis.Result, prURL string) *Summary {
	s := &Summary{
		RunID:        res.RunID,
		Source:       source,
		OverallScore: res.Report.OverallScore,
		Files:        len(res.Report.PerFile),
		Modified:     res.Modified,
		Conflicts:    len(res.Conflicts),
		PRURL:        prURL,
	}
	for path, f := range res.Report.PerFile {
		s.Findings += len(f.Findings)
		for _, fd := range f.Findings {
			if fd.Severity == rules.SeverityError {
				s.Errors++
			}
		}
		if f.Score < 1 {
			s.Worst = append(s.Worst, FileLine{Path: path, Score: f.Score, Findings: len(f.Findings)})
		}
	}
	sort.Slice(s.Worst, func(i, j int) bool {
		if s.Worst[i].Score != s.Worst[j].Score {
			return s.Worst[i].Score < s.Worst[j].Score
		}
		return s.Worst[i].Path < s.Worst[j].Path
	})
	if len(s.Worst) > maxWorst {
		s.Worst = s.Worst[:maxWorst]
	}
	return s
}
