package output

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"codebundle-score/analysis"
	"codebundle-score/cache"
	"codebundle-score/rules"
	"codebundle-score/score"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("244"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	titleStyle  = lipgloss.NewStyle().Bold(true)

	severityStyles = map[string]lipgloss.Style{
		string(rules.SeverityError):   lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		string(rules.SeverityWarning): lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		string(rules.SeverityInfo):    lipgloss.NewStyle().Foreground(lipgloss.Color("110")),
	}

	goodStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("34"))
	fairStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	poorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// DisableColor strips all styling from table output.
func DisableColor() {
	headerStyle = lipgloss.NewStyle()
	dimStyle = lipgloss.NewStyle()
	titleStyle = lipgloss.NewStyle()
	severityStyles = map[string]lipgloss.Style{}
	goodStyle = lipgloss.NewStyle()
	fairStyle = lipgloss.NewStyle()
	poorStyle = lipgloss.NewStyle()
}

// ResultTable renders the per-file scores, then every finding grouped by
// file, then patch outcomes.
func ResultTable(w io.Writer, res *analysis.Result) {
	r := res.Report
	if len(r.PerFile) == 0 {
		fmt.Fprintln(w, dimStyle.Render("Nothing to analyze."))
		return
	}
	paths := sortedPaths(r)

	const pad = 2
	pathW, tasksW, scoreW, findW := 6, 7, 7, 10
	for _, p := range paths {
		pathW = max(pathW, min(len(p)+pad, 60))
	}

	header := fmt.Sprintf("%-*s %-*s %-*s %-*s %s",
		pathW, "FILE", tasksW, "TASKS", scoreW, "SCORE", findW, "FINDINGS", "BUNDLE")
	fmt.Fprintln(w, headerStyle.Render(strings.TrimRight(header, " ")))
	for _, p := range paths {
		f := r.PerFile[p]
		bundle := dimStyle.Render("--")
		if f.CodebundleScore != nil {
			bundle = fmt.Sprintf("%d/5", *f.CodebundleScore)
		}
		row := fmt.Sprintf("%s %-*d %s %-*d %s",
			padRight(truncate(p, pathW-pad), pathW),
			tasksW, f.TaskCount,
			padRight(scoreValue(f.Score), scoreW),
			findW, len(f.Findings),
			bundle)
		fmt.Fprintln(w, strings.TrimRight(row, " "))
	}

	overall := dimStyle.Render("n/a")
	if r.OverallScore != nil {
		overall = scoreValue(*r.OverallScore)
	}
	fmt.Fprintf(w, "\n%s %s  %s\n", titleStyle.Render("Overall:"), overall,
		dimStyle.Render(fmt.Sprintf("(%d evaluator calls, %d cache hits)", res.EvaluatorCalls, res.CacheHits)))

	for _, p := range paths {
		f := r.PerFile[p]
		if len(f.Findings) == 0 {
			continue
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, titleStyle.Render(p))
		for _, fd := range f.Findings {
			fmt.Fprintf(w, "  %s %s %s %s\n",
				padRight(styledValue(string(fd.Severity), severityStyles), 8),
				dimStyle.Render(fmt.Sprintf("L%d-%d", fd.LineRange[0], fd.LineRange[1])),
				fd.Kind,
				fd.Message)
			if fd.SuggestedFix != nil {
				fix := "→ " + *fd.SuggestedFix
				if fd.LowConfidence {
					fix += " (low confidence)"
				}
				fmt.Fprintln(w, "           "+dimStyle.Render(fix))
			}
		}
	}

	if len(res.Modified) > 0 || len(res.Conflicts) > 0 || len(res.Skipped) > 0 {
		fmt.Fprintln(w)
	}
	for _, m := range res.Modified {
		fmt.Fprintf(w, "%s %s\n", goodStyle.Render("patched"), m)
	}
	for _, c := range res.Conflicts {
		fmt.Fprintf(w, "%s %s: %s\n", poorStyle.Render("conflict"), c.Path, c.Message)
	}
	for _, s := range res.Skipped {
		fmt.Fprintf(w, "%s %s\n", fairStyle.Render("skipped"), s)
	}
}

// ResultCompact prints one line per finding in path:line form.
func ResultCompact(w io.Writer, res *analysis.Result) {
	for _, p := range sortedPaths(res.Report) {
		for _, fd := range res.Report.PerFile[p].Findings {
			line := fmt.Sprintf("%s:%d: %s %s: %s", p, fd.LineRange[0], fd.Severity, fd.Kind, fd.Message)
			if fd.SuggestedFix != nil {
				line += " [fix: " + *fd.SuggestedFix + "]"
			}
			fmt.Fprintln(w, line)
		}
	}
}

// RunsTable renders recorded runs, newest first.
func RunsTable(w io.Writer, runs []*cache.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, dimStyle.Render("No runs recorded."))
		return
	}
	header := fmt.Sprintf("%-10s %-20s %-10s %-6s %-9s %-7s %-6s %s",
		"RUN", "STARTED", "EVALUATOR", "FILES", "FINDINGS", "SCORE", "CALLS", "HITS")
	fmt.Fprintln(w, headerStyle.Render(header))
	for _, r := range runs {
		s := dimStyle.Render("n/a")
		if r.OverallScore != nil {
			s = scoreValue(*r.OverallScore)
		}
		id := r.ID
		if len(id) > 8 {
			id = id[:8]
		}
		row := fmt.Sprintf("%-10s %-20s %-10s %-6d %-9d %s %-6d %d",
			id, r.StartedAt.Local().Format("2006-01-02 15:04:05"), truncate(r.Evaluator, 10),
			r.Files, r.Findings, padRight(s, 7), r.EvaluatorCalls, r.CacheHits)
		fmt.Fprintln(w, row)
	}
}

func sortedPaths(r *score.Report) []string {
	paths := make([]string, 0, len(r.PerFile))
	for p := range r.PerFile {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func scoreValue(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	switch {
	case v >= 0.8:
		return goodStyle.Render(s)
	case v >= 0.5:
		return fairStyle.Render(s)
	default:
		return poorStyle.Render(s)
	}
}

func styledValue(s string, styles map[string]lipgloss.Style) string {
	if st, ok := styles[s]; ok {
		return st.Render(s)
	}
	return s
}

func padRight(s string, width int) string {
	visible := lipgloss.Width(s)
	if visible >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visible)
}

func truncate(s string, n int) string {
	if len(s) <= n || n < 4 {
		return s
	}
	return "..." + s[len(s)-(n-3):]
}
