// Package suggest turns auto-fixable findings into exact line edits: a
// rewritten task title or an inserted access tag. Every edit stays inside
// the line range of the finding that produced it.
package suggest

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"codebundle-score/codebundle"
	"codebundle-score/rules"
)

var (
	reUpperVar   = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)
	reMultiSpace = regexp.MustCompile(`\s{2,}|\t`)
)

// acronyms keep their upper-case spelling in rewritten titles.
var acronyms = map[string]string{
	"aws": "AWS", "gcp": "GCP", "gke": "GKE", "eks": "EKS", "aks": "AKS",
	"ec2": "EC2", "s3": "S3", "rds": "RDS", "iam": "IAM", "vm": "VM",
	"k8s": "K8s", "api": "API", "url": "URL", "dns": "DNS", "tls": "TLS",
	"ssl": "SSL", "cpu": "CPU", "pvc": "PVC", "pv": "PV", "http": "HTTP",
	"sql": "SQL", "id": "ID", "ip": "IP", "sli": "SLI", "slo": "SLO",
}

// minorWords stay lower case unless they start the title.
var minorWords = map[string]bool{
	"a": true, "an": true, "and": true, "as": true, "at": true, "by": true,
	"for": true, "from": true, "in": true, "of": true, "on": true,
	"or": true, "the": true, "to": true, "with": true,
}

// Synthesizer builds suggested fixes.
type Synthesizer struct {
	caser cases.Caser
}

// New creates a synthesizer.
func New() *Synthesizer {
	return &Synthesizer{caser: cases.Title(language.English)}
}

// Apply sets SuggestedFix, Edit and LowConfidence on the auto-fixable
// findings of f in place. Findings whose fix cannot be expressed as an edit
// inside their own span are left without one.
func (s *Synthesizer) Apply(f *codebundle.File, findings []rules.Finding) {
	for i := range findings {
		fd := &findings[i]
		if !fd.Kind.AutoFixable() || fd.TaskIndex < 0 || fd.TaskIndex >= len(f.Tasks) {
			continue
		}
		t := f.Tasks[fd.TaskIndex]
		if t.Synthetic {
			continue
		}

		var (
			fix  string
			edit *codebundle.Edit
			low  bool
		)
		switch fd.Kind {
		case rules.KindTitleQuality:
			fix, edit, low = s.titleFix(t, f.Suite, fd.Hint.SuggestedTitle)
		case rules.KindMissingAccessTag:
			fix, edit = accessTagFix(t, fd.Hint.AccessTag)
		}
		if edit == nil || !within(edit, fd.LineRange) {
			fd.LowConfidence = fd.LowConfidence || low
			continue
		}
		fd.SuggestedFix = &fix
		fd.Edit = edit
		fd.LowConfidence = low
	}
}

func within(e *codebundle.Edit, lr [2]int) bool {
	return e.StartLine >= lr[0] && e.EndLine <= lr[1]
}

func (s *Synthesizer) titleFix(t *codebundle.Task, suite codebundle.Suite, hint string) (string, *codebundle.Edit, bool) {
	title, low := s.RewriteTitle(t, suite, hint)
	if title == t.Title || !strings.HasPrefix(t.TitleLine, t.Title) {
		return title, nil, true
	}
	return title, &codebundle.Edit{
		StartLine:   t.StartLine,
		EndLine:     t.StartLine,
		Original:    []string{t.TitleLine},
		Replacement: []string{title + t.TitleLine[len(t.Title):]},
	}, low
}

// ValidTitle reports whether s can be written as a Robot task name: a single
// line, no cell separators, not starting like a comment, setting or section.
func ValidTitle(s string) bool {
	if strings.TrimSpace(s) != s || s == "" {
		return false
	}
	if strings.ContainsAny(s, "\r\n") || reMultiSpace.MatchString(s) {
		return false
	}
	return !strings.HasPrefix(s, "#") && !strings.HasPrefix(s, "*") && !strings.HasPrefix(s, "[") && !strings.HasPrefix(s, "...")
}

// RewriteTitle proposes Action + Object + location for t. An evaluator
// suggestion wins when it is a valid title. The bool result marks a
// low-confidence rewrite (the action, object or location had to be guessed).
func (s *Synthesizer) RewriteTitle(t *codebundle.Task, suite codebundle.Suite, hint string) (string, bool) {
	if hint = strings.TrimSpace(hint); hint != "" && hint != t.Title && ValidTitle(hint) {
		return hint, false
	}

	low := false
	core, tail := splitLocation(strings.Fields(t.Title))

	action := ""
	if len(core) > 0 && rules.ActionVerbs[strings.ToLower(core[0])] {
		action = s.word(core[0], true)
		core = core[1:]
	} else {
		low = true
		action = "Check"
		if t.HasPushMetric {
			action = "Measure"
		}
	}

	var object []string
	for _, w := range core {
		object = append(object, s.word(w, false))
	}
	if len(object) == 0 {
		low = true
		object = s.objectFromDocs(t.Documentation)
	}
	if len(object) == 0 {
		object = []string{"Resources"}
	}

	title := action + " " + strings.Join(object, " ")
	if len(tail) > 0 {
		if !minorWords[strings.ToLower(tail[0])] {
			title += " in"
		}
		return title + " " + strings.Join(tail, " "), low
	}
	v := locationVariable(t, suite)
	if v == "" {
		return title, true
	}
	return title + " in " + s.label(v) + " `${" + v + "}`", low
}

// splitLocation separates the words before an existing location clause from
// the clause itself, which starts at the preposition preceding the first
// variable reference and is kept verbatim.
func splitLocation(words []string) (core, tail []string) {
	first := -1
	for i, w := range words {
		if strings.Contains(w, "${") {
			first = i
			break
		}
	}
	if first < 0 {
		return words, nil
	}
	cut := first
	for i := first - 1; i >= 1; i-- {
		if minorWords[strings.ToLower(words[i])] {
			cut = i
			break
		}
	}
	return words[:cut], words[cut:]
}

func (s *Synthesizer) word(w string, first bool) string {
	lower := strings.ToLower(w)
	if a, ok := acronyms[lower]; ok {
		return a
	}
	if w != lower && w != strings.ToUpper(w[:1])+lower[1:] {
		// Mixed case (kubectl-style names, CamelCase) is kept as written.
		return w
	}
	if !first && minorWords[lower] {
		return lower
	}
	return s.caser.String(lower)
}

func (s *Synthesizer) objectFromDocs(doc string) []string {
	var out []string
	for _, w := range rules.TitleWords(doc) {
		if rules.GenericWords[w] || rules.ActionVerbs[w] || len(w) < 3 {
			continue
		}
		out = append(out, s.word(w, false))
		if len(out) == 3 {
			break
		}
	}
	return out
}

// locationVariable picks the variable naming where the task operates: an
// imported user variable the body references, else the first upper-case
// variable in the body, else the first imported variable.
func locationVariable(t *codebundle.Task, suite codebundle.Suite) string {
	used := t.Variables()
	imported := make(map[string]bool, len(suite.ImportedVariables))
	for _, v := range suite.ImportedVariables {
		imported[v] = true
	}
	for _, v := range used {
		if imported[v] {
			return v
		}
	}
	for _, v := range used {
		if reUpperVar.MatchString(v) {
			return v
		}
	}
	if len(suite.ImportedVariables) > 0 {
		return suite.ImportedVariables[0]
	}
	return ""
}

// label renders AWS_REGION as "AWS Region" and DEPLOYMENT_NAME as
// "Deployment".
func (s *Synthesizer) label(v string) string {
	name := strings.TrimSuffix(v, "_NAME")
	parts := strings.FieldsFunc(name, func(r rune) bool { return r == '_' || r == '.' })
	for i, p := range parts {
		parts[i] = s.word(strings.ToLower(p), i == 0)
	}
	if len(parts) == 0 {
		return "Location"
	}
	return strings.Join(parts, " ")
}

func accessTagFix(t *codebundle.Task, tag string) (string, *codebundle.Edit) {
	if tag != codebundle.AccessReadOnly && tag != codebundle.AccessReadWrite {
		tag = rules.InferAccessTag(t)
	}
	if t.TagsLine > 0 {
		idx := t.TagsEndLine - t.StartLine - 1
		if idx < 0 || idx >= len(t.Body) {
			return tag, nil
		}
		orig := t.Body[idx]
		return tag, &codebundle.Edit{
			StartLine:   t.TagsEndLine,
			EndLine:     t.TagsEndLine,
			Original:    []string{orig},
			Replacement: []string{strings.TrimRight(orig, " \t") + "    " + tag},
		}
	}
	if len(t.Body) == 0 {
		return tag, nil
	}
	first := t.Body[0]
	return "[Tags]    " + tag, &codebundle.Edit{
		StartLine:   t.StartLine + 1,
		EndLine:     t.StartLine + 1,
		Original:    []string{first},
		Replacement: []string{t.BodyIndent() + "[Tags]    " + tag, first},
	}
}
