package codebundle

import (
	"bytes"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// BOM is the UTF-8 byte order mark some editors write at the start of a file.
const BOM = "\ufeff"

var (
	reSection   = regexp.MustCompile(`^\*+\s*([^*]*?)\s*\**\s*$`)
	reSeparator = regexp.MustCompile(`\t+|\s{2,}`)
)

const (
	kwAddIssue     = "RW.Core.Add Issue"
	kwPushMetric   = "RW.Core.Push Metric"
	kwPreReport    = "RW.Core.Add Pre To Report"
	kwImportVar    = "RW.Core.Import User Variable"
	kwSuiteInit    = "Suite Initialization"
	continuationOp = "..."
)

type section int

const (
	secNone section = iota
	secSettings
	secVariables
	secTasks
	secKeywords
	secComments
	secInvalid
)

func sectionFor(name string) (section, bool) {
	switch strings.ToLower(strings.Join(strings.Fields(name), " ")) {
	case "settings", "setting":
		return secSettings, true
	case "variables", "variable":
		return secVariables, true
	case "tasks", "task", "test cases", "test case":
		return secTasks, true
	case "keywords", "keyword":
		return secKeywords, true
	case "comments", "comment":
		return secComments, true
	}
	return secInvalid, false
}

// KindFromPath infers the codebundle type from the file name.
func KindFromPath(path string) TaskType {
	base := strings.ToLower(filepath.Base(path))
	switch {
	case strings.Contains(base, "runbook"):
		return TypeRunbook
	case strings.Contains(base, "sli"):
		return TypeSLI
	default:
		return TypeUnknown
	}
}

// SplitLines splits content on '\n' and drops a trailing '\r' from every
// line. A final empty element after a trailing newline is not returned,
// and a leading UTF-8 byte order mark is dropped.
func SplitLines(content []byte) []string {
	content = bytes.TrimPrefix(content, []byte(BOM))
	if len(content) == 0 {
		return nil
	}
	lines := strings.Split(string(content), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// SplitCells splits a Robot line (already stripped of indentation) into
// cells separated by a tab or two or more spaces.
func SplitCells(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	return reSeparator.Split(line, -1)
}

func isIndented(line string) bool {
	return line != "" && (line[0] == ' ' || line[0] == '\t')
}

// Parse extracts the tasks and suite settings of one codebundle file.
func Parse(path string, content []byte) *File {
	p := &parser{
		file: &File{
			Path:  path,
			Kind:  KindFromPath(path),
			Suite: Suite{Metadata: map[string]string{}},
		},
	}
	lines := SplitLines(content)
	p.file.Lines = len(lines)
	for i, line := range lines {
		p.line(i+1, line)
	}
	p.closeSection()
	p.assignTypes()
	return p.file
}

type parser struct {
	file *File
	sec  section

	// tasks section
	cur        *Task
	pending    []string
	blocks     []block
	lastSet    string
	orphan     *Task
	invalidHdr *Task

	// settings / keywords sections
	settingKey string
	keyword    string
}

type block struct {
	kind string
	line int
}

func (p *parser) line(n int, line string) {
	if strings.HasPrefix(line, "*") {
		if m := reSection.FindStringSubmatch(line); m != nil {
			p.closeSection()
			sec, ok := sectionFor(m[1])
			p.sec = sec
			if !ok {
				p.invalidHdr = &Task{
					Title:      strings.TrimSpace(line),
					SourceFile: p.file.Path,
					StartLine:  n,
					EndLine:    n,
					Synthetic:  true,
					ParseError: fmt.Sprintf("unrecognized section header %q", strings.TrimSpace(line)),
				}
			}
			return
		}
	}

	switch p.sec {
	case secSettings:
		p.settingsLine(line)
	case secKeywords:
		p.keywordsLine(line)
	case secTasks:
		p.taskLine(n, line)
	case secInvalid:
		if p.invalidHdr != nil && strings.TrimSpace(line) != "" {
			p.invalidHdr.EndLine = n
			p.invalidHdr.Body = append(p.invalidHdr.Body, line)
		}
	}
}

// closeSection finalizes whatever the current section holds.
func (p *parser) closeSection() {
	switch p.sec {
	case secTasks:
		p.finishTask()
		p.flushOrphan()
	case secInvalid:
		if p.invalidHdr != nil {
			p.file.Tasks = append(p.file.Tasks, p.invalidHdr)
			p.invalidHdr = nil
		}
	}
	p.settingKey = ""
	p.keyword = ""
}

func (p *parser) settingsLine(line string) {
	if strings.HasPrefix(strings.TrimSpace(line), "#") {
		return
	}
	cells := SplitCells(line)
	if len(cells) == 0 {
		return
	}
	s := &p.file.Suite
	if cells[0] == continuationOp {
		if p.settingKey == "documentation" {
			s.Documentation = joinText(s.Documentation, strings.Join(cells[1:], " "))
		}
		return
	}
	p.settingKey = ""
	switch strings.ToLower(cells[0]) {
	case "documentation":
		p.settingKey = "documentation"
		s.Documentation = strings.Join(cells[1:], " ")
	case "metadata":
		if len(cells) >= 2 {
			s.Metadata[cells[1]] = strings.Join(cells[2:], " ")
		}
	case "suite setup":
		if len(cells) >= 2 {
			s.SuiteSetup = cells[1]
		}
	}
}

func (p *parser) keywordsLine(line string) {
	if strings.TrimSpace(line) == "" || strings.HasPrefix(strings.TrimSpace(line), "#") {
		return
	}
	if !isIndented(line) {
		p.keyword = strings.TrimSpace(SplitCells(line)[0])
		return
	}
	if !strings.Contains(p.keyword, kwSuiteInit) {
		return
	}
	cells := SplitCells(line)
	for i, c := range cells {
		if strings.Contains(c, kwImportVar) && i+1 < len(cells) {
			p.file.Suite.ImportedVariables = appendUnique(p.file.Suite.ImportedVariables, cells[i+1])
			return
		}
	}
}

func (p *parser) taskLine(n int, line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || (!isIndented(line) && strings.HasPrefix(trimmed, "#")) {
		if p.cur != nil {
			p.pending = append(p.pending, line)
		}
		return
	}
	if !isIndented(line) {
		p.finishTask()
		p.flushOrphan()
		p.cur = &Task{
			Title:      SplitCells(line)[0],
			TitleLine:  line,
			SourceFile: p.file.Path,
			StartLine:  n,
			EndLine:    n,
		}
		return
	}

	if p.cur == nil {
		if p.orphan == nil {
			p.orphan = &Task{
				Title:      "(content before first task)",
				SourceFile: p.file.Path,
				StartLine:  n,
				Synthetic:  true,
				ParseError: "indented content outside of any task",
			}
		}
		p.orphan.Body = append(p.orphan.Body, line)
		p.orphan.EndLine = n
		return
	}

	// Skipped lines between body lines are kept so Body stays verbatim.
	p.cur.Body = append(p.cur.Body, p.pending...)
	p.pending = nil
	p.cur.Body = append(p.cur.Body, line)
	p.cur.EndLine = n
	p.bodyStatement(n, trimmed)
}

func (p *parser) bodyStatement(n int, trimmed string) {
	if strings.HasPrefix(trimmed, "#") {
		return
	}
	t := p.cur
	cells := SplitCells(trimmed)
	head := cells[0]

	if head == continuationOp {
		args := cells[1:]
		switch p.lastSet {
		case "tags":
			t.Tags = append(t.Tags, args...)
			t.TagsEndLine = n
		case "documentation":
			t.Documentation = joinText(t.Documentation, strings.Join(args, " "))
		case "issue":
			if hasVarRef(args) {
				t.IssueDynamic = true
			}
		}
		return
	}
	p.lastSet = ""

	switch strings.ToLower(head) {
	case "[tags]":
		t.Tags = append(t.Tags, cells[1:]...)
		t.TagsLine, t.TagsEndLine = n, n
		p.lastSet = "tags"
		return
	case "[documentation]":
		t.Documentation = strings.Join(cells[1:], " ")
		p.lastSet = "documentation"
		return
	}

	kw := keywordCells(cells)
	if len(kw) == 0 {
		return
	}
	switch kw[0] {
	case "FOR", "WHILE", "TRY":
		p.blocks = append(p.blocks, block{kind: kw[0], line: n})
		return
	case "IF":
		// Inline IF carries its keyword on the same line and has no END.
		if len(kw) <= 2 {
			p.blocks = append(p.blocks, block{kind: kw[0], line: n})
		}
		return
	case "END":
		if len(p.blocks) == 0 {
			t.ParseError = fmt.Sprintf("END at line %d closes no open block", n)
			return
		}
		p.blocks = p.blocks[:len(p.blocks)-1]
		return
	}

	for i, c := range kw {
		switch {
		case strings.Contains(c, kwAddIssue):
			t.HasIssue = true
			if hasVarRef(kw[i+1:]) {
				t.IssueDynamic = true
			}
			p.lastSet = "issue"
			return
		case strings.Contains(c, kwPushMetric):
			t.HasPushMetric = true
			return
		case strings.Contains(c, kwPreReport):
			t.HasPreReport = true
			return
		}
	}
}

// keywordCells drops leading variable assignments (${x}=  ${y} =).
func keywordCells(cells []string) []string {
	for i, c := range cells {
		c = strings.TrimSpace(c)
		if !strings.HasSuffix(c, "=") {
			return cells[i:]
		}
		v := strings.TrimSpace(strings.TrimSuffix(c, "="))
		if len(v) < 4 || !strings.ContainsAny(v[:1], "$@&") || v[1] != '{' || !strings.HasSuffix(v, "}") {
			return cells[i:]
		}
	}
	return nil
}

func (p *parser) finishTask() {
	t := p.cur
	if t == nil {
		return
	}
	p.cur = nil
	p.pending = nil
	switch {
	case len(p.blocks) > 0:
		open := p.blocks[len(p.blocks)-1]
		t.ParseError = fmt.Sprintf("%s block opened at line %d is never closed with END", open.kind, open.line)
	case len(t.Body) == 0:
		t.ParseError = "task has no body"
	}
	if t.ParseError != "" {
		t.Synthetic = true
	}
	p.blocks = nil
	p.lastSet = ""
	p.file.Tasks = append(p.file.Tasks, t)
}

func (p *parser) flushOrphan() {
	if p.orphan != nil {
		p.file.Tasks = append(p.file.Tasks, p.orphan)
		p.orphan = nil
	}
}

func (p *parser) assignTypes() {
	for _, t := range p.file.Tasks {
		switch {
		case p.file.Kind != TypeUnknown:
			t.Type = p.file.Kind
		case t.HasIssue:
			t.Type = TypeRunbook
		case t.HasPushMetric:
			t.Type = TypeSLI
		default:
			t.Type = TypeUnknown
		}
	}
}

func hasVarRef(cells []string) bool {
	for _, c := range cells {
		if strings.Contains(c, "${") {
			return true
		}
	}
	return false
}

func joinText(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " " + b
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
