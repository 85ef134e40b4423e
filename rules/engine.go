package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"codebundle-score/codebundle"
	"codebundle-score/logger"
)

// Config tunes the checklist thresholds.
type Config struct {
	MinTitleScore    int // titles scoring below this get a title_quality finding
	MaxTasks         int // soft ceiling on tasks per file
	RequiredMetadata []string
}

// DefaultConfig mirrors the thresholds used by the codebundle guidelines.
func DefaultConfig() Config {
	return Config{
		MinTitleScore:    4,
		MaxTasks:         10,
		RequiredMetadata: []string{"Author", "Display Name", "Supports"},
	}
}

// Stats counts work done by the title check across a run.
type Stats struct {
	Evaluations int
	CacheHits   int
	CacheMisses int
}

// Engine applies the checklist. A nil cache disables caching.
type Engine struct {
	cfg       Config
	evaluator TitleEvaluator
	cache     FindingCache
	log       logger.Logger
	now       func() time.Time
	observe   func(*codebundle.Task, *TitleVerdict)

	Stats Stats
}

// NewEngine creates a rule engine.
func NewEngine(cfg Config, evaluator TitleEvaluator, cache FindingCache, log logger.Logger) *Engine {
	def := DefaultConfig()
	if cfg.MinTitleScore <= 0 {
		cfg.MinTitleScore = def.MinTitleScore
	}
	if cfg.MaxTasks <= 0 {
		cfg.MaxTasks = def.MaxTasks
	}
	if cfg.RequiredMetadata == nil {
		cfg.RequiredMetadata = def.RequiredMetadata
	}
	return &Engine{cfg: cfg, evaluator: evaluator, cache: cache, log: log, now: time.Now}
}

// OnVerdict registers fn to receive every title verdict, cached or fresh.
func (e *Engine) OnVerdict(fn func(*codebundle.Task, *TitleVerdict)) {
	e.observe = fn
}

func (e *Engine) notify(t *codebundle.Task, v *TitleVerdict) {
	if e.observe != nil {
		e.observe(t, v)
	}
}

// taskCheck is one entry of the checklist. applies selects the task types
// the check runs for.
type taskCheck struct {
	name    string
	applies func(codebundle.TaskType) bool
	run     func(ctx context.Context, e *Engine, s *taskState) ([]Finding, error)
}

// taskState carries per-task data between checks (the title verdict feeds
// the access-tag suggestion).
type taskState struct {
	file    *codebundle.File
	task    *codebundle.Task
	index   int
	verdict *TitleVerdict
}

func anyType(codebundle.TaskType) bool { return true }

func runbookOrSLI(t codebundle.TaskType) bool {
	return t == codebundle.TypeRunbook || t == codebundle.TypeSLI
}

func runbookOnly(t codebundle.TaskType) bool { return t == codebundle.TypeRunbook }
func sliOnly(t codebundle.TaskType) bool     { return t == codebundle.TypeSLI }

// checklist is evaluated in order for every task; finding order in reports
// follows it.
var checklist = []taskCheck{
	{name: "title_quality", applies: anyType, run: checkTitle},
	{name: "access_tag", applies: runbookOrSLI, run: checkAccessTag},
	{name: "issue_raised", applies: runbookOnly, run: pure(checkIssueRaised)},
	{name: "static_issue", applies: runbookOnly, run: pure(checkStaticIssue)},
	{name: "metric_pushed", applies: sliOnly, run: pure(checkMetricPushed)},
	{name: "task_documentation", applies: runbookOrSLI, run: pure(checkTaskDocumentation)},
}

func pure(fn func(*taskState) []Finding) func(context.Context, *Engine, *taskState) ([]Finding, error) {
	return func(_ context.Context, _ *Engine, s *taskState) ([]Finding, error) {
		return fn(s), nil
	}
}

// CheckFile runs the checklist over every task of f, then the file-level
// checks. It only fails when the title evaluator fails without fallback or
// ctx is cancelled.
func (e *Engine) CheckFile(ctx context.Context, f *codebundle.File) ([]Finding, error) {
	var findings []Finding
	for i := range f.Tasks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		got, err := e.CheckTask(ctx, f, i)
		if err != nil {
			return nil, err
		}
		findings = append(findings, got...)
	}
	return append(findings, e.checkFileLevel(f)...), nil
}

// CheckTask runs the checklist against task i of f.
func (e *Engine) CheckTask(ctx context.Context, f *codebundle.File, i int) ([]Finding, error) {
	t := f.Tasks[i]
	if t.Synthetic {
		return []Finding{{
			Kind:      KindParseError,
			Severity:  SeverityError,
			Message:   t.ParseError,
			LineRange: [2]int{t.StartLine, t.EndLine},
			Task:      t.Title,
			TaskIndex: i,
		}}, nil
	}

	s := &taskState{file: f, task: t, index: i}
	var out []Finding
	for _, c := range checklist {
		if !c.applies(t.Type) {
			continue
		}
		got, err := c.run(ctx, e, s)
		if err != nil {
			return nil, fmt.Errorf("%s check on %q: %w", c.name, t.Title, err)
		}
		for j := range got {
			got[j].Task = t.Title
			got[j].TaskIndex = i
		}
		out = append(out, got...)
	}
	return out, nil
}

func titleLine(t *codebundle.Task) [2]int {
	return [2]int{t.StartLine, t.StartLine}
}

func checkTitle(ctx context.Context, e *Engine, s *taskState) ([]Finding, error) {
	t := s.task
	hash := t.ContentHash()

	if e.cache != nil {
		entry, ok, err := e.cache.Lookup(hash)
		if err != nil {
			return nil, err
		}
		if ok && entry.Verdict != nil {
			e.Stats.CacheHits++
			s.verdict = entry.Verdict
			e.notify(t, entry.Verdict)
			e.log.Debug("rules.title.cache_hit", logger.String("task", t.Title), logger.String("hash", hash[:12]))
			return e.cachedFindings(t, entry), nil
		}
		e.Stats.CacheMisses++
	}

	e.Stats.Evaluations++
	verdict, err := e.evaluator.EvaluateTitle(ctx, &TitleRequest{
		Title:             t.Title,
		Type:              t.Type,
		Documentation:     t.Documentation,
		Tags:              t.Tags,
		ImportedVariables: s.file.Suite.ImportedVariables,
		Body:              t.Body,
	})
	if err != nil {
		return nil, err
	}
	verdict = CapWithoutWhere(t.Title, verdict)
	s.verdict = verdict
	e.notify(t, verdict)
	out := e.titleFindings(t, verdict)

	switch {
	case e.cache == nil:
	case verdict.Fallback:
		e.log.Debug("rules.title.cache_skip_fallback", logger.String("task", t.Title), logger.String("source", verdict.Source))
	default:
		rel := make([]Finding, len(out))
		for i, f := range out {
			rel[i] = f.Rebase(-t.StartLine)
		}
		entry := &CacheEntry{
			ContentHash:   hash,
			Verdict:       verdict,
			Findings:      rel,
			MinTitleScore: e.cfg.MinTitleScore,
			ComputedAt:    e.now().UTC(),
		}
		if err := e.cache.Store(entry); err != nil {
			e.log.Warn("rules.title.cache_store_failed", logger.String("task", t.Title), logger.Err(err))
		}
	}
	return out, nil
}

// cachedFindings reuses the stored findings when they were computed under
// the current threshold and rebuilds them from the verdict otherwise.
func (e *Engine) cachedFindings(t *codebundle.Task, entry *CacheEntry) []Finding {
	if entry.MinTitleScore != e.cfg.MinTitleScore {
		return e.titleFindings(t, entry.Verdict)
	}
	var out []Finding
	for _, f := range entry.Findings {
		f = f.Rebase(t.StartLine)
		f.Hint = Hint{SuggestedTitle: entry.Verdict.SuggestedTitle}
		out = append(out, f)
	}
	return out
}

func (e *Engine) titleFindings(t *codebundle.Task, v *TitleVerdict) []Finding {
	if v.Score >= e.cfg.MinTitleScore {
		return nil
	}
	sev := SeverityInfo
	if v.Score <= 2 {
		sev = SeverityWarning
	}
	msg := fmt.Sprintf("title scored %d/5", v.Score)
	if r := strings.TrimSpace(v.Reasoning); r != "" {
		msg += ": " + r
	}
	return []Finding{{
		Kind:      KindTitleQuality,
		Severity:  sev,
		Message:   msg,
		LineRange: titleLine(t),
		Hint:      Hint{SuggestedTitle: v.SuggestedTitle},
	}}
}

// CapWithoutWhere limits titles that name no location variable to 3.
func CapWithoutWhere(title string, v *TitleVerdict) *TitleVerdict {
	if strings.Contains(title, "${") || v.Score <= 3 {
		return v
	}
	capped := *v
	capped.Score = 3
	capped.Reasoning = strings.TrimSpace(capped.Reasoning + " (Reduced for missing 'Where' variable.)")
	return &capped
}

func checkAccessTag(_ context.Context, _ *Engine, s *taskState) ([]Finding, error) {
	t := s.task
	if t.AccessTag() != "" {
		return nil, nil
	}
	tag := InferAccessTag(t)
	if s.verdict != nil && s.verdict.AccessTag != "" {
		tag = s.verdict.AccessTag
	}
	msg := "task declares no access tag (access:readonly or access:read-write)"
	for _, existing := range t.Tags {
		if strings.HasPrefix(strings.ToLower(existing), "access:") {
			msg = fmt.Sprintf("task access tag %q is not one of access:readonly, access:read-write", existing)
			break
		}
	}
	// Without a [Tags] setting the tag is inserted after the title line.
	lr := [2]int{t.StartLine, min(t.StartLine+1, t.EndLine)}
	if t.TagsLine > 0 {
		lr = [2]int{t.TagsLine, t.TagsEndLine}
	}
	return []Finding{{
		Kind:      KindMissingAccessTag,
		Severity:  SeverityWarning,
		Message:   msg,
		LineRange: lr,
		Hint:      Hint{AccessTag: tag},
	}}, nil
}

func checkIssueRaised(s *taskState) []Finding {
	t := s.task
	if t.HasIssue {
		return nil
	}
	msg := "runbook task never calls RW.Core.Add Issue"
	if t.HasPreReport {
		msg += " (it only adds a pre-report)"
	}
	return []Finding{{
		Kind:      KindNoIssueRaised,
		Severity:  SeverityWarning,
		Message:   msg,
		LineRange: [2]int{t.StartLine, t.EndLine},
	}}
}

func checkStaticIssue(s *taskState) []Finding {
	t := s.task
	if !t.HasIssue || t.IssueDynamic {
		return nil
	}
	return []Finding{{
		Kind:      KindStaticIssue,
		Severity:  SeverityInfo,
		Message:   "issue title and severity are hard-coded; derive them from collected data",
		LineRange: [2]int{t.StartLine, t.EndLine},
	}}
}

func checkMetricPushed(s *taskState) []Finding {
	t := s.task
	if t.HasPushMetric {
		return nil
	}
	return []Finding{{
		Kind:      KindNoMetricPushed,
		Severity:  SeverityError,
		Message:   "SLI task never calls RW.Core.Push Metric",
		LineRange: [2]int{t.StartLine, t.EndLine},
	}}
}

func checkTaskDocumentation(s *taskState) []Finding {
	t := s.task
	if strings.TrimSpace(t.Documentation) != "" {
		return nil
	}
	return []Finding{{
		Kind:      KindMissingMetadata,
		Severity:  SeverityInfo,
		Message:   "task has no [Documentation]",
		LineRange: titleLine(t),
	}}
}

func (e *Engine) checkFileLevel(f *codebundle.File) []Finding {
	if len(f.Tasks) == 0 {
		return nil
	}
	fileSpan := [2]int{1, max(1, f.Lines)}
	var out []Finding
	add := func(msg string) {
		out = append(out, Finding{
			Kind:      KindMissingMetadata,
			Severity:  SeverityInfo,
			Message:   msg,
			LineRange: fileSpan,
			TaskIndex: FileLevel,
		})
	}

	s := f.Suite
	if strings.TrimSpace(s.Documentation) == "" {
		add("missing or empty suite-level Documentation in *** Settings ***")
	}
	for _, key := range e.cfg.RequiredMetadata {
		if _, ok := s.Metadata[key]; !ok {
			add(fmt.Sprintf("missing Metadata key %q in *** Settings ***", key))
		}
	}
	if s.SuiteSetup == "" {
		add("no Suite Setup in *** Settings *** (e.g. Suite Initialization)")
	}

	n := 0
	for _, t := range f.Tasks {
		if !t.Synthetic {
			n++
		}
	}
	if n > e.cfg.MaxTasks {
		add(fmt.Sprintf("%d tasks exceed the recommended maximum of %d per codebundle", n, e.cfg.MaxTasks))
	}
	return out
}
