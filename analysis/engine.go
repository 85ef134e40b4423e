// Package analysis runs one scoring pass over a codebundle corpus:
// discover → extract → check (with the report cache) → synthesize fixes →
// aggregate → patch → write artifacts. Files are processed one at a time
// in lexicographic order so identical input gives identical output.
package analysis

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"codebundle-score/cache"
	"codebundle-score/clierr"
	"codebundle-score/codebundle"
	"codebundle-score/evaluator"
	"codebundle-score/logger"
	"codebundle-score/patch"
	"codebundle-score/rules"
	"codebundle-score/score"
	"codebundle-score/suggest"
)

// Options selects what one run does.
type Options struct {
	// Root is the scanned directory. Report keys are relative to it.
	Root string
	// Files restricts the run to these slash-separated paths relative to
	// Root. nil means every *.robot file under Root; an empty non-nil
	// slice means nothing to analyze.
	Files []string

	ApplySuggestions bool
	// FailOnConflict turns a per-file patch conflict into a run failure.
	FailOnConflict bool

	// Artifact paths; empty disables the artifact.
	ReportPath     string
	ReferencesPath string
}

// Conflict is a file whose patch was rejected.
type Conflict struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Result is everything one run produced.
type Result struct {
	RunID       string             `json:"run_id"`
	Report      *score.Report      `json:"report"`
	TitleScores []score.TitleScore `json:"-"`
	Patches     []*patch.Result    `json:"patches,omitempty"`
	Conflicts   []Conflict         `json:"conflicts,omitempty"`
	// Modified lists patched files relative to Root.
	Modified []string `json:"modified,omitempty"`
	// Skipped lists selected files that could not be read.
	Skipped []string `json:"skipped,omitempty"`

	ParseErrors    int       `json:"parse_errors"`
	EvaluatorCalls int       `json:"evaluator_calls"`
	CacheHits      int       `json:"cache_hits"`
	CacheMisses    int       `json:"cache_misses"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Engine wires the pipeline stages. It is reusable across runs (the
// watch command calls Run repeatedly) but not safe for concurrent use.
type Engine struct {
	fs        afero.Fs
	rules     *rules.Engine
	synth     *suggest.Synthesizer
	patcher   *patch.Applier
	store     cache.Store
	evaluator *evaluator.Counting
	log       logger.Logger
	now       func() time.Time

	// title verdicts of the file being checked
	verdict map[*codebundle.Task]*rules.TitleVerdict
}

// NewEngine creates a run engine. store may be nil to disable caching.
func NewEngine(cfg rules.Config, fsys afero.Fs, eval rules.TitleEvaluator, store cache.Store, log logger.Logger) *Engine {
	counting := evaluator.NewCounting(eval)
	var fc rules.FindingCache
	if store != nil {
		fc = store
	}
	e := &Engine{
		fs:        fsys,
		rules:     rules.NewEngine(cfg, counting, fc, log),
		synth:     suggest.New(),
		patcher:   patch.New(fsys, log),
		store:     store,
		evaluator: counting,
		log:       log,
		now:       time.Now,
	}
	e.rules.OnVerdict(func(t *codebundle.Task, v *rules.TitleVerdict) {
		if e.verdict != nil {
			e.verdict[t] = v
		}
	})
	return e
}

type analyzed struct {
	rel   string
	abs   string
	file  *codebundle.File
	edits []*codebundle.Edit
}

// Run executes one pass. Per-file problems (parse errors, patch conflicts)
// are collected into the result; evaluator failures without fallback and
// cancellation abort the run before anything is written.
func (e *Engine) Run(ctx context.Context, opts Options) (*Result, error) {
	res := &Result{RunID: uuid.NewString(), StartedAt: e.now().UTC()}
	log := e.log.WithFields(logger.String("run_id", res.RunID))
	e.rules.Stats = rules.Stats{}
	callsBefore := e.evaluator.Calls()

	rels, err := e.selectFiles(opts)
	if err != nil {
		return nil, err
	}
	log.Info("analysis.started", logger.String("root", opts.Root), logger.Int("files", len(rels)))

	var (
		inputs []score.FileInput
		done   []analyzed
	)
	for _, rel := range rels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a, in, titles, err := e.analyzeFile(ctx, opts.Root, rel)
		if clierr.Is(err, clierr.ParseError) {
			log.Warn("analysis.file.unreadable", logger.String("file", rel), logger.Err(err))
			res.Skipped = append(res.Skipped, rel)
			continue
		}
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, in)
		done = append(done, a)
		res.TitleScores = append(res.TitleScores, titles...)
		res.ParseErrors += len(a.file.ParseErrors())
	}

	res.Report = score.Aggregate(inputs)
	score.SortTitleScores(res.TitleScores)
	res.EvaluatorCalls = e.evaluator.Calls() - callsBefore
	res.CacheHits = e.rules.Stats.CacheHits
	res.CacheMisses = e.rules.Stats.CacheMisses

	if opts.ApplySuggestions {
		if err := e.applyPatches(done, opts, res, log); err != nil {
			return nil, err
		}
	}

	if err := e.writeArtifacts(opts, res); err != nil {
		return nil, err
	}

	res.FinishedAt = e.now().UTC()
	e.recordRun(ctx, opts, res, log)

	fields := []logger.Field{
		logger.Int("files", len(res.Report.PerFile)),
		logger.Int("findings", res.Report.FindingCount()),
		logger.Int("evaluator_calls", res.EvaluatorCalls),
		logger.Int("cache_hits", res.CacheHits),
		logger.Int("patched", len(res.Modified)),
		logger.Int("conflicts", len(res.Conflicts)),
		logger.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)),
	}
	if res.Report.OverallScore != nil {
		fields = append(fields, logger.Float64("overall_score", *res.Report.OverallScore))
	}
	log.Info("analysis.finished", fields...)
	return res, nil
}

func (e *Engine) selectFiles(opts Options) ([]string, error) {
	if opts.Files != nil {
		var rels []string
		for _, f := range opts.Files {
			if codebundle.IsRobotFile(f) {
				rels = append(rels, path.Clean(filepath.ToSlash(f)))
			}
		}
		sort.Strings(rels)
		return rels, nil
	}
	abs, err := codebundle.Discover(e.fs, opts.Root)
	if err != nil {
		return nil, clierr.Wrap(clierr.InternalError, err, "discover codebundle files")
	}
	rels := make([]string, 0, len(abs))
	for _, p := range abs {
		rel, err := filepath.Rel(opts.Root, p)
		if err != nil {
			return nil, fmt.Errorf("relative path of %s: %w", p, err)
		}
		rels = append(rels, filepath.ToSlash(rel))
	}
	sort.Strings(rels)
	return rels, nil
}

func (e *Engine) analyzeFile(ctx context.Context, root, rel string) (analyzed, score.FileInput, []score.TitleScore, error) {
	abs := filepath.Join(root, filepath.FromSlash(rel))
	a := analyzed{rel: rel, abs: abs}

	f, err := codebundle.Load(e.fs, abs)
	if err != nil {
		return a, score.FileInput{}, nil, clierr.Wrap(clierr.ParseError, err, "load "+rel)
	}
	a.file = f

	e.verdict = make(map[*codebundle.Task]*rules.TitleVerdict)
	defer func() { e.verdict = nil }()

	findings, err := e.rules.CheckFile(ctx, f)
	if err != nil {
		return a, score.FileInput{}, nil, fmt.Errorf("check %s: %w", rel, err)
	}
	e.synth.Apply(f, findings)

	tasks := 0
	for _, t := range f.Tasks {
		if !t.Synthetic {
			tasks++
		}
	}
	for _, fd := range findings {
		if fd.Edit != nil {
			a.edits = append(a.edits, fd.Edit)
		}
	}

	e.log.Info("analysis.file.scored",
		logger.String("file", rel),
		logger.String("kind", string(f.Kind)),
		logger.Int("tasks", tasks),
		logger.Int("findings", len(findings)),
		logger.Int("parse_errors", len(f.ParseErrors())),
	)
	for _, pe := range f.ParseErrors() {
		e.log.Warn("analysis.file.parse_error",
			logger.String("file", rel),
			logger.Int("line", pe.StartLine),
			logger.String("error", pe.ParseError),
		)
	}

	return a, score.FileInput{Path: rel, Kind: f.Kind, Tasks: tasks, Findings: findings},
		e.titleScores(f, rel, findings), nil
}

// titleScores builds the reference_scores.json entries of one file from
// the verdicts collected during CheckFile.
func (e *Engine) titleScores(f *codebundle.File, rel string, findings []rules.Finding) []score.TitleScore {
	var out []score.TitleScore
	for i, t := range f.Tasks {
		v, ok := e.verdict[t]
		if !ok {
			continue
		}
		ts := score.TitleScore{
			File:           rel,
			Task:           t.Title,
			Type:           string(t.Type),
			Score:          v.Score,
			Reasoning:      v.Reasoning,
			SuggestedTitle: v.SuggestedTitle,
			AccessTag:      t.AccessTag(),
			Source:         v.Source,
		}
		for _, fd := range findings {
			if fd.TaskIndex != i || fd.SuggestedFix == nil {
				continue
			}
			switch fd.Kind {
			case rules.KindTitleQuality:
				ts.SuggestedTitle = *fd.SuggestedFix
			case rules.KindMissingAccessTag:
				ts.AccessTag = fd.Hint.AccessTag
			}
		}
		out = append(out, ts)
	}
	return out
}

func (e *Engine) applyPatches(done []analyzed, opts Options, res *Result, log logger.Logger) error {
	for _, a := range done {
		if len(a.edits) == 0 {
			continue
		}
		pr, err := e.patcher.Apply(a.abs, a.edits)
		if err != nil {
			if !clierr.Is(err, clierr.PatchConflict) {
				return err
			}
			log.Warn("analysis.patch.conflict", logger.String("file", a.rel), logger.Err(err))
			res.Conflicts = append(res.Conflicts, Conflict{Path: a.rel, Message: err.Error()})
			continue
		}
		pr.Path = a.rel
		res.Patches = append(res.Patches, pr)
		if pr.Written {
			res.Modified = append(res.Modified, a.rel)
		}
	}
	if len(res.Conflicts) > 0 && opts.FailOnConflict {
		paths := make([]string, len(res.Conflicts))
		for i, c := range res.Conflicts {
			paths[i] = c.Path
		}
		return clierr.Newf(clierr.PatchConflict, "%d file(s) could not be patched: %s", len(paths), strings.Join(paths, ", ")).
			WithDetails(map[string]any{"files": paths})
	}
	return nil
}

func (e *Engine) writeArtifacts(opts Options, res *Result) error {
	if opts.ReportPath != "" {
		if err := score.WriteReport(e.fs, opts.ReportPath, res.Report); err != nil {
			return clierr.Wrap(clierr.InternalError, err, "write report")
		}
		e.log.Info("analysis.artifact.written", logger.String("path", opts.ReportPath))
	}
	if opts.ReferencesPath != "" {
		if err := score.WriteTitleScores(e.fs, opts.ReferencesPath, res.TitleScores); err != nil {
			return clierr.Wrap(clierr.InternalError, err, "write title scores")
		}
		e.log.Info("analysis.artifact.written", logger.String("path", opts.ReferencesPath))
	}
	return nil
}

func (e *Engine) recordRun(ctx context.Context, opts Options, res *Result, log logger.Logger) {
	if e.store == nil {
		return
	}
	run := &cache.Run{
		ID:             res.RunID,
		Root:           opts.Root,
		Evaluator:      e.evaluator.Name(),
		StartedAt:      res.StartedAt,
		FinishedAt:     res.FinishedAt,
		Files:          len(res.Report.PerFile),
		Findings:       res.Report.FindingCount(),
		OverallScore:   res.Report.OverallScore,
		EvaluatorCalls: res.EvaluatorCalls,
		CacheHits:      res.CacheHits,
		Patched:        len(res.Modified),
	}
	if err := e.store.RecordRun(ctx, run); err != nil {
		log.Warn("analysis.record_run_failed", logger.Err(err))
	}
}
