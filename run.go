package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"codebundle-score/analysis"
	"codebundle-score/cache"
	"codebundle-score/clierr"
	"codebundle-score/logger"
	"codebundle-score/notify"
	"codebundle-score/output"
	"codebundle-score/vcs"
)

// runFlags are the flags of the run command (and the root command, which
// runs by default).
type runFlags struct {
	onlyChanged      bool
	baseSHA          string
	headSHA          string
	gitURL           string
	branch           string
	applySuggestions bool
	commitChanges    bool
	openPR           bool
	prBranch         string
	baseBranch       string
	output           string
	evaluator        string
	noCache          bool
	strict           bool
}

var flagsRun runFlags

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Analyze and score codebundles",
	Long: `Analyze every .robot file under --dir (or a fresh clone of --git-url),
write task_analysis.json and reference_scores.json, and print the report.

With --apply-suggestions, weak titles and missing access tags are patched in
place. With --commit-changes the patched files and artifacts are committed to
--pr-branch and pushed; --open-pr also opens a pull request with gh.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	addRunFlags(runCmd.Flags())
	rootCmd.AddCommand(runCmd)
}

func addRunFlags(f *pflag.FlagSet) {
	f.BoolVar(&flagsRun.onlyChanged, "only-changed", false, "analyze only .robot files changed between --base-sha and --head-sha")
	f.StringVar(&flagsRun.baseSHA, "base-sha", "", "base revision for --only-changed")
	f.StringVar(&flagsRun.headSHA, "head-sha", "", "head revision for --only-changed")
	f.StringVar(&flagsRun.gitURL, "git-url", "", "remote repository to clone and analyze")
	f.StringVar(&flagsRun.branch, "branch", "main", "branch to clone with --git-url")
	f.BoolVar(&flagsRun.applySuggestions, "apply-suggestions", false, "rewrite titles and add access tags in place")
	f.BoolVar(&flagsRun.commitChanges, "commit-changes", false, "commit patched files and artifacts and push them")
	f.BoolVar(&flagsRun.openPR, "open-pr", false, "open a pull request after committing (requires gh)")
	f.StringVar(&flagsRun.prBranch, "pr-branch", "", "branch to push changes to (default auto-task-analysis)")
	f.StringVar(&flagsRun.baseBranch, "base-branch", "", "pull request base branch (default main)")
	f.StringVar(&flagsRun.output, "output", "", "report path, relative to the analyzed directory (default task_analysis.json)")
	f.StringVar(&flagsRun.evaluator, "evaluator", "", "title evaluator: heuristic, http or amp")
	f.BoolVar(&flagsRun.noCache, "no-cache", false, "do not read or write the report cache")
	f.BoolVar(&flagsRun.strict, "strict", false, "fail when any file cannot be patched")
}

// applyRunFlags lets explicitly set flags override config values.
func applyRunFlags(cmd *cobra.Command, cfg *Config) error {
	f := cmd.Flags()
	if f.Changed("pr-branch") {
		cfg.Git.PRBranch = flagsRun.prBranch
	}
	if f.Changed("base-branch") {
		cfg.Git.BaseBranch = flagsRun.baseBranch
	}
	if f.Changed("output") {
		cfg.Output.Report = flagsRun.output
	}
	if f.Changed("evaluator") {
		cfg.Evaluator.Kind = flagsRun.evaluator
	}
	if flagsRun.noCache {
		cfg.Cache.Disabled = true
	}
	if flagsRun.openPR && !flagsRun.commitChanges {
		return clierr.New(clierr.InvalidConfig, "--open-pr requires --commit-changes")
	}
	if flagsRun.onlyChanged && (flagsRun.baseSHA == "" || flagsRun.headSHA == "") {
		return clierr.New(clierr.InvalidConfig, "--only-changed requires --base-sha and --head-sha")
	}
	return cfg.Validate()
}

// runOutput is the JSON shape of a run: the analysis result plus what was
// published.
type runOutput struct {
	*analysis.Result
	Publish      *vcs.PublishResult    `json:"publish,omitempty"`
	PublishError *output.ErrorResponse `json:"publish_error,omitempty"`
}

func runRun(cmd *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := applyRunFlags(cmd, a.cfg); err != nil {
		return err
	}

	ctx := cmd.Context()
	commander := vcs.NewShellCommander(a.cfg.Git.SSHKey)

	root, source := flagDir, flagDir
	if flagsRun.gitURL != "" {
		dir, cleanup, err := vcs.Clone(ctx, commander, flagsRun.gitURL, flagsRun.branch, a.log)
		if err != nil {
			return err
		}
		defer cleanup()
		root, source = dir, flagsRun.gitURL
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", root, err)
	}

	git := vcs.NewClient(root, commander, a.log).WithRetry(a.cfg.Git.RetryAttempts, a.cfg.Git.RetryDelay)

	var files []string
	if flagsRun.onlyChanged {
		files, err = vcs.ChangedFiles(ctx, git, a.fs, flagsRun.baseSHA, flagsRun.headSHA)
		if err != nil {
			return err
		}
		a.log.Info("run.changed_files", logger.Int("count", len(files)))
	}

	res, err := a.analyze(ctx, root, files, flagsRun.applySuggestions, flagsRun.strict || flagsRun.commitChanges)
	if err != nil {
		return err
	}

	out := runOutput{Result: res}
	if flagsRun.commitChanges {
		pub, err := a.publish(ctx, git, res)
		if err != nil {
			return a.publishFailed(os.Stdout, out, err)
		}
		out.Publish = pub
	}

	a.render(os.Stdout, out)
	a.notify(ctx, source, out)
	return nil
}

// analyze runs one analysis pass over root with the cache opened for the
// duration of the pass.
func (a *app) analyze(ctx context.Context, root string, files []string, apply, failOnConflict bool) (*analysis.Result, error) {
	eval, err := a.evaluator()
	if err != nil {
		return nil, err
	}

	var store cache.Store
	if !a.cfg.Cache.Disabled {
		store, err = a.openCache(root)
		if err != nil {
			return nil, err
		}
		defer func() {
			if cerr := store.Close(); cerr != nil {
				a.log.Warn("cache.close_failed", logger.Err(cerr))
			}
		}()
	}

	engine := analysis.NewEngine(a.cfg.RuleEngineConfig(), a.fs, eval, store, a.log)
	return engine.Run(ctx, a.runOptions(root, files, apply, failOnConflict))
}

func (a *app) runOptions(root string, files []string, apply, failOnConflict bool) analysis.Options {
	return analysis.Options{
		Root:             root,
		Files:            files,
		ApplySuggestions: apply,
		FailOnConflict:   failOnConflict,
		ReportPath:       underRoot(root, a.cfg.Output.Report),
		ReferencesPath:   underRoot(root, a.cfg.Output.References),
	}
}

func underRoot(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// publish commits the patched files and the artifacts.
func (a *app) publish(ctx context.Context, git *vcs.Client, res *analysis.Result) (*vcs.PublishResult, error) {
	paths := append([]string{}, res.Modified...)
	for _, p := range []string{a.cfg.Output.Report, a.cfg.Output.References} {
		if p == "" {
			continue
		}
		if rel, err := filepath.Rel(git.WorkDir(), underRoot(git.WorkDir(), p)); err == nil {
			paths = append(paths, filepath.ToSlash(rel))
		}
	}
	return vcs.NewPublisher(git, a.log).Publish(ctx, vcs.PublishOptions{
		Branch:     a.cfg.Git.PRBranch,
		BaseBranch: a.cfg.Git.BaseBranch,
		Paths:      paths,
		Message:    a.cfg.Git.CommitMessage,
		OpenPR:     flagsRun.openPR,
		Title:      a.cfg.Git.PRTitle,
		Body:       a.cfg.Git.PRBody,
	})
}

func (a *app) render(w io.Writer, out runOutput) {
	switch a.format {
	case output.FormatJSON:
		if err := output.JSON(w, out); err != nil {
			a.log.Error("run.output_failed", logger.Err(err))
		}
	case output.FormatCompact:
		output.ResultCompact(w, out.Result)
	default:
		output.ResultTable(w, out.Result)
		if out.Publish != nil && out.Publish.PRURL != "" {
			fmt.Fprintf(w, "\nPull request: %s\n", out.Publish.PRURL)
		}
	}
}

// publishFailed renders the analysis of a run whose publish step failed.
// In JSON mode the error goes into the run document and the returned
// SilentError only carries the exit code, so stdout holds one document.
func (a *app) publishFailed(w io.Writer, out runOutput, err error) error {
	if a.format != output.FormatJSON {
		a.render(w, out)
		return err
	}
	resp := &output.ErrorResponse{Error: err.Error(), Code: clierr.InternalError}
	exit := 2
	var ce *clierr.Error
	if errors.As(err, &ce) {
		resp.Code, resp.Details, exit = ce.Code, ce.Details, ce.ExitCode()
	}
	out.PublishError = resp
	a.render(w, out)
	return &clierr.SilentError{Code: exit}
}

// notify posts the run summary when a webhook is configured. Delivery
// failures never fail the run.
func (a *app) notify(ctx context.Context, source string, out runOutput) {
	if a.cfg.Notify.Feishu.Webhook == "" {
		return
	}
	prURL := ""
	if out.Publish != nil {
		prURL = out.Publish.PRURL
	}
	n := notify.NewFeishuNotifier(a.cfg.Notify.Feishu, a.log)
	if err := n.Notify(ctx, notify.Summarize(source, out.Result, prURL)); err != nil {
		a.log.Warn("notify.failed", logger.Err(err))
	}
}
