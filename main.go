// Command codebundle-score lints and scores Robot Framework codebundles,
// optionally patching titles and access tags and publishing the result as
// a pull request.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"codebundle-score/amp"
	"codebundle-score/cache"
	"codebundle-score/clierr"
	"codebundle-score/evaluator"
	"codebundle-score/logger"
	"codebundle-score/output"
	"codebundle-score/rules"
)

// version is set at build time via ldflags.
var version = "dev"

// Global flags.
var (
	flagConfig   string
	flagFormat   string
	flagNoColor  bool
	flagLogLevel string
	flagDir      string
)

var rootCmd = &cobra.Command{
	Use:   "codebundle-score",
	Short: "Lint and score Robot Framework codebundles",
	Long: `codebundle-score checks every task in runbook.robot and sli.robot files
against the codebundle guidelines, scores each file, and can rewrite weak
task titles and missing access tags in place.

Running without a subcommand is the same as "codebundle-score run".`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		// A missing .env is fine.
		_ = godotenv.Load()
		if flagNoColor || os.Getenv("NO_COLOR") != "" {
			output.DisableColor()
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", os.Getenv("CODEBUNDLE_SCORE_CONFIG"), "path to YAML config file")
	pf.StringVar(&flagFormat, "format", "", "output format: table, json or compact (default: table on a terminal)")
	pf.BoolVar(&flagNoColor, "no-color", false, "disable color output")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&flagDir, "dir", ".", "directory with .robot files (ignored with --git-url)")

	addRunFlags(rootCmd.Flags())
	rootCmd.SetGlobalNormalizationFunc(normalizeFlag)
	rootCmd.RunE = runRun
}

// normalizeFlag accepts underscores in flag names (--base_sha).
func normalizeFlag(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func main() {
	Execute()
}

// Execute runs the root command and maps errors to exit codes.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	_, err := rootCmd.ExecuteContextC(ctx)
	stop()
	if err == nil {
		return
	}

	var silent *clierr.SilentError
	if errors.As(err, &silent) {
		os.Exit(silent.Code)
	}

	if outputFormat() == output.FormatJSON {
		var cliErr *clierr.Error
		if errors.As(err, &cliErr) {
			output.JSONError(os.Stdout, cliErr.Code, cliErr.Error(), cliErr.Details)
			os.Exit(cliErr.ExitCode())
		}
		output.JSONError(os.Stdout, clierr.InternalError, err.Error(), nil)
		os.Exit(2)
	}

	fmt.Fprintln(os.Stderr, "Error:", err)
	var cliErr *clierr.Error
	if errors.As(err, &cliErr) {
		os.Exit(cliErr.ExitCode())
	}
	os.Exit(1)
}

// outputFormat resolves --format, falling back to auto detection. An
// invalid value has already been rejected by loadApp.
func outputFormat() output.Format {
	f, err := output.ParseFormat(flagFormat)
	if err != nil {
		return output.FormatTable
	}
	return output.Resolve(f)
}

// app bundles what every subcommand needs.
type app struct {
	cfg    *Config
	log    logger.Logger
	fs     afero.Fs
	format output.Format
}

// loadApp reads the config, applies global flag overrides and builds the
// logger. Callers must Close the returned app.
func loadApp() (*app, error) {
	cfg, err := LoadConfig(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagLogLevel != "" {
		cfg.Logger.Level = flagLogLevel
	}
	if flagFormat != "" {
		cfg.Output.Format = flagFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	f, err := output.ParseFormat(cfg.Output.Format)
	if err != nil {
		return nil, clierr.Wrap(clierr.InvalidConfig, err, "output format")
	}
	flagFormat = cfg.Output.Format

	log, err := newLogger(cfg.Logger)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, log: log, fs: afero.NewOsFs(), format: output.Resolve(f)}, nil
}

func (a *app) Close() error { return a.log.Close() }

// newLogger writes human-readable logs to stderr so stdout stays clean
// for the report.
func newLogger(cfg LoggerConfig) (logger.Logger, error) {
	level := logger.ParseLevel(cfg.Level)
	color := cfg.Color && !flagNoColor && os.Getenv("NO_COLOR") == ""
	loggers := []logger.Logger{logger.NewConsole(os.Stderr, level, color)}

	if cfg.Structured.Enabled {
		structLog, err := logger.NewStructured(cfg.Structured.Path, level)
		if err != nil {
			return nil, clierr.Wrap(clierr.InvalidConfig, err, "init structured logger")
		}
		loggers = append(loggers, structLog)
	}
	return logger.Multi(loggers...), nil
}

// evaluator builds the configured title evaluator chain: reference
// answers first, then the backend, retried with the heuristic as fallback.
func (a *app) evaluator() (rules.TitleEvaluator, error) {
	ec := a.cfg.Evaluator
	var refs []evaluator.Reference
	if ec.References != "" {
		var err error
		refs, err = evaluator.LoadReferences(a.fs, ec.References)
		if err != nil {
			return nil, clierr.Wrap(clierr.InvalidConfig, err, "load reference scores")
		}
		a.log.Info("evaluator.references.loaded", logger.String("path", ec.References), logger.Int("count", len(refs)))
	}

	var backend rules.TitleEvaluator
	switch ec.Kind {
	case "http":
		backend = evaluator.NewHTTPEvaluator(evaluator.HTTPConfig{
			URL:     ec.HTTP.URL,
			Token:   ec.HTTP.Token,
			Timeout: ec.HTTP.Timeout,
		}, refs, a.log)
	case "amp":
		backend = evaluator.NewAmpEvaluator(amp.NewClient(ec.Amp.Binary, ec.Amp.APIKey, a.log), ec.Amp.Mode, refs)
	default:
		return evaluator.WithReferences(refs, evaluator.Heuristic{}), nil
	}

	var fallback rules.TitleEvaluator
	if ec.Retry.Fallback {
		fallback = evaluator.Heuristic{}
	}
	retrying := evaluator.NewRetrying(backend, fallback, evaluator.RetryConfig{
		Attempts: ec.Retry.Attempts,
		Delay:    ec.Retry.Delay,
	}, a.log)
	return evaluator.WithReferences(refs, retrying), nil
}

// openCache opens the configured store. The default file-backed caches
// live in the scanned root.
func (a *app) openCache(root string) (cache.Store, error) {
	cc := a.cfg.Cache.Config
	if cc.Path == "" {
		switch cc.Backend {
		case "json":
			cc.Path = filepath.Join(root, cache.DefaultFile)
		case "sqlite":
			cc.Path = filepath.Join(root, cache.DefaultSQLiteFile)
		}
	}
	return cache.Open(cc, a.fs, a.log)
}
