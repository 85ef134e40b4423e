package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"codebundle-score/cache"
	"codebundle-score/clierr"
	"codebundle-score/notify"
	"codebundle-score/rules"
)

// Config is the root configuration for codebundle-score. Every field has a
// usable default, so the config file is optional.
type Config struct {
	Rules     RulesConfig     `yaml:"rules"`
	Evaluator EvaluatorConfig `yaml:"evaluator"`
	Cache     CacheConfig     `yaml:"cache"`
	Git       GitConfig       `yaml:"git"`
	Output    OutputConfig    `yaml:"output"`
	Notify    NotifyConfig    `yaml:"notify"`
	Logger    LoggerConfig    `yaml:"logger"`
}

type RulesConfig struct {
	MinTitleScore    int      `yaml:"min_title_score" validate:"gte=1,lte=5"`
	MaxTasks         int      `yaml:"max_tasks" validate:"gte=1"`
	RequiredMetadata []string `yaml:"required_metadata"`
}

type EvaluatorConfig struct {
	Kind       string      `yaml:"kind" validate:"oneof=heuristic http amp"`
	// References is a reference_scores.json used as few-shot examples.
	References string      `yaml:"references"`
	Retry      RetryConfig `yaml:"retry"`
	HTTP       HTTPCfg     `yaml:"http"`
	Amp        AmpCfg      `yaml:"amp"`
}

type RetryConfig struct {
	Attempts int           `yaml:"attempts" validate:"gte=1,lte=10"`
	Delay    time.Duration `yaml:"delay" validate:"gte=0"`
	// Fallback to the heuristic once retries are exhausted.
	Fallback bool          `yaml:"fallback"`
}

type HTTPCfg struct {
	URL     string        `yaml:"url" validate:"omitempty,url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

type AmpCfg struct {
	Binary string `yaml:"binary"`
	APIKey string `yaml:"api_key"`
	Mode   string `yaml:"mode" validate:"omitempty,oneof=rush smart"`
}

type CacheConfig struct {
	Disabled     bool `yaml:"disabled"`
	cache.Config `yaml:",inline"`
}

type GitConfig struct {
	SSHKey        string        `yaml:"ssh_key"`
	PRBranch      string        `yaml:"pr_branch" validate:"required"`
	BaseBranch    string        `yaml:"base_branch" validate:"required"`
	CommitMessage string        `yaml:"commit_message"`
	PRTitle       string        `yaml:"pr_title"`
	PRBody        string        `yaml:"pr_body"`
	RetryAttempts int           `yaml:"retry_attempts" validate:"gte=1"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

type OutputConfig struct {
	Format     string `yaml:"format" validate:"omitempty,oneof=auto table json compact"`
	Report     string `yaml:"report"`
	References string `yaml:"references"`
}

type NotifyConfig struct {
	Feishu notify.FeishuConfig `yaml:"feishu"`
}

type LoggerConfig struct {
	Level      string       `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Color      bool         `yaml:"color"`
	Structured StructLogCfg `yaml:"structured"`
}

type StructLogCfg struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Logger.Color = true
	cfg.Evaluator.Retry.Fallback = true
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads and parses the config file, expanding ${ENV_VAR}
// references. An empty path yields DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, clierr.Wrap(clierr.InvalidConfig, err, "read config")
	}

	expanded := os.Expand(string(data), os.Getenv)

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, clierr.Wrap(clierr.InvalidConfig, err, "parse config")
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := rules.DefaultConfig()
	if c.Rules.MinTitleScore == 0 {
		c.Rules.MinTitleScore = def.MinTitleScore
	}
	if c.Rules.MaxTasks == 0 {
		c.Rules.MaxTasks = def.MaxTasks
	}
	if len(c.Rules.RequiredMetadata) == 0 {
		c.Rules.RequiredMetadata = def.RequiredMetadata
	}
	if c.Evaluator.Kind == "" {
		c.Evaluator.Kind = "heuristic"
	}
	if c.Evaluator.Retry.Attempts == 0 {
		c.Evaluator.Retry.Attempts = 3
	}
	if c.Evaluator.Retry.Delay == 0 {
		c.Evaluator.Retry.Delay = 2 * time.Second
	}
	if c.Evaluator.HTTP.Token == "" {
		c.Evaluator.HTTP.Token = os.Getenv("CODEBUNDLE_SCORE_LLM_TOKEN")
	}
	if c.Evaluator.HTTP.URL == "" {
		c.Evaluator.HTTP.URL = os.Getenv("CODEBUNDLE_SCORE_LLM_URL")
	}
	if c.Evaluator.Amp.Binary == "" {
		c.Evaluator.Amp.Binary = "amp"
	}
	if c.Evaluator.Amp.APIKey == "" {
		c.Evaluator.Amp.APIKey = os.Getenv("AMP_API_KEY")
	}
	if c.Evaluator.Amp.Mode == "" {
		c.Evaluator.Amp.Mode = "rush"
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "json"
	}
	if c.Git.PRBranch == "" {
		c.Git.PRBranch = "auto-task-analysis"
	}
	if c.Git.BaseBranch == "" {
		c.Git.BaseBranch = "main"
	}
	if c.Git.RetryAttempts == 0 {
		c.Git.RetryAttempts = 3
	}
	if c.Git.RetryDelay == 0 {
		c.Git.RetryDelay = 2 * time.Second
	}
	if c.Output.Report == "" {
		c.Output.Report = "task_analysis.json"
	}
	if c.Output.References == "" {
		c.Output.References = "reference_scores.json"
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the cross-field rules the struct
// tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return clierr.Newf(clierr.InvalidConfig, "invalid config: %s", strings.Join(fields, ", ")).
				WithDetails(map[string]any{"fields": fields})
		}
		return clierr.Wrap(clierr.InvalidConfig, err, "validate config")
	}
	if c.Evaluator.Kind == "http" && c.Evaluator.HTTP.URL == "" {
		return clierr.New(clierr.InvalidConfig, "evaluator.http.url is required for the http evaluator")
	}
	if c.Cache.Backend == "mysql" && c.Cache.MySQL.DSN == "" {
		return clierr.New(clierr.InvalidConfig, "cache.mysql.dsn is required for the mysql backend")
	}
	return nil
}

// RuleEngineConfig converts to the rule engine's thresholds.
func (c *Config) RuleEngineConfig() rules.Config {
	return rules.Config{
		MinTitleScore:    c.Rules.MinTitleScore,
		MaxTasks:         c.Rules.MaxTasks,
		RequiredMetadata: c.Rules.RequiredMetadata,
	}
}
