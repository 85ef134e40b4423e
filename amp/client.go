// Package amp drives the Amp CLI non-interactively. Title evaluation runs
// the agent with every tool rejected, so it can only answer in text.
package amp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"

	"codebundle-score/logger"
)

// ExecuteOption configures an Amp CLI invocation.
type ExecuteOption struct {
	WorkDir     string   // working directory of the amp process
	Mode        string   // agent mode: smart / rush / deep
	Permissions []string // permission rules written to a settings file
	Labels      []string // thread labels
}

// ExecuteResult holds the outcome of a single Amp execution.
type ExecuteResult struct {
	SessionID  string
	Result     string
	Error      string
	IsError    bool
	DurationMs int64
	NumTurns   int
	Usage      *Usage
}

// Client wraps the Amp CLI for programmatic invocation.
type Client struct {
	binary string
	apiKey string
	log    logger.Logger
}

// NewClient creates an Amp CLI client.
func NewClient(binary, apiKey string, log logger.Logger) *Client {
	if binary == "" {
		binary = "amp"
	}
	return &Client{binary: binary, apiKey: apiKey, log: log}
}

// Execute runs prompt through `amp --execute --stream-json` and returns the
// final result message.
func (c *Client) Execute(ctx context.Context, prompt string, opt ExecuteOption) (*ExecuteResult, error) {
	var settingsPath string
	if len(opt.Permissions) > 0 {
		var err error
		settingsPath, err = writeSettingsFile(opt.Permissions)
		if err != nil {
			return nil, fmt.Errorf("write settings file: %w", err)
		}
		defer os.Remove(settingsPath)
	}

	args := buildArgs(prompt, opt, settingsPath)
	c.log.Debug("amp.execute",
		logger.String("binary", c.binary),
		logger.String("mode", opt.Mode),
		logger.Int("prompt_len", len(prompt)),
	)

	cmd := exec.CommandContext(ctx, c.binary, args...)
	if opt.WorkDir != "" {
		cmd.Dir = opt.WorkDir
	}
	if c.apiKey != "" {
		cmd.Env = append(cmd.Environ(), "AMP_API_KEY="+c.apiKey)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start amp: %w", err)
	}

	result, scanErr := ReadStream(stdout, c.log)
	if scanErr != nil {
		_ = cmd.Process.Kill()
	}
	waitErr := cmd.Wait()

	switch {
	case ctx.Err() != nil:
		return result, fmt.Errorf("amp execution cancelled: %w", ctx.Err())
	case scanErr != nil && result.Result == "" && result.Error == "":
		return result, fmt.Errorf("amp stream: %w", scanErr)
	case waitErr != nil:
		return result, fmt.Errorf("amp exited with error: %w", waitErr)
	}
	return result, nil
}

// ReadStream consumes NDJSON stream messages until EOF and collects the
// session id and the final result.
func ReadStream(r io.Reader, log logger.Logger) (*ExecuteResult, error) {
	result := &ExecuteResult{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg StreamMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			log.Warn("amp.parse_error", logger.String("line", truncate(string(line), 200)), logger.Err(err))
			continue
		}
		switch msg.Type {
		case "system":
			if msg.Subtype == "init" {
				result.SessionID = msg.SessionID
			}
		case "result":
			result.IsError = msg.IsError
			result.DurationMs = msg.DurationMs
			result.NumTurns = msg.NumTurns
			result.Usage = msg.Usage
			if msg.IsError {
				result.Error = msg.Error
			} else {
				result.Result = msg.Result
			}
		}
	}
	return result, scanner.Err()
}

func buildArgs(prompt string, opt ExecuteOption, settingsPath string) []string {
	args := []string{"--execute", prompt, "--stream-json"}
	if settingsPath != "" {
		args = append(args, "--settings-file", settingsPath)
	}
	if opt.Mode != "" {
		args = append(args, "--mode", opt.Mode)
	}
	for _, label := range opt.Labels {
		args = append(args, "--label", label)
	}
	return args
}

func writeSettingsFile(permissions []string) (string, error) {
	rules := make([]map[string]any, 0, len(permissions))
	for _, perm := range permissions {
		rules = append(rules, map[string]any{"rule": perm})
	}

	f, err := os.CreateTemp("", "codebundle-score-amp-*.json")
	if err != nil {
		return "", err
	}
	if err := json.NewEncoder(f).Encode(map[string]any{"amp.permissions": rules}); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	f.Close()
	return f.Name(), nil
}

func truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "..."
}
