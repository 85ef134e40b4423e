// Package vcs drives git and the gh CLI: selecting changed files between
// two revisions, cloning a remote branch and publishing fixes as a commit
// and pull request. Commands shell out so the user's SSH keys, signing
// config and gh auth apply unchanged.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"codebundle-score/logger"
)

var (
	ErrGhNotInstalled = errors.New("gh CLI is not installed or not in PATH")
	ErrBranchExists   = errors.New("branch already exists")
)

// Commander executes external commands. Tests substitute a recorder.
type Commander interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
	RunInDir(ctx context.Context, dir, name string, args ...string) (string, error)
}

// ShellCommander executes real commands.
type ShellCommander struct {
	// Env is appended to the process environment of every command.
	Env []string
}

// NewShellCommander returns a commander that uses sshKey (when set) for git
// transport.
func NewShellCommander(sshKey string) *ShellCommander {
	c := &ShellCommander{}
	if sshKey != "" {
		// Single-quote the key path so spaces survive; embedded quotes are
		// escaped to keep the value a single shell word.
		escaped := strings.ReplaceAll(sshKey, "'", "'\"'\"'")
		c.Env = append(c.Env, fmt.Sprintf("GIT_SSH_COMMAND=ssh -i '%s' -o StrictHostKeyChecking=no", escaped))
	}
	return c
}

func (c *ShellCommander) Run(ctx context.Context, name string, args ...string) (string, error) {
	return c.RunInDir(ctx, "", name, args...)
}

func (c *ShellCommander) RunInDir(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%w: %s", err, msg)
		}
		return "", err
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Client wraps the git and gh operations of one working tree.
type Client struct {
	commander Commander
	workDir   string
	log       logger.Logger

	// Network operations (fetch, clone, push, pr create) are retried this
	// many times with a linearly growing delay.
	attempts int
	delay    time.Duration
}

// NewClient creates a client for workDir.
func NewClient(workDir string, commander Commander, log logger.Logger) *Client {
	return &Client{commander: commander, workDir: workDir, log: log, attempts: 3, delay: 2 * time.Second}
}

// WithRetry overrides the retry policy for network operations.
func (c *Client) WithRetry(attempts int, delay time.Duration) *Client {
	if attempts < 1 {
		attempts = 1
	}
	c.attempts, c.delay = attempts, delay
	return c
}

// WorkDir returns the working tree the client operates on.
func (c *Client) WorkDir() string { return c.workDir }

func (c *Client) git(ctx context.Context, args ...string) (string, error) {
	out, err := c.commander.RunInDir(ctx, c.workDir, "git", args...)
	if err != nil {
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return out, nil
}

// network runs a git or gh command that talks to a remote, retrying
// failures that are not caused by cancellation.
func (c *Client) network(ctx context.Context, dir, name string, args ...string) (string, error) {
	var lastErr error
	for i := 0; i < c.attempts; i++ {
		if i > 0 {
			wait := time.Duration(i) * c.delay
			c.log.Warn("vcs.retry",
				logger.String("command", name+" "+args[0]),
				logger.Int("attempt", i+1),
				logger.Duration("backoff", wait),
				logger.Err(lastErr),
			)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}
		out, err := c.commander.RunInDir(ctx, dir, name, args...)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil || permanent(err) {
			break
		}
	}
	return "", fmt.Errorf("%s %s: %w", name, args[0], lastErr)
}

// RevParse resolves rev to a full commit hash.
func (c *Client) RevParse(ctx context.Context, rev string) (string, error) {
	return c.git(ctx, "rev-parse", "--verify", rev+"^{commit}")
}

// Fetch fetches refs from remote.
func (c *Client) Fetch(ctx context.Context, remote string, refs ...string) error {
	_, err := c.network(ctx, c.workDir, "git", append([]string{"fetch", remote}, refs...)...)
	return err
}

// DiffNames lists paths changed between base and head, relative to the
// working directory.
func (c *Client) DiffNames(ctx context.Context, base, head string) ([]string, error) {
	out, err := c.git(ctx, "diff", "--name-only", "--relative", base, head)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// HasChanges reports whether the working tree has uncommitted changes.
func (c *Client) HasChanges(ctx context.Context) (bool, error) {
	out, err := c.git(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// BranchExists checks if a branch exists locally.
func (c *Client) BranchExists(ctx context.Context, name string) bool {
	_, err := c.git(ctx, "rev-parse", "--verify", name)
	return err == nil
}

// Checkout switches to an existing branch.
func (c *Client) Checkout(ctx context.Context, branch string) error {
	if _, err := c.git(ctx, "checkout", branch); err != nil {
		return fmt.Errorf("checkout %s: %w", branch, err)
	}
	return nil
}

// CreateBranch creates and checks out a new branch.
func (c *Client) CreateBranch(ctx context.Context, name string) error {
	if _, err := c.git(ctx, "checkout", "-b", name); err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return ErrBranchExists
		}
		return fmt.Errorf("create branch %s: %w", name, err)
	}
	return nil
}

// Add stages paths.
func (c *Client) Add(ctx context.Context, paths ...string) error {
	if _, err := c.git(ctx, append([]string{"add", "--"}, paths...)...); err != nil {
		return fmt.Errorf("add files: %w", err)
	}
	return nil
}

// Commit records staged changes.
func (c *Client) Commit(ctx context.Context, message string) error {
	if _, err := c.git(ctx, "commit", "-m", message); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// PushWithUpstream pushes branch and sets upstream tracking.
func (c *Client) PushWithUpstream(ctx context.Context, remote, branch string) error {
	if _, err := c.network(ctx, c.workDir, "git", "push", "-u", remote, branch); err != nil {
		return fmt.Errorf("push %s/%s: %w", remote, branch, err)
	}
	return nil
}

// IsGhInstalled checks if the gh CLI is available.
func (c *Client) IsGhInstalled(ctx context.Context) bool {
	_, err := c.commander.Run(ctx, "gh", "--version")
	return err == nil
}

// CreatePR opens a pull request with gh and returns its URL.
func (c *Client) CreatePR(ctx context.Context, title, body, base, head string) (string, error) {
	if !c.IsGhInstalled(ctx) {
		return "", ErrGhNotInstalled
	}
	out, err := c.network(ctx, c.workDir, "gh", "pr", "create",
		"--base", base,
		"--head", head,
		"--title", title,
		"--body", body,
	)
	if err != nil {
		return "", fmt.Errorf("create PR: %w", err)
	}
	return out, nil
}

// permanent reports failures a retry cannot fix.
func permanent(err error) bool {
	if errors.Is(err, exec.ErrNotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"already exists", "authentication failed", "permission denied", "could not read username", "not found"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
