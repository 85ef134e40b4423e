package vcs

import (
	"context"
	"strings"

	"codebundle-score/clierr"
	"codebundle-score/logger"
)

// Default commit and pull request text.
const (
	DefaultCommitMessage = "Automated code collection scoring updates"
	DefaultPRTitle       = "Automated Scoring Updates"
	DefaultPRBody        = "Applying suggestions for task titles and access tags."
)

// PublishOptions configures Publish.
type PublishOptions struct {
	Branch     string
	BaseBranch string
	// Paths to stage; empty stages the whole working tree.
	Paths   []string
	Message string
	OpenPR  bool
	Title   string
	Body    string
}

// PublishResult describes what Publish did.
type PublishResult struct {
	Branch    string `json:"branch"`
	Committed bool   `json:"committed"`
	PRURL     string `json:"pr_url,omitempty"`
}

// Publisher commits scoring updates to a branch and optionally opens a
// pull request.
type Publisher struct {
	client *Client
	log    logger.Logger
}

// NewPublisher creates a publisher on c's working tree.
func NewPublisher(c *Client, log logger.Logger) *Publisher {
	return &Publisher{client: c, log: log}
}

// Publish switches to (or creates) opts.Branch, commits the staged paths,
// pushes and optionally opens a pull request against opts.BaseBranch. The
// branch switch happens even without OpenPR, so the checked-out branch is
// never pushed to directly. A clean working tree is not an error: nothing
// is committed or opened.
func (p *Publisher) Publish(ctx context.Context, opts PublishOptions) (*PublishResult, error) {
	if opts.Message == "" {
		opts.Message = DefaultCommitMessage
	}
	if opts.Title == "" {
		opts.Title = DefaultPRTitle
	}
	if opts.Body == "" {
		opts.Body = DefaultPRBody
	}
	res := &PublishResult{Branch: opts.Branch}
	c := p.client

	dirty, err := c.HasChanges(ctx)
	if err != nil {
		return nil, collaborator(err, "inspect working tree")
	}
	if !dirty {
		p.log.Info("vcs.publish.nothing_to_commit", logger.String("branch", opts.Branch))
		return res, nil
	}

	if c.BranchExists(ctx, opts.Branch) {
		err = c.Checkout(ctx, opts.Branch)
	} else {
		err = c.CreateBranch(ctx, opts.Branch)
	}
	if err != nil {
		return nil, collaborator(err, "switch to branch "+opts.Branch)
	}

	paths := opts.Paths
	if len(paths) == 0 {
		paths = []string{"."}
	}
	if err := c.Add(ctx, paths...); err != nil {
		return nil, collaborator(err, "stage changes")
	}
	if err := c.Commit(ctx, opts.Message); err != nil {
		return nil, collaborator(err, "commit changes")
	}
	res.Committed = true
	if err := c.PushWithUpstream(ctx, "origin", opts.Branch); err != nil {
		return res, collaborator(err, "push "+opts.Branch)
	}
	p.log.Info("vcs.publish.pushed", logger.String("branch", opts.Branch), logger.Int("paths", len(paths)))

	if !opts.OpenPR {
		return res, nil
	}
	url, err := c.CreatePR(ctx, opts.Title, opts.Body, opts.BaseBranch, opts.Branch)
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			p.log.Warn("vcs.publish.pr_exists", logger.String("branch", opts.Branch))
			return res, nil
		}
		return res, collaborator(err, "open pull request")
	}
	res.PRURL = url
	p.log.Info("vcs.publish.pr_opened", logger.String("url", url), logger.String("base", opts.BaseBranch))
	return res, nil
}

func collaborator(err error, msg string) error {
	return clierr.Wrap(clierr.CollaboratorError, err, msg)
}
