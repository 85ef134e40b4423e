package vcs

import (
	"context"
	"fmt"
	"os"

	"codebundle-score/clierr"
	"codebundle-score/logger"
)

// Clone makes a shallow clone of branch from repoURL into a fresh temporary
// directory. The returned cleanup removes it.
func Clone(ctx context.Context, commander Commander, repoURL, branch string, log logger.Logger) (string, func(), error) {
	dir, err := os.MkdirTemp("", "codebundle-score-clone-")
	if err != nil {
		return "", nil, fmt.Errorf("create clone dir: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn("vcs.clone.cleanup_failed", logger.String("dir", dir), logger.Err(err))
		}
	}

	log.Info("vcs.cloning", logger.String("repo", repoURL), logger.String("branch", branch))
	c := NewClient("", commander, log)
	if _, err := c.network(ctx, "", "git", "clone", "--depth=1", "--branch", branch, repoURL, dir); err != nil {
		cleanup()
		return "", nil, clierr.Wrap(clierr.CollaboratorError, err, "clone "+repoURL)
	}
	return dir, cleanup, nil
}
