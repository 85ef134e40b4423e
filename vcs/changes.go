package vcs

import (
	"context"
	"path"
	"path/filepath"

	"github.com/spf13/afero"

	"codebundle-score/clierr"
	"codebundle-score/codebundle"
	"codebundle-score/logger"
)

// ChangedFiles returns the *.robot files changed between base and head that
// still exist in the working tree, as slash-separated paths relative to it.
// Identical revisions yield an empty set without diffing.
func ChangedFiles(ctx context.Context, c *Client, fsys afero.Fs, base, head string) ([]string, error) {
	if err := c.Fetch(ctx, "origin", base, head); err != nil {
		// Shallow CI checkouts often have both revisions already.
		c.log.Warn("vcs.fetch_failed", logger.String("base", base), logger.String("head", head), logger.Err(err))
	}

	baseSHA, err := c.RevParse(ctx, base)
	if err != nil {
		return nil, clierr.Wrap(clierr.CollaboratorError, err, "resolve base revision "+base)
	}
	headSHA, err := c.RevParse(ctx, head)
	if err != nil {
		return nil, clierr.Wrap(clierr.CollaboratorError, err, "resolve head revision "+head)
	}
	if baseSHA == headSHA {
		c.log.Info("vcs.changes.same_revision", logger.String("sha", headSHA))
		return []string{}, nil
	}

	names, err := c.DiffNames(ctx, baseSHA, headSHA)
	if err != nil {
		return nil, clierr.Wrap(clierr.CollaboratorError, err, "list changed files")
	}

	files := []string{}
	for _, name := range names {
		if !codebundle.IsRobotFile(name) {
			continue
		}
		if ok, _ := afero.Exists(fsys, filepath.Join(c.workDir, filepath.FromSlash(name))); !ok {
			// Deleted in head.
			continue
		}
		files = append(files, path.Clean(filepath.ToSlash(name)))
	}
	c.log.Info("vcs.changes.selected",
		logger.String("base", baseSHA),
		logger.String("head", headSHA),
		logger.Int("changed", len(names)),
		logger.Int("robot_files", len(files)),
	)
	return files, nil
}
