package gitx

import (
	"context"
	"strings"

	"github.com/wreckit-dev/wreckit/internal/werr"
)

// Stash stashes uncommitted changes, untracked files included. Returns
// false when there was nothing to stash, so callers never pop a stash they
// did not create.
func (c *Client) Stash(ctx context.Context, message string) (bool, error) {
	dirty, err := c.HasUncommittedChanges(ctx)
	if err != nil {
		return false, err
	}
	if !dirty {
		return false, nil
	}
	out, err := c.git(ctx, commandTimeout, "stash", "push", "-u", "-m", message)
	if err != nil {
		return false, werr.Wrap(werr.KindGit, err, "stashing changes")
	}
	if strings.Contains(out, "No local changes to save") {
		return false, nil
	}
	return true, nil
}

// StashPop restores the most recent stash entry.
func (c *Client) StashPop(ctx context.Context) error {
	if _, err := c.git(ctx, commandTimeout, "stash", "pop"); err != nil {
		return werr.Wrap(werr.KindGit, err, "restoring stash")
	}
	return nil
}

// EnsureClean stashes a dirty working tree and returns a restore function.
// The caller always invokes restore, typically via defer; a restore failure
// means the tree is left in an unexpected state and maps to
// WorkingTreeDirty so the phase fails loudly instead of silently losing
// work.
func (c *Client) EnsureClean(ctx context.Context) (restore func() error, err error) {
	stashed, err := c.Stash(ctx, "wreckit: auto-stash")
	if err != nil {
		return nil, err
	}
	if !stashed {
		return func() error { return nil }, nil
	}
	return func() error {
		if popErr := c.StashPop(ctx); popErr != nil {
			return werr.Wrap(werr.KindGit, popErr, "working tree left with stashed changes").
				WithSub(werr.SubWorkingTreeDirty)
		}
		return nil
	}, nil
}

// RequireClean fails with WorkingTreeDirty when the tree has uncommitted
// changes. Used by phases that must not start on top of unrelated edits.
func (c *Client) RequireClean(ctx context.Context) error {
	dirty, err := c.HasUncommittedChanges(ctx)
	if err != nil {
		return err
	}
	if dirty {
		return werr.New(werr.KindGit, "working tree has uncommitted changes").
			WithSub(werr.SubWorkingTreeDirty)
	}
	return nil
}
