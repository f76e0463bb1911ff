package gitx

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/wreckit-dev/wreckit/internal/config"
	"github.com/wreckit-dev/wreckit/internal/werr"
)

// PRInfo identifies an opened pull request.
type PRInfo struct {
	URL    string
	Number int
}

// PR states reported by gh.
const (
	PRStateOpen   = "OPEN"
	PRStateMerged = "MERGED"
	PRStateClosed = "CLOSED"
)

// OpenPR opens a pull request for branch against base via gh. A missing gh
// binary fails with PRToolMissing.
func (c *Client) OpenPR(ctx context.Context, branch, base, title, body string) (*PRInfo, error) {
	if _, err := c.lookPath(c.ghBin); err != nil {
		return nil, werr.Wrap(werr.KindGit, err, "gh is required to open pull requests").
			WithSub(werr.SubPRToolMissing)
	}

	out, err := c.gh(ctx, "pr", "create",
		"--head", branch,
		"--base", base,
		"--title", title,
		"--body", body)
	if err != nil {
		return nil, werr.Wrap(werr.KindGit, err, "opening pull request for %s", branch)
	}

	// gh prints the PR URL on the last line.
	url := lastLine(out)
	number, err := prNumberFromURL(url)
	if err != nil {
		return nil, werr.Wrap(werr.KindGit, err, "parsing gh output %q", url)
	}
	return &PRInfo{URL: url, Number: number}, nil
}

// PRState returns the gh-reported state of a pull request.
func (c *Client) PRState(ctx context.Context, number int) (string, error) {
	if _, err := c.lookPath(c.ghBin); err != nil {
		return "", werr.Wrap(werr.KindGit, err, "gh is required to query pull requests").
			WithSub(werr.SubPRToolMissing)
	}
	out, err := c.gh(ctx, "pr", "view", strconv.Itoa(number), "--json", "state")
	if err != nil {
		return "", werr.Wrap(werr.KindGit, err, "querying pull request #%d", number)
	}
	var view struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		return "", werr.Wrap(werr.KindGit, err, "decoding gh output")
	}
	return view.State, nil
}

// DirectMerge fast-forwards base from branch locally and pushes it. Both
// the config grant and the remote pattern gate must pass; everything else
// is DirectMergeNotAllowed before any ref moves. Uncommitted changes are
// stashed for the duration and restored afterwards.
func (c *Client) DirectMerge(ctx context.Context, branch, base string, cfg *config.Config) (err error) {
	if !cfg.AllowUnsafeDirectMerge {
		return werr.New(werr.KindGit, "direct merge requires allow_unsafe_direct_merge").
			WithSub(werr.SubDirectMergeNotAllowed)
	}
	remote, err := c.RemoteURL(ctx)
	if err != nil {
		return err
	}
	if !remoteAllowed(remote, cfg.AllowedRemotePatterns) {
		return werr.Newf(werr.KindGit, "remote %s matches no allowed_remote_patterns entry", remote).
			WithSub(werr.SubDirectMergeNotAllowed)
	}

	restore, err := c.EnsureClean(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := restore(); err == nil {
			err = rerr
		}
	}()

	if _, err := c.git(ctx, commandTimeout, "checkout", base); err != nil {
		return werr.Wrap(werr.KindGit, err, "checking out %s", base)
	}
	if _, err := c.git(ctx, commandTimeout, "merge", "--ff-only", branch); err != nil {
		// Leave the tree where it was before the merge attempt.
		if _, coErr := c.git(ctx, commandTimeout, "checkout", branch); coErr != nil {
			c.log.Warn("could not return to branch after failed merge", "branch", branch, "err", coErr)
		}
		return werr.Wrap(werr.KindGit, err, "fast-forward merge of %s into %s", branch, base)
	}
	if err := c.PushBranch(ctx, base); err != nil {
		return err
	}
	return nil
}

// remoteAllowed reports whether url matches any of the shell-glob patterns.
func remoteAllowed(url string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, url); err == nil && ok {
			return true
		}
	}
	return false
}

// CleanupBranch deletes the item branch per policy. Cleanup failures are
// warnings only; an item that already merged must never fail on tidy-up.
func (c *Client) CleanupBranch(ctx context.Context, branch, base string, policy config.BranchCleanup) {
	if !policy.DeleteLocal && !policy.DeleteRemote {
		return
	}

	current, err := c.CurrentBranch(ctx)
	if err == nil && current == branch {
		if _, err := c.git(ctx, commandTimeout, "checkout", base); err != nil {
			c.log.Warn("could not leave branch before cleanup", "branch", branch, "err", err)
			return
		}
	}

	if policy.DeleteLocal {
		if _, err := c.git(ctx, commandTimeout, "branch", "-D", branch); err != nil {
			c.log.Warn("local branch cleanup failed", "branch", branch, "err", err)
		}
	}
	if policy.DeleteRemote {
		if _, err := c.git(ctx, c.netTimeout, "push", "origin", "--delete", branch); err != nil {
			c.log.Warn("remote branch cleanup failed", "branch", branch, "err", err)
		}
	}
}

// gh runs one gh command in the repository.
func (c *Client) gh(ctx context.Context, args ...string) (string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.netTimeout)
	defer cancel()

	stdout, stderr, code, err := c.run(timeoutCtx, c.workDir, c.ghBin, args...)
	if err != nil {
		if code == -1 {
			return "", err
		}
		return "", werr.Newf(werr.KindGit, "gh exited %d: %s", code, strings.TrimSpace(stderr))
	}
	return stdout, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// prNumberFromURL extracts the trailing number from a PR URL like
// https://github.com/org/repo/pull/42.
func prNumberFromURL(url string) (int, error) {
	idx := strings.LastIndexByte(url, '/')
	if idx < 0 || idx == len(url)-1 {
		return 0, werr.Newf(werr.KindGit, "no pull request number in %q", url)
	}
	return strconv.Atoi(url[idx+1:])
}
