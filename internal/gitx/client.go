// Package gitx wraps the git and gh command lines for the item branch
// lifecycle. All methods shell out, following the same pattern as gh,
// lazygit, and k9s; no libgit bindings.
package gitx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/wreckit-dev/wreckit/internal/logging"
	"github.com/wreckit-dev/wreckit/internal/werr"
)

// commandTimeout bounds any single git or gh invocation. Network commands
// (fetch, push, pr create) get networkTimeout.
const (
	commandTimeout = 30 * time.Second
	networkTimeout = 2 * time.Minute
)

// ErrNoChanges is returned by CommitAll when the working tree has nothing
// to commit.
var ErrNoChanges = errors.New("gitx: no changes to commit")

// runFunc executes one external command. Swappable in tests.
type runFunc func(ctx context.Context, dir, bin string, args ...string) (stdout, stderr string, exitCode int, err error)

// Client runs git operations in one repository working directory.
type Client struct {
	workDir string
	gitBin  string
	ghBin   string
	log     *log.Logger

	run        runFunc
	lookPath   func(string) (string, error)
	netTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithGitBin overrides the git binary path.
func WithGitBin(bin string) Option {
	return func(c *Client) { c.gitBin = bin }
}

// withRunner substitutes the command runner in tests.
func withRunner(run runFunc) Option {
	return func(c *Client) { c.run = run }
}

// withLookPath substitutes binary lookup in tests.
func withLookPath(fn func(string) (string, error)) Option {
	return func(c *Client) { c.lookPath = fn }
}

// NewClient creates a client rooted at workDir and verifies that the
// directory is inside a git repository.
func NewClient(workDir string, opts ...Option) (*Client, error) {
	c := &Client{
		workDir:    workDir,
		gitBin:     "git",
		ghBin:      "gh",
		log:        logging.New("git"),
		run:        runCommand,
		lookPath:   exec.LookPath,
		netTimeout: networkTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if _, err := c.git(context.Background(), commandTimeout, "rev-parse", "--git-dir"); err != nil {
		return nil, werr.Wrap(werr.KindGit, err, "%s is not a git repository", workDir)
	}
	return c, nil
}

// CurrentBranch returns the checked-out branch name. Detached HEAD is an
// error.
func (c *Client) CurrentBranch(ctx context.Context) (string, error) {
	out, err := c.git(ctx, commandTimeout, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", werr.Wrap(werr.KindGit, err, "reading current branch")
	}
	branch := strings.TrimSpace(out)
	if branch == "HEAD" {
		return "", werr.New(werr.KindGit, "repository is in detached HEAD state")
	}
	return branch, nil
}

// BranchExists reports whether the named local branch exists.
func (c *Client) BranchExists(ctx context.Context, branch string) (bool, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	stdout, _, code, err := c.run(timeoutCtx, c.workDir, c.gitBin, "rev-parse", "--verify", "refs/heads/"+branch)
	if err != nil && code == -1 {
		return false, werr.Wrap(werr.KindGit, err, "checking branch %s", branch)
	}
	return code == 0 && strings.TrimSpace(stdout) != "", nil
}

// remoteBranchExists reports whether origin/<branch> exists locally after a
// fetch.
func (c *Client) remoteBranchExists(ctx context.Context, branch string) bool {
	timeoutCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	stdout, _, code, _ := c.run(timeoutCtx, c.workDir, c.gitBin,
		"rev-parse", "--verify", "refs/remotes/origin/"+branch)
	return code == 0 && strings.TrimSpace(stdout) != ""
}

// HasRemote reports whether the repository has an origin remote.
func (c *Client) HasRemote(ctx context.Context) bool {
	_, err := c.RemoteURL(ctx)
	return err == nil
}

// RemoteURL returns the origin remote URL.
func (c *Client) RemoteURL(ctx context.Context) (string, error) {
	out, err := c.git(ctx, commandTimeout, "remote", "get-url", "origin")
	if err != nil {
		return "", werr.Wrap(werr.KindGit, err, "reading origin url")
	}
	return strings.TrimSpace(out), nil
}

// HasUncommittedChanges reports whether the working tree is dirty,
// including untracked files.
func (c *Client) HasUncommittedChanges(ctx context.Context) (bool, error) {
	out, err := c.git(ctx, commandTimeout, "status", "--porcelain")
	if err != nil {
		return false, werr.Wrap(werr.KindGit, err, "reading status")
	}
	return strings.TrimSpace(out) != "", nil
}

// EnsureBranch puts the working tree on the item's branch: fast-forward
// the base from origin, then create the branch off base, check out the
// existing local branch, or track the remote one.
func (c *Client) EnsureBranch(ctx context.Context, branch, base string) error {
	if c.HasRemote(ctx) {
		if _, err := c.git(ctx, c.netTimeout, "fetch", "origin"); err != nil {
			c.log.Warn("fetch failed, using local refs", "err", err)
		}
	}

	current, err := c.CurrentBranch(ctx)
	if err != nil {
		return err
	}
	if current == branch {
		return nil
	}

	if current != base {
		if _, err := c.git(ctx, commandTimeout, "checkout", base); err != nil {
			return werr.Wrap(werr.KindGit, err, "checking out %s", base)
		}
	}
	if c.remoteBranchExists(ctx, base) {
		if _, err := c.git(ctx, commandTimeout, "merge", "--ff-only", "origin/"+base); err != nil {
			return werr.Wrap(werr.KindGit, err, "fast-forwarding %s", base)
		}
	}

	exists, err := c.BranchExists(ctx, branch)
	if err != nil {
		return err
	}
	switch {
	case exists:
		_, err = c.git(ctx, commandTimeout, "checkout", branch)
	case c.remoteBranchExists(ctx, branch):
		_, err = c.git(ctx, commandTimeout, "checkout", "--track", "origin/"+branch)
	default:
		_, err = c.git(ctx, commandTimeout, "checkout", "-b", branch, base)
	}
	if err != nil {
		return werr.Wrap(werr.KindGit, err, "switching to branch %s", branch)
	}
	return nil
}

// CommitAll stages everything and commits. Returns ErrNoChanges when the
// tree is clean; author and signoff come from the repository's git config.
func (c *Client) CommitAll(ctx context.Context, message string) error {
	dirty, err := c.HasUncommittedChanges(ctx)
	if err != nil {
		return err
	}
	if !dirty {
		return ErrNoChanges
	}
	if _, err := c.git(ctx, commandTimeout, "add", "-A"); err != nil {
		return werr.Wrap(werr.KindGit, err, "staging changes")
	}
	if _, err := c.git(ctx, commandTimeout, "commit", "-m", message); err != nil {
		return werr.Wrap(werr.KindGit, err, "committing")
	}
	return nil
}

// DiffersFrom reports whether HEAD carries commits that base does not.
func (c *Client) DiffersFrom(ctx context.Context, base string) (bool, error) {
	out, err := c.git(ctx, commandTimeout, "rev-list", "--count", base+"..HEAD")
	if err != nil {
		return false, werr.Wrap(werr.KindGit, err, "comparing against %s", base)
	}
	return strings.TrimSpace(out) != "0", nil
}

// HeadCommit returns the short SHA of HEAD.
func (c *Client) HeadCommit(ctx context.Context) (string, error) {
	out, err := c.git(ctx, commandTimeout, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", werr.Wrap(werr.KindGit, err, "reading HEAD")
	}
	return strings.TrimSpace(out), nil
}

// PushBranch pushes the branch to origin with upstream tracking. A
// non-fast-forward rejection maps to PushRejected.
func (c *Client) PushBranch(ctx context.Context, branch string) error {
	out, err := c.git(ctx, c.netTimeout, "push", "-u", "origin", branch)
	if err != nil {
		if isPushRejection(err.Error() + out) {
			return werr.Wrap(werr.KindGit, err, "push of %s rejected", branch).
				WithSub(werr.SubPushRejected)
		}
		return werr.Wrap(werr.KindGit, err, "pushing %s", branch)
	}
	return nil
}

func isPushRejection(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "non-fast-forward") ||
		strings.Contains(lower, "fetch first") ||
		strings.Contains(lower, "[rejected]") ||
		strings.Contains(lower, "rejected")
}

// git runs one git command and returns stdout (or stderr for commands like
// checkout that report on stderr even on success).
func (c *Client) git(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, stderr, code, err := c.run(timeoutCtx, c.workDir, c.gitBin, args...)
	if err != nil {
		if code == -1 {
			return "", err
		}
		return "", fmt.Errorf("exit status %d: %s", code, strings.TrimSpace(stderr))
	}
	if stdout == "" && stderr != "" {
		return stderr, nil
	}
	return stdout, nil
}

// runCommand is the production runFunc.
func runCommand(ctx context.Context, dir, bin string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	runErr := cmd.Run()
	stdout := stdoutBuf.String()
	stderr := stderrBuf.String()

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return stdout, stderr, exitErr.ExitCode(), runErr
		}
		return "", "", -1, runErr
	}
	return stdout, stderr, 0, nil
}
