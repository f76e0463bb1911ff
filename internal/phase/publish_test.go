package phase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wreckit-dev/wreckit/internal/agent"
	"github.com/wreckit-dev/wreckit/internal/config"
	"github.com/wreckit-dev/wreckit/internal/gitx"
	"github.com/wreckit-dev/wreckit/internal/item"
	"github.com/wreckit-dev/wreckit/internal/mcp"
	"github.com/wreckit-dev/wreckit/internal/werr"
)

// seedImplemented puts an item at the implemented state with a branch and a
// finished story list.
func seedImplemented(t *testing.T, env *testEnv) string {
	t.Helper()
	id := env.seedItem(t, item.StateImplemented)
	env.seedPRD(t, id, true)
	_, err := env.store.Mutate(id, func(it *item.Item) error {
		it.Branch = item.BranchName(env.cfg.BranchPrefix, id)
		return nil
	})
	require.NoError(t, err)
	return id
}

func TestRunPROpensPullRequest(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	id := seedImplemented(t, env)

	env.mock.RunFunc = func(ctx context.Context, spec *config.AgentSpec, run agent.RunSpec) (*agent.Result, error) {
		assert.Nil(t, run.Tools, "pr phase exposes no mcp tools")
		return &agent.Result{Success: true, Output: "## Summary\n\nAdds the limiter."}, nil
	}

	outcome, err := env.runner.Run(context.Background(), id, item.PhasePR)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, outcome)

	it := env.readItem(t, id)
	assert.Equal(t, item.StateInPR, it.State)
	assert.Equal(t, "https://github.com/acme/repo/pull/7", it.PRURL)
	assert.Equal(t, 7, it.PRNumber)

	body, err := env.store.ReadArtifact(id, item.PRFile)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Adds the limiter.")

	calls := env.git.recorded()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "open_pr "+it.Branch+" main Add rate limiter")
}

func TestRunPRChecksGateThePR(t *testing.T) {
	t.Parallel()
	var ran []string
	env := newTestEnv(t, withCheckRunner(func(ctx context.Context, dir, command string) error {
		ran = append(ran, command)
		if command == "go vet ./..." {
			return werr.Newf(werr.KindGit, "check %q exited 1", command)
		}
		return nil
	}))
	env.cfg.PRChecks = []config.PRCheck{
		{Command: "golangci-lint run"},
		{Command: "go vet ./..."},
	}
	id := seedImplemented(t, env)

	env.mock.RunFunc = func(ctx context.Context, spec *config.AgentSpec, run agent.RunSpec) (*agent.Result, error) {
		return &agent.Result{Success: true, Output: "body"}, nil
	}

	outcome, err := env.runner.Run(context.Background(), id, item.PhasePR)
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, []string{"golangci-lint run", "go vet ./..."}, ran)

	// A failed check keeps the item retryable at implemented.
	assert.Equal(t, item.StateImplemented, env.readItem(t, id).State)
	for _, call := range env.git.recorded() {
		assert.NotContains(t, call, "open_pr")
	}
}

func TestRunPRCheckAllowFailure(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, withCheckRunner(func(ctx context.Context, dir, command string) error {
		return werr.Newf(werr.KindGit, "flaky")
	}))
	env.cfg.PRChecks = []config.PRCheck{{Command: "flaky-check", AllowFailure: true}}
	id := seedImplemented(t, env)

	env.mock.RunFunc = func(ctx context.Context, spec *config.AgentSpec, run agent.RunSpec) (*agent.Result, error) {
		return &agent.Result{Success: true, Output: "body"}, nil
	}

	outcome, err := env.runner.Run(context.Background(), id, item.PhasePR)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, outcome)
}

func TestRunPRDirectMerge(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.cfg.MergeMode = config.MergeModeDirect
	env.cfg.AllowUnsafeDirectMerge = true
	env.cfg.AllowedRemotePatterns = []string{"git@github.com:acme/*"}
	id := seedImplemented(t, env)

	env.mock.RunFunc = func(ctx context.Context, spec *config.AgentSpec, run agent.RunSpec) (*agent.Result, error) {
		return &agent.Result{Success: true, Output: "body"}, nil
	}

	outcome, err := env.runner.Run(context.Background(), id, item.PhasePR)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, outcome)

	it := env.readItem(t, id)
	assert.Equal(t, item.StateInPR, it.State)
	assert.Zero(t, it.PRNumber, "direct merge records no pr")

	calls := env.git.recorded()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "direct_merge "+it.Branch+" main")
}

func TestRunPRDirectMergeDenied(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.cfg.MergeMode = config.MergeModeDirect
	env.git.errs["direct_merge"] = werr.New(werr.KindGit, "direct merge is not allowed").
		WithSub(werr.SubDirectMergeNotAllowed)
	id := seedImplemented(t, env)

	env.mock.RunFunc = func(ctx context.Context, spec *config.AgentSpec, run agent.RunSpec) (*agent.Result, error) {
		return &agent.Result{Success: true, Output: "body"}, nil
	}

	outcome, err := env.runner.Run(context.Background(), id, item.PhasePR)
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, werr.SubDirectMergeNotAllowed, werr.SubkindOf(err))
	assert.Equal(t, item.StateImplemented, env.readItem(t, id).State)
}

func TestRunPRWithoutBranchFails(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	id := env.seedItem(t, item.StateImplemented)
	env.seedPRD(t, id, true)

	outcome, err := env.runner.Run(context.Background(), id, item.PhasePR)
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, werr.KindState, werr.KindOf(err))
	assert.Equal(t, 0, env.mock.CallCount())
}

// seedInPR puts an item at in_pr with a recorded PR.
func seedInPR(t *testing.T, env *testEnv) string {
	t.Helper()
	id := seedImplemented(t, env)
	_, err := env.store.Mutate(id, func(it *item.Item) error {
		it.State = item.StateInPR
		it.PRURL = "https://github.com/acme/repo/pull/7"
		it.PRNumber = 7
		return nil
	})
	require.NoError(t, err)
	return id
}

func TestRunCompleteAfterMerge(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	id := seedInPR(t, env)

	env.mock.RunFunc = func(ctx context.Context, spec *config.AgentSpec, run agent.RunSpec) (*agent.Result, error) {
		require.NotNil(t, run.Tools)
		_, err := run.Tools.Dispatch(ctx, "call-done", mcp.ToolComplete, nil)
		require.NoError(t, err)
		return &agent.Result{Success: true, Output: "verified"}, nil
	}

	outcome, err := env.runner.Run(context.Background(), id, item.PhaseComplete)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, outcome)

	it := env.readItem(t, id)
	assert.Equal(t, item.StateComplete, it.State)

	calls := env.git.recorded()
	assert.Contains(t, calls, "pr_state 7")
	assert.Contains(t, calls, "cleanup_branch "+it.Branch)
}

func TestRunCompletePRStillOpen(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.git.prState = gitx.PRStateOpen
	id := seedInPR(t, env)

	outcome, err := env.runner.Run(context.Background(), id, item.PhaseComplete)
	require.NoError(t, err, "an open pr parks the item, it is not a failure")
	assert.Equal(t, OutcomeBlocked, outcome)

	it := env.readItem(t, id)
	assert.Equal(t, item.StateInPR, it.State)
	assert.Empty(t, it.LastError)
	assert.Equal(t, 0, it.Retries)
	assert.Equal(t, 0, env.mock.CallCount())
}

func TestRunCompletePRClosedWithoutMerge(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.git.prState = gitx.PRStateClosed
	id := seedInPR(t, env)

	_, err := env.runner.Run(context.Background(), id, item.PhaseComplete)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed without merging")
}

func TestRunCompleteRequiresAcknowledgement(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	id := seedInPR(t, env)

	env.mock.RunFunc = func(ctx context.Context, spec *config.AgentSpec, run agent.RunSpec) (*agent.Result, error) {
		return &agent.Result{Success: true, Output: "something looks off, not acknowledging"}, nil
	}

	outcome, err := env.runner.Run(context.Background(), id, item.PhaseComplete)
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Contains(t, err.Error(), "acknowledge")

	// The merge was already observed, so the item parks at merged.
	assert.Equal(t, item.StateMerged, env.readItem(t, id).State)
}

func TestMockModePipelineEndToEnd(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, WithMock())
	id := env.seedItem(t, item.StateIdea)

	for _, ph := range item.Phases {
		outcome, err := env.runner.Run(context.Background(), id, ph)
		require.NoError(t, err, "phase %s", ph)
		require.Equal(t, OutcomeSucceeded, outcome, "phase %s", ph)
	}

	it := env.readItem(t, id)
	assert.Equal(t, item.StateComplete, it.State)
	assert.NotEmpty(t, it.Branch)
	assert.NotEmpty(t, it.PRURL)

	for _, name := range []string{item.ResearchFile, item.PlanFile, item.PRFile} {
		_, err := env.store.ReadArtifact(id, name)
		assert.NoError(t, err, name)
	}

	stories, err := env.store.Stories(id)
	require.NoError(t, err)
	require.NotEmpty(t, stories)
	assert.True(t, item.AllStoriesDone(stories))

	assert.Zero(t, env.mock.CallCount(), "mock mode never dispatches an agent")

	// Implement still produces a real commit on the item branch, but
	// nothing leaves the local repository.
	calls := env.git.recorded()
	assert.Contains(t, calls, "ensure_branch "+it.Branch+" "+env.cfg.BaseBranch)
	assert.Contains(t, calls, "commit_all Add rate limiter")
	for _, call := range calls {
		assert.NotContains(t, call, "push_branch")
		assert.NotContains(t, call, "open_pr")
		assert.NotContains(t, call, "direct_merge")
	}
}
