package phase

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wreckit-dev/wreckit/internal/agent"
	"github.com/wreckit-dev/wreckit/internal/config"
	"github.com/wreckit-dev/wreckit/internal/item"
	"github.com/wreckit-dev/wreckit/internal/mcp"
	"github.com/wreckit-dev/wreckit/internal/werr"
)

// markStory drives the update_story_status tool the way an agent would.
func markStory(ctx context.Context, t *testing.T, tools agent.ToolDispatcher, storyID string, status item.StoryStatus) {
	t.Helper()
	input, err := json.Marshal(map[string]string{"story_id": storyID, "status": string(status)})
	require.NoError(t, err)
	_, err = tools.Dispatch(ctx, "call-"+storyID, mcp.ToolUpdateStoryStatus, json.RawMessage(input))
	require.NoError(t, err)
}

func TestRunImplementSingleIteration(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	id := env.seedItem(t, item.StatePlanned)
	env.seedPRD(t, id, false)

	env.mock.RunFunc = func(ctx context.Context, spec *config.AgentSpec, run agent.RunSpec) (*agent.Result, error) {
		assert.Contains(t, run.AllowedTools, "bash")
		markStory(ctx, t, run.Tools, "S-001", item.StoryDone)
		return &agent.Result{Success: true, Output: "done"}, nil
	}

	outcome, err := env.runner.Run(context.Background(), id, item.PhaseImplement)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, outcome)

	it := env.readItem(t, id)
	assert.Equal(t, item.StateImplemented, it.State)
	assert.Equal(t, "wreckit/"+strings.ReplaceAll(id, "/", "-"), it.Branch)

	calls := env.git.recorded()
	require.Len(t, calls, 4)
	assert.Equal(t, "ensure_branch "+it.Branch+" main", calls[0])
	assert.Equal(t, "commit_all Add rate limiter", calls[1])
	assert.Equal(t, "differs_from main", calls[2])
	assert.Equal(t, "push_branch "+it.Branch, calls[3])
}

func TestRunImplementMockCommitsOnBranch(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, WithMock())
	id := env.seedItem(t, item.StatePlanned)
	env.seedPRD(t, id, false)

	outcome, err := env.runner.Run(context.Background(), id, item.PhaseImplement)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, outcome)

	it := env.readItem(t, id)
	assert.Equal(t, item.StateImplemented, it.State)
	assert.Equal(t, "wreckit/"+strings.ReplaceAll(id, "/", "-"), it.Branch)

	stories, err := env.store.Stories(id)
	require.NoError(t, err)
	assert.True(t, item.AllStoriesDone(stories))

	calls := env.git.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, "ensure_branch "+it.Branch+" main", calls[0])
	assert.Equal(t, "commit_all Add rate limiter", calls[1])
}

func TestRunImplementIteratesUntilStoriesDone(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	id := env.seedItem(t, item.StatePlanned)
	require.NoError(t, env.store.SavePRD(id, &item.PRD{
		ProblemStatement: "two stories",
		Stories: []item.Story{
			{Title: "first"},
			{Title: "second"},
		},
	}))

	var prompts []string
	env.mock.RunFunc = func(ctx context.Context, spec *config.AgentSpec, run agent.RunSpec) (*agent.Result, error) {
		prompts = append(prompts, run.Prompt)
		switch len(prompts) {
		case 1:
			markStory(ctx, t, run.Tools, "S-001", item.StoryDone)
		default:
			markStory(ctx, t, run.Tools, "S-002", item.StoryDone)
		}
		return &agent.Result{Success: true, Output: "ok"}, nil
	}

	outcome, err := env.runner.Run(context.Background(), id, item.PhaseImplement)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, outcome)

	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[0], "You are implementing")
	assert.Contains(t, prompts[1], "You are continuing")
	assert.Contains(t, prompts[1], "S-002", "retry prompt names the remaining story")
}

func TestRunImplementExhaustsIterations(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.cfg.MaxIterations = 2
	id := env.seedItem(t, item.StatePlanned)
	env.seedPRD(t, id, false)

	env.mock.RunFunc = func(ctx context.Context, spec *config.AgentSpec, run agent.RunSpec) (*agent.Result, error) {
		return &agent.Result{Success: true, Output: "no progress"}, nil
	}

	outcome, err := env.runner.Run(context.Background(), id, item.PhaseImplement)
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Contains(t, err.Error(), "iterations")
	assert.Equal(t, 2, env.mock.CallCount())

	it := env.readItem(t, id)
	assert.Equal(t, item.FailedState(item.StateImplementing), it.State)

	for _, call := range env.git.recorded() {
		assert.NotContains(t, call, "push_branch", "unfinished work must not be pushed")
	}
}

func TestRunImplementRequiresDivergence(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	id := env.seedItem(t, item.StatePlanned)
	env.seedPRD(t, id, false)
	env.git.differs = false

	env.mock.RunFunc = func(ctx context.Context, spec *config.AgentSpec, run agent.RunSpec) (*agent.Result, error) {
		markStory(ctx, t, run.Tools, "S-001", item.StoryDone)
		return &agent.Result{Success: true, Output: "claimed done"}, nil
	}

	outcome, err := env.runner.Run(context.Background(), id, item.PhaseImplement)
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, werr.KindArtifact, werr.KindOf(err))
	assert.Contains(t, err.Error(), "no commits")

	for _, call := range env.git.recorded() {
		assert.NotContains(t, call, "push_branch")
	}
}

func TestRunImplementReusesExistingBranch(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	id := env.seedItem(t, item.StatePlanned)
	env.seedPRD(t, id, false)
	_, err := env.store.Mutate(id, func(it *item.Item) error {
		it.Branch = "wreckit/custom-branch"
		return nil
	})
	require.NoError(t, err)

	env.mock.RunFunc = func(ctx context.Context, spec *config.AgentSpec, run agent.RunSpec) (*agent.Result, error) {
		markStory(ctx, t, run.Tools, "S-001", item.StoryDone)
		return &agent.Result{Success: true, Output: "ok"}, nil
	}

	_, err = env.runner.Run(context.Background(), id, item.PhaseImplement)
	require.NoError(t, err)
	assert.Equal(t, "wreckit/custom-branch", env.readItem(t, id).Branch)
	assert.Contains(t, env.git.recorded()[0], "wreckit/custom-branch")
}

func TestNextStoryPrefersInProgress(t *testing.T) {
	t.Parallel()
	stories := []item.Story{
		{StoryID: "S-001", Status: item.StoryDone},
		{StoryID: "S-002", Status: item.StoryPending},
		{StoryID: "S-003", Status: item.StoryInProgress},
	}
	st := nextStory(stories)
	require.NotNil(t, st)
	assert.Equal(t, "S-003", st.StoryID)

	stories[2].Status = item.StoryDone
	st = nextStory(stories)
	require.NotNil(t, st)
	assert.Equal(t, "S-002", st.StoryID)

	stories[1].Status = item.StoryDone
	assert.Nil(t, nextStory(stories))
}
