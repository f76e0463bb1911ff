package phase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wreckit-dev/wreckit/internal/gitx"
	"github.com/wreckit-dev/wreckit/internal/item"
	"github.com/wreckit-dev/wreckit/internal/mcp"
	"github.com/wreckit-dev/wreckit/internal/prompt"
	"github.com/wreckit-dev/wreckit/internal/werr"
)

// implement drives the coding loop on the item's branch, re-invoking the
// agent until every story is done or max_iterations is spent. The caller
// must hold the working-tree semaphore.
func (r *Runner) implement(ctx context.Context, id, feedback string) error {
	allowed, err := EffectiveTools(item.PhaseImplement, r.skills)
	if err != nil {
		return err
	}
	it, err := r.store.Read(id)
	if err != nil {
		return err
	}

	branch := it.Branch
	if branch == "" {
		branch = item.BranchName(r.cfg.BranchPrefix, id)
		if _, err := r.store.Mutate(id, func(it *item.Item) error {
			it.Branch = branch
			return nil
		}); err != nil {
			return err
		}
	}

	if err := r.git.EnsureBranch(ctx, branch, r.cfg.BaseBranch); err != nil {
		return err
	}

	if r.mock {
		return r.mockImplement(ctx, id, it)
	}

	tools := mcp.ForItem(r.store, id)
	for iteration := 1; iteration <= r.cfg.MaxIterations; iteration++ {
		in, err := r.promptInputs(id, feedback)
		if err != nil {
			return err
		}
		in.Iteration = iteration
		in.CurrentStory = nextStory(in.Stories)

		name := prompt.NameImplement
		if iteration > 1 {
			name = prompt.NameImplementRetry
		}
		text, err := r.assemble(name, in, allowed)
		if err != nil {
			return err
		}
		if _, err := r.invoke(ctx, id, item.PhaseImplement, text, allowed, tools); err != nil {
			return err
		}

		stories, err := r.store.Stories(id)
		if err != nil {
			return err
		}
		if item.AllStoriesDone(stories) {
			return r.finishImplement(ctx, id, branch, stories)
		}
		r.log.Info("stories remain after iteration",
			"item", id, "iteration", iteration, "remaining", countPending(stories))
		feedback = ""
	}

	stories, err := r.store.Stories(id)
	if err != nil {
		return err
	}
	return werr.Newf(werr.KindAgent, "%d stories still unfinished after %d iterations",
		countPending(stories), r.cfg.MaxIterations).WithSub(werr.SubOther)
}

// finishImplement commits whatever the agent left staged or dirty, verifies
// the branch actually diverged from base, and pushes.
func (r *Runner) finishImplement(ctx context.Context, id, branch string, stories []item.Story) error {
	it, err := r.store.Read(id)
	if err != nil {
		return err
	}

	if err := r.git.CommitAll(ctx, commitMessage(it, stories)); err != nil && !errors.Is(err, gitx.ErrNoChanges) {
		return err
	}

	differs, err := r.git.DiffersFrom(ctx, r.cfg.BaseBranch)
	if err != nil {
		return err
	}
	if !differs {
		return werr.Newf(werr.KindArtifact,
			"all stories are done but branch %s has no commits beyond %s", branch, r.cfg.BaseBranch).
			WithSub(werr.SubMissingArtifact)
	}
	return r.git.PushBranch(ctx, branch)
}

// mockImplement marks every story done and commits the resulting item-dir
// changes on the branch, so the rest of the pipeline sees a real commit.
// It never pushes.
func (r *Runner) mockImplement(ctx context.Context, id string, it *item.Item) error {
	stories, err := r.store.Stories(id)
	if err != nil {
		return err
	}
	if len(stories) == 0 {
		return werr.New(werr.KindArtifact, "cannot implement: prd has no stories").
			WithSub(werr.SubMissingArtifact)
	}
	for _, st := range stories {
		if st.Status == item.StoryDone {
			continue
		}
		if err := r.store.UpdateStoryStatus(id, st.StoryID, item.StoryDone, "mock run"); err != nil {
			return err
		}
	}
	stories, err = r.store.Stories(id)
	if err != nil {
		return err
	}
	if err := r.git.CommitAll(ctx, commitMessage(it, stories)); err != nil && !errors.Is(err, gitx.ErrNoChanges) {
		return err
	}
	return nil
}

// nextStory picks the story the next iteration should focus on: the first
// in_progress one, else the first pending one.
func nextStory(stories []item.Story) *item.Story {
	for i := range stories {
		if stories[i].Status == item.StoryInProgress {
			return &stories[i]
		}
	}
	for i := range stories {
		if stories[i].Status == item.StoryPending {
			return &stories[i]
		}
	}
	return nil
}

func countPending(stories []item.Story) int {
	n := 0
	for _, st := range stories {
		if st.Status != item.StoryDone {
			n++
		}
	}
	return n
}

// commitMessage composes the implement commit subject and story summary.
func commitMessage(it *item.Item, stories []item.Story) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", it.Title)
	for _, st := range stories {
		fmt.Fprintf(&b, "- %s: %s\n", st.StoryID, st.Title)
	}
	return strings.TrimRight(b.String(), "\n")
}
