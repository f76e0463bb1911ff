package phase

import (
	"context"
	"errors"

	"github.com/wreckit-dev/wreckit/internal/config"
	"github.com/wreckit-dev/wreckit/internal/gitx"
	"github.com/wreckit-dev/wreckit/internal/item"
	"github.com/wreckit-dev/wreckit/internal/mcp"
	"github.com/wreckit-dev/wreckit/internal/prompt"
	"github.com/wreckit-dev/wreckit/internal/werr"
)

// errPRNotMerged marks a complete attempt made while the item's PR is
// still open. The runner turns it into OutcomeBlocked instead of a failure.
var errPRNotMerged = errors.New("pr not merged")

// complete verifies the PR actually merged, has the agent confirm the work
// landed on the base branch, and applies the branch cleanup policy.
func (r *Runner) complete(ctx context.Context, id, feedback string) error {
	allowed, err := EffectiveTools(item.PhaseComplete, r.skills)
	if err != nil {
		return err
	}
	it, err := r.store.Read(id)
	if err != nil {
		return err
	}

	if it.State == item.StateInPR {
		if err := r.verifyMerged(ctx, it); err != nil {
			return err
		}
		if _, err := r.store.Transition(id, item.Event{Kind: item.EventPRMerged}); err != nil {
			return err
		}
	}

	if !r.mock {
		in, err := r.promptInputs(id, feedback)
		if err != nil {
			return err
		}
		text, err := r.assemble(prompt.NameComplete, in, allowed)
		if err != nil {
			return err
		}
		tools := mcp.ForItem(r.store, id)
		if _, err := r.invoke(ctx, id, item.PhaseComplete, text, allowed, tools); err != nil {
			return err
		}
		if done, _ := tools.CompleteCalled(); !done {
			return werr.New(werr.KindAgent, "agent did not acknowledge completion").
				WithSub(werr.SubOther)
		}
	}

	if it.Branch != "" && !r.mock {
		r.git.CleanupBranch(ctx, it.Branch, r.cfg.BaseBranch, r.cfg.BranchCleanup)
	}
	return nil
}

// verifyMerged checks the merge state of the item's PR. Direct-merge items
// carry no PR number; the merge already happened in the pr phase.
func (r *Runner) verifyMerged(ctx context.Context, it *item.Item) error {
	if it.PRNumber == 0 {
		if r.cfg.MergeMode == config.MergeModeDirect || r.mock {
			return nil
		}
		return werr.Newf(werr.KindState, "item %s is in_pr but has no pr number", it.ID)
	}
	if r.mock {
		return nil
	}
	state, err := r.git.PRState(ctx, it.PRNumber)
	if err != nil {
		return err
	}
	switch state {
	case gitx.PRStateMerged:
		return nil
	case gitx.PRStateClosed:
		return werr.Newf(werr.KindState, "pr #%d was closed without merging", it.PRNumber)
	default:
		return werr.Wrap(werr.KindState, errPRNotMerged,
			"pr #%d is not merged yet (state %s)", it.PRNumber, state)
	}
}
