package phase

import (
	"context"
	"fmt"
	"strings"

	"github.com/wreckit-dev/wreckit/internal/config"
	"github.com/wreckit-dev/wreckit/internal/item"
	"github.com/wreckit-dev/wreckit/internal/prompt"
	"github.com/wreckit-dev/wreckit/internal/werr"
)

// pr publishes the implemented branch: the agent drafts the PR description,
// the configured pr_checks run locally, then either a PR is opened through
// gh or the branch is merged directly. The caller must hold the working-tree
// semaphore.
func (r *Runner) pr(ctx context.Context, id, feedback string) error {
	allowed, err := EffectiveTools(item.PhasePR, r.skills)
	if err != nil {
		return err
	}
	in, err := r.promptInputs(id, feedback)
	if err != nil {
		return err
	}
	if in.Branch == "" {
		return werr.Newf(werr.KindState, "item %s has no branch to publish", id)
	}

	body, err := r.prBody(ctx, id, in, allowed)
	if err != nil {
		return err
	}

	if err := r.runChecks(ctx); err != nil {
		return err
	}

	if r.mock {
		return r.mockPublish(id)
	}

	switch r.cfg.MergeMode {
	case config.MergeModeDirect:
		if err := r.git.DirectMerge(ctx, in.Branch, r.cfg.BaseBranch, r.cfg); err != nil {
			return err
		}
		_, err = r.store.Mutate(id, func(it *item.Item) error {
			it.PRURL = ""
			it.PRNumber = 0
			return nil
		})
		return err
	default:
		info, err := r.git.OpenPR(ctx, in.Branch, r.cfg.BaseBranch, in.Item.Title, body)
		if err != nil {
			return err
		}
		_, err = r.store.Mutate(id, func(it *item.Item) error {
			it.PRURL = info.URL
			it.PRNumber = info.Number
			return nil
		})
		return err
	}
}

// prBody obtains the PR description, generating it with the agent when not
// mocking and persisting it as the pr.md artifact.
func (r *Runner) prBody(ctx context.Context, id string, in prompt.Inputs, allowed []string) (string, error) {
	if r.mock {
		body := fmt.Sprintf("# %s\n\nMock pull request description.\n", in.Item.Title)
		return body, r.store.WriteArtifact(id, item.PRFile, []byte(body))
	}

	text, err := r.assemble(prompt.NamePR, in, allowed)
	if err != nil {
		return "", err
	}
	res, err := r.invoke(ctx, id, item.PhasePR, text, allowed, nil)
	if err != nil {
		return "", err
	}
	body := strings.TrimSpace(res.Output)
	if body == "" {
		return "", werr.New(werr.KindArtifact, "agent produced an empty pr description").
			WithSub(werr.SubMissingArtifact)
	}
	if err := r.store.WriteArtifact(id, item.PRFile, []byte(body+"\n")); err != nil {
		return "", err
	}
	return body, nil
}

// runChecks executes the configured pr_checks in order. A failing check
// fails the phase unless its allow_failure flag is set.
func (r *Runner) runChecks(ctx context.Context) error {
	for _, check := range r.cfg.PRChecks {
		r.log.Info("running pr check", "command", check.Command)
		if err := r.runCheck(ctx, r.repoRoot, check.Command); err != nil {
			if check.AllowFailure {
				r.log.Warn("pr check failed, continuing", "command", check.Command, "err", err)
				continue
			}
			return err
		}
	}
	return nil
}

// mockPublish records a synthetic PR without any remote interaction.
func (r *Runner) mockPublish(id string) error {
	_, err := r.store.Mutate(id, func(it *item.Item) error {
		it.PRURL = "https://example.invalid/pr/" + strings.ReplaceAll(id, "/", "-")
		it.PRNumber = 1
		return nil
	})
	return err
}
