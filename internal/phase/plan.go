package phase

import (
	"context"
	"fmt"
	"strings"

	"github.com/wreckit-dev/wreckit/internal/item"
	"github.com/wreckit-dev/wreckit/internal/mcp"
	"github.com/wreckit-dev/wreckit/internal/prompt"
	"github.com/wreckit-dev/wreckit/internal/werr"
)

// plan decomposes the item into stories. The agent persists the PRD through
// the save_prd tool; its stdout summary becomes the plan.md artifact.
func (r *Runner) plan(ctx context.Context, id, feedback string) error {
	allowed, err := EffectiveTools(item.PhasePlan, r.skills)
	if err != nil {
		return err
	}
	in, err := r.promptInputs(id, feedback)
	if err != nil {
		return err
	}

	if r.mock {
		return r.mockPlan(id, in)
	}

	text, err := r.assemble(prompt.NamePlan, in, allowed)
	if err != nil {
		return err
	}
	res, err := r.invoke(ctx, id, item.PhasePlan, text, allowed, mcp.ForItem(r.store, id))
	if err != nil {
		return err
	}

	// The state guard would also catch a missing PRD, but checking here
	// turns it into an Artifact error and a single automatic retry.
	prd, err := r.store.PRD(id)
	if err != nil {
		return err
	}
	if len(prd.Stories) == 0 {
		return werr.New(werr.KindArtifact, "plan produced a prd with no stories").
			WithSub(werr.SubMalformedPRD)
	}

	summary := strings.TrimSpace(res.Output)
	if summary == "" {
		summary = fmt.Sprintf("# Plan: %s\n\n%d stories in prd.json.", in.Item.Title, len(prd.Stories))
	}
	return r.store.WriteArtifact(id, item.PlanFile, []byte(summary+"\n"))
}

// mockPlan writes a single-story PRD and a plan stub.
func (r *Runner) mockPlan(id string, in prompt.Inputs) error {
	prd := &item.PRD{
		ProblemStatement: in.Item.Title,
		Stories: []item.Story{
			{Title: "Implement " + in.Item.Title, Status: item.StoryPending},
		},
	}
	if err := r.store.SavePRD(id, prd); err != nil {
		return err
	}
	body := fmt.Sprintf("# Plan: %s\n\nMock plan with one story.\n", in.Item.Title)
	return r.store.WriteArtifact(id, item.PlanFile, []byte(body))
}
