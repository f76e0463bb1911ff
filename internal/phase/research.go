package phase

import (
	"context"
	"fmt"
	"strings"

	"github.com/wreckit-dev/wreckit/internal/item"
	"github.com/wreckit-dev/wreckit/internal/prompt"
	"github.com/wreckit-dev/wreckit/internal/werr"
)

// research runs the read-only codebase investigation. The agent's report
// arrives on stdout and becomes the research.md artifact.
func (r *Runner) research(ctx context.Context, id, feedback string) error {
	allowed, err := EffectiveTools(item.PhaseResearch, r.skills)
	if err != nil {
		return err
	}
	in, err := r.promptInputs(id, feedback)
	if err != nil {
		return err
	}

	if r.mock {
		body := fmt.Sprintf("# Research: %s\n\nMock research notes for %s.\n", in.Item.Title, id)
		return r.store.WriteArtifact(id, item.ResearchFile, []byte(body))
	}

	text, err := r.assemble(prompt.NameResearch, in, allowed)
	if err != nil {
		return err
	}
	res, err := r.invoke(ctx, id, item.PhaseResearch, text, allowed, nil)
	if err != nil {
		return err
	}

	report := strings.TrimSpace(res.Output)
	if report == "" {
		return werr.New(werr.KindArtifact, "agent produced an empty research report").
			WithSub(werr.SubMissingArtifact)
	}
	return r.store.WriteArtifact(id, item.ResearchFile, []byte(report+"\n"))
}
