package phase

import (
	"github.com/wreckit-dev/wreckit/internal/config"
	"github.com/wreckit-dev/wreckit/internal/item"
	"github.com/wreckit-dev/wreckit/internal/mcp"
	"github.com/wreckit-dev/wreckit/internal/werr"
)

// baselineTools is the fixed per-phase tool allowlist before skills
// narrowing.
var baselineTools = map[item.Phase][]string{
	item.PhaseResearch:  {"read", "glob", "grep", "list-dir"},
	item.PhasePlan:      {"read", "write", "edit", "glob", "grep", mcp.ToolSavePRD},
	item.PhaseImplement: {"read", "write", "edit", "glob", "grep", "bash", mcp.ToolUpdateStoryStatus},
	item.PhasePR:        {"read", "glob", "grep", "bash"},
	item.PhaseComplete:  {"read", "glob", "grep", mcp.ToolComplete},
}

// EffectiveTools computes the allowlist for one phase invocation: the
// intersection of the phase baseline with the active skills' tool union.
// Skills that define no tools leave the baseline untouched. An empty
// intersection is an error; a run with no tools can only fail confusingly
// later.
func EffectiveTools(phase item.Phase, skills *config.Skills) ([]string, error) {
	baseline := baselineTools[phase]
	if baseline == nil {
		return nil, werr.Newf(werr.KindUsage, "unknown phase %q", phase)
	}

	var union map[string]bool
	if skills != nil {
		union = skills.ToolUnion()
	}
	if len(union) == 0 {
		out := make([]string, len(baseline))
		copy(out, baseline)
		return out, nil
	}

	var out []string
	for _, tool := range baseline {
		if union[tool] {
			out = append(out, tool)
		}
	}
	if len(out) == 0 {
		return nil, werr.Newf(werr.KindArtifact,
			"skills leave no tools for the %s phase", phase).
			WithSub(werr.SubNoToolsAllowed)
	}
	return out, nil
}
