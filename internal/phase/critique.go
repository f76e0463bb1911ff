package phase

import (
	"context"
	"strings"

	"github.com/wreckit-dev/wreckit/internal/item"
	"github.com/wreckit-dev/wreckit/internal/jsonutil"
	"github.com/wreckit-dev/wreckit/internal/prompt"
	"github.com/wreckit-dev/wreckit/internal/werr"
)

// Verdict is the outcome of one critique call.
type Verdict struct {
	Approved bool
	Feedback string
}

// critiqueReply is the JSON shape the critique prompt demands.
type critiqueReply struct {
	Verdict  string `json:"verdict"`
	Feedback string `json:"feedback"`
}

// critique runs the reviewing agent against the phase's artifact. Mock runs
// approve unconditionally.
func (r *Runner) critique(ctx context.Context, id string, ph item.Phase) (Verdict, error) {
	if r.mock {
		return Verdict{Approved: true}, nil
	}

	name := artifactFor(ph)
	var artifact string
	if name != "" {
		data, err := r.store.ReadArtifact(id, name)
		if err != nil {
			return Verdict{}, err
		}
		artifact = string(data)
	}

	in, err := r.promptInputs(id, "")
	if err != nil {
		return Verdict{}, err
	}
	in.Artifact = artifact

	text, err := r.prompts.Assemble(prompt.NameCritique, prompt.Build(in))
	if err != nil {
		return Verdict{}, err
	}
	res, err := r.invoke(ctx, id, ph, text, nil, nil)
	if err != nil {
		return Verdict{}, err
	}

	var reply critiqueReply
	if err := jsonutil.Decode(res.Output, &reply); err != nil {
		return Verdict{}, werr.Wrap(werr.KindAgent, err, "critique reply is not valid json").
			WithSub(werr.SubOther)
	}
	switch strings.ToLower(reply.Verdict) {
	case "approve", "approved", "accept", "accepted":
		return Verdict{Approved: true}, nil
	case "reject", "rejected":
		return Verdict{Feedback: reply.Feedback}, nil
	default:
		return Verdict{}, werr.Newf(werr.KindAgent, "critique returned unknown verdict %q", reply.Verdict).
			WithSub(werr.SubOther)
	}
}
