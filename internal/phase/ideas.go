package phase

import (
	"context"
	"sort"
	"strings"

	"github.com/wreckit-dev/wreckit/internal/agent"
	"github.com/wreckit-dev/wreckit/internal/item"
	"github.com/wreckit-dev/wreckit/internal/mcp"
	"github.com/wreckit-dev/wreckit/internal/prompt"
	"github.com/wreckit-dev/wreckit/internal/werr"
)

// IngestIdeas parses a free-form ideas document into new items. The agent
// hands back structured ideas through the save_parsed_ideas tool; nothing is
// published to the store until the run succeeds, so a failed run creates no
// items at all.
func (r *Runner) IngestIdeas(ctx context.Context, document string) ([]*item.Item, error) {
	if strings.TrimSpace(document) == "" {
		return nil, werr.New(werr.KindUsage, "ideas document is empty")
	}

	sections, err := r.sections()
	if err != nil {
		return nil, err
	}

	var parsed []mcp.ParsedIdea
	if r.mock {
		parsed = mockIdeas(document)
	} else {
		tools := mcp.ForIdeas(func(ideas []mcp.ParsedIdea) error {
			parsed = ideas
			return nil
		})
		in := prompt.Inputs{
			RepoRoot:   r.repoRoot,
			BaseBranch: r.cfg.BaseBranch,
			AgentKind:  string(r.cfg.Agent.Kind),
			Document:   document,
			Sections:   sections,
		}
		text, err := r.prompts.Assemble(prompt.NameIdeas, prompt.Build(in))
		if err != nil {
			return nil, err
		}
		res, err := r.agent.Run(ctx, r.agentSpec("ideas"), agent.RunSpec{
			Prompt:         text,
			WorkDir:        r.repoRoot,
			AllowedTools:   []string{"read", mcp.ToolSaveParsedIdeas},
			Tools:          tools,
			Timeout:        r.cfg.PhaseTimeout(),
			ForceKillAfter: r.cfg.ForceKillAfter(),
		})
		if err != nil {
			return nil, err
		}
		if !res.Success {
			return nil, werr.New(werr.KindAgent, "ideas run did not complete successfully").
				WithSub(werr.SubOther)
		}
		if done, _ := tools.CompleteCalled(); !done || len(parsed) == 0 {
			return nil, werr.New(werr.KindAgent, "agent did not save any parsed ideas").
				WithSub(werr.SubOther)
		}
	}

	items := make([]*item.Item, 0, len(parsed))
	for _, idea := range parsed {
		it, err := r.store.Create(idea.Section, idea.Title, idea.Overview)
		if err != nil {
			// Roll back the batch so a half-published document never lingers.
			for _, created := range items {
				if rerr := r.store.Remove(created.ID); rerr != nil {
					r.log.Warn("could not roll back created item", "id", created.ID, "err", rerr)
				}
			}
			return nil, err
		}
		items = append(items, it)
	}
	if _, err := r.store.Reindex(); err != nil {
		r.log.Warn("reindex after ideas ingest failed", "err", err)
	}
	return items, nil
}

// sections lists the existing section names, sorted.
func (r *Runner) sections() ([]string, error) {
	items, err := r.store.List()
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, it := range items {
		if !seen[it.Section] {
			seen[it.Section] = true
			out = append(out, it.Section)
		}
	}
	sort.Strings(out)
	return out, nil
}

// mockIdeas turns each non-empty line of the document into one idea.
func mockIdeas(document string) []mcp.ParsedIdea {
	var out []mcp.ParsedIdea
	for _, line := range strings.Split(document, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-* \t"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, mcp.ParsedIdea{Section: "ideas", Title: line})
	}
	return out
}
