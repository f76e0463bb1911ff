package prompt

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wreckit-dev/wreckit/internal/item"
)

// Inputs carries everything the variable table is derived from. Zero-value
// fields still produce bindings (usually "none") so templates never fail on
// data that legitimately does not exist yet, only on typoed placeholders.
type Inputs struct {
	Item    *item.Item
	PRD     *item.PRD
	Stories []item.Story
	// CurrentStory is the story an implement iteration focuses on; nil
	// outside implement.
	CurrentStory *item.Story

	RepoRoot   string
	BaseBranch string
	Branch     string
	AgentKind  string

	// Research and Plan are the markdown artifacts from earlier phases.
	Research string
	Plan     string

	// Iteration is 1-based within the implement loop.
	Iteration int

	AllowedTools []string
	ToolHints    string

	// Feedback is critique output injected into a re-run.
	Feedback string

	// Artifact is the phase output under review in a critique call.
	Artifact string

	// Document is the free-form ideas text for the ideas template.
	Document string

	// Sections lists existing section names for the ideas template.
	Sections []string

	Now time.Time
}

// Build freezes the inputs into the flat table templates render against.
func Build(in Inputs) Vars {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	v := Vars{
		"repo_root":   in.RepoRoot,
		"base_branch": in.BaseBranch,
		"branch":      orNone(in.Branch),
		"agent_kind":  orNone(in.AgentKind),
		"timestamp":   now.UTC().Format(time.RFC3339),
		"iteration":   strconv.Itoa(in.Iteration),
		"research":    orNone(strings.TrimSpace(in.Research)),
		"plan":        orNone(strings.TrimSpace(in.Plan)),
		"feedback":    orNone(strings.TrimSpace(in.Feedback)),
		"artifact":    orNone(strings.TrimSpace(in.Artifact)),
		"document":    orNone(strings.TrimSpace(in.Document)),
		"tool_hints":  orNone(strings.TrimSpace(in.ToolHints)),
	}

	if len(in.Sections) > 0 {
		v["sections"] = strings.Join(in.Sections, ", ")
	} else {
		v["sections"] = "none"
	}

	if len(in.AllowedTools) > 0 {
		v["allowed_tools"] = strings.Join(in.AllowedTools, ", ")
	} else {
		v["allowed_tools"] = "none"
	}

	if in.Item != nil {
		v["item_id"] = in.Item.ID
		v["item_section"] = in.Item.Section
		v["item_title"] = in.Item.Title
		v["item_overview"] = orNone(in.Item.Overview)
		v["item_state"] = string(in.Item.State)
		v["pr_url"] = orNone(in.Item.PRURL)
		v["retries"] = strconv.Itoa(in.Item.Retries)
	}

	v["prd"] = formatPRD(in.PRD)
	v["stories"] = formatStories(in.Stories)
	if in.CurrentStory != nil {
		v["current_story"] = formatStory(*in.CurrentStory)
	} else {
		v["current_story"] = "none"
	}

	return v
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// formatPRD renders the PRD as compact markdown for prompt inclusion.
func formatPRD(prd *item.PRD) string {
	if prd == nil {
		return "none"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Problem: %s\n", prd.ProblemStatement)
	if len(prd.Goals) > 0 {
		b.WriteString("Goals:\n")
		for _, g := range prd.Goals {
			fmt.Fprintf(&b, "- %s\n", g)
		}
	}
	if len(prd.NonGoals) > 0 {
		b.WriteString("Non-goals:\n")
		for _, g := range prd.NonGoals {
			fmt.Fprintf(&b, "- %s\n", g)
		}
	}
	if len(prd.OpenQuestions) > 0 {
		b.WriteString("Open questions:\n")
		for _, q := range prd.OpenQuestions {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatStories(stories []item.Story) string {
	if len(stories) == 0 {
		return "none"
	}
	var b strings.Builder
	for _, s := range stories {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", s.Status, s.StoryID, s.Title)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatStory(s item.Story) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s (status: %s)\n", s.StoryID, s.Title, s.Status)
	for _, ac := range s.AcceptanceCriteria {
		fmt.Fprintf(&b, "- %s\n", ac)
	}
	if s.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", s.Notes)
	}
	return strings.TrimRight(b.String(), "\n")
}
