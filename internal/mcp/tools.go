package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/wreckit-dev/wreckit/internal/item"
	"github.com/wreckit-dev/wreckit/internal/werr"
)

// Tool names offered to agents.
const (
	ToolSavePRD           = "save_prd"
	ToolUpdateStoryStatus = "update_story_status"
	ToolComplete          = "complete"
	ToolSaveParsedIdeas   = "save_parsed_ideas"
)

const savePRDSchema = `{
  "type": "object",
  "required": ["problem_statement", "stories"],
  "properties": {
    "problem_statement": {"type": "string", "minLength": 1},
    "goals": {"type": "array", "items": {"type": "string"}},
    "non_goals": {"type": "array", "items": {"type": "string"}},
    "stories": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["title"],
        "properties": {
          "story_id": {"type": "string"},
          "title": {"type": "string", "minLength": 1},
          "acceptance_criteria": {"type": "array", "items": {"type": "string"}},
          "notes": {"type": "string"}
        },
        "additionalProperties": false
      }
    },
    "open_questions": {"type": "array", "items": {"type": "string"}},
    "references": {"type": "array", "items": {"type": "string"}}
  },
  "additionalProperties": false
}`

const updateStoryStatusSchema = `{
  "type": "object",
  "required": ["story_id", "status"],
  "properties": {
    "story_id": {"type": "string", "minLength": 1},
    "status": {"type": "string", "enum": ["pending", "in_progress", "done", "blocked"]},
    "notes": {"type": "string"}
  },
  "additionalProperties": false
}`

const completeSchema = `{
  "type": "object",
  "properties": {
    "note": {"type": "string"}
  },
  "additionalProperties": false
}`

const saveParsedIdeasSchema = `{
  "type": "object",
  "required": ["ideas"],
  "properties": {
    "ideas": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["section", "title"],
        "properties": {
          "section": {"type": "string", "minLength": 1},
          "title": {"type": "string", "minLength": 1},
          "overview": {"type": "string"}
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

// ForItem builds the tool server for a phase invocation on one item. The
// item id is captured here; no tool accepts an item id from the agent.
func ForItem(store *item.Store, itemID string) *Server {
	s := newServer()

	s.register(ToolSavePRD,
		"Persist the structured PRD for the current work item. Stories without a story_id get stable sequential ids assigned.",
		savePRDSchema,
		func(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
			it, err := store.Read(itemID)
			if err != nil {
				return nil, err
			}
			if it.State != item.StatePlanning {
				return nil, werr.Newf(werr.KindState, "save_prd requires state %s, item %s is %s",
					item.StatePlanning, itemID, it.State)
			}
			var prd item.PRD
			if err := json.Unmarshal(input, &prd); err != nil {
				return nil, werr.Wrap(werr.KindArtifact, err, "decoding prd").
					WithSub(werr.SubMalformedPRD)
			}
			if strings.TrimSpace(prd.ProblemStatement) == "" {
				return nil, werr.New(werr.KindArtifact, "prd problem_statement is empty").
					WithSub(werr.SubMalformedPRD)
			}
			if err := store.SavePRD(itemID, &prd); err != nil {
				return nil, err
			}
			return json.Marshal(map[string]any{
				"saved":   true,
				"stories": len(prd.Stories),
			})
		})

	s.register(ToolUpdateStoryStatus,
		"Set the status of one story in the current item's PRD. Notes are appended to the story's running notes.",
		updateStoryStatusSchema,
		func(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
			var args struct {
				StoryID string `json:"story_id"`
				Status  string `json:"status"`
				Notes   string `json:"notes"`
			}
			if err := json.Unmarshal(input, &args); err != nil {
				return nil, werr.Wrap(werr.KindUsage, err, "decoding arguments")
			}
			status := item.StoryStatus(args.Status)
			if err := store.UpdateStoryStatus(itemID, args.StoryID, status, args.Notes); err != nil {
				return nil, err
			}
			return json.Marshal(map[string]any{
				"story_id": args.StoryID,
				"status":   args.Status,
			})
		})

	s.register(ToolComplete,
		"Declare the current phase's work finished. Call exactly once, after all other work is done.",
		completeSchema,
		func(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
			stories, err := store.Stories(itemID)
			if err != nil {
				return nil, err
			}
			if !item.AllStoriesDone(stories) {
				return nil, werr.Newf(werr.KindState,
					"item %s still has unfinished stories, complete refused", itemID)
			}
			var args struct {
				Note string `json:"note"`
			}
			_ = json.Unmarshal(input, &args)
			s.markComplete(args.Note)
			return json.Marshal(map[string]any{"acknowledged": true})
		})

	return s
}

// ParsedIdea is one item candidate extracted from a free-form ideas
// document.
type ParsedIdea struct {
	Section  string `json:"section"`
	Title    string `json:"title"`
	Overview string `json:"overview,omitempty"`
}

// IdeasSink receives the full parsed batch in one call so the caller can
// publish the resulting items atomically.
type IdeasSink func(ideas []ParsedIdea) error

// ForIdeas builds the tool server for the ideas ingest run.
func ForIdeas(sink IdeasSink) *Server {
	s := newServer()

	s.register(ToolSaveParsedIdeas,
		"Save the work items parsed out of the ideas document. Call once with the complete list.",
		saveParsedIdeasSchema,
		func(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
			var args struct {
				Ideas []ParsedIdea `json:"ideas"`
			}
			if err := json.Unmarshal(input, &args); err != nil {
				return nil, werr.Wrap(werr.KindUsage, err, "decoding ideas")
			}
			if err := sink(args.Ideas); err != nil {
				return nil, err
			}
			s.markComplete("")
			return json.Marshal(map[string]any{"saved": len(args.Ideas)})
		})

	return s
}
