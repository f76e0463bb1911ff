// Package agent runs one LLM-backed work session per phase invocation. It
// dispatches over the configured backend kinds behind a single Run contract:
// a prompt goes in, an ordered event stream and a terminal result come out.
package agent

import (
	"context"
	"encoding/json"
	"time"
)

// EventType discriminates agent events.
type EventType string

const (
	// EventAssistantText is visible assistant output.
	EventAssistantText EventType = "assistant_text"
	// EventThought is internal reasoning text, logged but never parsed.
	EventThought EventType = "thought"
	// EventToolStarted marks a tool invocation leaving the agent.
	EventToolStarted EventType = "tool_started"
	// EventToolResult carries the outcome of a tool invocation.
	EventToolResult EventType = "tool_result"
	// EventRunResult is the terminal event of a run.
	EventRunResult EventType = "run_result"
	// EventError reports a backend failure with its classification.
	EventError EventType = "error"
)

// Event is one element of a run's ordered event stream. Type determines
// which fields are populated.
type Event struct {
	Type EventType `json:"type"`

	// Text for assistant_text and thought.
	Text string `json:"text,omitempty"`

	// Tool fields for tool_started and tool_result. CallID correlates the
	// pair and matches the MCP envelope id.
	CallID        string          `json:"call_id,omitempty"`
	Tool          string          `json:"tool,omitempty"`
	Input         json.RawMessage `json:"input,omitempty"`
	Status        string          `json:"status,omitempty"`
	OutputSummary string          `json:"output_summary,omitempty"`

	// Terminal fields for run_result.
	Success    bool  `json:"success,omitempty"`
	DurationMS int64 `json:"duration_ms,omitempty"`
	NumTurns   int   `json:"num_turns,omitempty"`

	// Error fields for error events.
	Message        string `json:"message,omitempty"`
	Classification string `json:"classification,omitempty"`
}

// Tool result statuses.
const (
	ToolStatusOK       = "ok"
	ToolStatusError    = "error"
	ToolStatusRejected = "rejected"
)

// ToolDef describes one tool offered to the agent.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolDispatcher is the in-process tool surface a run is wired to. Process
// backends reach it over the stdio envelope; SDK backends call it directly
// for each tool_use block.
type ToolDispatcher interface {
	// Tools lists the tools available to this run, already narrowed to the
	// phase's effective allowlist.
	Tools() []ToolDef

	// Dispatch executes one tool call and returns its JSON result.
	Dispatch(ctx context.Context, callID, name string, input json.RawMessage) (json.RawMessage, error)
}

// RunSpec is one agent invocation.
type RunSpec struct {
	// RunID is assigned by the dispatcher when empty.
	RunID string

	Prompt  string
	WorkDir string

	// AllowedTools is the effective allowlist for this run. Process
	// backends get it passed through and enforced post hoc; SDK backends
	// only ever see allowed tools.
	AllowedTools []string

	// Tools is nil for phases that expose no tool surface.
	Tools ToolDispatcher

	Timeout        time.Duration
	ForceKillAfter time.Duration

	// Events receives the run's ordered event stream. The channel is owned
	// by the caller and never closed by the runner; sends block, so the
	// consumer controls backpressure. Nil disables streaming.
	Events chan<- Event

	// DryRun short-circuits before any backend work with a synthetic
	// success describing what would have run.
	DryRun bool

	Env []string
}

// Result is the terminal outcome of a run.
type Result struct {
	RunID    string        `json:"run_id"`
	Success  bool          `json:"success"`
	Output   string        `json:"output"`
	Stderr   string        `json:"stderr,omitempty"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	NumTurns int           `json:"num_turns,omitempty"`

	// CompletionSignalSeen is meaningful for process backends only.
	CompletionSignalSeen bool `json:"completion_signal_seen,omitempty"`

	RateLimit *RateLimitInfo `json:"rate_limit,omitempty"`
}

// WasRateLimited reports whether the run hit a provider rate limit.
func (r *Result) WasRateLimited() bool {
	return r.RateLimit != nil && r.RateLimit.IsLimited
}

// emit sends ev to the spec's event channel, honoring cancellation so a
// stalled consumer cannot wedge a run past its context.
func emit(ctx context.Context, events chan<- Event, ev Event) {
	if events == nil {
		return
	}
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}
