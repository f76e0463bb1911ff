package agent

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/charmbracelet/log"

	"github.com/wreckit-dev/wreckit/internal/config"
	"github.com/wreckit-dev/wreckit/internal/logging"
	"github.com/wreckit-dev/wreckit/internal/werr"
)

// defaultClaudeMaxTokens caps a single completion when the config does not
// set one.
const defaultClaudeMaxTokens = 8192

// maxAgentTurns bounds the tool-use loop so a confused model cannot spin
// forever inside one run.
const maxAgentTurns = 50

// messagesClient is the slice of the Anthropic SDK the runner needs; tests
// substitute a fake.
type messagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// ClaudeRunner drives the Anthropic Messages API in an agentic loop: send
// the prompt, execute any tool_use blocks against the run's tool surface,
// feed results back, and stop on end_turn.
type ClaudeRunner struct {
	log *log.Logger

	// newClient builds the messages client per run so the API key is read
	// at run time, not construction time.
	newClient func() messagesClient
}

// NewClaudeRunner returns the claude_sdk backend runner.
func NewClaudeRunner() *ClaudeRunner {
	return &ClaudeRunner{
		log: logging.New("agent.claude"),
		newClient: func() messagesClient {
			c := sdk.NewClient()
			return &c.Messages
		},
	}
}

// Kind implements Runner.
func (c *ClaudeRunner) Kind() config.AgentKind { return config.AgentKindClaudeSDK }

// Run implements Runner.
func (c *ClaudeRunner) Run(ctx context.Context, spec *config.AgentSpec, run RunSpec) (*Result, error) {
	if run.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, run.Timeout)
		defer cancel()
	}

	client := c.newClient()
	tools, err := encodeClaudeTools(run)
	if err != nil {
		return nil, err
	}

	maxTokens := int64(spec.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultClaudeMaxTokens
	}

	messages := []sdk.MessageParam{
		sdk.NewUserMessage(sdk.NewTextBlock(run.Prompt)),
	}

	var output strings.Builder
	start := time.Now()
	turns := 0

	for {
		turns++
		if turns > maxAgentTurns {
			return c.result(run, &output, start, turns, false),
				werr.Newf(werr.KindAgent, "run exceeded %d turns", maxAgentTurns).WithSub(werr.SubOther)
		}

		params := sdk.MessageNewParams{
			Model:     sdk.Model(spec.Model),
			MaxTokens: maxTokens,
			Messages:  messages,
		}
		if len(tools) > 0 {
			params.Tools = tools
		}

		msg, err := client.New(ctx, params)
		if err != nil {
			return c.result(run, &output, start, turns, false), classifyAPIError(err, "anthropic")
		}

		var toolResults []sdk.ContentBlockParamUnion
		for _, block := range msg.Content {
			switch block.Type {
			case "text":
				if block.Text == "" {
					continue
				}
				output.WriteString(block.Text)
				output.WriteByte('\n')
				emit(ctx, run.Events, Event{Type: EventAssistantText, Text: block.Text})
			case "thinking":
				emit(ctx, run.Events, Event{Type: EventThought, Text: block.Thinking})
			case "tool_use":
				result := c.callTool(ctx, run, block.ID, block.Name, []byte(block.Input))
				toolResults = append(toolResults,
					sdk.NewToolResultBlock(block.ID, result.text, result.isError))
			}
		}

		if len(toolResults) == 0 || msg.StopReason != "tool_use" {
			success := msg.StopReason == "end_turn" || msg.StopReason == "stop_sequence"
			res := c.result(run, &output, start, turns, success)
			if !success {
				return res, werr.Newf(werr.KindAgent, "run stopped with reason %q", msg.StopReason).
					WithSub(classifyStopReason(string(msg.StopReason)))
			}
			return res, nil
		}

		messages = append(messages, msg.ToParam())
		messages = append(messages, sdk.NewUserMessage(toolResults...))
	}
}

type toolOutcome struct {
	text    string
	isError bool
}

// callTool dispatches one tool_use block and mirrors it into the event
// stream. The SDK path narrows tools up front, so an unknown name here is a
// model hallucination rather than a policy breach; it gets an error result.
func (c *ClaudeRunner) callTool(ctx context.Context, run RunSpec, callID, name string, input json.RawMessage) toolOutcome {
	emit(ctx, run.Events, Event{Type: EventToolStarted, CallID: callID, Tool: name, Input: input})

	var out toolOutcome
	status := ToolStatusOK
	switch {
	case run.Tools == nil:
		out = toolOutcome{text: "no tool surface available", isError: true}
		status = ToolStatusError
	default:
		result, err := run.Tools.Dispatch(ctx, callID, name, input)
		if err != nil {
			out = toolOutcome{text: err.Error(), isError: true}
			status = ToolStatusError
		} else {
			out = toolOutcome{text: string(result)}
		}
	}

	emit(ctx, run.Events, Event{
		Type:          EventToolResult,
		CallID:        callID,
		Tool:          name,
		Status:        status,
		OutputSummary: truncate(out.text, 200),
	})
	return out
}

func (c *ClaudeRunner) result(run RunSpec, output *strings.Builder, start time.Time, turns int, success bool) *Result {
	return &Result{
		RunID:    run.RunID,
		Success:  success,
		Output:   output.String(),
		Duration: time.Since(start),
		NumTurns: turns,
	}
}

// encodeClaudeTools converts the run's tool surface into SDK tool params,
// narrowed to the allowlist.
func encodeClaudeTools(run RunSpec) ([]sdk.ToolUnionParam, error) {
	if run.Tools == nil {
		return nil, nil
	}
	allowed := toolSet(run.AllowedTools)
	var out []sdk.ToolUnionParam
	for _, def := range run.Tools.Tools() {
		if _, ok := allowed[def.Name]; !ok {
			continue
		}
		var schema map[string]any
		if len(def.InputSchema) > 0 {
			if err := json.Unmarshal(def.InputSchema, &schema); err != nil {
				return nil, werr.Wrap(werr.KindAgent, err, "tool %s schema", def.Name)
			}
		}
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: schema}, def.Name)
		if u.OfTool != nil && def.Description != "" {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

func classifyStopReason(reason string) string {
	if reason == "max_tokens" {
		return werr.SubContextWindow
	}
	return werr.SubOther
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
