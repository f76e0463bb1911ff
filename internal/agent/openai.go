package agent

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/wreckit-dev/wreckit/internal/config"
	"github.com/wreckit-dev/wreckit/internal/logging"
	"github.com/wreckit-dev/wreckit/internal/werr"
)

// chatClient is the slice of go-openai the runner needs.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIRunner drives any chat-completions-compatible backend. The codex_sdk
// kind talks to the OpenAI API directly; amp_sdk, opencode_sdk, and rlm are
// compatible services reached through the spec's base_url with their own API
// keys.
type OpenAIRunner struct {
	kind config.AgentKind
	log  *log.Logger

	newClient func(spec *config.AgentSpec) chatClient
}

// apiKeyEnv maps each chat-completions kind to its API key variable.
var apiKeyEnv = map[config.AgentKind]string{
	config.AgentKindCodexSDK:    "OPENAI_API_KEY",
	config.AgentKindAmpSDK:      "AMP_API_KEY",
	config.AgentKindOpencodeSDK: "OPENCODE_API_KEY",
	config.AgentKindRLM:         "RLM_API_KEY",
}

// NewOpenAIRunner returns a runner for one chat-completions backend kind.
func NewOpenAIRunner(kind config.AgentKind) *OpenAIRunner {
	return &OpenAIRunner{
		kind: kind,
		log:  logging.New("agent." + string(kind)),
		newClient: func(spec *config.AgentSpec) chatClient {
			cfg := openai.DefaultConfig(os.Getenv(apiKeyEnv[kind]))
			if spec.BaseURL != "" {
				cfg.BaseURL = spec.BaseURL
			}
			return openai.NewClientWithConfig(cfg)
		},
	}
}

// Kind implements Runner.
func (o *OpenAIRunner) Kind() config.AgentKind { return o.kind }

// Run implements Runner.
func (o *OpenAIRunner) Run(ctx context.Context, spec *config.AgentSpec, run RunSpec) (*Result, error) {
	if run.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, run.Timeout)
		defer cancel()
	}

	client := o.newClient(spec)
	tools := encodeOpenAITools(run)

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: run.Prompt},
	}

	var output strings.Builder
	start := time.Now()
	turns := 0

	for {
		turns++
		if turns > maxAgentTurns {
			return o.result(run, &output, start, turns, false),
				werr.Newf(werr.KindAgent, "run exceeded %d turns", maxAgentTurns).WithSub(werr.SubOther)
		}

		req := openai.ChatCompletionRequest{
			Model:    spec.Model,
			Messages: messages,
			Tools:    tools,
		}
		if spec.MaxTokens > 0 {
			req.MaxTokens = spec.MaxTokens
		}

		resp, err := client.CreateChatCompletion(ctx, req)
		if err != nil {
			return o.result(run, &output, start, turns, false), classifyAPIError(err, string(o.kind))
		}
		if len(resp.Choices) == 0 {
			return o.result(run, &output, start, turns, false),
				werr.Newf(werr.KindAgent, "%s returned no choices", o.kind).WithSub(werr.SubOther)
		}

		choice := resp.Choices[0]
		msg := choice.Message
		if msg.Content != "" {
			output.WriteString(msg.Content)
			output.WriteByte('\n')
			emit(ctx, run.Events, Event{Type: EventAssistantText, Text: msg.Content})
		}

		if len(msg.ToolCalls) == 0 {
			success := choice.FinishReason == openai.FinishReasonStop
			res := o.result(run, &output, start, turns, success)
			if !success {
				return res, werr.Newf(werr.KindAgent, "run finished with reason %q", choice.FinishReason).
					WithSub(classifyFinishReason(choice.FinishReason))
			}
			return res, nil
		}

		messages = append(messages, msg)
		for _, call := range msg.ToolCalls {
			outcome := o.callTool(ctx, run, call)
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: call.ID,
				Content:    outcome,
			})
		}
	}
}

func (o *OpenAIRunner) callTool(ctx context.Context, run RunSpec, call openai.ToolCall) string {
	input := json.RawMessage(call.Function.Arguments)
	emit(ctx, run.Events, Event{Type: EventToolStarted, CallID: call.ID, Tool: call.Function.Name, Input: input})

	var content string
	status := ToolStatusOK
	if run.Tools == nil {
		content = "no tool surface available"
		status = ToolStatusError
	} else if out, err := run.Tools.Dispatch(ctx, call.ID, call.Function.Name, input); err != nil {
		content = err.Error()
		status = ToolStatusError
	} else {
		content = string(out)
	}

	emit(ctx, run.Events, Event{
		Type:          EventToolResult,
		CallID:        call.ID,
		Tool:          call.Function.Name,
		Status:        status,
		OutputSummary: truncate(content, 200),
	})
	return content
}

func (o *OpenAIRunner) result(run RunSpec, output *strings.Builder, start time.Time, turns int, success bool) *Result {
	return &Result{
		RunID:    run.RunID,
		Success:  success,
		Output:   output.String(),
		Duration: time.Since(start),
		NumTurns: turns,
	}
}

func encodeOpenAITools(run RunSpec) []openai.Tool {
	if run.Tools == nil {
		return nil
	}
	allowed := toolSet(run.AllowedTools)
	var out []openai.Tool
	for _, def := range run.Tools.Tools() {
		if _, ok := allowed[def.Name]; !ok {
			continue
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.InputSchema,
			},
		})
	}
	return out
}

func classifyFinishReason(reason openai.FinishReason) string {
	if reason == openai.FinishReasonLength {
		return werr.SubContextWindow
	}
	return werr.SubOther
}
