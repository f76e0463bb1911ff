package agent

import (
	"context"
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wreckit-dev/wreckit/internal/config"
	"github.com/wreckit-dev/wreckit/internal/logging"
	"github.com/wreckit-dev/wreckit/internal/werr"
)

// fakeChat serves scripted chat completions in order.
type fakeChat struct {
	responses []openai.ChatCompletionResponse
	errs      []error
	requests  []openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.requests = append(f.requests, req)
	i := len(f.requests) - 1
	if i < len(f.errs) && f.errs[i] != nil {
		return openai.ChatCompletionResponse{}, f.errs[i]
	}
	if i >= len(f.responses) {
		panic("fakeChat: ran out of scripted responses")
	}
	return f.responses[i], nil
}

func newTestOpenAIRunner(kind config.AgentKind, fake *fakeChat) *OpenAIRunner {
	return &OpenAIRunner{
		kind:      kind,
		log:       logging.New("test"),
		newClient: func(*config.AgentSpec) chatClient { return fake },
	}
}

func textResponse(content string, reason openai.FinishReason) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
			FinishReason: reason,
		}},
	}
}

func TestOpenAIRunSingleTurn(t *testing.T) {
	t.Parallel()

	fake := &fakeChat{responses: []openai.ChatCompletionResponse{
		textResponse("done", openai.FinishReasonStop),
	}}
	spec := &config.AgentSpec{Kind: config.AgentKindCodexSDK, Model: "gpt-5", MaxTokens: 4096}

	res, err := newTestOpenAIRunner(config.AgentKindCodexSDK, fake).Run(context.Background(), spec, RunSpec{Prompt: "go"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "done\n", res.Output)
	assert.Equal(t, 1, res.NumTurns)

	require.Len(t, fake.requests, 1)
	assert.Equal(t, "gpt-5", fake.requests[0].Model)
	assert.Equal(t, 4096, fake.requests[0].MaxTokens)
	require.Len(t, fake.requests[0].Messages, 1)
	assert.Equal(t, openai.ChatMessageRoleUser, fake.requests[0].Messages[0].Role)
	assert.Equal(t, "go", fake.requests[0].Messages[0].Content)
}

func TestOpenAIRunToolLoop(t *testing.T) {
	t.Parallel()

	fake := &fakeChat{responses: []openai.ChatCompletionResponse{
		{
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{
					Role: openai.ChatMessageRoleAssistant,
					ToolCalls: []openai.ToolCall{{
						ID:   "call-1",
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      "update_story_status",
							Arguments: `{"story_id":"S-001","status":"done"}`,
						},
					}},
				},
				FinishReason: openai.FinishReasonToolCalls,
			}},
		},
		textResponse("story updated", openai.FinishReasonStop),
	}}
	tools := &fakeTools{
		defs: []ToolDef{{Name: "update_story_status", InputSchema: json.RawMessage(`{"type":"object"}`)}},
		out:  json.RawMessage(`{"ok":true}`),
	}

	events := make(chan Event, 16)
	spec := &config.AgentSpec{Kind: config.AgentKindCodexSDK, Model: "gpt-5"}
	res, err := newTestOpenAIRunner(config.AgentKindCodexSDK, fake).Run(context.Background(), spec, RunSpec{
		Prompt:       "implement",
		AllowedTools: []string{"update_story_status"},
		Tools:        tools,
		Events:       events,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.NumTurns)

	require.Equal(t, []string{"update_story_status"}, tools.called)
	assert.JSONEq(t, `{"story_id":"S-001","status":"done"}`, string(tools.inputs[0]))

	// Second request: user prompt, assistant tool call, tool result.
	require.Len(t, fake.requests, 2)
	require.Len(t, fake.requests[1].Messages, 3)
	toolMsg := fake.requests[1].Messages[2]
	assert.Equal(t, openai.ChatMessageRoleTool, toolMsg.Role)
	assert.Equal(t, "call-1", toolMsg.ToolCallID)
	assert.Equal(t, `{"ok":true}`, toolMsg.Content)

	require.Len(t, fake.requests[0].Tools, 1)
	assert.Equal(t, "update_story_status", fake.requests[0].Tools[0].Function.Name)
}

func TestOpenAIRunLengthFinish(t *testing.T) {
	t.Parallel()

	fake := &fakeChat{responses: []openai.ChatCompletionResponse{
		textResponse("partial", openai.FinishReasonLength),
	}}
	spec := &config.AgentSpec{Kind: config.AgentKindRLM, Model: "rlm-large"}

	res, err := newTestOpenAIRunner(config.AgentKindRLM, fake).Run(context.Background(), spec, RunSpec{Prompt: "p"})
	require.Error(t, err)
	assert.Equal(t, werr.SubContextWindow, werr.SubkindOf(err))
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "partial")
}

func TestOpenAIRunNoChoices(t *testing.T) {
	t.Parallel()

	fake := &fakeChat{responses: []openai.ChatCompletionResponse{{}}}
	spec := &config.AgentSpec{Kind: config.AgentKindAmpSDK, Model: "amp"}

	_, err := newTestOpenAIRunner(config.AgentKindAmpSDK, fake).Run(context.Background(), spec, RunSpec{Prompt: "p"})
	require.Error(t, err)
	assert.Equal(t, werr.KindAgent, werr.KindOf(err))
	assert.Contains(t, err.Error(), "no choices")
}

func TestOpenAIRunAPIError(t *testing.T) {
	t.Parallel()

	fake := &fakeChat{errs: []error{assert.AnError}}
	spec := &config.AgentSpec{Kind: config.AgentKindOpencodeSDK, Model: "oc"}

	_, err := newTestOpenAIRunner(config.AgentKindOpencodeSDK, fake).Run(context.Background(), spec, RunSpec{Prompt: "p"})
	require.Error(t, err)
	assert.Equal(t, werr.KindAgent, werr.KindOf(err))
	assert.Contains(t, err.Error(), "opencode_sdk")
}
