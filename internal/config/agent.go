package config

import (
	"encoding/json"
	"errors"
	"fmt"
)

// AgentKind identifies an agent backend variant.
type AgentKind string

// Recognised backend kinds. The set is deliberately open for additions;
// anything else is rejected at parse time with ErrUnknownBackend.
const (
	AgentKindProcess     AgentKind = "process"
	AgentKindClaudeSDK   AgentKind = "claude_sdk"
	AgentKindCodexSDK    AgentKind = "codex_sdk"
	AgentKindAmpSDK      AgentKind = "amp_sdk"
	AgentKindOpencodeSDK AgentKind = "opencode_sdk"
	AgentKindRLM         AgentKind = "rlm"
	AgentKindSprite      AgentKind = "sprite"
)

// ErrUnknownBackend is returned when an agent object carries a kind that no
// runner implements.
var ErrUnknownBackend = errors.New("unknown agent backend")

var knownKinds = map[AgentKind]bool{
	AgentKindProcess:     true,
	AgentKindClaudeSDK:   true,
	AgentKindCodexSDK:    true,
	AgentKindAmpSDK:      true,
	AgentKindOpencodeSDK: true,
	AgentKindRLM:         true,
	AgentKindSprite:      true,
}

// AgentSpec is the tagged union over agent backends. Kind selects the
// variant; the remaining fields are variant-specific and zero for other
// kinds.
type AgentSpec struct {
	Kind AgentKind `json:"kind"`

	// process: subprocess binary invocation. CompletionSignal is the string
	// the agent must print to stdout for the run to count as successful.
	Command          string   `json:"command,omitempty"`
	Args             []string `json:"args,omitempty"`
	CompletionSignal string   `json:"completion_signal,omitempty"`

	// SDK variants: hosted model sessions.
	Model          string `json:"model,omitempty"`
	MaxTokens      int    `json:"max_tokens,omitempty"`
	PermissionMode string `json:"permission_mode,omitempty"`

	// BaseURL points amp_sdk, opencode_sdk, and rlm runners at their
	// OpenAI-compatible endpoint. Empty means the runner's env default.
	BaseURL string `json:"base_url,omitempty"`

	// sprite: ephemeral remote VM wrapping another backend.
	VMName   string     `json:"vm_name,omitempty"`
	SyncBack bool       `json:"sync_back,omitempty"`
	Inner    *AgentSpec `json:"inner,omitempty"`
}

// agentSpecAlias avoids UnmarshalJSON recursion.
type agentSpecAlias AgentSpec

// legacyAgent is the pre-union config shape: {"mode": "process"|"sdk", ...}.
type legacyAgent struct {
	Mode string `json:"mode"`
}

// UnmarshalJSON decodes an agent object, migrating the legacy "mode" form to
// the tagged-union "kind" form and rejecting unknown kinds. The migration is
// one-way and happens only in memory; the user's file is never rewritten
// implicitly.
func (a *AgentSpec) UnmarshalJSON(data []byte) error {
	var alias agentSpecAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	if alias.Kind == "" {
		// Legacy shape: derive kind from mode.
		var legacy legacyAgent
		if err := json.Unmarshal(data, &legacy); err != nil {
			return err
		}
		switch legacy.Mode {
		case "process":
			alias.Kind = AgentKindProcess
		case "sdk":
			alias.Kind = AgentKindClaudeSDK
		case "":
			return fmt.Errorf("agent object has neither \"kind\" nor legacy \"mode\"")
		default:
			return fmt.Errorf("legacy agent mode %q: %w", legacy.Mode, ErrUnknownBackend)
		}
	}

	if !knownKinds[alias.Kind] {
		return fmt.Errorf("agent kind %q: %w", alias.Kind, ErrUnknownBackend)
	}

	*a = AgentSpec(alias)
	return nil
}

// Validate checks variant-specific requirements.
func (a *AgentSpec) Validate() error {
	switch a.Kind {
	case AgentKindProcess:
		if a.Command == "" {
			return fmt.Errorf("process agent: command is required")
		}
		if a.CompletionSignal == "" {
			return fmt.Errorf("process agent: completion_signal is required")
		}
	case AgentKindSprite:
		if a.VMName == "" {
			return fmt.Errorf("sprite agent: vm_name is required")
		}
		if a.Inner == nil {
			return fmt.Errorf("sprite agent: inner backend is required")
		}
		if a.Inner.Kind == AgentKindSprite {
			return fmt.Errorf("sprite agent: inner backend must not be another sprite")
		}
		return a.Inner.Validate()
	case AgentKindClaudeSDK, AgentKindCodexSDK, AgentKindAmpSDK, AgentKindOpencodeSDK, AgentKindRLM:
		// Model defaults are applied by the runner; nothing mandatory here.
	default:
		return fmt.Errorf("agent kind %q: %w", a.Kind, ErrUnknownBackend)
	}
	return nil
}

// RequiredEnv returns the environment variables the backend needs. The core
// logs which of these are missing before dispatching a run.
func (a *AgentSpec) RequiredEnv() []string {
	switch a.Kind {
	case AgentKindClaudeSDK:
		return []string{"ANTHROPIC_API_KEY"}
	case AgentKindCodexSDK:
		return []string{"OPENAI_API_KEY"}
	case AgentKindAmpSDK:
		return []string{"AMP_API_KEY"}
	case AgentKindOpencodeSDK:
		return []string{"OPENCODE_API_KEY"}
	case AgentKindRLM:
		return []string{"RLM_API_KEY"}
	case AgentKindSprite:
		if a.Inner != nil {
			return a.Inner.RequiredEnv()
		}
	}
	return nil
}
