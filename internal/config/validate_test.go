package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return Default()
}

func TestValidate_Defaults(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validConfig().Validate())
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "empty base branch",
			mutate:  func(c *Config) { c.BaseBranch = "" },
			wantMsg: "base_branch",
		},
		{
			name:    "empty branch prefix",
			mutate:  func(c *Config) { c.BranchPrefix = "" },
			wantMsg: "branch_prefix",
		},
		{
			name:    "bad merge mode",
			mutate:  func(c *Config) { c.MergeMode = "rebase" },
			wantMsg: "merge_mode",
		},
		{
			name: "direct merge without remote patterns",
			mutate: func(c *Config) {
				c.MergeMode = MergeModeDirect
				c.AllowUnsafeDirectMerge = true
			},
			wantMsg: "allowed_remote_patterns",
		},
		{
			name:    "zero max iterations",
			mutate:  func(c *Config) { c.MaxIterations = 0 },
			wantMsg: "max_iterations",
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Workers = 0 },
			wantMsg: "workers",
		},
		{
			name:    "empty pr check command",
			mutate:  func(c *Config) { c.PRChecks = []PRCheck{{Command: ""}} },
			wantMsg: "pr_checks[0]",
		},
		{
			name:    "process agent without command",
			mutate:  func(c *Config) { c.Agent.Command = "" },
			wantMsg: "command is required",
		},
		{
			name:    "process agent without completion signal",
			mutate:  func(c *Config) { c.Agent.CompletionSignal = "" },
			wantMsg: "completion_signal",
		},
		{
			name: "sprite without inner",
			mutate: func(c *Config) {
				c.Agent = AgentSpec{Kind: AgentKindSprite, VMName: "vm-1"}
			},
			wantMsg: "inner backend is required",
		},
		{
			name:    "critique on unsupported phase",
			mutate:  func(c *Config) { c.Critique.Phases = []string{"research", "complete"} },
			wantMsg: "does not support critique",
		},
		{
			name: "sprite wrapping sprite",
			mutate: func(c *Config) {
				c.Agent = AgentSpec{
					Kind:   AgentKindSprite,
					VMName: "vm-1",
					Inner:  &AgentSpec{Kind: AgentKindSprite, VMName: "vm-2"},
				}
			},
			wantMsg: "must not be another sprite",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestValidate_SpriteWrapsSDK(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Agent = AgentSpec{
		Kind:     AgentKindSprite,
		VMName:   "vm-7",
		SyncBack: true,
		Inner:    &AgentSpec{Kind: AgentKindClaudeSDK, Model: "claude-sonnet-4"},
	}
	assert.NoError(t, cfg.Validate())
}

func TestRequiredEnv(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		spec AgentSpec
		want []string
	}{
		{name: "process has none", spec: AgentSpec{Kind: AgentKindProcess}, want: nil},
		{name: "claude sdk", spec: AgentSpec{Kind: AgentKindClaudeSDK}, want: []string{"ANTHROPIC_API_KEY"}},
		{name: "codex sdk", spec: AgentSpec{Kind: AgentKindCodexSDK}, want: []string{"OPENAI_API_KEY"}},
		{
			name: "sprite delegates to inner",
			spec: AgentSpec{Kind: AgentKindSprite, Inner: &AgentSpec{Kind: AgentKindRLM}},
			want: []string{"RLM_API_KEY"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.spec.RequiredEnv())
		})
	}
}

func TestSkills_ToolUnion(t *testing.T) {
	t.Parallel()

	skills := &Skills{
		Skills: []Skill{
			{Name: "docs", Tools: []string{"read", "grep"}},
			{Name: "builder", Tools: []string{"bash", "edit"}},
		},
		Active: []string{"docs"},
	}

	union := skills.ToolUnion()
	assert.Equal(t, map[string]bool{"read": true, "grep": true}, union)

	// Empty Active means all skills apply.
	skills.Active = nil
	union = skills.ToolUnion()
	assert.Len(t, union, 4)

	// Nil skills means no narrowing.
	var none *Skills
	assert.Nil(t, none.ToolUnion())
}
