// Package config loads, validates, and migrates wreckit's JSON
// configuration at <root>/.wreckit/config.json. Unknown keys are preserved
// across a load/save round-trip; legacy agent objects using the "mode" key
// are migrated to the tagged-union "kind" form at load time.
package config

import "time"

// DirName is the name of the wreckit state directory.
const DirName = ".wreckit"

// FileName is the name of the configuration file inside DirName.
const FileName = "config.json"

// Merge modes.
const (
	MergeModePR     = "pr"
	MergeModeDirect = "direct"
)

// Config is the resolved top-level configuration.
type Config struct {
	BaseBranch             string   `json:"base_branch"`
	BranchPrefix           string   `json:"branch_prefix"`
	MergeMode              string   `json:"merge_mode"`
	AllowUnsafeDirectMerge bool     `json:"allow_unsafe_direct_merge,omitempty"`
	AllowedRemotePatterns  []string `json:"allowed_remote_patterns,omitempty"`

	Agent AgentSpec `json:"agent"`

	MaxIterations  int       `json:"max_iterations"`
	TimeoutSeconds int       `json:"timeout_seconds"`
	PRChecks       []PRCheck `json:"pr_checks,omitempty"`

	BranchCleanup BranchCleanup `json:"branch_cleanup"`
	Sandbox       Sandbox       `json:"sandbox"`
	Critique      Critique      `json:"critique"`

	Workers                int      `json:"workers"`
	SectionPriority        []string `json:"section_priority,omitempty"`
	DrainTimeoutSeconds    int      `json:"drain_timeout_seconds"`
	RunnerForceKillAfterMS int      `json:"runner_force_kill_after_ms"`

	// extra holds unrecognised top-level keys from the loaded file so a
	// subsequent Save does not drop them.
	extra map[string][]byte
}

// PRCheck is a shell command run locally before a PR is opened. A non-zero
// exit fails the pr phase unless AllowFailure is set.
type PRCheck struct {
	Command      string `json:"command"`
	AllowFailure bool   `json:"allow_failure,omitempty"`
}

// BranchCleanup controls what happens to an item's branch after completion.
type BranchCleanup struct {
	DeleteLocal  bool `json:"delete_local"`
	DeleteRemote bool `json:"delete_remote"`
}

// Sandbox configures ephemeral VM isolation for agent runs.
type Sandbox struct {
	Enabled  bool   `json:"enabled"`
	VMPrefix string `json:"vm_prefix,omitempty"`
}

// Critique configures the optional evaluator pass between phases.
type Critique struct {
	// Phases lists the phases for which critique is enabled.
	Phases []string `json:"phases,omitempty"`

	// MaxRounds caps re-runs after a rejection. Exceeding the cap keeps the
	// last artifact and surfaces a warning, never a hard failure.
	MaxRounds int `json:"max_rounds"`
}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		BaseBranch:   "main",
		BranchPrefix: "wreckit/",
		MergeMode:    MergeModePR,
		Agent: AgentSpec{
			Kind:             AgentKindProcess,
			Command:          "claude",
			CompletionSignal: "WRECKIT_DONE",
		},
		MaxIterations:  10,
		TimeoutSeconds: 1800,
		BranchCleanup: BranchCleanup{
			DeleteLocal: true,
		},
		Sandbox: Sandbox{
			VMPrefix: "wreckit-sandbox",
		},
		Critique: Critique{
			MaxRounds: 2,
		},
		Workers:                1,
		DrainTimeoutSeconds:    30,
		RunnerForceKillAfterMS: 5000,
	}
}

// PhaseTimeout returns the per-phase timeout as a duration.
func (c *Config) PhaseTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DrainTimeout returns the orchestrator drain window as a duration.
func (c *Config) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutSeconds) * time.Second
}

// ForceKillAfter returns the grace period before a runner is force-killed.
func (c *Config) ForceKillAfter() time.Duration {
	return time.Duration(c.RunnerForceKillAfterMS) * time.Millisecond
}

// CritiqueEnabled reports whether critique is configured for the named phase.
func (c *Config) CritiqueEnabled(phase string) bool {
	for _, p := range c.Critique.Phases {
		if p == phase {
			return true
		}
	}
	return false
}
