package config

import "fmt"

// Validate checks the resolved configuration for internal consistency.
// All detected problems are reported one at a time, first error wins, since
// a broken config blocks every command anyway.
func (c *Config) Validate() error {
	if c.BaseBranch == "" {
		return fmt.Errorf("base_branch must not be empty")
	}
	if c.BranchPrefix == "" {
		return fmt.Errorf("branch_prefix must not be empty")
	}

	switch c.MergeMode {
	case MergeModePR, MergeModeDirect:
	default:
		return fmt.Errorf("merge_mode must be %q or %q, got %q", MergeModePR, MergeModeDirect, c.MergeMode)
	}

	if c.MergeMode == MergeModeDirect && c.AllowUnsafeDirectMerge && len(c.AllowedRemotePatterns) == 0 {
		return fmt.Errorf("direct merge requires at least one allowed_remote_patterns entry")
	}

	if c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be >= 1, got %d", c.MaxIterations)
	}
	if c.TimeoutSeconds < 1 {
		return fmt.Errorf("timeout_seconds must be >= 1, got %d", c.TimeoutSeconds)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.DrainTimeoutSeconds < 0 {
		return fmt.Errorf("drain_timeout_seconds must be >= 0, got %d", c.DrainTimeoutSeconds)
	}
	if c.RunnerForceKillAfterMS < 0 {
		return fmt.Errorf("runner_force_kill_after_ms must be >= 0, got %d", c.RunnerForceKillAfterMS)
	}
	if c.Critique.MaxRounds < 1 {
		return fmt.Errorf("critique.max_rounds must be >= 1, got %d", c.Critique.MaxRounds)
	}
	for _, phase := range c.Critique.Phases {
		switch phase {
		case "research", "plan", "implement":
		default:
			return fmt.Errorf("critique.phases: %q does not support critique", phase)
		}
	}

	for i, check := range c.PRChecks {
		if check.Command == "" {
			return fmt.Errorf("pr_checks[%d]: command must not be empty", i)
		}
	}

	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	return nil
}
