// Package phase drives one agent-backed pipeline phase for one item: state
// entry, prompt assembly, tool policy, the agent run itself, per-phase
// post-processing, and the optional critique pass.
package phase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/wreckit-dev/wreckit/internal/agent"
	"github.com/wreckit-dev/wreckit/internal/config"
	"github.com/wreckit-dev/wreckit/internal/gitx"
	"github.com/wreckit-dev/wreckit/internal/item"
	"github.com/wreckit-dev/wreckit/internal/logging"
	"github.com/wreckit-dev/wreckit/internal/prompt"
	"github.com/wreckit-dev/wreckit/internal/werr"
)

// Outcome is the result of one phase invocation.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeSucceeded
	OutcomeRejected
	// OutcomeBlocked means the phase cannot run yet (the item's PR has
	// not merged). The item keeps its state and records no failure.
	OutcomeBlocked
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeRejected:
		return "rejected_by_critique"
	case OutcomeBlocked:
		return "blocked"
	default:
		return "failed"
	}
}

// GitClient is the slice of the git lifecycle phases use. *gitx.Client
// implements it; tests substitute a fake.
type GitClient interface {
	EnsureBranch(ctx context.Context, branch, base string) error
	CommitAll(ctx context.Context, message string) error
	PushBranch(ctx context.Context, branch string) error
	DiffersFrom(ctx context.Context, base string) (bool, error)
	HasUncommittedChanges(ctx context.Context) (bool, error)
	OpenPR(ctx context.Context, branch, base, title, body string) (*gitx.PRInfo, error)
	PRState(ctx context.Context, number int) (string, error)
	DirectMerge(ctx context.Context, branch, base string, cfg *config.Config) error
	CleanupBranch(ctx context.Context, branch, base string, policy config.BranchCleanup)
}

// Runner executes phases. One Runner serves many items; all per-invocation
// state lives on the stack.
type Runner struct {
	cfg     *config.Config
	store   *item.Store
	prompts *prompt.Library
	agent   *agent.Dispatcher
	git     GitClient
	skills  *config.Skills

	repoRoot string
	log      *log.Logger

	mock bool

	// bus receives a copy of every agent event for the UI. Optional.
	bus chan<- agent.Event

	// runCheck executes one pr_checks command. Swappable in tests.
	runCheck func(ctx context.Context, dir, command string) error
}

// Option configures a Runner.
type Option func(*Runner)

// WithMock marks the runner as serving a mock agent: external side effects
// (push, PR) are replaced with synthetic values and missing artifacts are
// stubbed so the pipeline can be exercised end to end offline.
func WithMock() Option { return func(r *Runner) { r.mock = true } }

// WithBus fans agent events out to ch in addition to the phase log.
func WithBus(ch chan<- agent.Event) Option { return func(r *Runner) { r.bus = ch } }

// withCheckRunner substitutes pr_checks execution in tests.
func withCheckRunner(fn func(ctx context.Context, dir, command string) error) Option {
	return func(r *Runner) { r.runCheck = fn }
}

// NewRunner wires a phase runner.
func NewRunner(cfg *config.Config, store *item.Store, prompts *prompt.Library,
	dispatcher *agent.Dispatcher, git GitClient, skills *config.Skills,
	repoRoot string, opts ...Option) *Runner {

	r := &Runner{
		cfg:      cfg,
		store:    store,
		prompts:  prompts,
		agent:    dispatcher,
		git:      git,
		skills:   skills,
		repoRoot: repoRoot,
		log:      logging.New("phase"),
		runCheck: runShellCheck,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drives one phase for one item through the common protocol: state
// entry, the phase body, the failure fork, and the critique loop. The
// caller holds the per-item lock.
func (r *Runner) Run(ctx context.Context, id string, ph item.Phase) (Outcome, error) {
	if !item.ValidPhase(ph) {
		return OutcomeFailed, werr.Newf(werr.KindUsage, "unknown phase %q", ph)
	}

	if _, err := r.store.Transition(id, item.Event{Kind: item.EventStartPhase, Phase: ph}); err != nil {
		return OutcomeFailed, err
	}
	if _, err := r.store.Mutate(id, func(it *item.Item) error {
		it.CritiqueRounds = 0
		return nil
	}); err != nil {
		return OutcomeFailed, err
	}

	feedback := ""
	artifactRetried := false
	for {
		err := r.runPhase(ctx, id, ph, feedback)

		switch {
		case err == nil:
			// fall through to the success path below

		case errors.Is(err, errPRNotMerged):
			// Not a failure: the item stays parked at in_pr until the
			// merge lands. No error is recorded on the item.
			r.log.Info("pr not merged yet, leaving item parked", "item", id, "reason", err)
			return OutcomeBlocked, nil

		case werr.KindOf(err) == werr.KindInterrupted:
			// Leave the item in its "-ing" state so a later run resumes it.
			r.recordError(id, err)
			return OutcomeFailed, err

		case werr.KindOf(err) == werr.KindArtifact && !artifactRetried:
			// One automatic re-run with the artifact problem fed back in.
			r.log.Warn("artifact check failed, retrying phase once",
				"item", id, "phase", ph, "err", err)
			artifactRetried = true
			feedback = err.Error()
			continue

		default:
			r.recordError(id, err)
			if _, terr := r.store.Transition(id, item.Event{Kind: item.EventPhaseFailed, Phase: ph}); terr != nil {
				r.log.Error("could not record phase failure", "item", id, "err", terr)
			}
			return OutcomeFailed, err
		}

		if _, err := r.store.Transition(id, item.Event{Kind: item.EventPhaseSucceeded, Phase: ph}); err != nil {
			return OutcomeFailed, err
		}

		if !r.cfg.CritiqueEnabled(string(ph)) {
			return OutcomeSucceeded, nil
		}

		// Each critique evaluation counts as a round, approved or not.
		it, err := r.store.Mutate(id, func(it *item.Item) error {
			it.CritiqueRounds++
			return nil
		})
		if err != nil {
			return OutcomeFailed, err
		}

		verdict, err := r.critique(ctx, id, ph)
		if err != nil {
			r.log.Warn("critique pass failed, keeping artifact", "item", id, "phase", ph, "err", err)
			return OutcomeSucceeded, nil
		}
		if verdict.Approved {
			return OutcomeSucceeded, nil
		}

		if it.CritiqueRounds >= r.cfg.Critique.MaxRounds {
			r.log.Warn("critique rounds exhausted, keeping unaccepted artifact",
				"item", id, "phase", ph, "rounds", it.CritiqueRounds)
			return OutcomeSucceeded, nil
		}

		if err := r.rejectAndRestart(ctx, id, ph, verdict.Feedback); err != nil {
			return OutcomeFailed, err
		}
		feedback = verdict.Feedback
		artifactRetried = false
	}
}

// rejectAndRestart rolls the item back one state, appends the critique
// feedback to the phase artifact, and re-enters the phase.
func (r *Runner) rejectAndRestart(ctx context.Context, id string, ph item.Phase, feedback string) error {
	if _, err := r.store.Transition(id, item.Event{Kind: item.EventCritiqueRejected, Phase: ph}); err != nil {
		return err
	}
	if name := artifactFor(ph); name != "" && feedback != "" {
		note := fmt.Sprintf("\n\n## Critique feedback\n\n%s\n", feedback)
		prev, _ := r.store.ReadArtifact(id, name)
		if err := r.store.WriteArtifact(id, name, append(prev, []byte(note)...)); err != nil {
			r.log.Warn("could not append critique feedback", "item", id, "err", err)
		}
	}
	_, err := r.store.Transition(id, item.Event{Kind: item.EventStartPhase, Phase: ph})
	return err
}

// runPhase dispatches to the phase body.
func (r *Runner) runPhase(ctx context.Context, id string, ph item.Phase, feedback string) error {
	switch ph {
	case item.PhaseResearch:
		return r.research(ctx, id, feedback)
	case item.PhasePlan:
		return r.plan(ctx, id, feedback)
	case item.PhaseImplement:
		return r.implement(ctx, id, feedback)
	case item.PhasePR:
		return r.pr(ctx, id, feedback)
	case item.PhaseComplete:
		return r.complete(ctx, id, feedback)
	default:
		return werr.Newf(werr.KindUsage, "unknown phase %q", ph)
	}
}

// recordError persists the failure on the item without touching state.
func (r *Runner) recordError(id string, cause error) {
	if _, err := r.store.Mutate(id, func(it *item.Item) error {
		it.LastError = cause.Error()
		return nil
	}); err != nil {
		r.log.Error("could not record error", "item", id, "err", err)
	}
}

// invoke runs the agent once for a phase and streams its events into the
// item's phase log and the UI bus.
func (r *Runner) invoke(ctx context.Context, id string, ph item.Phase, promptText string,
	allowed []string, tools agent.ToolDispatcher) (*agent.Result, error) {

	events := make(chan agent.Event, 64)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for ev := range events {
			if line, err := json.Marshal(ev); err == nil {
				if logErr := r.store.AppendPhaseLog(id, ph, append(line, '\n')); logErr != nil {
					r.log.Debug("phase log write failed", "item", id, "err", logErr)
				}
			}
			if r.bus != nil {
				select {
				case r.bus <- ev:
				case <-ctx.Done():
				}
			}
		}
	}()

	res, err := r.agent.Run(ctx, r.agentSpec(id), agent.RunSpec{
		Prompt:         promptText,
		WorkDir:        r.repoRoot,
		AllowedTools:   allowed,
		Tools:          tools,
		Timeout:        r.cfg.PhaseTimeout(),
		ForceKillAfter: r.cfg.ForceKillAfter(),
		Events:         events,
	})
	close(events)
	<-drained

	if err != nil {
		return res, err
	}
	if !res.Success {
		return res, werr.Newf(werr.KindAgent, "agent run did not complete successfully").
			WithSub(werr.SubOther)
	}
	return res, nil
}

// agentSpec resolves the backend config for a run, wrapping it in a sandbox
// VM when the sandbox policy is on.
func (r *Runner) agentSpec(id string) *config.AgentSpec {
	spec := r.cfg.Agent
	if !r.cfg.Sandbox.Enabled {
		return &spec
	}
	inner := spec
	return &config.AgentSpec{
		Kind:     config.AgentKindSprite,
		VMName:   r.cfg.Sandbox.VMPrefix + "-" + sanitizeVMName(id),
		SyncBack: true,
		Inner:    &inner,
	}
}

func sanitizeVMName(id string) string {
	return strings.ReplaceAll(id, "/", "-")
}

// promptInputs gathers the variable sources shared by every phase.
func (r *Runner) promptInputs(id string, feedback string) (prompt.Inputs, error) {
	it, err := r.store.Read(id)
	if err != nil {
		return prompt.Inputs{}, err
	}
	stories, err := r.store.Stories(id)
	if err != nil {
		return prompt.Inputs{}, err
	}
	prd, _ := r.store.PRD(id)
	research, _ := r.store.ReadArtifact(id, item.ResearchFile)
	plan, _ := r.store.ReadArtifact(id, item.PlanFile)

	return prompt.Inputs{
		Item:       it,
		PRD:        prd,
		Stories:    stories,
		RepoRoot:   r.repoRoot,
		BaseBranch: r.cfg.BaseBranch,
		Branch:     it.Branch,
		AgentKind:  string(r.cfg.Agent.Kind),
		Research:   string(research),
		Plan:       string(plan),
		Feedback:   feedback,
	}, nil
}

// assemble renders a named template against the inputs.
func (r *Runner) assemble(name string, in prompt.Inputs, allowed []string) (string, error) {
	in.AllowedTools = allowed
	return r.prompts.Assemble(name, prompt.Build(in))
}

// artifactFor maps a phase to the artifact critique feedback lands in.
func artifactFor(ph item.Phase) string {
	switch ph {
	case item.PhaseResearch:
		return item.ResearchFile
	case item.PhasePlan:
		return item.PlanFile
	case item.PhasePR:
		return item.PRFile
	default:
		return ""
	}
}

// runShellCheck is the production pr_checks executor.
func runShellCheck(ctx context.Context, dir, command string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return werr.Newf(werr.KindGit, "check %q exited %d: %s",
				command, exitErr.ExitCode(), strings.TrimSpace(string(out)))
		}
		return werr.Wrap(werr.KindGit, err, "running check %q", command)
	}
	return nil
}
