package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/wreckit-dev/wreckit/internal/config"
	"github.com/wreckit-dev/wreckit/internal/logging"
	"github.com/wreckit-dev/wreckit/internal/werr"
)

// maxInlinePromptBytes is the threshold above which the prompt is handed to
// the backend via a temp file instead of an environment variable.
const maxInlinePromptBytes = 100 * 1024

// ProcessRunner executes a subprocess backend. The contract with the child:
//
//   - The prompt arrives in WRECKIT_PROMPT, or in the file named by
//     WRECKIT_PROMPT_FILE for large prompts.
//   - The allowlist and completion signal arrive in WRECKIT_ALLOWED_TOOLS
//     and WRECKIT_COMPLETION_SIGNAL.
//   - stdout is a JSONL event stream (plain lines pass as assistant text).
//   - Tool calls appear in-band as tool_started events; the runner executes
//     them and writes a tool_result envelope line to the child's stdin.
//   - The run succeeds iff the child exits 0 AND the completion signal
//     appeared in its assistant text.
type ProcessRunner struct {
	log *log.Logger
}

// NewProcessRunner returns a runner for the process backend kind.
func NewProcessRunner() *ProcessRunner {
	return &ProcessRunner{log: logging.New("agent.process")}
}

// Kind implements Runner.
func (p *ProcessRunner) Kind() config.AgentKind { return config.AgentKindProcess }

// toolEnvelope is one response line written to the child's stdin.
type toolEnvelope struct {
	Type   string          `json:"type"`
	CallID string          `json:"call_id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Run implements Runner.
func (p *ProcessRunner) Run(ctx context.Context, spec *config.AgentSpec, run RunSpec) (*Result, error) {
	if run.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, run.Timeout)
		defer cancel()
	}

	cmd, cleanup, err := p.buildCommand(ctx, spec, run)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, werr.Wrap(werr.KindAgent, err, "creating stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, werr.Wrap(werr.KindAgent, err, "creating stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, werr.Wrap(werr.KindAgent, err, "creating stderr pipe")
	}

	p.log.Debug("starting backend", "command", spec.Command, "args", spec.Args, "run_id", run.RunID)

	allowed := toolSet(run.AllowedTools)

	var (
		output       strings.Builder
		stderrBuf    bytes.Buffer
		signalSeen   bool
		policyBreach string
		numTurns     int
		wg           sync.WaitGroup
	)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, werr.Wrap(werr.KindAgent, err, "starting %s", spec.Command)
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = stderrBuf.ReadFrom(stderr)
	}()
	go func() {
		defer wg.Done()
		defer stdin.Close()
		dec := NewStreamDecoder(stdout)
		for {
			ev, err := dec.Next()
			if err != nil {
				return
			}
			switch ev.Type {
			case EventAssistantText, EventThought:
				if ev.Type == EventAssistantText {
					output.WriteString(ev.Text)
					output.WriteByte('\n')
					if spec.CompletionSignal != "" && strings.Contains(ev.Text, spec.CompletionSignal) {
						signalSeen = true
					}
				}
				emit(ctx, run.Events, *ev)
			case EventToolStarted:
				numTurns++
				emit(ctx, run.Events, *ev)
				result := p.handleToolCall(ctx, run, allowed, ev)
				if result.Status == ToolStatusRejected && policyBreach == "" {
					policyBreach = ev.Tool
				}
				emit(ctx, run.Events, Event{
					Type:          EventToolResult,
					CallID:        result.CallID,
					Tool:          ev.Tool,
					Status:        result.Status,
					OutputSummary: summarize(result),
				})
				if line, err := json.Marshal(result); err == nil {
					_, _ = stdin.Write(append(line, '\n'))
				}
			case EventToolResult:
				// A backend reporting its own tool executions is still
				// subject to the allowlist.
				if _, ok := allowed[ev.Tool]; !ok && run.Tools != nil {
					if policyBreach == "" {
						policyBreach = ev.Tool
					}
					ev.Status = ToolStatusRejected
				}
				emit(ctx, run.Events, *ev)
			default:
				emit(ctx, run.Events, *ev)
			}
		}
	}()

	wg.Wait()
	waitErr := cmd.Wait()
	duration := time.Since(start)

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else if ctx.Err() == nil {
			return nil, werr.Wrap(werr.KindAgent, waitErr, "waiting for %s", spec.Command)
		}
	}

	res := &Result{
		RunID:                run.RunID,
		Output:               output.String(),
		Stderr:               stderrBuf.String(),
		ExitCode:             exitCode,
		Duration:             duration,
		NumTurns:             numTurns,
		CompletionSignalSeen: signalSeen,
		Success:              exitCode == 0 && signalSeen,
	}
	if rl, ok := ParseRateLimit(res.Output + res.Stderr); ok {
		res.RateLimit = rl
		return res, werr.New(werr.KindAgent, "backend rate limited").WithSub(werr.SubRateLimit)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return res, werr.Newf(werr.KindAgent, "run exceeded timeout %s", run.Timeout).
			WithSub(werr.SubTimeout)
	}
	if ctx.Err() != nil {
		return res, werr.Wrap(werr.KindInterrupted, ctx.Err(), "run canceled")
	}
	if policyBreach != "" {
		return res, werr.Newf(werr.KindAgent, "tool %q is not in the allowlist", policyBreach).
			WithSub(werr.SubPolicyViolation)
	}
	if !res.Success {
		return res, classifyProcessFailure(res, spec)
	}
	return res, nil
}

// handleToolCall enforces the allowlist and dispatches one tool invocation.
func (p *ProcessRunner) handleToolCall(ctx context.Context, run RunSpec, allowed map[string]struct{}, ev *Event) toolEnvelope {
	env := toolEnvelope{Type: string(EventToolResult), CallID: ev.CallID}

	if _, ok := allowed[ev.Tool]; !ok {
		env.Status = ToolStatusRejected
		env.Error = fmt.Sprintf("tool %q is not allowed in this phase", ev.Tool)
		return env
	}
	if run.Tools == nil {
		env.Status = ToolStatusError
		env.Error = "no tool surface available"
		return env
	}

	out, err := run.Tools.Dispatch(ctx, ev.CallID, ev.Tool, ev.Input)
	if err != nil {
		env.Status = ToolStatusError
		env.Error = err.Error()
		return env
	}
	env.Status = ToolStatusOK
	env.Output = out
	return env
}

// buildCommand constructs the child process with prompt and policy wiring.
// The returned cleanup removes any temp prompt file.
func (p *ProcessRunner) buildCommand(ctx context.Context, spec *config.AgentSpec, run RunSpec) (*exec.Cmd, func(), error) {
	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	if run.WorkDir != "" {
		cmd.Dir = run.WorkDir
	}
	setProcGroup(cmd, run.ForceKillAfter)

	env := os.Environ()
	cleanup := func() {}

	if len(run.Prompt) > maxInlinePromptBytes {
		f, err := os.CreateTemp("", "wreckit-prompt-*.md")
		if err != nil {
			return nil, nil, werr.Wrap(werr.KindAgent, err, "creating prompt file")
		}
		if _, err := f.WriteString(run.Prompt); err != nil {
			f.Close()
			os.Remove(f.Name())
			return nil, nil, werr.Wrap(werr.KindAgent, err, "writing prompt file")
		}
		f.Close()
		cleanup = func() { os.Remove(f.Name()) }
		env = append(env, "WRECKIT_PROMPT_FILE="+f.Name())
	} else {
		env = append(env, "WRECKIT_PROMPT="+run.Prompt)
	}

	env = append(env, "WRECKIT_ALLOWED_TOOLS="+strings.Join(run.AllowedTools, ","))
	if spec.CompletionSignal != "" {
		env = append(env, "WRECKIT_COMPLETION_SIGNAL="+spec.CompletionSignal)
	}
	env = append(env, run.Env...)
	cmd.Env = env

	return cmd, cleanup, nil
}

// classifyProcessFailure maps a failed run onto the error taxonomy using
// the child's output.
func classifyProcessFailure(res *Result, spec *config.AgentSpec) error {
	combined := res.Output + res.Stderr
	lower := strings.ToLower(combined)
	switch {
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key") ||
		strings.Contains(lower, "authentication"):
		return werr.Newf(werr.KindAgent, "%s reported an auth failure", spec.Command).
			WithSub(werr.SubAuth)
	case strings.Contains(lower, "context window") || strings.Contains(lower, "context length") ||
		strings.Contains(lower, "prompt is too long"):
		return werr.Newf(werr.KindAgent, "%s ran out of context window", spec.Command).
			WithSub(werr.SubContextWindow)
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "network"):
		return werr.Newf(werr.KindAgent, "%s hit a network failure", spec.Command).
			WithSub(werr.SubNetwork)
	case res.ExitCode == 0 && !res.CompletionSignalSeen:
		return werr.Newf(werr.KindAgent, "%s exited without the completion signal %q",
			spec.Command, spec.CompletionSignal).WithSub(werr.SubOther)
	default:
		return werr.Newf(werr.KindAgent, "%s exited with code %d", spec.Command, res.ExitCode).
			WithSub(werr.SubOther)
	}
}

func toolSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// summarize renders a short human-readable tool outcome for the event
// stream and phase logs.
func summarize(env toolEnvelope) string {
	if env.Error != "" {
		return env.Error
	}
	const max = 200
	s := string(env.Output)
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}
