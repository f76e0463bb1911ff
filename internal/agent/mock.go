package agent

import (
	"context"
	"sync"
	"time"

	"github.com/wreckit-dev/wreckit/internal/config"
)

// Compile-time check that MockRunner implements Runner.
var _ Runner = (*MockRunner)(nil)

// MockRunner is a configurable Runner for tests and the --mock-agent flag.
// It records every call and delegates to RunFunc when set.
type MockRunner struct {
	// RunKind is the backend kind this mock stands in for.
	RunKind config.AgentKind

	// RunFunc customizes Run. Nil means a default success result.
	RunFunc func(ctx context.Context, spec *config.AgentSpec, run RunSpec) (*Result, error)

	mu sync.Mutex
	// Calls records every RunSpec passed to Run, in order.
	Calls []RunSpec
}

// NewMockRunner creates a mock for the given kind with default success
// behavior.
func NewMockRunner(kind config.AgentKind) *MockRunner {
	return &MockRunner{RunKind: kind}
}

// Kind implements Runner.
func (m *MockRunner) Kind() config.AgentKind { return m.RunKind }

// Run records the call, emits a minimal event stream, and returns either
// RunFunc's result or a default success.
func (m *MockRunner) Run(ctx context.Context, spec *config.AgentSpec, run RunSpec) (*Result, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, run)
	m.mu.Unlock()

	if m.RunFunc != nil {
		return m.RunFunc(ctx, spec, run)
	}

	emit(ctx, run.Events, Event{Type: EventAssistantText, Text: "mock output"})
	return &Result{
		RunID:                run.RunID,
		Success:              true,
		Output:               "mock output",
		Duration:             10 * time.Millisecond,
		NumTurns:             1,
		CompletionSignalSeen: true,
	}, nil
}

// CallCount returns how many runs the mock has served.
func (m *MockRunner) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// MockDispatcher returns a dispatcher whose every backend kind is served by
// the same MockRunner. Used by --mock-agent and by phase tests.
func MockDispatcher(mock *MockRunner, opts ...Option) *Dispatcher {
	d := NewDispatcher(opts...)
	for _, kind := range []config.AgentKind{
		config.AgentKindProcess, config.AgentKindClaudeSDK, config.AgentKindCodexSDK,
		config.AgentKindAmpSDK, config.AgentKindOpencodeSDK, config.AgentKindRLM, config.AgentKindSprite,
	} {
		d.runners[kind] = &runnerFunc{kind: kind, run: mock.Run}
	}
	return d
}

// runnerFunc adapts a function to the Runner interface.
type runnerFunc struct {
	kind config.AgentKind
	run  func(ctx context.Context, spec *config.AgentSpec, run RunSpec) (*Result, error)
}

func (r *runnerFunc) Kind() config.AgentKind { return r.kind }
func (r *runnerFunc) Run(ctx context.Context, spec *config.AgentSpec, run RunSpec) (*Result, error) {
	return r.run(ctx, spec, run)
}
