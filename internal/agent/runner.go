package agent

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/wreckit-dev/wreckit/internal/config"
	"github.com/wreckit-dev/wreckit/internal/logging"
	"github.com/wreckit-dev/wreckit/internal/werr"
)

// Runner executes runs for one backend kind.
type Runner interface {
	Kind() config.AgentKind
	Run(ctx context.Context, spec *config.AgentSpec, run RunSpec) (*Result, error)
}

// Dispatcher routes runs to the runner for the configured backend kind and
// owns the cross-cutting run machinery: run ids, env preflight, dry-run,
// rate-limit retry, and the active-run registry the orchestrator walks on
// interrupt.
type Dispatcher struct {
	mu      sync.Mutex
	runners map[config.AgentKind]Runner
	active  map[string]context.CancelFunc

	backoff Backoff
	log     *log.Logger

	lookupEnv func(string) (string, bool)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithBackoff overrides the transient-failure retry policy.
func WithBackoff(b Backoff) Option {
	return func(d *Dispatcher) { d.backoff = b }
}

// WithRunner registers or replaces the runner for its kind. Used by tests
// and by --mock-agent to swap real backends out.
func WithRunner(r Runner) Option {
	return func(d *Dispatcher) { d.runners[r.Kind()] = r }
}

// withLookupEnv overrides env preflight lookups in tests.
func withLookupEnv(fn func(string) (string, bool)) Option {
	return func(d *Dispatcher) { d.lookupEnv = fn }
}

// NewDispatcher creates a dispatcher with every production runner
// registered. The sprite runner dispatches its inner config back through
// this dispatcher.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		runners: make(map[config.AgentKind]Runner),
		active:  make(map[string]context.CancelFunc),
		backoff: DefaultBackoff(),
		log:     logging.New("agent"),
	}

	for _, r := range []Runner{
		NewProcessRunner(),
		NewClaudeRunner(),
		NewOpenAIRunner(config.AgentKindCodexSDK),
		NewOpenAIRunner(config.AgentKindAmpSDK),
		NewOpenAIRunner(config.AgentKindOpencodeSDK),
		NewOpenAIRunner(config.AgentKindRLM),
	} {
		d.runners[r.Kind()] = r
	}
	d.runners[config.AgentKindSprite] = NewSpriteRunner(d)

	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes one agent run. The terminal run_result or error event is
// always emitted before Run returns.
func (d *Dispatcher) Run(ctx context.Context, spec *config.AgentSpec, run RunSpec) (*Result, error) {
	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}

	if err := d.checkEnv(spec); err != nil {
		emit(ctx, run.Events, Event{Type: EventError, Message: err.Error(), Classification: werr.SubAuth})
		return nil, err
	}

	if run.DryRun {
		return d.dryRun(ctx, spec, run), nil
	}

	d.mu.Lock()
	runner, ok := d.runners[spec.Kind]
	d.mu.Unlock()
	if !ok {
		err := werr.Newf(werr.KindConfig, "no runner for backend kind %q", spec.Kind)
		emit(ctx, run.Events, Event{Type: EventError, Message: err.Error(), Classification: werr.SubOther})
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.register(run.RunID, cancel)
	defer d.unregister(run.RunID)

	start := time.Now()
	res, err := d.backoff.Retry(runCtx, func(ctx context.Context) (*Result, error) {
		return runner.Run(ctx, spec, run)
	})

	switch {
	case err != nil:
		class := werr.SubkindOf(err)
		if werr.KindOf(err) != werr.KindAgent {
			class = werr.SubOther
		}
		if runCtx.Err() != nil && werr.KindOf(err) != werr.KindInterrupted {
			class = werr.SubTimeout
		}
		// The terminal event goes to the parent context; runCtx may already
		// be dead.
		emit(ctx, run.Events, Event{Type: EventError, Message: err.Error(), Classification: class})
	case res != nil:
		emit(ctx, run.Events, Event{
			Type:       EventRunResult,
			Success:    res.Success,
			DurationMS: res.Duration.Milliseconds(),
			NumTurns:   res.NumTurns,
		})
	}

	d.log.Debug("run finished",
		"run_id", run.RunID,
		"kind", spec.Kind,
		"duration", time.Since(start),
		"err", err)
	return res, err
}

// CancelAll cancels every active run. Used when the orchestrator drains.
func (d *Dispatcher) CancelAll() {
	d.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(d.active))
	for _, c := range d.active {
		cancels = append(cancels, c)
	}
	d.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

// ActiveRuns lists the ids of runs currently in flight, sorted.
func (d *Dispatcher) ActiveRuns() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.active))
	for id := range d.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (d *Dispatcher) register(id string, cancel context.CancelFunc) {
	d.mu.Lock()
	d.active[id] = cancel
	d.mu.Unlock()
}

func (d *Dispatcher) unregister(id string) {
	d.mu.Lock()
	delete(d.active, id)
	d.mu.Unlock()
}

// checkEnv verifies the backend's required environment variables up front so
// a missing key fails in milliseconds, not after a network round trip.
func (d *Dispatcher) checkEnv(spec *config.AgentSpec) error {
	lookup := d.lookupEnv
	if lookup == nil {
		lookup = lookupOSEnv
	}
	var missing []string
	for _, name := range spec.RequiredEnv() {
		if v, ok := lookup(name); !ok || v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return werr.Newf(werr.KindAgent, "missing required environment: %v", missing).
			WithSub(werr.SubAuth)
	}
	return nil
}

func lookupOSEnv(name string) (string, bool) {
	return os.LookupEnv(name)
}

// dryRun emits a synthetic successful run without touching any backend.
func (d *Dispatcher) dryRun(ctx context.Context, spec *config.AgentSpec, run RunSpec) *Result {
	desc := "dry run: would invoke " + string(spec.Kind) + " backend"
	emit(ctx, run.Events, Event{Type: EventAssistantText, Text: desc})
	emit(ctx, run.Events, Event{Type: EventRunResult, Success: true})
	return &Result{
		RunID:                run.RunID,
		Success:              true,
		Output:               desc,
		CompletionSignalSeen: true,
	}
}
