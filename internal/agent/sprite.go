package agent

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/wreckit-dev/wreckit/internal/config"
	"github.com/wreckit-dev/wreckit/internal/logging"
	"github.com/wreckit-dev/wreckit/internal/werr"
)

// VMManager provisions and tears down sandbox VMs for sprite runs. The
// production implementation shells out to the sprite CLI; tests swap in a
// fake.
type VMManager interface {
	// Provision boots the named VM and returns the working directory inside
	// it that the inner run should use.
	Provision(ctx context.Context, name string) (string, error)

	// SyncIn copies the host working tree into the VM.
	SyncIn(ctx context.Context, name, hostDir string) error

	// SyncBack copies the VM working tree back to the host.
	SyncBack(ctx context.Context, name, hostDir string) error

	// Destroy tears the VM down. Must be safe to call on a VM that never
	// finished provisioning.
	Destroy(name string) error
}

// SandboxRegistry tracks live VMs so the orchestrator can destroy them on
// interrupt even while their runs are mid-flight.
type SandboxRegistry struct {
	mu  sync.Mutex
	vms map[string]func() error
	log *log.Logger
}

// NewSandboxRegistry returns an empty registry.
func NewSandboxRegistry() *SandboxRegistry {
	return &SandboxRegistry{
		vms: make(map[string]func() error),
		log: logging.New("sandbox"),
	}
}

// Track records a live VM and its destroy function.
func (r *SandboxRegistry) Track(name string, destroy func() error) {
	r.mu.Lock()
	r.vms[name] = destroy
	r.mu.Unlock()
}

// Forget removes a VM from the registry after orderly teardown.
func (r *SandboxRegistry) Forget(name string) {
	r.mu.Lock()
	delete(r.vms, name)
	r.mu.Unlock()
}

// DestroyAll tears down every tracked VM. Failures are logged, not
// returned: on the interrupt path there is nobody left to handle them.
func (r *SandboxRegistry) DestroyAll() {
	r.mu.Lock()
	vms := make(map[string]func() error, len(r.vms))
	for name, destroy := range r.vms {
		vms[name] = destroy
	}
	r.vms = make(map[string]func() error)
	r.mu.Unlock()

	for name, destroy := range vms {
		if err := destroy(); err != nil {
			r.log.Warn("vm teardown failed", "vm", name, "err", err)
		}
	}
}

// SpriteRunner wraps an inner backend in a sandbox VM: provision, sync the
// working tree in, run the inner backend against the VM copy, sync back on
// success. Teardown runs on every exit path.
type SpriteRunner struct {
	dispatcher *Dispatcher
	vms        VMManager
	registry   *SandboxRegistry
	log        *log.Logger
}

// NewSpriteRunner returns the sprite backend runner. Inner runs are routed
// back through the dispatcher's runner table.
func NewSpriteRunner(d *Dispatcher) *SpriteRunner {
	return &SpriteRunner{
		dispatcher: d,
		vms:        &spriteCLI{},
		registry:   NewSandboxRegistry(),
		log:        logging.New("agent.sprite"),
	}
}

// Registry exposes the VM registry for interrupt handling.
func (s *SpriteRunner) Registry() *SandboxRegistry { return s.registry }

// Kind implements Runner.
func (s *SpriteRunner) Kind() config.AgentKind { return config.AgentKindSprite }

// Run implements Runner.
func (s *SpriteRunner) Run(ctx context.Context, spec *config.AgentSpec, run RunSpec) (*Result, error) {
	inner, ok := s.dispatcher.runnerFor(spec.Inner.Kind)
	if !ok {
		return nil, werr.Newf(werr.KindConfig, "sprite inner kind %q has no runner", spec.Inner.Kind)
	}

	vmDir, err := s.vms.Provision(ctx, spec.VMName)
	// Destroy even when Provision failed partway; spriteCLI tolerates
	// destroying a VM that never came up.
	s.registry.Track(spec.VMName, func() error { return s.vms.Destroy(spec.VMName) })
	defer func() {
		s.registry.Forget(spec.VMName)
		if derr := s.vms.Destroy(spec.VMName); derr != nil {
			s.log.Warn("vm teardown failed", "vm", spec.VMName, "err", derr)
		}
	}()
	if err != nil {
		return nil, werr.Wrap(werr.KindAgent, err, "provisioning vm %s", spec.VMName).
			WithSub(werr.SubOther)
	}

	if run.WorkDir != "" {
		if err := s.vms.SyncIn(ctx, spec.VMName, run.WorkDir); err != nil {
			return nil, werr.Wrap(werr.KindAgent, err, "syncing into vm %s", spec.VMName).
				WithSub(werr.SubOther)
		}
	}

	innerRun := run
	innerRun.WorkDir = vmDir
	res, runErr := inner.Run(ctx, spec.Inner, innerRun)

	if runErr == nil && res != nil && res.Success && spec.SyncBack && run.WorkDir != "" {
		if err := s.vms.SyncBack(ctx, spec.VMName, run.WorkDir); err != nil {
			return res, werr.Wrap(werr.KindAgent, err, "syncing back from vm %s", spec.VMName).
				WithSub(werr.SubOther)
		}
	}
	return res, runErr
}

// Sandboxes returns the sprite backend's VM registry, or nil when no sprite
// runner is registered. The orchestrator walks it on interrupt.
func (d *Dispatcher) Sandboxes() *SandboxRegistry {
	if r, ok := d.runnerFor(config.AgentKindSprite); ok {
		if s, ok := r.(*SpriteRunner); ok {
			return s.Registry()
		}
	}
	return nil
}

// runnerFor looks a runner up by kind.
func (d *Dispatcher) runnerFor(kind config.AgentKind) (Runner, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.runners[kind]
	return r, ok
}

// spriteCLI drives the sprite command line tool.
type spriteCLI struct{}

const spriteCommandTimeout = 5 * time.Minute

func (s *spriteCLI) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, spriteCommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sprite", args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", werr.Wrap(werr.KindAgent, err, "sprite %s: %s",
			args[0], strings.TrimSpace(out.String()))
	}
	return strings.TrimSpace(out.String()), nil
}

func (s *spriteCLI) Provision(ctx context.Context, name string) (string, error) {
	out, err := s.run(ctx, "create", "--wait", name)
	if err != nil {
		return "", err
	}
	// create prints the VM working directory on its last line.
	lines := strings.Split(out, "\n")
	return strings.TrimSpace(lines[len(lines)-1]), nil
}

func (s *spriteCLI) SyncIn(ctx context.Context, name, hostDir string) error {
	_, err := s.run(ctx, "sync", hostDir, name+":")
	return err
}

func (s *spriteCLI) SyncBack(ctx context.Context, name, hostDir string) error {
	_, err := s.run(ctx, "sync", name+":", hostDir)
	return err
}

func (s *spriteCLI) Destroy(name string) error {
	_, err := s.run(context.Background(), "destroy", "--force", name)
	return err
}
