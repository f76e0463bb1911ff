package agent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wreckit-dev/wreckit/internal/config"
	"github.com/wreckit-dev/wreckit/internal/logging"
	"github.com/wreckit-dev/wreckit/internal/werr"
)

// fakeVMs records the VM lifecycle calls in order.
type fakeVMs struct {
	mu    sync.Mutex
	ops   []string
	vmDir string

	provisionErr error
	syncInErr    error
	syncBackErr  error
	destroyErr   error
}

func (f *fakeVMs) record(op string) {
	f.mu.Lock()
	f.ops = append(f.ops, op)
	f.mu.Unlock()
}

func (f *fakeVMs) Provision(context.Context, string) (string, error) {
	f.record("provision")
	return f.vmDir, f.provisionErr
}

func (f *fakeVMs) SyncIn(context.Context, string, string) error {
	f.record("sync_in")
	return f.syncInErr
}

func (f *fakeVMs) SyncBack(context.Context, string, string) error {
	f.record("sync_back")
	return f.syncBackErr
}

func (f *fakeVMs) Destroy(string) error {
	f.record("destroy")
	return f.destroyErr
}

func spriteSpec() *config.AgentSpec {
	return &config.AgentSpec{
		Kind:     config.AgentKindSprite,
		VMName:   "worker-1",
		SyncBack: true,
		Inner:    &config.AgentSpec{Kind: config.AgentKindClaudeSDK, Model: "m"},
	}
}

func newTestSpriteRunner(t *testing.T, inner Runner, vms *fakeVMs) *SpriteRunner {
	t.Helper()
	d := NewDispatcher(WithRunner(inner), withLookupEnv(envWith(nil)))
	return &SpriteRunner{
		dispatcher: d,
		vms:        vms,
		registry:   NewSandboxRegistry(),
		log:        logging.New("test"),
	}
}

func TestSpriteRunFullLifecycle(t *testing.T) {
	t.Parallel()

	vms := &fakeVMs{vmDir: "/vm/work"}
	inner := NewMockRunner(config.AgentKindClaudeSDK)
	s := newTestSpriteRunner(t, inner, vms)

	res, err := s.Run(context.Background(), spriteSpec(), RunSpec{Prompt: "go", WorkDir: "/host/repo"})
	require.NoError(t, err)
	assert.True(t, res.Success)

	assert.Equal(t, []string{"provision", "sync_in", "sync_back", "destroy"}, vms.ops)
	require.Equal(t, 1, inner.CallCount())
	assert.Equal(t, "/vm/work", inner.Calls[0].WorkDir, "inner run targets the vm copy")
	assert.Empty(t, s.registry.vms, "vm is forgotten after teardown")
}

func TestSpriteRunNoSyncBackOnInnerFailure(t *testing.T) {
	t.Parallel()

	vms := &fakeVMs{vmDir: "/vm/work"}
	inner := NewMockRunner(config.AgentKindClaudeSDK)
	inner.RunFunc = func(context.Context, *config.AgentSpec, RunSpec) (*Result, error) {
		return &Result{Success: false, ExitCode: 1},
			werr.New(werr.KindAgent, "inner run failed")
	}
	s := newTestSpriteRunner(t, inner, vms)

	_, err := s.Run(context.Background(), spriteSpec(), RunSpec{Prompt: "go", WorkDir: "/host/repo"})
	require.Error(t, err)
	assert.Equal(t, []string{"provision", "sync_in", "destroy"}, vms.ops,
		"a failed run never writes back to the host tree")
}

func TestSpriteRunNoSyncBackWhenDisabled(t *testing.T) {
	t.Parallel()

	vms := &fakeVMs{vmDir: "/vm/work"}
	s := newTestSpriteRunner(t, NewMockRunner(config.AgentKindClaudeSDK), vms)

	spec := spriteSpec()
	spec.SyncBack = false
	_, err := s.Run(context.Background(), spec, RunSpec{Prompt: "go", WorkDir: "/host/repo"})
	require.NoError(t, err)
	assert.Equal(t, []string{"provision", "sync_in", "destroy"}, vms.ops)
}

func TestSpriteRunTeardownAfterProvisionFailure(t *testing.T) {
	t.Parallel()

	vms := &fakeVMs{provisionErr: errors.New("no capacity")}
	inner := NewMockRunner(config.AgentKindClaudeSDK)
	s := newTestSpriteRunner(t, inner, vms)

	_, err := s.Run(context.Background(), spriteSpec(), RunSpec{Prompt: "go", WorkDir: "/host/repo"})
	require.Error(t, err)
	assert.Equal(t, werr.KindAgent, werr.KindOf(err))
	assert.Equal(t, []string{"provision", "destroy"}, vms.ops,
		"a half-provisioned vm is still destroyed")
	assert.Zero(t, inner.CallCount())
}

func TestSpriteRunTeardownAfterSyncInFailure(t *testing.T) {
	t.Parallel()

	vms := &fakeVMs{vmDir: "/vm/work", syncInErr: errors.New("rsync exploded")}
	inner := NewMockRunner(config.AgentKindClaudeSDK)
	s := newTestSpriteRunner(t, inner, vms)

	_, err := s.Run(context.Background(), spriteSpec(), RunSpec{Prompt: "go", WorkDir: "/host/repo"})
	require.Error(t, err)
	assert.Equal(t, []string{"provision", "sync_in", "destroy"}, vms.ops)
	assert.Zero(t, inner.CallCount())
}

func TestSpriteRunSyncBackFailureSurfaces(t *testing.T) {
	t.Parallel()

	vms := &fakeVMs{vmDir: "/vm/work", syncBackErr: errors.New("disk full")}
	s := newTestSpriteRunner(t, NewMockRunner(config.AgentKindClaudeSDK), vms)

	res, err := s.Run(context.Background(), spriteSpec(), RunSpec{Prompt: "go", WorkDir: "/host/repo"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "syncing back")
	require.NotNil(t, res, "the inner result survives a sync-back failure")
	assert.True(t, res.Success)
	assert.Equal(t, []string{"provision", "sync_in", "sync_back", "destroy"}, vms.ops)
}

func TestSpriteRunUnknownInnerKind(t *testing.T) {
	t.Parallel()

	s := newTestSpriteRunner(t, NewMockRunner(config.AgentKindClaudeSDK), &fakeVMs{})
	spec := spriteSpec()
	spec.Inner = &config.AgentSpec{Kind: config.AgentKind("nope")}

	_, err := s.Run(context.Background(), spec, RunSpec{Prompt: "go"})
	require.Error(t, err)
	assert.Equal(t, werr.KindConfig, werr.KindOf(err))
}

func TestSandboxRegistryDestroyAll(t *testing.T) {
	t.Parallel()

	r := NewSandboxRegistry()
	var destroyed []string
	var mu sync.Mutex
	track := func(name string, err error) {
		r.Track(name, func() error {
			mu.Lock()
			destroyed = append(destroyed, name)
			mu.Unlock()
			return err
		})
	}
	track("vm-a", nil)
	track("vm-b", errors.New("stuck"))
	r.Forget("never-tracked")

	r.DestroyAll()
	assert.ElementsMatch(t, []string{"vm-a", "vm-b"}, destroyed,
		"a failing teardown does not stop the others")
	assert.Empty(t, r.vms)

	r.DestroyAll()
	assert.Len(t, destroyed, 2, "destroy functions run once")
}
