package cli

import (
	"os"

	"github.com/wreckit-dev/wreckit/internal/agent"
	"github.com/wreckit-dev/wreckit/internal/config"
	"github.com/wreckit-dev/wreckit/internal/gitx"
	"github.com/wreckit-dev/wreckit/internal/item"
	"github.com/wreckit-dev/wreckit/internal/orchestrator"
	"github.com/wreckit-dev/wreckit/internal/phase"
	"github.com/wreckit-dev/wreckit/internal/prompt"
	"github.com/wreckit-dev/wreckit/internal/werr"
)

// app bundles the wired collaborators every workflow command needs.
type app struct {
	root       string
	cfg        *config.Config
	store      *item.Store
	dispatcher *agent.Dispatcher
	runner     *phase.Runner
	orch       *orchestrator.Orchestrator
}

// runFlags are the execution-mode switches shared by run and the per-phase
// commands.
type runFlags struct {
	Agent     string
	Sandbox   bool
	MockAgent bool
}

// resolveRoot locates the enclosing wreckit project.
func resolveRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", werr.Wrap(werr.KindUnknown, err, "resolving working directory")
	}
	root, err := config.FindRoot(cwd)
	if err != nil {
		return "", err
	}
	if root == "" {
		return "", werr.New(werr.KindUsage, "not inside a wreckit project (run `wreckit init` first)")
	}
	return root, nil
}

// newApp resolves the project root, loads config and skills, and wires the
// phase runner and orchestrator.
func newApp(flags runFlags) (*app, error) {
	root, err := resolveRoot()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(config.Path(root))
	if err != nil {
		return nil, err
	}

	if flags.Agent != "" {
		cfg.Agent.Kind = config.AgentKind(flags.Agent)
		if err := cfg.Agent.Validate(); err != nil {
			return nil, werr.Wrap(werr.KindConfig, err, "--agent")
		}
	}
	if flags.Sandbox {
		cfg.Sandbox.Enabled = true
	}

	skills, err := config.LoadSkills(root)
	if err != nil {
		return nil, werr.Wrap(werr.KindConfig, err, "loading skills")
	}

	store := item.NewStore(root)

	var dispatcher *agent.Dispatcher
	var opts []phase.Option
	if flags.MockAgent {
		dispatcher = agent.MockDispatcher(agent.NewMockRunner(cfg.Agent.Kind))
		opts = append(opts, phase.WithMock())
	} else {
		dispatcher = agent.NewDispatcher()
	}

	git, err := gitx.NewClient(root)
	if err != nil {
		return nil, err
	}

	runner := phase.NewRunner(cfg, store, prompt.NewLibrary(root),
		dispatcher, git, skills, root, opts...)

	return &app{
		root:       root,
		cfg:        cfg,
		store:      store,
		dispatcher: dispatcher,
		runner:     runner,
		orch:       orchestrator.New(cfg, store, runner, dispatcher),
	}, nil
}

// newStoreApp wires just the item store, for commands that never run an
// agent or touch git.
func newStoreApp() (*app, error) {
	root, err := resolveRoot()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(config.Path(root))
	if err != nil {
		return nil, err
	}
	return &app{root: root, cfg: cfg, store: item.NewStore(root)}, nil
}
