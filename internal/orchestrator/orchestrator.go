// Package orchestrator selects items to run and supervises phase execution:
// worker limits, the per-item locks, the single working-tree slot for
// branch-mutating phases, and graceful drain on interrupt.
package orchestrator

import (
	"context"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/wreckit-dev/wreckit/internal/agent"
	"github.com/wreckit-dev/wreckit/internal/config"
	"github.com/wreckit-dev/wreckit/internal/item"
	"github.com/wreckit-dev/wreckit/internal/logging"
	"github.com/wreckit-dev/wreckit/internal/phase"
	"github.com/wreckit-dev/wreckit/internal/werr"
)

// PhaseRunner executes one phase for one item. *phase.Runner implements it.
type PhaseRunner interface {
	Run(ctx context.Context, id string, ph item.Phase) (phase.Outcome, error)
}

// State is the orchestrator's lifecycle position.
type State int

const (
	StateRunning State = iota
	StateDraining
	StateTerminated
)

// Orchestrator drives items through the pipeline.
type Orchestrator struct {
	cfg        *config.Config
	store      *item.Store
	runner     PhaseRunner
	dispatcher *agent.Dispatcher

	locks *item.LockSet
	// workTree serializes the phases that mutate the git working tree.
	// Research and plan never take it.
	workTree *semaphore.Weighted

	log *log.Logger

	mu    sync.Mutex
	state State
}

// New wires an orchestrator. dispatcher may be nil when the runner is a
// test fake.
func New(cfg *config.Config, store *item.Store, runner PhaseRunner, dispatcher *agent.Dispatcher) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		runner:     runner,
		dispatcher: dispatcher,
		locks:      item.NewLockSet(),
		workTree:   semaphore.NewWeighted(1),
		log:        logging.New("orchestrator"),
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Drain moves to the draining state, cancels every in-flight agent run, and
// tears down live sandbox VMs. Idempotent; the second call is a no-op so a
// repeated interrupt cannot double-destroy anything.
func (o *Orchestrator) Drain() {
	o.mu.Lock()
	if o.state != StateRunning {
		o.mu.Unlock()
		return
	}
	o.state = StateDraining
	o.mu.Unlock()

	o.log.Info("draining: cancelling agent runs")
	if o.dispatcher != nil {
		o.dispatcher.CancelAll()
		if reg := o.dispatcher.Sandboxes(); reg != nil {
			reg.DestroyAll()
		}
	}
}

// Terminate marks the orchestrator finished. Called once all workers have
// returned.
func (o *Orchestrator) Terminate() {
	o.mu.Lock()
	o.state = StateTerminated
	o.mu.Unlock()
}

func (o *Orchestrator) draining() bool {
	return o.State() != StateRunning
}

// RunPhase runs exactly one phase for one item, with the item lock and the
// working-tree slot where the phase needs it.
func (o *Orchestrator) RunPhase(ctx context.Context, id string, ph item.Phase) (phase.Outcome, error) {
	if !o.locks.TryAcquire(id) {
		return phase.OutcomeFailed, werr.Newf(werr.KindState, "item %s is already being run", id)
	}
	defer o.locks.Release(id)
	return o.runPhaseLocked(ctx, id, ph)
}

func (o *Orchestrator) runPhaseLocked(ctx context.Context, id string, ph item.Phase) (phase.Outcome, error) {
	if mutatesWorkTree(ph) {
		if err := o.workTree.Acquire(ctx, 1); err != nil {
			return phase.OutcomeFailed, werr.Wrap(werr.KindInterrupted, err, "waiting for working tree")
		}
		defer o.workTree.Release(1)
	}
	return o.runner.Run(ctx, id, ph)
}

// mutatesWorkTree reports whether a phase checks branches out and therefore
// needs the exclusive working-tree slot.
func mutatesWorkTree(ph item.Phase) bool {
	return ph == item.PhaseImplement || ph == item.PhasePR
}

// RunItem drives one item from its current state to completion or failure.
// Items parked in the failure fork are recovered first: an explicit run
// request is the user reset.
func (o *Orchestrator) RunItem(ctx context.Context, id string) error {
	if !o.locks.TryAcquire(id) {
		return werr.Newf(werr.KindState, "item %s is already being run", id)
	}
	defer o.locks.Release(id)

	it, err := o.store.Read(id)
	if err != nil {
		return err
	}
	if it.State.IsFailed() {
		if _, err := o.store.Transition(id, item.Event{Kind: item.EventUserReset}); err != nil {
			return err
		}
		o.log.Info("recovered item from failure", "item", id)
	}

	for {
		if err := ctx.Err(); err != nil {
			return werr.Wrap(werr.KindInterrupted, err, "run cancelled")
		}
		if o.draining() {
			return werr.New(werr.KindInterrupted, "orchestrator is draining")
		}

		it, err := o.store.Read(id)
		if err != nil {
			return err
		}
		ph, ok := item.NextPhase(it.State)
		if !ok {
			return nil
		}

		o.log.Info("running phase", "item", id, "phase", ph, "state", it.State)
		outcome, err := o.runPhaseLocked(ctx, id, ph)
		if err != nil {
			return err
		}
		if outcome == phase.OutcomeBlocked {
			o.log.Info("item is waiting on its pr to merge", "item", id)
			return nil
		}
		if outcome != phase.OutcomeSucceeded {
			return werr.Newf(werr.KindAgent, "phase %s %s for item %s", ph, outcome, id)
		}
	}
}

// RunAll runs every eligible item to completion with up to workers parallel
// pipelines. Per-item failures are collected, not fatal to the batch; the
// first interrupt aborts outstanding work.
func (o *Orchestrator) RunAll(ctx context.Context) error {
	items, err := o.store.List()
	if err != nil {
		return err
	}
	ids := o.selectRunnable(items)
	if len(ids) == 0 {
		o.log.Info("nothing to run")
		return nil
	}

	var g errgroup.Group
	g.SetLimit(o.cfg.Workers)

	var errMu sync.Mutex
	var firstErr error
	failed := 0

	for _, id := range ids {
		if o.draining() || ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := o.RunItem(ctx, id); err != nil {
				errMu.Lock()
				failed++
				if firstErr == nil || werr.KindOf(err) == werr.KindInterrupted {
					firstErr = err
				}
				errMu.Unlock()
				o.log.Error("item run failed", "item", id, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if failed > 0 {
		o.log.Warn("batch finished with failures", "failed", failed, "total", len(ids))
	}
	return firstErr
}

// selectRunnable filters and orders the work queue: interrupted "-ing"
// items resume first, then configured section priority, then id order.
// Failed and terminal items are skipped; recovering a failed item takes an
// explicit run request. Items at in_pr are selected so the merge check
// runs; an unmerged PR parks them again without counting as a failure.
func (o *Orchestrator) selectRunnable(items []*item.Item) []string {
	priority := make(map[string]int, len(o.cfg.SectionPriority))
	for i, section := range o.cfg.SectionPriority {
		priority[section] = i
	}
	rank := func(it *item.Item) int {
		if p, ok := priority[it.Section]; ok {
			return p
		}
		return len(priority)
	}

	var runnable []*item.Item
	for _, it := range items {
		if it.State.IsFailed() {
			continue
		}
		if _, ok := item.NextPhase(it.State); !ok {
			continue
		}
		runnable = append(runnable, it)
	}

	sort.SliceStable(runnable, func(i, j int) bool {
		ri, rj := resuming(runnable[i].State), resuming(runnable[j].State)
		if ri != rj {
			return ri
		}
		if pi, pj := rank(runnable[i]), rank(runnable[j]); pi != pj {
			return pi < pj
		}
		return runnable[i].ID < runnable[j].ID
	})

	ids := make([]string, len(runnable))
	for i, it := range runnable {
		ids[i] = it.ID
	}
	return ids
}

// resuming reports whether a state is a live "-ing" state left behind by an
// interrupted run.
func resuming(s item.State) bool {
	switch s {
	case item.StateResearching, item.StatePlanning, item.StateImplementing:
		return true
	}
	return false
}
