package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wreckit-dev/wreckit/internal/item"
	"github.com/wreckit-dev/wreckit/internal/werr"
)

// runCmdFlags holds the flag values for the run command.
type runCmdFlags struct {
	runFlags
	All    bool
	Phase  string
	DryRun bool
}

func init() {
	rootCmd.AddCommand(newRunCmd())
}

// addRunFlags registers the execution-mode flags shared by every command
// that spawns agents.
func addRunFlags(cmd *cobra.Command, flags *runFlags) {
	cmd.Flags().StringVar(&flags.Agent, "agent", "", "Agent kind override (process, claude_sdk, codex_sdk, amp_sdk, opencode_sdk, rlm)")
	cmd.Flags().BoolVar(&flags.Sandbox, "sandbox", false, "Run agents inside ephemeral sandbox VMs")
	cmd.Flags().BoolVar(&flags.MockAgent, "mock-agent", false, "Replace the agent with a deterministic mock")
}

// newRunCmd creates the "wreckit run" command.
func newRunCmd() *cobra.Command {
	var flags runCmdFlags

	cmd := &cobra.Command{
		Use:   "run [<item-id>]",
		Short: "Run the pipeline for one item or for every runnable item",
		Long: `Drives an item through its remaining phases, spawning one agent per
phase. With --all (or no item id), every runnable item is processed,
ordered by section priority, up to the configured worker count.

The first interrupt drains gracefully: running phases finish or are
cancelled and sandboxes are destroyed. A second interrupt exits
immediately.`,
		Example: `  wreckit run features/001-add-rate-limiting
  wreckit run --all
  wreckit run features/001-add-rate-limiting --phase implement
  wreckit run --all --dry-run`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args, flags)
		},
	}
	cmd.Flags().BoolVar(&flags.All, "all", false, "Run every runnable item")
	cmd.Flags().StringVar(&flags.Phase, "phase", "", "Run only this phase (research, plan, implement, pr, complete)")
	cmd.Flags().BoolVar(&flags.DryRun, "dry-run", false, "Show what would run without executing anything")
	addRunFlags(cmd, &flags.runFlags)
	return cmd
}

func runRun(cmd *cobra.Command, args []string, flags runCmdFlags) error {
	id := ""
	if len(args) == 1 {
		id = args[0]
	}
	if flags.All && id != "" {
		return werr.New(werr.KindUsage, "--all cannot be combined with an item id")
	}
	if flags.Phase != "" {
		if id == "" {
			return werr.New(werr.KindUsage, "--phase requires an item id")
		}
		if !item.ValidPhase(item.Phase(flags.Phase)) {
			return werr.Newf(werr.KindUsage, "unknown phase %q", flags.Phase)
		}
	}

	if flags.DryRun {
		return previewRun(cmd, id, flags.Phase)
	}

	app, err := newApp(flags.runFlags)
	if err != nil {
		return err
	}

	ctx, stop := interruptContext(cmd.Context(), app)
	defer stop()

	switch {
	case flags.Phase != "":
		_, err = app.orch.RunPhase(ctx, id, item.Phase(flags.Phase))
	case id != "":
		err = app.orch.RunItem(ctx, id)
	default:
		err = app.orch.RunAll(ctx)
	}
	if err != nil {
		printLogPointer(cmd, app, id, err)
	}
	return err
}

// printLogPointer points the user at the phase event log after a run
// failure, when there is a single item to point at.
func printLogPointer(cmd *cobra.Command, app *app, id string, err error) {
	switch werr.KindOf(err) {
	case werr.KindUsage, werr.KindNotFound, werr.KindInterrupted:
		return
	}
	if id == "" {
		return
	}
	dir, derr := app.store.Dir(id)
	if derr != nil {
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "See %s for the agent event log\n", filepath.Join(dir, "logs"))
}

// interruptContext returns a context cancelled on the first SIGINT or
// SIGTERM after draining the orchestrator. A second signal force-exits.
func interruptContext(parent context.Context, app *app) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case <-done:
			return
		case <-sigs:
		}
		fmt.Fprintln(os.Stderr, "Interrupted, draining (interrupt again to force exit)")
		app.orch.Drain()
		cancel()

		select {
		case <-done:
		case <-sigs:
			app.orch.Terminate()
			os.Exit(werr.KindInterrupted.ExitCode())
		case <-time.After(app.cfg.DrainTimeout()):
			app.orch.Terminate()
		}
	}()

	return ctx, func() {
		close(done)
		signal.Stop(sigs)
		cancel()
	}
}

// previewRun prints the phases that would execute without running any of
// them or touching item state.
func previewRun(cmd *cobra.Command, id, phaseOverride string) error {
	app, err := newStoreApp()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	preview := func(it *item.Item) {
		if phaseOverride != "" {
			fmt.Fprintf(out, "%s  (%s) would run %s\n", it.ID, it.State, phaseOverride)
			return
		}
		if _, ok := item.NextPhase(it.State); !ok {
			fmt.Fprintf(out, "%s  (%s) nothing to do\n", it.ID, it.State)
			return
		}
		var rest []string
		for st := it.State; ; {
			next, more := item.NextPhase(st)
			if !more {
				break
			}
			rest = append(rest, string(next))
			st = item.SuccessState(next)
		}
		fmt.Fprintf(out, "%s  (%s) would run %s\n", it.ID, it.State, strings.Join(rest, ", "))
	}

	if id != "" {
		it, err := app.store.Read(id)
		if err != nil {
			return err
		}
		preview(it)
		return nil
	}

	items, err := app.store.List()
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(out, "No items found.")
		return nil
	}
	for _, it := range items {
		if it.State.IsFailed() {
			fmt.Fprintf(out, "%s  (%s) skipped until reset\n", it.ID, it.State)
			continue
		}
		preview(it)
	}
	return nil
}
