package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wreckit-dev/wreckit/internal/item"
	"github.com/wreckit-dev/wreckit/internal/phase"
)

func init() {
	rootCmd.AddCommand(
		newPhaseCmd(item.PhaseResearch, "Run the research phase for an item"),
		newPhaseCmd(item.PhasePlan, "Run the plan phase for an item"),
		newPhaseCmd(item.PhaseImplement, "Run the implement phase for an item"),
		newPhaseCmd(item.PhasePR, "Run the pr phase for an item"),
		newPhaseCmd(item.PhaseComplete, "Run the complete phase for an item"),
	)
}

// newPhaseCmd creates a single-phase command (wreckit research <id>, and so
// on). Each one runs exactly that phase and stops, regardless of outcome.
func newPhaseCmd(ph item.Phase, short string) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:     fmt.Sprintf("%s <item-id>", ph),
		Short:   short,
		Example: fmt.Sprintf("  wreckit %s features/001-add-rate-limiting", ph),
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(flags)
			if err != nil {
				return err
			}

			ctx, stop := interruptContext(cmd.Context(), app)
			defer stop()

			outcome, err := app.orch.RunPhase(ctx, args[0], ph)
			if err != nil {
				return err
			}
			if outcome == phase.OutcomeSucceeded {
				it, rerr := app.store.Read(args[0])
				if rerr == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s\n", args[0], ph, it.State)
					return nil
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s %s\n", args[0], ph, outcome)
			return nil
		},
	}
	addRunFlags(cmd, &flags)
	return cmd
}
