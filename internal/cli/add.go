package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newAddCmd())
}

// newAddCmd creates the "wreckit add" command.
func newAddCmd() *cobra.Command {
	var (
		section  string
		overview string
	)

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a new work item in the idea state",
		Example: `  wreckit add "Add request rate limiting" --section features
  wreckit add "Fix flaky websocket reconnect" --section bugs --overview "Clients drop after idle timeout"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newStoreApp()
			if err != nil {
				return err
			}
			it, err := app.store.Create(section, args[0], overview)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", it.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&section, "section", "features", "Section the item belongs to")
	cmd.Flags().StringVar(&overview, "overview", "", "Short description of the item")
	return cmd
}
