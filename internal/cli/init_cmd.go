package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/wreckit-dev/wreckit/internal/config"
	"github.com/wreckit-dev/wreckit/internal/werr"
)

func init() {
	rootCmd.AddCommand(newInitCmd())
}

// newInitCmd creates the "wreckit init" command.
func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a wreckit project in the current directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}

func runInit(cmd *cobra.Command, force bool) error {
	cwd, err := os.Getwd()
	if err != nil {
		return werr.Wrap(werr.KindUnknown, err, "resolving working directory")
	}

	path := config.Path(cwd)
	if _, err := os.Stat(path); err == nil && !force {
		return werr.Newf(werr.KindUsage, "%s already exists (use --force to overwrite)", path)
	}

	if err := os.MkdirAll(filepath.Join(cwd, config.DirName, "items"), 0o755); err != nil {
		return werr.Wrap(werr.KindUnknown, err, "creating project directory")
	}
	if err := config.Save(config.Default(), path); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Initialized wreckit project in %s\n", filepath.Join(cwd, config.DirName))
	return nil
}
