// Package cli implements the wreckit command surface.
package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/wreckit-dev/wreckit/internal/logging"
	"github.com/wreckit-dev/wreckit/internal/werr"
)

// Global flag values accessible to all subcommands.
var (
	flagVerbose bool
	flagQuiet   bool
	flagDir     string
	flagNoColor bool
)

// rootCmd is the base command for wreckit.
var rootCmd = &cobra.Command{
	Use:   "wreckit",
	Short: "Autonomous engineering pipeline for work items",
	Long: `Wreckit drives natural-language work items through a fixed
research -> plan -> implement -> pr -> complete pipeline, spawning an LLM
coding agent once per phase and reconciling its work with the git repository.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Check env vars for flags not explicitly set on the command line.
		if !cmd.Flags().Changed("verbose") && os.Getenv("WRECKIT_VERBOSE") != "" {
			flagVerbose = true
		}
		if !cmd.Flags().Changed("quiet") && os.Getenv("WRECKIT_QUIET") != "" {
			flagQuiet = true
		}
		if !cmd.Flags().Changed("no-color") && (os.Getenv("NO_COLOR") != "" || os.Getenv("WRECKIT_NO_COLOR") != "") {
			flagNoColor = true
		}

		jsonFormat := os.Getenv("WRECKIT_LOG_FORMAT") == "json"
		logging.Setup(flagVerbose, flagQuiet, jsonFormat)

		if flagNoColor {
			lipgloss.SetColorProfile(termenv.Ascii)
		}

		if flagDir != "" {
			if err := os.Chdir(flagDir); err != nil {
				return fmt.Errorf("changing directory to %s: %w", flagDir, err)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose (debug) output (env: WRECKIT_VERBOSE)")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress all output except errors (env: WRECKIT_QUIET)")
	rootCmd.PersistentFlags().StringVar(&flagDir, "dir", "", "Override working directory")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "Disable colored output (env: WRECKIT_NO_COLOR, NO_COLOR)")
}

// Execute runs the root command and returns the process exit code derived
// from the error taxonomy.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	if werr.KindOf(err) != werr.KindInterrupted {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return werr.ExitCode(err)
}
