package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/wreckit-dev/wreckit/internal/werr"
)

func init() {
	rootCmd.AddCommand(newIdeasCmd())
}

// newIdeasCmd creates the "wreckit ideas" command, which ingests a
// free-form ideas document and turns it into work items.
func newIdeasCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "ideas <file>",
		Short: "Parse an ideas document into work items",
		Long: `Reads a free-form markdown document, asks the agent to extract discrete
ideas from it, and creates one work item per idea. Pass "-" to read the
document from stdin.`,
		Example: `  wreckit ideas BACKLOG.md
  cat notes.md | wreckit ideas -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			app, err := newApp(flags)
			if err != nil {
				return err
			}

			created, err := app.runner.IngestIdeas(cmd.Context(), doc)
			if err != nil {
				return err
			}
			for _, it := range created {
				fmt.Fprintf(cmd.OutOrStdout(), "Created %s: %s\n", it.ID, it.Title)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d item(s) created\n", len(created))
			return nil
		},
	}
	addRunFlags(cmd, &flags)
	return cmd
}

func readDocument(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", werr.Wrap(werr.KindUsage, err, "reading ideas document")
	}
	return string(data), nil
}
