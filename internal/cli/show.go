package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/wreckit-dev/wreckit/internal/item"
)

// showFlags holds the flag values for the show command.
type showFlags struct {
	JSON      bool // --json for structured output
	Artifacts bool // --artifacts to inline artifact contents
}

// showOutput is the JSON output type for the show command.
type showOutput struct {
	Item      *item.Item        `json:"item"`
	PRD       *item.PRD         `json:"prd,omitempty"`
	Artifacts map[string]string `json:"artifacts,omitempty"`
}

func init() {
	rootCmd.AddCommand(newShowCmd())
}

// newShowCmd creates the "wreckit show" command.
func newShowCmd() *cobra.Command {
	var flags showFlags

	cmd := &cobra.Command{
		Use:   "show <item-id>",
		Short: "Show a work item's state, stories, and artifacts",
		Example: `  wreckit show features/001-add-rate-limiting
  wreckit show bugs/002-flaky-reconnect --artifacts`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd, args[0], flags)
		},
	}
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "Output structured JSON to stdout")
	cmd.Flags().BoolVar(&flags.Artifacts, "artifacts", false, "Inline artifact file contents")
	return cmd
}

func runShow(cmd *cobra.Command, id string, flags showFlags) error {
	app, err := newStoreApp()
	if err != nil {
		return err
	}

	it, err := app.store.Read(id)
	if err != nil {
		return err
	}
	prd, _ := app.store.PRD(id)
	artifacts := readArtifacts(app.store, id)

	if flags.JSON {
		out := showOutput{Item: it, PRD: prd}
		if flags.Artifacts {
			out.Artifacts = artifacts
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	renderItem(cmd.OutOrStdout(), it, prd, artifacts, flags.Artifacts)
	return nil
}

func readArtifacts(store *item.Store, id string) map[string]string {
	artifacts := map[string]string{}
	for _, name := range []string{item.ResearchFile, item.PlanFile, item.PRFile} {
		data, err := store.ReadArtifact(id, name)
		if err != nil {
			continue
		}
		artifacts[name] = string(data)
	}
	return artifacts
}

func renderItem(w io.Writer, it *item.Item, prd *item.PRD, artifacts map[string]string, inline bool) {
	titleStyle := lipgloss.NewStyle().Bold(true)
	labelStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	fmt.Fprintln(w, titleStyle.Render(it.ID))
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Title:"), it.Title)
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("State:"), stateStyleFor(it.State).Render(string(it.State)))
	if it.Overview != "" {
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Overview:"), it.Overview)
	}
	if it.Branch != "" {
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Branch:"), it.Branch)
	}
	if it.PRURL != "" {
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render("PR:"), it.PRURL)
	}
	if it.Retries > 0 {
		fmt.Fprintf(w, "%s %d\n", labelStyle.Render("Retries:"), it.Retries)
	}
	if it.LastError != "" {
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Last error:"), it.LastError)
	}

	if prd != nil && len(prd.Stories) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, titleStyle.Render("Stories"))
		for _, s := range prd.Stories {
			fmt.Fprintf(w, "  [%s] %s %s\n", storyMark(s.Status), s.StoryID, s.Title)
		}
	}

	if len(artifacts) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, titleStyle.Render("Artifacts"))
		for _, name := range []string{item.ResearchFile, item.PlanFile, item.PRFile} {
			content, ok := artifacts[name]
			if !ok {
				continue
			}
			if inline {
				fmt.Fprintf(w, "--- %s ---\n%s\n", name, strings.TrimRight(content, "\n"))
			} else {
				fmt.Fprintf(w, "  %s (%d bytes)\n", name, len(content))
			}
		}
	}
}

func storyMark(st item.StoryStatus) string {
	switch st {
	case item.StoryDone:
		return "x"
	case item.StoryInProgress:
		return "~"
	case item.StoryBlocked:
		return "!"
	default:
		return " "
	}
}
