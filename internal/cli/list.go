package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/wreckit-dev/wreckit/internal/item"
	"github.com/wreckit-dev/wreckit/internal/werr"
)

// listFlags holds the flag values for the list command.
type listFlags struct {
	State   string // --state <state>, empty means all
	Section string // --section <section>, empty means all
	JSON    bool   // --json for structured output
}

// listItemOutput is the JSON output type for one listed item.
type listItemOutput struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	State     string `json:"state"`
	Branch    string `json:"branch,omitempty"`
	PRURL     string `json:"pr_url,omitempty"`
	Retries   int    `json:"retries,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

func init() {
	rootCmd.AddCommand(newListCmd())
}

// newListCmd creates the "wreckit list" command.
func newListCmd() *cobra.Command {
	var flags listFlags

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work items and their pipeline state",
		Example: `  wreckit list
  wreckit list --state implemented
  wreckit list --section bugs --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, flags)
		},
	}
	cmd.Flags().StringVar(&flags.State, "state", "", "Filter by state (e.g. idea, planned, failed:implementing)")
	cmd.Flags().StringVar(&flags.Section, "section", "", "Filter by section")
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "Output structured JSON to stdout")
	return cmd
}

func runList(cmd *cobra.Command, flags listFlags) error {
	app, err := newStoreApp()
	if err != nil {
		return err
	}

	items, err := app.store.List()
	if err != nil {
		return err
	}
	if flags.State != "" && !item.ValidState(item.State(flags.State)) {
		return werr.Newf(werr.KindUsage, "unknown state %q", flags.State)
	}
	items = filterItems(items, flags)

	if flags.JSON {
		return renderListJSON(cmd.OutOrStdout(), items)
	}

	out := cmd.OutOrStdout()
	if len(items) == 0 {
		fmt.Fprintln(out, "No items found.")
		return nil
	}
	for _, it := range items {
		fmt.Fprintf(out, "%-36s %-22s %s\n", it.ID, stateStyleFor(it.State).Render(string(it.State)), it.Title)
	}
	fmt.Fprintf(out, "\n%d item(s)\n", len(items))
	return nil
}

func filterItems(items []*item.Item, flags listFlags) []*item.Item {
	kept := items[:0]
	for _, it := range items {
		if flags.State != "" && string(it.State) != flags.State {
			continue
		}
		if flags.Section != "" && it.Section != flags.Section {
			continue
		}
		kept = append(kept, it)
	}
	return kept
}

func renderListJSON(w io.Writer, items []*item.Item) error {
	outputs := make([]listItemOutput, 0, len(items))
	for _, it := range items {
		outputs = append(outputs, listItemOutput{
			ID:        it.ID,
			Title:     it.Title,
			State:     string(it.State),
			Branch:    it.Branch,
			PRURL:     it.PRURL,
			Retries:   it.Retries,
			LastError: it.LastError,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(outputs)
}

// stateStyleFor picks a color for the state column.
func stateStyleFor(st item.State) lipgloss.Style {
	switch {
	case st == item.StateComplete:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("10")) // green
	case st.IsFailed():
		return lipgloss.NewStyle().Foreground(lipgloss.Color("9")) // red
	case st == item.StateIdea:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("8")) // dark gray
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("11")) // yellow
	}
}
