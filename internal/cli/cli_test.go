package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wreckit-dev/wreckit/internal/config"
	"github.com/wreckit-dev/wreckit/internal/item"
	"github.com/wreckit-dev/wreckit/internal/werr"
)

// chdirTemp changes to a fresh temp directory for the duration of the test.
// Symlinks are resolved so paths derived from os.Getwd match the literal
// directory on platforms where TempDir lives behind a symlink.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	orig, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(orig) })
	require.NoError(t, os.Chdir(dir))
	return dir
}

// execCommand runs a freshly constructed subcommand with args and returns
// its combined output.
func execCommand(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// initProject initializes a wreckit project in a fresh temp directory and
// chdirs into it.
func initProject(t *testing.T) string {
	t.Helper()
	dir := chdirTemp(t)
	_, err := execCommand(t, newInitCmd())
	require.NoError(t, err)
	return dir
}

// initGitRepo turns dir into a git repository with one commit on main.
func initGitRepo(t *testing.T, dir string) {
	t.Helper()
	for _, args := range [][]string{
		{"init", "-b", "main"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "test"},
		{"add", "-A"},
		{"commit", "--allow-empty", "-m", "initial"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
}

func TestInitCreatesProject(t *testing.T) {
	dir := chdirTemp(t)

	out, err := execCommand(t, newInitCmd())
	require.NoError(t, err)
	assert.Contains(t, out, "Initialized wreckit project")

	cfg, err := config.Load(config.Path(dir))
	require.NoError(t, err)
	assert.Equal(t, "main", cfg.BaseBranch)

	info, err := os.Stat(filepath.Join(dir, ".wreckit", "items"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestInitRefusesExistingProject(t *testing.T) {
	initProject(t)

	_, err := execCommand(t, newInitCmd())
	require.Error(t, err)
	assert.Equal(t, werr.KindUsage, werr.KindOf(err))
	assert.Contains(t, err.Error(), "--force")

	_, err = execCommand(t, newInitCmd(), "--force")
	require.NoError(t, err)
}

func TestAddCreatesItem(t *testing.T) {
	dir := initProject(t)

	out, err := execCommand(t, newAddCmd(), "Add rate limiting", "--section", "features", "--overview", "Throttle inbound requests.")
	require.NoError(t, err)
	assert.Contains(t, out, "Created features/001-add-rate-limiting")

	store := item.NewStore(dir)
	it, err := store.Read("features/001-add-rate-limiting")
	require.NoError(t, err)
	assert.Equal(t, item.StateIdea, it.State)
	assert.Equal(t, "Throttle inbound requests.", it.Overview)
}

func TestAddOutsideProjectFails(t *testing.T) {
	chdirTemp(t)

	_, err := execCommand(t, newAddCmd(), "Orphan idea")
	require.Error(t, err)
	assert.Equal(t, werr.KindUsage, werr.KindOf(err))
	assert.Contains(t, err.Error(), "wreckit init")
}

func TestListOutputAndFilters(t *testing.T) {
	dir := initProject(t)
	store := item.NewStore(dir)

	_, err := store.Create("features", "Add caching", "")
	require.NoError(t, err)
	bug, err := store.Create("bugs", "Fix reconnect", "")
	require.NoError(t, err)
	_, err = store.Mutate(bug.ID, func(it *item.Item) error {
		it.State = item.StatePlanned
		return nil
	})
	require.NoError(t, err)

	out, err := execCommand(t, newListCmd())
	require.NoError(t, err)
	assert.Contains(t, out, "features/001-add-caching")
	assert.Contains(t, out, "bugs/001-fix-reconnect")
	assert.Contains(t, out, "2 item(s)")

	out, err = execCommand(t, newListCmd(), "--state", "planned")
	require.NoError(t, err)
	assert.NotContains(t, out, "features/001-add-caching")
	assert.Contains(t, out, "bugs/001-fix-reconnect")

	out, err = execCommand(t, newListCmd(), "--section", "features", "--json")
	require.NoError(t, err)
	var listed []listItemOutput
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "features/001-add-caching", listed[0].ID)
	assert.Equal(t, "idea", listed[0].State)
}

func TestListRejectsUnknownState(t *testing.T) {
	initProject(t)

	_, err := execCommand(t, newListCmd(), "--state", "bogus")
	require.Error(t, err)
	assert.Equal(t, werr.KindUsage, werr.KindOf(err))
}

func TestShowDisplaysStoriesAndArtifacts(t *testing.T) {
	dir := initProject(t)
	store := item.NewStore(dir)

	it, err := store.Create("features", "Add caching", "LRU cache for hot keys.")
	require.NoError(t, err)
	require.NoError(t, store.SavePRD(it.ID, &item.PRD{
		ProblemStatement: "Hot keys hammer the database.",
		Stories: []item.Story{
			{Title: "Cache layer", Status: item.StoryDone},
			{Title: "Eviction policy", Status: item.StoryPending},
		},
	}))
	require.NoError(t, store.WriteArtifact(it.ID, item.ResearchFile, []byte("# Research\n\nNotes.\n")))

	out, err := execCommand(t, newShowCmd(), it.ID)
	require.NoError(t, err)
	assert.Contains(t, out, it.ID)
	assert.Contains(t, out, "LRU cache for hot keys.")
	assert.Contains(t, out, "S-001 Cache layer")
	assert.Contains(t, out, "S-002 Eviction policy")
	assert.Contains(t, out, "research.md")

	out, err = execCommand(t, newShowCmd(), it.ID, "--artifacts")
	require.NoError(t, err)
	assert.Contains(t, out, "# Research")

	out, err = execCommand(t, newShowCmd(), it.ID, "--json")
	require.NoError(t, err)
	var decoded showOutput
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.NotNil(t, decoded.Item)
	assert.Equal(t, it.ID, decoded.Item.ID)
	require.NotNil(t, decoded.PRD)
	assert.Len(t, decoded.PRD.Stories, 2)
}

func TestShowUnknownItem(t *testing.T) {
	initProject(t)

	_, err := execCommand(t, newShowCmd(), "features/001-missing")
	require.Error(t, err)
	assert.Equal(t, werr.KindNotFound, werr.KindOf(err))
}

func TestRunDryRunPreviews(t *testing.T) {
	dir := initProject(t)
	store := item.NewStore(dir)

	it, err := store.Create("features", "Add caching", "")
	require.NoError(t, err)

	out, err := execCommand(t, newRunCmd(), "--all", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, it.ID)
	assert.Contains(t, out, "research")
	assert.Contains(t, out, "complete")

	// Preview never mutates state.
	after, err := store.Read(it.ID)
	require.NoError(t, err)
	assert.Equal(t, item.StateIdea, after.State)
}

func TestRunFlagValidation(t *testing.T) {
	initProject(t)

	_, err := execCommand(t, newRunCmd(), "features/001-x", "--all")
	require.Error(t, err)
	assert.Equal(t, werr.KindUsage, werr.KindOf(err))

	_, err = execCommand(t, newRunCmd(), "--phase", "implement")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires an item id")

	_, err = execCommand(t, newRunCmd(), "features/001-x", "--phase", "deploy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown phase")
}

func TestRunMockAgentCompletesItem(t *testing.T) {
	dir := initProject(t)
	initGitRepo(t, dir)
	store := item.NewStore(dir)

	it, err := store.Create("features", "Add caching", "LRU cache for hot keys.")
	require.NoError(t, err)

	_, err = execCommand(t, newRunCmd(), it.ID, "--mock-agent")
	require.NoError(t, err)

	after, err := store.Read(it.ID)
	require.NoError(t, err)
	assert.Equal(t, item.StateComplete, after.State)

	for _, name := range []string{item.ResearchFile, item.PlanFile, item.PRFile} {
		_, err := store.ReadArtifact(it.ID, name)
		assert.NoError(t, err, "artifact %s", name)
	}
	stories, err := store.Stories(it.ID)
	require.NoError(t, err)
	assert.True(t, item.AllStoriesDone(stories))

	// The implement phase leaves a real commit on the item branch.
	require.NotEmpty(t, after.Branch)
	cmd := exec.Command("git", "rev-list", "--count", "main.."+after.Branch)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git rev-list: %s", out)
	assert.NotEqual(t, "0", strings.TrimSpace(string(out)))
}

func TestSinglePhaseCommandRunsOnePhase(t *testing.T) {
	dir := initProject(t)
	initGitRepo(t, dir)
	store := item.NewStore(dir)

	it, err := store.Create("features", "Add caching", "")
	require.NoError(t, err)

	out, err := execCommand(t, newPhaseCmd(item.PhaseResearch, "research"), it.ID, "--mock-agent")
	require.NoError(t, err)
	assert.Contains(t, out, "researched")

	after, err := store.Read(it.ID)
	require.NoError(t, err)
	assert.Equal(t, item.StateResearched, after.State)
}

func TestIdeasMockAgentCreatesItems(t *testing.T) {
	dir := initProject(t)
	initGitRepo(t, dir)

	cmd := newIdeasCmd()
	cmd.SetIn(strings.NewReader("Add caching\nFix reconnect\n"))
	out, err := execCommand(t, cmd, "-", "--mock-agent")
	require.NoError(t, err)
	assert.Contains(t, out, "2 item(s) created")

	items, err := item.NewStore(dir).List()
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestIdeasMissingFile(t *testing.T) {
	initProject(t)

	_, err := execCommand(t, newIdeasCmd(), "no-such-file.md")
	require.Error(t, err)
	assert.Equal(t, werr.KindUsage, werr.KindOf(err))
}

func TestVersionCommandRegistered(t *testing.T) {
	found := false
	for _, cmd := range rootCmd.Commands() {
		if cmd.Use == "version" {
			found = true
			break
		}
	}
	assert.True(t, found, "version command must be registered in rootCmd")
}

func TestSubcommandsRegistered(t *testing.T) {
	want := []string{"init", "add", "ideas", "list", "show", "run", "research", "plan", "implement", "pr", "complete"}
	have := map[string]bool{}
	for _, cmd := range rootCmd.Commands() {
		have[cmd.Name()] = true
	}
	for _, name := range want {
		assert.True(t, have[name], "command %s must be registered", name)
	}
}
