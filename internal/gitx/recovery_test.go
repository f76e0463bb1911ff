package gitx

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wreckit-dev/wreckit/internal/config"
	"github.com/wreckit-dev/wreckit/internal/werr"
)

func TestStashSkipsCleanTree(t *testing.T) {
	t.Parallel()

	c, calls := scriptedClient(t, okHandler(""))
	before := len(*calls)

	stashed, err := c.Stash(context.Background(), "test")
	require.NoError(t, err)
	assert.False(t, stashed)

	// Only the porcelain status check ran; nothing was stashed.
	assert.Len(t, *calls, before+1)
	assert.Equal(t, "status", (*calls)[before].args[0])
}

func TestEnsureCleanRestoresStash(t *testing.T) {
	t.Parallel()

	handler := func(_ string, args []string) (string, string, int, error) {
		if args[0] == "status" {
			return " M internal/server.go\n", "", 0, nil
		}
		return "", "", 0, nil
	}
	c, calls := scriptedClient(t, handler)

	restore, err := c.EnsureClean(context.Background())
	require.NoError(t, err)
	require.NoError(t, restore())

	var seq []string
	for _, call := range *calls {
		seq = append(seq, strings.Join(call.args, " "))
	}
	assert.Contains(t, seq, "stash push -u -m wreckit: auto-stash")
	assert.Contains(t, seq, "stash pop")
}

func TestRequireCleanRejectsDirtyTree(t *testing.T) {
	t.Parallel()

	c, _ := scriptedClient(t, okHandler(" M go.mod\n"))

	err := c.RequireClean(context.Background())
	require.Error(t, err)
	assert.Equal(t, werr.SubWorkingTreeDirty, werr.SubkindOf(err))
}

func TestDirectMergeStashesDirtyTree(t *testing.T) {
	t.Parallel()

	stashedAway := false
	handler := func(_ string, args []string) (string, string, int, error) {
		switch args[0] {
		case "remote":
			return "git@github.com:trusted/widgets.git\n", "", 0, nil
		case "status":
			if stashedAway {
				return "", "", 0, nil
			}
			return " M internal/server.go\n", "", 0, nil
		case "stash":
			if args[1] == "push" {
				stashedAway = true
			}
			return "", "", 0, nil
		default:
			return "", "", 0, nil
		}
	}
	c, calls := scriptedClient(t, handler)
	cfg := config.Default()
	cfg.AllowUnsafeDirectMerge = true
	cfg.AllowedRemotePatterns = []string{"git@github.com:trusted/*"}

	require.NoError(t, c.DirectMerge(context.Background(), "wreckit/features-001", "main", cfg))

	var seq []string
	for _, call := range *calls {
		seq = append(seq, strings.Join(call.args, " "))
	}
	assert.Contains(t, seq, "stash push -u -m wreckit: auto-stash")
	assert.Contains(t, seq, "push -u origin main")
	// The stash is restored after the push, not before.
	assert.Greater(t, indexOf(seq, "stash pop"), indexOf(seq, "push -u origin main"))
}

func indexOf(seq []string, want string) int {
	for i, s := range seq {
		if s == want {
			return i
		}
	}
	return -1
}
