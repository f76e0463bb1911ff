package item

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexRebuildAndReuse(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.Create("auth", "first", "")
	require.NoError(t, err)
	_, err = s.Create("auth", "second", "")
	require.NoError(t, err)

	idx, err := s.Index()
	require.NoError(t, err)
	require.Len(t, idx.Items, 2)
	assert.Equal(t, "auth/001-first", idx.Items[0].ID)
	assert.NotEmpty(t, idx.Fingerprint)

	// Unchanged store: the second read serves the cached index.
	again, err := s.Index()
	require.NoError(t, err)
	assert.Equal(t, idx.GeneratedAt, again.GeneratedAt)
	assert.Equal(t, idx.Fingerprint, again.Fingerprint)
}

func TestIndexDetectsStaleness(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	created, err := s.Create("auth", "first", "")
	require.NoError(t, err)

	idx, err := s.Index()
	require.NoError(t, err)
	require.Len(t, idx.Items, 1)
	assert.Equal(t, StateIdea, idx.Items[0].State)

	// Mutating an item changes the item.json mtime, invalidating the
	// fingerprint even though the index file itself was not touched. The
	// sleep keeps the test honest on filesystems with coarse timestamps.
	time.Sleep(10 * time.Millisecond)
	_, err = s.Mutate(created.ID, func(it *Item) error {
		it.State = StateResearching
		return nil
	})
	require.NoError(t, err)

	fresh, err := s.Index()
	require.NoError(t, err)
	assert.NotEqual(t, idx.Fingerprint, fresh.Fingerprint)
	assert.Equal(t, StateResearching, fresh.Items[0].State)
}

func TestIndexSurvivesDeletion(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.Create("auth", "first", "")
	require.NoError(t, err)

	_, err = s.Index()
	require.NoError(t, err)
	require.NoError(t, os.Remove(s.indexPath()))

	idx, err := s.Index()
	require.NoError(t, err)
	assert.Len(t, idx.Items, 1)
}

func TestIndexEmptyStore(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	idx, err := s.Index()
	require.NoError(t, err)
	assert.Empty(t, idx.Items)
	assert.Equal(t, "empty", idx.Fingerprint)
}

func TestLockSet(t *testing.T) {
	t.Parallel()
	locks := NewLockSet()

	require.True(t, locks.TryAcquire("auth/001-x"))
	assert.False(t, locks.TryAcquire("auth/001-x"), "second acquire must fail")
	assert.True(t, locks.TryAcquire("auth/002-y"), "other items are independent")
	assert.True(t, locks.Held("auth/001-x"))

	locks.Release("auth/001-x")
	assert.False(t, locks.Held("auth/001-x"))
	assert.True(t, locks.TryAcquire("auth/001-x"))

	locks.Release("never-held")
}
