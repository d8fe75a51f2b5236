package watermark

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestFloorToMidnight(t *testing.T) {
	ts := time.Date(2026, 3, 5, 13, 45, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), FloorToMidnight(ts))
}

func TestEnsureInitializedAndGetConfig(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	seed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.EnsureInitialized(ctx, seed, 30))
	require.NoError(t, repo.EnsureInitialized(ctx, seed.Add(24*time.Hour), 99)) // no-op on second call

	archivedUntil, lagDays, err := repo.GetConfig(ctx)
	require.NoError(t, err)
	assert.True(t, seed.Equal(archivedUntil))
	assert.Equal(t, 30, lagDays)
}

func TestAdvanceCutoff_AdvancesOnlyWhenWindowMoved(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	seed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.EnsureInitialized(ctx, seed, 7))

	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	win, err := repo.AdvanceCutoff(ctx, now)
	require.NoError(t, err)
	assert.True(t, win.Start.Equal(seed))
	assert.True(t, win.End.Equal(time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)))

	archivedUntil, _, err := repo.GetConfig(ctx)
	require.NoError(t, err)
	assert.True(t, archivedUntil.Equal(win.End))

	// Re-running with the same `now` must not move the cutoff further.
	again, err := repo.AdvanceCutoff(ctx, now)
	require.NoError(t, err)
	assert.True(t, again.Start.Equal(again.End))
}

func TestComputeWindow_DoesNotPersist(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	seed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.EnsureInitialized(ctx, seed, 7))

	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	_, err := repo.ComputeWindow(ctx, now)
	require.NoError(t, err)

	archivedUntil, _, err := repo.GetConfig(ctx)
	require.NoError(t, err)
	assert.True(t, archivedUntil.Equal(seed))
}
