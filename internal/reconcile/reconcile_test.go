package reconcile

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/metalagman/accord/internal/db"
	"github.com/metalagman/accord/internal/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAbortsStaleVerifications(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	root := t.TempDir()
	locksDir := filepath.Join(root, "locks")

	database, err := db.Open(filepath.Join(root, "accord.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	store := db.NewStore(database)

	require.NoError(t, store.CreateVerification(ctx, "stale", "k1", time.Now().Add(-time.Hour)))
	require.NoError(t, store.CreateVerification(ctx, "live", "k2", time.Now()))

	held, err := lock.Acquire(locksDir, "k2")
	require.NoError(t, err)
	t.Cleanup(func() { _ = held.Release() })

	res, err := Run(ctx, store, locksDir)
	require.NoError(t, err)
	assert.Equal(t, Result{Running: 2, Aborted: 1, Active: 1}, res)

	stale, _, err := store.GetVerification(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, db.StatusAborted, stale.Status)

	events, err := store.Events(ctx, "stale")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, db.EventVerificationAborted, events[1].Type)
	assert.Equal(t, abortReason, events[1].Message)

	live, _, err := store.GetVerification(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, db.StatusRunning, live.Status)

	// A second pass finds nothing new to abort.
	res, err = Run(ctx, store, locksDir)
	require.NoError(t, err)
	assert.Equal(t, Result{Running: 1, Active: 1}, res)
}
