package lock

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireIsExclusive(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "locks")

	first, ok, err := TryAcquire(dir, "checkout-redesign")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = TryAcquire(dir, "checkout-redesign")
	require.NoError(t, err)
	assert.False(t, ok)

	other, ok, err := TryAcquire(dir, "another")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, other.Release())

	require.NoError(t, first.Release())
	require.NoError(t, first.Release())

	again, err := Acquire(dir, "checkout-redesign")
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestLookalikeNamesDoNotShareALock(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "locks")

	slash, ok, err := TryAcquire(dir, "a/b")
	require.NoError(t, err)
	require.True(t, ok)
	t.Cleanup(func() { _ = slash.Release() })

	underscore, ok, err := TryAcquire(dir, "a_b")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, underscore.Release())
}

func TestPathSanitizesNames(t *testing.T) {
	t.Parallel()

	assert.Equal(t, filepath.Join("d", "contract-1.lock"), Path("d", "contract-1"))

	sanitized := Path("d", "team/a contract-1")
	assert.Equal(t, "d", filepath.Dir(sanitized))
	assert.Regexp(t, `^team_a_contract-1-[0-9a-f]{16}\.lock$`, filepath.Base(sanitized))
	assert.Equal(t, sanitized, Path("d", "team/a contract-1"))

	assert.NotEqual(t, Path("d", "a/b"), Path("d", "a_b"))
	assert.NotEqual(t, Path("d", "a/b"), Path("d", "a b"))

	var nilLock *Lock
	assert.NoError(t, nilLock.Release())
}
