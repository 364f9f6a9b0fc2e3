package filelock

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/orchestrator/internal/clock"
)

// === acquisition and release ===

func TestAcquireThenReleaseAllowsReacquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson.lock")
	l := New(path, clock.System{})

	require.NoError(t, l.Acquire(context.Background(), time.Second, time.Millisecond))
	require.NoError(t, l.Release())

	l2 := New(path, clock.System{})
	require.NoError(t, l2.Acquire(context.Background(), time.Second, time.Millisecond))
	require.NoError(t, l2.Release())
}

func TestAcquireTimesOutWhenHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json.lock")
	holder := New(path, clock.System{})
	require.NoError(t, holder.Acquire(context.Background(), time.Second, time.Millisecond))
	defer holder.Release()

	waiter := New(path, clock.System{})
	err := waiter.Acquire(context.Background(), 50*time.Millisecond, 5*time.Millisecond)
	require.Error(t, err)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.NotZero(t, timeoutErr.Holder.PID)
}

func TestReleaseWithoutAcquireIsNoop(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "x.lock"), clock.System{})
	assert.NoError(t, l.Release())
}

func TestWithLockReleasesOnFnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "y.lock")

	err := WithLock(context.Background(), path, clock.System{}, time.Second, time.Millisecond, func() error {
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	// lock must have been released despite the error
	l := New(path, clock.System{})
	require.NoError(t, l.Acquire(context.Background(), 50*time.Millisecond, 5*time.Millisecond))
	require.NoError(t, l.Release())
}
