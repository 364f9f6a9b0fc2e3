package statemanager

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/orchestrator/internal/clock"
	"github.com/ocx/orchestrator/internal/ids"
	"github.com/ocx/orchestrator/internal/ndjson"
	"github.com/ocx/orchestrator/internal/orchevents"
)

func newTestManager(t *testing.T) *StateManager {
	t.Helper()
	base := t.TempDir()
	clk := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	gen := ids.NewGeneratorWithClock(clk.Now)
	return New(base, clk, gen, time.Second, time.Millisecond)
}

func buildEvent(idemKey string) orchevents.Event {
	return orchevents.NewBuilder(orchevents.ProjectStarted, "orchestrator", "demo").
		Idempotency(idemKey).
		Build()
}

// === append semantics ===

func TestAppendRejectsMissingIdempotencyKey(t *testing.T) {
	sm := newTestManager(t)
	ev := orchevents.NewBuilder(orchevents.ProjectStarted, "orchestrator", "demo").Build()

	_, err := sm.Append(context.Background(), ev)
	require.ErrorIs(t, err, ErrMissingIdempotencyKey)

	lines, err := ndjson.ReadLines(sm.Layout.EventsFile())
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestAppendAssignsMonotonicSequence(t *testing.T) {
	sm := newTestManager(t)

	res1, err := sm.Append(context.Background(), buildEvent("k1"))
	require.NoError(t, err)
	res2, err := sm.Append(context.Background(), buildEvent("k2"))
	require.NoError(t, err)

	assert.Equal(t, int64(1), res1.Event.SequenceNumber)
	assert.Equal(t, int64(2), res2.Event.SequenceNumber)
	assert.Equal(t, Appended, res1.Status)
}

func TestAppendDedupesByIdempotencyKey(t *testing.T) {
	sm := newTestManager(t)

	_, err := sm.Append(context.Background(), buildEvent("dup"))
	require.NoError(t, err)

	res, err := sm.Append(context.Background(), buildEvent("dup"))
	require.NoError(t, err)
	assert.Equal(t, Deduped, res.Status)

	lines, err := ndjson.ReadLines(sm.Layout.EventsFile())
	require.NoError(t, err)
	assert.Len(t, lines, 1)
}

func TestAppendFillsCRCAndEventID(t *testing.T) {
	sm := newTestManager(t)
	res, err := sm.Append(context.Background(), buildEvent("k"))
	require.NoError(t, err)
	assert.Len(t, res.Event.CRC32, 8)
	assert.NotEmpty(t, res.Event.EventID)
	assert.NotEmpty(t, res.Event.At)
}

func TestAppendRecoversSequenceFromLastLineWhenSequenceFileMissing(t *testing.T) {
	sm := newTestManager(t)
	_, err := sm.Append(context.Background(), buildEvent("k1"))
	require.NoError(t, err)

	require.NoError(t, os.Remove(sm.Layout.SequenceFile()))

	res, err := sm.Append(context.Background(), buildEvent("k2"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Event.SequenceNumber)
}

// === write status ===

func TestWriteStatusAtomicallyPublishes(t *testing.T) {
	sm := newTestManager(t)
	type payload struct {
		Phase string `json:"phase"`
	}
	require.NoError(t, sm.WriteStatus(context.Background(), payload{Phase: "running"}))

	data, err := os.ReadFile(sm.Layout.StatusFile())
	require.NoError(t, err)
	var got payload
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "running", got.Phase)

	// no stray temp files left behind
	entries, err := os.ReadDir(filepath.Dir(sm.Layout.StatusFile()))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}
}

// === corruption payload ===

func TestBuildCorruptedEventPayloadIsIdempotentAcrossCalls(t *testing.T) {
	d1, r1 := BuildCorruptedEventPayload("demo", 3, "garbage line", "crc_mismatch")
	d2, r2 := BuildCorruptedEventPayload("demo", 3, "garbage line", "crc_mismatch")

	assert.Equal(t, d1.IdempotencyKey, d2.IdempotencyKey)
	assert.Equal(t, r1.IdempotencyKey, r2.IdempotencyKey)
	assert.NotEqual(t, d1.IdempotencyKey, r1.IdempotencyKey)
}

// === lock timeout diagnostics ===

func TestAppendRecordsSecurityLogOnLockTimeout(t *testing.T) {
	sm := newTestManager(t)
	sm.LockTimeout = 20 * time.Millisecond
	sm.LockPoll = 5 * time.Millisecond

	// Pre-create the lock file to simulate another holder.
	require.NoError(t, os.MkdirAll(filepath.Dir(sm.Layout.EventsLock()), 0o755))
	require.NoError(t, os.WriteFile(sm.Layout.EventsLock(), []byte(`{"pid":999}`), 0o644))

	_, err := sm.Append(context.Background(), buildEvent("k"))
	require.Error(t, err)

	lines, err := ndjson.ReadLines(sm.Layout.SecurityLog())
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "lock_timeout")
}
