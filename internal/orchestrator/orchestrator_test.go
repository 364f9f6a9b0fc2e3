package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/orchestrator/internal/clock"
	"github.com/ocx/orchestrator/internal/config"
	"github.com/ocx/orchestrator/internal/ids"
	"github.com/ocx/orchestrator/internal/orchevents"
	"github.com/ocx/orchestrator/internal/statemanager"
)

type recordingSpawner struct{ calls int }

func (r *recordingSpawner) Spawn(_ context.Context, taskID, _, _ string, _ map[string]any) SpawnResult {
	r.calls++
	return SpawnResult{Status: "spawned", ChildSessionKey: "sess-" + taskID}
}

type recordingNotifier struct{ messages []string }

func (n *recordingNotifier) Notify(_ context.Context, _, message string) error {
	n.messages = append(n.messages, message)
	return nil
}

func defaultTestConfig() *config.Config {
	return &config.Config{
		HeartbeatTimeoutSec:  180,
		WorkerTimeoutMin:     30,
		MaxRetries:           2,
		RetryDelaySeconds:    60,
		StaleRunAfterMinutes: 30,
	}
}

func newTestOrchestrator(t *testing.T, clk *clock.Fixed, spawner Spawner, notifier NotificationSink) (*Orchestrator, *statemanager.StateManager) {
	return newTestOrchestratorWithConfig(t, clk, spawner, notifier, defaultTestConfig())
}

func newTestOrchestratorWithConfig(t *testing.T, clk *clock.Fixed, spawner Spawner, notifier NotificationSink, cfg *config.Config) (*Orchestrator, *statemanager.StateManager) {
	t.Helper()
	base := t.TempDir()
	gen := ids.NewGeneratorWithClock(clk.Now)
	sm := statemanager.New(base, clk, gen, time.Second, time.Millisecond)
	return New(sm, cfg, "demo", spawner, notifier), sm
}

func seedEvent(t *testing.T, sm *statemanager.StateManager, ev orchevents.Event) orchevents.Event {
	t.Helper()
	res, err := sm.Append(context.Background(), ev)
	require.NoError(t, err)
	return res.Event
}

// === dispatch + evidence pickup happy path ===

func TestTickDispatchesPendingTaskThenPicksUpEvidence(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	spawner := &recordingSpawner{}
	orch, sm := newTestOrchestrator(t, clk, spawner, nil)

	seedEvent(t, sm, orchevents.NewBuilder(orchevents.ProjectStarted, "orchestrator", "demo").Idempotency("k1").Build())
	seedEvent(t, sm, orchevents.NewBuilder(orchevents.TaskSpecPublished, "orchestrator", "demo").
		Task("t1").Idempotency("k2").Payload("goal", "ship it").Build())
	seedEvent(t, sm, orchevents.NewBuilder(orchevents.TaskSkillSet, "orchestrator", "demo").
		Task("t1").Idempotency("k3").Build())

	res, err := orch.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, spawner.calls)
	require.Len(t, res.Status.Tasks, 1)
	assert.Equal(t, "running", res.Status.Tasks[0].State)

	runID := res.Status.Tasks[0].RunID
	require.NotEmpty(t, runID)

	evidenceDir := filepath.Join(sm.Layout.EvidenceDir(), "t1")
	require.NoError(t, os.MkdirAll(evidenceDir, 0o755))
	content := "## Evidence\n**Files Changed**:\n- main.go\n- README.md\n"
	require.NoError(t, os.WriteFile(filepath.Join(evidenceDir, runID+".md"), []byte(content), 0o644))

	clk.Advance(time.Minute)
	res2, err := orch.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, res2.Status.Tasks, 1)
	assert.Equal(t, "done", res2.Status.Tasks[0].State)
}

// === block cascade ===

func TestTickEnforcesBlockCascade(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	orch, sm := newTestOrchestrator(t, clk, nil, nil)

	seedEvent(t, sm, orchevents.NewBuilder(orchevents.ProjectStarted, "orchestrator", "demo").Idempotency("k1").Build())
	seedEvent(t, sm, orchevents.NewBuilder(orchevents.TaskSpecPublished, "orchestrator", "demo").Task("t1").Idempotency("k2").Build())
	seedEvent(t, sm, orchevents.NewBuilder(orchevents.WorkerRunIntent, "orchestrator", "demo").Task("t1").Run("r1").Idempotency("k3").Build())
	verdict := orchevents.NewBuilder(orchevents.WatchdogVerdict, "watchdog", "demo").
		Task("t1").Run("r1").Payload("verdict", "BLOCK").Idempotency("k4").Build()
	seedEvent(t, sm, verdict)

	res, err := orch.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Status.Project.Halted)
	require.Len(t, res.Status.Tasks, 1)
	assert.Equal(t, "blocked", res.Status.Tasks[0].State)
}

// === watchdog unresponsive ===

func TestTickDetectsWatchdogUnresponsive(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	orch, sm := newTestOrchestrator(t, clk, nil, nil)

	seedEvent(t, sm, orchevents.NewBuilder(orchevents.ProjectStarted, "orchestrator", "demo").Idempotency("k1").Build())
	seedEvent(t, sm, orchevents.NewBuilder(orchevents.WatchdogHeartbeat, "watchdog", "demo").Idempotency("k2").Build())

	clk.Advance(4 * time.Minute) // past the 180s default timeout
	res, err := orch.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "degraded", res.Status.Project.Mode)
	assert.Equal(t, "watchdog_unresponsive", res.Status.Project.DegradedReason)
}

// === worker timeout ===

func TestTickFailsTimedOutWorker(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := defaultTestConfig()
	cfg.StaleRunAfterMinutes = 120 // keep the restart-reconciliation path from racing this check
	orch, sm := newTestOrchestratorWithConfig(t, clk, nil, nil, cfg)

	seedEvent(t, sm, orchevents.NewBuilder(orchevents.ProjectStarted, "orchestrator", "demo").Idempotency("k1").Build())
	seedEvent(t, sm, orchevents.NewBuilder(orchevents.TaskSpecPublished, "orchestrator", "demo").Task("t1").Idempotency("k2").Build())
	seedEvent(t, sm, orchevents.NewBuilder(orchevents.WorkerRunIntent, "orchestrator", "demo").Task("t1").Run("r1").Idempotency("k3").Build())
	seedEvent(t, sm, orchevents.NewBuilder(orchevents.WorkerRunStarted, "orchestrator", "demo").Task("t1").Run("r1").Idempotency("k4").Build())

	clk.Advance(31 * time.Minute)
	res, err := orch.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Status.Tasks, 1)
	assert.Equal(t, "blocked", res.Status.Tasks[0].State)
	assert.Equal(t, "worker_timeout", res.Status.Tasks[0].Result["reason"])
}

// === result notification fires the sink exactly once ===

func TestTickNotifiesTerminalTaskOnce(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	notifier := &recordingNotifier{}
	orch, sm := newTestOrchestrator(t, clk, nil, notifier)

	seedEvent(t, sm, orchevents.NewBuilder(orchevents.ProjectStarted, "orchestrator", "demo").Idempotency("k1").Build())
	seedEvent(t, sm, orchevents.NewBuilder(orchevents.TaskSpecPublished, "orchestrator", "demo").Task("t1").Idempotency("k2").Build())
	seedEvent(t, sm, orchevents.NewBuilder(orchevents.WorkerRunIntent, "orchestrator", "demo").Task("t1").Run("r1").Idempotency("k3").Build())
	seedEvent(t, sm, orchevents.NewBuilder(orchevents.EvidenceSubmitted, "worker", "demo").Task("t1").Run("r1").Idempotency("k4").Build())
	verdict := orchevents.NewBuilder(orchevents.WatchdogVerdict, "watchdog", "demo").
		Task("t1").Run("r1").Payload("verdict", "PASS").Idempotency("k5").Build()
	seedEvent(t, sm, verdict)
	seedEvent(t, sm, orchevents.NewBuilder(orchevents.WorkerRunCompleted, "orchestrator", "demo").Task("t1").Run("r1").Idempotency("k6").Build())
	seedEvent(t, sm, orchevents.NewBuilder(orchevents.RunClosed, "orchestrator", "demo").Task("t1").Run("r1").Idempotency("k7").Build())

	_, err := orch.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, notifier.messages, 1)

	clk.Advance(time.Minute)
	_, err = orch.Tick(context.Background())
	require.NoError(t, err)
	assert.Len(t, notifier.messages, 1, "no duplicate notification on a later tick")
}

// === message validation ===

func TestValidateMessageRejectsStaleRunID(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	orch, sm := newTestOrchestrator(t, clk, nil, nil)

	seedEvent(t, sm, orchevents.NewBuilder(orchevents.ProjectStarted, "orchestrator", "demo").Idempotency("k1").Build())
	seedEvent(t, sm, orchevents.NewBuilder(orchevents.TaskSpecPublished, "orchestrator", "demo").Task("t1").Idempotency("k2").Build())
	seedEvent(t, sm, orchevents.NewBuilder(orchevents.WorkerRunIntent, "orchestrator", "demo").Task("t1").Run("current").Idempotency("k3").Build())

	ok, err := orch.ValidateMessage(context.Background(), "worker", "t1", "stale-run", "evidence")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = orch.ValidateMessage(context.Background(), "worker", "t1", "current", "evidence")
	require.NoError(t, err)
	assert.True(t, ok)
}
