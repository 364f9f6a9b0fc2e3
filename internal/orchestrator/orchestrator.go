// Package orchestrator implements the tick reconciliation loop: the
// single serial sequence of corruption recovery, BLOCK-verdict
// cascade enforcement, watchdog timeout detection, open-run
// reconciliation, task dispatch, worker-timeout detection, result
// notification, bounded auto-retry, and filesystem evidence pickup
// described in spec.md §4.5. Grounded on
// original_source/tiangong/core/orchestrator.py, translated from its
// per-concern private methods into per-concern Go files sharing one
// Orchestrator receiver.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ocx/orchestrator/internal/config"
	"github.com/ocx/orchestrator/internal/filelock"
	"github.com/ocx/orchestrator/internal/metrics"
	"github.com/ocx/orchestrator/internal/orchevents"
	"github.com/ocx/orchestrator/internal/reducer"
	"github.com/ocx/orchestrator/internal/statemanager"
)

// knownTaskStates lists every state TaskView.State can take, used to
// zero out stale gauge series on each tick's metrics snapshot.
var knownTaskStates = []string{"pending", "assigned", "running", "done", "blocked", "canceled"}

// NotificationSink is the external collaborator invoked for each
// terminal task result (spec.md §6.4). Failures are logged but never
// abort the tick.
type NotificationSink interface {
	Notify(ctx context.Context, channel, message string) error
}

// Orchestrator owns one project's tick loop.
type Orchestrator struct {
	SM      *statemanager.StateManager
	Cfg     *config.Config
	Project string
	Spawner Spawner
	Notify  NotificationSink

	// Metrics is optional; a nil Collector silently no-ops every call.
	Metrics *metrics.Collector

	// OnSinkError receives sink failures so the caller can surface them
	// without the tick itself failing (spec.md "Notify: fire-and-forget").
	OnSinkError func(err error)
}

// New returns an Orchestrator wired against sm for one project.
func New(sm *statemanager.StateManager, cfg *config.Config, project string, spawner Spawner, notify NotificationSink) *Orchestrator {
	if spawner == nil {
		spawner = NoopSpawner{}
	}
	return &Orchestrator{SM: sm, Cfg: cfg, Project: project, Spawner: spawner, Notify: notify}
}

// TickResult is returned by Tick.
type TickResult struct {
	Status    reducer.Status
	Corrupted []reducer.Corrupted
}

// Tick runs one full reconciliation pass (spec.md §4.5, steps 1-11).
func (o *Orchestrator) Tick(ctx context.Context) (TickResult, error) {
	start := time.Now()
	defer func() { o.Metrics.ObserveTick(o.Project, time.Since(start).Seconds()) }()

	if err := o.recoverCorruption(ctx); err != nil {
		return TickResult{}, fmt.Errorf("orchestrator: recover corruption: %w", err)
	}

	events, corrupted, err := reducer.ReadAndVerify(o.SM.Layout.EventsFile())
	if err != nil {
		return TickResult{}, fmt.Errorf("orchestrator: read events: %w", err)
	}

	if err := o.enforceBlockSequence(ctx, events); err != nil {
		return TickResult{}, fmt.Errorf("orchestrator: enforce block sequence: %w", err)
	}
	if err := o.checkWatchdogHeartbeat(ctx, events); err != nil {
		return TickResult{}, fmt.Errorf("orchestrator: watchdog heartbeat: %w", err)
	}
	if err := o.reconcileOpenRuns(ctx, events); err != nil {
		return TickResult{}, fmt.Errorf("orchestrator: reconcile open runs: %w", err)
	}

	status, err := o.recompute(ctx)
	if err != nil {
		return TickResult{}, err
	}

	if err := o.dispatchPending(ctx, status); err != nil {
		return TickResult{}, fmt.Errorf("orchestrator: dispatch pending: %w", err)
	}
	events, _, err = reducer.ReadAndVerify(o.SM.Layout.EventsFile())
	if err != nil {
		return TickResult{}, fmt.Errorf("orchestrator: read events: %w", err)
	}
	if err := o.checkWorkerTimeouts(ctx, status, events); err != nil {
		return TickResult{}, fmt.Errorf("orchestrator: worker timeout check: %w", err)
	}
	o.notifyResults(ctx, status, events)
	if err := o.autoRetry(ctx, status, events); err != nil {
		return TickResult{}, fmt.Errorf("orchestrator: auto retry: %w", err)
	}
	if err := o.pickUpEvidence(ctx, events); err != nil {
		return TickResult{}, fmt.Errorf("orchestrator: evidence pickup: %w", err)
	}

	final, err := o.recompute(ctx)
	if err != nil {
		return TickResult{}, err
	}
	if err := o.SM.WriteStatus(ctx, final); err != nil {
		return TickResult{}, fmt.Errorf("orchestrator: publish status: %w", err)
	}

	events, _, err = reducer.ReadAndVerify(o.SM.Layout.EventsFile())
	if err != nil {
		return TickResult{}, fmt.Errorf("orchestrator: read events: %w", err)
	}
	if err := reducer.EmitDerived(events, final.Locks, o.SM.Layout.WatchdogVerdictsFile(), o.SM.Layout.LocksIndexFile()); err != nil {
		return TickResult{}, fmt.Errorf("orchestrator: emit derived projections: %w", err)
	}

	counts := map[string]int{}
	for _, task := range final.Tasks {
		counts[task.State]++
	}
	o.Metrics.SetTasksByState(o.Project, counts, knownTaskStates)

	return TickResult{Status: final, Corrupted: corrupted}, nil
}

// recompute re-reads events.ndjson and folds them into a Status.
func (o *Orchestrator) recompute(ctx context.Context) (reducer.Status, error) {
	events, _, err := reducer.ReadAndVerify(o.SM.Layout.EventsFile())
	if err != nil {
		return reducer.Status{}, fmt.Errorf("orchestrator: read events: %w", err)
	}
	now := orchevents.FormatTime(o.SM.Clock.Now())
	return reducer.Reduce(events, o.Project, now), nil
}

// append is a thin wrapper that logs nothing on Deduped and surfaces
// every other error to the caller; every orchestrator-originated
// event must carry an idempotency key so replays across ticks never
// duplicate effects.
func (o *Orchestrator) append(ctx context.Context, ev orchevents.Event) (statemanager.AppendResult, error) {
	res, err := o.SM.Append(ctx, ev)
	if err != nil {
		var timeoutErr *filelock.TimeoutError
		if errors.As(err, &timeoutErr) {
			o.Metrics.RecordLockTimeout()
		}
		return res, err
	}
	if res.Status == statemanager.Appended {
		o.Metrics.RecordEventAppended(o.Project, string(res.Event.Type))
	}
	return res, nil
}

func (o *Orchestrator) newRunID() (string, error) {
	return o.SM.IDs.RunID("r")
}
