package orchestrator

import (
	"context"
	"fmt"

	"github.com/ocx/orchestrator/internal/orchevents"
)

// checkWatchdogHeartbeat implements spec.md §4.5 step 3. It skips the
// check entirely while the project is halted or finished, following
// original_source/tiangong/core/orchestrator.py's _watchdog_heartbeat
// ordering guard (compare the latest of PROJECT_FINISHED/STARTED and
// PROJECT_HALTED/RESUMED, not a cached boolean).
func (o *Orchestrator) checkWatchdogHeartbeat(ctx context.Context, events []orchevents.Event) error {
	finishedAt, hasFinished := lastProjectTransitionAt(events, orchevents.ProjectFinished)
	startedAt, hasStarted := lastProjectTransitionAt(events, orchevents.ProjectStarted)
	if hasFinished && (!hasStarted || finishedAt.After(startedAt)) {
		return nil
	}
	haltedAt, hasHalted := lastProjectTransitionAt(events, orchevents.ProjectHalted)
	resumedAt, hasResumed := lastProjectTransitionAt(events, orchevents.ProjectResumed)
	if hasHalted && (!hasResumed || haltedAt.After(resumedAt)) {
		return nil
	}

	lastBeat, ok := lastHeartbeatAt(events)
	if !ok {
		return nil
	}

	now := o.SM.Clock.Now()
	if now.Sub(lastBeat) < o.Cfg.HeartbeatTimeout() {
		return nil
	}

	window := now.Unix() / int64(o.Cfg.HeartbeatTimeoutSec)
	ev := orchevents.NewBuilder(orchevents.WatchdogUnresponsive, "orchestrator", o.Project).
		Payload("lastHeartbeatAt", orchevents.FormatTime(lastBeat)).
		Idempotency(orchevents.HeartbeatUnresponsiveKey(o.Project, window)).
		Build()
	if _, err := o.append(ctx, ev); err != nil {
		return fmt.Errorf("watchdog unresponsive: %w", err)
	}
	return nil
}
