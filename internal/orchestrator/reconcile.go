package orchestrator

import (
	"context"
	"fmt"

	"github.com/ocx/orchestrator/internal/orchevents"
)

// reconcileOpenRuns implements spec.md §4.5 step 4: every run without
// a RUN_CLOSED is closed if its terminal signal already exists;
// otherwise, if stale past staleRunAfterMinutes, it is force-failed
// and closed. Grounded on
// original_source/tiangong/core/orchestrator.py's _reconcile_open_runs.
func (o *Orchestrator) reconcileOpenRuns(ctx context.Context, events []orchevents.Event) error {
	idx := buildRunIndex(events)
	now := o.SM.Clock.Now()
	staleAfter := o.Cfg.StaleRunAfter()

	for _, ri := range idx {
		if ri.closed {
			continue
		}

		if ri.terminal() {
			closeEv := orchevents.NewBuilder(orchevents.RunClosed, "orchestrator", o.Project).
				Task(ri.taskID).Run(ri.runID).Causation(ri.causationID()).
				Payload("closeReason", "recovered_close").
				Payload("verdictEventId", ri.verdictEventID).
				Idempotency(orchevents.RunClosedKey(o.Project, ri.taskID, ri.runID, "recovered_close")).
				Build()
			if _, err := o.append(ctx, closeEv); err != nil {
				return fmt.Errorf("recovered close: %w", err)
			}
			continue
		}

		baseline := ri.intentAt
		if baseline.IsZero() {
			baseline = ri.startedAt
		}
		if baseline.IsZero() || now.Sub(baseline) < staleAfter {
			continue
		}

		failed := orchevents.NewBuilder(orchevents.WorkerRunFailed, "orchestrator", o.Project).
			Task(ri.taskID).Run(ri.runID).
			Payload("reason", "stale after restart").
			Idempotency(orchevents.StaleRunFailedKey(o.Project, ri.taskID, ri.runID, "stale_after_restart")).
			Build()
		res, err := o.append(ctx, failed)
		if err != nil {
			return fmt.Errorf("stale run failed: %w", err)
		}

		closeEv := orchevents.NewBuilder(orchevents.RunClosed, "orchestrator", o.Project).
			Task(ri.taskID).Run(ri.runID).Causation(res.Event.EventID).
			Payload("closeReason", "stale_after_restart").
			Idempotency(orchevents.RunClosedKey(o.Project, ri.taskID, ri.runID, "stale_after_restart")).
			Build()
		if _, err := o.append(ctx, closeEv); err != nil {
			return fmt.Errorf("stale run close: %w", err)
		}
	}
	return nil
}
