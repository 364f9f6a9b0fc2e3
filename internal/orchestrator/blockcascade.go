package orchestrator

import (
	"context"
	"fmt"

	"github.com/ocx/orchestrator/internal/orchevents"
)

// enforceBlockSequence implements spec.md §4.5 step 2: every BLOCK
// verdict must be followed by PROJECT_HALTED, WORKER_RUN_ABORTED, and
// RUN_CLOSED, appended idempotently so a tick that runs twice over
// the same verdict never double-cascades.
func (o *Orchestrator) enforceBlockSequence(ctx context.Context, events []orchevents.Event) error {
	halted, aborted, closed := blockCascadeState(events)

	for _, ev := range events {
		if ev.Type != orchevents.WatchdogVerdict || ev.PayloadString("verdict") != "BLOCK" {
			continue
		}
		if ev.TaskID == "" || ev.RunID == "" {
			continue
		}
		verdictID := ev.EventID
		key := runKey{ev.TaskID, ev.RunID}

		if !halted[verdictID] {
			o.Metrics.RecordWatchdogVerdict(o.Project, "BLOCK")
			halt := orchevents.NewBuilder(orchevents.ProjectHalted, "orchestrator", o.Project).
				Task(ev.TaskID).Run(ev.RunID).Causation(verdictID).
				Payload("haltReason", "blocked_by_watchdog").
				Payload("verdictEventId", verdictID).
				Idempotency(orchevents.BlockCascadeKey(o.Project, "PROJECT_HALTED", verdictID)).
				Build()
			if _, err := o.append(ctx, halt); err != nil {
				return fmt.Errorf("halt project: %w", err)
			}
		}

		if !aborted[key] {
			abort := orchevents.NewBuilder(orchevents.WorkerRunAborted, "orchestrator", o.Project).
				Task(ev.TaskID).Run(ev.RunID).Causation(verdictID).
				Payload("reason", "blocked_by_watchdog").
				Idempotency(orchevents.BlockCascadeKey(o.Project, "WORKER_RUN_ABORTED", verdictID)).
				Build()
			if _, err := o.append(ctx, abort); err != nil {
				return fmt.Errorf("abort run: %w", err)
			}
		}

		if !closed[key] {
			closeEv := orchevents.NewBuilder(orchevents.RunClosed, "orchestrator", o.Project).
				Task(ev.TaskID).Run(ev.RunID).Causation(verdictID).
				Payload("closeReason", "blocked_by_watchdog").
				Payload("verdictEventId", verdictID).
				Idempotency(orchevents.RunClosedKey(o.Project, ev.TaskID, ev.RunID, "blocked_by_watchdog")).
				Build()
			if _, err := o.append(ctx, closeEv); err != nil {
				return fmt.Errorf("close run: %w", err)
			}
		}
	}
	return nil
}
