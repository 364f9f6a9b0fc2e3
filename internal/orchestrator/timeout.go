package orchestrator

import (
	"context"
	"fmt"

	"github.com/ocx/orchestrator/internal/orchevents"
	"github.com/ocx/orchestrator/internal/reducer"
)

// checkWorkerTimeouts implements spec.md §4.5 step 7: a running task
// whose WORKER_RUN_STARTED is older than workerTimeoutMinutes is
// force-failed and its run closed.
func (o *Orchestrator) checkWorkerTimeouts(ctx context.Context, status reducer.Status, events []orchevents.Event) error {
	idx := buildRunIndex(events)
	now := o.SM.Clock.Now()
	timeout := o.Cfg.WorkerTimeout()

	for _, task := range status.Tasks {
		if task.State != "running" || task.RunID == "" {
			continue
		}
		ri, ok := idx[runKey{task.TaskID, task.RunID}]
		if !ok || ri.startedAt.IsZero() {
			continue
		}
		if now.Sub(ri.startedAt) < timeout {
			continue
		}

		failed := orchevents.NewBuilder(orchevents.WorkerRunFailed, "orchestrator", o.Project).
			Task(task.TaskID).Run(task.RunID).
			Payload("reason", "worker_timeout").
			Idempotency(orchevents.StaleRunFailedKey(o.Project, task.TaskID, task.RunID, "worker_timeout")).
			Build()
		res, err := o.append(ctx, failed)
		if err != nil {
			return fmt.Errorf("worker timeout failed: %w", err)
		}

		closeEv := orchevents.NewBuilder(orchevents.RunClosed, "orchestrator", o.Project).
			Task(task.TaskID).Run(task.RunID).Causation(res.Event.EventID).
			Payload("closeReason", "worker_timeout").
			Idempotency(orchevents.RunClosedKey(o.Project, task.TaskID, task.RunID, "worker_timeout")).
			Build()
		if _, err := o.append(ctx, closeEv); err != nil {
			return fmt.Errorf("worker timeout close: %w", err)
		}
	}
	return nil
}
