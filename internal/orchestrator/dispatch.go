package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ocx/orchestrator/internal/orchevents"
	"github.com/ocx/orchestrator/internal/reducer"
)

// dispatchPending implements spec.md §4.5 step 6: every pending,
// gate-free task with no open run is handed a fresh run identifier
// and spawned. Halted projects are skipped entirely.
func (o *Orchestrator) dispatchPending(ctx context.Context, status reducer.Status) error {
	if status.Project.Halted {
		return nil
	}

	for _, task := range status.Tasks {
		if task.State != "pending" || len(task.Gates) > 0 {
			continue
		}
		if _, open := status.Locks.Tasks[task.TaskID]; open {
			continue
		}

		runID, err := o.newRunID()
		if err != nil {
			return fmt.Errorf("generate run id: %w", err)
		}

		intent := orchevents.NewBuilder(orchevents.WorkerRunIntent, "orchestrator", o.Project).
			Task(task.TaskID).Run(runID).
			Payload("reason", "auto_dispatch").
			Idempotency(orchevents.DispatchKey(o.Project, task.TaskID, runID)).
			Build()
		if _, err := o.append(ctx, intent); err != nil {
			return fmt.Errorf("dispatch intent: %w", err)
		}

		label := fmt.Sprintf("orch:%s:worker:%s", o.Project, task.TaskID)
		result := o.Spawner.Spawn(ctx, task.TaskID, label, "keep", task.TaskSpec)

		raw, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal spawn result: %w", err)
		}
		var spawnPayload map[string]any
		if err := json.Unmarshal(raw, &spawnPayload); err != nil {
			return fmt.Errorf("decode spawn result: %w", err)
		}

		started := orchevents.NewBuilder(orchevents.WorkerRunStarted, "orchestrator", o.Project).
			Task(task.TaskID).Run(runID).
			Payload("mode", "async").
			Payload("spawnResult", spawnPayload).
			Idempotency(orchevents.RunStartedKey(o.Project, task.TaskID, runID)).
			Build()
		if _, err := o.append(ctx, started); err != nil {
			return fmt.Errorf("dispatch started: %w", err)
		}
		o.Metrics.RecordDispatch(o.Project, "auto_dispatch")
	}
	return nil
}
