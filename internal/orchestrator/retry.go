package orchestrator

import (
	"context"
	"fmt"

	"github.com/ocx/orchestrator/internal/orchevents"
	"github.com/ocx/orchestrator/internal/reducer"
)

// autoRetry implements spec.md §4.5 step 9. A value of 0 for
// maxRetries disables the feature entirely. Halted projects are
// skipped, as in dispatchPending.
func (o *Orchestrator) autoRetry(ctx context.Context, status reducer.Status, events []orchevents.Event) error {
	if o.Cfg.MaxRetries <= 0 {
		return nil
	}
	if status.Project.Halted {
		return nil
	}

	for _, task := range status.Tasks {
		if task.State != "blocked" {
			continue
		}
		count := retryCount(events, task.TaskID)
		if count >= o.Cfg.MaxRetries {
			continue
		}

		newRun, err := o.newRunID()
		if err != nil {
			return fmt.Errorf("generate retry run id: %w", err)
		}
		nextCount := count + 1

		intent := orchevents.NewBuilder(orchevents.WorkerRunIntent, "orchestrator", o.Project).
			Task(task.TaskID).Run(newRun).
			Payload("reason", fmt.Sprintf("auto_retry_%d", nextCount)).
			Idempotency(orchevents.DispatchKey(o.Project, task.TaskID, newRun)).
			Build()
		if _, err := o.append(ctx, intent); err != nil {
			return fmt.Errorf("retry intent: %w", err)
		}

		retried := orchevents.NewBuilder(orchevents.TaskRetried, "orchestrator", o.Project).
			Task(task.TaskID).Run(newRun).
			Payload("retryCount", nextCount).
			Payload("previousRunId", task.RunID).
			Payload("reason", "auto_retry_after_failure").
			Idempotency(orchevents.RetryKey(o.Project, task.TaskID, nextCount)).
			Build()
		if _, err := o.append(ctx, retried); err != nil {
			return fmt.Errorf("task retried: %w", err)
		}
		o.Metrics.RecordDispatch(o.Project, "auto_retry")
		o.Metrics.RecordRetry(o.Project)
	}
	return nil
}
