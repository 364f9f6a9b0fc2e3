package orchestrator

import (
	"context"
	"fmt"

	"github.com/ocx/orchestrator/internal/orchevents"
	"github.com/ocx/orchestrator/internal/reducer"
)

// notifyResults implements spec.md §4.5 step 8: every terminal task
// whose (taskId, lastRunId) has no prior RESULT_NOTIFIED gets one,
// and the external notification channel is invoked fire-and-forget —
// a sink failure is surfaced via OnSinkError but never aborts the
// tick (spec.md §6.4 "Notification sink").
func (o *Orchestrator) notifyResults(ctx context.Context, status reducer.Status, events []orchevents.Event) {
	for _, task := range status.Tasks {
		runID := task.LastRunID
		if runID == "" {
			runID = task.RunID
		}
		if runID == "" {
			continue
		}
		if task.State != "done" && task.State != "blocked" {
			continue
		}
		if alreadyNotified(events, task.TaskID, runID) {
			continue
		}

		message := resultMessage(o.Project, task)
		ev := orchevents.NewBuilder(orchevents.ResultNotified, "orchestrator", o.Project).
			Task(task.TaskID).Run(runID).
			Payload("channel", "notify").
			Payload("message", message).
			Idempotency(orchevents.ResultNotifiedKey(o.Project, task.TaskID, runID)).
			Build()
		if _, err := o.append(ctx, ev); err != nil {
			o.reportSinkError(fmt.Errorf("result notified: %w", err))
			continue
		}

		if o.Notify == nil {
			continue
		}
		if err := o.Notify.Notify(ctx, "orchestrator", message); err != nil {
			o.reportSinkError(fmt.Errorf("notification sink: %w", err))
		}
	}
}

func resultMessage(project string, task reducer.TaskView) string {
	switch task.State {
	case "done":
		quality := task.ResultSummary
		if quality == "warn_override" {
			return fmt.Sprintf("[%s] %s completed (human override)", project, task.TaskID)
		}
		return fmt.Sprintf("[%s] %s completed", project, task.TaskID)
	case "blocked":
		reason := "unknown"
		if r, ok := task.Result["reason"].(string); ok && r != "" {
			reason = r
		}
		return fmt.Sprintf("[%s] %s blocked: %s", project, task.TaskID, reason)
	default:
		return fmt.Sprintf("[%s] %s", project, task.TaskID)
	}
}

func (o *Orchestrator) reportSinkError(err error) {
	if o.OnSinkError != nil {
		o.OnSinkError(err)
	}
}
