package orchestrator

import (
	"context"
	"fmt"

	"github.com/ocx/orchestrator/internal/orchevents"
)

// ValidateMessage implements spec.md §4.5's message-validation check:
// an inbound message from the worker or watchdog actor whose runId
// does not match the task's currently locked run is rejected and
// recorded as MESSAGE_IGNORED. Messages from any other actor, or
// messages with no taskID, are always accepted.
func (o *Orchestrator) ValidateMessage(ctx context.Context, actor, taskID, runID, messageType string) (bool, error) {
	if taskID == "" {
		return true, nil
	}
	if actor != "worker" && actor != "watchdog" {
		return true, nil
	}

	status, err := o.recompute(ctx)
	if err != nil {
		return false, err
	}
	expected := status.Locks.Tasks[taskID]
	if runID != "" && runID == expected {
		return true, nil
	}

	ev := orchevents.NewBuilder(orchevents.MessageIgnored, "orchestrator", o.Project).
		Task(taskID).Run(expected).
		Payload("actor", actor).
		Payload("expectedRunId", expected).
		Payload("receivedRunId", runID).
		Payload("messageType", messageType).
		Idempotency(orchevents.MessageIgnoredKey(o.Project, taskID, runID, messageType)).
		Build()
	if _, err := o.append(ctx, ev); err != nil {
		return false, fmt.Errorf("orchestrator: record message ignored: %w", err)
	}
	return false, nil
}
