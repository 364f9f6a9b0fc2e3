package statemanager

import (
	"github.com/ocx/orchestrator/internal/orchevents"
)

// BuildCorruptedEventPayload returns the paired CORRUPTED_LINE_DETECTED
// and RECOVERY_STARTED template events for one malformed line, keyed
// by (project, lineOffset, sha256(rawLine)) so repeated restarts over
// the same corruption collapse to a single pair via idempotency
// (spec.md §4.3 build_corrupted_event_payload).
func BuildCorruptedEventPayload(project string, lineOffset int, rawLine, reason string) (detected, recovery orchevents.Event) {
	key := orchevents.CorruptionKey(project, lineOffset, rawLine)

	detected = orchevents.NewBuilder(orchevents.CorruptedLineDetected, "orchestrator", project).
		Idempotency(key + ":detected").
		Payload("lineOffset", lineOffset).
		Payload("reason", reason).
		Payload("rawLinePreview", preview(rawLine, 200)).
		Build()

	recovery = orchevents.NewBuilder(orchevents.RecoveryStarted, "orchestrator", project).
		Idempotency(key + ":recovery").
		Payload("lineOffset", lineOffset).
		Payload("reason", reason).
		Build()

	return detected, recovery
}

func preview(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
