package orchevents

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/ocx/orchestrator/internal/ids"
)

// sha256Hex returns the lowercase hex SHA-256 of s, used where the spec
// calls for a content hash inside an idempotency key (corrupted-line
// recovery, keyed by the raw line's content).
func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// CorruptionKey builds the idempotency key shared by the paired
// CORRUPTED_LINE_DETECTED / RECOVERY_STARTED events for one corrupted
// line, so repeated restarts over the same corruption collapse to a
// single pair (spec.md §4.3 build_corrupted_event_payload).
func CorruptionKey(project string, lineOffset int, rawLine string) string {
	return fmt.Sprintf("corruption:%s:%d:%s", project, lineOffset, sha256Hex(rawLine))
}

// HeartbeatUnresponsiveKey builds the idempotency key for a derived
// WATCHDOG_UNRESPONSIVE event, bucketed by a heartbeatTimeoutSec-wide
// time window so at most one such event is emitted per window
// (spec.md §4.5 step 3).
func HeartbeatUnresponsiveKey(project string, windowBucket int64) string {
	return fmt.Sprintf("watchdog-unresponsive:%s:%d", project, windowBucket)
}

// RunClosedKey builds the idempotency key for a RUN_CLOSED event for
// (taskID, runID), guaranteeing at most one close per run regardless
// of which reconciliation path (block cascade, stale recovery, worker
// timeout, terminal signal) triggers it. The key depends only on
// project, taskID and runID; reason does not change it.
func RunClosedKey(project, taskID, runID, reason string) string {
	return fmt.Sprintf("run-closed:%s:%s:%s", project, taskID, runID)
}

// BlockCascadeKey builds the idempotency key for one step of the
// BLOCK cascade (PROJECT_HALTED / WORKER_RUN_ABORTED) keyed by the
// triggering verdict event, so the cascade is idempotent across ticks.
func BlockCascadeKey(project, step, verdictEventID string) string {
	return fmt.Sprintf("block-cascade:%s:%s:%s", project, step, verdictEventID)
}

// StaleRunFailedKey builds the idempotency key for the synthetic
// WORKER_RUN_FAILED emitted when an open run is found stale after
// restart.
func StaleRunFailedKey(project, taskID, runID, reason string) string {
	return fmt.Sprintf("run-failed:%s:%s:%s:%s", project, taskID, runID, reason)
}

// DispatchKey builds the idempotency key for the WORKER_RUN_INTENT
// emitted by auto-dispatch for a given task and run.
func DispatchKey(project, taskID, runID string) string {
	return fmt.Sprintf("dispatch:%s:%s:%s", project, taskID, runID)
}

// RunStartedKey builds the idempotency key for the WORKER_RUN_STARTED
// that follows a successful (or failed) spawn for one run.
func RunStartedKey(project, taskID, runID string) string {
	return fmt.Sprintf("run-started:%s:%s:%s", project, taskID, runID)
}

// ResultNotifiedKey builds the idempotency key guaranteeing at-most-once
// notification per (taskID, runID).
func ResultNotifiedKey(project, taskID, runID string) string {
	return fmt.Sprintf("result-notified:%s:%s:%s", project, taskID, runID)
}

// RetryKey builds the idempotency key for the Nth auto-retry of a task.
func RetryKey(project, taskID string, retryCount int) string {
	return fmt.Sprintf("retry:%s:%s:%d", project, taskID, retryCount)
}

// MessageIgnoredKey builds the short-hash idempotency key for a
// MESSAGE_IGNORED diagnostic, per spec.md §4.5's "short hash of
// runId + messageType".
func MessageIgnoredKey(project, taskID, runID, messageType string) string {
	return fmt.Sprintf("message-ignored:%s:%s:%s", project, taskID, ids.ShortHash(runID+messageType, 12))
}

// EvidencePickupKey builds the idempotency key for the filesystem
// evidence-pickup success chain, keyed by the evidence file's path so
// the same drop-point is never replayed twice.
func EvidencePickupKey(project, taskID, runID, step string) string {
	return fmt.Sprintf("evidence-pickup:%s:%s:%s:%s", project, taskID, runID, step)
}
