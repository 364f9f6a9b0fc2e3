package orchestrator

import (
	"time"

	"github.com/ocx/orchestrator/internal/orchevents"
)

// runInfo accumulates everything the reconciliation steps need about
// one (taskId, runId) pair, built by a single pass over the event
// log (original_source/tiangong/core/orchestrator.py's
// _reconcile_open_runs run_info table).
type runInfo struct {
	taskID, runID                                          string
	closed, completed, failed, aborted                     bool
	verdict                                                string
	verdictEventID, failedEventID, abortedEventID, doneID   string
	intentAt, startedAt                                     time.Time
}

func (r *runInfo) terminal() bool {
	return r.verdict == "BLOCK" || r.failed || r.aborted || (r.completed && r.verdict == "PASS")
}

func (r *runInfo) causationID() string {
	switch {
	case r.verdictEventID != "":
		return r.verdictEventID
	case r.failedEventID != "":
		return r.failedEventID
	case r.abortedEventID != "":
		return r.abortedEventID
	default:
		return r.doneID
	}
}

type runKey struct{ taskID, runID string }

// buildRunIndex walks events once and returns per-run accumulators
// keyed by (taskId, runId), skipping events that carry neither.
func buildRunIndex(events []orchevents.Event) map[runKey]*runInfo {
	idx := map[runKey]*runInfo{}
	get := func(taskID, runID string) *runInfo {
		k := runKey{taskID, runID}
		ri, ok := idx[k]
		if !ok {
			ri = &runInfo{taskID: taskID, runID: runID}
			idx[k] = ri
		}
		return ri
	}

	for _, ev := range events {
		if ev.TaskID == "" || ev.RunID == "" {
			continue
		}
		ri := get(ev.TaskID, ev.RunID)
		ts, _ := orchevents.ParseTime(ev.At)
		switch ev.Type {
		case orchevents.WorkerRunIntent:
			if ri.intentAt.IsZero() {
				ri.intentAt = ts
			}
		case orchevents.WorkerRunStarted:
			if ri.startedAt.IsZero() {
				ri.startedAt = ts
			}
		case orchevents.WorkerRunCompleted:
			ri.completed = true
			ri.doneID = ev.EventID
		case orchevents.WorkerRunFailed:
			ri.failed = true
			ri.failedEventID = ev.EventID
		case orchevents.WorkerRunAborted:
			ri.aborted = true
			ri.abortedEventID = ev.EventID
		case orchevents.WatchdogVerdict, orchevents.HumanVerdict:
			ri.verdict = ev.PayloadString("verdict")
			ri.verdictEventID = ev.EventID
		case orchevents.RunClosed:
			ri.closed = true
		}
	}
	return idx
}

// lastHeartbeatAt returns the timestamp of the most recent
// WATCHDOG_HEARTBEAT event, and whether one exists.
func lastHeartbeatAt(events []orchevents.Event) (time.Time, bool) {
	var latest time.Time
	found := false
	for _, ev := range events {
		if ev.Type != orchevents.WatchdogHeartbeat {
			continue
		}
		ts, ok := orchevents.ParseTime(ev.At)
		if !ok {
			continue
		}
		if !found || ts.After(latest) {
			latest, found = ts, true
		}
	}
	return latest, found
}

// lastProjectTransitionAt returns the most recent timestamp among
// events of the given types, used to decide whether the project is
// currently halted/finished for the purposes of the heartbeat check.
func lastProjectTransitionAt(events []orchevents.Event, types ...orchevents.Type) (time.Time, bool) {
	want := map[orchevents.Type]bool{}
	for _, t := range types {
		want[t] = true
	}
	var latest time.Time
	found := false
	for _, ev := range events {
		if !want[ev.Type] {
			continue
		}
		ts, ok := orchevents.ParseTime(ev.At)
		if !ok {
			continue
		}
		if !found || ts.After(latest) {
			latest, found = ts, true
		}
	}
	return latest, found
}

// blockCascadeState returns the set of WATCHDOG_VERDICT eventIds
// that have already produced a PROJECT_HALTED, and the
// (taskId,runId) pairs already aborted/closed, for block-cascade
// idempotency checks that don't rely solely on Append's dedupe.
func blockCascadeState(events []orchevents.Event) (halted map[string]bool, aborted, closed map[runKey]bool) {
	halted = map[string]bool{}
	aborted = map[runKey]bool{}
	closed = map[runKey]bool{}
	for _, ev := range events {
		switch ev.Type {
		case orchevents.ProjectHalted:
			if ev.CausationID != "" {
				halted[ev.CausationID] = true
			}
		case orchevents.WorkerRunAborted:
			aborted[runKey{ev.TaskID, ev.RunID}] = true
		case orchevents.RunClosed:
			closed[runKey{ev.TaskID, ev.RunID}] = true
		}
	}
	return halted, aborted, closed
}

// retryCount returns the number of TASK_RETRIED events already
// recorded for taskID.
func retryCount(events []orchevents.Event, taskID string) int {
	n := 0
	for _, ev := range events {
		if ev.Type == orchevents.TaskRetried && ev.TaskID == taskID {
			n++
		}
	}
	return n
}

// alreadyNotified reports whether a RESULT_NOTIFIED event already
// exists for (taskID, runID).
func alreadyNotified(events []orchevents.Event, taskID, runID string) bool {
	for _, ev := range events {
		if ev.Type == orchevents.ResultNotified && ev.TaskID == taskID && ev.RunID == runID {
			return true
		}
	}
	return false
}

// evidenceAlreadySubmitted reports whether an EVIDENCE_SUBMITTED
// event already exists for (taskID, runID).
func evidenceAlreadySubmitted(events []orchevents.Event, taskID, runID string) bool {
	for _, ev := range events {
		if ev.Type == orchevents.EvidenceSubmitted && ev.TaskID == taskID && ev.RunID == runID {
			return true
		}
	}
	return false
}
