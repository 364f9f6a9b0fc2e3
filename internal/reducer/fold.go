package reducer

import (
	"sort"

	"github.com/ocx/orchestrator/internal/orchevents"
)

// runAccum is the per-run status record backing TaskState.
type runAccum struct {
	started   bool
	completed bool
	failed    bool
	aborted   bool
	verdict   string // PASS | WARN | BLOCK, last WATCHDOG_VERDICT/HUMAN_VERDICT outcome
}

type taskAccum struct {
	taskID        string
	state         string
	gates         map[string]bool
	runID         string // currently bound run (may already be closed)
	lastRunID     string // most recently bound run, kept even after RunClosed
	skillDecision string
	policyTier    string
	lastEvidence  map[string]any
	lastVerdict   string
	resultQuality string
	failReason    string
	taskSpec      map[string]any
	run           runAccum
}

func newTaskAccum(taskID string) *taskAccum {
	return &taskAccum{taskID: taskID, state: "pending", gates: map[string]bool{}}
}

func (t *taskAccum) setGate(g string, on bool) {
	if on {
		t.gates[g] = true
	} else {
		delete(t.gates, g)
	}
}

func (t *taskAccum) clearGates() { t.gates = map[string]bool{} }

// recompute applies the priority blocked > canceled > done
// (spec.md §4.4 step 4, "State recomputation").
func (t *taskAccum) recompute() {
	switch {
	case t.run.verdict == "BLOCK" || t.run.failed:
		t.state = "blocked"
		t.clearGates()
	case t.run.aborted:
		t.state = "canceled"
		t.clearGates()
	case t.run.completed && t.run.verdict == "PASS":
		t.state = "done"
		t.clearGates()
		if t.resultQuality == "" {
			t.resultQuality = "clean"
		}
	}
}

type taskRunKey struct {
	taskID string
	runID  string
}

type foldState struct {
	project struct {
		phase          string
		halted         bool
		mode           string
		degradedReason string
	}
	watchdog struct {
		lastHeartbeatAt string
		state           string
	}
	tasks    map[string]*taskAccum
	order    []string // first-seen task order, for stable output
	risks    []Signal
	alerts   []Signal
	openRuns map[taskRunKey]bool
}

func newFoldState() *foldState {
	fs := &foldState{
		tasks:    map[string]*taskAccum{},
		openRuns: map[taskRunKey]bool{},
	}
	fs.project.mode = "normal"
	fs.watchdog.state = "healthy"
	return fs
}

func (fs *foldState) task(taskID string) *taskAccum {
	t, ok := fs.tasks[taskID]
	if !ok {
		t = newTaskAccum(taskID)
		fs.tasks[taskID] = t
		fs.order = append(fs.order, taskID)
	}
	return t
}

var degradedReasonByType = map[orchevents.Type]string{
	orchevents.WatchdogUnresponsive: "watchdog_unresponsive",
	orchevents.VerdictTimeout:       "verdict_timeout",
	orchevents.RecoveryStarted:      "recovery_in_progress",
}

var riskTypes = map[orchevents.Type]bool{
	orchevents.MessageIgnored:        true,
	orchevents.WatchdogUnresponsive:  true,
	orchevents.VerdictTimeout:        true,
	orchevents.LockTimeoutDetected:   true,
	orchevents.CorruptedLineDetected: true,
}

// Reduce folds events (already read and CRC-verified) into a Status
// snapshot, after sorting by (sequenceNumber, eventId) and
// deduplicating by idempotencyKey (spec.md §4.4 steps 2-4).
func Reduce(events []orchevents.Event, projectName string, now string) Status {
	sorted := sortEvents(events)
	deduped := dedupe(sorted)

	fs := newFoldState()
	fs.project.phase = "running"

	for _, ev := range deduped {
		fs.apply(ev)
	}

	fs.propagateWatchdogUnresponsiveReview()

	locks := fs.deriveLocks()

	return fs.assemble(projectName, now, locks)
}

func sortEvents(events []orchevents.Event) []orchevents.Event {
	out := make([]orchevents.Event, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SequenceNumber != out[j].SequenceNumber {
			return out[i].SequenceNumber < out[j].SequenceNumber
		}
		return out[i].EventID < out[j].EventID
	})
	return out
}

func dedupe(events []orchevents.Event) []orchevents.Event {
	seen := make(map[string]bool, len(events))
	out := make([]orchevents.Event, 0, len(events))
	for _, ev := range events {
		if ev.IdempotencyKey != "" && seen[ev.IdempotencyKey] {
			continue
		}
		if ev.IdempotencyKey != "" {
			seen[ev.IdempotencyKey] = true
		}
		out = append(out, ev)
	}
	return out
}

func (fs *foldState) apply(ev orchevents.Event) {
	switch ev.Type {
	case orchevents.ProjectStarted:
		fs.project.phase, fs.project.halted = "running", false
	case orchevents.ProjectFinished:
		fs.project.phase = "finished"
	case orchevents.ProjectHalted:
		fs.project.phase, fs.project.halted = "halted", true
	case orchevents.ProjectResumed:
		fs.project.phase, fs.project.halted = "running", false
	case orchevents.ProjectModeRestored:
		fs.project.mode, fs.project.degradedReason = "normal", ""
	case orchevents.WatchdogHeartbeat:
		fs.watchdog.lastHeartbeatAt = ev.At
		fs.watchdog.state = "healthy"
	case orchevents.WatchdogUnresponsive:
		fs.watchdog.state = "unresponsive"
		fs.degrade(ev.Type)
		fs.addRisk(ev)
	case orchevents.VerdictTimeout:
		fs.degrade(ev.Type)
		fs.addRisk(ev)
		if ev.TaskID != "" {
			fs.task(ev.TaskID).setGate("needs_human_review", true)
		}
	case orchevents.RecoveryStarted:
		fs.degrade(ev.Type)
	case orchevents.MessageIgnored, orchevents.LockTimeoutDetected, orchevents.CorruptedLineDetected:
		fs.addRisk(ev)
	}

	if ev.Type == orchevents.TaskSpecPublished {
		fs.applyTaskSpecPublished(ev)
		return // applyTaskSpecPublished handles its own task(s)
	}
	if ev.TaskID == "" {
		return
	}
	if orchevents.IsRunBound(ev.Type) {
		t := fs.tasks[ev.TaskID]
		if t != nil && t.runID != "" && ev.RunID != "" && ev.RunID != t.runID {
			return // stray cross-run message, spec.md §4.4 step 4
		}
	}

	t := fs.task(ev.TaskID)
	switch ev.Type {
	case orchevents.TaskSkillSet:
		t.setGate("awaiting_skill_decision", false)
		if d := ev.PayloadString("skill"); d != "" {
			t.skillDecision = d
		} else {
			t.skillDecision = ev.PayloadString("decision")
		}
	case orchevents.PolicyTierRequested:
		t.setGate("awaiting_policy_approval", true)
		if tier := ev.PayloadString("tier"); tier != "" {
			t.policyTier = tier
		}
	case orchevents.PolicyTierApproved:
		t.setGate("awaiting_policy_approval", false)
		if tier := ev.PayloadString("tier"); tier != "" {
			t.policyTier = tier
		}
	case orchevents.WorkerRunIntent:
		t.runID = ev.RunID
		t.lastRunID = ev.RunID
		t.run = runAccum{}
		t.state = "assigned"
		fs.openRuns[taskRunKey{ev.TaskID, ev.RunID}] = true
	case orchevents.WorkerRunStarted:
		t.run.started = true
		t.state = "running"
	case orchevents.WorkerRunCompleted:
		t.run.completed = true
		t.recompute()
	case orchevents.WorkerRunFailed:
		t.run.failed = true
		t.failReason = ev.PayloadString("reason")
		t.recompute()
	case orchevents.WorkerRunAborted:
		t.run.aborted = true
		t.recompute()
	case orchevents.EvidenceSubmitted:
		t.setGate("awaiting_verdict", true)
		t.lastEvidence = ev.Payload
	case orchevents.WatchdogVerdict:
		verdict := ev.PayloadString("verdict")
		t.lastVerdict = verdict
		t.run.verdict = verdict
		t.setGate("awaiting_verdict", false)
		switch verdict {
		case "WARN":
			t.setGate("needs_human_review", true)
		case "BLOCK":
			t.state = "blocked"
			t.clearGates()
			fs.alerts = append(fs.alerts, Signal{
				Type: "WATCHDOG_BLOCK", At: ev.At, TaskID: ev.TaskID, RunID: ev.RunID,
				Detail: map[string]any{"verdictEventId": ev.EventID},
			})
		}
		t.recompute()
	case orchevents.HumanVerdict:
		verdict := ev.PayloadString("verdict")
		t.lastVerdict = verdict
		switch verdict {
		case "PASS":
			t.setGate("needs_human_review", false)
			t.resultQuality = "warn_override"
		case "BLOCK":
			t.state = "blocked"
		}
		t.run.verdict = verdict
		t.recompute()
	case orchevents.RunClosed:
		delete(fs.openRuns, taskRunKey{ev.TaskID, ev.RunID})
	}
}

// applyTaskSpecPublished handles both the single-spec and the tasks[]
// array payload shapes (spec.md §4.4 step 4, TASKSPEC_PUBLISHED).
func (fs *foldState) applyTaskSpecPublished(ev orchevents.Event) {
	if arr, ok := ev.PayloadSlice("tasks"); ok {
		for _, item := range arr {
			spec, ok := item.(map[string]any)
			if !ok {
				continue
			}
			taskID, _ := spec["taskId"].(string)
			if taskID == "" {
				continue
			}
			fs.publishOneSpec(taskID, spec)
		}
		return
	}
	if ev.TaskID != "" {
		fs.publishOneSpec(ev.TaskID, ev.Payload)
	}
}

func (fs *foldState) publishOneSpec(taskID string, spec map[string]any) {
	t := fs.task(taskID)
	t.taskSpec = spec
	t.state = "pending"
	t.setGate("awaiting_skill_decision", true)
}

func (fs *foldState) degrade(t orchevents.Type) {
	reason, ok := degradedReasonByType[t]
	if !ok {
		return
	}
	fs.project.mode = "degraded"
	fs.project.degradedReason = reason
}

func (fs *foldState) addRisk(ev orchevents.Event) {
	if !riskTypes[ev.Type] {
		return
	}
	fs.risks = append(fs.risks, Signal{
		Type: string(ev.Type), At: ev.At, TaskID: ev.TaskID, RunID: ev.RunID, Detail: ev.Payload,
	})
}

// propagateWatchdogUnresponsiveReview implements spec.md §4.4 step 5:
// once degraded for watchdog_unresponsive, every non-terminal task
// still awaiting a verdict also needs human review.
func (fs *foldState) propagateWatchdogUnresponsiveReview() {
	if fs.project.degradedReason != "watchdog_unresponsive" {
		return
	}
	for _, taskID := range fs.order {
		t := fs.tasks[taskID]
		if isTerminal(t.state) {
			continue
		}
		if t.gates["awaiting_verdict"] {
			t.setGate("needs_human_review", true)
		}
	}
}

func isTerminal(state string) bool {
	return state == "done" || state == "blocked" || state == "canceled"
}

// deriveLocks implements spec.md §4.4 step 6.
func (fs *foldState) deriveLocks() LocksView {
	locks := LocksView{Tasks: map[string]string{}}
	if fs.project.phase == "running" && !fs.project.halted {
		locks.Project = "running"
	} else {
		locks.Project = "idle"
	}

	openByTask := map[string][]string{}
	for key := range fs.openRuns {
		openByTask[key.taskID] = append(openByTask[key.taskID], key.runID)
	}

	for taskID, runIDs := range openByTask {
		if len(runIDs) == 1 {
			locks.Tasks[taskID] = runIDs[0]
			continue
		}
		fs.project.mode = "degraded"
		fs.project.degradedReason = "multiple_open_runs"
		fs.alerts = append(fs.alerts, Signal{
			Type: "MULTIPLE_OPEN_RUNS", TaskID: taskID,
			Detail: map[string]any{"runIds": runIDs},
		})
	}
	return locks
}

// assemble implements spec.md §4.4 step 7: split into done (compact)
// and other (full) views, and compute progress.
func (fs *foldState) assemble(projectName, now string, locks LocksView) Status {
	sort.Strings(fs.order)

	var views []TaskView
	progress := Progress{}

	for _, taskID := range fs.order {
		t := fs.tasks[taskID]
		progress.Total++
		switch t.state {
		case "done":
			progress.Done++
			views = append(views, TaskView{
				TaskID:        t.taskID,
				State:         t.state,
				ResultSummary: resultSummary(t),
				EvidencePath:  evidencePath(t),
				LastRunID:     t.lastRunID,
			})
		case "blocked":
			progress.Blocked++
			views = append(views, fullTaskView(t))
		default:
			views = append(views, fullTaskView(t))
		}
	}

	return Status{
		Project: ProjectStatus{
			Name: projectName, Phase: fs.project.phase, Halted: fs.project.halted,
			Mode: fs.project.mode, DegradedReason: fs.project.degradedReason, Progress: progress,
		},
		Watchdog:  WatchdogStatus{LastHeartbeatAt: fs.watchdog.lastHeartbeatAt, State: fs.watchdog.state},
		Tasks:     views,
		Risks:     fs.risks,
		Alerts:    fs.alerts,
		Locks:     locks,
		UpdatedAt: now,
	}
}

func fullTaskView(t *taskAccum) TaskView {
	return TaskView{
		TaskID:        t.taskID,
		State:         t.state,
		Gates:         sortedGates(t.gates),
		RunID:         t.runID,
		SkillDecision: t.skillDecision,
		PolicyTier:    t.policyTier,
		LastEvidence:  t.lastEvidence,
		LastVerdict:   t.lastVerdict,
		Result:        resultMap(t),
		TaskSpec:      t.taskSpec,
	}
}

func sortedGates(gates map[string]bool) []string {
	if len(gates) == 0 {
		return nil
	}
	out := make([]string, 0, len(gates))
	for g := range gates {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

func resultMap(t *taskAccum) map[string]any {
	if t.resultQuality == "" && t.failReason == "" {
		return nil
	}
	m := map[string]any{}
	if t.resultQuality != "" {
		m["quality"] = t.resultQuality
	}
	if t.failReason != "" {
		m["reason"] = t.failReason
	}
	return m
}

func resultSummary(t *taskAccum) string {
	if t.resultQuality != "" {
		return t.resultQuality
	}
	return "clean"
}

func evidencePath(t *taskAccum) string {
	if t.lastEvidence == nil {
		return ""
	}
	if p, ok := t.lastEvidence["evidencePath"].(string); ok {
		return p
	}
	return ""
}
