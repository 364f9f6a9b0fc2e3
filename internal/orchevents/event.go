// Package orchevents defines the closed event-type enumeration, the
// Event record shape, and the small set of helpers (idempotency-key
// builders, payload accessors, run-bound classification) shared by the
// state manager, reducer, and orchestrator tick.
//
// Events are immutable once appended; nothing in this package mutates
// an Event after construction.
package orchevents

import "time"

// Type is one member of the closed event-type enumeration (spec.md §6.2).
type Type string

const (
	// Lifecycle
	TeamCreated          Type = "TEAM_CREATED"
	ProjectStarted       Type = "PROJECT_STARTED"
	ProjectFinished      Type = "PROJECT_FINISHED"
	ProjectHalted        Type = "PROJECT_HALTED"
	ProjectResumed       Type = "PROJECT_RESUMED"
	ProjectModeRestored  Type = "PROJECT_MODE_RESTORED"

	// Task flow
	TaskSpecPublished    Type = "TASKSPEC_PUBLISHED"
	TaskSkillSet         Type = "TASK_SKILL_SET"
	PolicyTierRequested  Type = "POLICY_TIER_REQUESTED"
	PolicyTierApproved   Type = "POLICY_TIER_APPROVED"

	// Run flow
	WorkerRunIntent      Type = "WORKER_RUN_INTENT"
	WorkerRunStarted     Type = "WORKER_RUN_STARTED"
	WorkerRunCompleted   Type = "WORKER_RUN_COMPLETED"
	WorkerRunFailed      Type = "WORKER_RUN_FAILED"
	WorkerRunAborted     Type = "WORKER_RUN_ABORTED"
	RunClosed            Type = "RUN_CLOSED"

	// Verdict
	EvidenceSubmitted    Type = "EVIDENCE_SUBMITTED"
	WatchdogVerdict      Type = "WATCHDOG_VERDICT"
	WatchdogHeartbeat    Type = "WATCHDOG_HEARTBEAT"
	HumanVerdict         Type = "HUMAN_VERDICT"

	// Diagnostics
	MessageIgnored          Type = "MESSAGE_IGNORED"
	WatchdogUnresponsive    Type = "WATCHDOG_UNRESPONSIVE"
	VerdictTimeout          Type = "VERDICT_TIMEOUT"
	LockTimeoutDetected     Type = "LOCK_TIMEOUT_DETECTED"
	CorruptedLineDetected   Type = "CORRUPTED_LINE_DETECTED"
	RecoveryStarted         Type = "RECOVERY_STARTED"
	TaskRetried             Type = "TASK_RETRIED"
	ResultNotified          Type = "RESULT_NOTIFIED"
)

// runBound is the set of event types that are ignored by the reducer
// when they arrive for a task whose open run does not match their
// runId (spec.md §4.4 step 4, "stray cross-run messages").
var runBound = map[Type]bool{
	WorkerRunStarted:   true,
	WorkerRunCompleted: true,
	WorkerRunFailed:    true,
	WorkerRunAborted:   true,
	EvidenceSubmitted:  true,
	WatchdogVerdict:    true,
	HumanVerdict:       true,
}

// IsRunBound reports whether t must be ignored when its runId does not
// match the task's currently bound open run.
func IsRunBound(t Type) bool { return runBound[t] }

// ISOFormat is the wire timestamp layout: microsecond precision, UTC,
// Z-suffixed, matching spec.md §3's "ISO-8601 with microsecond
// precision and Z suffix".
const ISOFormat = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t per ISOFormat, forcing UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(ISOFormat)
}

// ParseTime parses a wire timestamp produced by FormatTime. It also
// accepts RFC3339Nano as a fallback for events produced by other
// actors (watchdog, worker) whose exact microsecond formatting may
// differ slightly.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(ISOFormat, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

// Event is an immutable append-only event record (spec.md §3).
type Event struct {
	Type           Type           `json:"type"`
	EventID        string         `json:"eventId"`
	SequenceNumber int64          `json:"sequenceNumber"`
	SchemaVersion  int            `json:"schemaVersion"`
	At             string         `json:"at"`
	Actor          string         `json:"actor"`
	Project        string         `json:"project"`
	TaskID         string         `json:"taskId,omitempty"`
	RunID          string         `json:"runId,omitempty"`
	CorrelationID  string         `json:"correlationId,omitempty"`
	CausationID    string         `json:"causationId,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	IdempotencyKey string         `json:"idempotencyKey"`
	CRC32          string         `json:"crc32"`
}

// Clone returns a deep-enough copy of e (the payload map is copied one
// level deep, which is sufficient since payload values are never
// mutated after being read out of an event).
func (e Event) Clone() Event {
	cp := e
	if e.Payload != nil {
		cp.Payload = make(map[string]any, len(e.Payload))
		for k, v := range e.Payload {
			cp.Payload[k] = v
		}
	}
	return cp
}

// PayloadString returns payload[key] as a string, or "" if absent or
// of another type.
func (e Event) PayloadString(key string) string {
	if e.Payload == nil {
		return ""
	}
	v, ok := e.Payload[key].(string)
	if !ok {
		return ""
	}
	return v
}

// PayloadFloat returns payload[key] as a float64. JSON numbers decode
// to float64 in a map[string]any, so this also covers integers.
func (e Event) PayloadFloat(key string) (float64, bool) {
	if e.Payload == nil {
		return 0, false
	}
	v, ok := e.Payload[key].(float64)
	return v, ok
}

// PayloadBool returns payload[key] as a bool.
func (e Event) PayloadBool(key string) bool {
	if e.Payload == nil {
		return false
	}
	v, _ := e.Payload[key].(bool)
	return v
}

// PayloadSlice returns payload[key] as a []any, for array-shaped
// payload fields such as TASKSPEC_PUBLISHED's tasks[] array.
func (e Event) PayloadSlice(key string) ([]any, bool) {
	if e.Payload == nil {
		return nil, false
	}
	v, ok := e.Payload[key].([]any)
	return v, ok
}

// Builder accumulates the fields of an event before it is handed to
// the state manager's Append, which fills eventId/at if they are still
// zero and always assigns sequenceNumber/crc32.
type Builder struct {
	ev Event
}

// NewBuilder starts a Builder for an event of type t produced by actor
// within project.
func NewBuilder(t Type, actor, project string) *Builder {
	return &Builder{ev: Event{
		Type:          t,
		Actor:         actor,
		Project:       project,
		SchemaVersion: 1,
		Payload:       map[string]any{},
	}}
}

func (b *Builder) Task(taskID string) *Builder       { b.ev.TaskID = taskID; return b }
func (b *Builder) Run(runID string) *Builder         { b.ev.RunID = runID; b.ev.CorrelationID = runID; return b }
func (b *Builder) Correlation(id string) *Builder    { b.ev.CorrelationID = id; return b }
func (b *Builder) Causation(id string) *Builder      { b.ev.CausationID = id; return b }
func (b *Builder) Idempotency(key string) *Builder   { b.ev.IdempotencyKey = key; return b }
func (b *Builder) Payload(key string, val any) *Builder {
	if b.ev.Payload == nil {
		b.ev.Payload = map[string]any{}
	}
	b.ev.Payload[key] = val
	return b
}

// Build returns the accumulated Event.
func (b *Builder) Build() Event { return b.ev }
