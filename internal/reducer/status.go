// Package reducer implements the pure fold over a project's sorted
// event stream that reconstructs project/task/lock status (spec.md
// §4.4). Reduce never performs I/O and never mutates its input; all
// durability lives in internal/statemanager.
package reducer

// Progress summarizes task counts by terminal state.
type Progress struct {
	Total   int `json:"total"`
	Done    int `json:"done"`
	Blocked int `json:"blocked"`
}

// ProjectStatus is the project-level slice of Status.
type ProjectStatus struct {
	Name           string   `json:"name"`
	Phase          string   `json:"phase"` // running | finished | halted
	Halted         bool     `json:"halted"`
	Mode           string   `json:"mode"` // normal | degraded
	DegradedReason string   `json:"degradedReason,omitempty"`
	Progress       Progress `json:"progress"`
}

// WatchdogStatus is the watchdog-level slice of Status.
type WatchdogStatus struct {
	LastHeartbeatAt string `json:"lastHeartbeatAt,omitempty"`
	State           string `json:"state"` // healthy | unresponsive
}

// Signal is the shape shared by risks[] and alerts[].
type Signal struct {
	Type   string         `json:"type"`
	At     string         `json:"at"`
	TaskID string         `json:"taskId,omitempty"`
	RunID  string         `json:"runId,omitempty"`
	Detail map[string]any `json:"detail,omitempty"`
}

// LocksView is the locks slice of Status.
type LocksView struct {
	Project string            `json:"project"` // idle | running
	Tasks   map[string]string `json:"tasks"`   // taskId -> runId
}

// TaskView is one entry of Status.Tasks. Done tasks are rendered as a
// compact summary (ResultSummary/EvidencePath/LastRunID only); every
// other state carries the full view (spec.md §4.4 step 7).
type TaskView struct {
	TaskID string `json:"taskId"`
	State  string `json:"state"`

	// Full view fields (omitted for done tasks).
	Gates         []string       `json:"gates,omitempty"`
	RunID         string         `json:"runId,omitempty"`
	SkillDecision string         `json:"skillDecision,omitempty"`
	PolicyTier    string         `json:"policyTier,omitempty"`
	LastEvidence  map[string]any `json:"lastEvidence,omitempty"`
	LastVerdict   string         `json:"lastVerdict,omitempty"`
	Result        map[string]any `json:"result,omitempty"`
	TaskSpec      map[string]any `json:"taskSpec,omitempty"`

	// Compact (done) view fields.
	ResultSummary string `json:"resultSummary,omitempty"`
	EvidencePath  string `json:"evidencePath,omitempty"`
	LastRunID     string `json:"lastRunId,omitempty"`
}

// Status is the materialized snapshot published to status.json.
type Status struct {
	Project  ProjectStatus  `json:"project"`
	Watchdog WatchdogStatus `json:"watchdog"`
	Tasks    []TaskView     `json:"tasks"`
	Risks    []Signal       `json:"risks"`
	Alerts   []Signal       `json:"alerts"`
	Locks    LocksView      `json:"locks"`
	UpdatedAt string        `json:"updatedAt"`
}

// Corrupted describes one line of events.ndjson excluded from the
// fold because it failed to decode or failed CRC verification
// (spec.md §4.4 step 1).
type Corrupted struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
	Raw    string `json:"raw"`
}
