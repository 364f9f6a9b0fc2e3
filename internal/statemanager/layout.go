package statemanager

import "path/filepath"

// Layout resolves the well-known project-relative paths (spec.md §6.1).
type Layout struct {
	BaseDir string
}

func NewLayout(baseDir string) Layout { return Layout{BaseDir: baseDir} }

func (l Layout) TeamFile() string     { return filepath.Join(l.BaseDir, "team.json") }
func (l Layout) RegistryFile() string { return filepath.Join(l.BaseDir, "registry.json") }
func (l Layout) StatusFile() string   { return filepath.Join(l.BaseDir, "status.json") }
func (l Layout) StatusLock() string   { return l.StatusFile() + ".lock" }

func (l Layout) AuditDir() string      { return filepath.Join(l.BaseDir, "audit") }
func (l Layout) EventsFile() string    { return filepath.Join(l.AuditDir(), "events.ndjson") }
func (l Layout) EventsLock() string    { return l.EventsFile() + ".lock" }
func (l Layout) SecurityLog() string   { return filepath.Join(l.AuditDir(), "security.log") }

func (l Layout) DerivedDir() string          { return filepath.Join(l.BaseDir, "derived") }
func (l Layout) SequenceFile() string        { return filepath.Join(l.DerivedDir(), "sequence.json") }
func (l Layout) IdempotencyIndexFile() string { return filepath.Join(l.DerivedDir(), "idempotency-index.json") }
func (l Layout) WatchdogVerdictsFile() string { return filepath.Join(l.DerivedDir(), "watchdog-verdicts.ndjson") }
func (l Layout) LocksIndexFile() string       { return filepath.Join(l.DerivedDir(), "locks-index.json") }

func (l Layout) EvidenceDir() string { return filepath.Join(l.BaseDir, "evidence") }
func (l Layout) EvidenceFile(taskID, runID string) string {
	return filepath.Join(l.EvidenceDir(), taskID, runID+".md")
}
