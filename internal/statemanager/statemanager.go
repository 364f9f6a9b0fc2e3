// Package statemanager implements the append-only event log writer:
// idempotent append with monotonic sequence numbering, CRC-protected
// canonical encoding, per-file advisory locking, and atomic status
// publication (spec.md §4.3).
package statemanager

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ocx/orchestrator/internal/clock"
	"github.com/ocx/orchestrator/internal/codec"
	"github.com/ocx/orchestrator/internal/filelock"
	"github.com/ocx/orchestrator/internal/ids"
	"github.com/ocx/orchestrator/internal/ndjson"
	"github.com/ocx/orchestrator/internal/orchevents"
)

// AppendStatus is the outcome of an Append call.
type AppendStatus string

const (
	Appended AppendStatus = "appended"
	Deduped  AppendStatus = "deduped"
)

// AppendResult is returned by Append.
type AppendResult struct {
	Status AppendStatus
	Event  orchevents.Event // zero value when Status == Deduped
}

// ErrMissingIdempotencyKey is returned immediately, without touching
// the lock or the log, when the caller omits the required field
// (spec.md §4.3 step 1, §7 "Missing required field").
var ErrMissingIdempotencyKey = fmt.Errorf("statemanager: idempotencyKey is required")

// sequenceDoc is the shape of derived/sequence.json.
type sequenceDoc struct {
	LastSequence int64     `json:"lastSequence"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// idempotencyDoc is the shape of derived/idempotency-index.json.
type idempotencyDoc struct {
	Keys map[string]int64 `json:"keys"`
}

// StateManager owns the append-only log and the derived
// sequence/idempotency bookkeeping for one project directory.
type StateManager struct {
	Layout Layout
	Clock  clock.Clock
	IDs    *ids.Generator

	LockTimeout time.Duration
	LockPoll    time.Duration
}

// New returns a StateManager rooted at baseDir.
func New(baseDir string, clk clock.Clock, gen *ids.Generator, lockTimeout, lockPoll time.Duration) *StateManager {
	if clk == nil {
		clk = clock.System{}
	}
	if gen == nil {
		gen = ids.NewGenerator()
	}
	if lockTimeout <= 0 {
		lockTimeout = 10 * time.Second
	}
	if lockPoll <= 0 {
		lockPoll = 20 * time.Millisecond
	}
	return &StateManager{
		Layout:      NewLayout(baseDir),
		Clock:       clk,
		IDs:         gen,
		LockTimeout: lockTimeout,
		LockPoll:    lockPoll,
	}
}

// Append appends ev to events.ndjson under the events-log lock,
// deduplicating on IdempotencyKey, filling in any fields the caller
// left zero (eventId, schemaVersion, at) and always assigning
// sequenceNumber and crc32. On a lock
// timeout it records a diagnostic to audit/security.log and returns
// the *filelock.TimeoutError, matching spec.md §4.3 step 3.
func (sm *StateManager) Append(ctx context.Context, ev orchevents.Event) (AppendResult, error) {
	if ev.IdempotencyKey == "" {
		return AppendResult{}, ErrMissingIdempotencyKey
	}

	var result AppendResult
	err := filelock.WithLock(ctx, sm.Layout.EventsLock(), sm.Clock, sm.LockTimeout, sm.LockPoll, func() error {
		var innerErr error
		result, innerErr = sm.appendLocked(ev)
		return innerErr
	})
	if err != nil {
		sm.recordLockFailure(err)
		return AppendResult{}, err
	}
	return result, nil
}

func (sm *StateManager) appendLocked(ev orchevents.Event) (AppendResult, error) {
	index, err := sm.loadIdempotencyIndex()
	if err != nil {
		return AppendResult{}, err
	}
	if _, seen := index.Keys[ev.IdempotencyKey]; seen {
		return AppendResult{Status: Deduped}, nil
	}

	nextSeq, err := sm.nextSequence()
	if err != nil {
		return AppendResult{}, err
	}

	filled := ev.Clone()
	if filled.EventID == "" {
		eventID, err := sm.IDs.EventID()
		if err != nil {
			return AppendResult{}, fmt.Errorf("statemanager: generate eventId: %w", err)
		}
		filled.EventID = eventID
	}
	if filled.SchemaVersion == 0 {
		filled.SchemaVersion = 1
	}
	filled.SequenceNumber = nextSeq
	if filled.At == "" {
		filled.At = orchevents.FormatTime(sm.Clock.Now())
	}

	checksum, sealedLine, err := codec.Seal(&filled)
	if err != nil {
		return AppendResult{}, fmt.Errorf("statemanager: seal event: %w", err)
	}
	filled.CRC32 = checksum

	if err := ndjson.AppendLine(sm.Layout.EventsFile(), string(sealedLine)); err != nil {
		return AppendResult{}, err
	}

	index.Keys[filled.IdempotencyKey] = filled.SequenceNumber
	if err := sm.writeIdempotencyIndex(index); err != nil {
		return AppendResult{}, err
	}
	if err := sm.writeSequence(sequenceDoc{LastSequence: filled.SequenceNumber, UpdatedAt: sm.Clock.Now()}); err != nil {
		return AppendResult{}, err
	}

	return AppendResult{Status: Appended, Event: filled}, nil
}

// nextSequence computes last persisted sequence + 1. The primary
// source is derived/sequence.json; if it is missing, recovery falls
// back to the last non-empty line of events.ndjson, and finally to 0
// (spec.md §4.3 step 2b).
func (sm *StateManager) nextSequence() (int64, error) {
	doc, ok, err := sm.readSequence()
	if err != nil {
		return 0, err
	}
	if ok {
		return doc.LastSequence + 1, nil
	}

	last, err := ndjson.LastLine(sm.Layout.EventsFile())
	if err != nil {
		return 0, err
	}
	if last == "" {
		return 1, nil
	}
	var tail struct {
		SequenceNumber int64 `json:"sequenceNumber"`
	}
	if err := json.Unmarshal([]byte(last), &tail); err != nil {
		return 1, nil
	}
	return tail.SequenceNumber + 1, nil
}

func (sm *StateManager) readSequence() (sequenceDoc, bool, error) {
	data, err := readFileOrNil(sm.Layout.SequenceFile())
	if err != nil {
		return sequenceDoc{}, false, err
	}
	if data == nil {
		return sequenceDoc{}, false, nil
	}
	var doc sequenceDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return sequenceDoc{}, false, nil
	}
	return doc, true, nil
}

func (sm *StateManager) writeSequence(doc sequenceDoc) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("statemanager: marshal sequence: %w", err)
	}
	return ndjson.WriteAtomic(sm.Layout.SequenceFile(), data)
}

func (sm *StateManager) loadIdempotencyIndex() (idempotencyDoc, error) {
	data, err := readFileOrNil(sm.Layout.IdempotencyIndexFile())
	if err != nil {
		return idempotencyDoc{}, err
	}
	doc := idempotencyDoc{Keys: map[string]int64{}}
	if data == nil {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return idempotencyDoc{Keys: map[string]int64{}}, nil
	}
	if doc.Keys == nil {
		doc.Keys = map[string]int64{}
	}
	return doc, nil
}

func (sm *StateManager) writeIdempotencyIndex(doc idempotencyDoc) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("statemanager: marshal idempotency index: %w", err)
	}
	return ndjson.WriteAtomic(sm.Layout.IdempotencyIndexFile(), data)
}

// WriteStatus atomically publishes status under the status.json lock
// (spec.md §4.3 write_status). A lock timeout is recorded to
// security.log the same way Append's is, since spec.md §4.2 requires
// that regardless of which caller failed to acquire the lock.
func (sm *StateManager) WriteStatus(ctx context.Context, status any) error {
	err := filelock.WithLock(ctx, sm.Layout.StatusLock(), sm.Clock, sm.LockTimeout, sm.LockPoll, func() error {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return fmt.Errorf("statemanager: marshal status: %w", err)
		}
		return ndjson.WriteAtomic(sm.Layout.StatusFile(), data)
	})
	if err != nil {
		sm.recordLockFailure(err)
		return err
	}
	return nil
}

// securityLogEntry is one line of audit/security.log.
type securityLogEntry struct {
	At     string          `json:"at"`
	Kind   string          `json:"kind"`
	Path   string          `json:"path"`
	Holder *filelock.Holder `json:"holder,omitempty"`
	Error  string          `json:"error"`
}

// recordLockFailure appends a diagnostic line to security.log when err
// is a lock acquisition timeout (spec.md §4.2, §4.3 step 3); any other
// error is not logged.
func (sm *StateManager) recordLockFailure(err error) {
	var timeoutErr *filelock.TimeoutError
	if !asTimeoutError(err, &timeoutErr) {
		return
	}
	h := timeoutErr.Holder
	entry := securityLogEntry{
		At:     orchevents.FormatTime(sm.Clock.Now()),
		Kind:   "lock_timeout",
		Path:   timeoutErr.Path,
		Holder: &h,
		Error:  err.Error(),
	}
	data, mErr := json.Marshal(entry)
	if mErr != nil {
		return
	}
	_ = ndjson.AppendLine(sm.Layout.SecurityLog(), string(data))
}

func asTimeoutError(err error, target **filelock.TimeoutError) bool {
	for err != nil {
		if te, ok := err.(*filelock.TimeoutError); ok {
			*target = te
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
