// Package filelock provides exclusive advisory locking on a sidecar
// file, used to serialize access to events.ndjson, status.json, and
// each derived file (spec.md §4.2, §5).
//
// Acquisition is atomic-file-creation based (O_EXCL) rather than a
// syscall flock, since this is a portable scheme that works the same
// way across every platform the orchestrator runs on.
package filelock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ocx/orchestrator/internal/clock"
)

// Holder is the metadata written into a lock sidecar file on
// acquisition, and read back out to report who holds a contested lock.
type Holder struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// TimeoutError is returned by Acquire when the timeout elapses before
// the lock could be obtained. It carries the recorded holder metadata
// so callers can log or display who is holding the lock.
type TimeoutError struct {
	Path   string
	Holder Holder
	Cause  error
}

func (e *TimeoutError) Error() string {
	if e.Holder.PID != 0 {
		return fmt.Sprintf("filelock: timed out acquiring %s (held by pid %d since %s)",
			e.Path, e.Holder.PID, e.Holder.AcquiredAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("filelock: timed out acquiring %s", e.Path)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// Lock is an exclusive advisory lock backed by path+".lock" semantics:
// callers pass the full sidecar path (e.g. "events.ndjson.lock").
type Lock struct {
	path  string
	clock clock.Clock

	acquired bool
}

// New returns a Lock for the sidecar file at path.
func New(path string, clk clock.Clock) *Lock {
	if clk == nil {
		clk = clock.System{}
	}
	return &Lock{path: path, clock: clk}
}

// Acquire polls until the lock is granted, the context is cancelled,
// or timeout elapses. On success it writes {pid, acquiredAt} into the
// lock file. On timeout it returns a *TimeoutError carrying the
// current holder's metadata, read on a best-effort basis.
func (l *Lock) Acquire(ctx context.Context, timeout, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = 20 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)

	for {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			holder := Holder{PID: os.Getpid(), AcquiredAt: l.clock.Now()}
			data, mErr := json.Marshal(holder)
			if mErr == nil {
				_, _ = f.Write(data)
			}
			_ = f.Close()
			l.acquired = true
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("filelock: create %s: %w", l.path, err)
		}

		if !time.Now().Before(deadline) {
			holder, _ := l.readHolder()
			return &TimeoutError{Path: l.path, Holder: holder}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// readHolder best-effort decodes the current lock file contents.
func (l *Lock) readHolder() (Holder, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return Holder{}, err
	}
	var h Holder
	if err := json.Unmarshal(data, &h); err != nil {
		return Holder{}, err
	}
	return h, nil
}

// Release removes the lock file. It is a no-op error-wise if the lock
// was never acquired or has already been removed.
func (l *Lock) Release() error {
	if !l.acquired {
		return nil
	}
	l.acquired = false
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("filelock: release %s: %w", l.path, err)
	}
	return nil
}

// WithLock acquires the lock at path, runs fn, and releases the lock
// on every exit path (including panics propagated out of fn), matching
// spec.md §4.2's "guaranteed release on any exit path".
func WithLock(ctx context.Context, path string, clk clock.Clock, timeout, pollInterval time.Duration, fn func() error) error {
	l := New(path, clk)
	if err := l.Acquire(ctx, timeout, pollInterval); err != nil {
		return err
	}
	defer func() { _ = l.Release() }()
	return fn()
}
