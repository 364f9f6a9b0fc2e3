package reducer

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ocx/orchestrator/internal/ndjson"
	"github.com/ocx/orchestrator/internal/orchevents"
)

// EmitDerived writes the two read-only projections named in spec.md
// §4.4 step 8: a filtered watchdog-verdicts.ndjson (one line per
// WATCHDOG_VERDICT/HUMAN_VERDICT event, in fold order) and an atomic
// locks-index.json snapshot of the current LocksView. Callers request
// this only when they need the projections refreshed; Reduce itself
// never touches the filesystem.
func EmitDerived(events []orchevents.Event, locks LocksView, watchdogVerdictsPath, locksIndexPath string) error {
	if err := emitWatchdogVerdicts(events, watchdogVerdictsPath); err != nil {
		return err
	}
	return emitLocksIndex(locks, locksIndexPath)
}

// emitWatchdogVerdicts rewrites path from scratch on each call (rather
// than appending) so a re-run over a growing event log never
// duplicates lines already projected by an earlier tick.
func emitWatchdogVerdicts(events []orchevents.Event, path string) error {
	sorted := dedupe(sortEvents(events))
	var buf bytes.Buffer
	for _, ev := range sorted {
		if ev.Type != orchevents.WatchdogVerdict && ev.Type != orchevents.HumanVerdict {
			continue
		}
		line, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("reducer: marshal verdict line: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return ndjson.WriteAtomic(path, buf.Bytes())
}

func emitLocksIndex(locks LocksView, path string) error {
	data, err := json.MarshalIndent(locks, "", "  ")
	if err != nil {
		return fmt.Errorf("reducer: marshal locks index: %w", err)
	}
	return ndjson.WriteAtomic(path, data)
}
