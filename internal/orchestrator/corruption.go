package orchestrator

import (
	"context"
	"fmt"

	"github.com/ocx/orchestrator/internal/reducer"
	"github.com/ocx/orchestrator/internal/statemanager"
)

// recoverCorruption implements spec.md §4.5 step 1: every corrupted
// line gets a paired CORRUPTED_LINE_DETECTED + RECOVERY_STARTED event,
// idempotent per (line offset, content hash) so repeated ticks over
// the same corrupted line never pile up diagnostics.
func (o *Orchestrator) recoverCorruption(ctx context.Context) error {
	_, corrupted, err := reducer.ReadAndVerify(o.SM.Layout.EventsFile())
	if err != nil {
		return fmt.Errorf("read events for corruption scan: %w", err)
	}
	if len(corrupted) == 0 {
		return nil
	}

	for _, c := range corrupted {
		detected, recovery := statemanager.BuildCorruptedEventPayload(o.Project, c.Line, c.Raw, c.Reason)
		if _, err := o.append(ctx, detected); err != nil {
			return fmt.Errorf("corrupted line detected: %w", err)
		}
		if _, err := o.append(ctx, recovery); err != nil {
			return fmt.Errorf("recovery started: %w", err)
		}
	}
	return nil
}
