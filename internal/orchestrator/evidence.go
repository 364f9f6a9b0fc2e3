package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ocx/orchestrator/internal/orchevents"
)

// pickUpEvidence implements spec.md §4.5 step 10: scan
// evidence/<taskId>/<runId>.md for drop-points not yet reflected in
// the event log, and append the full auto-approval success chain for
// each. Grounded on
// original_source/tiangong/core/orchestrator.py's
// _check_worker_evidence_files.
func (o *Orchestrator) pickUpEvidence(ctx context.Context, events []orchevents.Event) error {
	root := o.SM.Layout.EvidenceDir()
	taskDirs, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read evidence dir: %w", err)
	}

	for _, taskDir := range taskDirs {
		if !taskDir.IsDir() {
			continue
		}
		taskID := taskDir.Name()
		files, err := os.ReadDir(filepath.Join(root, taskID))
		if err != nil {
			return fmt.Errorf("read evidence/%s: %w", taskID, err)
		}

		for _, f := range files {
			name := f.Name()
			if f.IsDir() || !strings.HasSuffix(name, ".md") {
				continue
			}
			runID := strings.TrimSuffix(name, ".md")
			if evidenceAlreadySubmitted(events, taskID, runID) {
				continue
			}

			path := filepath.Join(root, taskID, name)
			content, err := os.ReadFile(path)
			if err != nil {
				continue // transient read error, retried next tick
			}

			if err := o.appendEvidenceChain(ctx, taskID, runID, path, parseFilesChanged(string(content))); err != nil {
				return fmt.Errorf("evidence chain %s/%s: %w", taskID, runID, err)
			}
		}
	}
	return nil
}

// parseFilesChanged extracts bullet-list entries from an evidence
// markdown file, skipping the heading line itself.
func parseFilesChanged(content string) []string {
	var files []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "- ") {
			continue
		}
		if strings.Contains(trimmed, "Files Changed") || strings.Contains(trimmed, "**") {
			continue
		}
		entry := strings.TrimSpace(strings.TrimPrefix(trimmed, "- "))
		if entry != "" {
			files = append(files, entry)
		}
	}
	return files
}

// appendEvidenceChain appends EVIDENCE_SUBMITTED, an auto-PASS
// WATCHDOG_VERDICT, WORKER_RUN_COMPLETED, and RUN_CLOSED, in that
// order, idempotently keyed by evidence pickup step.
func (o *Orchestrator) appendEvidenceChain(ctx context.Context, taskID, runID, relPath string, filesChanged []string) error {
	evidence := orchevents.NewBuilder(orchevents.EvidenceSubmitted, "worker", o.Project).
		Task(taskID).Run(runID).
		Payload("filesChanged", toAnySlice(filesChanged)).
		Payload("evidencePath", relPath).
		Idempotency(orchevents.EvidencePickupKey(o.Project, taskID, runID, "submitted")).
		Build()
	if _, err := o.append(ctx, evidence); err != nil {
		return err
	}

	verdict := orchevents.NewBuilder(orchevents.WatchdogVerdict, "watchdog", o.Project).
		Task(taskID).Run(runID).
		Payload("verdict", "PASS").
		Payload("reasons", []any{}).
		Payload("suggestedActions", []any{}).
		Idempotency(orchevents.EvidencePickupKey(o.Project, taskID, runID, "verdict")).
		Build()
	if _, err := o.append(ctx, verdict); err != nil {
		return err
	}
	o.Metrics.RecordWatchdogVerdict(o.Project, "PASS")

	completed := orchevents.NewBuilder(orchevents.WorkerRunCompleted, "worker", o.Project).
		Task(taskID).Run(runID).
		Payload("result", "success").
		Idempotency(orchevents.EvidencePickupKey(o.Project, taskID, runID, "completed")).
		Build()
	if _, err := o.append(ctx, completed); err != nil {
		return err
	}

	closeEv := orchevents.NewBuilder(orchevents.RunClosed, "orchestrator", o.Project).
		Task(taskID).Run(runID).
		Payload("closeReason", "completed_with_pass").
		Idempotency(orchevents.EvidencePickupKey(o.Project, taskID, runID, "closed")).
		Build()
	if _, err := o.append(ctx, closeEv); err != nil {
		return err
	}
	return nil
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
