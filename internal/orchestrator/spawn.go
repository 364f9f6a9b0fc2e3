package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SpawnResult is the payload recorded on WORKER_RUN_STARTED after a
// dispatch attempt (spec.md §6.4 "Spawn Worker").
type SpawnResult struct {
	Status          string `json:"status"` // "spawned" | "error"
	ChildSessionKey string `json:"childSessionKey,omitempty"`
	RunID           string `json:"runId,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Spawner is the external collaborator that turns a dispatch intent
// into a running worker. The core only consumes the identifiers it
// returns; a spawn failure is recorded in the SpawnResult rather than
// returned as an error, matching the Python implementation's
// catch-and-embed behavior.
type Spawner interface {
	Spawn(ctx context.Context, taskID, label, cleanup string, taskSpec map[string]any) SpawnResult
}

// NoopSpawner always reports success without starting any real work.
// Used by cmd/orchctl's dry-run mode and by tests.
type NoopSpawner struct{}

func (NoopSpawner) Spawn(_ context.Context, taskID, _, _ string, _ map[string]any) SpawnResult {
	return SpawnResult{Status: "spawned", ChildSessionKey: "noop:" + taskID}
}

// HTTPSpawner calls out to a session-manager service's spawn endpoint,
// grounded on the original Python's OpenClawClient().sessions_spawn
// RPC and on cmd/ocx-cli/main.go's doRequest helper for the HTTP
// plumbing itself (request build, bearer auth, timeout, read-all).
// A spawn failure never errors — it is embedded in SpawnResult.Error
// so dispatch.go always has a WORKER_RUN_STARTED payload to append.
type HTTPSpawner struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewHTTPSpawner returns an HTTPSpawner with a 30s request timeout,
// matching doRequest's client.
func NewHTTPSpawner(baseURL, apiKey string) *HTTPSpawner {
	return &HTTPSpawner{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type spawnRequest struct {
	TaskID   string         `json:"taskId"`
	Label    string         `json:"label"`
	Cleanup  string         `json:"cleanup"`
	TaskSpec map[string]any `json:"taskSpec"`
}

// Spawn POSTs to BaseURL+"/sessions/spawn" and decodes the response
// into a SpawnResult. Network or decode failures are reported through
// SpawnResult.Error with Status "error", never returned to the caller.
func (s *HTTPSpawner) Spawn(ctx context.Context, taskID, label, cleanup string, taskSpec map[string]any) SpawnResult {
	body, err := json.Marshal(spawnRequest{TaskID: taskID, Label: label, Cleanup: cleanup, TaskSpec: taskSpec})
	if err != nil {
		return SpawnResult{Status: "error", Error: fmt.Sprintf("marshal spawn request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/sessions/spawn", bytes.NewReader(body))
	if err != nil {
		return SpawnResult{Status: "error", Error: fmt.Sprintf("build spawn request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return SpawnResult{Status: "error", Error: fmt.Sprintf("spawn request failed: %v", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return SpawnResult{Status: "error", Error: fmt.Sprintf("read spawn response: %v", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return SpawnResult{Status: "error", Error: fmt.Sprintf("spawn returned %d: %s", resp.StatusCode, raw)}
	}

	var result SpawnResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return SpawnResult{Status: "error", Error: fmt.Sprintf("decode spawn response: %v", err)}
	}
	if result.Status == "" {
		result.Status = "spawned"
	}
	return result
}
