package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/orchestrator/internal/clock"
	"github.com/ocx/orchestrator/internal/ids"
	"github.com/ocx/orchestrator/internal/statemanager"
)

func newTestServer(t *testing.T) (*Server, *statemanager.StateManager) {
	t.Helper()
	base := t.TempDir()
	clk := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	gen := ids.NewGeneratorWithClock(clk.Now)
	sm := statemanager.New(base, clk, gen, time.Second, time.Millisecond)
	return New(sm, "demo"), sm
}

// === /status ===

func TestHandleStatusReturns503WhenMissing(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body["error"], "unavailable")
}

func TestHandleStatusReturns503WhenCorrupt(t *testing.T) {
	srv, sm := newTestServer(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(sm.Layout.StatusFile()), 0o755))
	require.NoError(t, os.WriteFile(sm.Layout.StatusFile(), []byte("{not json"), 0o644))

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandleStatusServesValidJSON(t *testing.T) {
	srv, sm := newTestServer(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(sm.Layout.StatusFile()), 0o755))
	require.NoError(t, os.WriteFile(sm.Layout.StatusFile(), []byte(`{"project":{"name":"demo"}}`), 0o644))

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// === /healthz ===

func TestHandleHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "demo", body["project"])
}

// === /metrics ===

func TestHandleMetricsExposesPrometheusFormat(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// === /status/stream ===

func TestStatusStreamBroadcastsToConnectedClients(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + ts.URL[len("http"):] + "/status/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	time.Sleep(20 * time.Millisecond) // let the server finish registering the client
	srv.BroadcastStatus(nil, []byte(`{"project":"demo"}`))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"project":"demo"}`, string(msg))
}
