// Package httpapi exposes a read-only status server for dashboards:
// GET /status, GET /healthz, GET /metrics, and a GET /status/stream
// WebSocket feed. Grounded on internal/api/server.go's gorilla/mux
// router/CORS-middleware shape and internal/websocket/dag_streamer.go's
// hub-per-connection broadcast loop.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ocx/orchestrator/internal/statemanager"
)

// Server is the orchestrator's read-only HTTP surface for one
// project's state directory.
type Server struct {
	SM      *statemanager.StateManager
	Project string

	hub      *statusHub
	upgrader websocket.Upgrader
}

// New returns a Server reading project's state from sm.
func New(sm *statemanager.StateManager, project string) *Server {
	return &Server{
		SM:      sm,
		Project: project,
		hub:     newStatusHub(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the gorilla/mux router. The caller owns ListenAndServe.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/status/stream", s.handleStream).Methods(http.MethodGet)

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleStatus serves the current status.json verbatim. A
// missing/corrupt file yields 503 with a JSON error body rather than
// a panic or a bare 500.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(s.SM.Layout.StatusFile())
	if err != nil {
		writeUnavailable(w, fmt.Sprintf("status.json unavailable: %v", err))
		return
	}
	var probe map[string]any
	if err := json.Unmarshal(data, &probe); err != nil {
		writeUnavailable(w, fmt.Sprintf("status.json corrupt: %v", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"project": s.Project,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("httpapi: websocket upgrade failed: %v", err)
		return
	}
	s.hub.register(conn)
}

// BroadcastStatus pushes the latest status payload to every connected
// /status/stream client. Call this after each tick publish.
func (s *Server) BroadcastStatus(ctx context.Context, statusJSON []byte) {
	s.hub.broadcast(statusJSON)
}

func writeUnavailable(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// statusHub fans out raw status JSON to connected WebSocket clients,
// a single-purpose narrowing of websocket.DAGStreamer's
// register/unregister/broadcast hub to one message type.
type statusHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func newStatusHub() *statusHub {
	return &statusHub{clients: make(map[*websocket.Conn]bool)}
}

func (h *statusHub) register(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	go func() {
		defer h.unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *statusHub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
}

func (h *statusHub) broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}
