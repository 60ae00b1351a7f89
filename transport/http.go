// Package transport exposes the orchestration engine over HTTP and
// WebSocket, described in SPEC_FULL.md section 6. The HTTP surface is
// grounded on the original FastAPI app (services/orchestrator/src/main.py)
// restated as net/http handlers in the teacher's style; the WebSocket event
// stream generalizes ui/transports/websocket/websocket.go's
// upgrade/writePump/readPump pattern onto the events.Bus Sink contract.
package transport

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arcflow/orchestrator/core"
	"github.com/arcflow/orchestrator/engine"
)

// ServiceVersion is reported on GET /health.
const ServiceVersion = "1.0.0"

// Server wires the Engine into the HTTP surface described in SPEC_FULL.md
// section 6.
type Server struct {
	Engine  *engine.Engine
	Logger  core.Logger
	Metrics http.Handler // Prometheus exporter handle, nil disables /metrics
}

// NewServer builds a Server around an already-wired Engine.
func NewServer(eng *engine.Engine, logger core.Logger, metrics http.Handler) *Server {
	return &Server{Engine: eng, Logger: logger, Metrics: metrics}
}

// Routes registers every HTTP handler on mux, including the WebSocket event
// stream.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/orchestrate", s.handleOrchestrate)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/runs/", s.handleGetRun)
	if s.Metrics != nil {
		mux.Handle("/metrics", s.Metrics)
	}
	mux.HandleFunc("/ws/events", s.handleEvents)
}

type orchestrateRequest struct {
	Task       string `json:"task"`
	MaxRetries int    `json:"max_retries"`
}

type orchestrateResponse struct {
	Success         bool     `json:"success"`
	Task            string   `json:"task"`
	RunID           string   `json:"run_id"`
	Code            string   `json:"code"`
	FilePath        string   `json:"file_path"`
	ExecutionOutput string   `json:"execution_output"`
	Retries         int      `json:"retries"`
	PreviewURL      string   `json:"preview_url,omitempty"`
	History         []map[string]string `json:"history"`
}

func (s *Server) handleOrchestrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req orchestrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Task) == "" {
		writeError(w, http.StatusBadRequest, "task must not be empty")
		return
	}

	runID := uuid.NewString()
	ctx := core.WithRequestID(r.Context(), runID)

	result := s.Engine.Orchestrate(ctx, runID, req.Task, req.MaxRetries)

	history := make([]map[string]string, 0, len(result.History))
	for _, h := range result.History {
		history = append(history, map[string]string{"agent": h.Agent, "action": h.Action, "result": h.Result})
	}

	writeJSON(w, http.StatusOK, orchestrateResponse{
		Success:         result.ExecutionSuccess,
		Task:            result.Task,
		RunID:           runID,
		Code:            result.Code,
		FilePath:        result.FilePath,
		ExecutionOutput: result.ExecutionOutput,
		Retries:         result.ErrorCount,
		PreviewURL:      result.PreviewURL,
		History:         history,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "orchestrator",
		"version": ServiceVersion,
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/runs/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "run id required")
		return
	}

	rec, ok := s.Engine.Lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":         rec.ID,
		"running":    rec.Running,
		"started_at": rec.StartedAt.Format(time.RFC3339),
		"ended_at":   formatOptionalTime(rec.EndedAt),
		"task":       rec.State.Task,
		"success":    rec.State.ExecutionSuccess,
		"error_count": rec.State.ErrorCount,
	})
}

func formatOptionalTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
