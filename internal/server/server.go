// internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/eatd/vl-desktop-agent/internal/agent"
	"github.com/eatd/vl-desktop-agent/internal/bench"
	"github.com/eatd/vl-desktop-agent/internal/config"
	"github.com/eatd/vl-desktop-agent/internal/state"
	"github.com/eatd/vl-desktop-agent/internal/trace"
	"github.com/eatd/vl-desktop-agent/internal/types"
)

// Controller is the part of the agent loop the API drives.
type Controller interface {
	Start(ctx context.Context, req agent.Request) (types.SessionID, error)
	Stop() error
	Status() types.Status
}

// Settings reads and edits persisted configuration as flat dot-separated
// keys. Both methods return secrets masked.
type Settings interface {
	Values() (map[string]any, error)
	Update(changes map[string]any) (map[string]any, error)
}

type frameLocator interface {
	FramePath(id types.SessionID, name string) (string, error)
}

// Deps are the collaborators behind the routes. Only Agent is required;
// routes whose collaborator is nil answer 503.
type Deps struct {
	Agent      Controller
	Traces     types.TraceStore
	Tasks      *state.TaskStore
	Benchmarks *bench.Store
	Settings   Settings
	// Events serves the websocket stream.
	Events http.Handler
	Logger *slog.Logger
}

// Server is the HTTP presentation API.
type Server struct {
	deps Deps
	// runCtx is the parent of runs started over HTTP; request contexts end
	// with the response. When it ends a run stops at its next step boundary.
	runCtx context.Context
	mux    *http.ServeMux
}

// New creates the API. Runs started through it stop once ctx ends.
func New(ctx context.Context, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{deps: deps, runCtx: ctx, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/run", s.handleRun)
	s.mux.HandleFunc("POST /api/stop", s.handleStop)
	s.mux.HandleFunc("GET /api/traces", s.handleTraces)
	s.mux.HandleFunc("GET /api/traces/{id}", s.handleTrace)
	s.mux.HandleFunc("GET /api/traces/{id}/frames/{name}", s.handleFrame)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/benchmark/tasks", s.handleBenchmarkTasks)
	s.mux.HandleFunc("GET /api/benchmark/runs", s.handleBenchmarkRuns)
	s.mux.HandleFunc("GET /api/settings", s.handleSettings)
	s.mux.HandleFunc("POST /api/settings", s.handleUpdateSettings)
	s.mux.HandleFunc("POST /webhook/{task}", s.handleNamedTask)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"ok": false, "error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Agent.Status())
}

// runRequest is the JSON body for POST /api/run.
type runRequest struct {
	Goal     string `json:"goal"`
	MaxSteps int    `json:"max_steps"`
	DryRun   *bool  `json:"dry_run"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	s.start(w, agent.Request{Goal: req.Goal, MaxSteps: req.MaxSteps, DryRun: req.DryRun}, "api")
}

func (s *Server) start(w http.ResponseWriter, req agent.Request, source string) {
	id, err := s.deps.Agent.Start(s.runCtx, req)
	switch {
	case errors.Is(err, agent.ErrEmptyGoal):
		writeError(w, http.StatusBadRequest, "goal required")
		return
	case errors.Is(err, agent.ErrAlreadyRunning):
		writeJSON(w, http.StatusConflict, map[string]any{
			"ok":     false,
			"error":  err.Error(),
			"status": s.deps.Agent.Status(),
		})
		return
	case err != nil:
		s.deps.Logger.Error("start run failed", "source", source, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.deps.Logger.Info("run started", "source", source, "session_id", id)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"ok":         true,
		"session_id": id,
		"status":     s.deps.Agent.Status(),
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	err := s.deps.Agent.Stop()
	if err != nil && !errors.Is(err, agent.ErrNotRunning) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     err == nil,
		"status": s.deps.Agent.Status(),
	})
}

func (s *Server) handleTraces(w http.ResponseWriter, r *http.Request) {
	if s.deps.Traces == nil {
		writeError(w, http.StatusServiceUnavailable, "traces not configured")
		return
	}
	infos, err := s.deps.Traces.List()
	if err != nil {
		s.deps.Logger.Error("list traces failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if infos == nil {
		infos = []types.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"traces": infos})
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	if s.deps.Traces == nil {
		writeError(w, http.StatusServiceUnavailable, "traces not configured")
		return
	}
	id := types.SessionID(r.PathValue("id"))
	sess, err := s.deps.Traces.Load(id)
	if errors.Is(err, trace.ErrNotFound) {
		writeError(w, http.StatusNotFound, "trace not found")
		return
	}
	if err != nil {
		s.deps.Logger.Error("load trace failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	loc, ok := s.deps.Traces.(frameLocator)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "frames not available")
		return
	}
	path, err := loc.FramePath(types.SessionID(r.PathValue("id")), r.PathValue("name"))
	if err != nil {
		writeError(w, http.StatusNotFound, "frame not found")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeFile(w, r, path)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream not configured")
		return
	}
	s.deps.Events.ServeHTTP(w, r)
}

func (s *Server) handleBenchmarkTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, bench.DefaultTasks)
}

func (s *Server) handleBenchmarkRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Benchmarks == nil {
		writeError(w, http.StatusServiceUnavailable, "benchmarks not configured")
		return
	}
	runs, err := s.deps.Benchmarks.List()
	if err != nil {
		s.deps.Logger.Error("list benchmark runs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.deps.Settings == nil {
		writeError(w, http.StatusServiceUnavailable, "settings not configured")
		return
	}
	values, err := s.deps.Settings.Values()
	if err != nil {
		s.deps.Logger.Error("read settings failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": values})
}

// handleUpdateSettings takes a flat object such as
// {"agent.max_steps": 30, "agent.dry_run": true}. Either every key is
// written or none is. Changes apply to runs after the next restart.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	if s.deps.Settings == nil {
		writeError(w, http.StatusServiceUnavailable, "settings not configured")
		return
	}
	var changes map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&changes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(changes) == 0 {
		writeError(w, http.StatusBadRequest, "no settings given")
		return
	}
	values, err := s.deps.Settings.Update(changes)
	switch {
	case errors.Is(err, config.ErrUnknownKey), errors.Is(err, config.ErrInvalidSetting):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.deps.Logger.Error("update settings failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s.deps.Logger.Info("settings updated", "keys", keys)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":               true,
		"settings":         values,
		"restart_required": true,
	})
}

// namedTaskRequest is the optional JSON body for POST /webhook/{task}.
type namedTaskRequest struct {
	Goal string `json:"goal"`
}

func (s *Server) handleNamedTask(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "tasks not configured")
		return
	}
	name := r.PathValue("task")
	task, err := s.deps.Tasks.Get(name)
	if errors.Is(err, state.ErrTaskNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.deps.Logger.Error("load task failed", "task", name, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !task.Enabled {
		writeError(w, http.StatusForbidden, "task is disabled")
		return
	}

	goal := task.Goal
	// Allow body to override the goal
	var body namedTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Goal != "" {
		goal = body.Goal
	}
	s.start(w, agent.Request{Goal: goal, MaxSteps: task.MaxSteps}, "webhook:"+name)
}
