// Package httpapi is the transport collaborator: a thin chi router that
// translates HTTP requests into store and coordinator operations, maps error
// kinds to status codes and encodes streamed executions as newline-delimited
// JSON events.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/agentdock/coordinator"
	"github.com/hupe1980/agentdock/core"
	"github.com/hupe1980/agentdock/logging"
	"github.com/hupe1980/agentdock/pool"
)

// ExecutionRecorder counts finished executions; the metrics package
// implements it. The default is a no-op.
type ExecutionRecorder interface {
	ExecutionCompleted(outcome string)
}

type noopExecutionRecorder struct{}

func (noopExecutionRecorder) ExecutionCompleted(string) {}

// Options holds configuration overrides passed to NewServer().
type Options struct {
	// Logger receives request-level logs.
	Logger logging.Logger
	// Recorder counts executions for metrics.
	Recorder ExecutionRecorder
	// Gatherer backs the /metrics endpoint; nil disables it.
	Gatherer prometheus.Gatherer
}

// Server exposes the AgentDock HTTP API.
type Server struct {
	configs      core.ConfigurationStore
	coordinator  *coordinator.Coordinator
	instancePool *pool.Pool

	logger   logging.Logger
	recorder ExecutionRecorder
	gatherer prometheus.Gatherer
}

// NewServer constructs the HTTP server around the coordinator and stores.
func NewServer(configs core.ConfigurationStore, coord *coordinator.Coordinator, p *pool.Pool, optFns ...func(o *Options)) *Server {
	opts := Options{
		Logger:   logging.NoOpLogger{},
		Recorder: noopExecutionRecorder{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Server{
		configs:      configs,
		coordinator:  coord,
		instancePool: p,
		logger:       opts.Logger,
		recorder:     opts.Recorder,
		gatherer:     opts.Gatherer,
	}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/configurations", func(r chi.Router) {
		r.Post("/", s.handleCreateConfiguration)
		r.Get("/", s.handleListConfigurations)
		r.Get("/{configID}", s.handleGetConfiguration)
		r.Delete("/{configID}", s.handleDeactivateConfiguration)
	})

	r.Route("/conversations", func(r chi.Router) {
		r.Post("/", s.handleStartConversation)
		r.Get("/", s.handleListConversations)
		r.Get("/{sessionID}", s.handleGetConversation)
		r.Get("/{sessionID}/messages", s.handleGetMessages)
		r.Delete("/{sessionID}", s.handleDeleteConversation)
		r.Post("/{sessionID}/execute", s.handleExecute)
	})

	r.Get("/health", s.handleHealth)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

func (s *Server) handleCreateConfiguration(w http.ResponseWriter, r *http.Request) {
	var spec core.ConfigurationSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		s.writeError(w, &core.ValidationError{Field: "body", Message: "invalid JSON: " + err.Error()})
		return
	}
	cfg, err := s.configs.Create(spec)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("configuration created", "config_id", cfg.ID, "name", cfg.Name)
	s.writeJSON(w, http.StatusCreated, cfg)
}

func (s *Server) handleListConfigurations(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active_only") != "false"
	configs, err := s.configs.List(activeOnly)
	if err != nil {
		s.writeError(w, err)
		return
	}

	type summary struct {
		ConfigID    string `json:"config_id"`
		Name        string `json:"name"`
		ServerCount int    `json:"mcp_servers_count"`
		Active      bool   `json:"active"`
		CreatedAt   string `json:"created_at"`
	}
	result := make([]summary, 0, len(configs))
	for _, cfg := range configs {
		result = append(result, summary{
			ConfigID:    cfg.ID,
			Name:        cfg.Name,
			ServerCount: len(cfg.MCPServers),
			Active:      cfg.Active,
			CreatedAt:   cfg.CreatedAt.Format(timeFormat),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"configurations": result, "total": len(result)})
}

func (s *Server) handleGetConfiguration(w http.ResponseWriter, r *http.Request) {
	configID := chi.URLParam(r, "configID")

	var cfg *core.Configuration
	var err error
	if r.URL.Query().Get("include_inactive") == "true" {
		cfg, err = s.configs.GetAny(configID)
	} else {
		cfg, err = s.configs.Get(configID)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleDeactivateConfiguration(w http.ResponseWriter, r *http.Request) {
	configID := chi.URLParam(r, "configID")
	if err := s.coordinator.DeactivateConfiguration(configID); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("configuration deactivated", "config_id", configID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConfigID  string `json:"config_id"`
		SessionID string `json:"session_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &core.ValidationError{Field: "body", Message: "invalid JSON: " + err.Error()})
		return
	}
	if req.ConfigID == "" {
		s.writeError(w, &core.ValidationError{Field: "config_id", Message: "must not be empty"})
		return
	}
	conv, err := s.coordinator.Start(req.ConfigID, req.SessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	conversations, err := s.coordinator.List(r.URL.Query().Get("config_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	type summary struct {
		SessionID    string `json:"session_id"`
		ConfigID     string `json:"config_id"`
		MessageCount int    `json:"message_count"`
		CreatedAt    string `json:"created_at"`
		UpdatedAt    string `json:"updated_at"`
	}
	result := make([]summary, 0, len(conversations))
	for _, conv := range conversations {
		result = append(result, summary{
			SessionID:    conv.SessionID,
			ConfigID:     conv.ConfigID,
			MessageCount: len(conv.Messages),
			CreatedAt:    conv.CreatedAt.Format(timeFormat),
			UpdatedAt:    conv.UpdatedAt.Format(timeFormat),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"conversations": result, "total": len(result)})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.coordinator.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	messages, err := s.coordinator.History(sessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "message_history": messages})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.coordinator.Delete(chi.URLParam(r, "sessionID")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req struct {
		Message string `json:"message"`
		Stream  bool   `json:"stream,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &core.ValidationError{Field: "body", Message: "invalid JSON: " + err.Error()})
		return
	}
	if req.Message == "" {
		s.writeError(w, &core.ValidationError{Field: "message", Message: "must not be empty"})
		return
	}

	if req.Stream || r.URL.Query().Get("stream") == "true" {
		s.streamExecute(w, r, sessionID, req.Message)
		return
	}

	response, err := s.coordinator.Execute(r.Context(), sessionID, req.Message)
	if err != nil {
		s.recorder.ExecutionCompleted("error")
		s.writeError(w, err)
		return
	}
	s.recorder.ExecutionCompleted("success")
	s.writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "response": response})
}

// streamExecute encodes the event sequence as NDJSON: one JSON object per
// line, flushed per event, ending with a terminal complete or error event.
func (s *Server) streamExecute(w http.ResponseWriter, r *http.Request, sessionID, message string) {
	events, err := s.coordinator.ExecuteStream(r.Context(), sessionID, message)
	if err != nil {
		s.recorder.ExecutionCompleted("error")
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	outcome := "success"
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			// Client disconnected; the coordinator's release path runs via
			// the request context.
			outcome = "error"
			break
		}
		if flusher != nil {
			flusher.Flush()
		}
		if ev.Type == core.StreamEventError {
			outcome = "error"
		}
	}
	s.recorder.ExecutionCompleted(outcome)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":           "healthy",
		"conversations":    s.coordinator.ConversationCount(),
		"configurations":   s.configs.Count(),
		"cached_instances": s.instancePool.Len(),
	})
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

// statusClientClosedRequest is the nginx convention for a request abandoned
// by the client before a response was produced.
const statusClientClosedRequest = 499

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// writeError maps error kinds to HTTP status codes; internal details never
// leak beyond the designated kind.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var validationErr *core.ValidationError
	var constructionErr *core.ConstructionError
	var executionErr *core.ExecutionError
	switch {
	case errors.As(err, &validationErr):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, core.ErrConstructionTimeout):
		status = http.StatusGatewayTimeout
	case errors.As(err, &constructionErr), errors.As(err, &executionErr):
		status = http.StatusBadGateway
	case errors.Is(err, pool.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		// The caller gave up waiting; not an internal failure.
		status = statusClientClosedRequest
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("internal error", "error", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
