// Package server exposes the turn contract over HTTP: a JSON chat
// endpoint, a health descriptor and session management, plus a
// WebSocket variant of the turn exchange.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"SafeChat/internal/chat"
	"SafeChat/internal/provider"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	SessionID   string `json:"session_id"`
	UserMessage string `json:"user_message"`
}

// ChatResponse echoes the session id with the generated reply.
type ChatResponse struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
}

// ErrorResponse carries a stable error kind plus a user-safe detail.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Details  string `json:"details,omitempty"`
}

// SessionCountResponse is the body of GET /v1/sessions.
type SessionCountResponse struct {
	Sessions int `json:"sessions"`
}

// Server handles HTTP traffic for the orchestrator.
type Server struct {
	orch   *chat.Orchestrator
	logger *slog.Logger

	healthMu    sync.Mutex
	lastFailure string // empty while healthy

	upgrader websocket.Upgrader
}

// New builds a Server around an orchestrator.
func New(orch *chat.Orchestrator, logger *slog.Logger) *Server {
	return &Server{
		orch:     orch,
		logger:   logger,
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
	}
}

// Router wires all routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/chat", s.handleChat).Methods(http.MethodPost)
	r.HandleFunc("/v1/chat/ws", s.handleChatWS).Methods(http.MethodGet)
	r.HandleFunc("/v1/sessions", s.handleSessionCount).Methods(http.MethodGet)
	r.HandleFunc("/v1/sessions/{id}", s.handleClearSession).Methods(http.MethodDelete)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	return r
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "invalid_request",
			Detail: "request body must be JSON with session_id and user_message",
		})
		return
	}

	reply, err := s.orch.ProcessTurn(r.Context(), req.SessionID, req.UserMessage)
	if err != nil {
		s.noteFailure(err)
		status, body := errorBody(err)
		writeJSON(w, status, body)
		return
	}

	s.noteSuccess()
	writeJSON(w, http.StatusOK, ChatResponse{SessionID: req.SessionID, Reply: reply})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	desc := s.orch.Describe()

	s.healthMu.Lock()
	failure := s.lastFailure
	s.healthMu.Unlock()

	resp := HealthResponse{
		Status:   "healthy",
		Provider: desc.Variant,
		Model:    desc.Model,
	}
	if failure != "" {
		resp.Status = "degraded"
		resp.Details = failure
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessionCount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SessionCountResponse{Sessions: s.orch.SessionCount()})
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.orch.ClearSession(id) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error:  "not_found",
			Detail: "no such session",
		})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// noteFailure marks the service degraded after a backend failure that
// suggests the provider itself is in trouble. Validation and unknown
// one-off failures do not flip health.
func (s *Server) noteFailure(err error) {
	switch provider.KindOf(err) {
	case provider.KindUnavailable, provider.KindTimedOut, provider.KindUnauthorized:
		s.healthMu.Lock()
		s.lastFailure = err.Error()
		s.healthMu.Unlock()
	}
}

func (s *Server) noteSuccess() {
	s.healthMu.Lock()
	s.lastFailure = ""
	s.healthMu.Unlock()
}

// errorBody maps a turn failure onto an HTTP status and a stable
// (kind, detail) pair.
func errorBody(err error) (int, ErrorResponse) {
	if chat.IsValidation(err) {
		return http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Detail: err.Error()}
	}

	var pe *provider.Error
	detail := "failed to process chat request"
	kind := provider.KindUnknown
	if errors.As(err, &pe) {
		detail = pe.Detail
		kind = pe.Kind
	}

	status := http.StatusInternalServerError
	switch kind {
	case provider.KindUnavailable, provider.KindTimedOut:
		status = http.StatusServiceUnavailable
	case provider.KindUnauthorized:
		status = http.StatusUnauthorized
	case provider.KindModelNotFound:
		status = http.StatusNotFound
	case provider.KindRateLimited:
		status = http.StatusTooManyRequests
	}
	return status, ErrorResponse{Error: string(kind), Detail: detail}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
