// ABOUTME: HTTP API for agent management, messaging, and persona updates
// ABOUTME: Resolves one identity per request and maps service errors to status codes

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/2389/persona-gateway/internal/blocks"
	"github.com/2389/persona-gateway/internal/identity"
	"github.com/2389/persona-gateway/internal/letta"
)

// identityKey carries the resolved identity through the request context.
type identityKey struct{}

// SendMessagesRequest is the JSON request body for POST /api/agents/{id}/messages.
type SendMessagesRequest struct {
	Messages []letta.MessageInput `json:"messages"`
}

// UpdatePersonaRequest is the JSON request body for PUT /api/persona.
type UpdatePersonaRequest struct {
	Content string `json:"content"`
}

// errorResponse is the JSON error body. RetryAfter is set on 429 only.
type errorResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// Server exposes the service over HTTP. Every request passes through the
// identity middleware; handlers never see a request without an identity.
type Server struct {
	service  *Service
	resolver *identity.Resolver
	logger   *slog.Logger
	mux      *http.ServeMux
}

// NewServer builds the HTTP server around the service and resolver.
func NewServer(service *Service, resolver *identity.Resolver) *Server {
	s := &Server{
		service:  service,
		resolver: resolver,
		logger:   slog.Default().With("component", "api"),
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/agents", s.withIdentity(s.handleListAgents))
	s.mux.HandleFunc("POST /api/agents", s.withIdentity(s.handleCreateAgent))
	s.mux.HandleFunc("GET /api/agents/{id}", s.withIdentity(s.handleGetAgent))
	s.mux.HandleFunc("PUT /api/agents/{id}", s.withIdentity(s.handleUpdateAgent))
	s.mux.HandleFunc("DELETE /api/agents/{id}", s.withIdentity(s.handleDeleteAgent))
	s.mux.HandleFunc("GET /api/agents/{id}/messages", s.withIdentity(s.handleGetMessages))
	s.mux.HandleFunc("POST /api/agents/{id}/messages", s.withIdentity(s.handleSendMessages))
	s.mux.HandleFunc("GET /api/agents/{id}/archival_memory", s.withIdentity(s.handleArchivalMemory))
	s.mux.HandleFunc("PUT /api/persona", s.withIdentity(s.handleUpdatePersona))
	s.mux.HandleFunc("GET /api/runtime", s.handleRuntime)
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// withIdentity resolves the request's identity, sets the marker cookie when
// a new identity was minted, and stores the identity in the context.
func (s *Server) withIdentity(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, cookie := s.resolver.Resolve(r)
		if cookie != nil {
			http.SetCookie(w, cookie)
		}
		ctx := context.WithValue(r.Context(), identityKey{}, id)
		next(w, r.WithContext(ctx))
	}
}

// requestIdentity returns the identity stored by the middleware.
func requestIdentity(r *http.Request) identity.Identity {
	id, _ := r.Context().Value(identityKey{}).(identity.Identity)
	return id
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.service.ListAgentsForIdentity(r.Context(), requestIdentity(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.service.CreateAgentForIdentity(r.Context(), requestIdentity(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.service.GetAgentForIdentity(r.Context(), requestIdentity(r), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	fields, err := decodeJSON[map[string]any](r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	agent, err := s.service.UpdateAgentForIdentity(r.Context(), requestIdentity(r), r.PathValue("id"), fields)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteAgentForIdentity(r.Context(), requestIdentity(r), r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Agent deleted successfully"})
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.service.GetMessagesForIdentity(r.Context(), requestIdentity(r), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleSendMessages(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[SendMessagesRequest](r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := ValidateMessages(req.Messages); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.service.SendMessageForIdentity(r.Context(), requestIdentity(r), r.PathValue("id"), req.Messages)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	if result.DetachWarning {
		w.Header().Set("X-Detach-Warning", "true")
	}
	s.writeJSON(w, http.StatusOK, result.Response)
}

func (s *Server) handleArchivalMemory(w http.ResponseWriter, r *http.Request) {
	passages, err := s.service.ArchivalMemoryForIdentity(r.Context(), requestIdentity(r), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, passages)
}

func (s *Server) handleUpdatePersona(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[UpdatePersonaRequest](r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Content == "" {
		s.writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	if err := s.service.UpdatePersonaForIdentity(r.Context(), requestIdentity(r), req.Content); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Persona updated"})
}

func (s *Server) handleRuntime(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.service.Runtime())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeServiceError maps a service error onto a status code and JSON body.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var rateLimited *RateLimitedError
	switch {
	case errors.As(err, &rateLimited):
		secs := rateLimited.RetryAfterSeconds()
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		s.writeJSON(w, http.StatusTooManyRequests, errorResponse{
			Error:      "Rate limit exceeded",
			RetryAfter: secs,
		})
	case errors.Is(err, letta.ErrAgentNotFound):
		s.writeError(w, http.StatusNotFound, "Agent not found")
	case errors.Is(err, ErrAgentCreationDisabled):
		s.writeError(w, http.StatusForbidden, "Agent creation is disabled")
	case errors.Is(err, letta.ErrUpstreamUnavailable), errors.Is(err, blocks.ErrBlockAttachFailed):
		s.writeError(w, http.StatusServiceUnavailable, "Agent runtime unavailable")
	default:
		s.logger.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("encoding response failed", "error", err)
	}
}

// decodeJSON decodes a request body into T.
func decodeJSON[T any](body io.Reader) (T, error) {
	var value T
	err := json.NewDecoder(body).Decode(&value)
	return value, err
}
