package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/rotosaurio/iacandy/pkg/apperrors"
	"github.com/rotosaurio/iacandy/pkg/auth"
	"github.com/rotosaurio/iacandy/pkg/models"
)

// AssistantService is the question-answering surface used by the handler.
type AssistantService interface {
	Answer(ctx context.Context, sessionID, question string, forceRefresh bool) (*models.AnswerResult, error)
	StartSession() string
	History(sessionID string) ([]models.ConversationTurn, error)
	GetCacheStatus() models.CacheStatus
	RefreshCache(ctx context.Context) error
	GetModelUsageStats() map[string]int64
}

// AnswerRequest is the body of POST /api/answer.
type AnswerRequest struct {
	SessionID    string `json:"session_id"`
	Question     string `json:"question"`
	ForceRefresh bool   `json:"force_refresh"`
}

// SessionResponse is returned when a conversation is opened.
type SessionResponse struct {
	SessionID string `json:"session_id"`
}

// TurnsResponse lists the stored turns of a conversation.
type TurnsResponse struct {
	SessionID string                    `json:"session_id"`
	Turns     []models.ConversationTurn `json:"turns"`
}

// AssistantHandler exposes the assistant over HTTP.
type AssistantHandler struct {
	assistant AssistantService
	sessions  *auth.SessionStore
	logger    *zap.Logger
}

// NewAssistantHandler creates an AssistantHandler. sessions may be nil, in
// which case callers must pass session_id explicitly.
func NewAssistantHandler(assistant AssistantService, sessions *auth.SessionStore, logger *zap.Logger) *AssistantHandler {
	return &AssistantHandler{
		assistant: assistant,
		sessions:  sessions,
		logger:    logger,
	}
}

// RegisterRoutes registers the assistant routes on the given mux.
func (h *AssistantHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", h.StartSession)
	mux.HandleFunc("GET /api/sessions/{id}/turns", h.Turns)
	mux.HandleFunc("POST /api/answer", h.Answer)
	mux.HandleFunc("GET /api/cache/status", h.CacheStatus)
	mux.HandleFunc("POST /api/cache/refresh", h.RefreshCache)
	mux.HandleFunc("GET /api/models/usage", h.ModelUsage)
}

// StartSession handles POST /api/sessions.
func (h *AssistantHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	id := h.assistant.StartSession()
	h.remember(w, r, id)

	response := ApiResponse{Success: true, Data: SessionResponse{SessionID: id}}
	if err := WriteJSON(w, http.StatusCreated, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Turns handles GET /api/sessions/{id}/turns.
func (h *AssistantHandler) Turns(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	turns, err := h.assistant.History(id)
	if err != nil {
		if errors.Is(err, apperrors.ErrSessionNotFound) {
			h.writeError(w, http.StatusNotFound, "session_not_found", "Session not found or expired")
			return
		}
		h.logger.Error("Failed to load session history", zap.String("session_id", id), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "history_failed", "Failed to load session history")
		return
	}

	response := ApiResponse{Success: true, Data: TurnsResponse{SessionID: id, Turns: turns}}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Answer handles POST /api/answer.
// A question that could not be answered is still a 200 with outcome "failed";
// error statuses are reserved for requests that never reached generation.
func (h *AssistantHandler) Answer(w http.ResponseWriter, r *http.Request) {
	var req AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" && h.sessions != nil {
		sessionID = h.sessions.ConversationID(r)
	}

	result, err := h.assistant.Answer(r.Context(), sessionID, req.Question, req.ForceRefresh)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrInvalidInput):
			h.writeError(w, http.StatusBadRequest, "invalid_question", err.Error())
		case apperrors.IsCacheBuildError(err):
			h.logger.Warn("Schema cache unavailable", zap.Error(err))
			h.writeError(w, http.StatusServiceUnavailable, "schema_unavailable", "The database schema could not be loaded, try again later")
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			h.writeError(w, http.StatusGatewayTimeout, "timeout", "The request was cancelled before an answer was produced")
		default:
			h.logger.Error("Failed to answer question", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "answer_failed", "Failed to answer question")
		}
		return
	}

	h.remember(w, r, result.SessionID)

	response := ApiResponse{Success: result.Succeeded(), Data: result, Error: result.Error}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// CacheStatus handles GET /api/cache/status.
func (h *AssistantHandler) CacheStatus(w http.ResponseWriter, r *http.Request) {
	response := ApiResponse{Success: true, Data: h.assistant.GetCacheStatus()}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// RefreshCache handles POST /api/cache/refresh.
// Rebuilds synchronously and returns the new status.
func (h *AssistantHandler) RefreshCache(w http.ResponseWriter, r *http.Request) {
	if err := h.assistant.RefreshCache(r.Context()); err != nil {
		h.logger.Error("Failed to refresh schema cache", zap.Error(err))
		h.writeError(w, http.StatusServiceUnavailable, "refresh_failed", "Failed to rebuild the schema cache")
		return
	}

	response := ApiResponse{Success: true, Data: h.assistant.GetCacheStatus(), Message: "Schema cache rebuilt"}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ModelUsage handles GET /api/models/usage.
func (h *AssistantHandler) ModelUsage(w http.ResponseWriter, r *http.Request) {
	response := ApiResponse{Success: true, Data: h.assistant.GetModelUsageStats()}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *AssistantHandler) remember(w http.ResponseWriter, r *http.Request, sessionID string) {
	if h.sessions == nil || sessionID == "" {
		return
	}
	if err := h.sessions.Remember(w, r, sessionID); err != nil {
		h.logger.Warn("Failed to set session cookie", zap.Error(err))
	}
}

func (h *AssistantHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
