package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/hospital-intake-chat/internal/conversation"
	"github.com/wolfman30/hospital-intake-chat/pkg/logging"
)

// SessionReader is the read side of the session store.
type SessionReader interface {
	Load(ctx context.Context, sessionID string) (*conversation.SessionRecord, error)
	ListRecent(ctx context.Context, limit int) ([]conversation.SessionSummary, error)
}

// AdminSessionsHandler serves the staff session viewer.
type AdminSessionsHandler struct {
	store  SessionReader
	logger *logging.Logger
}

// NewAdminSessionsHandler creates a new admin sessions handler.
func NewAdminSessionsHandler(store SessionReader, logger *logging.Logger) *AdminSessionsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminSessionsHandler{store: store, logger: logger}
}

// SessionsListResponse is the body of GET /admin/sessions.
type SessionsListResponse struct {
	Sessions []conversation.SessionSummary `json:"sessions"`
	Count    int                           `json:"count"`
}

// ListSessions handles GET /admin/sessions?limit=N.
func (h *AdminSessionsHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "session store not configured"})
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	sessions, err := h.store.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list sessions", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list sessions"})
		return
	}
	writeJSON(w, http.StatusOK, SessionsListResponse{Sessions: sessions, Count: len(sessions)})
}

// GetSession handles GET /admin/sessions/{sessionID}.
func (h *AdminSessionsHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "session store not configured"})
		return
	}
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session id required"})
		return
	}

	rec, err := h.store.Load(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, conversation.ErrSessionNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
			return
		}
		h.logger.Error("failed to load session", "error", err, "session_id", sessionID)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load session"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
