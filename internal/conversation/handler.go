package conversation

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/hospital-intake-chat/pkg/logging"
)

// errorPrefix is prepended to every failure message the handler returns.
const errorPrefix = "Edge Function failed: "

// TurnRunner runs one intake turn.
type TurnRunner interface {
	HandleTurn(ctx context.Context, req TurnRequest) (string, error)
}

// TurnResponse is the success body.
type TurnResponse struct {
	Response string `json:"response"`
}

// ErrorResponse is the failure body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Handler wires HTTP requests to the turn service.
type Handler struct {
	service TurnRunner
	logger  *logging.Logger
}

// NewHandler creates a conversation handler.
func NewHandler(service TurnRunner, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// maxTurnBodyBytes caps a decoded turn request.
const maxTurnBodyBytes = 64 << 10

// Turn handles POST /functions/v1/chat-handler. Every failure, including a
// malformed or oversized body, is reported as 500 with the error envelope.
func (h *Handler) Turn(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxTurnBodyBytes)
	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode turn request", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: errorPrefix + "Invalid request body: " + err.Error()})
		return
	}

	ctx := r.Context()
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		ctx = WithCorrelationID(ctx, reqID)
	}

	reply, err := h.service.HandleTurn(ctx, req)
	if err != nil {
		h.logger.Error("turn failed", "error", err, "error_kind", KindOf(err), "session_id", req.SessionID)
		h.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: errorPrefix + err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, TurnResponse{Response: reply})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
