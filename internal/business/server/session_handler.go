package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-keeper/internal/audit"
	"github.com/openkcm/session-keeper/pkg/session"
)

const maxLoginBody = 64 << 10

type sessionStatus struct {
	Authenticated bool       `json:"authenticated"`
	SubjectID     string     `json:"subjectId,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}

type loginRequest struct {
	Credential string `json:"credential"`
}

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"errorDescription,omitempty"`
}

// sessionHandler serves the local session API. Tokens never leave the
// process through it; only the subject and expiry are reported.
type sessionHandler struct {
	manager *session.Manager
	auditor *audit.Auditor
}

func newSessionHandler(manager *session.Manager, auditor *audit.Auditor) *sessionHandler {
	return &sessionHandler{
		manager: manager,
		auditor: auditor,
	}
}

func (h *sessionHandler) get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.manager.Get()
	writeJSON(r.Context(), w, http.StatusOK, statusOf(s, ok))
}

func (h *sessionHandler) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBody)).Decode(&req); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "invalid_request", "request body must be a JSON object")
		return
	}
	if req.Credential == "" {
		writeError(ctx, w, http.StatusBadRequest, "invalid_request", "credential is required")
		return
	}

	s, err := h.manager.Login(ctx, req.Credential)
	if err != nil {
		slogctx.Warn(ctx, "Login failed", "error", err)
		h.auditor.LoginFailed(ctx, err.Error())
		writeSessionError(ctx, w, err)

		return
	}

	h.auditor.LoginSucceeded(ctx, s.SubjectID)
	writeJSON(ctx, w, http.StatusOK, statusOf(s, true))
}

func (h *sessionHandler) refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	s, err := h.manager.RefreshNow(ctx)
	if err != nil {
		writeSessionError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, statusOf(s, true))
}

func (h *sessionHandler) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.manager.Logout(ctx); err != nil {
		slogctx.Warn(ctx, "Logout was not persisted", "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

func statusOf(s session.Session, ok bool) sessionStatus {
	if !ok {
		return sessionStatus{}
	}

	expiresAt := s.ExpiresAt

	return sessionStatus{
		Authenticated: true,
		SubjectID:     s.SubjectID,
		ExpiresAt:     &expiresAt,
	}
}

func writeSessionError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNoSession):
		writeError(ctx, w, http.StatusUnauthorized, "no_session", "no session is active")
	case errors.Is(err, session.ErrSessionSuperseded):
		writeError(ctx, w, http.StatusConflict, "superseded", "the session changed while refreshing")
	case session.IsTerminal(err):
		writeError(ctx, w, http.StatusUnauthorized, "invalid_grant", err.Error())
	default:
		writeError(ctx, w, http.StatusServiceUnavailable, "temporarily_unavailable", err.Error())
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, description string) {
	writeJSON(ctx, w, status, errorResponse{Error: code, Description: description})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		slogctx.Warn(ctx, "Failed to write response", "error", err)
	}
}
