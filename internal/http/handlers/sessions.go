package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/wolfman30/clinic-booking/pkg/logging"
)

// TokenIssuer mints browser-session tokens.
type TokenIssuer interface {
	Issue() (token string, sessionKey string, err error)
}

// SessionClearer forgets the authenticated subject of a browser session.
type SessionClearer interface {
	Clear(ctx context.Context, sessionKey string) error
}

// SessionHandler issues and ends browser sessions.
type SessionHandler struct {
	tokens TokenIssuer
	store  SessionClearer
	ttl    time.Duration
	logger *logging.Logger
}

func NewSessionHandler(tokens TokenIssuer, store SessionClearer, ttl time.Duration, logger *logging.Logger) *SessionHandler {
	if tokens == nil {
		panic("handlers: token issuer required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SessionHandler{tokens: tokens, store: store, ttl: ttl, logger: logger}
}

type sessionResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

// Create issues a fresh session token.
// Route: POST /api/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	token, _, err := h.tokens.Issue()
	if err != nil {
		h.logger.Error("failed to issue session token", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Code: "internal"})
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{Token: token, ExpiresIn: int64(h.ttl.Seconds())})
}

// SignOut forgets the phone verification attached to the session.
// Route: DELETE /api/sessions/current
func (h *SessionHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	sessionKey, ok := requireSession(w, r)
	if !ok {
		return
	}
	if h.store != nil {
		if err := h.store.Clear(r.Context(), sessionKey); err != nil {
			h.logger.Error("failed to clear session", "error", err)
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: "session store unavailable", Code: "store_unavailable"})
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
