package token

import (
	"net/http"
	"time"

	"github.com/idbuilder/worker/internal/httpserver"
)

// Handler mounts the /v1/auth/* Admin-scoped endpoints.
type Handler struct {
	svc *Service
	ttl time.Duration // advisory expiry surfaced to clients; tokens don't actually expire server-side
}

// NewHandler creates a Handler.
func NewHandler(svc *Service, advisoryTTL time.Duration) *Handler {
	return &Handler{svc: svc, ttl: advisoryTTL}
}

type tokenResponse struct {
	Key       string    `json:"key"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HandleIssue implements GET /v1/auth/token.
func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		httpserver.RespondError(w, httpserver.CodeBadParams, "key is required")
		return
	}

	tok, err := h.svc.Issue(r.Context(), key)
	if err != nil {
		httpserver.RespondError(w, httpserver.CodeInternal, err.Error())
		return
	}
	httpserver.Respond(w, http.StatusOK, tokenResponse{Key: key, Token: tok, ExpiresAt: time.Now().Add(h.ttl)})
}

// HandleReset implements GET /v1/auth/tokenreset.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		httpserver.RespondError(w, httpserver.CodeBadParams, "key is required")
		return
	}

	tok, err := h.svc.Reset(r.Context(), key)
	if err != nil {
		httpserver.RespondError(w, httpserver.CodeInternal, err.Error())
		return
	}
	httpserver.Respond(w, http.StatusOK, tokenResponse{Key: key, Token: tok, ExpiresAt: time.Now().Add(h.ttl)})
}

// HandleVerify implements GET /v1/auth/verify — reaching this handler at all
// means the Admin-scope middleware already accepted the bearer token.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	httpserver.Respond(w, http.StatusOK, struct{}{})
}
