package snowflake

import (
	"net/http"

	"github.com/idbuilder/worker/internal/auth"
	"github.com/idbuilder/worker/internal/httpserver"
)

// Handler mounts the key-scoped GET /v1/id/snowflake endpoint.
type Handler struct {
	svc      *Service
	verifier auth.KeyVerifier
}

// NewHandler creates a Handler.
func NewHandler(svc *Service, verifier auth.KeyVerifier) *Handler {
	return &Handler{svc: svc, verifier: verifier}
}

// Handle implements GET /v1/id/snowflake?key=&client_fingerprint=
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := q.Get("key")
	if key == "" {
		httpserver.RespondError(w, httpserver.CodeBadParams, "key is required")
		return
	}
	if !auth.CheckKey(w, r, h.verifier, key) {
		return
	}

	fingerprint := q.Get("client_fingerprint")
	desc, err := h.svc.Describe(r.Context(), key, fingerprint)
	if err != nil {
		httpserver.WriteCodedError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, desc)
}
