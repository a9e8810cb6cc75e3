package formatted

import (
	"net/http"
	"strconv"

	"github.com/idbuilder/worker/internal/auth"
	"github.com/idbuilder/worker/internal/httpserver"
)

// Handler mounts the key-scoped GET /v1/id/formatted endpoint.
type Handler struct {
	svc      *Service
	verifier auth.KeyVerifier
}

// NewHandler creates a Handler.
func NewHandler(svc *Service, verifier auth.KeyVerifier) *Handler {
	return &Handler{svc: svc, verifier: verifier}
}

type idResponse struct {
	ID []string `json:"id"`
}

// Handle implements GET /v1/id/formatted?key=&size=
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

	size := 1
	if v := q.Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			httpserver.RespondError(w, httpserver.CodeBadParams, "size must be an integer")
			return
		}
		size = n
	}

	ids, err := h.svc.Generate(r.Context(), key, size)
	if err != nil {
		httpserver.WriteCodedError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, idResponse{ID: ids})
}
