package increment

import (
	"net/http"
	"strconv"

	"github.com/idbuilder/worker/internal/auth"
	"github.com/idbuilder/worker/internal/httpserver"
)

// Handler mounts the key-scoped GET /v1/id/increment endpoint.
type Handler struct {
	svc      *Service
	verifier auth.KeyVerifier
}

// NewHandler creates a Handler. verifier checks per-key tokens (spec §4.7).
func NewHandler(svc *Service, verifier auth.KeyVerifier) *Handler {
	return &Handler{svc: svc, verifier: verifier}
}

type idResponse struct {
	ID []int64 `json:"id"`
}

// Handle implements GET /v1/id/increment?key=&size=&delta=&rand_delta=
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

	var delta int64
	if v := q.Get("delta"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpserver.RespondError(w, httpserver.CodeBadParams, "delta must be an integer")
			return
		}
		delta = n
	}

	randDelta := q.Get("rand_delta") == "true"

	ids, err := h.svc.Generate(r.Context(), key, size, delta, randDelta)
	if err != nil {
		httpserver.WriteCodedError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, idResponse{ID: ids})
}
