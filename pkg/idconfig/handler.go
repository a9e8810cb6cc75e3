package idconfig

import (
	"errors"
	"net/http"

	"github.com/idbuilder/worker/internal/httpserver"
	"github.com/idbuilder/worker/internal/storage"
)

// Handler mounts the Admin-scoped /v1/config/* endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// HandleIncrement implements GET/POST /v1/config/increment.
func (h *Handler) HandleIncrement(w http.ResponseWriter, r *http.Request) {
	h.handleTyped(w, r, IDTypeIncrement)
}

// HandleSnowflake implements GET/POST /v1/config/snowflake.
func (h *Handler) HandleSnowflake(w http.ResponseWriter, r *http.Request) {
	h.handleTyped(w, r, IDTypeSnowflake)
}

// HandleFormatted implements GET/POST /v1/config/formatted.
func (h *Handler) HandleFormatted(w http.ResponseWriter, r *http.Request) {
	h.handleTyped(w, r, IDTypeFormatted)
}

func (h *Handler) handleTyped(w http.ResponseWriter, r *http.Request, idType IDType) {
	switch r.Method {
	case http.MethodGet:
		h.handleGet(w, r, idType)
	case http.MethodPost:
		h.handlePost(w, r, idType)
	default:
		httpserver.RespondError(w, httpserver.CodeBadParams, "method not allowed")
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, idType IDType) {
	key := r.URL.Query().Get("key")
	if key == "" {
		httpserver.RespondError(w, httpserver.CodeBadParams, "key is required")
		return
	}

	cfg, err := h.svc.Get(r.Context(), key, idType)
	if err != nil {
		writeConfigErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, cfg)
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request, idType IDType) {
	var cfg IdConfig
	if !httpserver.DecodeAndValidate(w, r, &cfg) {
		return
	}
	cfg.IDType = idType

	if err := h.svc.Put(r.Context(), &cfg); err != nil {
		httpserver.RespondError(w, httpserver.CodeBadParams, err.Error())
		return
	}
	httpserver.Respond(w, http.StatusOK, cfg)
}

// HandleList implements GET /v1/config/list.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseListParams(r)
	if err != nil {
		httpserver.WriteCodedError(w, err)
		return
	}

	result, err := h.svc.List(r.Context(), params.From, params.Size)
	if err != nil {
		httpserver.RespondError(w, httpserver.CodeInternal, err.Error())
		return
	}
	httpserver.Respond(w, http.StatusOK, result)
}

func writeConfigErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpserver.RespondError(w, httpserver.CodeNotFound, "config not found")
	case errors.Is(err, ErrTypeMismatch):
		httpserver.RespondError(w, httpserver.CodeNotFound, "config exists under a different id_type")
	default:
		httpserver.RespondError(w, httpserver.CodeInternal, err.Error())
	}
}
