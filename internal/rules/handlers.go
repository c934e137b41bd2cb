package rules

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/toko-pricing/internal/common"
)

// Handler exposes administrative rule management endpoints.
type Handler struct {
	Svc *Service
}

// Routes mounts the handler under an admin router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
}

// List returns every stored rule.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	defs, err := h.Svc.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": defs})
}

// Get returns one rule.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	def, err := h.Svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": def})
}

// Create inserts a new rule.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var def Definition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	out, err := h.Svc.Create(r.Context(), def)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": out})
}

// Update replaces the rule identified by the path id.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "id is required", nil)
		return
	}
	var def Definition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	def.ID = id
	out, err := h.Svc.Update(r.Context(), def)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}

func writeError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", "rule definition is invalid", verr.Fields)
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "rule not found", nil)
	case errors.Is(err, ErrDuplicate):
		common.JSONError(w, http.StatusConflict, "CONFLICT", "rule id already exists", nil)
	default:
		common.WriteError(w, err)
	}
}
