package appliedrules

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/toko-pricing/internal/common"
)

// Handler exposes the applied-rules record of an order.
type Handler struct {
	Svc *Service
}

// OrderRules returns the labels of the rules applied to the order in the path.
func (h *Handler) OrderRules(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, common.BadRequest("id", "invalid order id", err))
		return
	}
	labels, err := h.Svc.Describe(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.WriteError(w, common.NotFound("no pricing rules recorded for order", err))
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load pricing rules", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": labels})
}
