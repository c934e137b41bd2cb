package quote

import (
	"encoding/json"
	"net/http"

	"github.com/noah-isme/toko-pricing/internal/common"
)

const maxBodyBytes = 1 << 20

// Handler exposes the quote endpoint.
type Handler struct {
	Svc *Service
}

// Quote prices the posted cart.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		common.WriteError(w, common.BadRequest("body", "invalid payload", err))
		return
	}
	resp, err := h.Svc.Quote(r.Context(), req)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": resp})
}
