package audit

import (
	"net/http"

	"github.com/noah-isme/toko-pricing/internal/common"
)

const maxPageSize = 200

// Handler exposes the audit trail to administrators.
type Handler struct {
	Store Store
}

// List returns a page of audit entries, newest first.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_NOT_CONFIGURED", "audit store not configured", nil)
		return
	}
	page, perPage := common.ParsePagination(r, 50)
	if perPage > maxPageSize {
		perPage = maxPageSize
	}

	entries, total, err := h.Store.List(r.Context(), perPage, (page-1)*perPage)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_QUERY_FAILED", "unable to fetch audit entries", nil)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       entries,
		"pagination": common.Pagination{Page: page, PerPage: perPage, TotalItems: total},
	})
}
