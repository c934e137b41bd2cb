package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/noah-isme/toko-pricing/internal/common"
	"github.com/noah-isme/toko-pricing/internal/obs"
)

// Service records administrative actions against pricing rules.
type Service struct {
	Store   Store
	Enabled bool
}

// Record persists an entry for req when auditing is enabled.
func (s Service) Record(ctx context.Context, actor, action, resourceID string, req *http.Request, status int, metadata []byte) error {
	if !s.Enabled {
		return nil
	}
	if req == nil {
		return errors.New("audit: request is required")
	}
	if s.Store == nil {
		return errors.New("audit: store not configured")
	}

	route := obs.RoutePatternFromContext(req.Context())
	if route == "" {
		route = strings.TrimSpace(req.URL.Path)
	}
	if status == 0 {
		status = http.StatusOK
	}
	return s.Store.Insert(ctx, Entry{
		Actor:      strings.TrimSpace(actor),
		Action:     buildAction(action, req.Method, route),
		ResourceID: strings.TrimSpace(resourceID),
		Method:     req.Method,
		Route:      route,
		Status:     status,
		RequestID:  strings.TrimSpace(req.Header.Get("X-Request-ID")),
		IP:         common.ClientIP(req),
		Metadata:   toJSONB(metadata, req.URL.RawQuery),
	})
}

func buildAction(action, method, route string) string {
	if trimmed := strings.TrimSpace(action); trimmed != "" {
		return trimmed
	}
	if route == "" {
		route = "/"
	}
	return strings.ToUpper(strings.TrimSpace(method)) + " " + route
}

func toJSONB(metadata []byte, query string) json.RawMessage {
	if len(metadata) > 0 {
		return metadata
	}
	if strings.TrimSpace(query) == "" {
		return nil
	}
	data, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil
	}
	return data
}
