package httpapi

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/arguslabs/argus/internal/provider"
)

// ProvidersHandler reports provider reachability.
type ProvidersHandler struct {
	prober *provider.Prober
	logger *zap.Logger
}

func NewProvidersHandler(prober *provider.Prober, logger *zap.Logger) *ProvidersHandler {
	return &ProvidersHandler{prober: prober, logger: logger}
}

func (h *ProvidersHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/providers/health", instrument("/api/v1/providers/health", h.handleHealth))
}

func (h *ProvidersHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	statuses := h.prober.CheckAll(r.Context())
	healthy := 0
	for _, s := range statuses {
		if s.Healthy {
			healthy++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"providers":  statuses,
		"healthy":    healthy,
		"total":      len(statuses),
		"checked_at": time.Now().UTC(),
	})
}
