package analytics

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// Handler serves aggregated search statistics over HTTP.
type Handler struct {
	aggregator *Aggregator
	logger     *slog.Logger
}

func NewHandler(aggregator *Aggregator) *Handler {
	return &Handler{
		aggregator: aggregator,
		logger:     slog.Default().With("component", "analytics-handler"),
	}
}

// Stats answers GET /api/v1/analytics/stats. ?site=name narrows counts,
// latencies and top queries to one documentation site.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	site := strings.TrimSpace(r.URL.Query().Get("site"))
	stats := h.aggregator.StatsFor(site)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		h.logger.Error("writing stats failed", "site", site, "error", err)
	}
}
