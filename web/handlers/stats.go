package handlers

import (
	"net/http"
	"time"
)

// StatsHandler handles statistics endpoint requests.
type StatsHandler struct {
	stats StatsGetter
}

// NewStatsHandler creates a new StatsHandler instance.
func NewStatsHandler(stats StatsGetter) *StatsHandler {
	return &StatsHandler{stats: stats}
}

// GetStats handles GET /api/stats - returns save queue and worker counters.
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}

	respondJSON(w, http.StatusOK, StatsResponse{
		Stats:       h.stats.Stats(),
		GeneratedAt: time.Now().UTC(),
	})
}
