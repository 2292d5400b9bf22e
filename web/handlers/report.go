package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/scrypster/pluginstats/internal/engine"
)

// maxReportBody bounds the size of a report request body.
const maxReportBody = 64 << 10

// ReportHandler handles plugin reports sent by servers.
type ReportHandler struct {
	reporter Reporter
}

// NewReportHandler creates a new ReportHandler instance.
func NewReportHandler(reporter Reporter) *ReportHandler {
	return &ReportHandler{reporter: reporter}
}

// PostReport handles POST /report/{plugin} - records one usage report.
func (h *ReportHandler) PostReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}

	var report engine.Report
	r.Body = http.MaxBytesReader(w, r.Body, maxReportBody)
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	report.PluginName = r.PathValue("plugin")

	result, err := h.reporter.Report(r.Context(), report)
	switch {
	case errors.Is(err, engine.ErrInvalidReport):
		respondError(w, http.StatusBadRequest, "invalid report", err)
		return
	case errors.Is(err, engine.ErrNotStarted):
		respondError(w, http.StatusServiceUnavailable, "server is not accepting reports", err)
		return
	case err != nil:
		log.Printf("ERROR: Failed to process report for %q: %v", report.PluginName, err)
		respondError(w, http.StatusInternalServerError, "failed to process report", err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	respondJSON(w, status, result)
}
