// Package handlers provides the HTTP handlers and middleware for the
// pluginstats server: report intake, the plugin API, statistics and the
// live save-event websocket.
package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/scrypster/pluginstats/internal/engine"
	"github.com/scrypster/pluginstats/internal/storage"
	"github.com/scrypster/pluginstats/pkg/types"
)

// Reporter applies plugin reports.
type Reporter interface {
	Report(ctx context.Context, report engine.Report) (*engine.ReportResult, error)
}

// PluginSource exposes the live plugin registry.
type PluginSource interface {
	Views() []engine.PluginView
	View(id int) (engine.PluginView, bool)
	SaveNow(ctx context.Context, id int) (*types.Plugin, error)
}

// StatsGetter exposes save pipeline counters.
type StatsGetter interface {
	Stats() engine.Stats
}

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// PluginListResponse is the response format for GET /api/plugins.
type PluginListResponse struct {
	Plugins []engine.PluginView `json:"plugins"`
	Total   int                 `json:"total"`
	Page    int                 `json:"page"`
	Limit   int                 `json:"limit"`
	HasMore bool                `json:"has_more"`
}

// newPluginListResponse converts a page of views into the API format.
func newPluginListResponse(result *storage.PaginatedResult[engine.PluginView]) PluginListResponse {
	return PluginListResponse{
		Plugins: result.Items,
		Total:   result.Total,
		Page:    result.Page,
		Limit:   result.PageSize,
		HasMore: result.HasMore,
	}
}

// SaveResponse is the response format for POST /api/plugins/{id}/save.
type SaveResponse struct {
	ID    int    `json:"id"`
	State string `json:"state"`
	Saved bool   `json:"saved"`
}

// StatsResponse is the response format for GET /api/stats.
type StatsResponse struct {
	engine.Stats
	GeneratedAt time.Time `json:"generated_at"`
}

// PluginSavedEvent is broadcast on the websocket after a plugin is written.
type PluginSavedEvent struct {
	Type     string    `json:"type"`
	PluginID int       `json:"plugin_id"`
	SavedAt  time.Time `json:"saved_at"`
}

// NewPluginSavedEvent builds the event for pluginID.
func NewPluginSavedEvent(pluginID int) PluginSavedEvent {
	return PluginSavedEvent{Type: "plugin_saved", PluginID: pluginID, SavedAt: time.Now().UTC()}
}

// parseInt parses s or returns defaultValue when s is empty or malformed.
func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return val
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already sent
		log.Printf("ERROR: Failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}

	if err != nil {
		errResp.Details = map[string]interface{}{
			"error": err.Error(),
		}
	}

	respondJSON(w, statusCode, errResp)
}
