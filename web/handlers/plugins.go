package handlers

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/scrypster/pluginstats/internal/engine"
	"github.com/scrypster/pluginstats/internal/storage"
)

// PluginHandler serves the plugin API from the in-memory registry, so
// listings include changes that are still waiting in the save queue.
type PluginHandler struct {
	source PluginSource
}

// NewPluginHandler creates a new PluginHandler instance.
func NewPluginHandler(source PluginSource) *PluginHandler {
	return &PluginHandler{source: source}
}

// ListPlugins handles GET /api/plugins - list plugins with pagination.
// Query parameters: page, limit, sort_by, sort_order, include_hidden, parent.
func (h *PluginHandler) ListPlugins(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := storage.ListOptions{
		Page:          parseInt(q.Get("page"), 1),
		Limit:         parseInt(q.Get("limit"), 10),
		SortBy:        q.Get("sort_by"),
		SortOrder:     q.Get("sort_order"),
		IncludeHidden: q.Get("include_hidden") == "true",
		Parent:        parseInt(q.Get("parent"), 0),
	}
	opts.Normalize()

	respondJSON(w, http.StatusOK, newPluginListResponse(paginate(h.source.Views(), opts)))
}

// GetPlugin handles GET /api/plugins/{id} - one plugin with graphs and versions.
func (h *PluginHandler) GetPlugin(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid plugin id", err)
		return
	}

	view, ok := h.source.View(id)
	if !ok {
		respondError(w, http.StatusNotFound, "plugin not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// SavePlugin handles POST /api/plugins/{id}/save - writes the plugin now,
// bypassing the save queue.
func (h *PluginHandler) SavePlugin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}

	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid plugin id", err)
		return
	}

	p, err := h.source.SaveNow(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "plugin not found", nil)
		return
	}
	if err != nil {
		resp := SaveResponse{ID: id, Saved: false}
		if p != nil {
			resp.State = p.State().String()
		}
		respondJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	respondJSON(w, http.StatusOK, SaveResponse{ID: id, State: p.State().String(), Saved: true})
}

// paginate filters, sorts and slices views the way the stores page plugins.
func paginate(views []engine.PluginView, opts storage.ListOptions) *storage.PaginatedResult[engine.PluginView] {
	filtered := views[:0:0]
	for _, v := range views {
		if !opts.IncludeHidden && v.Hidden != 0 {
			continue
		}
		if opts.Parent != 0 && v.Parent != opts.Parent {
			continue
		}
		filtered = append(filtered, v)
	}

	compare := func(a, b engine.PluginView) int {
		switch opts.SortBy {
		case "name":
			return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		case "global_hits":
			return a.GlobalHits - b.GlobalHits
		case "created":
			return compareInt64(a.Created, b.Created)
		case "last_updated":
			return compareInt64(a.LastUpdated, b.LastUpdated)
		default:
			return a.ID - b.ID
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		c := compare(filtered[i], filtered[j])
		if c == 0 {
			return filtered[i].ID < filtered[j].ID
		}
		if opts.SortOrder == "desc" {
			return c > 0
		}
		return c < 0
	})

	total := len(filtered)
	start := opts.Offset()
	if start > total {
		start = total
	}
	end := start + opts.Limit
	if end > total {
		end = total
	}

	return &storage.PaginatedResult[engine.PluginView]{
		Items:    filtered[start:end],
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  end < total,
	}
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
