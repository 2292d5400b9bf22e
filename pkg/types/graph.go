package types

// Graph is a named series collection owned by exactly one plugin.
// Plugins look graphs up by Name; ID is the store's key.
type Graph struct {
	ID          int       `json:"id"`
	PluginID    int       `json:"plugin_id"`
	Type        GraphType `json:"type"`
	Active      bool      `json:"active"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Scale       string    `json:"scale,omitempty"` // "linear" or "log"
	Position    int       `json:"position"`
}

// NewGraph builds an active line graph with the display name defaulted to name.
func NewGraph(pluginID int, name string) *Graph {
	return &Graph{
		PluginID:    pluginID,
		Type:        GraphTypeLine,
		Active:      true,
		Name:        name,
		DisplayName: name,
		Scale:       "linear",
		Position:    1,
	}
}
