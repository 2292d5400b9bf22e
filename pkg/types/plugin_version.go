package types

// PluginVersion is one version string a plugin has been reported with.
// It is immutable after creation and owned by exactly one plugin.
type PluginVersion struct {
	ID       int    `json:"id"`
	PluginID int    `json:"plugin_id"`
	Version  string `json:"version"`
	Created  int64  `json:"created"` // unix epoch
}
