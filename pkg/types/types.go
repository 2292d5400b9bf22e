// Package types defines the core data structures for the plugin statistics
// backend: plugins reported by remote servers, the graphs that collect their
// series data, and the versions each plugin has been seen running.
package types

// GraphType identifies how a graph is rendered.
type GraphType int

// Graph type constants, stored as integers.
const (
	GraphTypeLine GraphType = iota
	GraphTypeArea
	GraphTypeColumn
	GraphTypePie
	GraphTypeDonut
	GraphTypeMap
	GraphTypeStackedColumn
)

// GlobalStatisticsGraph is the graph every plugin gets on first report.
const GlobalStatisticsGraph = "Global Statistics"

// String returns the lowercase graph type name.
func (g GraphType) String() string {
	switch g {
	case GraphTypeLine:
		return "line"
	case GraphTypeArea:
		return "area"
	case GraphTypeColumn:
		return "column"
	case GraphTypePie:
		return "pie"
	case GraphTypeDonut:
		return "donut"
	case GraphTypeMap:
		return "map"
	case GraphTypeStackedColumn:
		return "stacked_column"
	default:
		return "unknown"
	}
}

// IsValidGraphType checks if the given value names a known graph type.
func IsValidGraphType(g GraphType) bool {
	return g >= GraphTypeLine && g <= GraphTypeStackedColumn
}
