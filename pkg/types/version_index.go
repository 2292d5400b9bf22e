package types

import "sort"

// VersionIndex keeps plugin versions addressable by database id and by
// version label. Both maps always describe the same set of records: Add
// evicts any record that would otherwise stay reachable through only one key.
//
// VersionIndex is not safe for concurrent use; Plugin guards it with its lock.
type VersionIndex struct {
	byID   map[int]*PluginVersion
	byName map[string]*PluginVersion
}

// NewVersionIndex creates an empty index.
func NewVersionIndex() *VersionIndex {
	return &VersionIndex{
		byID:   make(map[int]*PluginVersion),
		byName: make(map[string]*PluginVersion),
	}
}

// Add inserts v under both of its keys. A nil version is ignored.
func (x *VersionIndex) Add(v *PluginVersion) {
	if v == nil {
		return
	}

	if old, ok := x.byID[v.ID]; ok && old.Version != v.Version {
		delete(x.byName, old.Version)
	}
	if old, ok := x.byName[v.Version]; ok && old.ID != v.ID {
		delete(x.byID, old.ID)
	}

	x.byID[v.ID] = v
	x.byName[v.Version] = v
}

// ByID returns the version with the given database id.
func (x *VersionIndex) ByID(id int) (*PluginVersion, bool) {
	v, ok := x.byID[id]
	return v, ok
}

// ByName returns the version with the given label.
func (x *VersionIndex) ByName(version string) (*PluginVersion, bool) {
	v, ok := x.byName[version]
	return v, ok
}

// Len returns the number of distinct versions.
func (x *VersionIndex) Len() int {
	return len(x.byID)
}

// All returns the versions ordered by id.
func (x *VersionIndex) All() []*PluginVersion {
	out := make([]*PluginVersion, 0, len(x.byID))
	for _, v := range x.byID {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
