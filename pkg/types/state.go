package types

// SaveState tracks where a plugin sits in the deferred save cycle.
// It replaces a pair of "modified" / "queued" flags with one value so the
// at-most-one-queue-entry rule can be checked by looking at a single field.
type SaveState int

const (
	// SaveStateClean means nothing changed since the last successful write.
	SaveStateClean SaveState = iota

	// SaveStateDirty means an attribute changed and no save is queued.
	SaveStateDirty

	// SaveStateQueued means the plugin has one outstanding queue entry.
	SaveStateQueued

	// SaveStateQueuedDirty means the plugin is queued and was modified again
	// after it was offered. The queued entry still picks up the new values
	// because the consumer reads live attributes at drain time.
	SaveStateQueuedDirty
)

// String returns the state name used in logs and the HTTP API.
func (s SaveState) String() string {
	switch s {
	case SaveStateClean:
		return "clean"
	case SaveStateDirty:
		return "dirty"
	case SaveStateQueued:
		return "queued"
	case SaveStateQueuedDirty:
		return "queued_dirty"
	default:
		return "unknown"
	}
}

// Modified reports whether an attribute changed since the last save call
// observed the plugin.
func (s SaveState) Modified() bool {
	return s == SaveStateDirty || s == SaveStateQueuedDirty
}

// Queued reports whether the plugin has an outstanding queue entry.
func (s SaveState) Queued() bool {
	return s == SaveStateQueued || s == SaveStateQueuedDirty
}

// touched returns the state after an attribute write.
func (s SaveState) touched() SaveState {
	switch s {
	case SaveStateClean:
		return SaveStateDirty
	case SaveStateQueued:
		return SaveStateQueuedDirty
	default:
		return s
	}
}
