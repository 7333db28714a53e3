package viewed

import "sync"

// AutoMarker enforces the mark-on-view policy: when auto-mark is enabled
// a file's current version id is marked viewed at most once per session.
// A file the reviewer manually un-marks is not re-marked on revisit.
// State is in-memory only and dies with the session.
type AutoMarker struct {
	mu     sync.Mutex
	marked Set
}

// NewAutoMarker creates an empty auto-marker.
func NewAutoMarker() *AutoMarker {
	return &AutoMarker{marked: Set{}}
}

// TryMark records that versionID was auto-marked and reports whether this
// is the first time in this session. Callers only persist the viewed bit
// on a true return.
func (m *AutoMarker) TryMark(versionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.marked.Has(versionID) {
		return false
	}
	m.marked.Add(versionID)
	return true
}
