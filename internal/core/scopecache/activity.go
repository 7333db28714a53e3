package scopecache

import (
	"sort"
	"sync"
	"time"
)

// Activity describes one in-flight fetch.
type Activity struct {
	ScopeID   string
	Label     string
	StartedAt time.Time
}

// ActivityTracker records in-flight fetches and notifies subscribers on
// registration and completion, so diagnostics can show active fetch
// counts without polling.
type ActivityTracker struct {
	mu        sync.Mutex
	seq       uint64
	active    map[uint64]Activity
	listeners map[uint64]func([]Activity)
}

// NewActivityTracker creates an empty tracker.
func NewActivityTracker() *ActivityTracker {
	return &ActivityTracker{
		active:    make(map[uint64]Activity),
		listeners: make(map[uint64]func([]Activity)),
	}
}

// Register records an in-flight fetch and returns a completion func.
// Calling the completion func more than once is harmless.
func (t *ActivityTracker) Register(scopeID, label string) func() {
	t.mu.Lock()
	t.seq++
	token := t.seq
	t.active[token] = Activity{ScopeID: scopeID, Label: label, StartedAt: time.Now()}
	t.mu.Unlock()
	t.notify()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.active, token)
			t.mu.Unlock()
			t.notify()
		})
	}
}

// ClearScope removes all activity entries for a scope. Called when a
// scope is evicted so stale in-progress indicators never linger.
func (t *ActivityTracker) ClearScope(scopeID string) {
	t.mu.Lock()
	var removed bool
	for token, a := range t.active {
		if a.ScopeID == scopeID {
			delete(t.active, token)
			removed = true
		}
	}
	t.mu.Unlock()

	if removed {
		t.notify()
	}
}

// Active returns a snapshot of in-flight fetches ordered by start time.
func (t *ActivityTracker) Active() []Activity {
	t.mu.Lock()
	out := make([]Activity, 0, len(t.active))
	for _, a := range t.active {
		out = append(out, a)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ScopeID < out[j].ScopeID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Subscribe registers a listener invoked with the active snapshot on
// every registration and completion. It returns an unsubscribe func.
func (t *ActivityTracker) Subscribe(fn func(active []Activity)) func() {
	t.mu.Lock()
	t.seq++
	token := t.seq
	t.listeners[token] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.listeners, token)
		t.mu.Unlock()
	}
}

func (t *ActivityTracker) notify() {
	snapshot := t.Active()

	t.mu.Lock()
	fns := make([]func([]Activity), 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}
}
