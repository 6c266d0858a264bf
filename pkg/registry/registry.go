// Package registry implements the process-wide lookup table described
// in the concurrency model: transactions, dialogs and media sessions
// run as independent units with no shared mutable state between them,
// and are located solely by id through this concurrent-read,
// serialized-write store.
package registry

import "sync"

// Kind identifies which unit type an entry belongs to.
type Kind string

const (
	KindTransaction  Kind = "transaction"
	KindDialog       Kind = "dialog"
	KindMediaSession Kind = "media"
)

// Registry maps (kind, id) to the owning unit. Entries are opaque to the
// registry itself — callers type-assert on Get.
type Registry struct {
	mu      sync.RWMutex
	entries map[Kind]map[string]interface{}
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: map[Kind]map[string]interface{}{
			KindTransaction:  make(map[string]interface{}),
			KindDialog:       make(map[string]interface{}),
			KindMediaSession: make(map[string]interface{}),
		},
	}
}

// Register adds or replaces the entry for (kind, id).
func (r *Registry) Register(kind Kind, id string, value interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[kind][id] = value
}

// Unregister removes the entry for (kind, id). A lookup against it
// afterwards reports not-found, matching the invariant that a
// transaction is unreachable via the registry once its terminal timer
// has fired.
func (r *Registry) Unregister(kind Kind, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries[kind], id)
}

// Lookup returns the entry for (kind, id), if any.
func (r *Registry) Lookup(kind Kind, id string) (interface{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.entries[kind][id]
	return v, ok
}

// Count returns the number of live entries of the given kind.
func (r *Registry) Count(kind Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries[kind])
}

// Range calls fn for every entry of kind, stopping early if fn returns
// false. Range takes a snapshot under the read lock so fn may safely
// call back into the registry.
func (r *Registry) Range(kind Kind, fn func(id string, value interface{}) bool) {
	r.mu.RLock()
	snapshot := make(map[string]interface{}, len(r.entries[kind]))
	for id, v := range r.entries[kind] {
		snapshot[id] = v
	}
	r.mu.RUnlock()

	for id, v := range snapshot {
		if !fn(id, v) {
			return
		}
	}
}
