package uav

import (
	"sort"
	"sync"

	"github.com/Legell/UAV-System/internal/mavlink"
)

// Registry is the process-wide mapping from uav_id to record and link. One
// mutex guards both maps; it must never be held across link I/O.
type Registry struct {
	mu    sync.Mutex
	uavs  map[string]*UAV
	links map[string]mavlink.Link
}

func NewRegistry() *Registry {
	return &Registry{
		uavs:  make(map[string]*UAV),
		links: make(map[string]mavlink.Link),
	}
}

// Insert registers a record together with its link, replacing any previous
// entry under the same id.
func (r *Registry) Insert(u *UAV, link mavlink.Link) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uavs[u.ID] = u
	r.links[u.ID] = link
}

// Remove drops both the record and the link entry.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.uavs, id)
	delete(r.links, id)
}

// Get returns a snapshot copy of the record.
func (r *Registry) Get(id string) (UAV, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.uavs[id]
	if !ok {
		return UAV{}, false
	}
	return u.clone(), true
}

// Update applies fn to the record under the registry lock. fn must not
// block on I/O. Returns false for an unknown id.
func (r *Registry) Update(id string, fn func(*UAV)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.uavs[id]
	if !ok {
		return false
	}
	fn(u)
	return true
}

// SnapshotAll returns copies of every record, sorted by port.
func (r *Registry) SnapshotAll() []UAV {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]UAV, 0, len(r.uavs))
	for _, u := range r.uavs {
		out = append(out, u.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}

// Link returns the link registered for id, if any.
func (r *Registry) Link(id string) (mavlink.Link, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[id]
	return l, ok
}

// WithLink invokes fn with the link while holding the registry lock. Use
// sparingly; fn must never block for I/O.
func (r *Registry) WithLink(id string, fn func(mavlink.Link)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[id]
	if !ok {
		return false
	}
	fn(l)
	return true
}

// DropLink removes and returns the link entry, keeping the record in place.
func (r *Registry) DropLink(id string) (mavlink.Link, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[id]
	if ok {
		delete(r.links, id)
	}
	return l, ok
}
