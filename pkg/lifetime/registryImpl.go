package lifetime

import (
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/Phillezi/lifetime/pkg/metric"
)

// TrackedInstance is the registration record for a live worker goroutine,
// owned instance or subprocess. It is immutable once created.
type TrackedInstance struct {
	ID          uint64
	Description string
	File        string
	Base        string
	Line        int
	Added       time.Time
}

// ShortString renders "description @ base:line".
func (t TrackedInstance) ShortString() string {
	return fmt.Sprintf("%s @ %s:%d", t.Description, t.Base, t.Line)
}

// Age returns how long the instance has been registered.
func (t TrackedInstance) Age() time.Duration {
	return time.Since(t.Added)
}

// trackedRegistry allocates descending IDs and keeps every live tracked
// entity, so that ascending iteration over the IDs yields the most recently
// registered entities first.
type trackedRegistry struct {
	mu      sync.RWMutex
	nextID  uint64
	live    map[uint64]TrackedInstance
	changed chan struct{}
}

func newTrackedRegistry() *trackedRegistry {
	return &trackedRegistry{
		live:    make(map[uint64]TrackedInstance),
		changed: make(chan struct{}),
	}
}

// add registers an entity and returns its ID. IDs are strictly decreasing,
// never reused.
func (r *trackedRegistry) add(description, file string, line int) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID--
	id := r.nextID
	r.live[id] = TrackedInstance{
		ID:          id,
		Description: description,
		File:        file,
		Base:        filepath.Base(file),
		Line:        line,
		Added:       time.Now(),
	}
	m := metric.Default()
	m.TrackedLive.Inc()
	m.TrackedTotal.Inc()
	return id
}

// remove deregisters an entity and wakes waiters. No-op for unknown IDs.
func (r *trackedRegistry) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[id]; !ok {
		return
	}
	delete(r.live, id)
	metric.Default().TrackedLive.Dec()
	close(r.changed)
	r.changed = make(chan struct{})
}

// watch returns a channel closed on the next deregistration. Capture it
// before snapshotting so no removal between the two is missed.
func (r *trackedRegistry) watch() <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.changed
}

// snapshot returns an immutable copy of the live table.
func (r *trackedRegistry) snapshot() map[uint64]TrackedInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[uint64]TrackedInstance, len(r.live))
	for id, t := range r.live {
		out[id] = t
	}
	return out
}

// dump visits every live entity in natural ID order, most recent first,
// holding the read lock for the duration.
func (r *trackedRegistry) dump(visit func(TrackedInstance)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uint64, 0, len(r.live))
	for id := range r.live {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		visit(r.live[id])
	}
}
