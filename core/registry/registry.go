// Package registry holds the set of known workers and their mutable state.
//
// Each entry has its own lock so that load reservations on different workers
// never contend. The registry lock only guards membership.
package registry

import (
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/optiroute/core/model"
	"github.com/kilianp07/optiroute/core/worker"
)

// Entry is a registered worker.
type Entry struct {
	id      string
	mu      sync.Mutex
	w       worker.Worker
	profile model.WorkerProfile
}

// ID returns the worker id.
func (e *Entry) ID() string { return e.id }

// Worker returns the capability handle.
func (e *Entry) Worker() worker.Worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.w
}

// Profile returns a copy of the worker profile.
func (e *Entry) Profile() model.WorkerProfile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyProfile(e.profile)
}

// Reserve adds weight to the load if the worker is active and the result stays
// within capacity.
func (e *Entry) Reserve(weight float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.profile.Active() || !e.profile.Fits(weight) {
		return false
	}
	e.profile.Load += weight
	return true
}

// Release removes weight from the load, never going below zero.
func (e *Entry) Release(weight float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.profile.Load -= weight
	if e.profile.Load < 0 {
		e.profile.Load = 0
	}
}

func copyProfile(p model.WorkerProfile) model.WorkerProfile {
	if p.Capabilities != nil {
		p.Capabilities = append([]string(nil), p.Capabilities...)
	}
	if p.Location != nil {
		loc := *p.Location
		p.Location = &loc
	}
	return p
}

// Filter narrows List and Candidates. Empty fields match everything.
type Filter struct {
	Type       string
	Status     model.WorkerStatus
	Capability string
	Exclude    string
}

func (f Filter) match(p model.WorkerProfile) bool {
	if f.Type != "" && p.Type != f.Type {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.Capability != "" && !p.HasCapability(f.Capability) {
		return false
	}
	return f.Exclude == "" || p.ID != f.Exclude
}

// Registry is an explicitly owned worker registry.
type Registry struct {
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]*Entry
}

// New returns an empty registry. A nil clock defaults to time.Now.
func New(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{now: now, entries: make(map[string]*Entry)}
}

// Upsert registers w or updates its descriptive fields. The current load and
// registration time of an existing entry are kept, and its capacity never
// drops below the load it already carries. An unresponsive worker is
// reactivated. changed reports whether the observable state differs.
func (r *Registry) Upsert(w worker.Worker, p model.WorkerProfile) (e *Entry, changed bool) {
	p.ID = w.ID()
	if p.Capacity <= 0 {
		if c, ok := worker.RemainingCapacityOf(w); ok {
			p.Capacity = c
		}
	}
	if p.Location == nil {
		if loc, ok := worker.LocationOf(w); ok {
			p.Location = &loc
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	e, ok := r.entries[p.ID]
	if !ok {
		p.Load = 0
		p.Status = model.WorkerActive
		p.LastSeen = now
		p.RegisteredAt = now
		e = &Entry{id: p.ID, w: w, profile: copyProfile(p)}
		r.entries[p.ID] = e
		return e, true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	before := copyProfile(e.profile)
	cur := &e.profile
	cur.Type = p.Type
	cur.VehicleClass = p.VehicleClass
	cur.Capabilities = append([]string(nil), p.Capabilities...)
	if p.Capacity > 0 {
		cur.Capacity = max(p.Capacity, cur.Load)
	}
	if p.Location != nil {
		loc := *p.Location
		cur.Location = &loc
	}
	if cur.Status != model.WorkerActive {
		cur.Status = model.WorkerActive
		cur.LastSeen = now
	}
	e.w = w
	return e, !reflect.DeepEqual(before, *cur)
}

// Get returns the entry for id.
func (r *Registry) Get(id string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Lookup returns the worker handle for id.
func (r *Registry) Lookup(id string) (worker.Worker, bool) {
	e, ok := r.Get(id)
	if !ok {
		return nil, false
	}
	return e.Worker(), true
}

// Remove deletes a worker from the registry.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	delete(r.entries, id)
	return ok
}

// Len returns the number of registered workers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Candidates returns the matching entries ordered by worker id.
func (r *Registry) Candidates(f Filter) []*Entry {
	r.mu.RLock()
	all := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		all = append(all, e)
	}
	r.mu.RUnlock()
	out := all[:0]
	for _, e := range all {
		if f.match(e.Profile()) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// List returns matching profiles ordered by worker id.
func (r *Registry) List(f Filter) []model.WorkerProfile {
	entries := r.Candidates(f)
	out := make([]model.WorkerProfile, len(entries))
	for i, e := range entries {
		out[i] = e.Profile()
	}
	return out
}

// Heartbeat records a sign of life and reactivates the worker. loc may be nil.
func (r *Registry) Heartbeat(id string, loc *model.Location) (reactivated, ok bool) {
	e, ok := r.Get(id)
	if !ok {
		return false, false
	}
	now := r.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.profile.LastSeen = now
	if loc != nil {
		l := *loc
		e.profile.Location = &l
	}
	if e.profile.Status != model.WorkerActive {
		e.profile.Status = model.WorkerActive
		return true, true
	}
	return false, true
}

// MarkUnresponsive demotes the worker. It reports whether the status changed.
func (r *Registry) MarkUnresponsive(id string) bool {
	e, ok := r.Get(id)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.profile.Status == model.WorkerUnresponsive {
		return false
	}
	e.profile.Status = model.WorkerUnresponsive
	return true
}

// Stale returns the active workers whose last heartbeat is older than
// timeout, ordered by id.
func (r *Registry) Stale(timeout time.Duration) []*Entry {
	cutoff := r.now().Add(-timeout)
	var out []*Entry
	for _, e := range r.Candidates(Filter{Status: model.WorkerActive}) {
		if e.Profile().LastSeen.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// Now returns the registry clock.
func (r *Registry) Now() time.Time { return r.now() }
