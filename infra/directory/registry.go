// Package directory provides the veterinarian directory the matcher reads.
// In production the entries mirror an external profile service; in memory
// mode they are seeded from configuration.
package directory

import (
	"context"
	"sort"
	"sync"

	"vetdispatch/core/model"
)

// Registry is an in-memory veterinarian directory safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	vets map[string]model.Veterinarian
}

// NewRegistry creates a Registry seeded with the given veterinarians.
func NewRegistry(seed []model.Veterinarian) *Registry {
	r := &Registry{vets: make(map[string]model.Veterinarian, len(seed))}
	for _, v := range seed {
		r.vets[v.ID] = v
	}
	return r
}

// Upsert adds or replaces a directory entry.
func (r *Registry) Upsert(v model.Veterinarian) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vets[v.ID] = v
}

// Remove deletes a directory entry.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.vets, id)
}

// SetAvailability flips the availability flags for a veterinarian. Returns
// false when the id is unknown.
func (r *Registry) SetAvailability(id string, available, emergency bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.vets[id]
	if !ok {
		return false
	}
	v.Available = available
	v.EmergencyAvailable = emergency
	r.vets[id] = v
	return true
}

// ListVeterinarians returns all entries sorted by id.
func (r *Registry) ListVeterinarians(_ context.Context) ([]model.Veterinarian, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Veterinarian, 0, len(r.vets))
	for _, v := range r.vets {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
