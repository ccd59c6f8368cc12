// ABOUTME: Registry of personas visiting this host through the gateway
// ABOUTME: Keyed by the platform user id the visiting persona speaks as

package orchestrator

import (
	"maps"
	"slices"
	"sync"
)

// VisitorProfile describes a visiting persona.
type VisitorProfile struct {
	DiscordUserID     string
	PersonaID         string
	OwnerUserID       string
	CurrentCityID     string
	CurrentBuildingID string
	Metadata          map[string]any
}

// VisitorRegistry is a mutex-guarded map of visitors.
type VisitorRegistry struct {
	mu       sync.RWMutex
	visitors map[string]VisitorProfile
}

// NewVisitorRegistry creates an empty registry.
func NewVisitorRegistry() *VisitorRegistry {
	return &VisitorRegistry{visitors: make(map[string]VisitorProfile)}
}

// Upsert stores p and reports whether it was new.
func (r *VisitorRegistry) Upsert(p VisitorProfile) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, existed := r.visitors[p.DiscordUserID]
	p.Metadata = maps.Clone(p.Metadata)
	r.visitors[p.DiscordUserID] = p
	return !existed
}

// Get returns the visitor speaking as discordUserID.
func (r *VisitorRegistry) Get(discordUserID string) (VisitorProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.visitors[discordUserID]
	return p, ok
}

// FindByPersona returns the visitor for a persona id.
func (r *VisitorRegistry) FindByPersona(personaID string) (VisitorProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.visitors {
		if p.PersonaID == personaID {
			return p, true
		}
	}
	return VisitorProfile{}, false
}

// Relocate updates only the location of a visitor.
func (r *VisitorRegistry) Relocate(discordUserID, cityID, buildingID string) (VisitorProfile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.visitors[discordUserID]
	if !ok {
		return VisitorProfile{}, false
	}
	if cityID != "" {
		p.CurrentCityID = cityID
	}
	if buildingID != "" {
		p.CurrentBuildingID = buildingID
	}
	r.visitors[discordUserID] = p
	return p, true
}

// Remove deletes a visitor and returns its last profile.
func (r *VisitorRegistry) Remove(discordUserID string) (VisitorProfile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.visitors[discordUserID]
	if ok {
		delete(r.visitors, discordUserID)
	}
	return p, ok
}

// List returns all visitors ordered by platform user id.
func (r *VisitorRegistry) List() []VisitorProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := slices.Sorted(maps.Keys(r.visitors))
	out := make([]VisitorProfile, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.visitors[id])
	}
	return out
}

// Len returns the number of visitors.
func (r *VisitorRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.visitors)
}
