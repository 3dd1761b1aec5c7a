package schema

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages all entity schemas known to the application and owns
// the stable type tags used by external-ID translation. Entities register
// once at startup; lookups afterwards are read-only and safe for
// concurrent use.
type Registry struct {
	entities map[string]*Entity
	tags     map[string]int64 // entity name -> type tag
	byTag    map[int64]string
	nextTag  int64
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entities: make(map[string]*Entity),
		tags:     make(map[string]int64),
		byTag:    make(map[int64]string),
		nextTag:  1,
	}
}

// Register registers an entity schema and assigns it the next free type tag.
func (r *Registry) Register(e *Entity) error {
	return r.RegisterWithTag(e, 0)
}

// RegisterWithTag registers an entity schema under an explicit type tag.
// A tag of zero auto-assigns the next free one. Tags must be stable across
// processes when external IDs are in use, so callers that enable them
// should pass explicit tags.
func (r *Registry) RegisterWithTag(e *Entity, tag int64) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	// materialize derived defaults so consumers never see empty keys
	for _, rel := range e.Relationships {
		rel.ForeignKey = rel.DefaultForeignKey(e)
		if rel.Kind == HasManyThrough {
			rel.JoinTable = rel.DefaultJoinTable(e)
			rel.AssociationKey = rel.DefaultAssociationKey()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entities[e.Name]; exists {
		return fmt.Errorf("entity %s is already registered", e.Name)
	}
	if tag == 0 {
		for r.byTag[r.nextTag] != "" {
			r.nextTag++
		}
		tag = r.nextTag
	}
	if owner, taken := r.byTag[tag]; taken {
		return fmt.Errorf("type tag %d is already assigned to %s", tag, owner)
	}

	r.entities[e.Name] = e
	r.tags[e.Name] = tag
	r.byTag[tag] = e.Name
	return nil
}

// Get retrieves an entity schema by name.
func (r *Registry) Get(name string) (*Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[name]
	return e, ok
}

// All returns a copy of the registered schemas keyed by name.
func (r *Registry) All() map[string]*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Entity, len(r.entities))
	for name, e := range r.entities {
		out[name] = e
	}
	return out
}

// Names returns the registered entity names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entities))
	for name := range r.entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TagFor returns the type tag assigned to the named entity.
func (r *Registry) TagFor(entity string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tag, ok := r.tags[entity]
	return tag, ok
}

// EntityFor returns the entity name a type tag was assigned to.
func (r *Registry) EntityFor(tag int64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byTag[tag]
	return name, ok
}

// ValidateAll checks every registered relationship against the registry:
// targets must exist and HasManyThrough edges need a resolvable junction.
// Called once after all entities are registered, allowing forward
// references during registration.
func (r *Registry) ValidateAll() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, e := range r.entities {
		for relName, rel := range e.Relationships {
			if _, ok := r.entities[rel.Target]; !ok {
				return fmt.Errorf(
					"entity %s: relationship %s targets unknown entity %s",
					name, relName, rel.Target,
				)
			}
		}
	}
	return nil
}
