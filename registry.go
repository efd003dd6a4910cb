package syncstate

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry maps key names to descriptors. Entries whose key is registered
// are decoded into their typed value at load time.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[string]Descriptor)}
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process wide registry used by DefaultContext.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Register adds descriptors to the default registry.
func Register(descriptors ...Descriptor) error {
	return defaultRegistry.Register(descriptors...)
}

// RegisterKey declares a key and registers it with the default registry. It
// panics on conflicting registrations, like NewKey does for blank names.
func RegisterKey[V any](name string) Key[V] {
	key := NewKey[V](name)
	defaultRegistry.MustRegister(key)
	return key
}

// Register stores descriptors guarding against blank names and against the
// same name being bound to two different types. Registering a key whose name
// is already bound to the same type is a no-op. Either every descriptor is
// registered or, on error, none is.
func (r *Registry) Register(descriptors ...Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.descriptors == nil {
		r.descriptors = make(map[string]Descriptor)
	}
	pending := make(map[string]Descriptor, len(descriptors))
	names := make([]string, 0, len(descriptors))
	for _, desc := range descriptors {
		if desc == nil {
			return fmt.Errorf("syncstate: descriptor is nil")
		}
		name := strings.TrimSpace(desc.Name())
		if name == "" {
			return fmt.Errorf("syncstate: descriptor name must not be empty")
		}
		existing, ok := pending[name]
		if !ok {
			existing, ok = r.descriptors[name]
		}
		if ok {
			if existing.Type() != desc.Type() {
				return fmt.Errorf("syncstate: key %q already registered as %s", name, existing.TypeName())
			}
			continue
		}
		pending[name] = desc
		names = append(names, name)
	}
	for _, name := range names {
		r.descriptors[name] = pending[name]
	}
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(descriptors ...Descriptor) {
	if err := r.Register(descriptors...); err != nil {
		panic(err)
	}
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.descriptors[name]
	return desc, ok
}

// Names returns registered key names sorted alphabetically.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.descriptors)
}

// Clone returns a shallow copy of the registry.
func (r *Registry) Clone() *Registry {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := &Registry{descriptors: make(map[string]Descriptor, len(r.descriptors))}
	for name, desc := range r.descriptors {
		clone.descriptors[name] = desc
	}
	return clone
}

// Describe lists the registered keys with their Go types, sorted by name.
func (r *Registry) Describe() []FieldDescriptor {
	if r == nil {
		return []FieldDescriptor{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fields := make([]FieldDescriptor, 0, len(r.descriptors))
	for name, desc := range r.descriptors {
		fields = append(fields, FieldDescriptor{Path: name, Type: desc.TypeName()})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Path < fields[j].Path })
	return fields
}
