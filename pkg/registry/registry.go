package registry

import (
	"errors"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrToolNotFound is returned when a lookup names an unknown tool.
	ErrToolNotFound = errors.New("tool not found")
	// ErrDuplicateTool is returned when a registration collides with an
	// existing tool at the same version.
	ErrDuplicateTool = errors.New("duplicate tool")
	// ErrInvalidParams is returned when parameters fail schema validation.
	ErrInvalidParams = errors.New("invalid parameters")
)

// Registry holds the live set of tool descriptors. Registrations are
// atomic pointer swaps; readers never observe a partially-registered
// descriptor.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*ToolDescriptor
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		tools: make(map[string]*ToolDescriptor),
	}
}

// Register validates and adds a descriptor. Registering the same name at
// the same version fails with ErrDuplicateTool; a different version is a
// version upgrade and replaces the live descriptor atomically.
func (r *Registry) Register(desc ToolDescriptor) error {
	if err := desc.validate(); err != nil {
		return fmt.Errorf("invalid tool descriptor: %w", err)
	}
	if err := desc.compileSchema(); err != nil {
		return err
	}
	desc.registeredAt = time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.tools[desc.Name]; ok {
		if existing.Version == desc.Version {
			return fmt.Errorf("%w: %s@%s", ErrDuplicateTool, desc.Name, desc.Version)
		}
		log.Info().
			Str("tool", desc.Name).
			Str("from_version", existing.Version).
			Str("to_version", desc.Version).
			Msg("Tool version upgraded")
	} else {
		log.Info().
			Str("tool", desc.Name).
			Str("version", desc.Version).
			Msg("Tool registered")
	}

	r.tools[desc.Name] = &desc
	return nil
}

// Deregister removes a tool. Unknown names are a no-op.
func (r *Registry) Deregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tools[name]; ok {
		delete(r.tools, name)
		log.Info().Str("tool", name).Msg("Tool deregistered")
	}
}

// Lookup returns the live descriptor for a tool name.
func (r *Registry) Lookup(name string) (*ToolDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	desc, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return desc, nil
}

// List returns a restartable sequence over a snapshot of the registry
// taken at call time, ordered by tool name. Registrations made while
// iterating are not reflected.
func (r *Registry) List() iter.Seq[*ToolDescriptor] {
	r.mu.RLock()
	snapshot := make([]*ToolDescriptor, 0, len(r.tools))
	for _, desc := range r.tools {
		snapshot = append(snapshot, desc)
	}
	r.mu.RUnlock()

	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].Name < snapshot[j].Name
	})

	return func(yield func(*ToolDescriptor) bool) {
		for _, desc := range snapshot {
			if !yield(desc) {
				return
			}
		}
	}
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
