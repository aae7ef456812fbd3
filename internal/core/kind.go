// Package core implements the entity engine: the connect/disconnect state
// machine, atom ingestion, atom-handling strategies, the event bus,
// precondition guards, call buffering, the entity cache, and ledger-write
// orchestration. Concrete kinds are thin configurations of this package.
package core

import (
	"fmt"
	"sort"
	"sync"
)

// Kind describes an entity type: its record tag, how its account seed is
// derived, which strategy folds its history, and which traits it composes.
// A Kind is shared configuration; per-instance state lives on the Entity.
type Kind struct {
	// Name tags ledger records and identifies the kind in registries.
	Name string
	// Seed derives the deterministic account seed for an instance. Kinds
	// bound only by address may leave it nil.
	Seed func(e *Entity) (string, error)
	// Strategy constructs the atom-handling strategy for a new instance.
	Strategy func() Strategy
	// Traits are constructed and attached in order for each new instance.
	// Factories keep trait state per entity.
	Traits []TraitFactory
	// ShouldUpdate filters matching atoms before they change state. Nil
	// accepts everything.
	ShouldUpdate func(e *Entity, data AtomData) bool
	// Sort orders the atom history. Nil sorts ascending by timestamp.
	Sort func(a, b AtomData) bool
	// New constructs an instance of this kind under parent. Used by the
	// registry to resolve entity references arriving from clients.
	New func(realm Realm, parent *Entity) (*Entity, error)
}

// TraitFactory builds a fresh trait instance for one entity.
type TraitFactory func() Trait

// Trait is a capability module attached to an entity kind. Attach registers
// the trait's attributes, actions, coded errors, and lifecycle hooks on the
// entity and may replace its strategy.
type Trait interface {
	Name() string
	Attach(e *Entity) error
}

// KindRegistry resolves kind names to their descriptors. Registration happens
// at nation assembly; lookups happen on the client action path.
type KindRegistry struct {
	mu    sync.RWMutex
	kinds map[string]*Kind
}

// NewKindRegistry constructs an empty registry.
func NewKindRegistry() *KindRegistry {
	return &KindRegistry{kinds: make(map[string]*Kind)}
}

// Register validates and stores a kind. Duplicate names are rejected.
func (r *KindRegistry) Register(kind *Kind) error {
	if kind == nil {
		return fmt.Errorf("kind registry: nil kind")
	}
	if kind.Name == "" {
		return fmt.Errorf("kind registry: kind requires a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.kinds[kind.Name]; exists {
		return fmt.Errorf("kind registry: %q already registered", kind.Name)
	}
	r.kinds[kind.Name] = kind
	return nil
}

// Get returns the kind registered under name.
func (r *KindRegistry) Get(name string) (*Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kind, ok := r.kinds[name]
	return kind, ok
}

// Names lists registered kind names in sorted order.
func (r *KindRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
