package core

import "sync"

// Cache deduplicates entities by address so concurrent callers share one
// instance. Callers must route every construction through Put or Unique
// rather than holding fresh instances directly.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Entity
}

// NewCache constructs an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*Entity)}
}

// Put registers entity under its address. The first registration for an
// address wins; later registrations return the cached instance instead.
func (c *Cache) Put(entity *Entity) *Entity {
	if entity == nil || !entity.HasAccount() {
		return entity
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if held, ok := c.entries[entity.Address()]; ok {
		return held
	}
	c.entries[entity.Address()] = entity
	return entity
}

// Get returns the cached entity for address, or nil.
func (c *Cache) Get(address string) *Entity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[address]
}

// Unique reconciles a blind-constructed duplicate whose address was unknown
// until after connect (sign-in). If another instance already holds the
// address, the duplicate's authentication state is merged into the canonical
// instance, which is returned; the caller then disconnects the duplicate.
// Otherwise the entity is cached and returned unchanged.
func (c *Cache) Unique(entity *Entity) (canonical *Entity, duplicate bool) {
	if entity == nil || !entity.HasAccount() {
		return entity, false
	}
	c.mu.Lock()
	held, ok := c.entries[entity.Address()]
	if !ok {
		c.entries[entity.Address()] = entity
		c.mu.Unlock()
		return entity, false
	}
	c.mu.Unlock()
	if held == entity {
		return held, false
	}
	if master := entity.Master(); master != nil && master.Authenticated() {
		held.SetMaster(master)
	}
	return held, true
}

// Drop removes the entity cached under address.
func (c *Cache) Drop(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, address)
}

// All returns every cached entity.
func (c *Cache) All() []*Entity {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Entity, 0, len(c.entries))
	for _, entity := range c.entries {
		out = append(out, entity)
	}
	return out
}

// Len returns the number of cached entities.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
