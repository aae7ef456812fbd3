package traits

import "podium/internal/core"

// Governing marks an entity as the root of a governed domain: entities
// created beneath it inherit it as their governing root, which is where
// token treasuries and reaction rewards resolve.
type Governing struct {
	entity *core.Entity
}

// NewGoverning builds Governing trait instances.
func NewGoverning() core.TraitFactory {
	return func() core.Trait { return &Governing{} }
}

// Name implements core.Trait.
func (g *Governing) Name() string { return "Governing" }

// Attach implements core.Trait.
func (g *Governing) Attach(e *core.Entity) error {
	g.entity = e
	e.SetGoverningRoot(e)
	return nil
}
