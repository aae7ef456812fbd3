package traits

import (
	"context"

	"podium/internal/core"
	"podium/pkg/domain"
)

// Reactable lets other entities react to this one. Reactions accumulate in a
// reaction index account; the fold of their values and biases positions the
// entity in affinity space.
type Reactable struct {
	entity *core.Entity
}

// NewReactable builds Reactable trait instances.
func NewReactable() core.TraitFactory {
	return func() core.Trait { return &Reactable{} }
}

// Name implements core.Trait.
func (r *Reactable) Name() string { return "Reactable" }

// Attach implements core.Trait.
func (r *Reactable) Attach(e *core.Entity) error {
	r.entity = e
	e.Attribute("Reactions", func(ctx context.Context) (*core.Entity, error) {
		index, err := readIndex(ctx, e, ReactionIndexKind)
		if err != nil {
			return nil, e.Fail("reading reactions")(err)
		}
		index.On(domain.EventOnAdd, forwardIndexAtom(e, EventOnReact))
		return index, nil
	})
	return nil
}

// ReactableOf returns the entity's Reactable trait, or nil.
func ReactableOf(e *core.Entity) *Reactable {
	r, _ := e.Trait("Reactable").(*Reactable)
	return r
}

// ReactionIndex returns the connected reaction index entity, or nil.
func (r *Reactable) ReactionIndex() *core.Entity {
	return r.entity.AttributeEntity("Reactions")
}

// Bias folds received reactions into the entity's position in affinity
// space.
func (r *Reactable) Bias() ([]float64, error) {
	if err := core.Require(r.entity, "bias", "Reactions:Connected"); err != nil {
		return nil, err
	}
	steps := IndexedOf(r.ReactionIndex()).Meta()
	return foldBias(steps, r.entity.Realm().Config().Affinity), nil
}
