package traits

import (
	"context"

	"podium/internal/core"
	"podium/pkg/domain"
)

// Followable lets other entities follow this one through a follower index
// account.
type Followable struct {
	entity *core.Entity
}

// NewFollowable builds Followable trait instances.
func NewFollowable() core.TraitFactory {
	return func() core.Trait { return &Followable{} }
}

// Name implements core.Trait.
func (f *Followable) Name() string { return "Followable" }

// Attach implements core.Trait.
func (f *Followable) Attach(e *core.Entity) error {
	f.entity = e
	e.Attribute("Followers", func(ctx context.Context) (*core.Entity, error) {
		index, err := readIndex(ctx, e, FollowerIndexKind)
		if err != nil {
			return nil, e.Fail("reading followers")(err)
		}
		index.On(domain.EventOnAdd, forwardIndexAtom(e, EventOnFollowed))
		index.On(domain.EventOnDelete, forwardIndexAtom(e, EventOnUnfollowed))
		return index, nil
	})
	return nil
}

// FollowableOf returns the entity's Followable trait, or nil.
func FollowableOf(e *core.Entity) *Followable {
	f, _ := e.Trait("Followable").(*Followable)
	return f
}

// FollowerIndex returns the connected follower index entity, or nil.
func (f *Followable) FollowerIndex() *core.Entity {
	return f.entity.AttributeEntity("Followers")
}

// Followers returns the follower addresses.
func (f *Followable) Followers() ([]string, error) {
	if err := core.Require(f.entity, "followers", "Followers:Connected"); err != nil {
		return nil, err
	}
	return IndexedOf(f.FollowerIndex()).All(), nil
}

// HasFollower reports whether address follows this entity.
func (f *Followable) HasFollower(address string) (bool, error) {
	if err := core.Require(f.entity, "has follower", "Followers:Connected"); err != nil {
		return false, err
	}
	return IndexedOf(f.FollowerIndex()).Has(address), nil
}
