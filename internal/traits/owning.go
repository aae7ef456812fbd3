package traits

import (
	"context"
	"fmt"

	"podium/internal/core"
	"podium/pkg/domain"
)

// Owning lets an entity hold ownable assets, tracked in an ownables index
// account.
type Owning struct {
	entity *core.Entity
}

// NewOwning builds Owning trait instances.
func NewOwning() core.TraitFactory {
	return func() core.Trait { return &Owning{} }
}

// Name implements core.Trait.
func (o *Owning) Name() string { return "Owning" }

// Attach implements core.Trait.
func (o *Owning) Attach(e *core.Entity) error {
	if e.Is("Ownable") {
		return fmt.Errorf("composition error: cannot be both Owning and Ownable")
	}
	o.entity = e
	e.Attribute("Owned", func(ctx context.Context) (*core.Entity, error) {
		index, err := readIndex(ctx, e, OwnableIndexKind)
		if err != nil {
			return nil, e.Fail("reading ownables")(err)
		}
		index.On(domain.EventOnAdd, forwardIndexAtom(e, EventOnReceiveOwnable))
		index.On(domain.EventOnDelete, forwardIndexAtom(e, EventOnSendOwnable))
		return index, nil
	})
	e.RegisterAction("ClaimOwnable", func(ctx context.Context, args []any) (any, error) {
		kindName := stringArg(args, 0)
		id := stringArg(args, 1)
		claimed, err := o.Claim(ctx, kindName, id)
		if err != nil {
			return nil, err
		}
		return claimed.Address(), nil
	})
	return nil
}

// OwningOf returns the entity's Owning trait, or nil.
func OwningOf(e *core.Entity) *Owning {
	o, _ := e.Trait("Owning").(*Owning)
	return o
}

// OwnedIndex returns the connected ownables index entity, or nil.
func (o *Owning) OwnedIndex() *core.Entity {
	return o.entity.AttributeEntity("Owned")
}

// Owned returns the held asset addresses.
func (o *Owning) Owned() ([]string, error) {
	if err := core.Require(o.entity, "owned", "Owned:Connected"); err != nil {
		return nil, err
	}
	return IndexedOf(o.OwnedIndex()).All(), nil
}

// Claim creates an ownable of the named kind under this entity and takes
// ownership of it.
func (o *Owning) Claim(ctx context.Context, kindName, id string) (*core.Entity, error) {
	if err := core.Require(o.entity, "claim ownable",
		string(core.RequireComplete), string(core.RequireAuthenticated)); err != nil {
		return nil, err
	}
	asset, err := newChild(o.entity, kindName)
	if err != nil {
		return nil, err
	}
	ownable := OwnableOf(asset)
	if ownable == nil {
		return nil, fmt.Errorf("kind %q is not ownable", kindName)
	}
	bound, err := ownable.FromIdentifier(id)
	if err != nil {
		return nil, err
	}
	if err := OwnableOf(bound).Claim(ctx); err != nil {
		return nil, o.entity.Fail("claiming ownable", kindName, id)(err)
	}
	return bound, nil
}
