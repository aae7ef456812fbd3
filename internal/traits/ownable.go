package traits

import (
	"context"
	"fmt"
	"sync"

	"podium/internal/core"
)

// Ownable makes an entity a claimable, transferable asset. Its account is
// derived from a public identifier, so anyone can check whether the asset is
// taken; the record's owner field names the holder.
type Ownable struct {
	entity *core.Entity

	mu     sync.Mutex
	id     string
	markup string
}

// NewOwnable builds Ownable trait instances. markup prefixes the identifier
// in labels ("@" for aliases, "//" for domains).
func NewOwnable(markup string) core.TraitFactory {
	return func() core.Trait { return &Ownable{markup: markup} }
}

// Name implements core.Trait.
func (o *Ownable) Name() string { return "Ownable" }

// Attach implements core.Trait.
func (o *Ownable) Attach(e *core.Entity) error {
	if e.Is("Owning") {
		return fmt.Errorf("composition error: cannot be both Owning and Ownable")
	}
	o.entity = e
	e.RegisterAction("Claim", func(ctx context.Context, _ []any) (any, error) {
		return nil, o.Claim(ctx)
	})
	e.RegisterAction("Transfer", func(ctx context.Context, args []any) (any, error) {
		recipient, err := entityArg(args, 0)
		if err != nil {
			return nil, err
		}
		return nil, o.Transfer(ctx, recipient)
	})
	e.Errors().Registerf(17, "ownable", "%s is already owned, cannot claim")
	e.Errors().Registerf(18, "ownable", "cannot transfer to entity of kind %q")
	e.Errors().Register(19, "ownable", "transferring account is not the owner")
	return nil
}

// OwnableOf returns the entity's Ownable trait, or nil.
func OwnableOf(e *core.Entity) *Ownable {
	o, _ := e.Trait("Ownable").(*Ownable)
	return o
}

// OwnableSeed builds a seed derivation for ownable kinds: the prefix joined
// with the public identifier.
func OwnableSeed(prefix string) func(e *core.Entity) (string, error) {
	return func(e *core.Entity) (string, error) {
		o := OwnableOf(e)
		if o == nil {
			return "", fmt.Errorf("kind %s does not compose Ownable", e.Name())
		}
		id := o.ID()
		if id == "" {
			return "", fmt.Errorf("ownable %s requires an identifier before binding", e.Name())
		}
		return fmt.Sprintf("%s-%s", prefix, id), nil
	}
}

// ID returns the public identifier, falling back to the record once atoms
// arrive.
func (o *Ownable) ID() string {
	o.mu.Lock()
	id := o.id
	o.mu.Unlock()
	if id != "" {
		return id
	}
	o.entity.WithStrategy(func(s core.Strategy) {
		if merged, ok := s.(*core.Merged); ok {
			id = merged.GetString("id")
		}
	})
	return id
}

// Label renders the identifier with the kind's markup prefix.
func (o *Ownable) Label() string {
	return fmt.Sprintf("%s:%s%s", o.entity.Name(), o.markup, o.ID())
}

// FromIdentifier binds the account derived from the public identifier.
func (o *Ownable) FromIdentifier(id string) (*core.Entity, error) {
	o.mu.Lock()
	o.id = id
	o.mu.Unlock()
	return o.entity.FromSeed()
}

// Owned reports whether the asset has been claimed.
func (o *Ownable) Owned() (bool, error) {
	if err := core.Require(o.entity, "owned", string(core.RequireConnected)); err != nil {
		return false, err
	}
	return !o.entity.Empty(), nil
}

// Owner returns the holder's address.
func (o *Ownable) Owner() (string, error) {
	if err := core.Require(o.entity, "owner", string(core.RequireComplete)); err != nil {
		return "", err
	}
	var owner string
	o.entity.WithStrategy(func(s core.Strategy) {
		if merged, ok := s.(*core.Merged); ok {
			owner = merged.GetString("owner")
		}
	})
	return owner, nil
}

// Mine reports whether the entity's master holds the asset.
func (o *Ownable) Mine() (bool, error) {
	owner, err := o.Owner()
	if err != nil {
		return false, err
	}
	master := o.entity.Master()
	if master == nil {
		return false, nil
	}
	return master.Identity().Account.Address == owner, nil
}

// Claim takes ownership of an unowned asset: the ownership record and the
// owner's index entry are written together.
func (o *Ownable) Claim(ctx context.Context) error {
	if err := core.Require(o.entity, "claim",
		string(core.RequireAccount), string(core.RequireAuthenticated)); err != nil {
		return err
	}
	if !o.entity.Complete() {
		if err := o.entity.ReadAll(ctx); err != nil {
			return err
		}
	}
	if owned, err := o.Owned(); err != nil {
		return err
	} else if owned {
		return o.entity.Exception(17, o.Label())
	}

	master := o.entity.Master()
	writes := []func(ctx context.Context) error{
		func(ctx context.Context) error {
			return o.entity.Write(ctx, map[string]any{
				"id":    o.ID(),
				"owner": master.Identity().Account.Address,
			})
		},
	}
	if owned := o.ownedIndexOfMaster(ctx); owned != nil {
		writes = append(writes, func(ctx context.Context) error {
			return owned.Add(ctx, o.entity, nil, master)
		})
	}
	if err := joinWrites(ctx, writes...); err != nil {
		return o.entity.Fail("claiming ownership", o.ID())(err)
	}
	return nil
}

// Transfer hands the asset to an Owning recipient: the ownership record is
// rewritten and both owners' indexes are updated.
func (o *Ownable) Transfer(ctx context.Context, recipient *core.Entity) error {
	if err := core.Require(o.entity, "transfer",
		string(core.RequireAuthenticated)); err != nil {
		return err
	}
	if !recipient.Is("Owning") {
		return o.entity.Exception(18, recipient.Name())
	}
	master := o.entity.Master()
	if master.Identity().Account.Address == recipient.Address() {
		return nil
	}
	if err := recipient.ReadWith(ctx, "Owned"); err != nil {
		return err
	}
	if mine, err := o.Mine(); err != nil {
		return err
	} else if !mine {
		return o.entity.Exception(19)
	}

	writes := []func(ctx context.Context) error{
		func(ctx context.Context) error {
			return o.entity.Write(ctx, map[string]any{"owner": recipient.Address()})
		},
		func(ctx context.Context) error {
			recipientIndex := IndexedOf(recipient.AttributeEntity("Owned"))
			return recipientIndex.Add(ctx, o.entity, nil, master)
		},
	}
	if owned := o.ownedIndexOfMaster(ctx); owned != nil {
		writes = append(writes, func(ctx context.Context) error {
			return owned.Delete(ctx, o.entity, master)
		})
	}
	if err := joinWrites(ctx, writes...); err != nil {
		return o.entity.Fail("transferring ownership", recipient)(err)
	}
	return nil
}

// ownedIndexOfMaster resolves the master entity's Owned index, connecting it
// when needed. Masters without the Owning trait have none.
func (o *Ownable) ownedIndexOfMaster(ctx context.Context) *Indexed {
	owner := masterEntity(o.entity)
	if owner == nil || !owner.Is("Owning") {
		return nil
	}
	if owner.AttributeEntity("Owned") == nil {
		if err := owner.With(ctx, "Owned"); err != nil {
			return nil
		}
	}
	return IndexedOf(owner.AttributeEntity("Owned"))
}
