package entities

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"podium/internal/core"
	"podium/internal/traits"
)

// UserKind is the member entity: it signs its own writes, owns assets, holds
// a wallet, reacts, posts, follows, and carries a profile. User accounts are
// bound by identity address, never by seed.
var UserKind = selfConstructing(&core.Kind{
	Name:     "User",
	Strategy: func() core.Strategy { return core.NewMerged(nil, nil) },
	Traits: []core.TraitFactory{
		traits.NewAuthenticating(),
		traits.NewOwning(),
		traits.NewTransacting(),
		traits.NewReactive(),
		traits.NewPosting(),
		traits.NewFollowing(),
		traits.NewFollowable(),
		traits.NewProfiled(),
		NewRegistering(),
	},
})

// Registering creates new users: it generates the identity, claims the
// chosen alias, and persists the keystore in one combined setup. It also
// surfaces the claimed alias as an attribute.
type Registering struct {
	entity *core.Entity

	mu    sync.Mutex
	alias string
}

// NewRegistering builds Registering trait instances.
func NewRegistering() core.TraitFactory {
	return func() core.Trait { return &Registering{} }
}

// Name implements core.Trait.
func (r *Registering) Name() string { return "Registering" }

// Attach implements core.Trait.
func (r *Registering) Attach(e *core.Entity) error {
	r.entity = e
	e.Attribute("Alias", func(ctx context.Context) (*core.Entity, error) {
		return r.connectAlias(ctx)
	})
	e.RegisterAction("Create", func(ctx context.Context, args []any) (any, error) {
		alias, _ := argAt(args, 0).(string)
		passphrase, _ := argAt(args, 1).(string)
		if err := r.Create(ctx, alias, passphrase); err != nil {
			return nil, err
		}
		return e.Address(), nil
	})
	return nil
}

// RegisteringOf returns the entity's Registering trait, or nil.
func RegisteringOf(e *core.Entity) *Registering {
	r, _ := e.Trait("Registering").(*Registering)
	return r
}

// Alias returns the connected alias entity, or nil.
func (r *Registering) Alias() *core.Entity {
	return r.entity.AttributeEntity("Alias")
}

// AliasName returns the user's handle, falling back to the stored record.
func (r *Registering) AliasName() string {
	r.mu.Lock()
	alias := r.alias
	r.mu.Unlock()
	if alias != "" {
		return alias
	}
	return mergedString(r.entity, "alias")
}

// connectAlias reads the alias account the user's record points at.
func (r *Registering) connectAlias(ctx context.Context) (*core.Entity, error) {
	id := r.AliasName()
	if id == "" {
		return nil, fmt.Errorf("user %s has no alias recorded", r.entity.Label())
	}
	alias, err := core.NewEntity(r.entity.Realm(), r.entity, AliasKind)
	if err != nil {
		return nil, err
	}
	bound, err := traits.OwnableOf(alias).FromIdentifier(id)
	if err != nil {
		return nil, err
	}
	if err := bound.ReadAll(ctx); err != nil {
		return nil, r.entity.Fail("reading alias", id)(err)
	}
	return bound, nil
}

// FromAlias binds the user account holding a claimed alias.
func (r *Registering) FromAlias(alias *core.Entity) (*core.Entity, error) {
	if err := core.Require(r.entity, "from alias", string(core.RequireBlank)); err != nil {
		return nil, err
	}
	if !alias.Connected() {
		return nil, fmt.Errorf("alias %s is not connected", alias.Label())
	}
	if alias.Empty() {
		return nil, fmt.Errorf("alias %s is unclaimed", alias.Label())
	}
	owner, err := traits.OwnableOf(alias).Owner()
	if err != nil {
		return nil, err
	}
	r.entity.Logger().Debug("retrieving user from alias", "alias", traits.OwnableOf(alias).Label())
	return r.entity.FromAddress(owner), nil
}

// Create registers a new member: a fresh identity is generated and connected,
// the chosen alias is checked for availability, and the user record, saved
// keystore, and alias claim are written together.
func (r *Registering) Create(ctx context.Context, alias, passphrase string) error {
	if err := core.Require(r.entity, "create", string(core.RequireBlank)); err != nil {
		return err
	}
	auth := traits.AuthenticatingOf(r.entity)
	if auth == nil {
		return fmt.Errorf("user kind does not authenticate")
	}
	r.entity.Logger().Debug("creating user", "alias", alias)

	r.mu.Lock()
	r.alias = alias
	r.mu.Unlock()

	if err := auth.WithNew(ctx, alias, passphrase); err != nil {
		return r.entity.Fail("authenticating new user", alias)(err)
	}
	aliasEntity := r.Alias()
	if aliasEntity == nil {
		if err := r.entity.With(ctx, "Alias"); err != nil {
			return err
		}
		aliasEntity = r.Alias()
	}
	if !aliasEntity.Empty() {
		return fmt.Errorf("alias %q is not available", alias)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.entity.Write(gctx, map[string]any{"alias": alias}) })
	g.Go(func() error { return auth.Save(gctx) })
	g.Go(func() error { return traits.OwnableOf(aliasEntity).Claim(gctx) })
	if err := g.Wait(); err != nil {
		return r.entity.Fail("writing user support data", alias)(err)
	}

	r.entity.Realm().Alert(ctx, "register", map[string]any{
		"kind":    "user",
		"term":    alias,
		"address": r.entity.Address(),
	})
	r.entity.Logger().Debug("created user", "alias", alias)
	return nil
}
