package entities

import (
	"context"

	"golang.org/x/sync/errgroup"

	"podium/internal/core"
	"podium/internal/traits"
)

// DomainKind is a governed space: it issues the tokens its content is priced
// and rewarded in, carries a profile, and is claimable like any ownable
// asset. Entities created beneath a domain inherit it as their governing
// root.
var DomainKind = selfConstructing(&core.Kind{
	Name:     "Domain",
	Seed:     traits.OwnableSeed("domain"),
	Strategy: func() core.Strategy { return core.NewMerged(nil, nil) },
	Traits: []core.TraitFactory{
		traits.NewGoverning(),
		traits.NewEconomic(),
		traits.NewOwnable("//"),
		traits.NewProfiled(),
		NewFounding(),
	},
})

// TokenGrant describes one token a new domain issues on creation.
type TokenGrant struct {
	Designation map[string]any `yaml:"designation" json:"designation"`
	SeedVolume  float64        `yaml:"seedVolume" json:"seedVolume"`
	Config      map[string]any `yaml:"config" json:"config"`
}

// Founding creates new domains: the identifier is claimed and the domain's
// tokens are issued in one combined setup.
type Founding struct {
	entity *core.Entity
}

// NewFounding builds Founding trait instances.
func NewFounding() core.TraitFactory {
	return func() core.Trait { return &Founding{} }
}

// Name implements core.Trait.
func (f *Founding) Name() string { return "Founding" }

// Attach implements core.Trait.
func (f *Founding) Attach(e *core.Entity) error {
	f.entity = e
	e.RegisterAction("Create", func(ctx context.Context, args []any) (any, error) {
		id, _ := argAt(args, 0).(string)
		grants := grantsArg(argAt(args, 1))
		if err := f.Create(ctx, id, grants); err != nil {
			return nil, err
		}
		return e.Address(), nil
	})
	return nil
}

// FoundingOf returns the entity's Founding trait, or nil.
func FoundingOf(e *core.Entity) *Founding {
	f, _ := e.Trait("Founding").(*Founding)
	return f
}

// Create claims the domain identifier and issues its tokens.
func (f *Founding) Create(ctx context.Context, id string, tokens []TokenGrant) error {
	if err := core.Require(f.entity, "create",
		string(core.RequireBlank), string(core.RequireAuthenticated)); err != nil {
		return err
	}
	ownable := traits.OwnableOf(f.entity)
	f.entity.Logger().Debug("creating domain", "id", id)

	bound, err := ownable.FromIdentifier(id)
	if err != nil {
		return err
	}
	if err := bound.ReadAll(ctx); err != nil {
		return f.entity.Fail("reading domain", id)(err)
	}
	if err := ownable.Claim(ctx); err != nil {
		return err
	}

	ec := traits.EconomicOf(f.entity)
	g, gctx := errgroup.WithContext(ctx)
	for _, grant := range tokens {
		grant := grant
		g.Go(func() error {
			_, err := ec.IssueToken(gctx, grant.Designation, grant.SeedVolume, grant.Config)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return f.entity.Fail("creating domain", id)(err)
	}

	f.entity.Realm().Alert(ctx, "register", map[string]any{
		"kind":    "domain",
		"term":    id,
		"address": bound.Address(),
	})
	return nil
}

// grantsArg coerces a client-supplied token grant list.
func grantsArg(v any) []TokenGrant {
	items, _ := v.([]any)
	grants := make([]TokenGrant, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		grant := TokenGrant{}
		grant.Designation, _ = m["designation"].(map[string]any)
		grant.SeedVolume, _ = toNumber(m["seedVolume"])
		grant.Config, _ = m["config"].(map[string]any)
		grants = append(grants, grant)
	}
	return grants
}
