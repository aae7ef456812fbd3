package traits

import (
	"context"

	"podium/internal/core"
	"podium/pkg/domain"
)

// Profiled gives an entity a profile record in its own account, updated
// through a single action and surfaced as an attribute.
type Profiled struct {
	entity *core.Entity
}

// NewProfiled builds Profiled trait instances.
func NewProfiled() core.TraitFactory {
	return func() core.Trait { return &Profiled{} }
}

// Name implements core.Trait.
func (p *Profiled) Name() string { return "Profiled" }

// Attach implements core.Trait.
func (p *Profiled) Attach(e *core.Entity) error {
	p.entity = e
	e.Attribute("Profile", func(ctx context.Context) (*core.Entity, error) {
		profile, err := newChild(e, "Profile")
		if err != nil {
			return nil, err
		}
		bound, err := profile.FromSeed()
		if err != nil {
			return nil, err
		}
		bound.On(domain.EventOnChange, func(ctx context.Context, payload domain.EventPayload) error {
			return e.Dispatch(ctx, EventOnUpdateProfile, payload.Data)
		})
		if err := bound.ReadAll(ctx); err != nil {
			return nil, e.Fail("reading profile")(err)
		}
		return bound, nil
	})
	e.RegisterAction("UpdateProfile", func(ctx context.Context, args []any) (any, error) {
		return nil, p.UpdateProfile(ctx, mapArg(args, 0))
	})
	return nil
}

// ProfiledOf returns the entity's Profiled trait, or nil.
func ProfiledOf(e *core.Entity) *Profiled {
	p, _ := e.Trait("Profiled").(*Profiled)
	return p
}

// Profile returns the connected profile entity, or nil.
func (p *Profiled) Profile() *core.Entity {
	return p.entity.AttributeEntity("Profile")
}

// DisplayName returns the profile's display name.
func (p *Profiled) DisplayName() (string, error) {
	if err := core.Require(p.entity, "display name", "Profile:Populated"); err != nil {
		return "", err
	}
	return mergedString(p.Profile(), "displayName"), nil
}

// About returns the profile's description.
func (p *Profiled) About() (string, error) {
	if err := core.Require(p.entity, "about", "Profile:Populated"); err != nil {
		return "", err
	}
	return mergedString(p.Profile(), "about"), nil
}

// UpdateProfile writes new profile fields. Picture payloads are handled by
// the profile kind's write hooks.
func (p *Profiled) UpdateProfile(ctx context.Context, profile map[string]any) error {
	if err := core.Require(p.entity, "update profile",
		string(core.RequireAccount), string(core.RequireAuthenticated),
		"Profile:Connected"); err != nil {
		return err
	}
	p.entity.Logger().Debug("updating profile")
	if err := p.Profile().Write(ctx, profile); err != nil {
		return p.entity.Fail("updating profile")(err)
	}
	return nil
}

// mergedString reads a string field from an entity's merged record.
func mergedString(e *core.Entity, key string) string {
	var out string
	e.WithStrategy(func(s core.Strategy) {
		if merged, ok := s.(*core.Merged); ok {
			out = merged.GetString(key)
		}
	})
	return out
}
