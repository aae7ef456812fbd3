package entities

import (
	"context"
	"encoding/base64"
	"fmt"

	"podium/internal/core"
	"podium/pkg/domain"
)

// ProfileKind is the display record attached to users and domains. The
// account derives from the profiled entity's address, so a profile needs no
// identifier of its own.
var ProfileKind = selfConstructing(&core.Kind{
	Name: "Profile",
	Seed: func(e *core.Entity) (string, error) {
		parent := e.Parent()
		if parent == nil || !parent.HasAccount() {
			return "", fmt.Errorf("profile requires a bound parent account")
		}
		return "profile-of-" + parent.Address(), nil
	},
	Strategy: func() core.Strategy {
		return core.NewMerged(map[string]any{
			"displayName": "",
			"about":       "",
			"picture":     nil,
			"homepage":    nil,
		}, nil)
	},
	Traits: []core.TraitFactory{NewPictured()},
})

// Pictured manages a profile's picture: raw image payloads in a profile write
// are registered as media before the record lands on the ledger, and the
// Picture attribute tracks the referenced media entity across updates.
type Pictured struct {
	entity *core.Entity
}

// NewPictured builds Pictured trait instances.
func NewPictured() core.TraitFactory {
	return func() core.Trait { return &Pictured{} }
}

// Name implements core.Trait.
func (p *Pictured) Name() string { return "Pictured" }

// Attach implements core.Trait.
func (p *Pictured) Attach(e *core.Entity) error {
	p.entity = e
	e.Attribute("Picture", func(ctx context.Context) (*core.Entity, error) {
		return p.connectPicture(ctx)
	})
	e.On(domain.EventOnChange, func(ctx context.Context, payload domain.EventPayload) error {
		return p.checkPicture(ctx, payload)
	})
	e.On(domain.EventWillWrite, func(ctx context.Context, payload domain.EventPayload) error {
		data, _ := payload.Data.(map[string]any)
		return p.registerPicture(ctx, data)
	})
	e.RegisterAction("Update", func(ctx context.Context, args []any) (any, error) {
		profile, _ := argAt(args, 0).(map[string]any)
		return nil, p.Update(ctx, profile)
	})
	return nil
}

// PicturedOf returns the entity's Pictured trait, or nil.
func PicturedOf(e *core.Entity) *Pictured {
	p, _ := e.Trait("Pictured").(*Pictured)
	return p
}

// Picture returns the connected picture media entity, or nil.
func (p *Pictured) Picture() *core.Entity {
	return p.entity.AttributeEntity("Picture")
}

// connectPicture reads the media entity the record points at. Without a
// stored picture the attribute holds a blank media entity.
func (p *Pictured) connectPicture(ctx context.Context) (*core.Entity, error) {
	owner := p.entity.Parent()
	if owner == nil {
		owner = p.entity
	}
	picture, err := core.NewEntity(p.entity.Realm(), owner, MediaKind)
	if err != nil {
		return nil, err
	}
	address := mergedString(p.entity, "picture")
	if address == "" {
		return picture, nil
	}
	bound := picture.FromAddress(address)
	if err := bound.ReadAll(ctx); err != nil {
		return nil, p.entity.Fail("reading profile picture", address)(err)
	}
	return bound, nil
}

// checkPicture reconnects the Picture attribute when an update moved the
// picture reference.
func (p *Pictured) checkPicture(ctx context.Context, payload domain.EventPayload) error {
	state, _ := payload.State.(map[string]any)
	lastState, _ := payload.LastState.(map[string]any)
	if state == nil {
		return nil
	}
	picture, _ := state["picture"].(string)
	var lastPicture string
	if lastState != nil {
		lastPicture, _ = lastState["picture"].(string)
	}
	if picture == "" || picture == lastPicture {
		return nil
	}
	if err := p.entity.Without(ctx, "Picture"); err != nil {
		return err
	}
	return p.entity.With(ctx, "Picture")
}

// registerPicture intercepts profile writes carrying a raw image: the bytes
// are registered as media and the record keeps only the media address. A
// pictureType field marks the payload as raw content.
func (p *Pictured) registerPicture(ctx context.Context, data map[string]any) error {
	if data == nil {
		return nil
	}
	encoded, _ := data["picture"].(string)
	mediaType, _ := data["pictureType"].(string)
	if encoded == "" || mediaType == "" {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return p.entity.Fail("decoding profile picture")(err)
	}
	owner := p.entity.Parent()
	if owner == nil {
		owner = p.entity
	}
	media, err := core.NewEntity(p.entity.Realm(), owner, MediaKind)
	if err != nil {
		return err
	}
	registered, err := StorableOf(media).RetrieveOrRegister(ctx, raw, mediaType)
	if err != nil {
		return p.entity.Fail("registering profile picture")(err)
	}
	data["picture"] = registered.Address()
	delete(data, "pictureType")
	return nil
}

// Update writes new profile fields.
func (p *Pictured) Update(ctx context.Context, profile map[string]any) error {
	if err := core.Require(p.entity, "update",
		string(core.RequireAccount), string(core.RequireAuthenticated)); err != nil {
		return err
	}
	if err := p.entity.Write(ctx, profile); err != nil {
		return p.entity.Fail("updating profile", profile)(err)
	}
	return nil
}
