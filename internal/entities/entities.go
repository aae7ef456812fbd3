// Package entities defines the concrete kinds a nation is populated with:
// users, aliases, profiles, domains, tokens, posts, and media. Each kind is a
// thin descriptor composing traits; kind-specific behavior lives in a small
// trait owned by this package.
package entities

import (
	"podium/internal/core"
	"podium/internal/traits"
)

// Register installs every concrete kind, the keystore kind, and the index
// kinds into the registry.
func Register(kinds *core.KindRegistry) error {
	all := []*core.Kind{
		UserKind, AliasKind, ProfileKind, DomainKind,
		TokenKind, PostKind, MediaKind,
		traits.KeyStoreKind,
	}
	all = append(all, traits.IndexKinds()...)
	for _, kind := range all {
		if err := kinds.Register(kind); err != nil {
			return err
		}
	}
	return nil
}

// selfConstructing wires the registry constructor every kind in this package
// shares.
func selfConstructing(kind *core.Kind) *core.Kind {
	kind.New = func(realm core.Realm, parent *core.Entity) (*core.Entity, error) {
		return core.NewEntity(realm, parent, kind)
	}
	return kind
}

// authOf returns the master's authenticating trait and its entity, or nils.
func authOf(e *core.Entity) (*traits.Authenticating, *core.Entity) {
	auth, _ := e.Master().(*traits.Authenticating)
	if auth == nil {
		return nil, nil
	}
	return auth, auth.Entity()
}

// mergedField reads a raw field from an entity's merged record.
func mergedField(e *core.Entity, key string) any {
	var out any
	e.WithStrategy(func(s core.Strategy) {
		if merged, ok := s.(*core.Merged); ok {
			out = merged.Get(key)
		}
	})
	return out
}

// mergedString reads a string field from an entity's merged record.
func mergedString(e *core.Entity, key string) string {
	s, _ := mergedField(e, key).(string)
	return s
}

// mergedNumber reads a numeric field from an entity's merged record.
func mergedNumber(e *core.Entity, key string) float64 {
	switch n := mergedField(e, key).(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}
