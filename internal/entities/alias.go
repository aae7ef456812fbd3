package entities

import (
	"podium/internal/core"
	"podium/internal/traits"
)

// AliasKind is the claimable name asset backing user handles. An alias
// account is derived from the handle itself, so availability is a public
// emptiness check; the record's owner field points back at the holder.
var AliasKind = selfConstructing(&core.Kind{
	Name:     "Alias",
	Seed:     traits.OwnableSeed("alias"),
	Strategy: func() core.Strategy { return core.NewMerged(nil, nil) },
	Traits:   []core.TraitFactory{traits.NewOwnable("@")},
})
