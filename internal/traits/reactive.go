package traits

import (
	"context"
	"math/rand"

	"podium/internal/core"
	"podium/pkg/domain"
)

// Reactive lets an entity react to reactable content. Its own reactions
// accumulate in a bias index account whose fold positions the entity in
// affinity space; each reaction may faucet configured token rewards.
type Reactive struct {
	entity *core.Entity
}

// NewReactive builds Reactive trait instances.
func NewReactive() core.TraitFactory {
	return func() core.Trait { return &Reactive{} }
}

// Name implements core.Trait.
func (r *Reactive) Name() string { return "Reactive" }

// Attach implements core.Trait.
func (r *Reactive) Attach(e *core.Entity) error {
	r.entity = e
	e.Attribute("Bias", func(ctx context.Context) (*core.Entity, error) {
		index, err := readIndex(ctx, e, BiasIndexKind)
		if err != nil {
			return nil, e.Fail("reading bias")(err)
		}
		return index, nil
	})
	e.RegisterAction("React", func(ctx context.Context, args []any) (any, error) {
		target, err := entityArg(args, 0)
		if err != nil {
			return nil, err
		}
		return r.React(ctx, target, numberArg(args, 1))
	})
	e.On(domain.EventDidCreate, func(ctx context.Context, _ domain.EventPayload) error {
		return r.initializeBias(ctx)
	})
	e.Errors().Registerf(26, "reactive", "cannot react to entity %s (requires the Reactable trait)")
	e.Errors().Registerf(27, "reactive", "cannot calculate affinity with %s (requires the Reactive trait)")
	e.Errors().Registerf(28, "reactive", "cannot calculate affinity of unloaded entity %s")
	e.Errors().Registerf(29, "reactive", "invalid reaction value %v (must be between -1 and 1, exclusive)")
	return nil
}

// ReactiveOf returns the entity's Reactive trait, or nil.
func ReactiveOf(e *core.Entity) *Reactive {
	r, _ := e.Trait("Reactive").(*Reactive)
	return r
}

// BiasIndex returns the connected bias index entity, or nil.
func (r *Reactive) BiasIndex() *core.Entity {
	return r.entity.AttributeEntity("Bias")
}

// Bias folds the entity's reaction history into its position in affinity
// space.
func (r *Reactive) Bias() ([]float64, error) {
	if err := core.Require(r.entity, "bias", "Bias:Connected"); err != nil {
		return nil, err
	}
	steps := IndexedOf(r.BiasIndex()).Meta()
	return foldBias(steps, r.entity.Realm().Config().Affinity), nil
}

// Affinity measures how close this entity sits to target in affinity space.
func (r *Reactive) Affinity(target *core.Entity) (float64, error) {
	if err := core.Require(r.entity, "affinity", string(core.RequireComplete)); err != nil {
		return 0, err
	}
	if !target.Complete() {
		return 0, r.entity.Exception(28, target.Label())
	}
	other := ReactiveOf(target)
	if other == nil {
		return 0, r.entity.Exception(27, target.Label())
	}
	mine, err := r.Bias()
	if err != nil {
		return 0, err
	}
	theirs, err := other.Bias()
	if err != nil {
		return 0, err
	}
	return affinity(mine, theirs), nil
}

// initializeBias seeds the bias index with a randomized position, run on the
// entity's first write.
func (r *Reactive) initializeBias(ctx context.Context) error {
	if r.BiasIndex() == nil {
		if err := r.entity.With(ctx, "Bias"); err != nil {
			return err
		}
	}
	params := r.entity.Realm().Config().Affinity.Normalized()
	bias := make([]float64, params.Dimensionality)
	for i := range bias {
		bias[i] = rand.Float64()*2 - 1
	}
	r.entity.Logger().Debug("initializing bias")
	return IndexedOf(r.BiasIndex()).Add(ctx, r.entity, map[string]any{
		"value": 1.0,
		"bias":  bias,
	}, nil)
}

// React writes a symmetric pair of records: the reaction into the target's
// reaction index and the step into this entity's own bias index, then faucets
// any configured token rewards. Returns the rewards paid by symbol.
func (r *Reactive) React(ctx context.Context, target *core.Entity, value float64) (map[string]float64, error) {
	if err := core.Require(r.entity, "react",
		string(core.RequireAccount), string(core.RequireAuthenticated)); err != nil {
		return nil, err
	}
	reactable := ReactableOf(target)
	if reactable == nil {
		return nil, r.entity.Exception(26, target.Label())
	}
	if value == 0 || value >= 1.0 || value <= -1.0 {
		return nil, r.entity.Exception(29, value)
	}
	if reactable.ReactionIndex() == nil {
		if err := target.With(ctx, "Reactions"); err != nil {
			return nil, err
		}
	}
	if r.BiasIndex() == nil {
		if err := r.entity.With(ctx, "Bias"); err != nil {
			return nil, err
		}
	}
	r.entity.Logger().Debug("reacting", "target", target.Label(), "value", value)

	mine, err := r.Bias()
	if err != nil {
		return nil, err
	}
	theirs, err := reactable.Bias()
	if err != nil {
		return nil, err
	}

	master := r.entity.Master()
	rewards := r.entity.Realm().Config().ReactionRewards
	writes := []func(ctx context.Context) error{
		func(ctx context.Context) error {
			return IndexedOf(reactable.ReactionIndex()).Add(ctx, r.entity, map[string]any{
				"value": value,
				"bias":  mine,
			}, master)
		},
		func(ctx context.Context) error {
			return IndexedOf(r.BiasIndex()).Add(ctx, target, map[string]any{
				"value": value,
				"bias":  theirs,
			}, master)
		},
	}
	paid := make(map[string]float64, len(rewards))
	for symbol, amount := range rewards {
		if amount <= 0 {
			continue
		}
		symbol, amount := symbol, amount
		paid[symbol] = amount
		writes = append(writes, func(ctx context.Context) error {
			return r.faucet(ctx, symbol, amount)
		})
	}
	if err := joinWrites(ctx, writes...); err != nil {
		return nil, r.entity.Fail("reacting", target)(err)
	}
	return paid, nil
}

// faucet pays a reward from the governing root's treasury. Entities outside
// a governed domain earn nothing.
func (r *Reactive) faucet(ctx context.Context, symbol string, amount float64) error {
	root := r.entity.GoverningRoot()
	if root == nil {
		return nil
	}
	treasurer := root.Master()
	if treasurer == nil || !treasurer.Authenticated() {
		return nil
	}
	return r.entity.Realm().Ledger().StoreTransaction(
		ctx, treasurer.Identity(), r.entity.Account(), symbol, amount,
		map[string]any{"for": "reaction", "subject": r.entity.Address()},
	)
}
