package traits

import (
	"context"

	"podium/internal/core"
	"podium/pkg/domain"
)

// Following lets an entity follow followable entities, tracked in a
// following index account mirrored against the subject's follower index.
type Following struct {
	entity *core.Entity
}

// NewFollowing builds Following trait instances.
func NewFollowing() core.TraitFactory {
	return func() core.Trait { return &Following{} }
}

// Name implements core.Trait.
func (f *Following) Name() string { return "Following" }

// Attach implements core.Trait.
func (f *Following) Attach(e *core.Entity) error {
	f.entity = e
	e.Attribute("Following", func(ctx context.Context) (*core.Entity, error) {
		index, err := readIndex(ctx, e, FollowingIndexKind)
		if err != nil {
			return nil, e.Fail("reading following")(err)
		}
		index.On(domain.EventOnAdd, forwardIndexAtom(e, EventOnFollow))
		index.On(domain.EventOnDelete, forwardIndexAtom(e, EventOnUnfollow))
		return index, nil
	})
	e.RegisterAction("Follow", func(ctx context.Context, args []any) (any, error) {
		subject, err := entityArg(args, 0)
		if err != nil {
			return nil, err
		}
		return nil, f.Follow(ctx, subject)
	})
	e.RegisterAction("Unfollow", func(ctx context.Context, args []any) (any, error) {
		subject, err := entityArg(args, 0)
		if err != nil {
			return nil, err
		}
		return nil, f.Unfollow(ctx, subject)
	})
	e.Errors().Registerf(8, "following", "subject %s is not followable")
	e.Errors().Registerf(9, "following", "subject %s has no connected follower index")
	e.Errors().Registerf(10, "following", "already following %s, cannot follow")
	e.Errors().Registerf(11, "following", "not following %s, cannot unfollow")
	return nil
}

// FollowingOf returns the entity's Following trait, or nil.
func FollowingOf(e *core.Entity) *Following {
	f, _ := e.Trait("Following").(*Following)
	return f
}

// FollowingIndex returns the connected following index entity, or nil.
func (f *Following) FollowingIndex() *core.Entity {
	return f.entity.AttributeEntity("Following")
}

// Following returns the followed addresses.
func (f *Following) Following() ([]string, error) {
	if err := core.Require(f.entity, "following", "Following:Connected"); err != nil {
		return nil, err
	}
	return IndexedOf(f.FollowingIndex()).All(), nil
}

// IsFollowing reports whether this entity follows subject.
func (f *Following) IsFollowing(subject *core.Entity) (bool, error) {
	if err := core.Require(f.entity, "is following", "Following:Connected"); err != nil {
		return false, err
	}
	return IndexedOf(f.FollowingIndex()).Has(subject.Address()), nil
}

// Follow writes mirrored index entries: the subject into this entity's
// following index and this entity into the subject's follower index. The two
// writes are joined; a partial failure leaves the indexes reconcilable from
// the ledger.
func (f *Following) Follow(ctx context.Context, subject *core.Entity) error {
	if err := core.Require(f.entity, "follow",
		string(core.RequireConnected), string(core.RequireAuthenticated),
		"Following:Connected"); err != nil {
		return err
	}
	if !subject.Is("Followable") {
		return f.entity.Exception(8, subject.Label())
	}
	followers := subject.AttributeEntity("Followers")
	if followers == nil || !followers.Connected() {
		return f.entity.Exception(9, subject.Label())
	}
	following := IndexedOf(f.FollowingIndex())
	if following.Has(subject.Address()) {
		return f.entity.Exception(10, subject.Label())
	}

	master := f.entity.Master()
	err := joinWrites(ctx,
		func(ctx context.Context) error {
			return following.Add(ctx, subject, nil, master)
		},
		func(ctx context.Context) error {
			return IndexedOf(followers).Add(ctx, f.entity, nil, master)
		},
	)
	if err != nil {
		return f.entity.Fail("following", subject)(err)
	}

	f.entity.Realm().Alert(ctx, "follow", map[string]any{
		"subject": subject.Address(),
		"by":      f.entity.Address(),
	})
	return nil
}

// Unfollow removes the mirrored index entries written by Follow.
func (f *Following) Unfollow(ctx context.Context, subject *core.Entity) error {
	if err := core.Require(f.entity, "unfollow",
		string(core.RequireConnected), string(core.RequireAuthenticated),
		"Following:Connected"); err != nil {
		return err
	}
	followers := subject.AttributeEntity("Followers")
	if followers == nil || !followers.Connected() {
		return f.entity.Exception(9, subject.Label())
	}
	following := IndexedOf(f.FollowingIndex())
	if !following.Has(subject.Address()) {
		return f.entity.Exception(11, subject.Label())
	}

	master := f.entity.Master()
	err := joinWrites(ctx,
		func(ctx context.Context) error {
			return following.Delete(ctx, subject, master)
		},
		func(ctx context.Context) error {
			return IndexedOf(followers).Delete(ctx, f.entity, master)
		},
	)
	if err != nil {
		return f.entity.Fail("unfollowing", subject)(err)
	}

	f.entity.Realm().Alert(ctx, "unfollow", map[string]any{
		"subject": subject.Address(),
		"by":      f.entity.Address(),
	})
	return nil
}
