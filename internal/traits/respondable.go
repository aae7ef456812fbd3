package traits

import (
	"context"
	"fmt"

	"podium/internal/core"
	"podium/pkg/domain"
)

// Respondable lets an entity receive replies, tracked in a reply index
// account. A reply is a post whose parent is this entity.
type Respondable struct {
	entity *core.Entity
}

// NewRespondable builds Respondable trait instances.
func NewRespondable() core.TraitFactory {
	return func() core.Trait { return &Respondable{} }
}

// Name implements core.Trait.
func (r *Respondable) Name() string { return "Respondable" }

// Attach implements core.Trait.
func (r *Respondable) Attach(e *core.Entity) error {
	r.entity = e
	e.Attribute("Replies", func(ctx context.Context) (*core.Entity, error) {
		index, err := readIndex(ctx, e, ReplyIndexKind)
		if err != nil {
			return nil, e.Fail("reading replies")(err)
		}
		index.On(domain.EventOnAdd, forwardIndexAtom(e, EventOnReply))
		return index, nil
	})
	e.RegisterAction("Reply", func(ctx context.Context, args []any) (any, error) {
		content := PostContent{Text: stringArg(args, 0)}
		post, err := r.Reply(ctx, content, stringArg(args, 1))
		if err != nil {
			return nil, err
		}
		return post.Address(), nil
	})
	return nil
}

// RespondableOf returns the entity's Respondable trait, or nil.
func RespondableOf(e *core.Entity) *Respondable {
	r, _ := e.Trait("Respondable").(*Respondable)
	return r
}

// ReplyIndex returns the connected reply index entity, or nil.
func (r *Respondable) ReplyIndex() *core.Entity {
	return r.entity.AttributeEntity("Replies")
}

// Reply composes a new post under this entity. The post derives its
// parentage from its parent being a post.
func (r *Respondable) Reply(ctx context.Context, content PostContent, tokenSymbol string) (*core.Entity, error) {
	if err := core.Require(r.entity, "reply",
		string(core.RequireAccount), string(core.RequireAuthenticated)); err != nil {
		return nil, err
	}
	post, err := newChild(r.entity, "Post")
	if err != nil {
		return nil, err
	}
	composer := composerOf(post)
	if composer == nil {
		return nil, fmt.Errorf("post kind has no composing trait")
	}
	if err := composer.Compose(ctx, content, tokenSymbol); err != nil {
		return nil, r.entity.Fail("writing reply", content.Text)(err)
	}
	return post, nil
}
