package traits

import (
	"context"
	"fmt"

	"podium/internal/core"
	"podium/pkg/domain"
)

// PostContent is the raw material of a new post before markup.
type PostContent struct {
	Text  string           `json:"text"`
	Media []map[string]any `json:"media,omitempty"`
}

// Composer is implemented by the post kind's composing trait. Posting and
// Respondable delegate authoring to it so the trait layer never depends on
// concrete kinds.
type Composer interface {
	core.Trait
	Compose(ctx context.Context, content PostContent, tokenSymbol string) error
}

// composerOf finds a Composer among the entity's traits.
func composerOf(e *core.Entity) Composer {
	for _, name := range e.Traits() {
		if c, ok := e.Trait(name).(Composer); ok {
			return c
		}
	}
	return nil
}

// Posting lets an entity author top-level posts, tracked in a post index
// account.
type Posting struct {
	entity *core.Entity
}

// NewPosting builds Posting trait instances.
func NewPosting() core.TraitFactory {
	return func() core.Trait { return &Posting{} }
}

// Name implements core.Trait.
func (p *Posting) Name() string { return "Posting" }

// Attach implements core.Trait.
func (p *Posting) Attach(e *core.Entity) error {
	p.entity = e
	e.Attribute("Posts", func(ctx context.Context) (*core.Entity, error) {
		index, err := readIndex(ctx, e, PostIndexKind)
		if err != nil {
			return nil, e.Fail("reading posts")(err)
		}
		index.On(domain.EventOnAdd, forwardIndexAtom(e, EventOnPost))
		return index, nil
	})
	e.RegisterAction("Author", func(ctx context.Context, args []any) (any, error) {
		content := PostContent{Text: stringArg(args, 0)}
		post, err := p.Author(ctx, content, stringArg(args, 1))
		if err != nil {
			return nil, err
		}
		return post.Address(), nil
	})
	return nil
}

// PostingOf returns the entity's Posting trait, or nil.
func PostingOf(e *core.Entity) *Posting {
	p, _ := e.Trait("Posting").(*Posting)
	return p
}

// PostIndex returns the connected post index entity, or nil.
func (p *Posting) PostIndex() *core.Entity {
	return p.entity.AttributeEntity("Posts")
}

// PostCount returns the number of posts authored so far.
func (p *Posting) PostCount() (int, error) {
	if err := core.Require(p.entity, "post count", "Posts:Complete"); err != nil {
		return 0, err
	}
	return IndexedOf(p.PostIndex()).Size(), nil
}

// HasPost reports whether address is one of this entity's posts.
func (p *Posting) HasPost(address string) (bool, error) {
	if err := core.Require(p.entity, "has post", "Posts:Connected"); err != nil {
		return false, err
	}
	return IndexedOf(p.PostIndex()).Has(address), nil
}

// Author composes a new top-level post, paying for it in tokenSymbol.
func (p *Posting) Author(ctx context.Context, content PostContent, tokenSymbol string) (*core.Entity, error) {
	if err := core.Require(p.entity, "author",
		string(core.RequireComplete), string(core.RequireAuthenticated)); err != nil {
		return nil, err
	}
	post, err := newChild(p.entity, "Post")
	if err != nil {
		return nil, err
	}
	composer := composerOf(post)
	if composer == nil {
		return nil, fmt.Errorf("post kind has no composing trait")
	}
	if err := composer.Compose(ctx, content, tokenSymbol); err != nil {
		return nil, p.entity.Fail("writing post", content.Text, tokenSymbol)(err)
	}
	return post, nil
}
