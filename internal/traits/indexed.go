package traits

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"podium/internal/core"
)

// Indexed gives an entity the index query and write surface over the Indexed
// strategy: an ordered set of addresses with per-address metadata. Index
// atoms carry an address, an optional meta map, and an exclude flag marking
// removal entries.
type Indexed struct {
	entity   *core.Entity
	contents string // kind name of indexed entities, "" accepts any
}

// NewIndexed builds Indexed trait instances for an index of contents-kind
// entities.
func NewIndexed(contents string) core.TraitFactory {
	return func() core.Trait { return &Indexed{contents: contents} }
}

// Name implements core.Trait.
func (x *Indexed) Name() string { return "Indexed" }

// Attach implements core.Trait.
func (x *Indexed) Attach(e *core.Entity) error {
	x.entity = e
	if _, ok := e.Strategy().(*core.Indexed); !ok {
		e.SetStrategy(core.NewIndexed())
	}
	e.Errors().Registerf(13, "index", "%s not found in index")
	e.Errors().Registerf(14, "index", "cannot relate %q entity to an index of %q")
	e.Errors().Registerf(15, "index", "entity %s already in index, cannot add")
	e.Errors().Registerf(16, "index", "entity %s not found in index, cannot delete")
	return nil
}

// IndexedOf returns the entity's Indexed trait, or nil.
func IndexedOf(e *core.Entity) *Indexed {
	x, _ := e.Trait("Indexed").(*Indexed)
	return x
}

// Contents returns the kind name this index relates to.
func (x *Indexed) Contents() string { return x.contents }

// All returns the indexed addresses in insertion order.
func (x *Indexed) All() []string {
	var out []string
	x.entity.WithStrategy(func(s core.Strategy) {
		out = s.(*core.Indexed).All()
	})
	return out
}

// Size returns the number of indexed addresses.
func (x *Indexed) Size() int {
	var n int
	x.entity.WithStrategy(func(s core.Strategy) {
		n = s.(*core.Indexed).Size()
	})
	return n
}

// Has reports whether address is indexed.
func (x *Indexed) Has(address string) bool {
	var held bool
	x.entity.WithStrategy(func(s core.Strategy) {
		held = s.(*core.Indexed).Has(address)
	})
	return held
}

// MetaOf returns the metadata stored for address, or nil.
func (x *Indexed) MetaOf(address string) map[string]any {
	var meta map[string]any
	x.entity.WithStrategy(func(s core.Strategy) {
		meta = s.(*core.Indexed).Meta(address)
	})
	return meta
}

// Meta returns every entry's metadata in index order.
func (x *Indexed) Meta() []map[string]any {
	var out []map[string]any
	x.entity.WithStrategy(func(s core.Strategy) {
		idx := s.(*core.Indexed)
		for _, address := range idx.All() {
			out = append(out, idx.Meta(address))
		}
	})
	return out
}

// Where returns the addresses whose metadata satisfies condition.
func (x *Indexed) Where(condition func(address string, meta map[string]any) bool) []string {
	var out []string
	x.entity.WithStrategy(func(s core.Strategy) {
		out = s.(*core.Indexed).Where(condition)
	})
	return out
}

// Find returns the first address satisfying condition, or "".
func (x *Indexed) Find(condition func(address string, meta map[string]any) bool) string {
	var found string
	x.entity.WithStrategy(func(s core.Strategy) {
		found = s.(*core.Indexed).Find(condition)
	})
	return found
}

// Retrieve binds an entity of the index's contents kind to an indexed
// address. The caller connects it.
func (x *Indexed) Retrieve(address string) (*core.Entity, error) {
	if !x.Has(address) {
		return nil, x.entity.Exception(13, address)
	}
	parent := x.entity.Parent()
	if parent == nil {
		parent = x.entity
	}
	child, err := newChild(parent, x.contents)
	if err != nil {
		return nil, err
	}
	return child.FromAddress(address), nil
}

func (x *Indexed) relatable(subject *core.Entity) error {
	if x.contents != "" && subject.Name() != x.contents {
		return x.entity.Exception(14, subject.Name(), x.contents)
	}
	return nil
}

// Add writes an inclusion entry for subject, with optional metadata, through
// master (the index's own master when nil).
func (x *Indexed) Add(ctx context.Context, subject *core.Entity, meta map[string]any, master core.Master) error {
	if err := core.Require(x.entity, "index add", string(core.RequireConnected)); err != nil {
		return err
	}
	if err := x.relatable(subject); err != nil {
		return err
	}
	if x.Has(subject.Address()) {
		return x.entity.Exception(15, subject.Label())
	}
	if meta == nil {
		meta = make(map[string]any)
	}
	return x.entity.WriteAs(ctx, master, map[string]any{
		"address": subject.Address(),
		"exclude": false,
		"meta":    meta,
	})
}

// Delete writes an exclusion entry for subject through master.
func (x *Indexed) Delete(ctx context.Context, subject *core.Entity, master core.Master) error {
	if err := core.Require(x.entity, "index delete", string(core.RequireConnected)); err != nil {
		return err
	}
	if err := x.relatable(subject); err != nil {
		return err
	}
	if !x.Has(subject.Address()) {
		return x.entity.Exception(16, subject.Label())
	}
	return x.entity.WriteAs(ctx, master, map[string]any{
		"address": subject.Address(),
		"exclude": true,
	})
}

// IndexKind builds the kind descriptor for an index account over entities of
// the contents kind, addressed by seed.
func IndexKind(name, contents string, seed func(e *core.Entity) (string, error)) *core.Kind {
	kind := &core.Kind{
		Name:     name,
		Seed:     seed,
		Strategy: func() core.Strategy { return core.NewIndexed() },
		Traits:   []core.TraitFactory{NewIndexed(contents)},
	}
	kind.New = func(realm core.Realm, parent *core.Entity) (*core.Entity, error) {
		return core.NewEntity(realm, parent, kind)
	}
	return kind
}

// parentSeed derives an index seed from the parent entity's address.
func parentSeed(pattern string) func(e *core.Entity) (string, error) {
	return func(e *core.Entity) (string, error) {
		parent := e.Parent()
		if parent == nil || !parent.HasAccount() {
			return "", fmt.Errorf("index seed requires a bound parent account")
		}
		return fmt.Sprintf(pattern, parent.Address()), nil
	}
}

// Index kinds composed by the traits in this package. Registered once per
// nation at assembly.
var (
	FollowerIndexKind  = IndexKind("Followers", "User", parentSeed("followers-of-%s"))
	FollowingIndexKind = IndexKind("Following", "User", parentSeed("followed-by-%s"))
	OwnableIndexKind   = IndexKind("OwnableIndex", "", parentSeed("ownables-of-%s"))
	PostIndexKind      = IndexKind("PostIndex", "Post", parentSeed("posts-by-%s"))
	ReplyIndexKind     = IndexKind("ReplyIndex", "Post", parentSeed("replies-to-%s"))
	ReactionIndexKind  = IndexKind("ReactionIndex", "", parentSeed("reactions-to-%s"))
	BiasIndexKind      = IndexKind("BiasIndex", "", parentSeed("bias-of-%s"))
	TokenIndexKind     = IndexKind("TokenIndex", "Token", parentSeed("tokens-issued-by-%s"))
)

// IndexKinds lists every index kind for registration.
func IndexKinds() []*core.Kind {
	return []*core.Kind{
		FollowerIndexKind, FollowingIndexKind, OwnableIndexKind, PostIndexKind,
		ReplyIndexKind, ReactionIndexKind, BiasIndexKind, TokenIndexKind,
	}
}

// readIndex constructs, binds, and reads an index child of kind under parent.
func readIndex(ctx context.Context, parent *core.Entity, kind *core.Kind) (*core.Entity, error) {
	index, err := core.NewEntity(parent.Realm(), parent, kind)
	if err != nil {
		return nil, err
	}
	index, err = index.FromSeed()
	if err != nil {
		return nil, err
	}
	if err := index.ReadAll(ctx); err != nil {
		return nil, err
	}
	return index, nil
}

// joinWrites runs ledger writes concurrently and returns the first failure.
func joinWrites(ctx context.Context, writes ...func(ctx context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, write := range writes {
		write := write
		g.Go(func() error { return write(gctx) })
	}
	return g.Wait()
}
