package entities

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"podium/internal/core"
	"podium/internal/traits"
	"podium/pkg/domain"
)

// Reference patterns extracted from post text. URLs are marked up first so
// the domain pattern never matches the scheme separator.
var (
	urlPattern       = regexp.MustCompile(`https?://[^\s]+`)
	mentionPattern   = regexp.MustCompile(`@[A-Za-z0-9_]+`)
	topicPattern     = regexp.MustCompile(`#[A-Za-z0-9_]+`)
	domainPattern    = regexp.MustCompile(`//[A-Za-z0-9_]+`)
	referencePattern = regexp.MustCompile(`\{[a-z]+:[0-9]+\}`)
)

// PostKind is a single piece of content. The account derives from the
// author's address and a per-author sequence number, so the next post account
// is always predictable. Amendments append atoms that the merge strategy
// folds: text concatenates, reference lists join, everything else keeps the
// latest value.
var PostKind = selfConstructing(&core.Kind{
	Name: "Post",
	Seed: func(e *core.Entity) (string, error) {
		c := ComposingOf(e)
		if c == nil {
			return "", fmt.Errorf("post requires the Composing trait")
		}
		number := c.Number()
		if number <= 0 {
			return "", fmt.Errorf("post requires a sequence number before binding")
		}
		_, masterE := authOf(e)
		if masterE == nil || !masterE.HasAccount() {
			return "", fmt.Errorf("post requires an authenticated author")
		}
		return fmt.Sprintf("post-number-%d-from-%s", number, masterE.Address()), nil
	},
	Strategy: func() core.Strategy { return core.NewMerged(nil, combinePostAtoms) },
	Traits: []core.TraitFactory{
		traits.NewReactable(),
		traits.NewRespondable(),
		NewComposing(),
	},
})

// combinePostAtoms resolves key collisions when amendments fold into the post
// record.
func combinePostAtoms(key string, last, next any) any {
	switch key {
	case "text":
		lastText, _ := last.(string)
		nextText, _ := next.(string)
		return lastText + nextText
	case "entries":
		return maxNumber(last, next)
	case "timestamp":
		lastTime, lastOK := last.(time.Time)
		nextTime, nextOK := next.(time.Time)
		if lastOK && nextOK && lastTime.After(nextTime) {
			return lastTime
		}
		if nextOK {
			return nextTime
		}
		return maxNumber(last, next)
	case "mentions", "topics", "links", "domains", "media":
		return joinLists(last, next)
	default:
		return next
	}
}

func maxNumber(last, next any) any {
	lastN, lastOK := toNumber(last)
	nextN, nextOK := toNumber(next)
	if lastOK && nextOK && lastN > nextN {
		return lastN
	}
	if nextOK {
		return nextN
	}
	return next
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func joinLists(last, next any) any {
	lastList, lastOK := last.([]any)
	nextList, nextOK := next.([]any)
	if !lastOK || !nextOK {
		return next
	}
	out := make([]any, 0, len(lastList)+len(nextList))
	out = append(out, lastList...)
	return append(out, nextList...)
}

// Composing authors the post: it allocates the author's next sequence number,
// marks up references, prices the content against the domain token, and fans
// the post's support records out to the ledger. It implements the composer
// contract the Posting and Respondable traits delegate to.
type Composing struct {
	entity *core.Entity

	mu         sync.Mutex
	number     int
	text       string
	references map[string][]string
}

// NewComposing builds Composing trait instances.
func NewComposing() core.TraitFactory {
	return func() core.Trait { return &Composing{} }
}

var _ traits.Composer = (*Composing)(nil)

// Name implements core.Trait.
func (c *Composing) Name() string { return "Composing" }

// Attach implements core.Trait.
func (c *Composing) Attach(e *core.Entity) error {
	c.entity = e
	e.RegisterAction("Compose", func(ctx context.Context, args []any) (any, error) {
		text, _ := argAt(args, 0).(string)
		symbol, _ := argAt(args, 1).(string)
		if err := c.Compose(ctx, traits.PostContent{Text: text}, symbol); err != nil {
			return nil, err
		}
		return c.entity.Address(), nil
	})
	e.Errors().Registerf(21, "posting", "cannot create post %v, the account already holds one")
	return nil
}

// ComposingOf returns the entity's Composing trait, or nil.
func ComposingOf(e *core.Entity) *Composing {
	c, _ := e.Trait("Composing").(*Composing)
	return c
}

// Number returns the post's sequence number, falling back to the stored
// record.
func (c *Composing) Number() int {
	c.mu.Lock()
	number := c.number
	c.mu.Unlock()
	if number > 0 {
		return number
	}
	return int(mergedNumber(c.entity, "number"))
}

// Text returns the stored post text with reference placeholders in place.
func (c *Composing) Text() string {
	return mergedString(c.entity, "text")
}

// Characters returns the stored text with reference placeholders stripped,
// which is the length the post was priced on.
func (c *Composing) Characters() string {
	return referencePattern.ReplaceAllString(c.Text(), "")
}

// FromPostNumber binds the account of the author's n'th post.
func (c *Composing) FromPostNumber(n int) (*core.Entity, error) {
	c.mu.Lock()
	c.number = n
	c.mu.Unlock()
	return c.entity.FromSeed()
}

// markup moves pattern matches out of the working text into the reference
// table under label, leaving {label:i} placeholders behind.
func (c *Composing) markup(pattern *regexp.Regexp, label string) {
	i := 0
	c.text = pattern.ReplaceAllStringFunc(c.text, func(match string) string {
		c.references[label] = append(c.references[label], match)
		placeholder := fmt.Sprintf("{%s:%d}", label, i)
		i++
		return placeholder
	})
}

// Compose implements traits.Composer. Sequence numbers come from the
// author's post count, so concurrent composes by the same author serialize
// through the author's call buffer.
func (c *Composing) Compose(ctx context.Context, content traits.PostContent, tokenSymbol string) error {
	if err := core.Require(c.entity, "compose",
		string(core.RequireBlank), string(core.RequireAuthenticated)); err != nil {
		return err
	}
	auth, masterE := authOf(c.entity)
	if masterE == nil {
		return fmt.Errorf("compose requires an authenticated author")
	}
	return masterE.Buffered(ctx, "compose", func() error {
		return c.compose(ctx, auth, masterE, content, tokenSymbol)
	})
}

func (c *Composing) compose(ctx context.Context, auth *traits.Authenticating, masterE *core.Entity, content traits.PostContent, tokenSymbol string) error {
	posting := traits.PostingOf(masterE)
	if posting == nil {
		return fmt.Errorf("author %s cannot post", masterE.Label())
	}
	if posting.PostIndex() == nil {
		if err := masterE.With(ctx, "Posts"); err != nil {
			return err
		}
	}
	count, err := posting.PostCount()
	if err != nil {
		return err
	}
	number := count + 1
	c.entity.Logger().Debug("composing post", "number", number)

	c.mu.Lock()
	c.number = number
	c.text = content.Text
	c.references = make(map[string][]string)
	c.mu.Unlock()

	bound, err := c.entity.FromSeed()
	if err != nil {
		return err
	}
	if err := bound.ReadAll(ctx); err != nil {
		return c.entity.Fail("reading post", number)(err)
	}
	if !bound.Empty() {
		return c.entity.Exception(21, number)
	}

	c.mu.Lock()
	c.markup(urlPattern, "links")
	c.markup(mentionPattern, "mentions")
	c.markup(topicPattern, "topics")
	c.markup(domainPattern, "domains")
	text, references := c.text, c.references
	c.mu.Unlock()

	media, err := c.registerMedia(ctx, masterE, content.Media)
	if err != nil {
		return err
	}

	issuing, err := c.domainToken(ctx, tokenSymbol)
	if err != nil {
		return err
	}
	chars := referencePattern.ReplaceAllString(text, "")
	cost := issuing.ContentCost(chars, references, len(media))

	held := c.entity.Realm().Ledger().Balance(masterE.Address(), tokenSymbol)
	if held < cost {
		return masterE.Exception(25, tokenSymbol, held, cost)
	}

	record := map[string]any{
		"number":     number,
		"text":       text,
		"references": references,
		"cost":       cost,
		"currency":   tokenSymbol,
		"author":     masterE.Address(),
		"domain":     c.entity.GoverningRoot().Address(),
	}
	if len(media) > 0 {
		record["media"] = media
	}
	parent := c.entity.Parent()
	reply := parent != nil && parent.Name() == c.entity.Name()
	if reply {
		record["parent"] = parent.Address()
		record["origin"] = mergedString(parent, "origin")
		record["depth"] = mergedNumber(parent, "depth") + 1
	} else {
		record["origin"] = bound.Address()
		record["depth"] = 0
	}

	bias, err := traits.ReactiveOf(masterE).Bias()
	if err != nil {
		return err
	}
	if traits.ReactableOf(bound).ReactionIndex() == nil {
		if err := bound.With(ctx, "Reactions"); err != nil {
			return err
		}
	}
	reactions := traits.IndexedOf(traits.ReactableOf(bound).ReactionIndex())

	// The next compose in the author's buffer derives its number from the
	// post count, so the buffer slot is held until the index entry folds
	// back from the ledger.
	echo := make(chan struct{}, 1)
	handle := posting.PostIndex().On(domain.EventOnAdd, func(_ context.Context, payload domain.EventPayload) error {
		data, ok := payload.Data.(core.AtomData)
		if ok && data.StringField("address") == bound.Address() {
			select {
			case echo <- struct{}{}:
			default:
			}
		}
		return nil
	})
	defer handle.Remove()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bound.Write(gctx, record) })
	g.Go(func() error {
		return traits.IndexedOf(posting.PostIndex()).Add(gctx, bound, nil, auth)
	})
	g.Go(func() error {
		return reactions.Add(gctx, bound, map[string]any{"bias": bias, "value": 1.0}, auth)
	})
	if cost > 0 {
		g.Go(func() error {
			return traits.TransactingOf(masterE).Transact(gctx, cost, tokenSymbol, bound,
				map[string]any{"for": "post"})
		})
	}
	if reply {
		g.Go(func() error {
			replies, err := replyIndexOf(gctx, parent)
			if err != nil {
				return err
			}
			return replies.Add(gctx, bound, nil, auth)
		})
	}
	if err := g.Wait(); err != nil {
		return c.entity.Fail("writing post", number)(err)
	}

	timeout := c.entity.Realm().Config().SyncTimeout
	if timeout <= 0 {
		timeout = core.DefaultSyncTimeout
	}
	select {
	case <-echo:
	case <-time.After(timeout):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// registerMedia resolves each attached file to a media entity address.
func (c *Composing) registerMedia(ctx context.Context, owner *core.Entity, media []map[string]any) ([]string, error) {
	if len(media) == 0 {
		return nil, nil
	}
	addresses := make([]string, 0, len(media))
	for _, item := range media {
		encoded, _ := item["base64"].(string)
		mediaType, _ := item["type"].(string)
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, c.entity.Fail("decoding media attachment")(err)
		}
		entity, err := core.NewEntity(c.entity.Realm(), owner, MediaKind)
		if err != nil {
			return nil, err
		}
		registered, err := StorableOf(entity).RetrieveOrRegister(ctx, raw, mediaType)
		if err != nil {
			return nil, c.entity.Fail("registering media attachment")(err)
		}
		addresses = append(addresses, registered.Address())
	}
	return addresses, nil
}

// domainToken resolves the pricing token from the post's governing domain.
func (c *Composing) domainToken(ctx context.Context, symbol string) (*Issuing, error) {
	root := c.entity.GoverningRoot()
	if root == nil {
		return nil, fmt.Errorf("post has no governing domain to price against")
	}
	ec := traits.EconomicOf(root)
	if ec == nil {
		return nil, fmt.Errorf("domain %s has no token economy", root.Label())
	}
	token := ec.Token(symbol)
	if token == nil {
		if err := root.With(ctx, symbol); err != nil {
			return nil, c.entity.Fail("connecting token", symbol)(err)
		}
		token = ec.Token(symbol)
	}
	if token == nil {
		return nil, fmt.Errorf("domain %s does not issue token %q", root.Label(), symbol)
	}
	issuing := IssuingOf(token)
	if issuing == nil {
		return nil, fmt.Errorf("token %q has no pricing", symbol)
	}
	return issuing, nil
}

// replyIndexOf resolves a parent post's reply index, connecting it when
// needed.
func replyIndexOf(ctx context.Context, parent *core.Entity) (*traits.Indexed, error) {
	respondable := traits.RespondableOf(parent)
	if respondable == nil {
		return nil, fmt.Errorf("parent %s does not accept replies", parent.Label())
	}
	if respondable.ReplyIndex() == nil {
		if err := parent.With(ctx, "Replies"); err != nil {
			return nil, err
		}
	}
	return traits.IndexedOf(respondable.ReplyIndex()), nil
}
