package entities

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"podium/internal/core"
	"podium/internal/ledger"
	"podium/internal/traits"
)

// TokenKind is the on-ledger definition of a currency issued by an economic
// entity. The account derives from the symbol, so a symbol is globally
// claimable exactly once.
var TokenKind = selfConstructing(&core.Kind{
	Name: "Token",
	Seed: func(e *core.Entity) (string, error) {
		s := IssuingOf(e)
		if s == nil {
			return "", fmt.Errorf("token requires the Issuing trait")
		}
		symbol := s.Symbol()
		if symbol == "" {
			return "", fmt.Errorf("token requires a symbol before binding")
		}
		return "token-with-symbol-" + symbol, nil
	},
	Strategy: func() core.Strategy { return core.NewMerged(nil, nil) },
	Traits:   []core.TraitFactory{NewIssuing()},
})

// Issuing defines and mints a token on behalf of its economic parent. It
// implements the token-issuer contract the Economic trait delegates to.
type Issuing struct {
	entity *core.Entity

	mu     sync.Mutex
	symbol string
}

// NewIssuing builds Issuing trait instances.
func NewIssuing() core.TraitFactory {
	return func() core.Trait { return &Issuing{} }
}

var _ traits.TokenIssuer = (*Issuing)(nil)

// Name implements core.Trait.
func (t *Issuing) Name() string { return "Issuing" }

// Attach implements core.Trait.
func (t *Issuing) Attach(e *core.Entity) error {
	t.entity = e
	e.RegisterAction("Issue", func(ctx context.Context, args []any) (any, error) {
		designation, _ := argAt(args, 0).(map[string]any)
		volume, _ := argAt(args, 1).(float64)
		config, _ := argAt(args, 2).(map[string]any)
		return nil, t.Issue(ctx, designation, volume, config)
	})
	e.RegisterAction("Mint", func(ctx context.Context, args []any) (any, error) {
		amount, _ := argAt(args, 0).(float64)
		return nil, t.Mint(ctx, amount)
	})
	return nil
}

// IssuingOf returns the entity's Issuing trait, or nil.
func IssuingOf(e *core.Entity) *Issuing {
	t, _ := e.Trait("Issuing").(*Issuing)
	return t
}

// Symbol returns the token's symbol, falling back to the stored record.
func (t *Issuing) Symbol() string {
	t.mu.Lock()
	symbol := t.symbol
	t.mu.Unlock()
	if symbol != "" {
		return symbol
	}
	if designation, ok := mergedField(t.entity, "designation").(map[string]any); ok {
		symbol, _ = designation["symbol"].(string)
	}
	return symbol
}

// TokenName returns the token's display name from the stored record.
func (t *Issuing) TokenName() string {
	designation, _ := mergedField(t.entity, "designation").(map[string]any)
	name, _ := designation["name"].(string)
	return name
}

// Issuer returns the address the token was issued from.
func (t *Issuing) Issuer() string {
	return mergedString(t.entity, "issuer")
}

// FromSymbol binds the account derived from symbol.
func (t *Issuing) FromSymbol(symbol string) (*core.Entity, error) {
	t.mu.Lock()
	t.symbol = symbol
	t.mu.Unlock()
	return t.entity.FromSeed()
}

// PricePer returns the configured price for one billable unit (post,
// character, reference, link, media, domain).
func (t *Issuing) PricePer(per string) float64 {
	pricing, _ := mergedField(t.entity, "pricing").(map[string]any)
	switch n := pricing[per].(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}

// ContentCost prices a post: a base price plus per-character, per-reference,
// per-link, and per-media charges. chars is the text with reference
// placeholders stripped.
func (t *Issuing) ContentCost(chars string, references map[string][]string, mediaCount int) float64 {
	cost := t.PricePer("post")
	cost += t.PricePer("character") * float64(len(chars))
	cost += t.PricePer("reference") * float64(len(references["mentions"])+len(references["topics"]))
	cost += t.PricePer("link") * float64(len(references["links"]))
	cost += t.PricePer("media") * float64(mediaCount)
	return cost
}

// Issue claims the symbol, mints the seed volume, and writes the token
// definition. Only economic entities can issue.
func (t *Issuing) Issue(ctx context.Context, designation map[string]any, volume float64, config map[string]any) error {
	if err := core.Require(t.entity, "issue",
		string(core.RequireBlank), string(core.RequireAuthenticated)); err != nil {
		return err
	}
	parent := t.entity.Parent()
	if parent == nil || !parent.Is("Economic") {
		return fmt.Errorf("only economic entities can issue tokens")
	}
	symbol, _ := designation["symbol"].(string)
	name, _ := designation["name"].(string)
	if symbol == "" {
		return fmt.Errorf("token designation requires a symbol")
	}
	t.entity.Logger().Debug("issuing token", "symbol", symbol, "volume", volume)

	bound, err := t.FromSymbol(symbol)
	if err != nil {
		return err
	}
	if err := bound.ReadAll(ctx); err != nil {
		return t.entity.Fail("reading token", symbol)(err)
	}
	if !bound.Empty() {
		return fmt.Errorf("token %q is already defined", symbol)
	}

	record := map[string]any{
		"designation": designation,
		"issuer":      t.entity.Master().Identity().Account.Address,
	}
	for key, value := range config {
		record[key] = value
	}

	index, err := t.parentTokenIndex(ctx, parent)
	if err != nil {
		return err
	}
	master := t.entity.Master()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return t.entity.Realm().Ledger().StoreToken(gctx, master.Identity(),
			ledger.TokenDefinition{Symbol: symbol, Name: name, Supply: volume}, volume)
	})
	g.Go(func() error { return bound.Write(gctx, record) })
	g.Go(func() error {
		return index.Add(gctx, bound, map[string]any{"symbol": symbol}, master)
	})
	if err := g.Wait(); err != nil {
		return t.entity.Fail("writing token", symbol)(err)
	}
	return nil
}

// Mint issues further volume of an existing token.
func (t *Issuing) Mint(ctx context.Context, amount float64) error {
	if err := core.Require(t.entity, "mint",
		string(core.RequireAccount), string(core.RequireAuthenticated)); err != nil {
		return err
	}
	parent := t.entity.Parent()
	if parent == nil || !parent.Is("Economic") {
		return fmt.Errorf("only economic entities can mint tokens")
	}
	symbol := t.Symbol()
	t.entity.Logger().Debug("minting", "symbol", symbol, "amount", amount)
	err := t.entity.Realm().Ledger().StoreToken(ctx, t.entity.Master().Identity(),
		ledger.TokenDefinition{Symbol: symbol, Name: t.TokenName(), Supply: amount}, amount)
	if err != nil {
		return t.entity.Fail("minting token", amount)(err)
	}
	return nil
}

// parentTokenIndex resolves the issuing parent's token index, connecting it
// when needed.
func (t *Issuing) parentTokenIndex(ctx context.Context, parent *core.Entity) (*traits.Indexed, error) {
	ec := traits.EconomicOf(parent)
	if ec == nil {
		return nil, fmt.Errorf("parent %s has no token index", parent.Label())
	}
	if ec.TokenIndex() == nil {
		if err := parent.With(ctx, "Tokens"); err != nil {
			return nil, err
		}
	}
	return traits.IndexedOf(ec.TokenIndex()), nil
}
