package traits

import (
	"context"
	"fmt"

	"podium/internal/core"
	"podium/pkg/domain"
)

// TokenIssuer is implemented by the token kind's issuing trait. Economic
// delegates issuance to it.
type TokenIssuer interface {
	core.Trait
	Issue(ctx context.Context, designation map[string]any, volume float64, config map[string]any) error
}

func tokenIssuerOf(e *core.Entity) TokenIssuer {
	for _, name := range e.Traits() {
		if issuer, ok := e.Trait(name).(TokenIssuer); ok {
			return issuer
		}
	}
	return nil
}

// Economic lets an entity issue and manage tokens. Issued tokens are tracked
// in a token index account; each indexed token becomes a dynamic attribute
// keyed by its symbol, connected as soon as its index entry arrives.
type Economic struct {
	entity *core.Entity
}

// NewEconomic builds Economic trait instances.
func NewEconomic() core.TraitFactory {
	return func() core.Trait { return &Economic{} }
}

// Name implements core.Trait.
func (ec *Economic) Name() string { return "Economic" }

// Attach implements core.Trait.
func (ec *Economic) Attach(e *core.Entity) error {
	ec.entity = e
	e.Attribute("Tokens", func(ctx context.Context) (*core.Entity, error) {
		index, err := core.NewEntity(e.Realm(), e, TokenIndexKind)
		if err != nil {
			return nil, err
		}
		index, err = index.FromSeed()
		if err != nil {
			return nil, err
		}
		// Dynamic attributes must be registered before the backlog
		// replays, so the listener is wired ahead of the read.
		index.On(domain.EventOnAdd, func(ctx context.Context, payload domain.EventPayload) error {
			data, ok := payload.Data.(core.AtomData)
			if !ok {
				return nil
			}
			meta, _ := data.Field("meta").(map[string]any)
			symbol, _ := meta["symbol"].(string)
			if symbol == "" {
				return nil
			}
			return ec.adoptToken(ctx, symbol, data.StringField("address"))
		})
		if err := index.ReadAll(ctx); err != nil {
			return nil, e.Fail("reading token index")(err)
		}
		return index, nil
	})
	e.RegisterAction("IssueToken", func(ctx context.Context, args []any) (any, error) {
		token, err := ec.IssueToken(ctx, mapArg(args, 0), numberArg(args, 1), mapArg(args, 2))
		if err != nil {
			return nil, err
		}
		return token.Address(), nil
	})
	return nil
}

// EconomicOf returns the entity's Economic trait, or nil.
func EconomicOf(e *core.Entity) *Economic {
	ec, _ := e.Trait("Economic").(*Economic)
	return ec
}

// TokenIndex returns the connected token index entity, or nil.
func (ec *Economic) TokenIndex() *core.Entity {
	return ec.entity.AttributeEntity("Tokens")
}

// Token returns the connected token entity for symbol, or nil.
func (ec *Economic) Token(symbol string) *core.Entity {
	return ec.entity.AttributeEntity(symbol)
}

// adoptToken registers an indexed token as a dynamic attribute and connects
// it.
func (ec *Economic) adoptToken(ctx context.Context, symbol, address string) error {
	e := ec.entity
	e.Attribute(symbol, func(ctx context.Context) (*core.Entity, error) {
		token, err := newChild(e, "Token")
		if err != nil {
			return nil, err
		}
		bound := token.FromAddress(address)
		if err := bound.ReadAll(ctx); err != nil {
			return nil, e.Fail("reading token", address)(err)
		}
		return bound, nil
	})
	return e.With(ctx, symbol)
}

// IssueToken creates and mints a new token under this entity.
func (ec *Economic) IssueToken(ctx context.Context, designation map[string]any, volume float64, config map[string]any) (*core.Entity, error) {
	if err := core.Require(ec.entity, "issue token",
		string(core.RequireConnected), string(core.RequireAuthenticated)); err != nil {
		return nil, err
	}
	name, _ := designation["name"].(string)
	symbol, _ := designation["symbol"].(string)
	ec.entity.Logger().Debug("creating token", "name", name, "symbol", symbol)
	token, err := newChild(ec.entity, "Token")
	if err != nil {
		return nil, err
	}
	issuer := tokenIssuerOf(token)
	if issuer == nil {
		return nil, fmt.Errorf("token kind has no issuing trait")
	}
	if err := issuer.Issue(ctx, designation, volume, config); err != nil {
		return nil, ec.entity.Fail("issuing token", symbol, volume)(err)
	}
	return token, nil
}
