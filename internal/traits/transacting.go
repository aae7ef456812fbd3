package traits

import (
	"context"
	"sync"

	"podium/internal/core"
	"podium/internal/ledger"
	"podium/pkg/domain"
)

// Transacting gives an entity a token wallet. Balances stream from the
// ledger's transfer system, separate from atom history, and every movement
// dispatches balance events.
type Transacting struct {
	entity *core.Entity

	mu     sync.Mutex
	wallet map[string]float64
	sub    ledger.BalanceSubscription
}

// NewTransacting builds Transacting trait instances.
func NewTransacting() core.TraitFactory {
	return func() core.Trait { return &Transacting{wallet: make(map[string]float64)} }
}

// Name implements core.Trait.
func (t *Transacting) Name() string { return "Transacting" }

// Attach implements core.Trait.
func (t *Transacting) Attach(e *core.Entity) error {
	t.entity = e
	e.On(domain.EventWillConnect, func(ctx context.Context, _ domain.EventPayload) error {
		return t.watchBalances()
	})
	e.On(domain.EventOnDisconnect, func(ctx context.Context, _ domain.EventPayload) error {
		t.stopWatching()
		return nil
	})
	e.RegisterAction("Transact", func(ctx context.Context, args []any) (any, error) {
		recipient, err := entityArg(args, 0)
		if err != nil {
			return nil, err
		}
		return nil, t.Transact(ctx, numberArg(args, 1), stringArg(args, 2), recipient, mapArg(args, 3))
	})
	e.Errors().Registerf(25, "transacting", "insufficient %s balance: have %v, need %v")
	return nil
}

// TransactingOf returns the entity's Transacting trait, or nil.
func TransactingOf(e *core.Entity) *Transacting {
	t, _ := e.Trait("Transacting").(*Transacting)
	return t
}

// Balance returns the held amount of symbol.
func (t *Transacting) Balance(symbol string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wallet[symbol]
}

// Wallet returns a copy of all held balances.
func (t *Transacting) Wallet() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]float64, len(t.wallet))
	for symbol, amount := range t.wallet {
		out[symbol] = amount
	}
	return out
}

// Transfers returns the entity's transfer history from the ledger.
func (t *Transacting) Transfers() []ledger.Transfer {
	return t.entity.Realm().Ledger().Transfers(t.entity.Address())
}

// watchBalances opens the balance stream and folds snapshots into the
// wallet, dispatching change events per moved symbol.
func (t *Transacting) watchBalances() error {
	t.entity.Logger().Debug("indexing transactions")
	sub, err := t.entity.Realm().Ledger().Balances(t.entity.Address())
	if err != nil {
		return t.entity.Fail("subscribing to balances")(err)
	}
	t.mu.Lock()
	if t.sub != nil {
		t.sub.Cancel()
	}
	t.sub = sub
	t.mu.Unlock()
	go t.consume(sub)
	return nil
}

func (t *Transacting) stopWatching() {
	t.mu.Lock()
	sub := t.sub
	t.sub = nil
	t.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}

func (t *Transacting) consume(sub ledger.BalanceSubscription) {
	for snapshot := range sub.Updates() {
		for symbol, next := range snapshot {
			t.mu.Lock()
			last, held := t.wallet[symbol]
			if held && last == next {
				t.mu.Unlock()
				continue
			}
			t.wallet[symbol] = next
			t.mu.Unlock()

			data := map[string]any{"token": symbol, "last": last, "next": next}
			ctx := context.Background()
			if err := t.entity.Dispatch(ctx, EventOnBalanceChange, data); err != nil {
				continue
			}
			direction := EventOnBalanceGain
			if next < last {
				direction = EventOnBalanceLoss
			}
			if err := t.entity.Dispatch(ctx, direction, data); err != nil {
				t.entity.Logger().Error("dispatching balance event", "err", err)
			}
		}
	}
}

// Transact moves tokens from this entity to recipient.
func (t *Transacting) Transact(ctx context.Context, amount float64, symbol string, recipient *core.Entity, meta map[string]any) error {
	if err := core.Require(t.entity, "transact",
		string(core.RequireAccount), string(core.RequireAuthenticated)); err != nil {
		return err
	}
	held := t.entity.Realm().Ledger().Balance(t.entity.Address(), symbol)
	if held < amount {
		return t.entity.Exception(25, symbol, held, amount)
	}
	master := t.entity.Master()
	err := t.entity.Realm().Ledger().StoreTransaction(
		ctx, master.Identity(), recipient.Account(), symbol, amount, meta)
	if err != nil {
		return t.entity.Fail("transacting", amount, symbol, recipient)(err)
	}
	return nil
}
