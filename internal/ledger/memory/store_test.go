package memory

import (
	"context"
	"regexp"
	"testing"
	"time"

	"podium/internal/ledger"
	"podium/pkg/domain"
)

func connectedStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore("test|nation")
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connecting: %v", err)
	}
	return s
}

func identity(t *testing.T, s *Store) domain.Identity {
	t.Helper()
	id, err := s.IdentityForNew()
	if err != nil {
		t.Fatalf("generating identity: %v", err)
	}
	return id
}

func receiveAtom(t *testing.T, sub ledger.Subscription) domain.Envelope {
	t.Helper()
	select {
	case env, ok := <-sub.Atoms():
		if !ok {
			t.Fatal("atom stream closed")
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an atom")
	}
	return domain.Envelope{}
}

var addressPattern = regexp.MustCompile(`^POD[0-9A-F]{40}$`)

func TestAccountDerivationIsNamespaced(t *testing.T) {
	a := NewStore("nation|a")
	b := NewStore("nation|b")

	first := a.AccountForSeed("alias-ada")
	if !addressPattern.MatchString(first.Address) {
		t.Fatalf("address %q does not match the derivation format", first.Address)
	}
	if again := a.AccountForSeed("alias-ada"); again.Address != first.Address {
		t.Fatal("seed derivation is not deterministic")
	}
	if other := b.AccountForSeed("alias-ada"); other.Address == first.Address {
		t.Fatal("distinct namespaces derived the same address")
	}
}

func TestIdentityForKeyPairIsStable(t *testing.T) {
	s := connectedStore(t)
	id := identity(t, s)
	if !addressPattern.MatchString(id.Account.Address) {
		t.Fatalf("identity address %q does not match the derivation format", id.Account.Address)
	}
	again, err := s.IdentityForKeyPair(id.KeyPair)
	if err != nil {
		t.Fatalf("rederiving: %v", err)
	}
	if again.Account.Address != id.Account.Address {
		t.Fatal("keypair rederivation moved the account")
	}
	if _, err := s.IdentityForKeyPair(domain.KeyPair{}); err == nil {
		t.Fatal("empty keypair accepted")
	}
}

func TestSubscribeReplaysBacklogThenSyncs(t *testing.T) {
	s := connectedStore(t)
	id := identity(t, s)
	account := s.AccountForSeed("note")
	ctx := context.Background()

	for _, text := range []string{"one", "two"} {
		err := s.StoreRecord(ctx, id, []domain.Account{account}, map[string]any{"text": text})
		if err != nil {
			t.Fatalf("storing: %v", err)
		}
	}

	sub, err := s.Subscribe(account.Address)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer sub.Cancel()

	first := receiveAtom(t, sub)
	second := receiveAtom(t, sub)
	if first.Atom.Payload["text"] != "one" || second.Atom.Payload["text"] != "two" {
		t.Fatalf("backlog out of order: %v then %v", first.Atom.Payload, second.Atom.Payload)
	}
	if first.Namespace != "test|nation" {
		t.Fatalf("envelope namespace = %q", first.Namespace)
	}

	select {
	case synced := <-sub.Synced():
		if !synced {
			t.Fatal("synced signal was false")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no synced signal after backlog")
	}

	// Live atoms follow the sync signal.
	err = s.StoreRecord(ctx, id, []domain.Account{account}, map[string]any{"text": "three"})
	if err != nil {
		t.Fatalf("storing live: %v", err)
	}
	if live := receiveAtom(t, sub); live.Atom.Payload["text"] != "three" {
		t.Fatalf("live atom = %v", live.Atom.Payload)
	}
}

func TestSubscribeRequiresConnection(t *testing.T) {
	s := NewStore("test|nation")
	if _, err := s.Subscribe("POD0000"); err == nil {
		t.Fatal("subscribe on a disconnected ledger succeeded")
	}
	if _, err := s.Balances("POD0000"); err == nil {
		t.Fatal("balances on a disconnected ledger succeeded")
	}
}

func TestStoreRecordFansOutWithOneAtomID(t *testing.T) {
	s := connectedStore(t)
	id := identity(t, s)
	left := s.AccountForSeed("left")
	right := s.AccountForSeed("right")

	leftSub, err := s.Subscribe(left.Address)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer leftSub.Cancel()
	rightSub, err := s.Subscribe(right.Address)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer rightSub.Cancel()

	err = s.StoreRecord(context.Background(), id,
		[]domain.Account{left, right}, map[string]any{"shared": true})
	if err != nil {
		t.Fatalf("storing: %v", err)
	}
	a := receiveAtom(t, leftSub)
	b := receiveAtom(t, rightSub)
	if a.Atom.ID != b.Atom.ID {
		t.Fatalf("fan-out split atom IDs: %s vs %s", a.Atom.ID, b.Atom.ID)
	}
	if a.Address != left.Address || b.Address != right.Address {
		t.Fatal("envelopes carry the wrong addresses")
	}
}

func TestEraseRecordDeliversTombstone(t *testing.T) {
	s := connectedStore(t)
	id := identity(t, s)
	account := s.AccountForSeed("erasable")
	ctx := context.Background()

	err := s.StoreRecord(ctx, id, []domain.Account{account}, map[string]any{"text": "doomed"})
	if err != nil {
		t.Fatalf("storing: %v", err)
	}
	sub, err := s.Subscribe(account.Address)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer sub.Cancel()
	stored := receiveAtom(t, sub)

	if err := s.EraseRecord(ctx, id, []domain.Account{account}, stored.Atom.ID); err != nil {
		t.Fatalf("erasing: %v", err)
	}
	tombstone := receiveAtom(t, sub)
	if tombstone.Atom.Action != domain.ActionDelete {
		t.Fatalf("tombstone action = %v", tombstone.Atom.Action)
	}
	if tombstone.Atom.ID != stored.Atom.ID {
		t.Fatal("tombstone does not reference the stored atom")
	}

	if err := s.EraseRecord(ctx, id, []domain.Account{account}, "no-such-atom"); err == nil {
		t.Fatal("erasing an unknown atom succeeded")
	}
}

func TestTokenMintAndTransfer(t *testing.T) {
	s := connectedStore(t)
	minter := identity(t, s)
	holder := s.AccountForSeed("holder")
	ctx := context.Background()

	token := ledger.TokenDefinition{Symbol: "POD", Name: "Podium", Supply: 100}
	if err := s.StoreToken(ctx, minter, token, 100); err != nil {
		t.Fatalf("minting: %v", err)
	}
	if err := s.StoreToken(ctx, minter, token, 100); err == nil {
		t.Fatal("re-minting the same symbol succeeded")
	}
	if got := s.Balance(minter.Account.Address, "POD"); got != 100 {
		t.Fatalf("minter balance = %v, want 100", got)
	}

	err := s.StoreTransaction(ctx, minter, holder, "POD", 30, map[string]any{"for": "test"})
	if err != nil {
		t.Fatalf("transferring: %v", err)
	}
	if got := s.Balance(minter.Account.Address, "POD"); got != 70 {
		t.Fatalf("sender balance = %v, want 70", got)
	}
	if got := s.Balance(holder.Address, "POD"); got != 30 {
		t.Fatalf("recipient balance = %v, want 30", got)
	}

	if err := s.StoreTransaction(ctx, minter, holder, "POD", 1000, nil); err == nil {
		t.Fatal("overdraft succeeded")
	}
	if err := s.StoreTransaction(ctx, minter, holder, "GLD", 1, nil); err == nil {
		t.Fatal("transfer of an unknown token succeeded")
	}
	if err := s.StoreTransaction(ctx, minter, holder, "POD", 0, nil); err == nil {
		t.Fatal("zero-amount transfer succeeded")
	}

	transfers := s.Transfers(holder.Address)
	if len(transfers) != 1 || transfers[0].Amount != 30 || transfers[0].From != minter.Account.Address {
		t.Fatalf("transfer history = %+v", transfers)
	}
}

func TestBalancesStreamDeliversSnapshots(t *testing.T) {
	s := connectedStore(t)
	minter := identity(t, s)
	watched := s.AccountForSeed("watched")
	ctx := context.Background()

	if err := s.StoreToken(ctx, minter, ledger.TokenDefinition{Symbol: "POD", Supply: 50}, 50); err != nil {
		t.Fatalf("minting: %v", err)
	}
	sub, err := s.Balances(watched.Address)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer sub.Cancel()

	// Initial snapshot first, then the credited state.
	select {
	case snapshot := <-sub.Updates():
		if snapshot["POD"] != 0 {
			t.Fatalf("initial snapshot = %v", snapshot)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no initial snapshot")
	}

	if err := s.StoreTransaction(ctx, minter, watched, "POD", 5, nil); err != nil {
		t.Fatalf("transferring: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snapshot := <-sub.Updates():
			if snapshot["POD"] == 5 {
				return
			}
		case <-deadline:
			t.Fatal("credited snapshot never arrived")
		}
	}
}

func TestEconomySnapshotRoundTrip(t *testing.T) {
	s := connectedStore(t)
	minter := identity(t, s)
	holder := s.AccountForSeed("holder")
	ctx := context.Background()

	if err := s.StoreToken(ctx, minter, ledger.TokenDefinition{Symbol: "POD", Supply: 10}, 10); err != nil {
		t.Fatalf("minting: %v", err)
	}
	if err := s.StoreTransaction(ctx, minter, holder, "POD", 4, nil); err != nil {
		t.Fatalf("transferring: %v", err)
	}

	restored := NewStore("test|nation")
	restored.ImportEconomy(s.ExportEconomy())
	if got := restored.Balance(holder.Address, "POD"); got != 4 {
		t.Fatalf("restored balance = %v, want 4", got)
	}
	if got := len(restored.Transfers(minter.Account.Address)); got != 1 {
		t.Fatalf("restored %d transfers, want 1", got)
	}
}

func TestDisconnectClosesSubscriptions(t *testing.T) {
	s := connectedStore(t)
	account := s.AccountForSeed("closing")
	sub, err := s.Subscribe(account.Address)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	if err := s.Disconnect(context.Background()); err != nil {
		t.Fatalf("disconnecting: %v", err)
	}
	select {
	case _, ok := <-sub.Atoms():
		if ok {
			t.Fatal("atom delivered after disconnect")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("atom stream not closed by disconnect")
	}
}
