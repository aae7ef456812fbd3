package entities

import (
	"context"
	"errors"
	"testing"
	"time"

	"podium/internal/traits"
	"podium/pkg/domain"
)

func TestClaimRejectsOwnedAsset(t *testing.T) {
	realm := newTestRealm(t)
	ctx := context.Background()
	holder := registeredUser(t, realm, "holder", "pw")

	claimed, err := traits.OwningOf(holder).Claim(ctx, "Alias", "prize")
	if err != nil {
		t.Fatalf("claiming: %v", err)
	}
	waitFor(t, "claim to fold", func() bool { return !claimed.Empty() })

	// Watch the asset account so a rejected claim writing anything is caught.
	sub, err := realm.Ledger().Subscribe(claimed.Address())
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer sub.Cancel()
	for synced := false; !synced; {
		select {
		case <-sub.Atoms():
		case <-sub.Synced():
			synced = true
		case <-time.After(2 * time.Second):
			t.Fatal("asset subscription never synced")
		}
	}

	rival := registeredUser(t, realm, "rival", "pw")
	_, err = traits.OwningOf(rival).Claim(ctx, "Alias", "prize")
	var coded *domain.CodedError
	if !errors.As(err, &coded) || coded.Code != 17 {
		t.Fatalf("expected code 17 for an owned asset, got %v", err)
	}

	// The rejection happens before any write reaches the ledger.
	select {
	case env := <-sub.Atoms():
		t.Fatalf("rejected claim wrote an atom: %v", env.Atom.Payload)
	case <-time.After(200 * time.Millisecond):
	}
	owner, err := traits.OwnableOf(claimed).Owner()
	if err != nil || owner != holder.Address() {
		t.Fatalf("owner = %q, %v, want %s", owner, err, holder.Address())
	}
	if err := rival.With(ctx, "Owned"); err != nil {
		t.Fatalf("connecting rival's index: %v", err)
	}
	if held, err := traits.OwningOf(rival).Owned(); err != nil || len(held) != 0 {
		t.Fatalf("rival holds %v, %v", held, err)
	}
}

func TestTransferMovesOwnership(t *testing.T) {
	realm := newTestRealm(t)
	ctx := context.Background()
	seller := registeredUser(t, realm, "seller", "pw")
	buyer := registeredUser(t, realm, "buyer", "pw")

	deed, err := traits.OwningOf(seller).Claim(ctx, "Alias", "deed")
	if err != nil {
		t.Fatalf("claiming: %v", err)
	}
	waitFor(t, "claim to land in the seller's index", func() bool {
		held, err := traits.OwningOf(seller).Owned()
		return err == nil && len(held) == 1
	})

	// Only Owning entities can receive assets.
	var coded *domain.CodedError
	err = traits.OwnableOf(deed).Transfer(ctx, deed)
	if !errors.As(err, &coded) || coded.Code != 18 {
		t.Fatalf("expected code 18 for a non-owning recipient, got %v", err)
	}

	// The record is rewritten and both indexes move as two joined writes.
	if err := traits.OwnableOf(deed).Transfer(ctx, buyer); err != nil {
		t.Fatalf("transferring: %v", err)
	}
	waitFor(t, "ownership to move", func() bool {
		owner, err := traits.OwnableOf(deed).Owner()
		return err == nil && owner == buyer.Address()
	})
	waitFor(t, "indexes to update", func() bool {
		bought, err := traits.OwningOf(buyer).Owned()
		if err != nil || len(bought) != 1 || bought[0] != deed.Address() {
			return false
		}
		sold, err := traits.OwningOf(seller).Owned()
		return err == nil && len(sold) == 0
	})

	// Transferring to the session's own account is a silent no-op.
	if err := traits.OwnableOf(deed).Transfer(ctx, seller); err != nil {
		t.Fatalf("self transfer: %v", err)
	}
	owner, err := traits.OwnableOf(deed).Owner()
	if err != nil || owner != buyer.Address() {
		t.Fatalf("self transfer moved ownership: %q, %v", owner, err)
	}
}

func TestTransferRejectsNonOwner(t *testing.T) {
	realm := newTestRealm(t)
	ctx := context.Background()
	holder := registeredUser(t, realm, "landlord", "pw")
	intruder := registeredUser(t, realm, "intruder", "pw")
	recipient := registeredUser(t, realm, "fence", "pw")

	estate, err := traits.OwningOf(holder).Claim(ctx, "Alias", "estate")
	if err != nil {
		t.Fatalf("claiming: %v", err)
	}
	waitFor(t, "claim to fold", func() bool { return !estate.Empty() })

	// The intruder's session drives the shared instance, as after a sign-in
	// reconciliation, but the record still names the holder.
	estate.SetMaster(traits.AuthenticatingOf(intruder))
	var coded *domain.CodedError
	err = traits.OwnableOf(estate).Transfer(ctx, recipient)
	if !errors.As(err, &coded) || coded.Code != 19 {
		t.Fatalf("expected code 19 for a non-owner transfer, got %v", err)
	}

	owner, err := traits.OwnableOf(estate).Owner()
	if err != nil || owner != holder.Address() {
		t.Fatalf("owner = %q, %v, want %s", owner, err, holder.Address())
	}
	if held, err := traits.OwningOf(recipient).Owned(); err != nil || len(held) != 0 {
		t.Fatalf("recipient holds %v, %v", held, err)
	}
}
