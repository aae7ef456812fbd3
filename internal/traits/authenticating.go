package traits

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"podium/internal/core"
	"podium/pkg/domain"
)

// Authenticating makes an entity its own master: it holds the signing
// identity behind ledger writes, the per-session auth token checked on client
// actions, and the keystore the identity is persisted through.
type Authenticating struct {
	entity *core.Entity

	mu            sync.Mutex
	identity      domain.Identity
	authenticated bool
	token         string
	keys          *core.Entity
}

// NewAuthenticating builds Authenticating trait instances.
func NewAuthenticating() core.TraitFactory {
	return func() core.Trait { return &Authenticating{} }
}

// Name implements core.Trait.
func (a *Authenticating) Name() string { return "Authenticating" }

// Attach implements core.Trait.
func (a *Authenticating) Attach(e *core.Entity) error {
	a.entity = e
	e.SetMaster(a)
	e.Errors().Register(7, "authentication", "keypair not found")
	e.RegisterAction("SignOut", func(ctx context.Context, _ []any) (any, error) {
		return nil, a.SignOut(ctx)
	})
	e.On(domain.EventWillDisconnect, func(ctx context.Context, _ domain.EventPayload) error {
		return a.SignOut(ctx)
	})
	return nil
}

// AuthenticatingOf returns the entity's Authenticating trait, or nil.
func AuthenticatingOf(e *core.Entity) *Authenticating {
	a, _ := e.Trait("Authenticating").(*Authenticating)
	return a
}

// Entity returns the entity this trait authenticates.
func (a *Authenticating) Entity() *core.Entity { return a.entity }

// Authenticated implements core.Master.
func (a *Authenticating) Authenticated() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.authenticated
}

// AuthToken implements core.Master. The token rotates on every sign-in.
func (a *Authenticating) AuthToken() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token
}

// Identity implements core.Master.
func (a *Authenticating) Identity() domain.Identity {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.identity
}

// KeyStore returns the connected keystore entity, or nil.
func (a *Authenticating) KeyStore() *core.Entity {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.keys
}

// Access bundles what a signed-in client needs to restore its session.
func (a *Authenticating) Access() map[string]any {
	a.mu.Lock()
	keys := a.keys
	token := a.token
	a.mu.Unlock()
	access := map[string]any{
		"address": a.entity.Address(),
		"auth":    token,
	}
	if keys != nil {
		if k := KeysOf(keys); k != nil {
			access["keyPair"] = k.Encrypted()
		}
	}
	return access
}

// WithNew generates a fresh identity, connects its account, and opens a
// keystore under the given credentials.
func (a *Authenticating) WithNew(ctx context.Context, locator, passphrase string) error {
	a.entity.Logger().Debug("generating new identity")
	identity, err := a.entity.Realm().Ledger().IdentityForNew()
	if err != nil {
		return a.entity.Fail("generating identity", locator)(err)
	}
	if err := a.adopt(ctx, identity); err != nil {
		return err
	}
	keys, err := a.openKeyStore(ctx, locator, passphrase)
	if err != nil {
		return a.entity.Fail("reading new keystore", locator)(err)
	}
	a.mu.Lock()
	a.keys = keys
	a.mu.Unlock()
	return nil
}

// WithCredentials signs in from a locator and passphrase: the keystore
// account they derive must hold an encrypted keypair.
func (a *Authenticating) WithCredentials(ctx context.Context, locator, passphrase string) error {
	a.entity.Logger().Debug("retrieving keypair from credentials")
	keys, err := a.openKeyStore(ctx, locator, passphrase)
	if err != nil {
		return a.entity.Fail("reading keystore", locator)(err)
	}
	a.mu.Lock()
	a.keys = keys
	a.mu.Unlock()
	kp, held := KeysOf(keys).KeyPair()
	if !held {
		return a.entity.Exception(7)
	}
	return a.WithKeyPair(ctx, kp)
}

// WithEncryptedKeyPair signs in from a sealed keypair and its passphrase.
func (a *Authenticating) WithEncryptedKeyPair(ctx context.Context, sealed map[string]any, passphrase string) error {
	a.entity.Logger().Debug("decrypting keypair")
	keys, err := newChild(a.entity, "Keys")
	if err != nil {
		return err
	}
	trait := KeysOf(keys)
	trait.FromEncrypted(sealed, passphrase)
	if err := trait.Decrypt(); err != nil {
		return a.entity.Fail("decrypting keypair")(err)
	}
	a.mu.Lock()
	a.keys = keys
	a.mu.Unlock()
	kp, held := trait.KeyPair()
	if !held {
		return a.entity.Exception(7)
	}
	return a.WithKeyPair(ctx, kp)
}

// WithKeyPair signs in from raw key material.
func (a *Authenticating) WithKeyPair(ctx context.Context, kp domain.KeyPair) error {
	a.entity.Logger().Debug("authenticating with keypair")
	identity, err := a.entity.Realm().Ledger().IdentityForKeyPair(kp)
	if err != nil {
		return a.entity.Fail("regenerating identity")(err)
	}
	return a.adopt(ctx, identity)
}

// adopt binds the identity's account, reads it, and marks the session
// authenticated with a fresh token. Signing in to an address another instance
// already holds reconciles through the cache: the fresh session becomes the
// canonical instance's master and this blind-constructed duplicate retires.
func (a *Authenticating) adopt(ctx context.Context, identity domain.Identity) error {
	a.mu.Lock()
	a.identity = identity
	a.mu.Unlock()
	bound := a.entity.FromAddress(identity.Account.Address)
	if err := bound.ReadAll(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	a.authenticated = true
	a.token = uuid.NewString()
	a.mu.Unlock()
	if _, duplicate := a.entity.Realm().Cache().Unique(a.entity); duplicate {
		if err := a.entity.DisconnectSilent(ctx); err != nil {
			return a.entity.Fail("retiring duplicate instance")(err)
		}
	}
	return nil
}

// SignOut disconnects the keystore and clears the session.
func (a *Authenticating) SignOut(ctx context.Context) error {
	a.mu.Lock()
	keys := a.keys
	a.keys = nil
	a.identity = domain.Identity{}
	a.authenticated = false
	a.token = ""
	a.mu.Unlock()
	if keys != nil && keys.Connected() {
		if err := keys.Disconnect(ctx); err != nil {
			return a.entity.Fail("disconnecting keystore")(err)
		}
	}
	return nil
}

// Save persists the current keypair through the keystore.
func (a *Authenticating) Save(ctx context.Context) error {
	keys := a.KeyStore()
	if keys == nil || !keys.HasAccount() {
		return &core.GuardError{
			Op: "save keys", Requirement: core.RequireAccount,
			Label: a.entity.Label(), Reason: "has no keystore account",
		}
	}
	return KeysOf(keys).Save(ctx)
}

// Commit implements core.Master: it appends a record atom to account through
// this identity.
func (a *Authenticating) Commit(ctx context.Context, account domain.Account, payload map[string]any) error {
	if err := core.Require(a.entity, "commit",
		string(core.RequireAccount), string(core.RequireAuthenticated)); err != nil {
		return err
	}
	err := a.entity.Realm().Ledger().StoreRecord(ctx, a.Identity(), []domain.Account{account}, payload)
	if err != nil {
		return a.entity.Fail("storing record", account.Address)(err)
	}
	return nil
}

func (a *Authenticating) openKeyStore(ctx context.Context, locator, passphrase string) (*core.Entity, error) {
	keys, err := newChild(a.entity, "Keys")
	if err != nil {
		return nil, err
	}
	bound, err := KeysOf(keys).FromCredentials(locator, passphrase)
	if err != nil {
		return nil, err
	}
	if err := bound.ReadAll(ctx); err != nil {
		return nil, err
	}
	return bound, nil
}
