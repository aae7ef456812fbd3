package traits

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"

	"podium/internal/core"
	"podium/pkg/domain"
)

// Keys manages an entity's encrypted keypair record: the account seed is
// derived from the locator and passphrase, so only a holder of both can find
// and open the stored keys. Every received atom re-decrypts the latest
// keypair.
type Keys struct {
	entity *core.Entity

	mu        sync.Mutex
	locator   string
	encryptor string
	encrypted map[string]any
	keyPair   *domain.KeyPair
}

// NewKeys builds Keys trait instances.
func NewKeys() core.TraitFactory {
	return func() core.Trait { return &Keys{} }
}

// Name implements core.Trait.
func (k *Keys) Name() string { return "Keys" }

// Attach implements core.Trait.
func (k *Keys) Attach(e *core.Entity) error {
	k.entity = e
	refresh := func(ctx context.Context, _ domain.EventPayload) error {
		return k.refresh()
	}
	e.On(domain.EventOnAdd, refresh)
	e.On(domain.EventOnDelete, refresh)
	return nil
}

// KeysOf returns the entity's Keys trait, or nil.
func KeysOf(e *core.Entity) *Keys {
	k, _ := e.Trait("Keys").(*Keys)
	return k
}

// KeyStoreKind is the kind descriptor for keystore accounts.
var KeyStoreKind = newKeyStoreKind()

func newKeyStoreKind() *core.Kind {
	kind := &core.Kind{
		Name: "Keys",
		Seed: func(e *core.Entity) (string, error) {
			keys := KeysOf(e)
			if keys == nil {
				return "", fmt.Errorf("keystore requires the Keys trait")
			}
			locator, encryptor := keys.credentials()
			if locator == "" || encryptor == "" {
				return "", fmt.Errorf("keystore requires credentials before binding")
			}
			return fmt.Sprintf("keystore-for-%s-%s", locator, encryptor), nil
		},
		Strategy: func() core.Strategy { return core.NewMerged(nil, nil) },
		Traits:   []core.TraitFactory{NewKeys()},
	}
	kind.New = func(realm core.Realm, parent *core.Entity) (*core.Entity, error) {
		return core.NewEntity(realm, parent, kind)
	}
	return kind
}

func (k *Keys) credentials() (locator, encryptor string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.locator, k.encryptor
}

// FromCredentials binds the keystore account derived from locator and
// passphrase.
func (k *Keys) FromCredentials(locator, passphrase string) (*core.Entity, error) {
	k.mu.Lock()
	k.locator = locator
	k.encryptor = passphrase
	k.mu.Unlock()
	return k.entity.FromSeed()
}

// FromEncrypted primes the keystore with an already-encrypted keypair without
// touching the ledger.
func (k *Keys) FromEncrypted(sealed map[string]any, passphrase string) {
	k.mu.Lock()
	k.encryptor = passphrase
	k.encrypted = sealed
	k.mu.Unlock()
}

// Decrypt opens the held encrypted keypair with the passphrase.
func (k *Keys) Decrypt() error {
	k.mu.Lock()
	sealed, passphrase := k.encrypted, k.encryptor
	k.mu.Unlock()
	if sealed == nil {
		k.mu.Lock()
		k.keyPair = nil
		k.mu.Unlock()
		return nil
	}
	kp, err := openKeyPair(sealed, passphrase)
	if err != nil {
		return err
	}
	k.mu.Lock()
	k.keyPair = &kp
	k.mu.Unlock()
	return nil
}

// refresh re-decrypts from the latest history entry, clearing the keypair
// when the history is empty.
func (k *Keys) refresh() error {
	history := k.entity.History()
	if len(history) == 0 {
		k.mu.Lock()
		k.encrypted = nil
		k.keyPair = nil
		k.mu.Unlock()
		return nil
	}
	sealed, _ := history[len(history)-1].Field("keys").(map[string]any)
	if sealed == nil {
		return nil
	}
	k.mu.Lock()
	k.encrypted = sealed
	k.mu.Unlock()
	return k.Decrypt()
}

// KeyPair returns the decrypted keypair, if any.
func (k *Keys) KeyPair() (domain.KeyPair, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.keyPair == nil {
		return domain.KeyPair{}, false
	}
	return *k.keyPair, true
}

// Encrypted returns the sealed keypair record, if any.
func (k *Keys) Encrypted() map[string]any {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.encrypted
}

// Save encrypts the master's keypair under the passphrase and writes it to
// the keystore account.
func (k *Keys) Save(ctx context.Context) error {
	if err := core.Require(k.entity, "save keys",
		string(core.RequireAccount), string(core.RequireAuthenticated)); err != nil {
		return err
	}
	master := k.entity.Master()
	kp := master.Identity().KeyPair
	k.mu.Lock()
	passphrase := k.encryptor
	k.keyPair = &kp
	k.mu.Unlock()
	sealed, err := sealKeyPair(kp, passphrase)
	if err != nil {
		return k.entity.Fail("encrypting keypair")(err)
	}
	return k.entity.Write(ctx, map[string]any{"keys": sealed})
}

// Keypair sealing: argon2id derives the secretbox key from the passphrase.
const (
	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4
)

func sealKeyPair(kp domain.KeyPair, passphrase string) (map[string]any, error) {
	plain, err := json.Marshal(kp)
	if err != nil {
		return nil, err
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	var key [32]byte
	copy(key[:], argon2.IDKey([]byte(passphrase), salt, kdfTime, kdfMemory, kdfThreads, 32))
	box := secretbox.Seal(nil, plain, &nonce, &key)
	return map[string]any{
		"kdf":   "argon2id",
		"salt":  base64.StdEncoding.EncodeToString(salt),
		"nonce": base64.StdEncoding.EncodeToString(nonce[:]),
		"box":   base64.StdEncoding.EncodeToString(box),
	}, nil
}

func openKeyPair(sealed map[string]any, passphrase string) (domain.KeyPair, error) {
	decode := func(key string) ([]byte, error) {
		s, _ := sealed[key].(string)
		if s == "" {
			return nil, fmt.Errorf("sealed keypair is missing %q", key)
		}
		return base64.StdEncoding.DecodeString(s)
	}
	salt, err := decode("salt")
	if err != nil {
		return domain.KeyPair{}, err
	}
	rawNonce, err := decode("nonce")
	if err != nil {
		return domain.KeyPair{}, err
	}
	box, err := decode("box")
	if err != nil {
		return domain.KeyPair{}, err
	}
	if len(rawNonce) != 24 {
		return domain.KeyPair{}, fmt.Errorf("sealed keypair nonce has length %d", len(rawNonce))
	}
	var nonce [24]byte
	copy(nonce[:], rawNonce)
	var key [32]byte
	copy(key[:], argon2.IDKey([]byte(passphrase), salt, kdfTime, kdfMemory, kdfThreads, 32))
	plain, ok := secretbox.Open(nil, box, &nonce, &key)
	if !ok {
		return domain.KeyPair{}, fmt.Errorf("keypair decryption failed")
	}
	var kp domain.KeyPair
	if err := json.Unmarshal(plain, &kp); err != nil {
		return domain.KeyPair{}, err
	}
	return kp, nil
}
