// Package memory provides an in-process ledger: an append-only atom journal
// with per-account fan-out. It backs tests and ephemeral nations, and the
// sqlite and postgres drivers embed it for their live state.
package memory

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"podium/internal/ledger"
	"podium/pkg/domain"
)

// Store is the in-memory ledger. All mutation goes through the store mutex;
// atom delivery to subscribers runs on per-subscription goroutines so a slow
// consumer never blocks writers.
type Store struct {
	namespace string

	mu        sync.Mutex
	connected bool
	journal   map[string][]domain.Envelope
	subs      map[string][]*subscription
	tokens    map[string]ledger.TokenDefinition
	balances  map[string]map[string]float64
	transfers map[string][]ledger.Transfer
	balSubs   map[string][]*balanceSubscription

	// appendHook, when set, observes every journal append under the store
	// lock. The durable drivers use it to mirror the journal to disk.
	appendHook func(env domain.Envelope) error
	// economyHook observes token, balance, and transfer mutations.
	economyHook func() error
}

// NewStore constructs an empty memory ledger scoped to namespace.
func NewStore(namespace string) *Store {
	return &Store{
		namespace: namespace,
		journal:   make(map[string][]domain.Envelope),
		subs:      make(map[string][]*subscription),
		tokens:    make(map[string]ledger.TokenDefinition),
		balances:  make(map[string]map[string]float64),
		transfers: make(map[string][]ledger.Transfer),
		balSubs:   make(map[string][]*balanceSubscription),
	}
}

// Namespace returns the nation namespace this ledger writes under.
func (s *Store) Namespace() string { return s.namespace }

// SetHooks installs journal and economy observers. Durable drivers call this
// before serving traffic.
func (s *Store) SetHooks(appendHook func(domain.Envelope) error, economyHook func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendHook = appendHook
	s.economyHook = economyHook
}

// Connect marks the ledger reachable.
func (s *Store) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

// Disconnect closes every open subscription.
func (s *Store) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	for _, subs := range s.subs {
		for _, sub := range subs {
			sub.close()
		}
	}
	s.subs = make(map[string][]*subscription)
	for _, subs := range s.balSubs {
		for _, sub := range subs {
			sub.close()
		}
	}
	s.balSubs = make(map[string][]*balanceSubscription)
	return nil
}

// IdentityForNew generates a fresh signing identity.
func (s *Store) IdentityForNew() (domain.Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("generate keypair: %w", err)
	}
	kp := domain.KeyPair{Public: pub, Private: priv}
	return s.IdentityForKeyPair(kp)
}

// IdentityForKeyPair derives the identity bound to existing key material.
func (s *Store) IdentityForKeyPair(kp domain.KeyPair) (domain.Identity, error) {
	if len(kp.Public) == 0 {
		return domain.Identity{}, fmt.Errorf("empty public key")
	}
	return domain.Identity{
		Account: domain.Account{Address: deriveAddress(kp.Public)},
		KeyPair: kp,
	}, nil
}

// AccountForSeed derives a deterministic account from a seed string. The
// namespace is folded in so distinct nations never collide on the same seed.
func (s *Store) AccountForSeed(seed string) domain.Account {
	return domain.Account{Address: deriveAddress([]byte(s.namespace + "/" + seed))}
}

// AccountForAddress wraps a known address.
func (s *Store) AccountForAddress(address string) domain.Account {
	return domain.Account{Address: address}
}

func deriveAddress(material []byte) string {
	sum := sha256.Sum256(material)
	return "POD" + strings.ToUpper(hex.EncodeToString(sum[:20]))
}

// StoreRecord appends one STORE atom carrying payload to every listed account.
// All accounts receive the same atom ID so cross-index deletes line up.
func (s *Store) StoreRecord(ctx context.Context, identity domain.Identity, accounts []domain.Account, payload map[string]any) error {
	if identity.Account.Address == "" {
		return fmt.Errorf("store record: identity has no account")
	}
	if len(accounts) == 0 {
		return fmt.Errorf("store record: no target accounts")
	}
	record, _ := payload["record"].(string)
	atom := domain.Atom{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		Action:     domain.ActionStore,
		RecordType: record,
		Payload:    payload,
	}.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, account := range accounts {
		if err := s.appendLocked(account.Address, atom); err != nil {
			return err
		}
	}
	return nil
}

// EraseRecord re-delivers a stored atom with a DELETE action on each account
// that holds it. The atom keeps its original ID and payload so folds can
// locate the data to remove.
func (s *Store) EraseRecord(ctx context.Context, identity domain.Identity, accounts []domain.Account, atomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for _, account := range accounts {
		for _, env := range s.journal[account.Address] {
			if env.Atom.ID != atomID || env.Atom.Action != domain.ActionStore {
				continue
			}
			tombstone := env.Atom
			tombstone.Action = domain.ActionDelete
			tombstone.Timestamp = time.Now().UTC()
			if err := s.appendLocked(account.Address, tombstone); err != nil {
				return err
			}
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("erase record: atom %s not found", atomID)
	}
	return nil
}

func (s *Store) appendLocked(address string, atom domain.Atom) error {
	env := domain.Envelope{Namespace: s.namespace, Address: address, Atom: atom}
	if s.appendHook != nil {
		if err := s.appendHook(env); err != nil {
			return err
		}
	}
	s.journal[address] = append(s.journal[address], env)
	for _, sub := range s.subs[address] {
		sub.push(env)
	}
	return nil
}

// StoreToken mints a token and credits amount of it to the minting identity.
func (s *Store) StoreToken(ctx context.Context, identity domain.Identity, token ledger.TokenDefinition, amount float64) error {
	if token.Symbol == "" {
		return fmt.Errorf("store token: empty symbol")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokens[token.Symbol]; exists {
		return fmt.Errorf("store token: %s already minted", token.Symbol)
	}
	s.tokens[token.Symbol] = token
	s.creditLocked(identity.Account.Address, token.Symbol, amount)
	if s.economyHook != nil {
		return s.economyHook()
	}
	return nil
}

// StoreTransaction moves amount of token from the identity's account to the
// recipient. The sender must hold sufficient balance.
func (s *Store) StoreTransaction(ctx context.Context, identity domain.Identity, recipient domain.Account, token string, amount float64, meta map[string]any) error {
	if amount <= 0 {
		return fmt.Errorf("store transaction: non-positive amount %v", amount)
	}
	from := identity.Account.Address
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokens[token]; !exists {
		return fmt.Errorf("store transaction: unknown token %s", token)
	}
	if s.balances[from][token] < amount {
		return fmt.Errorf("store transaction: insufficient %s balance on %s", token, from)
	}
	s.creditLocked(from, token, -amount)
	s.creditLocked(recipient.Address, token, amount)
	tr := ledger.Transfer{
		From:      from,
		To:        recipient.Address,
		Token:     token,
		Amount:    amount,
		Meta:      meta,
		Timestamp: time.Now().UTC(),
	}
	s.transfers[from] = append(s.transfers[from], tr)
	s.transfers[recipient.Address] = append(s.transfers[recipient.Address], tr)
	if s.economyHook != nil {
		return s.economyHook()
	}
	return nil
}

func (s *Store) creditLocked(address, symbol string, amount float64) {
	if s.balances[address] == nil {
		s.balances[address] = make(map[string]float64)
	}
	s.balances[address][symbol] += amount
	snapshot := make(map[string]float64, len(s.balances[address]))
	for sym, bal := range s.balances[address] {
		snapshot[sym] = bal
	}
	for _, sub := range s.balSubs[address] {
		sub.push(snapshot)
	}
}

// Balance reports the current holding of symbol on address.
func (s *Store) Balance(address, symbol string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[address][symbol]
}

// Transfers returns the transfer history touching address.
func (s *Store) Transfers(address string) []ledger.Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Transfer, len(s.transfers[address]))
	copy(out, s.transfers[address])
	return out
}

// Subscribe opens an atom stream for address. The backlog at call time is
// replayed first, then a single true is sent on Synced, then live atoms
// follow in append order.
func (s *Store) Subscribe(address string) (ledger.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, fmt.Errorf("subscribe: ledger not connected")
	}
	backlog := make([]domain.Envelope, len(s.journal[address]))
	copy(backlog, s.journal[address])
	sub := newSubscription()
	s.subs[address] = append(s.subs[address], sub)
	go sub.run(backlog)
	return sub, nil
}

// Balances opens a balance stream for address. The current snapshot is
// delivered first.
func (s *Store) Balances(address string) (ledger.BalanceSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, fmt.Errorf("balances: ledger not connected")
	}
	snapshot := make(map[string]float64, len(s.balances[address]))
	for sym, bal := range s.balances[address] {
		snapshot[sym] = bal
	}
	sub := newBalanceSubscription()
	s.balSubs[address] = append(s.balSubs[address], sub)
	go sub.run(snapshot)
	return sub, nil
}

// ImportJournal seeds the journal from persisted envelopes, in order. Durable
// drivers call this once at open, before any subscription exists.
func (s *Store) ImportJournal(envs []domain.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, env := range envs {
		s.journal[env.Address] = append(s.journal[env.Address], env)
	}
}

// EconomySnapshot captures tokens, balances, and transfers for persistence.
type EconomySnapshot struct {
	Tokens    map[string]ledger.TokenDefinition `json:"tokens"`
	Balances  map[string]map[string]float64     `json:"balances"`
	Transfers map[string][]ledger.Transfer      `json:"transfers"`
}

// ExportEconomy copies the current economic state. Callers may invoke it from
// inside an economy hook; it takes no lock of its own when called there.
func (s *Store) ExportEconomy() EconomySnapshot {
	snap := EconomySnapshot{
		Tokens:    make(map[string]ledger.TokenDefinition, len(s.tokens)),
		Balances:  make(map[string]map[string]float64, len(s.balances)),
		Transfers: make(map[string][]ledger.Transfer, len(s.transfers)),
	}
	for sym, tok := range s.tokens {
		snap.Tokens[sym] = tok
	}
	for addr, bals := range s.balances {
		cp := make(map[string]float64, len(bals))
		for sym, bal := range bals {
			cp[sym] = bal
		}
		snap.Balances[addr] = cp
	}
	for addr, trs := range s.transfers {
		cp := make([]ledger.Transfer, len(trs))
		copy(cp, trs)
		snap.Transfers[addr] = cp
	}
	return snap
}

// ImportEconomy restores economic state from a snapshot.
func (s *Store) ImportEconomy(snap EconomySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.Tokens != nil {
		s.tokens = snap.Tokens
	}
	if snap.Balances != nil {
		s.balances = snap.Balances
	}
	if snap.Transfers != nil {
		s.transfers = snap.Transfers
	}
}

var _ ledger.Ledger = (*Store)(nil)
