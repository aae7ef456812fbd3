// Package ledger defines the abstract append-only ledger the entity engine
// synchronizes against, together with memory, sqlite, and postgres backends.
// The engine never depends on a concrete distributed ledger; it only needs
// account derivation, record submission, and per-account atom subscriptions
// with a synchronized signal.
package ledger

import (
	"context"
	"time"

	"podium/pkg/domain"
)

// Driver identifies a concrete ledger implementation.
type Driver string

// Supported ledger drivers.
const (
	DriverMemory   Driver = "memory"   // in-process only (tests / ephemeral)
	DriverSQLite   Driver = "sqlite"   // embedded sqlite journal
	DriverPostgres Driver = "postgres" // PostgreSQL-backed journal
)

// Config carries ledger construction parameters.
type Config struct {
	Driver      Driver
	Namespace   string // nation fullname stamped onto every envelope
	SQLitePath  string
	PostgresDSN string
}

// TokenDefinition describes a token to be minted on the ledger.
type TokenDefinition struct {
	Symbol string  `json:"symbol"`
	Name   string  `json:"name"`
	Supply float64 `json:"supply"`
}

// Transfer records a token movement between two addresses.
type Transfer struct {
	From      string         `json:"from"`
	To        string         `json:"to"`
	Token     string         `json:"token"`
	Amount    float64        `json:"amount"`
	Meta      map[string]any `json:"meta,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Subscription streams one account's atoms. Atoms are delivered in arrival
// order; Synced reports true once the backlog at subscription time has been
// replayed. The upstream signal is not guaranteed to arrive, which is why the
// entity core pairs it with a bounded timeout.
type Subscription interface {
	Atoms() <-chan domain.Envelope
	Synced() <-chan bool
	Cancel()
}

// BalanceSubscription streams per-symbol balance snapshots for one account.
// This is a separate channel from atom history.
type BalanceSubscription interface {
	Updates() <-chan map[string]float64
	Cancel()
}

// Ledger is the collaborator contract the entity engine depends on.
type Ledger interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	IdentityForNew() (domain.Identity, error)
	IdentityForKeyPair(kp domain.KeyPair) (domain.Identity, error)
	AccountForSeed(seed string) domain.Account
	AccountForAddress(address string) domain.Account

	// StoreRecord submits a STORE atom carrying payload to every listed
	// account. The payload's "record" field tags the record type.
	StoreRecord(ctx context.Context, identity domain.Identity, accounts []domain.Account, payload map[string]any) error
	// EraseRecord re-submits a previously stored atom with a DELETE action.
	EraseRecord(ctx context.Context, identity domain.Identity, accounts []domain.Account, atomID string) error
	StoreToken(ctx context.Context, identity domain.Identity, token TokenDefinition, amount float64) error
	StoreTransaction(ctx context.Context, identity domain.Identity, recipient domain.Account, token string, amount float64, meta map[string]any) error

	Subscribe(address string) (Subscription, error)
	Balances(address string) (BalanceSubscription, error)
	Balance(address, symbol string) float64
	Transfers(address string) []Transfer
}
