// Package domain defines the core value types of the podium entity engine:
// atoms, accounts, lifecycle events, coded errors, and status snapshots.
package domain

import (
	"encoding/json"
	"time"
)

// AtomAction identifies how an atom mutates the record it targets.
type AtomAction string

// Supported atom actions carried on the ledger stream.
const (
	// ActionStore appends data to the target record.
	ActionStore AtomAction = "STORE"
	// ActionDelete removes a previously stored atom's data.
	ActionDelete AtomAction = "DELETE"
)

// Atom is an immutable record read from, or submitted to, the ledger.
// Atoms are delivered per account in arrival order, which is not guaranteed
// to match logical order; entities re-sort their history by timestamp.
type Atom struct {
	ID         string         `json:"atom_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Action     AtomAction     `json:"action"`
	RecordType string         `json:"record_type"`
	Payload    map[string]any `json:"payload"`
}

// Field returns a payload value by key, or nil when absent.
func (a Atom) Field(key string) any {
	if a.Payload == nil {
		return nil
	}
	return a.Payload[key]
}

// StringField returns a payload value coerced to string, or "" when absent
// or of another type.
func (a Atom) StringField(key string) string {
	s, _ := a.Field(key).(string)
	return s
}

// BoolField returns a payload value coerced to bool.
func (a Atom) BoolField(key string) bool {
	b, _ := a.Field(key).(bool)
	return b
}

// NumberField returns a payload value coerced to float64. JSON decoding
// produces float64 for all numbers, so ints written by callers are normalised
// through Clone before comparison.
func (a Atom) NumberField(key string) float64 {
	switch v := a.Field(key).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// Clone returns a deep copy of the atom with its payload normalised through
// JSON round-tripping, so stored payloads never alias caller maps.
func (a Atom) Clone() Atom {
	cp := a
	if a.Payload != nil {
		raw, err := json.Marshal(a.Payload)
		if err == nil {
			var payload map[string]any
			if json.Unmarshal(raw, &payload) == nil {
				cp.Payload = payload
			}
		}
	}
	return cp
}

// Envelope wraps an atom with its delivery context: the nation namespace the
// atom was written under and the account address it was delivered to.
type Envelope struct {
	Namespace string `json:"namespace"`
	Address   string `json:"address"`
	Atom      Atom   `json:"atom"`
}

// Account is a ledger address that atoms are written to and read from.
// Addresses are either derived deterministically from a seed string or bound
// directly to a known address.
type Account struct {
	Address string `json:"address"`
}

// Short returns an abbreviated form of the address for logging.
func (a Account) Short() string {
	if len(a.Address) <= 8 {
		return a.Address
	}
	return a.Address[:4] + "…" + a.Address[len(a.Address)-4:]
}

// KeyPair holds the raw key material backing an identity.
type KeyPair struct {
	Public  []byte `json:"public"`
	Private []byte `json:"private"`
}

// Identity is an authenticated signing identity bound to an account. The
// concrete signing mechanics belong to the ledger implementation; the engine
// only routes writes through an identity's account.
type Identity struct {
	Account Account `json:"account"`
	KeyPair KeyPair `json:"key_pair"`
}
