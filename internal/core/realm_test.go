package core

import (
	"context"
	"testing"
	"time"

	"podium/internal/blob"
	"podium/internal/ledger"
	"podium/internal/ledger/memory"
	"podium/pkg/domain"
	"podium/pkg/logging"
)

// testRealm is the minimal realm entities need in engine tests: a connected
// memory ledger, a memory blob store, and silent logging.
type testRealm struct {
	fullname string
	ledger   ledger.Ledger
	blobs    blob.Store
	cache    *Cache
	kinds    *KindRegistry
	logger   *logging.Logger
	cfg      Config
}

func newTestRealm(t *testing.T) *testRealm {
	t.Helper()
	led := memory.NewStore("test|nation")
	if err := led.Connect(context.Background()); err != nil {
		t.Fatalf("connecting memory ledger: %v", err)
	}
	return &testRealm{
		fullname: "test|nation",
		ledger:   led,
		blobs:    blob.NewMemory(),
		cache:    NewCache(),
		kinds:    NewKindRegistry(),
		logger:   logging.Discard(),
		cfg:      Config{SyncTimeout: 100 * time.Millisecond},
	}
}

func (r *testRealm) Fullname() string        { return r.fullname }
func (r *testRealm) Ledger() ledger.Ledger   { return r.ledger }
func (r *testRealm) Blobs() blob.Store       { return r.blobs }
func (r *testRealm) Cache() *Cache           { return r.cache }
func (r *testRealm) Kinds() *KindRegistry    { return r.kinds }
func (r *testRealm) Logger() *logging.Logger { return r.logger }
func (r *testRealm) Config() Config          { return r.cfg }
func (r *testRealm) Metrics() MetricsRecorder {
	return NoopMetrics{}
}
func (r *testRealm) Live() bool { return true }
func (r *testRealm) Alert(context.Context, string, map[string]any) {}

// testMaster authenticates immediately and commits through the realm's
// ledger, standing in for the authenticating trait.
type testMaster struct {
	realm    Realm
	identity domain.Identity
	token    string
}

func newTestMaster(t *testing.T, realm Realm) *testMaster {
	t.Helper()
	identity, err := realm.Ledger().IdentityForNew()
	if err != nil {
		t.Fatalf("generating identity: %v", err)
	}
	return &testMaster{realm: realm, identity: identity, token: "token-" + identity.Account.Short()}
}

func (m *testMaster) Authenticated() bool       { return true }
func (m *testMaster) AuthToken() string         { return m.token }
func (m *testMaster) Identity() domain.Identity { return m.identity }
func (m *testMaster) Commit(ctx context.Context, account domain.Account, payload map[string]any) error {
	return m.realm.Ledger().StoreRecord(ctx, m.identity, []domain.Account{account}, payload)
}

// noteKind is a plain merged kind with a fixed seed for engine tests.
var noteKind = &Kind{
	Name: "Note",
	Seed: func(e *Entity) (string, error) { return "note-under-test", nil },
	Strategy: func() Strategy {
		return NewMerged(map[string]any{"text": ""}, nil)
	},
}

// rosterKind is an indexed kind for engine tests.
var rosterKind = &Kind{
	Name:     "Roster",
	Seed:     func(e *Entity) (string, error) { return "roster-under-test", nil },
	Strategy: func() Strategy { return NewIndexed() },
}

// boundEntity builds an entity of kind, binds it via its seed, and attaches a
// fresh authenticated master.
func boundEntity(t *testing.T, realm Realm, kind *Kind) *Entity {
	t.Helper()
	e, err := NewEntity(realm, nil, kind)
	if err != nil {
		t.Fatalf("constructing %s: %v", kind.Name, err)
	}
	bound, err := e.FromSeed()
	if err != nil {
		t.Fatalf("binding %s: %v", kind.Name, err)
	}
	bound.SetMaster(newTestMaster(t, realm))
	return bound
}

// atom builds one in-order history entry.
func atom(id string, at time.Time, payload map[string]any) AtomData {
	return AtomData{AtomID: id, Timestamp: at, Append: true, Payload: payload}
}
