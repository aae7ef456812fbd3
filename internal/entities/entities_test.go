package entities

import (
	"context"
	"sync"
	"testing"
	"time"

	"podium/internal/blob"
	"podium/internal/core"
	"podium/internal/ledger"
	"podium/internal/ledger/memory"
	"podium/pkg/logging"
)

// testRealm runs the full kind set against a connected memory ledger and a
// memory blob store. Alerts are recorded for assertions.
type testRealm struct {
	fullname string
	ledger   ledger.Ledger
	blobs    blob.Store
	cache    *core.Cache
	kinds    *core.KindRegistry
	logger   *logging.Logger
	cfg      core.Config

	mu     sync.Mutex
	alerts []map[string]any
}

func newTestRealm(t *testing.T) *testRealm {
	t.Helper()
	led := memory.NewStore("test|nation")
	if err := led.Connect(context.Background()); err != nil {
		t.Fatalf("connecting memory ledger: %v", err)
	}
	realm := &testRealm{
		fullname: "test|nation",
		ledger:   led,
		blobs:    blob.NewMemory(),
		cache:    core.NewCache(),
		kinds:    core.NewKindRegistry(),
		logger:   logging.Discard(),
		cfg:      core.Config{SyncTimeout: 100 * time.Millisecond},
	}
	if err := Register(realm.kinds); err != nil {
		t.Fatalf("registering kinds: %v", err)
	}
	return realm
}

func (r *testRealm) Fullname() string             { return r.fullname }
func (r *testRealm) Ledger() ledger.Ledger        { return r.ledger }
func (r *testRealm) Blobs() blob.Store            { return r.blobs }
func (r *testRealm) Cache() *core.Cache           { return r.cache }
func (r *testRealm) Kinds() *core.KindRegistry    { return r.kinds }
func (r *testRealm) Logger() *logging.Logger      { return r.logger }
func (r *testRealm) Config() core.Config          { return r.cfg }
func (r *testRealm) Metrics() core.MetricsRecorder {
	return core.NoopMetrics{}
}
func (r *testRealm) Live() bool { return true }

func (r *testRealm) Alert(_ context.Context, kind string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	alert := map[string]any{"kind": kind}
	for key, value := range payload {
		alert[key] = value
	}
	r.alerts = append(r.alerts, alert)
}

// alerted reports whether an alert of kind with the given field value was
// raised.
func (r *testRealm) alerted(kind, field, value string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, alert := range r.alerts {
		if alert["kind"] != kind {
			continue
		}
		if held, _ := alert[field].(string); held == value {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// registeredUser creates a new member with the given handle.
func registeredUser(t *testing.T, realm *testRealm, alias, passphrase string) *core.Entity {
	t.Helper()
	user, err := core.NewEntity(realm, nil, UserKind)
	if err != nil {
		t.Fatalf("constructing user: %v", err)
	}
	if err := RegisteringOf(user).Create(context.Background(), alias, passphrase); err != nil {
		t.Fatalf("creating user %s: %v", alias, err)
	}
	return user
}

// foundedDomain creates a domain governed by founder, issuing one token with
// the given pricing.
func foundedDomain(t *testing.T, realm *testRealm, founder *core.Entity, id, symbol string, volume float64, pricing map[string]any) *core.Entity {
	t.Helper()
	dom, err := core.NewEntity(realm, founder, DomainKind)
	if err != nil {
		t.Fatalf("constructing domain: %v", err)
	}
	grants := []TokenGrant{{
		Designation: map[string]any{"symbol": symbol, "name": symbol + " token"},
		SeedVolume:  volume,
		Config:      map[string]any{"pricing": pricing},
	}}
	if err := FoundingOf(dom).Create(context.Background(), id, grants); err != nil {
		t.Fatalf("creating domain %s: %v", id, err)
	}
	return dom
}
