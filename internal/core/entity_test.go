package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"podium/internal/ledger"
	"podium/internal/ledger/memory"
	"podium/pkg/domain"
)

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

func TestEntityWriteAndReadFoldsState(t *testing.T) {
	realm := newTestRealm(t)
	entity := boundEntity(t, realm, noteKind)
	ctx := context.Background()

	if err := entity.Write(ctx, map[string]any{"text": "hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := entity.ReadAll(ctx); err != nil {
		t.Fatalf("read: %v", err)
	}

	if !entity.Connected() {
		t.Fatal("entity not connected after read")
	}
	if !entity.Complete() {
		t.Fatal("entity not complete after sync signal")
	}
	if entity.Empty() {
		t.Fatal("entity with one atom reports empty")
	}
	var text string
	entity.WithStrategy(func(s Strategy) {
		text = s.(*Merged).GetString("text")
	})
	if text != "hello" {
		t.Fatalf("folded text = %q, want hello", text)
	}
}

func TestEntityAppliesLiveAtoms(t *testing.T) {
	realm := newTestRealm(t)
	entity := boundEntity(t, realm, noteKind)
	ctx := context.Background()

	if err := entity.ReadAll(ctx); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := entity.Write(ctx, map[string]any{"text": "late"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, "live atom fold", func() bool {
		var text string
		entity.WithStrategy(func(s Strategy) { text = s.(*Merged).GetString("text") })
		return text == "late"
	})
}

func TestEntityReconnectDoesNotRefoldSeenAtoms(t *testing.T) {
	realm := newTestRealm(t)
	entity := boundEntity(t, realm, noteKind)
	ctx := context.Background()

	if err := entity.Write(ctx, map[string]any{"text": "once"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := entity.ReadAll(ctx); err != nil {
		t.Fatalf("read: %v", err)
	}
	held := len(entity.History())
	if held != 1 {
		t.Fatalf("history holds %d atoms, want 1", held)
	}

	if err := entity.Disconnect(ctx); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if err := entity.ReadAll(ctx); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	// The backlog replays on reconnect; the atomsSeen gate must drop it.
	if got := len(entity.History()); got != held {
		t.Fatalf("history holds %d atoms after reconnect, want %d", got, held)
	}
}

func TestEntityConcurrentConnectsShareOneOperation(t *testing.T) {
	realm := newTestRealm(t)
	entity := boundEntity(t, realm, noteKind)
	ctx := context.Background()

	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() { errs <- entity.Connect(ctx) }()
	}
	for i := 0; i < 8; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("concurrent connect: %v", err)
		}
	}
	if !entity.Connected() {
		t.Fatal("entity not connected")
	}
	if err := entity.Disconnect(ctx); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
}

func TestEntityWillWriteListenerTransformsRecord(t *testing.T) {
	realm := newTestRealm(t)
	entity := boundEntity(t, realm, noteKind)
	ctx := context.Background()

	entity.On(domain.EventWillWrite, func(_ context.Context, payload domain.EventPayload) error {
		data, _ := payload.Data.(map[string]any)
		if data != nil {
			data["stamped"] = true
		}
		return nil
	})

	if err := entity.Write(ctx, map[string]any{"text": "raw"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := entity.ReadAll(ctx); err != nil {
		t.Fatalf("read: %v", err)
	}
	var stamped any
	entity.WithStrategy(func(s Strategy) { stamped = s.(*Merged).Get("stamped") })
	if stamped != true {
		t.Fatal("willWrite transformation did not land in the stored record")
	}
}

func TestEntityCreateBracketsFirstWriteOnly(t *testing.T) {
	realm := newTestRealm(t)
	entity := boundEntity(t, realm, noteKind)
	ctx := context.Background()

	creates := 0
	entity.On(domain.EventWillCreate, func(context.Context, domain.EventPayload) error {
		creates++
		return nil
	})

	if err := entity.Write(ctx, map[string]any{"text": "first"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := entity.ReadAll(ctx); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := entity.Write(ctx, map[string]any{"text": "second"}); err != nil {
		t.Fatalf("second write: %v", err)
	}
	if creates != 1 {
		t.Fatalf("willCreate fired %d times, want 1", creates)
	}
}

func TestEntityActChecksAuthToken(t *testing.T) {
	realm := newTestRealm(t)
	entity := boundEntity(t, realm, noteKind)
	ctx := context.Background()

	entity.RegisterAction("Ping", func(context.Context, []any) (any, error) {
		return "pong", nil
	})

	if _, err := entity.Act(ctx, "Ping", "wrong-token", nil); err == nil {
		t.Fatal("invalid auth token accepted")
	}
	var coded *domain.CodedError
	_, err := entity.Act(ctx, "Ping", "", nil)
	if !errors.As(err, &coded) || coded.Code != 6 {
		t.Fatalf("expected coded error 6, got %v", err)
	}

	out, err := entity.Act(ctx, "Ping", entity.Master().AuthToken(), nil)
	if err != nil {
		t.Fatalf("act with valid token: %v", err)
	}
	if out != "pong" {
		t.Fatalf("act result = %v", out)
	}
}

func TestEntityActUnknownAction(t *testing.T) {
	realm := newTestRealm(t)
	entity := boundEntity(t, realm, noteKind)

	var coded *domain.CodedError
	_, err := entity.Act(context.Background(), "Missing", entity.Master().AuthToken(), nil)
	if !errors.As(err, &coded) || coded.Code != 5 {
		t.Fatalf("expected coded error 5, got %v", err)
	}
}

func TestEntityAttributeWithAndWithout(t *testing.T) {
	realm := newTestRealm(t)
	entity := boundEntity(t, realm, noteKind)
	ctx := context.Background()

	entity.Attribute("Tally", func(ctx context.Context) (*Entity, error) {
		child, err := NewEntity(realm, entity, rosterKind)
		if err != nil {
			return nil, err
		}
		bound, err := child.FromSeed()
		if err != nil {
			return nil, err
		}
		if err := bound.Connect(ctx); err != nil {
			return nil, err
		}
		return bound, nil
	})

	if entity.AttributeEntity("Tally") != nil {
		t.Fatal("attribute connected before with")
	}
	if err := entity.With(ctx, "Tally"); err != nil {
		t.Fatalf("with: %v", err)
	}
	child := entity.AttributeEntity("Tally")
	if child == nil || !child.Connected() {
		t.Fatal("attribute entity not connected")
	}
	if err := entity.Without(ctx, "Tally"); err != nil {
		t.Fatalf("without: %v", err)
	}
	if entity.AttributeEntity("Tally") != nil {
		t.Fatal("attribute still attached after without")
	}
}

func TestEntityUnknownAttribute(t *testing.T) {
	realm := newTestRealm(t)
	entity := boundEntity(t, realm, noteKind)

	var coded *domain.CodedError
	err := entity.With(context.Background(), "Nonexistent")
	if !errors.As(err, &coded) || coded.Code != 4 {
		t.Fatalf("expected coded error 4, got %v", err)
	}
}

// mutedLedger wraps the memory store with subscriptions that never deliver
// the synchronized signal, exercising the bounded-timeout promotion.
type mutedLedger struct {
	*memory.Store
}

type mutedSubscription struct {
	ledger.Subscription
	synced chan bool
}

func (s mutedSubscription) Synced() <-chan bool { return s.synced }

func (l mutedLedger) Subscribe(address string) (ledger.Subscription, error) {
	sub, err := l.Store.Subscribe(address)
	if err != nil {
		return nil, err
	}
	return mutedSubscription{Subscription: sub, synced: make(chan bool)}, nil
}

func TestEntityPromotesToCompleteOnSyncTimeout(t *testing.T) {
	realm := newTestRealm(t)
	realm.ledger = mutedLedger{Store: memory.NewStore(realm.fullname)}
	if err := realm.ledger.Connect(context.Background()); err != nil {
		t.Fatalf("connecting ledger: %v", err)
	}
	entity := boundEntity(t, realm, noteKind)

	start := time.Now()
	if err := entity.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !entity.Complete() {
		t.Fatal("entity not promoted to complete after sync timeout")
	}
	if elapsed := time.Since(start); elapsed < realm.cfg.SyncTimeout {
		t.Fatalf("connect returned after %v, before the %v timeout", elapsed, realm.cfg.SyncTimeout)
	}
}

func TestEntityStatusSnapshot(t *testing.T) {
	realm := newTestRealm(t)
	entity := boundEntity(t, realm, noteKind)
	ctx := context.Background()

	if err := entity.Write(ctx, map[string]any{"text": "snap"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := entity.ReadAll(ctx); err != nil {
		t.Fatalf("read: %v", err)
	}

	status := entity.Status()
	if status.Name != "Note" {
		t.Fatalf("status name = %q", status.Name)
	}
	if status.Address != entity.Address() {
		t.Fatalf("status address = %q", status.Address)
	}
	if !status.Connected || !status.Complete || status.Empty {
		t.Fatalf("status flags = %+v", status)
	}
	if len(status.History) != 1 {
		t.Fatalf("status history holds %d atoms, want 1", len(status.History))
	}
}
