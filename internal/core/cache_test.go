package core

import (
	"sync"
	"testing"
)

func TestCacheFirstRegistrationWins(t *testing.T) {
	realm := newTestRealm(t)

	first := boundEntity(t, realm, noteKind)
	second, err := NewEntity(realm, nil, noteKind)
	if err != nil {
		t.Fatalf("constructing duplicate: %v", err)
	}
	held, err := second.FromSeed()
	if err != nil {
		t.Fatalf("binding duplicate: %v", err)
	}
	if held != first {
		t.Fatal("second bind did not resolve to the cached instance")
	}
	if realm.Cache().Get(first.Address()) != first {
		t.Fatal("cache lookup returned a different instance")
	}
}

func TestCacheUniqueMergesDuplicateAuth(t *testing.T) {
	realm := newTestRealm(t)
	canonical := boundEntity(t, realm, noteKind)

	duplicate, err := NewEntity(realm, nil, noteKind)
	if err != nil {
		t.Fatalf("constructing duplicate: %v", err)
	}
	master := newTestMaster(t, realm)
	duplicate.SetMaster(master)
	// Blind construction: the duplicate learns its address only at sign-in.
	duplicate.mu.Lock()
	account := realm.Ledger().AccountForAddress(canonical.Address())
	duplicate.account = &account
	duplicate.mu.Unlock()

	held, wasDuplicate := realm.Cache().Unique(duplicate)
	if !wasDuplicate {
		t.Fatal("duplicate not detected")
	}
	if held != canonical {
		t.Fatal("unique did not return the canonical instance")
	}
	if canonical.Master() != master {
		t.Fatal("duplicate's authenticated master not merged into canonical")
	}
}

func TestCacheUniqueRegistersUnknownAddress(t *testing.T) {
	realm := newTestRealm(t)
	entity := boundEntity(t, realm, noteKind)
	realm.Cache().Drop(entity.Address())

	held, wasDuplicate := realm.Cache().Unique(entity)
	if wasDuplicate {
		t.Fatal("fresh address flagged as duplicate")
	}
	if held != entity {
		t.Fatal("unique replaced a fresh instance")
	}
}

func TestCacheConcurrentPutSingleWinner(t *testing.T) {
	realm := newTestRealm(t)
	entity := boundEntity(t, realm, noteKind)
	address := entity.Address()

	var wg sync.WaitGroup
	results := make([]*Entity, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fresh, err := NewEntity(realm, nil, noteKind)
			if err != nil {
				t.Errorf("constructing: %v", err)
				return
			}
			results[i] = fresh.FromAddress(address)
		}(i)
	}
	wg.Wait()
	for i, held := range results {
		if held != entity {
			t.Fatalf("goroutine %d observed a non-canonical instance", i)
		}
	}
}

func TestCacheDrop(t *testing.T) {
	realm := newTestRealm(t)
	entity := boundEntity(t, realm, noteKind)
	realm.Cache().Drop(entity.Address())
	if realm.Cache().Get(entity.Address()) != nil {
		t.Fatal("dropped entity still cached")
	}
}
