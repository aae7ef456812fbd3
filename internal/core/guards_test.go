package core

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRequireAccount(t *testing.T) {
	realm := newTestRealm(t)
	blank, err := NewEntity(realm, nil, noteKind)
	if err != nil {
		t.Fatalf("constructing: %v", err)
	}

	err = Require(blank, "write", string(RequireAccount))
	var guard *GuardError
	if !errors.As(err, &guard) {
		t.Fatalf("expected GuardError, got %v", err)
	}
	if guard.Requirement != RequireAccount || guard.Op != "write" {
		t.Fatalf("guard = %+v", guard)
	}

	if _, err := blank.FromSeed(); err != nil {
		t.Fatalf("binding: %v", err)
	}
	if err := Require(blank, "write", string(RequireAccount)); err != nil {
		t.Fatalf("bound entity failed account guard: %v", err)
	}
}

func TestRequireAuthenticated(t *testing.T) {
	realm := newTestRealm(t)
	entity, err := NewEntity(realm, nil, noteKind)
	if err != nil {
		t.Fatalf("constructing: %v", err)
	}

	if err := Require(entity, "act", string(RequireAuthenticated)); err == nil {
		t.Fatal("masterless entity passed authentication guard")
	}
	entity.SetMaster(newTestMaster(t, realm))
	if err := Require(entity, "act", string(RequireAuthenticated)); err != nil {
		t.Fatalf("authenticated entity failed guard: %v", err)
	}
}

func TestRequireBlankAndPopulated(t *testing.T) {
	realm := newTestRealm(t)
	entity := boundEntity(t, realm, noteKind)

	if err := Require(entity, "create", string(RequireBlank)); err != nil {
		t.Fatalf("empty entity failed blank guard: %v", err)
	}
	if err := Require(entity, "update", string(RequirePopulated)); err == nil {
		t.Fatal("empty unsynced entity passed populated guard")
	}
}

func TestRequireScopedToUnknownAttribute(t *testing.T) {
	realm := newTestRealm(t)
	entity := boundEntity(t, realm, noteKind)

	err := Require(entity, "count", "Posts:Complete")
	if err == nil {
		t.Fatal("unknown attribute scope passed guard")
	}
	if !strings.Contains(err.Error(), "Posts") {
		t.Fatalf("error does not name the missing attribute: %v", err)
	}
}

func TestRequireUnknownRequirement(t *testing.T) {
	realm := newTestRealm(t)
	entity := boundEntity(t, realm, noteKind)
	if err := Require(entity, "op", "Levitating"); err == nil {
		t.Fatal("unknown requirement accepted")
	}
}

func TestGuardRunsBeforeSideEffects(t *testing.T) {
	realm := newTestRealm(t)
	blank, err := NewEntity(realm, nil, noteKind)
	if err != nil {
		t.Fatalf("constructing: %v", err)
	}
	// Write on an unbound entity must fail on the guard without reaching the
	// ledger.
	if err := blank.Write(context.Background(), map[string]any{"text": "x"}); err == nil {
		t.Fatal("write on unbound entity succeeded")
	}
}
