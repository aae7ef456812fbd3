package entities

import (
	"context"
	"strings"
	"testing"

	"podium/internal/core"
)

func TestStorableRegisterStoresAndRecords(t *testing.T) {
	realm := newTestRealm(t)
	user := registeredUser(t, realm, "shutter", "pw")
	ctx := context.Background()

	media, err := core.NewEntity(realm, user, MediaKind)
	if err != nil {
		t.Fatalf("constructing media: %v", err)
	}
	data := []byte("not really a png, but stable bytes")
	bound, err := StorableOf(media).Register(ctx, data, "png")
	if err != nil {
		t.Fatalf("registering: %v", err)
	}

	key := StorableOf(bound).Key()
	if !strings.HasPrefix(key, "media/") || !strings.HasSuffix(key, ".png") {
		t.Fatalf("blob key = %q", key)
	}
	info, err := realm.Blobs().Head(ctx, key)
	if err != nil {
		t.Fatalf("stored object missing: %v", err)
	}
	if info.Size != int64(len(data)) {
		t.Fatalf("stored %d bytes, want %d", info.Size, len(data))
	}
	waitFor(t, "media record to fold", func() bool {
		return mergedString(bound, "owner") == user.Address()
	})
}

func TestStorableRegisterRejectsKnownContent(t *testing.T) {
	realm := newTestRealm(t)
	user := registeredUser(t, realm, "dupe", "pw")
	ctx := context.Background()
	data := []byte("the same bytes twice")

	first, err := core.NewEntity(realm, user, MediaKind)
	if err != nil {
		t.Fatalf("constructing media: %v", err)
	}
	bound, err := StorableOf(first).Register(ctx, data, "jpg")
	if err != nil {
		t.Fatalf("registering: %v", err)
	}
	waitFor(t, "media record to fold", func() bool { return !bound.Empty() })

	second, err := core.NewEntity(realm, user, MediaKind)
	if err != nil {
		t.Fatalf("constructing duplicate: %v", err)
	}
	if _, err := StorableOf(second).Register(ctx, data, "jpg"); err == nil {
		t.Fatal("re-registering known content succeeded")
	}
}

func TestStorableRetrieveOrRegisterIsIdempotent(t *testing.T) {
	realm := newTestRealm(t)
	user := registeredUser(t, realm, "cache", "pw")
	ctx := context.Background()
	data := []byte("content addressed")

	first, err := core.NewEntity(realm, user, MediaKind)
	if err != nil {
		t.Fatalf("constructing media: %v", err)
	}
	registered, err := StorableOf(first).RetrieveOrRegister(ctx, data, "gif")
	if err != nil {
		t.Fatalf("registering: %v", err)
	}
	waitFor(t, "media record to fold", func() bool { return !registered.Empty() })

	second, err := core.NewEntity(realm, user, MediaKind)
	if err != nil {
		t.Fatalf("constructing retriever: %v", err)
	}
	retrieved, err := StorableOf(second).RetrieveOrRegister(ctx, data, "gif")
	if err != nil {
		t.Fatalf("retrieving: %v", err)
	}
	if retrieved.Address() != registered.Address() {
		t.Fatalf("same content resolved to %s and %s", registered.Address(), retrieved.Address())
	}
}

func TestStorableURLFallsBackToStaticPath(t *testing.T) {
	realm := newTestRealm(t)
	user := registeredUser(t, realm, "linker", "pw")
	ctx := context.Background()

	media, err := core.NewEntity(realm, user, MediaKind)
	if err != nil {
		t.Fatalf("constructing media: %v", err)
	}
	bound, err := StorableOf(media).Register(ctx, []byte("linkable bytes"), "png")
	if err != nil {
		t.Fatalf("registering: %v", err)
	}
	// The memory driver cannot pre-sign, so the static media path serves.
	url, err := StorableOf(bound).URL(ctx)
	if err != nil {
		t.Fatalf("resolving url: %v", err)
	}
	if url != "/"+StorableOf(bound).Key() {
		t.Fatalf("url = %q", url)
	}
}
