package entities

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"podium/internal/core"
)

func connectedProfile(t *testing.T, realm *testRealm, owner *core.Entity) *core.Entity {
	t.Helper()
	profile, err := core.NewEntity(realm, owner, ProfileKind)
	if err != nil {
		t.Fatalf("constructing profile: %v", err)
	}
	bound, err := profile.FromSeed()
	if err != nil {
		t.Fatalf("binding profile: %v", err)
	}
	if err := bound.ReadAll(context.Background()); err != nil {
		t.Fatalf("reading profile: %v", err)
	}
	return bound
}

func TestProfileUpdateWritesFields(t *testing.T) {
	realm := newTestRealm(t)
	user := registeredUser(t, realm, "display", "pw")
	profile := connectedProfile(t, realm, user)

	err := PicturedOf(profile).Update(context.Background(), map[string]any{
		"displayName": "Display Name",
		"about":       "writes tests for a living",
	})
	if err != nil {
		t.Fatalf("updating: %v", err)
	}
	waitFor(t, "profile record to fold", func() bool {
		return mergedString(profile, "displayName") == "Display Name"
	})
	if got := mergedString(profile, "about"); got != "writes tests for a living" {
		t.Fatalf("about = %q", got)
	}
}

func TestProfileUpdateRegistersRawPicture(t *testing.T) {
	realm := newTestRealm(t)
	user := registeredUser(t, realm, "portrait", "pw")
	profile := connectedProfile(t, realm, user)
	ctx := context.Background()

	raw := []byte("raw image payload")
	err := PicturedOf(profile).Update(ctx, map[string]any{
		"displayName": "Portrait",
		"picture":     base64.StdEncoding.EncodeToString(raw),
		"pictureType": "png",
	})
	if err != nil {
		t.Fatalf("updating: %v", err)
	}

	// The raw payload must be swapped for a media address before the record
	// lands.
	waitFor(t, "profile record to fold", func() bool {
		return mergedString(profile, "picture") != ""
	})
	address := mergedString(profile, "picture")
	if !strings.HasPrefix(address, "POD") {
		t.Fatalf("picture field holds %q, want a media address", address)
	}
	if mergedField(profile, "pictureType") != nil {
		t.Fatal("pictureType marker leaked into the stored record")
	}
	if _, err := realm.Blobs().Head(ctx, "media/"+address+".png"); err != nil {
		t.Fatalf("picture bytes missing from blob store: %v", err)
	}

	waitFor(t, "picture attribute to connect", func() bool {
		picture := PicturedOf(profile).Picture()
		return picture != nil && picture.Address() == address
	})
}
