package entities

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"sync"

	"podium/internal/blob"
	"podium/internal/core"
)

// MediaKind is the ledger-side record of a stored file. The account is
// derived from the file's content, so the same bytes always resolve to the
// same media entity; the bytes themselves live in the blob store.
var MediaKind = selfConstructing(&core.Kind{
	Name: "Media",
	Seed: func(e *core.Entity) (string, error) {
		s := StorableOf(e)
		if s == nil {
			return "", fmt.Errorf("media requires the Storable trait")
		}
		data := s.bytes()
		if len(data) == 0 {
			return "", fmt.Errorf("media requires file content before binding")
		}
		return base64.StdEncoding.EncodeToString(data), nil
	},
	Strategy: func() core.Strategy { return core.NewMerged(nil, nil) },
	Traits:   []core.TraitFactory{NewStorable()},
})

// Storable holds the file bytes a media entity is being registered from and
// moves them into the blob store on registration.
type Storable struct {
	entity *core.Entity

	mu        sync.Mutex
	data      []byte
	mediaType string
}

// NewStorable builds Storable trait instances.
func NewStorable() core.TraitFactory {
	return func() core.Trait { return &Storable{} }
}

// Name implements core.Trait.
func (s *Storable) Name() string { return "Storable" }

// Attach implements core.Trait.
func (s *Storable) Attach(e *core.Entity) error {
	s.entity = e
	e.RegisterAction("Register", func(ctx context.Context, args []any) (any, error) {
		encoded, _ := argAt(args, 0).(string)
		mediaType, _ := argAt(args, 1).(string)
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, e.Fail("decoding media payload")(err)
		}
		bound, err := s.Register(ctx, data, mediaType)
		if err != nil {
			return nil, err
		}
		return bound.Address(), nil
	})
	return nil
}

// StorableOf returns the entity's Storable trait, or nil.
func StorableOf(e *core.Entity) *Storable {
	s, _ := e.Trait("Storable").(*Storable)
	return s
}

func (s *Storable) bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// FromFile binds the content-derived account for data.
func (s *Storable) FromFile(data []byte) (*core.Entity, error) {
	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
	return s.entity.FromSeed()
}

// Type returns the file extension, falling back to the stored record.
func (s *Storable) Type() string {
	s.mu.Lock()
	held := s.mediaType
	s.mu.Unlock()
	if held != "" {
		return held
	}
	return mergedString(s.entity, "type")
}

// File returns the stored object's file name.
func (s *Storable) File() string {
	return s.entity.Address() + "." + s.Type()
}

// Key returns the blob store key for the stored object.
func (s *Storable) Key() string {
	return "media/" + s.File()
}

// URL resolves a client-reachable URL for the stored object. Drivers without
// pre-signing fall back to the static media path.
func (s *Storable) URL(ctx context.Context) (string, error) {
	if err := core.Require(s.entity, "media url", string(core.RequireConnected)); err != nil {
		return "", err
	}
	url, err := s.entity.Realm().Blobs().PresignURL(ctx, s.Key(), blob.SignedURLOptions{})
	if err == blob.ErrUnsupported {
		return "/" + s.Key(), nil
	}
	return url, err
}

// store writes the held bytes to the blob store. A key collision means the
// content is already stored, which is fine: keys are content-addressed.
func (s *Storable) store(ctx context.Context) error {
	s.mu.Lock()
	data, mediaType := s.data, s.mediaType
	s.mu.Unlock()
	blobs := s.entity.Realm().Blobs()
	if _, err := blobs.Head(ctx, s.Key()); err == nil {
		return nil
	}
	_, err := blobs.Put(ctx, s.Key(), bytes.NewReader(data), blob.PutOptions{
		ContentType: mime.TypeByExtension("." + mediaType),
	})
	if err != nil {
		return s.entity.Fail("storing file", s.Key())(err)
	}
	return nil
}

// Register stores a new file and writes its ledger record. Registering
// already-registered content is an error; use RetrieveOrRegister when the
// content may exist.
func (s *Storable) Register(ctx context.Context, data []byte, mediaType string) (*core.Entity, error) {
	if err := core.Require(s.entity, "register media",
		string(core.RequireAuthenticated)); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.mediaType = mediaType
	s.mu.Unlock()
	bound, err := s.FromFile(data)
	if err != nil {
		return nil, err
	}
	if err := bound.ReadAll(ctx); err != nil {
		return nil, s.entity.Fail("reading media account")(err)
	}
	if !bound.Empty() {
		return nil, fmt.Errorf("media %s is already registered", bound.Label())
	}
	return s.storeAndRecord(ctx, bound, mediaType)
}

// RetrieveOrRegister connects the content-derived account, registering the
// file only when no record exists yet.
func (s *Storable) RetrieveOrRegister(ctx context.Context, data []byte, mediaType string) (*core.Entity, error) {
	s.mu.Lock()
	s.mediaType = mediaType
	s.mu.Unlock()
	bound, err := s.FromFile(data)
	if err != nil {
		return nil, err
	}
	if err := bound.ReadAll(ctx); err != nil {
		return nil, s.entity.Fail("reading media account")(err)
	}
	if !bound.Empty() {
		return bound, nil
	}
	return s.storeAndRecord(ctx, bound, mediaType)
}

func (s *Storable) storeAndRecord(ctx context.Context, bound *core.Entity, mediaType string) (*core.Entity, error) {
	if err := s.store(ctx); err != nil {
		return nil, err
	}
	master := s.entity.Master()
	err := bound.Write(ctx, map[string]any{
		"address": bound.Address(),
		"owner":   master.Identity().Account.Address,
		"type":    mediaType,
	})
	if err != nil {
		return nil, s.entity.Fail("registering media")(err)
	}
	return bound, nil
}

// argAt returns the i'th action argument, or nil.
func argAt(args []any, i int) any {
	if i >= len(args) {
		return nil
	}
	return args[i]
}
