package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Filesystem implements Store on a local directory. Payloads live under
// objects/ and each object's manifest (content type, metadata, digest) under
// manifests/, both mirroring the key's path. The create-only contract is
// enforced by exclusive payload creation, so concurrent puts to one key agree
// on a single winner.
type Filesystem struct {
	objectRoot   string
	manifestRoot string
}

// NewFilesystem returns a filesystem blob store rooted at path, creating it
// if needed.
func NewFilesystem(root string) (*Filesystem, error) {
	if root == "" {
		root = "./blobdata"
	}
	f := &Filesystem{
		objectRoot:   filepath.Join(root, "objects"),
		manifestRoot: filepath.Join(root, "manifests"),
	}
	for _, dir := range []string{f.objectRoot, f.manifestRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Driver implements Store.
func (f *Filesystem) Driver() Driver { return DriverFilesystem }

// cleanKey normalizes a key to a relative slash path that stays inside the
// store.
func cleanKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("blob key is empty")
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("blob key %q is absolute", key)
	}
	clean := path.Clean(filepath.ToSlash(key))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("blob key %q escapes the store", key)
	}
	return clean, nil
}

// locate maps a key to its payload and manifest paths.
func (f *Filesystem) locate(key string) (payload, manifest string, err error) {
	clean, err := cleanKey(key)
	if err != nil {
		return "", "", err
	}
	native := filepath.FromSlash(clean)
	return filepath.Join(f.objectRoot, native), filepath.Join(f.manifestRoot, native+".json"), nil
}

// descriptor is the manifest stored for each object.
type descriptor struct {
	ContentType string            `json:"contentType,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Digest      string            `json:"digest"`
	Size        int64             `json:"size"`
	Stored      time.Time         `json:"stored"`
}

// Put stores a new object; the key must not exist yet.
func (f *Filesystem) Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error) {
	payload, manifest, err := f.locate(key)
	if err != nil {
		return Info{}, err
	}
	if err := os.MkdirAll(filepath.Dir(payload), 0o755); err != nil {
		return Info{}, err
	}
	file, err := os.OpenFile(payload, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return Info{}, fmt.Errorf("blob %s already exists", key)
		}
		return Info{}, err
	}
	digest := sha256.New()
	size, err := io.Copy(file, io.TeeReader(r, digest))
	if err == nil {
		err = file.Sync()
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(payload)
		return Info{}, err
	}

	d := descriptor{
		ContentType: opts.ContentType,
		Metadata:    cloneMD(opts.Metadata),
		Digest:      hex.EncodeToString(digest.Sum(nil)),
		Size:        size,
		Stored:      time.Now().UTC(),
	}
	if err := writeManifest(manifest, d); err != nil {
		_ = os.Remove(payload)
		return Info{}, err
	}
	return f.describe(key, d), nil
}

// Get returns the object's info and a reader over its payload.
func (f *Filesystem) Get(ctx context.Context, key string) (Info, io.ReadCloser, error) {
	payload, manifest, err := f.locate(key)
	if err != nil {
		return Info{}, nil, err
	}
	d, err := readManifest(manifest)
	if err != nil {
		return Info{}, nil, err
	}
	file, err := os.Open(payload)
	if err != nil {
		return Info{}, nil, err
	}
	return f.describe(key, d), file, nil
}

// Head returns the object's info without touching the payload.
func (f *Filesystem) Head(ctx context.Context, key string) (Info, error) {
	_, manifest, err := f.locate(key)
	if err != nil {
		return Info{}, err
	}
	d, err := readManifest(manifest)
	if err != nil {
		return Info{}, err
	}
	return f.describe(key, d), nil
}

// Delete removes the object, reporting whether it existed.
func (f *Filesystem) Delete(ctx context.Context, key string) (bool, error) {
	payload, manifest, err := f.locate(key)
	if err != nil {
		return false, err
	}
	err = os.Remove(payload)
	existed := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if err := os.Remove(manifest); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return existed, err
	}
	return existed, nil
}

// List returns the objects whose key starts with prefix, sorted by key.
func (f *Filesystem) List(ctx context.Context, prefix string) ([]Info, error) {
	var infos []Info
	walk := func(p string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() || !strings.HasSuffix(p, ".json") {
			return err
		}
		rel, err := filepath.Rel(f.manifestRoot, strings.TrimSuffix(p, ".json"))
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			return nil
		}
		d, err := readManifest(p)
		if err != nil {
			return err
		}
		infos = append(infos, f.describe(key, d))
		return nil
	}
	if err := filepath.WalkDir(f.manifestRoot, walk); err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// PresignURL returns a pseudo URL for local development; reads only.
func (f *Filesystem) PresignURL(ctx context.Context, key string, opts SignedURLOptions) (string, error) {
	if opts.Method != "" && !strings.EqualFold(opts.Method, "GET") {
		return "", ErrUnsupported
	}
	if _, err := cleanKey(key); err != nil {
		return "", err
	}
	return f.localURL(key), nil
}

func (f *Filesystem) describe(key string, d descriptor) Info {
	return Info{
		Key:          key,
		Size:         d.Size,
		ContentType:  d.ContentType,
		ETag:         d.Digest,
		Metadata:     cloneMD(d.Metadata),
		LastModified: d.Stored,
		URL:          f.localURL(key),
	}
}

func (f *Filesystem) localURL(key string) string {
	return (&url.URL{Scheme: "http", Host: "local.blob", Path: "/" + key}).String()
}

func writeManifest(p string, d descriptor) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, raw, 0o644)
}

func readManifest(p string) (descriptor, error) {
	raw, err := os.ReadFile(p)
	if err != nil {
		return descriptor{}, err
	}
	var d descriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return descriptor{}, err
	}
	return d, nil
}

func cloneMD(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
