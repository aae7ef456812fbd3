package nation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"podium/internal/blob"
)

// FounderBackup restores the founder's session without re-deriving the
// keystore: the sealed keypair plus its passphrase sign the founder back in,
// and the address skips an alias lookup.
type FounderBackup struct {
	Passphrase string         `json:"passphrase"`
	KeyPair    map[string]any `json:"keyPair"`
	Address    string         `json:"address"`
}

// DomainBackup locates the root domain account.
type DomainBackup struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Backup is the nation state persisted through the blob store between runs.
// Everything else is re-derived from the ledger.
type Backup struct {
	Last        time.Time        `json:"last"`
	Created     time.Time        `json:"created"`
	Creator     string           `json:"creator"`
	Launched    time.Time        `json:"launched"`
	Name        string           `json:"name"`
	Designation string           `json:"designation"`
	Services    []string         `json:"services"`
	Founder     FounderBackup    `json:"founder"`
	Domain      DomainBackup     `json:"domain"`
	Directory   []DirectoryEntry `json:"directory"`
}

// backupKey is the blob key a nation saves itself under.
func backupKey(filename string) string {
	return "nations/" + filename + "/nation.json"
}

// writeBackup replaces the stored backup. The store's create-only Put means
// the previous copy is deleted first.
func writeBackup(ctx context.Context, store blob.Store, filename string, b Backup) error {
	raw, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding nation backup: %w", err)
	}
	key := backupKey(filename)
	if _, err := store.Delete(ctx, key); err != nil {
		return fmt.Errorf("replacing nation backup %s: %w", key, err)
	}
	_, err = store.Put(ctx, key, bytes.NewReader(raw), blob.PutOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("writing nation backup %s: %w", key, err)
	}
	return nil
}

// readBackup loads the stored backup. found is false when no backup exists,
// which distinguishes a first launch from a failed read.
func readBackup(ctx context.Context, store blob.Store, filename string) (Backup, bool, error) {
	key := backupKey(filename)
	if _, err := store.Head(ctx, key); err != nil {
		return Backup{}, false, nil
	}
	_, rc, err := store.Get(ctx, key)
	if err != nil {
		return Backup{}, false, fmt.Errorf("reading nation backup %s: %w", key, err)
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return Backup{}, false, fmt.Errorf("reading nation backup %s: %w", key, err)
	}
	var b Backup
	if err := json.Unmarshal(raw, &b); err != nil {
		return Backup{}, false, fmt.Errorf("decoding nation backup %s: %w", key, err)
	}
	return b, true, nil
}
