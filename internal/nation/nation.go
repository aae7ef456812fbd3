// Package nation assembles and runs one podium nation: it owns the ledger
// connection, blob store, entity cache, and kind registry, implements the
// realm contract entities depend on, and drives the launch, resume, and stop
// lifecycle around the founder and root domain.
package nation

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"podium/internal/blob"
	"podium/internal/config"
	"podium/internal/core"
	"podium/internal/entities"
	"podium/internal/ledger"
	"podium/internal/traits"
	"podium/pkg/logging"
)

// Nation is the running instance of a constitution. It implements core.Realm.
type Nation struct {
	constitution config.Constitution
	fullname     string

	ledger  ledger.Ledger
	blobs   blob.Store
	cache   *core.Cache
	kinds   *core.KindRegistry
	logger  *logging.Logger
	metrics core.MetricsRecorder
	engine  core.Config

	directory *Directory

	mu                sync.Mutex
	live              bool
	created           time.Time
	launched          time.Time
	founder           *core.Entity
	domain            *core.Entity
	founderPassphrase string
}

// New assembles a nation from its constitution and infrastructure. Nothing
// touches the ledger until Launch.
func New(constitution config.Constitution, led ledger.Ledger, blobs blob.Store,
	logger *logging.Logger, metrics core.MetricsRecorder) (*Nation, error) {
	if led == nil {
		return nil, fmt.Errorf("nation requires a ledger")
	}
	if blobs == nil {
		return nil, fmt.Errorf("nation requires a blob store")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if metrics == nil {
		metrics = core.NoopMetrics{}
	}
	kinds := core.NewKindRegistry()
	if err := entities.Register(kinds); err != nil {
		return nil, fmt.Errorf("registering kinds: %w", err)
	}
	n := &Nation{
		constitution: constitution,
		fullname:     constitution.Fullname(),
		ledger:       led,
		blobs:        blobs,
		cache:        core.NewCache(),
		kinds:        kinds,
		metrics:      metrics,
		engine:       constitution.EngineConfig(),
		directory:    NewDirectory(),
	}
	n.logger = logger.With("nation", n.fullname)
	return n, nil
}

// Fullname implements core.Realm.
func (n *Nation) Fullname() string { return n.fullname }

// Ledger implements core.Realm.
func (n *Nation) Ledger() ledger.Ledger { return n.ledger }

// Blobs implements core.Realm.
func (n *Nation) Blobs() blob.Store { return n.blobs }

// Cache implements core.Realm.
func (n *Nation) Cache() *core.Cache { return n.cache }

// Kinds implements core.Realm.
func (n *Nation) Kinds() *core.KindRegistry { return n.kinds }

// Logger implements core.Realm.
func (n *Nation) Logger() *logging.Logger { return n.logger }

// Config implements core.Realm.
func (n *Nation) Config() core.Config { return n.engine }

// Metrics implements core.Realm.
func (n *Nation) Metrics() core.MetricsRecorder { return n.metrics }

// Live implements core.Realm.
func (n *Nation) Live() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.live
}

// Alert implements core.Realm. Register alerts feed the search directory;
// everything else is logged for downstream notification services.
func (n *Nation) Alert(_ context.Context, kind string, payload map[string]any) {
	switch kind {
	case "register":
		entryKind, _ := payload["kind"].(string)
		term, _ := payload["term"].(string)
		address, _ := payload["address"].(string)
		n.directory.Add(entryKind, term, address)
		n.logger.Info("registered search term", "kind", entryKind, "term", term, "address", address)
	default:
		n.logger.Info("alert", "kind", kind, "payload", payload)
	}
}

// Directory is the nation's search table.
func (n *Nation) Directory() *Directory { return n.directory }

// Founder returns the founding user entity. Nil before Launch.
func (n *Nation) Founder() *core.Entity {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.founder
}

// Domain returns the root domain entity. Nil before Launch.
func (n *Nation) Domain() *core.Entity {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.domain
}

// Status summarizes the nation for admin surfaces.
type Status struct {
	Name     string    `json:"name"`
	Fullname string    `json:"fullname"`
	Live     bool      `json:"live"`
	Created  time.Time `json:"created"`
	Launched time.Time `json:"launched"`
	Founder  string    `json:"founder,omitempty"`
	Domain   string    `json:"domain,omitempty"`
}

// Status reports the nation's lifecycle state.
func (n *Nation) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	s := Status{
		Name:     n.constitution.Designation.Name,
		Fullname: n.fullname,
		Live:     n.live,
		Created:  n.created,
		Launched: n.launched,
	}
	if n.founder != nil {
		s.Founder = n.founder.Address()
	}
	if n.domain != nil {
		s.Domain = n.domain.Address()
	}
	return s
}

// Launch connects the ledger and brings the nation up: a stored backup
// resumes the previous founder and domain, otherwise both are created fresh.
// The nation is live and a backup is on disk when Launch returns.
func (n *Nation) Launch(ctx context.Context) error {
	n.logger.Info("launching nation")
	if err := n.ledger.Connect(ctx); err != nil {
		return fmt.Errorf("connecting ledger: %w", err)
	}
	backup, found, err := readBackup(ctx, n.blobs, n.constitution.Filename())
	if err != nil {
		return err
	}
	if found {
		err = n.resume(ctx, backup)
	} else {
		err = n.create(ctx)
	}
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.live = true
	n.launched = time.Now()
	n.mu.Unlock()
	if err := n.Save(ctx); err != nil {
		return err
	}
	n.logger.Info("nation online", "resumed", found)
	return nil
}

// create founds the nation: a fresh founder account claims the configured
// alias, the root domain claims its identifier and issues its tokens, both
// profiles are filled in, and the founder authors the first post.
func (n *Nation) create(ctx context.Context) error {
	c := n.constitution
	n.logger.Info("founding nation", "founder", c.Founder.Alias, "domain", c.Domain.Name)

	founder, err := core.NewEntity(n, nil, entities.UserKind)
	if err != nil {
		return err
	}
	passphrase := uuid.NewString()
	if err := entities.RegisteringOf(founder).Create(ctx, c.Founder.Alias, passphrase); err != nil {
		return fmt.Errorf("creating founder: %w", err)
	}

	root, err := core.NewEntity(n, founder, entities.DomainKind)
	if err != nil {
		return err
	}
	if err := entities.FoundingOf(root).Create(ctx, c.Domain.Name, c.Domain.Tokens); err != nil {
		return fmt.Errorf("creating root domain: %w", err)
	}
	founder.SetGoverningRoot(root)

	n.mu.Lock()
	n.founder = founder
	n.domain = root
	n.founderPassphrase = passphrase
	n.created = time.Now()
	n.mu.Unlock()

	if err := n.updateProfile(ctx, founder, c.Founder.Profile); err != nil {
		return fmt.Errorf("founder profile: %w", err)
	}
	if err := n.updateProfile(ctx, root, c.Domain.Profile); err != nil {
		return fmt.Errorf("domain profile: %w", err)
	}

	if c.Founder.FirstPost != "" {
		symbol := n.firstTokenSymbol()
		if err := n.awaitToken(ctx, root, symbol); err != nil {
			return err
		}
		content := traits.PostContent{Text: c.Founder.FirstPost}
		if _, err := traits.PostingOf(founder).Author(ctx, content, symbol); err != nil {
			return fmt.Errorf("authoring first post: %w", err)
		}
	}
	return nil
}

// awaitToken holds until an issued token's index entry folds back and the
// domain exposes it as an attribute. The first post is priced against it.
func (n *Nation) awaitToken(ctx context.Context, root *core.Entity, symbol string) error {
	timeout := n.engine.SyncTimeout
	if timeout <= 0 {
		timeout = core.DefaultSyncTimeout
	}
	deadline := time.After(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if traits.EconomicOf(root).Token(symbol) != nil {
			return nil
		}
		select {
		case <-ticker.C:
		case <-deadline:
			return fmt.Errorf("token %q did not connect after founding", symbol)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// resume restores the previous founder session from the backed-up sealed
// keypair and rebinds the root domain by address.
func (n *Nation) resume(ctx context.Context, backup Backup) error {
	n.logger.Info("resuming nation", "created", backup.Created)
	if backup.Founder.KeyPair == nil || backup.Founder.Passphrase == "" {
		return fmt.Errorf("backup holds no founder credentials")
	}

	founder, err := core.NewEntity(n, nil, entities.UserKind)
	if err != nil {
		return err
	}
	auth := traits.AuthenticatingOf(founder)
	if err := auth.WithEncryptedKeyPair(ctx, backup.Founder.KeyPair, backup.Founder.Passphrase); err != nil {
		return fmt.Errorf("restoring founder session: %w", err)
	}
	if backup.Founder.Address != "" && founder.Address() != backup.Founder.Address {
		return fmt.Errorf("restored founder %s does not match backup %s",
			founder.Address(), backup.Founder.Address)
	}

	root, err := core.NewEntity(n, founder, entities.DomainKind)
	if err != nil {
		return err
	}
	bound := root.FromAddress(backup.Domain.Address)
	if err := bound.ReadAll(ctx); err != nil {
		return fmt.Errorf("reading root domain: %w", err)
	}
	founder.SetGoverningRoot(bound)

	n.directory.Restore(backup.Directory)
	n.mu.Lock()
	n.founder = founder
	n.domain = bound
	n.founderPassphrase = backup.Founder.Passphrase
	n.created = backup.Created
	n.mu.Unlock()
	return nil
}

// Save writes the nation backup through the blob store.
func (n *Nation) Save(ctx context.Context) error {
	n.mu.Lock()
	backup := Backup{
		Last:        time.Now(),
		Created:     n.created,
		Creator:     n.constitution.Admin,
		Launched:    n.launched,
		Name:        n.constitution.Designation.Name,
		Designation: n.fullname,
		Services:    n.constitution.Services,
		Directory:   n.directory.Entries(),
	}
	founder := n.founder
	root := n.domain
	backup.Founder.Passphrase = n.founderPassphrase
	n.mu.Unlock()

	if founder != nil {
		backup.Founder.Address = founder.Address()
		if auth := traits.AuthenticatingOf(founder); auth != nil {
			if keys := auth.KeyStore(); keys != nil {
				backup.Founder.KeyPair = traits.KeysOf(keys).Encrypted()
			}
		}
	}
	if root != nil {
		backup.Domain.Name = n.constitution.Domain.Name
		backup.Domain.Address = root.Address()
	}
	return writeBackup(ctx, n.blobs, n.constitution.Filename(), backup)
}

// Stop takes the nation offline: a final backup is written, every cached
// entity is disconnected, and the ledger connection is closed.
func (n *Nation) Stop(ctx context.Context) error {
	n.logger.Info("stopping nation")
	n.mu.Lock()
	n.live = false
	n.mu.Unlock()

	if err := n.Save(ctx); err != nil {
		n.logger.Error("saving nation backup", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, entity := range n.cache.All() {
		entity := entity
		if !entity.Connected() {
			continue
		}
		g.Go(func() error { return entity.DisconnectSilent(gctx) })
	}
	if err := g.Wait(); err != nil {
		n.logger.Error("disconnecting entities", "error", err)
	}

	if err := n.ledger.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnecting ledger: %w", err)
	}
	n.logger.Info("nation offline")
	return nil
}

// firstTokenSymbol is the currency the founder's first post is charged in:
// the root domain's first configured token.
func (n *Nation) firstTokenSymbol() string {
	for _, grant := range n.constitution.Domain.Tokens {
		if symbol, _ := grant.Designation["symbol"].(string); symbol != "" {
			return symbol
		}
	}
	return "POD"
}

// updateProfile writes a constitution profile onto an entity. A picture named
// by blob key is loaded from the store and inlined so the profile kind
// registers it as media.
func (n *Nation) updateProfile(ctx context.Context, e *core.Entity, profile map[string]any) error {
	if len(profile) == 0 {
		return nil
	}
	record := make(map[string]any, len(profile))
	for key, value := range profile {
		record[key] = value
	}
	if key, _ := record["picture"].(string); key != "" {
		encoded, mediaType, err := n.loadPicture(ctx, key)
		if err != nil {
			n.logger.Warn("loading constitution picture", "key", key, "error", err)
			delete(record, "picture")
		} else {
			record["picture"] = encoded
			record["pictureType"] = mediaType
		}
	}
	return traits.ProfiledOf(e).UpdateProfile(ctx, record)
}

// loadPicture reads an image from the blob store and encodes it for a
// profile write. The media type derives from the key's extension.
func (n *Nation) loadPicture(ctx context.Context, key string) (encoded, mediaType string, err error) {
	_, rc, err := n.blobs.Get(ctx, key)
	if err != nil {
		return "", "", err
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return "", "", err
	}
	mediaType = strings.TrimPrefix(path.Ext(key), ".")
	if mediaType == "" {
		mediaType = "png"
	}
	return base64.StdEncoding.EncodeToString(raw), mediaType, nil
}
