package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"podium/internal/ledger"
	"podium/pkg/domain"
	"podium/pkg/logging"
)

// Connector lazily materializes an attribute entity.
type Connector func(ctx context.Context) (*Entity, error)

// ActionFunc is a remotely invocable action registered by a trait.
type ActionFunc func(ctx context.Context, args []any) (any, error)

type attribute struct {
	connector Connector
	entity    *Entity
}

type inflight struct {
	done chan struct{}
	err  error
}

func newInflight() *inflight {
	return &inflight{done: make(chan struct{})}
}

// Entity is the runtime unit of the engine. Its state is always a pure fold
// of its atom history through the kind's strategy. All mutable fields are
// guarded by mu; lifecycle events are dispatched outside the lock.
type Entity struct {
	realm Realm
	kind  *Kind
	uid   string
	log   *logging.Logger

	mu            sync.Mutex
	traits        []string
	traitTable    map[string]Trait
	account       *domain.Account
	parent        *Entity
	master        Master
	governingRoot *Entity
	strategy      Strategy
	errors        *domain.ErrorRegistry
	listeners     map[string]listener
	attributes    map[string]*attribute
	attrOrder     []string
	actions       map[string]ActionFunc
	buffer        *callBuffer

	history   []AtomData
	atomsSeen map[string]struct{}
	lastState any
	sortLess  func(a, b AtomData) bool
	filter    func(e *Entity, data AtomData) bool

	connected     bool
	complete      bool
	empty         bool
	updating      bool
	connecting    *inflight
	disconnecting *inflight
	created       time.Time
	updated       time.Time
	changed       time.Time

	sub        ledger.Subscription
	syncStop   chan struct{}
	ingestDone chan struct{}
}

// NewEntity constructs an instance of kind under parent (nil for roots). The
// master and governing root are inherited from the parent; an authenticating
// or governing trait replaces them during attachment.
func NewEntity(realm Realm, parent *Entity, kind *Kind) (*Entity, error) {
	if kind == nil || kind.Name == "" {
		return nil, fmt.Errorf("entity requires a named kind")
	}
	strategy := Strategy(nil)
	if kind.Strategy != nil {
		strategy = kind.Strategy()
	}
	if strategy == nil {
		strategy = NewMerged(nil, nil)
	}
	e := &Entity{
		realm:      realm,
		kind:       kind,
		uid:        uuid.NewString(),
		traits:     []string{"Entity", strategy.Name()},
		traitTable: make(map[string]Trait),
		strategy:   strategy,
		errors:     domain.NewErrorRegistry(),
		listeners:  make(map[string]listener),
		attributes: make(map[string]*attribute),
		actions:    make(map[string]ActionFunc),
		buffer:     newCallBuffer(),
		atomsSeen:  make(map[string]struct{}),
		empty:      true,
		sortLess:   kind.Sort,
		filter:     kind.ShouldUpdate,
	}
	if e.sortLess == nil {
		e.sortLess = func(a, b AtomData) bool { return a.Timestamp.Before(b.Timestamp) }
	}
	if parent != nil {
		e.parent = parent
		e.master = parent.Master()
		e.governingRoot = parent.GoverningRoot()
	}
	e.log = realm.Logger().With("entity", kind.Name)

	e.errors.Register(0, "entity", "no seed derivation defined")
	e.errors.Register(3, "entity", "entity kind requires a name to tag ledger records")
	e.errors.Registerf(4, "entity", "unknown attribute %q")
	e.errors.Registerf(5, "client", "unknown action %q")
	e.errors.Register(6, "client", "invalid auth token")

	for _, factory := range kind.Traits {
		if err := e.AddTrait(factory()); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// AddTrait attaches a capability module.
func (e *Entity) AddTrait(trait Trait) error {
	if err := trait.Attach(e); err != nil {
		return fmt.Errorf("attach trait %s: %w", trait.Name(), err)
	}
	e.mu.Lock()
	e.traits = append(e.traits, trait.Name())
	e.traitTable[trait.Name()] = trait
	e.mu.Unlock()
	return nil
}

// Trait returns the attached trait instance named name, or nil.
func (e *Entity) Trait(name string) Trait {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.traitTable[name]
}

// Is reports whether the entity carries the named trait (case-insensitive).
func (e *Entity) Is(trait string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, held := range e.traits {
		if strings.EqualFold(held, trait) {
			return true
		}
	}
	return false
}

// Traits lists the entity's trait names.
func (e *Entity) Traits() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.traits))
	copy(out, e.traits)
	return out
}

// Name returns the kind's record tag.
func (e *Entity) Name() string { return e.kind.Name }

// UID returns the per-instance identifier.
func (e *Entity) UID() string { return e.uid }

// Kind returns the kind descriptor.
func (e *Entity) Kind() *Kind { return e.kind }

// Realm returns the nation context.
func (e *Entity) Realm() Realm { return e.realm }

// Parent returns the entity immediately above this one, or nil.
func (e *Entity) Parent() *Entity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.parent
}

// Master returns the authenticating identity backing writes, or nil.
func (e *Entity) Master() Master {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.master
}

// SetMaster replaces the write identity. Authenticating traits set themselves
// here; Unique uses it to adopt a duplicate's authentication.
func (e *Entity) SetMaster(master Master) {
	e.mu.Lock()
	e.master = master
	e.mu.Unlock()
}

// GoverningRoot returns the nearest governing entity above this one, or nil.
func (e *Entity) GoverningRoot() *Entity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.governingRoot
}

// SetGoverningRoot marks root as this entity's domain.
func (e *Entity) SetGoverningRoot(root *Entity) {
	e.mu.Lock()
	e.governingRoot = root
	e.mu.Unlock()
}

// Strategy returns the atom-handling strategy.
func (e *Entity) Strategy() Strategy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.strategy
}

// SetStrategy replaces the strategy. Traits overriding the fold call this
// during attachment, before any atom is ingested.
func (e *Entity) SetStrategy(s Strategy) {
	e.mu.Lock()
	e.strategy = s
	e.mu.Unlock()
}

// SetShouldUpdate installs the predicate filtering matching atoms.
func (e *Entity) SetShouldUpdate(filter func(e *Entity, data AtomData) bool) {
	e.mu.Lock()
	e.filter = filter
	e.mu.Unlock()
}

// Errors returns the entity's coded error registry.
func (e *Entity) Errors() *domain.ErrorRegistry { return e.errors }

// Exception builds the coded error registered under code.
func (e *Entity) Exception(code int, args ...any) error {
	return e.errors.New(code, args...)
}

// Logger returns the entity-labelled logger.
func (e *Entity) Logger() *logging.Logger { return e.log }

// HasAccount reports whether an account is bound.
func (e *Entity) HasAccount() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account != nil
}

// Account returns the bound account (zero value when unbound).
func (e *Entity) Account() domain.Account {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.account == nil {
		return domain.Account{}
	}
	return *e.account
}

// Address returns the bound account address, or "".
func (e *Entity) Address() string { return e.Account().Address }

// Label is the shorthand used in logs: name:shortAddress, or name:BLANK
// before binding.
func (e *Entity) Label() string {
	account := e.Account()
	if account.Address == "" {
		return e.kind.Name + ":BLANK"
	}
	return e.kind.Name + ":" + account.Short()
}

// FromSeed binds the account derived from the kind's seed and registers with
// the cache. The cached instance is returned, which may differ from the
// receiver when the address was already held.
func (e *Entity) FromSeed() (*Entity, error) {
	if e.kind.Seed == nil {
		return nil, e.Exception(0)
	}
	seed, err := e.kind.Seed(e)
	if err != nil {
		return nil, err
	}
	return e.bind(e.realm.Ledger().AccountForSeed(seed)), nil
}

// FromAddress binds a known address and registers with the cache.
func (e *Entity) FromAddress(address string) *Entity {
	return e.bind(e.realm.Ledger().AccountForAddress(address))
}

func (e *Entity) bind(account domain.Account) *Entity {
	e.mu.Lock()
	if e.account == nil {
		e.account = &account
		e.log = e.log.With("address", account.Short())
	}
	e.mu.Unlock()
	return e.realm.Cache().Put(e)
}

// Connected reports whether the ledger subscription is open.
func (e *Entity) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

// Complete reports whether the local fold is in sync with the ledger.
func (e *Entity) Complete() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.complete
}

// Empty reports whether any atom has changed the entity's state.
func (e *Entity) Empty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.empty
}

// Updating reports whether an atom is mid-pipeline.
func (e *Entity) Updating() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.updating
}

// Created returns the timestamp of the earliest atom observed.
func (e *Entity) Created() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.created
}

// Updated returns the time of the most recent atom processing.
func (e *Entity) Updated() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.updated
}

// Changed returns the time of the most recent state change.
func (e *Entity) Changed() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.changed
}

// History returns a copy of the sorted atom history.
func (e *Entity) History() []AtomData {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]AtomData, len(e.history))
	copy(out, e.history)
	return out
}

// State returns the strategy's current projection.
func (e *Entity) State() any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.strategy.State()
}

// WithStrategy runs fn with the strategy under the entity lock. Traits use it
// to query strategy internals without racing the ingest goroutine.
func (e *Entity) WithStrategy(fn func(s Strategy)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.strategy)
}

func (e *Entity) historyAtomsLocked() []domain.Atom {
	out := make([]domain.Atom, 0, len(e.history))
	for _, data := range e.history {
		out = append(out, domain.Atom{
			ID:        data.AtomID,
			Timestamp: data.Timestamp,
			Action:    domain.ActionStore,
			Payload:   data.Payload,
		})
	}
	return out
}

// CONNECTION

// Connect opens the ledger subscription and waits until the entity is in
// sync (by signal or bounded timeout). Connecting an already connected entity
// is a no-op; concurrent calls share one underlying operation; an in-flight
// disconnect is awaited first.
func (e *Entity) Connect(ctx context.Context) error {
	return e.connect(ctx, false)
}

// ConnectSilent connects without firing lifecycle events.
func (e *Entity) ConnectSilent(ctx context.Context) error {
	return e.connect(ctx, true)
}

func (e *Entity) connect(ctx context.Context, silent bool) error {
	if err := Require(e, "connect", string(RequireAccount)); err != nil {
		return err
	}
	for {
		e.mu.Lock()
		if op := e.disconnecting; op != nil {
			e.mu.Unlock()
			select {
			case <-op.done:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		if e.connected {
			e.mu.Unlock()
			return nil
		}
		if op := e.connecting; op != nil {
			e.mu.Unlock()
			select {
			case <-op.done:
				return op.err
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		op := newInflight()
		e.connecting = op
		e.mu.Unlock()

		start := time.Now()
		err := e.doConnect(ctx, silent)
		e.realm.Metrics().Observe(ctx, "connect", err == nil, time.Since(start))
		e.mu.Lock()
		e.connecting = nil
		e.mu.Unlock()
		op.err = err
		close(op.done)
		return err
	}
}

func (e *Entity) doConnect(ctx context.Context, silent bool) error {
	e.log.Debug("connecting to ledger")
	e.mu.Lock()
	e.lastState = e.strategy.State()
	e.mu.Unlock()

	if !silent {
		if err := e.Dispatch(ctx, domain.EventWillConnect, nil); err != nil {
			return e.Fail("dispatching willConnect")(err)
		}
	}

	sub, err := e.realm.Ledger().Subscribe(e.Address())
	if err != nil {
		return e.Fail("opening account subscription")(err)
	}

	syncStop := make(chan struct{})
	ingestDone := make(chan struct{})
	e.mu.Lock()
	e.sub = sub
	e.syncStop = syncStop
	e.ingestDone = ingestDone
	e.mu.Unlock()

	go e.ingest(sub, ingestDone)

	synced := make(chan struct{})
	go e.watchSync(sub, silent, syncStop, synced)

	if !silent {
		if err := e.Dispatch(ctx, domain.EventOnConnect, nil); err != nil {
			return e.Fail("dispatching onConnect")(err)
		}
	}

	select {
	case <-synced:
	case <-ctx.Done():
		close(syncStop)
		sub.Cancel()
		return ctx.Err()
	}

	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()
	return nil
}

func (e *Entity) ingest(sub ledger.Subscription, done chan struct{}) {
	defer close(done)
	for env := range sub.Atoms() {
		if err := e.processAtomUpdate(context.Background(), env); err != nil {
			e.log.Error("processing atom", "atom", env.Atom.ID, "err", err)
		}
	}
}

// watchSync tracks the ledger's synchronized signal. The signal is unreliable
// upstream, so a bounded timer promotes the entity to complete when no signal
// arrives; a later "out of sync" report clears the flag and re-arms the
// timer.
func (e *Entity) watchSync(sub ledger.Subscription, silent bool, stop <-chan struct{}, synced chan<- struct{}) {
	var once sync.Once
	markComplete := func(reason string) {
		e.mu.Lock()
		already := e.complete
		e.complete = true
		e.mu.Unlock()
		if !already {
			e.log.Debug("up to date with ledger", "via", reason)
			if !silent {
				if err := e.Dispatch(context.Background(), domain.EventOnComplete, nil); err != nil {
					_ = e.Fail("dispatching onComplete")(err)
				}
			}
		}
		once.Do(func() { close(synced) })
	}

	timer := time.NewTimer(e.realm.Config().syncTimeout())
	defer timer.Stop()
	for {
		select {
		case complete, ok := <-sub.Synced():
			if !ok {
				return
			}
			if complete {
				timer.Stop()
				markComplete("signal")
			} else {
				e.mu.Lock()
				e.complete = false
				e.mu.Unlock()
				timer.Reset(e.realm.Config().syncTimeout())
			}
		case <-timer.C:
			markComplete("timeout")
		case <-stop:
			return
		}
	}
}

// Disconnect unwinds the entity: attributes disconnect recursively, the
// subscription closes, and all listeners are cleared. Disconnecting an
// unconnected entity is a no-op; concurrent calls share one operation; an
// in-flight connect is awaited first.
func (e *Entity) Disconnect(ctx context.Context) error {
	return e.disconnect(ctx, false)
}

// DisconnectSilent disconnects without firing lifecycle events.
func (e *Entity) DisconnectSilent(ctx context.Context) error {
	return e.disconnect(ctx, true)
}

func (e *Entity) disconnect(ctx context.Context, silent bool) error {
	for {
		e.mu.Lock()
		if !e.connected && e.connecting == nil {
			e.mu.Unlock()
			return nil
		}
		if op := e.connecting; op != nil {
			e.mu.Unlock()
			select {
			case <-op.done:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		if op := e.disconnecting; op != nil {
			e.mu.Unlock()
			select {
			case <-op.done:
				return op.err
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		op := newInflight()
		e.disconnecting = op
		e.mu.Unlock()

		err := e.doDisconnect(ctx, silent)
		e.mu.Lock()
		e.disconnecting = nil
		e.mu.Unlock()
		op.err = err
		close(op.done)
		return err
	}
}

func (e *Entity) doDisconnect(ctx context.Context, silent bool) error {
	e.log.Debug("disconnecting")

	if !silent {
		if err := e.Dispatch(ctx, domain.EventWillDisconnect, nil); err != nil {
			return e.Fail("dispatching willDisconnect")(err)
		}
	}

	e.mu.Lock()
	sub := e.sub
	syncStop := e.syncStop
	ingestDone := e.ingestDone
	e.sub = nil
	e.syncStop = nil
	e.ingestDone = nil
	e.mu.Unlock()
	if syncStop != nil {
		close(syncStop)
	}
	if sub != nil {
		sub.Cancel()
	}
	if ingestDone != nil {
		<-ingestDone
	}

	for _, id := range e.AttributeIDs() {
		if err := e.Without(ctx, id); err != nil {
			return err
		}
	}

	e.mu.Lock()
	e.connected = false
	e.complete = false
	e.mu.Unlock()

	if !silent {
		if err := e.Dispatch(ctx, domain.EventOnDisconnect, nil); err != nil {
			return e.Fail("dispatching onDisconnect")(err)
		}
	}

	e.RemoveAllListeners()
	return nil
}

// INGESTION

// processAtomUpdate runs one atom through the ingestion pipeline: namespace
// and duplicate gates, lifecycle event brackets, then the strategy fold.
func (e *Entity) processAtomUpdate(ctx context.Context, env domain.Envelope) error {
	if env.Namespace != e.realm.Fullname() {
		return nil
	}
	atom := env.Atom
	// DELETE re-delivers a stored atom ID, so the gate keys on ID+action.
	seenKey := atom.ID + "/" + string(atom.Action)

	e.mu.Lock()
	if _, seen := e.atomsSeen[seenKey]; seen {
		e.mu.Unlock()
		return nil
	}
	e.atomsSeen[seenKey] = struct{}{}
	e.updating = true
	e.mu.Unlock()

	if err := e.Dispatch(ctx, domain.EventWillUpdate, nil); err != nil {
		return e.Fail("dispatching willUpdate")(err)
	}

	e.mu.Lock()
	inOrder := true
	if n := len(e.history); n > 0 && atom.Timestamp.Before(e.history[n-1].Timestamp) {
		inOrder = false
	}
	if e.created.IsZero() || atom.Timestamp.Before(e.created) {
		e.created = atom.Timestamp
	}
	data := fromAtom(atom, inOrder)
	matches := atom.RecordType == e.kind.Name && (e.filter == nil || e.filter(e, data))
	e.mu.Unlock()

	didUpdate := false
	if matches {
		e.log.Debug("received new atom", "atom", atom.ID, "action", string(atom.Action))
		if err := e.Dispatch(ctx, domain.EventWillChange, nil); err != nil {
			return e.Fail("dispatching willChange")(err)
		}

		switch atom.Action {
		case domain.ActionStore:
			if err := e.Dispatch(ctx, domain.EventWillAdd, data); err != nil {
				return e.Fail("dispatching willAdd", data)(err)
			}
			e.mu.Lock()
			e.lastState = e.strategy.State()
			e.history = append(e.history, data)
			sort.SliceStable(e.history, func(i, j int) bool { return e.sortLess(e.history[i], e.history[j]) })
			err := e.strategy.Add(data, e.history)
			e.mu.Unlock()
			if err != nil {
				return e.Fail("adding new atom", data)(err)
			}
			if err := e.Dispatch(ctx, domain.EventOnAdd, data); err != nil {
				return e.Fail("dispatching onAdd", data)(err)
			}

		case domain.ActionDelete:
			if err := e.Dispatch(ctx, domain.EventWillDelete, data); err != nil {
				return e.Fail("dispatching willDelete", data)(err)
			}
			e.mu.Lock()
			e.lastState = e.strategy.State()
			for i, held := range e.history {
				if held.AtomID == data.AtomID {
					e.history = append(e.history[:i], e.history[i+1:]...)
					break
				}
			}
			err := e.strategy.Delete(data, e.history)
			e.mu.Unlock()
			if err != nil {
				return e.Fail("deleting atom", data)(err)
			}
			if err := e.Dispatch(ctx, domain.EventOnDelete, data); err != nil {
				return e.Fail("dispatching onDelete", data)(err)
			}
		}

		if err := e.Dispatch(ctx, domain.EventOnChange, nil); err != nil {
			return e.Fail("dispatching onChange")(err)
		}
		e.mu.Lock()
		e.changed = time.Now()
		e.empty = false
		e.mu.Unlock()
		didUpdate = true
	}

	if err := e.Dispatch(ctx, domain.EventOnUpdate, didUpdate); err != nil {
		return e.Fail("dispatching onUpdate", didUpdate)(err)
	}
	e.mu.Lock()
	e.updating = false
	e.updated = time.Now()
	e.mu.Unlock()
	return nil
}

// ATTRIBUTES

// Attribute registers a lazy child entity under id.
func (e *Entity) Attribute(id string, connector Connector) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if held, ok := e.attributes[id]; ok {
		held.connector = connector
		return
	}
	e.attributes[id] = &attribute{connector: connector}
	e.attrOrder = append(e.attrOrder, id)
}

// AttributeIDs lists registered attribute ids in registration order.
func (e *Entity) AttributeIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.attrOrder))
	copy(out, e.attrOrder)
	return out
}

// AttributeEntity returns the connected attribute entity under id, or nil.
func (e *Entity) AttributeEntity(id string) *Entity {
	e.mu.Lock()
	defer e.mu.Unlock()
	if held, ok := e.attributes[id]; ok {
		return held.entity
	}
	return nil
}

// With connects the attribute registered under id (idempotent) and fires
// onAddAttribute.
func (e *Entity) With(ctx context.Context, id string) error {
	e.mu.Lock()
	held, ok := e.attributes[id]
	if !ok || held.connector == nil {
		e.mu.Unlock()
		return e.Exception(4, id)
	}
	if held.entity != nil {
		e.mu.Unlock()
		return nil
	}
	connector := held.connector
	e.mu.Unlock()

	e.log.Debug("connecting attribute", "attribute", id)
	attached, err := connector(ctx)
	if err != nil {
		return e.Fail("connecting attribute "+id)(err)
	}

	e.mu.Lock()
	held.entity = attached
	e.mu.Unlock()
	return e.Dispatch(ctx, domain.EventOnAddAttribute, id)
}

// Without disconnects the attribute under id and fires onRemoveAttribute.
// Unknown or unconnected attributes are ignored.
func (e *Entity) Without(ctx context.Context, id string) error {
	e.mu.Lock()
	held, ok := e.attributes[id]
	if !ok || held.entity == nil {
		e.mu.Unlock()
		return nil
	}
	attached := held.entity
	e.mu.Unlock()

	e.log.Debug("disconnecting attribute", "attribute", id)
	if err := e.Dispatch(ctx, domain.EventOnRemoveAttribute, id); err != nil {
		return err
	}
	if err := attached.Disconnect(ctx); err != nil {
		return e.Fail("disconnecting attribute " + id)(err)
	}
	e.mu.Lock()
	held.entity = nil
	e.mu.Unlock()
	return nil
}

// OnAttribute registers callback for both attribute events, returning one
// joined handle.
func (e *Entity) OnAttribute(callback ListenerFunc) ListenerHandle {
	return Join(
		e.On(domain.EventOnAddAttribute, callback),
		e.On(domain.EventOnRemoveAttribute, callback),
	)
}

//// Read connects the entity and resolves attribute dependencies: all of them
// when only is empty, the named subset otherwise, or its complement when
// omit is set.
func (e *Entity) Read(ctx context.Context, only []string, omit bool) error {
	if err := e.Connect(ctx); err != nil {
		return err
	}
	wanted := make(map[string]bool, len(only))
	for _, id := range only {
		wanted[strings.ToLower(id)] = true
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range e.AttributeIDs() {
		include := len(only) == 0 || wanted[strings.ToLower(id)] != omit
		if !include {
			continue
		}
		id := id
		g.Go(func() error { return e.With(gctx, id) })
	}
	if err := g.Wait(); err != nil {
		return e.Fail("reading from accounts")(err)
	}
	return nil
}

// ReadAll connects and resolves every attribute.
func (e *Entity) ReadAll(ctx context.Context) error {
	return e.Read(ctx, nil, false)
}

// ReadWith connects and resolves only the named attributes.
func (e *Entity) ReadWith(ctx context.Context, ids ...string) error {
	return e.Read(ctx, ids, false)
}

// ReadWithout connects and resolves every attribute except the named ones.
// With no names it connects without resolving anything.
func (e *Entity) ReadWithout(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return e.Connect(ctx)
	}
	return e.Read(ctx, ids, true)
}

// ACTIONS

// RegisterAction exposes a method for remote invocation under name.
func (e *Entity) RegisterAction(name string, fn ActionFunc) {
	e.mu.Lock()
	e.actions[name] = fn
	e.mu.Unlock()
}

// Actions lists registered action names in sorted order.
func (e *Entity) Actions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.actions))
	for name := range e.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Act invokes a registered action on behalf of a client. The auth token must
// match the master's current session token.
func (e *Entity) Act(ctx context.Context, action, auth string, args []any) (any, error) {
	e.mu.Lock()
	fn, ok := e.actions[action]
	master := e.master
	e.mu.Unlock()
	if !ok {
		return nil, e.Exception(5, action)
	}
	if master == nil || auth == "" || auth != master.AuthToken() {
		return nil, e.Exception(6)
	}
	start := time.Now()
	out, err := fn(ctx, args)
	e.realm.Metrics().Observe(ctx, "action."+action, err == nil, time.Since(start))
	if err != nil {
		return nil, e.Fail("proxy action "+action, args...)(err)
	}
	return out, nil
}

// WRITING

// Write appends a record atom through the entity's master.
func (e *Entity) Write(ctx context.Context, data map[string]any) error {
	return e.WriteAs(ctx, nil, data)
}

// WriteAs appends a record atom through master (the entity's own master when
// nil). A first write to an empty entity is bracketed by willCreate and
// didCreate; every write is bracketed by willWrite and didWrite.
func (e *Entity) WriteAs(ctx context.Context, master Master, data map[string]any) error {
	if err := Require(e, "write", string(RequireAccount)); err != nil {
		return err
	}
	if master == nil {
		master = e.Master()
	}
	if master == nil {
		return fmt.Errorf("write: entity %s has no master", e.Label())
	}
	e.log.Debug("writing to ledger")

	first := e.Empty()
	if first {
		if err := e.Dispatch(ctx, domain.EventWillCreate, data); err != nil {
			return e.Fail("dispatching willCreate", data)(err)
		}
	}
	if err := e.Dispatch(ctx, domain.EventWillWrite, data); err != nil {
		return e.Fail("dispatching willWrite", data)(err)
	}

	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload["record"] = e.kind.Name
	start := time.Now()
	err := master.Commit(ctx, e.Account(), payload)
	e.realm.Metrics().Observe(ctx, "write", err == nil, time.Since(start))
	if err != nil {
		return e.Fail("writing to ledger", data)(err)
	}

	if first {
		if err := e.Dispatch(ctx, domain.EventDidCreate, data); err != nil {
			return e.Fail("dispatching didCreate", data)(err)
		}
	}
	if err := e.Dispatch(ctx, domain.EventDidWrite, data); err != nil {
		return e.Fail("dispatching didWrite", data)(err)
	}
	return nil
}

// STATUS

// Status builds the snapshot pushed to subscribed clients.
func (e *Entity) Status() domain.Status {
	e.mu.Lock()
	status := domain.Status{
		Name:      e.kind.Name,
		Connected: e.connected,
		Complete:  e.complete,
		Empty:     e.empty,
		Created:   e.created,
		Updated:   e.updated,
		Timestamp: time.Now(),
		History:   e.historyAtomsLocked(),
		State:     e.strategy.State(),
	}
	if e.account != nil {
		status.Address = e.account.Address
		status.Label = e.kind.Name + ":" + e.account.Short()
	} else {
		status.Label = e.kind.Name + ":BLANK"
	}
	traits := make([]string, len(e.traits))
	copy(traits, e.traits)
	status.Traits = traits
	for name := range e.actions {
		status.Actions = append(status.Actions, name)
	}
	sort.Strings(status.Actions)
	parent := e.parent
	attrOrder := make([]string, len(e.attrOrder))
	copy(attrOrder, e.attrOrder)
	attached := make(map[string]*Entity, len(attrOrder))
	for _, id := range attrOrder {
		attached[id] = e.attributes[id].entity
	}
	// release before touching other entities' locks
	e.mu.Unlock()

	if parent != nil {
		status.Parent = &domain.ParentRef{
			Name:    parent.Name(),
			Label:   parent.Label(),
			Address: parent.Address(),
		}
	}
	for _, id := range attrOrder {
		child := attached[id]
		if child == nil || !child.Connected() {
			continue
		}
		status.Attributes = append(status.Attributes, domain.AttributeRef{
			ID:      id,
			Type:    child.Name(),
			Address: child.Address(),
		})
	}
	return status
}
