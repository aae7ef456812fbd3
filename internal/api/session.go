package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"podium/internal/core"
	"podium/internal/entities"
	"podium/internal/nation"
	"podium/internal/traits"
	"podium/pkg/domain"
	"podium/pkg/logging"
)

// request is one inbound client frame. Task is an opaque client tag echoed on
// the response so callers can match replies to requests.
type request struct {
	Task   string `json:"task"`
	Type   string `json:"type"`
	Nation string `json:"nation"`

	Kind    string `json:"kind"`
	Address string `json:"address"`

	Alias      string         `json:"alias"`
	Passphrase string         `json:"passphrase"`
	KeyPair    map[string]any `json:"keyPair"`

	Action string `json:"action"`
	Args   []any  `json:"args"`
	Auth   string `json:"auth"`

	Terms string   `json:"terms"`
	Among []string `json:"among"`
}

// response is one outbound reply frame.
type response struct {
	Task   string `json:"task,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// push is one unsolicited status frame for a synced entity.
type push struct {
	Type    string        `json:"type"`
	Address string        `json:"address"`
	Status  domain.Status `json:"status"`
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

// Session serves one websocket client: it dispatches request frames, tracks
// the entities the client has synced, and streams their status snapshots
// until the socket closes.
type Session struct {
	id     string
	server *Server
	nation *nation.Nation
	conn   *websocket.Conn
	log    *logging.Logger

	send chan []byte
	done chan struct{}

	mu            sync.Mutex
	closed        bool
	subscriptions map[string]core.ListenerHandle
}

func newSession(server *Server, conn *websocket.Conn) *Session {
	id := uuid.NewString()
	return &Session{
		id:            id,
		server:        server,
		nation:        server.nation,
		conn:          conn,
		log:           server.log.With("session", shortID(id)),
		send:          make(chan []byte, 64),
		done:          make(chan struct{}),
		subscriptions: make(map[string]core.ListenerHandle),
	}
}

func shortID(id string) string {
	if len(id) <= 5 {
		return id
	}
	return id[len(id)-5:]
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// run owns the socket: one reader loop here, one writer pump goroutine.
// Returns when the client disconnects or the session is closed.
func (s *Session) run(ctx context.Context) {
	go s.writePump()
	s.log.Debug("session open")
	s.emit(response{Task: "connection", Result: true})

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			break
		}
		var req request
		if err := json.Unmarshal(raw, &req); err != nil {
			s.emit(response{Error: "malformed request"})
			continue
		}
		s.handle(ctx, req)
	}
	s.close()
}

// writePump serializes all socket writes through one goroutine, as the
// websocket connection permits a single concurrent writer.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case raw, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) emit(v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		s.log.Error("encoding frame", "error", err)
		return
	}
	select {
	case s.send <- raw:
	case <-s.done:
	default:
		// A client that cannot drain its queue loses frames rather than
		// stalling every synced entity's dispatch.
		s.log.Warn("dropping frame, send queue full")
	}
}

// close unwinds subscriptions and removes the session from the server.
func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	handles := s.subscriptions
	s.subscriptions = nil
	s.mu.Unlock()

	for _, handle := range handles {
		handle.Remove()
	}
	close(s.done)
	s.conn.Close()
	s.server.endSession(s.id)
	s.log.Debug("session closed")
}

// handle routes one request frame and replies with a result or error. Every
// frame must carry the nation's fullname.
func (s *Session) handle(ctx context.Context, req request) {
	if req.Nation != s.nation.Fullname() {
		s.log.Warn("request to wrong nation", "nation", req.Nation)
		s.emit(response{Task: req.Task, Error: fmt.Sprintf("request to wrong nation: %s", req.Nation)})
		return
	}
	s.log.Debug("request", "type", req.Type, "task", req.Task)

	result, err := s.perform(ctx, req)
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	if err != nil {
		s.log.Warn("request failed", "type", req.Type, "error", err)
		s.emit(response{Task: req.Task, Error: err.Error()})
		return
	}
	s.emit(response{Task: req.Task, Result: result})
}

func (s *Session) perform(ctx context.Context, req request) (any, error) {
	switch req.Type {
	case "register":
		return s.register(ctx, req.Alias, req.Passphrase)
	case "signIn":
		return s.signIn(ctx, req.Alias, req.Passphrase)
	case "keyIn":
		return s.keyIn(ctx, req.KeyPair, req.Passphrase)
	case "sync":
		return s.sync(ctx, req.Kind, req.Address)
	case "unsync":
		return s.unsync(req.Address)
	case "read":
		return s.read(ctx, req.Kind, req.Address)
	case "write":
		return s.write(ctx, req)
	case "nation":
		return s.nation.Fullname(), nil
	case "search":
		return s.nation.Directory().Search(req.Terms, req.Among...), nil
	default:
		return nil, fmt.Errorf("unknown request type %q", req.Type)
	}
}

// register creates a new member, follows the founder, and returns the access
// bundle (address, sealed keypair, auth token).
func (s *Session) register(ctx context.Context, alias, passphrase string) (any, error) {
	user, err := core.NewEntity(s.nation, nil, entities.UserKind)
	if err != nil {
		return nil, err
	}
	if err := entities.RegisteringOf(user).Create(ctx, alias, passphrase); err != nil {
		return nil, err
	}
	if founder := s.nation.Founder(); founder != nil && founder.Address() != user.Address() {
		if err := traits.FollowingOf(user).Follow(ctx, founder); err != nil {
			s.log.Warn("following founder", "alias", alias, "error", err)
		}
	}
	return traits.AuthenticatingOf(user).Access(), nil
}

func (s *Session) signIn(ctx context.Context, alias, passphrase string) (any, error) {
	user, err := core.NewEntity(s.nation, nil, entities.UserKind)
	if err != nil {
		return nil, err
	}
	auth := traits.AuthenticatingOf(user)
	if err := auth.WithCredentials(ctx, alias, passphrase); err != nil {
		return nil, err
	}
	return auth.Access(), nil
}

func (s *Session) keyIn(ctx context.Context, sealed map[string]any, passphrase string) (any, error) {
	user, err := core.NewEntity(s.nation, nil, entities.UserKind)
	if err != nil {
		return nil, err
	}
	auth := traits.AuthenticatingOf(user)
	if err := auth.WithEncryptedKeyPair(ctx, sealed, passphrase); err != nil {
		return nil, err
	}
	return auth.Access(), nil
}

// sync subscribes the client to an entity's status stream. The current
// snapshot is pushed immediately, then on every change, connected attribute,
// and completion.
func (s *Session) sync(ctx context.Context, kind, address string) (any, error) {
	entity, err := s.resolve(ctx, kind, address)
	if err != nil {
		return nil, err
	}
	forward := func(context.Context, domain.EventPayload) error {
		s.emit(push{Type: "sync", Address: entity.Address(), Status: entity.Status()})
		return nil
	}
	handle := core.Join(
		entity.On(domain.EventOnChange, forward),
		entity.On(domain.EventOnComplete, forward),
		entity.OnAttribute(forward),
	)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		handle.Remove()
		return nil, fmt.Errorf("session closed")
	}
	if held, ok := s.subscriptions[entity.Address()]; ok {
		held.Remove()
	}
	s.subscriptions[entity.Address()] = handle
	s.mu.Unlock()

	s.emit(push{Type: "sync", Address: entity.Address(), Status: entity.Status()})
	return true, nil
}

// unsync drops the client's subscription to an entity.
func (s *Session) unsync(address string) (any, error) {
	s.mu.Lock()
	handle, ok := s.subscriptions[address]
	delete(s.subscriptions, address)
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("not synced to %s", address)
	}
	handle.Remove()
	return true, nil
}

// read resolves an entity and returns a one-off status snapshot.
func (s *Session) read(ctx context.Context, kind, address string) (any, error) {
	entity, err := s.resolve(ctx, kind, address)
	if err != nil {
		return nil, err
	}
	return entity.Status(), nil
}

// write invokes a registered action. Entity-reference args are resolved
// before invocation; the auth token is checked against the entity's master.
func (s *Session) write(ctx context.Context, req request) (any, error) {
	entity, err := s.resolve(ctx, req.Kind, req.Address)
	if err != nil {
		return nil, err
	}
	args := make([]any, len(req.Args))
	for i, arg := range req.Args {
		resolved, err := s.resolveArg(ctx, arg)
		if err != nil {
			return nil, err
		}
		args[i] = resolved
	}
	return entity.Act(ctx, req.Action, req.Auth, args)
}

// resolveArg replaces {isEntity:true, type, address} wire references with
// connected entities.
func (s *Session) resolveArg(ctx context.Context, arg any) (any, error) {
	ref, ok := arg.(map[string]any)
	if !ok {
		return arg, nil
	}
	if isEntity, _ := ref["isEntity"].(bool); !isEntity {
		return arg, nil
	}
	kind, _ := ref["type"].(string)
	address, _ := ref["address"].(string)
	return s.resolve(ctx, kind, address)
}

// resolve returns the connected entity at address: the cached instance when
// one exists, otherwise a fresh instance of the named kind, bound and read.
func (s *Session) resolve(ctx context.Context, kind, address string) (*core.Entity, error) {
	if address == "" {
		return nil, fmt.Errorf("entity address is required")
	}
	if held := s.nation.Cache().Get(address); held != nil {
		return held, nil
	}
	descriptor, ok := s.nation.Kinds().Get(kind)
	if !ok {
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	var entity *core.Entity
	var err error
	if descriptor.New != nil {
		entity, err = descriptor.New(s.nation, nil)
	} else {
		entity, err = core.NewEntity(s.nation, nil, descriptor)
	}
	if err != nil {
		return nil, err
	}
	bound := entity.FromAddress(address)
	if err := bound.ReadAll(ctx); err != nil {
		return nil, err
	}
	return bound, nil
}
