// Package api serves the websocket client channel: sessions sync entities,
// receive status snapshots as atoms land, and invoke registered actions
// remotely. One server fronts one nation.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"podium/internal/nation"
	"podium/pkg/logging"
)

// Server accepts websocket sessions for one nation. Connections arriving
// while the server is not open are told so and dropped, matching the
// lifecycle where the nation launches before the channel opens.
type Server struct {
	nation *nation.Nation
	log    *logging.Logger

	upgrader websocket.Upgrader
	http     *http.Server

	mu       sync.Mutex
	open     bool
	sessions map[string]*Session
}

// NewServer builds the channel server for a nation, listening on addr.
func NewServer(n *nation.Nation, addr string, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Server{
		nation: n,
		log:    logger.With("service", "api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from arbitrary origins; auth happens
			// per-action via session tokens, not per-socket.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions: make(map[string]*Session),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/socket", s.serveSocket)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.serveHealth)
	mux.HandleFunc("/status", s.serveStatus)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start listens and begins accepting sessions. Blocks until the listener
// fails or Shutdown runs.
func (s *Server) Start() error {
	s.Open()
	s.log.Info("client channel listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Open begins accepting new sessions.
func (s *Server) Open() {
	s.mu.Lock()
	s.open = true
	s.mu.Unlock()
}

// Close stops accepting new sessions and disconnects the active ones.
func (s *Server) Close() {
	s.mu.Lock()
	s.open = false
	active := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		active = append(active, session)
	}
	s.mu.Unlock()
	for _, session := range active {
		session.close()
	}
}

// Shutdown closes the channel and the underlying listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("closing client channel")
	s.Close()
	return s.http.Shutdown(ctx)
}

// ActiveSessions reports the number of connected clients.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	if !s.nation.Live() {
		http.Error(w, "offline", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) serveStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.nation.Status()); err != nil {
		s.log.Warn("writing status", "error", err)
	}
}

func (s *Server) serveSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrading connection", "error", err)
		return
	}
	s.mu.Lock()
	open := s.open
	s.mu.Unlock()
	if !open || !s.nation.Live() {
		conn.WriteJSON(response{Task: "connection", Error: "offline"})
		conn.Close()
		return
	}

	session := newSession(s, conn)
	s.mu.Lock()
	s.sessions[session.ID()] = session
	s.mu.Unlock()
	s.log.Info("session started", "session", shortID(session.ID()))
	// The request context dies when this handler returns; the session
	// outlives it on the hijacked connection.
	go session.run(context.Background())
}

func (s *Server) endSession(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}
