package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"podium/internal/blob"
	"podium/internal/config"
	"podium/internal/entities"
	"podium/internal/ledger/memory"
	"podium/internal/nation"
	"podium/pkg/logging"
)

func launchedNation(t *testing.T) *nation.Nation {
	t.Helper()
	c := config.Constitution{
		Admin:       "keeper",
		Designation: config.Designation{Name: "agora"},
		Founder:     config.Founder{Alias: "solon"},
		Domain: config.Domain{
			Name: "forum",
			Tokens: []entities.TokenGrant{{
				Designation: map[string]any{"symbol": "POD", "name": "Podium"},
				SeedVolume:  1000,
				Config:      map[string]any{"pricing": map[string]any{"post": 1.0}},
			}},
		},
		Engine: config.Engine{SyncTimeout: config.Duration(2 * time.Second)},
	}
	n, err := nation.New(c, memory.NewStore(c.Fullname()), blob.NewMemory(), logging.Discard(), nil)
	if err != nil {
		t.Fatalf("assembling nation: %v", err)
	}
	if err := n.Launch(context.Background()); err != nil {
		t.Fatalf("launching: %v", err)
	}
	t.Cleanup(func() { _ = n.Stop(context.Background()) })
	return n
}

// openServer fronts the nation with an httptest listener and returns the
// server plus its base URL.
func openServer(t *testing.T, n *nation.Nation) (*Server, string) {
	t.Helper()
	s := NewServer(n, "unused", logging.Discard())
	ts := httptest.NewServer(s.http.Handler)
	t.Cleanup(ts.Close)
	t.Cleanup(s.Close)
	s.Open()
	return s, ts.URL
}

func dialSocket(t *testing.T, baseURL string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/socket"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	return frame
}

// connect dials the socket and consumes the greeting frame.
func connect(t *testing.T, baseURL string) *websocket.Conn {
	t.Helper()
	conn := dialSocket(t, baseURL)
	greeting := readFrame(t, conn)
	if greeting["task"] != "connection" || greeting["result"] != true {
		t.Fatalf("greeting = %v", greeting)
	}
	return conn
}

func send(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("writing frame: %v", err)
	}
}

func TestSocketRejectsWrongNation(t *testing.T) {
	n := launchedNation(t)
	_, url := openServer(t, n)
	conn := connect(t, url)

	send(t, conn, map[string]any{"task": "t1", "type": "nation", "nation": "elsewhere"})
	reply := readFrame(t, conn)
	if reply["task"] != "t1" {
		t.Fatalf("reply = %v", reply)
	}
	errText, _ := reply["error"].(string)
	if !strings.Contains(errText, "wrong nation") {
		t.Fatalf("error = %q", errText)
	}

	send(t, conn, map[string]any{"task": "t2", "type": "nation", "nation": n.Fullname()})
	reply = readFrame(t, conn)
	if reply["result"] != n.Fullname() {
		t.Fatalf("nation reply = %v", reply)
	}
}

func TestRegisterAndSignInOverSocket(t *testing.T) {
	n := launchedNation(t)
	_, url := openServer(t, n)
	conn := connect(t, url)

	send(t, conn, map[string]any{
		"task": "reg", "type": "register", "nation": n.Fullname(),
		"alias": "ada", "passphrase": "north-sea",
	})
	reply := readFrame(t, conn)
	access, _ := reply["result"].(map[string]any)
	if access == nil {
		t.Fatalf("register reply = %v", reply)
	}
	address, _ := access["address"].(string)
	if !strings.HasPrefix(address, "POD") {
		t.Fatalf("access address = %q", address)
	}
	if auth, _ := access["auth"].(string); auth == "" || access["keyPair"] == nil {
		t.Fatalf("access bundle incomplete: %v", access)
	}

	send(t, conn, map[string]any{
		"task": "in", "type": "signIn", "nation": n.Fullname(),
		"alias": "ada", "passphrase": "north-sea",
	})
	reply = readFrame(t, conn)
	signedIn, _ := reply["result"].(map[string]any)
	if signedIn == nil || signedIn["address"] != address {
		t.Fatalf("sign-in reply = %v", reply)
	}

	send(t, conn, map[string]any{
		"task": "bad", "type": "signIn", "nation": n.Fullname(),
		"alias": "ada", "passphrase": "wrong",
	})
	reply = readFrame(t, conn)
	if reply["error"] == nil {
		t.Fatalf("wrong passphrase accepted: %v", reply)
	}
}

func TestSyncPushesStatusFrames(t *testing.T) {
	n := launchedNation(t)
	_, url := openServer(t, n)
	conn := connect(t, url)
	founder := n.Founder().Address()

	send(t, conn, map[string]any{
		"task": "s1", "type": "sync", "nation": n.Fullname(),
		"kind": "User", "address": founder,
	})

	// The snapshot push precedes the acknowledgement; collect both.
	var sawPush, sawAck bool
	for i := 0; i < 4 && !(sawPush && sawAck); i++ {
		frame := readFrame(t, conn)
		switch {
		case frame["type"] == "sync":
			if frame["address"] != founder || frame["status"] == nil {
				t.Fatalf("push frame = %v", frame)
			}
			sawPush = true
		case frame["task"] == "s1":
			if frame["result"] != true {
				t.Fatalf("sync ack = %v", frame)
			}
			sawAck = true
		}
	}
	if !sawPush || !sawAck {
		t.Fatalf("sync delivered push=%v ack=%v", sawPush, sawAck)
	}

	send(t, conn, map[string]any{
		"task": "u1", "type": "unsync", "nation": n.Fullname(), "address": founder,
	})
	if reply := readFrame(t, conn); reply["result"] != true {
		t.Fatalf("unsync reply = %v", reply)
	}
	send(t, conn, map[string]any{
		"task": "u2", "type": "unsync", "nation": n.Fullname(), "address": founder,
	})
	if reply := readFrame(t, conn); reply["error"] == nil {
		t.Fatalf("double unsync accepted: %v", reply)
	}
}

func TestSearchOverSocket(t *testing.T) {
	n := launchedNation(t)
	_, url := openServer(t, n)
	conn := connect(t, url)

	send(t, conn, map[string]any{
		"task": "q", "type": "search", "nation": n.Fullname(), "terms": "sol",
	})
	reply := readFrame(t, conn)
	hits, _ := reply["result"].([]any)
	if len(hits) != 1 || hits[0] != n.Founder().Address() {
		t.Fatalf("search reply = %v", reply)
	}

	send(t, conn, map[string]any{"task": "x", "type": "bogus", "nation": n.Fullname()})
	reply = readFrame(t, conn)
	errText, _ := reply["error"].(string)
	if !strings.Contains(errText, "unknown request type") {
		t.Fatalf("bogus type reply = %v", reply)
	}
}

func TestClosedChannelTurnsConnectionsAway(t *testing.T) {
	n := launchedNation(t)
	s := NewServer(n, "unused", logging.Discard())
	ts := httptest.NewServer(s.http.Handler)
	t.Cleanup(ts.Close)
	// The channel never opened, so the socket is told and dropped.
	conn := dialSocket(t, ts.URL)
	frame := readFrame(t, conn)
	if frame["task"] != "connection" || frame["error"] != "offline" {
		t.Fatalf("frame = %v", frame)
	}
}

func TestHealthAndStatusEndpoints(t *testing.T) {
	n := launchedNation(t)
	_, url := openServer(t, n)

	resp, err := http.Get(url + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("healthz = %d %q", resp.StatusCode, body)
	}

	resp, err = http.Get(url + "/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	defer resp.Body.Close()
	var status nation.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if status.Name != "agora" || !status.Live || status.Founder == "" {
		t.Fatalf("status = %+v", status)
	}
}
