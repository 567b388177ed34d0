package observer

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"citybuilder.ai/internal/protocol"
	"citybuilder.ai/internal/sim/engine"
)

type fakeEngine struct {
	join     chan engine.ObserverJoinRequest
	leave    chan string
	commands chan engine.CommandEnvelope
	accept   bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		join:     make(chan engine.ObserverJoinRequest, 4),
		leave:    make(chan string, 4),
		commands: make(chan engine.CommandEnvelope, 16),
		accept:   true,
	}
}

func (f *fakeEngine) ObserverJoin() chan<- engine.ObserverJoinRequest { return f.join }
func (f *fakeEngine) ObserverLeave() chan<- string                    { return f.leave }
func (f *fakeEngine) Submit(env engine.CommandEnvelope) bool {
	if !f.accept {
		return false
	}
	f.commands <- env
	return true
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readMsg(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return m
}

func subscribe(t *testing.T, f *fakeEngine, conn *websocket.Conn, role string) engine.ObserverJoinRequest {
	t.Helper()
	writeJSON(t, conn, protocol.SubscribeMsg{Type: protocol.TypeSubscribe, ProtocolVersion: protocol.Version, Role: role})
	select {
	case req := <-f.join:
		return req
	case <-time.After(2 * time.Second):
		t.Fatalf("no join request")
	}
	return engine.ObserverJoinRequest{}
}

func TestServer_SubscribeJoinsAndForwardsEngineOutput(t *testing.T) {
	f := newFakeEngine()
	s := NewServer(f, Config{}, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dial(t, srv)
	req := subscribe(t, f, conn, protocol.RoleMover)
	if req.Role != protocol.RoleMover || !strings.HasPrefix(req.SessionID, "O") {
		t.Fatalf("unexpected join: %+v", req)
	}

	req.Out <- []byte(`{"type":"WORLD_STATE","protocol_version":"1.0"}`)
	if m := readMsg(t, conn); m["type"] != protocol.TypeWorldState {
		t.Fatalf("got %v", m)
	}

	writeJSON(t, conn, protocol.ActionCompleteMsg{Type: protocol.TypeActionComplete, ProtocolVersion: protocol.Version, Kind: protocol.ActionBuildComplete, BuildID: "B000001"})
	select {
	case env := <-f.commands:
		m, ok := env.Msg.(protocol.ActionCompleteMsg)
		if !ok || m.BuildID != "B000001" || env.Role != protocol.RoleMover || env.SessionID != req.SessionID {
			t.Fatalf("unexpected envelope: %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("command not submitted")
	}

	_ = conn.Close()
	select {
	case id := <-f.leave:
		if id != req.SessionID {
			t.Fatalf("leave id=%s want %s", id, req.SessionID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no leave")
	}
}

func TestServer_RejectsBadCommands(t *testing.T) {
	f := newFakeEngine()
	s := NewServer(f, Config{}, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dial(t, srv)
	subscribe(t, f, conn, "")

	cases := []struct {
		raw  string
		code string
	}{
		{`{"type":"SET_SPEED","protocol_version":"1.0"}`, protocol.ErrProtoBadRequest},
		{`{"type":"TELEPORT","protocol_version":"1.0"}`, protocol.ErrProtoUnknownType},
		{`{"type":"RESET","protocol_version":"2.0"}`, protocol.ErrProtoVersion},
		{`not json`, protocol.ErrProtoBadRequest},
	}
	for _, tc := range cases {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(tc.raw)); err != nil {
			t.Fatalf("write: %v", err)
		}
		m := readMsg(t, conn)
		if m["type"] != protocol.TypeError || m["code"] != tc.code {
			t.Fatalf("%s: got %v want code %s", tc.raw, m, tc.code)
		}
	}
	if len(f.commands) != 0 {
		t.Fatalf("invalid commands reached the engine")
	}
}

func TestServer_RateLimitAndBusy(t *testing.T) {
	f := newFakeEngine()
	s := NewServer(f, Config{CommandsPerSecond: 0.001, CommandBurst: 1}, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dial(t, srv)
	subscribe(t, f, conn, protocol.RoleViewer)

	speed := protocol.SetSpeedMsg{Type: protocol.TypeSetSpeed, ProtocolVersion: protocol.Version, Speed: 2}
	writeJSON(t, conn, speed)
	select {
	case <-f.commands:
	case <-time.After(2 * time.Second):
		t.Fatalf("first command not submitted")
	}
	writeJSON(t, conn, speed)
	if m := readMsg(t, conn); m["code"] != protocol.ErrRateLimit {
		t.Fatalf("got %v want rate limit", m)
	}

	f2 := newFakeEngine()
	f2.accept = false
	srv2 := httptest.NewServer(NewServer(f2, Config{}, nil).Handler())
	defer srv2.Close()
	conn2 := dial(t, srv2)
	subscribe(t, f2, conn2, protocol.RoleViewer)
	writeJSON(t, conn2, speed)
	if m := readMsg(t, conn2); m["code"] != protocol.ErrBusy {
		t.Fatalf("got %v want busy", m)
	}
}

func TestServer_HandshakeRequiresSubscribe(t *testing.T) {
	f := newFakeEngine()
	srv := httptest.NewServer(NewServer(f, Config{}, nil).Handler())
	defer srv.Close()

	conn := dial(t, srv)
	writeJSON(t, conn, protocol.ResetMsg{Type: protocol.TypeReset, ProtocolVersion: protocol.Version})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	if err == nil {
		t.Fatalf("expected close")
	}
	if !errors.As(err, &ce) || ce.Code != websocket.ClosePolicyViolation {
		t.Fatalf("err=%v", err)
	}
	if len(f.join) != 0 {
		t.Fatalf("join should not be sent")
	}
}

func TestResolveRole(t *testing.T) {
	cases := []struct {
		requested, remote string
		allowRemote       bool
		want              string
	}{
		{"", "10.0.0.2:5000", false, protocol.RoleViewer},
		{"mover", "10.0.0.2:5000", false, protocol.RoleMover},
		{"admin", "127.0.0.1:5000", false, protocol.RoleAdmin},
		{"admin", "[::1]:5000", false, protocol.RoleAdmin},
		{"admin", "10.0.0.2:5000", false, ""},
		{"admin", "10.0.0.2:5000", true, protocol.RoleAdmin},
	}
	for _, tc := range cases {
		if got := resolveRole(tc.requested, tc.remote, tc.allowRemote); got != tc.want {
			t.Fatalf("resolveRole(%q,%q,%v)=%q want %q", tc.requested, tc.remote, tc.allowRemote, got, tc.want)
		}
	}
}
