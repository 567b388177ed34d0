package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"citybuilder.ai/internal/protocol"
)

func TestMover_ReportsArrivalThenCompletion(t *testing.T) {
	got := make(chan protocol.ActionCompleteMsg, 4)
	subRole := make(chan string, 1)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub protocol.SubscribeMsg
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subRole <- sub.Role
		_ = conn.WriteJSON(protocol.WorldStateMsg{Type: protocol.TypeWorldState, ProtocolVersion: protocol.Version, Speed: 1})
		_ = conn.WriteJSON(protocol.BuildStartedMsg{
			Type:            protocol.TypeBuildStarted,
			ProtocolVersion: protocol.Version,
			BuildID:         "B000001",
			Category:        "residential",
			Position:        [2]int{8, 0},
			DurationMS:      10,
		})
		for {
			var m protocol.ActionCompleteMsg
			if err := conn.ReadJSON(&m); err != nil {
				return
			}
			got <- m
		}
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := newMover(conn, Options{WalkSpeed: 1000, Seed: 1}, nil)
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case role := <-subRole:
		if role != protocol.RoleMover {
			t.Fatalf("role=%q", role)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no SUBSCRIBE")
	}

	var msgs []protocol.ActionCompleteMsg
	for len(msgs) < 2 {
		select {
		case msg := <-got:
			msgs = append(msgs, msg)
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out, got %+v", msgs)
		}
	}
	if msgs[0].Kind != protocol.ActionArrived || msgs[0].Position == nil || *msgs[0].Position != [2]int{8, 0} {
		b, _ := json.Marshal(msgs[0])
		t.Fatalf("first message %s", b)
	}
	if msgs[1].Kind != protocol.ActionBuildComplete || msgs[1].BuildID != "B000001" {
		t.Fatalf("second message %+v", msgs[1])
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("mover did not stop")
	}
}

func TestMover_PlanScalesWithSpeed(t *testing.T) {
	m := newMover(nil, Options{WalkSpeed: 10, Seed: 7}, nil)
	bs := protocol.BuildStartedMsg{Position: [2]int{30, 40}, DurationMS: 1500}

	travel, build := m.plan(bs)
	if travel < 5*time.Second || travel > 5500*time.Millisecond {
		t.Fatalf("travel=%s want 5s..5.5s", travel)
	}
	if build != 1500*time.Millisecond {
		t.Fatalf("build=%s", build)
	}

	m.speed = 2
	m.opts.BuildTime = 4 * time.Second
	travel, build = m.plan(bs)
	if travel < 2500*time.Millisecond || travel > 2750*time.Millisecond {
		t.Fatalf("travel at 2x=%s", travel)
	}
	if build != 2*time.Second {
		t.Fatalf("build at 2x=%s", build)
	}
}
