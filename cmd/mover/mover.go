package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"citybuilder.ai/internal/protocol"
)

type Options struct {
	Name string
	// WalkSpeed is grid units per second at simulation speed 1.
	WalkSpeed float64
	// BuildTime overrides the server's duration_ms when non-zero.
	BuildTime time.Duration
	Seed      int64
}

// mover plays the external animator: it walks the avatar to each dispatched
// site, reports ARRIVED, waits out construction and reports BUILD_COMPLETE.
type mover struct {
	conn   *websocket.Conn
	opts   Options
	logger *log.Logger

	writeMu sync.Mutex

	mu    sync.Mutex
	pos   [2]int
	speed float64
	rng   *rand.Rand
}

func newMover(conn *websocket.Conn, opts Options, logger *log.Logger) *mover {
	if opts.WalkSpeed <= 0 {
		opts.WalkSpeed = 8
	}
	return &mover{
		conn:   conn,
		opts:   opts,
		logger: logger,
		speed:  1,
		rng:    rand.New(rand.NewSource(opts.Seed)),
	}
}

func (m *mover) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}

func (m *mover) send(v any) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = m.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return m.conn.WriteJSON(v)
}

func (m *mover) Run(ctx context.Context) error {
	sub := protocol.SubscribeMsg{
		Type:            protocol.TypeSubscribe,
		ProtocolVersion: protocol.Version,
		ClientName:      m.opts.Name,
		Role:            protocol.RoleMover,
	}
	if err := m.send(sub); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		_ = m.conn.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		_, msg, err := m.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWorldState:
			var ws protocol.WorldStateMsg
			if err := json.Unmarshal(msg, &ws); err != nil {
				continue
			}
			m.mu.Lock()
			m.pos = ws.Avatar.Position
			if ws.Speed > 0 {
				m.speed = ws.Speed
			}
			m.mu.Unlock()
			m.logf("WORLD_STATE structures=%d day=%d", ws.TotalStructureCount, ws.Day)

		case protocol.TypeSpeedChanged:
			var sc protocol.SpeedChangedMsg
			if err := json.Unmarshal(msg, &sc); err != nil || sc.Speed <= 0 {
				continue
			}
			m.mu.Lock()
			m.speed = sc.Speed
			m.mu.Unlock()

		case protocol.TypeBuildStarted:
			var bs protocol.BuildStartedMsg
			if err := json.Unmarshal(msg, &bs); err != nil {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := m.perform(ctx, bs); err != nil && !errors.Is(err, context.Canceled) {
					m.logf("build %s: %v", bs.BuildID, err)
				}
			}()

		case protocol.TypeError:
			var e protocol.ErrorMsg
			if err := json.Unmarshal(msg, &e); err == nil {
				m.logf("ERROR code=%s ref=%s msg=%s", e.Code, e.RefType, e.Message)
			}
		}
	}
}

// perform walks to the site and completes the build. The server's own
// construction timer may finish first; the late BUILD_COMPLETE is ignored.
func (m *mover) perform(ctx context.Context, bs protocol.BuildStartedMsg) error {
	travel, build := m.plan(bs)
	m.logf("BUILD_STARTED id=%s category=%s pos=(%d,%d) travel=%s", bs.BuildID, bs.Category, bs.Position[0], bs.Position[1], travel)

	if err := sleepCtx(ctx, travel); err != nil {
		return err
	}
	pos := bs.Position
	m.mu.Lock()
	m.pos = pos
	m.mu.Unlock()
	if err := m.send(protocol.ActionCompleteMsg{
		Type:            protocol.TypeActionComplete,
		ProtocolVersion: protocol.Version,
		Kind:            protocol.ActionArrived,
		Position:        &pos,
	}); err != nil {
		return err
	}

	if err := sleepCtx(ctx, build); err != nil {
		return err
	}
	return m.send(protocol.ActionCompleteMsg{
		Type:            protocol.TypeActionComplete,
		ProtocolVersion: protocol.Version,
		Kind:            protocol.ActionBuildComplete,
		BuildID:         bs.BuildID,
	})
}

// plan returns the walk time from the current position and the construction
// time, both scaled by the simulation speed. Travel gets up to 10% jitter.
func (m *mover) plan(bs protocol.BuildStartedMsg) (travel, build time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	speed := m.speed
	if speed <= 0 {
		speed = 1
	}
	dx := float64(bs.Position[0] - m.pos[0])
	dz := float64(bs.Position[1] - m.pos[1])
	secs := math.Hypot(dx, dz) / m.opts.WalkSpeed / speed
	secs *= 1 + 0.1*m.rng.Float64()
	travel = time.Duration(secs * float64(time.Second))

	if m.opts.BuildTime > 0 {
		build = time.Duration(float64(m.opts.BuildTime) / speed)
	} else {
		// duration_ms is already scaled by the server.
		build = time.Duration(bs.DurationMS) * time.Millisecond
	}
	return travel, build
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
