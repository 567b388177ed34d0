package observer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"citybuilder.ai/internal/protocol"
	"citybuilder.ai/internal/sim/engine"
)

// Engine is the part of the runtime loop a session talks to.
type Engine interface {
	ObserverJoin() chan<- engine.ObserverJoinRequest
	ObserverLeave() chan<- string
	Submit(env engine.CommandEnvelope) bool
}

type Config struct {
	// Inbound command limiter per session. Zero disables limiting.
	CommandsPerSecond float64
	CommandBurst      int
	// OutQueue is the per-session outbound buffer; the engine drops the oldest
	// message when it is full.
	OutQueue int
	// AllowRemoteAdmin lets non-loopback clients subscribe with role=admin.
	AllowRemoteAdmin bool
}

type Server struct {
	eng Engine
	cfg Config
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	sessions atomic.Int64
}

func NewServer(eng Engine, cfg Config, logger *log.Logger) *Server {
	if cfg.OutQueue <= 0 {
		cfg.OutQueue = 1024
	}
	return &Server{
		eng: eng,
		cfg: cfg,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Sessions reports the number of connected observers.
func (s *Server) Sessions() int64 { return s.sessions.Load() }

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		role, ok := s.handshake(conn, r.RemoteAddr)
		if !ok {
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		out := make(chan []byte, s.cfg.OutQueue)
		select {
		case s.eng.ObserverJoin() <- engine.ObserverJoinRequest{SessionID: sid, Role: role, Out: out}:
		default:
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"), time.Now().Add(time.Second))
			return
		}
		s.sessions.Add(1)
		defer s.sessions.Add(-1)
		defer func() {
			select {
			case s.eng.ObserverLeave() <- sid:
			default:
				// Engine loop is stopping; nothing else to do.
			}
		}()
		s.logf("observer connected id=%s role=%s remote=%s", sid, role, r.RemoteAddr)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Transport-level rejections never touch the engine.
		local := make(chan []byte, 16)

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				var b []byte
				var ok bool
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b, ok = <-out:
					if !ok {
						writeErr <- nil
						return
					}
				case b = <-local:
				}
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					writeErr <- err
					return
				}
			}
		}()

		var limiter *rate.Limiter
		if s.cfg.CommandsPerSecond > 0 {
			burst := s.cfg.CommandBurst
			if burst <= 0 {
				burst = 1
			}
			limiter = rate.NewLimiter(rate.Limit(s.cfg.CommandsPerSecond), burst)
		}
		reject := func(code, msg, ref string) {
			b, err := json.Marshal(protocol.NewError(code, msg, ref))
			if err != nil {
				return
			}
			select {
			case local <- b:
			default:
			}
		}

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			env, code, reason := decodeCommand(msg)
			if code != "" {
				reject(code, reason, env.Type)
				continue
			}
			if limiter != nil && !limiter.Allow() {
				reject(protocol.ErrRateLimit, "too many commands", env.Type)
				continue
			}
			env.SessionID = sid
			env.Role = role
			if !s.eng.Submit(env) {
				reject(protocol.ErrBusy, "engine inbox full", env.Type)
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		s.logf("observer disconnected id=%s", sid)
	}
}

// handshake reads the SUBSCRIBE message and resolves the session role.
func (s *Server) handshake(conn *websocket.Conn, remoteAddr string) (string, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", false
	}
	closeWith := func(reason string) {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
	}
	base, err := protocol.Validate(msg)
	if err != nil || base.Type != protocol.TypeSubscribe {
		closeWith("expected SUBSCRIBE")
		return "", false
	}
	var sub protocol.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		closeWith("bad subscribe")
		return "", false
	}
	if sub.ProtocolVersion != protocol.Version {
		closeWith("bad protocol_version")
		return "", false
	}
	role := resolveRole(sub.Role, remoteAddr, s.cfg.AllowRemoteAdmin)
	if role == "" {
		closeWith("admin role requires loopback")
		return "", false
	}
	return role, true
}

// resolveRole returns "" when the requested role is not permitted for the
// remote address.
func resolveRole(requested, remoteAddr string, allowRemoteAdmin bool) string {
	role := protocol.NormalizeRole(requested)
	if role == protocol.RoleAdmin && !allowRemoteAdmin && !isLoopbackRemote(remoteAddr) {
		return ""
	}
	return role
}

var errVersion = errors.New("protocol version mismatch")

// decodeCommand validates raw against its schema and decodes the typed
// command. On failure it returns the error code and a short reason.
func decodeCommand(raw []byte) (engine.CommandEnvelope, string, string) {
	base, err := protocol.Validate(raw)
	env := engine.CommandEnvelope{Type: base.Type}
	switch {
	case errors.Is(err, protocol.ErrUnknownType):
		return env, protocol.ErrProtoUnknownType, err.Error()
	case err != nil:
		return env, protocol.ErrProtoBadRequest, err.Error()
	case base.ProtocolVersion != protocol.Version:
		return env, protocol.ErrProtoVersion, errVersion.Error()
	}

	var v any
	switch base.Type {
	case protocol.TypeActionComplete:
		v, err = decodeAs[protocol.ActionCompleteMsg](raw)
	case protocol.TypeSetSpeed:
		v, err = decodeAs[protocol.SetSpeedMsg](raw)
	case protocol.TypeRequestDecision:
		v, err = decodeAs[protocol.RequestDecisionMsg](raw)
	case protocol.TypeReset:
		v, err = decodeAs[protocol.ResetMsg](raw)
	case protocol.TypeRequestState:
		v, err = decodeAs[protocol.RequestStateMsg](raw)
	case protocol.TypeSyncState:
		v, err = decodeAs[protocol.SyncStateMsg](raw)
	case protocol.TypeAdminBuild:
		v, err = decodeAs[protocol.AdminBuildMsg](raw)
	case protocol.TypeAdminRemove:
		v, err = decodeAs[protocol.AdminRemoveMsg](raw)
	default:
		// Outbound types and a repeated SUBSCRIBE are not commands.
		return env, protocol.ErrProtoUnknownType, fmt.Sprintf("%s is not a command", base.Type)
	}
	if err != nil {
		return env, protocol.ErrProtoBadRequest, err.Error()
	}
	env.Msg = v
	return env, "", ""
}

func decodeAs[T any](raw []byte) (T, error) {
	var m T
	err := json.Unmarshal(raw, &m)
	return m, err
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
