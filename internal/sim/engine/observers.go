package engine

import "citybuilder.ai/internal/protocol"

// ObserverJoinRequest registers a session. The engine writes JSON messages to
// Out with drop-oldest semantics and closes it when the session leaves.
type ObserverJoinRequest struct {
	SessionID string
	Role      string
	Out       chan []byte
}

type observerClient struct {
	id   string
	role string
	out  chan []byte
}

func (e *Engine) handleObserverJoin(req ObserverJoinRequest) {
	if req.SessionID == "" || req.Out == nil {
		return
	}
	// Replace existing session id if any.
	if old := e.observers[req.SessionID]; old != nil {
		close(old.out)
	}
	e.observers[req.SessionID] = &observerClient{
		id:   req.SessionID,
		role: protocol.NormalizeRole(req.Role),
		out:  req.Out,
	}
	e.sendTo(req.SessionID, e.worldState())
	e.logf("observer join id=%s role=%s", req.SessionID, protocol.NormalizeRole(req.Role))
}

func (e *Engine) handleObserverLeave(id string) {
	o := e.observers[id]
	if o == nil {
		return
	}
	delete(e.observers, id)
	close(o.out)
}

func (e *Engine) worldState() protocol.WorldStateMsg {
	return worldStateMsg(e.world.Snapshot(), e.speed)
}
