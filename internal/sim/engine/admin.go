package engine

import (
	"context"
	"errors"

	"citybuilder.ai/internal/persistence/snapshot"
	"citybuilder.ai/internal/protocol"
	"citybuilder.ai/internal/sim/policy"
)

type adminKind int

const (
	adminReset adminKind = iota + 1
	adminSnapshot
	adminState
	adminDecide
)

type adminReq struct {
	Kind adminKind
	Resp chan adminResp
}

type adminResp struct {
	Snapshot snapshot.SnapshotV1
	State    protocol.WorldStateMsg
	Decision policy.Decision
	Err      string
}

// request is safe to call from other goroutines (e.g. admin HTTP handlers).
func (e *Engine) request(ctx context.Context, kind adminKind) (adminResp, error) {
	if e == nil || e.admin == nil {
		return adminResp{}, errors.New("admin requests not available")
	}
	resp := make(chan adminResp, 1)
	select {
	case e.admin <- adminReq{Kind: kind, Resp: resp}:
	case <-ctx.Done():
		return adminResp{}, ctx.Err()
	}
	select {
	case r := <-resp:
		if r.Err != "" {
			return r, errors.New(r.Err)
		}
		return r, nil
	case <-ctx.Done():
		return adminResp{}, ctx.Err()
	}
}

// RequestReset asks the loop to restore the baseline world.
func (e *Engine) RequestReset(ctx context.Context) error {
	_, err := e.request(ctx, adminReset)
	return err
}

// RequestSnapshot exports the current state and hands it to the snapshot
// sink when one is configured.
func (e *Engine) RequestSnapshot(ctx context.Context) (snapshot.SnapshotV1, error) {
	r, err := e.request(ctx, adminSnapshot)
	return r.Snapshot, err
}

func (e *Engine) RequestState(ctx context.Context) (protocol.WorldStateMsg, error) {
	r, err := e.request(ctx, adminState)
	return r.State, err
}

// RequestDecision reports what the policy would pick now, without queueing.
func (e *Engine) RequestDecision(ctx context.Context) (policy.Decision, error) {
	r, err := e.request(ctx, adminDecide)
	return r.Decision, err
}

func (e *Engine) handleAdmin(req adminReq) {
	var r adminResp
	switch req.Kind {
	case adminReset:
		e.reset("admin")
	case adminSnapshot:
		r.Snapshot = e.ExportSnapshot("admin")
		if e.snapshotSink != nil {
			select {
			case e.snapshotSink <- r.Snapshot:
			default:
				r.Err = "snapshot sink backpressure"
			}
		}
	case adminState:
		r.State = e.worldState()
	case adminDecide:
		r.Decision = e.policy.DecideFor(e.world, nil)
	default:
		r.Err = "unknown admin request"
	}
	if req.Resp == nil {
		return
	}
	select {
	case req.Resp <- r:
	default:
	}
}
