package engine

import (
	"errors"
	"fmt"

	"citybuilder.ai/internal/protocol"
	"citybuilder.ai/internal/sim/catalogs"
	"citybuilder.ai/internal/sim/world"
)

// CommandEnvelope carries one validated inbound message. Msg holds the
// decoded protocol struct matching Type.
type CommandEnvelope struct {
	SessionID string
	Role      string
	Type      string
	Msg       any
}

// Submit hands a command to the loop without blocking. It reports false
// when the inbox is full.
func (e *Engine) Submit(env CommandEnvelope) bool {
	select {
	case e.commands <- env:
		return true
	default:
		return false
	}
}

func (e *Engine) handleCommand(env CommandEnvelope) {
	if !protocol.Allowed(env.Role, env.Type) {
		e.sendError(env.SessionID, protocol.ErrNoPermission, fmt.Sprintf("role %s may not send %s", protocol.NormalizeRole(env.Role), env.Type), env.Type)
		return
	}
	switch m := env.Msg.(type) {
	case protocol.ActionCompleteMsg:
		e.handleActionComplete(m)
	case protocol.SetSpeedMsg:
		e.setSpeed(m.Speed)
	case protocol.RequestDecisionMsg:
		e.step()
	case protocol.ResetMsg:
		e.reset("observer " + env.SessionID)
	case protocol.RequestStateMsg:
		e.sendTo(env.SessionID, e.worldState())
	case protocol.SyncStateMsg:
		e.syncState(env.SessionID, m)
	case protocol.AdminBuildMsg:
		e.adminBuild(env.SessionID, m)
	case protocol.AdminRemoveMsg:
		e.adminRemove(env.SessionID, m)
	default:
		e.sendError(env.SessionID, protocol.ErrProtoUnknownType, "unsupported command", env.Type)
	}
}

func (e *Engine) handleActionComplete(m protocol.ActionCompleteMsg) {
	switch m.Kind {
	case protocol.ActionArrived:
		var pos *world.Cell
		if m.Position != nil {
			c := toCell(*m.Position)
			pos = &c
		}
		e.world.AvatarArrived(pos)
	case protocol.ActionBuildComplete:
		if d, ok := e.sched.InFlight(); ok && d.Ticket == m.BuildID && e.world.Avatar().Moving {
			e.world.AvatarArrived(nil)
		}
		e.complete(m.BuildID)
	}
}

// complete finishes the in-flight build for ticket. Late or repeated
// notifications are ignored.
func (e *Engine) complete(ticket string) {
	if ticket == e.buildTicket {
		e.cancelBuildTimer()
	}
	if _, ok := e.sched.Complete(ticket); !ok {
		e.logf("complete ignored ticket=%q", ticket)
	}
}

func (e *Engine) reset(origin string) {
	if e.snapshotSink != nil {
		select {
		case e.snapshotSink <- e.ExportSnapshot("reset"):
		default:
			e.logf("reset: snapshot sink backpressure, archive skipped")
		}
	}
	e.cancelBuildTimer()
	e.world.Reset()
	e.planner.Reset()
	e.sched.Reset()
	e.sinceNarrative = 0
	e.logf("reset by %s resets=%d", origin, e.world.Resets())
	e.broadcast(protocol.TypeWorldState, e.worldState())
}

func (e *Engine) syncState(sessionID string, m protocol.SyncStateMsg) {
	list := make([]world.Structure, 0, len(m.Structures))
	skipped := 0
	for _, p := range m.Structures {
		s, err := structureFrom(p)
		if err != nil {
			skipped++
			continue
		}
		list = append(list, s)
	}
	e.world.ReplaceStructures(list)
	if skipped > 0 {
		e.sendError(sessionID, protocol.ErrBadRequest, fmt.Sprintf("%d structures skipped", skipped), protocol.TypeSyncState)
	}
	e.broadcast(protocol.TypeWorldState, e.worldState())
}

// AdminBuildID tags BUILD_COMPLETED events that bypassed the scheduler.
const AdminBuildID = "admin"

func (e *Engine) adminBuild(sessionID string, m protocol.AdminBuildMsg) {
	c, err := catalogs.ParseCategory(m.Category)
	if err != nil {
		e.sendError(sessionID, protocol.ErrBadRequest, err.Error(), protocol.TypeAdminBuild)
		return
	}
	model := m.ModelKey
	if model == "" {
		model = catalogs.Def(c).Models[0]
	}
	if md, ok := catalogs.Model(model); !ok || md.Category != c {
		e.sendError(sessionID, protocol.ErrBadRequest, fmt.Sprintf("model %q is not a %s model", model, c), protocol.TypeAdminBuild)
		return
	}
	item := world.QueueItem{
		Category:    c,
		ModelKey:    model,
		Position:    toCell(m.Position),
		Orientation: m.Orientation & 3,
		Footprint:   catalogs.Footprint(model),
		Priority:    catalogs.BandEmergency,
		Reason:      "Admin build",
	}
	if d, ok := e.sched.InFlight(); ok && overlaps(d.Item, item, e.world.GridStep()) {
		e.sendError(sessionID, protocol.ErrConflict, "target overlaps the build in flight", protocol.TypeAdminBuild)
		return
	}
	if !e.world.Index().FootprintFree(item.Position, item.Footprint, c == catalogs.Road) {
		e.sendError(sessionID, protocol.ErrConflict, fmt.Sprintf("footprint at %s is not free", item.Position), protocol.TypeAdminBuild)
		return
	}
	st := e.world.Materialize(item)
	if err := e.world.AddStructure(st); err != nil {
		e.sendError(sessionID, protocol.ErrConflict, err.Error(), protocol.TypeAdminBuild)
		return
	}
	e.broadcast(protocol.TypeBuildCompleted, buildCompletedMsg(AdminBuildID, st, e.world.Ledger().Totals()))
	if e.index != nil {
		e.index.RecordBuild(buildRecord(AdminBuildID, item.Reason, st, e.world.Day()))
	}
}

func (e *Engine) adminRemove(sessionID string, m protocol.AdminRemoveMsg) {
	s, err := e.world.Remove(m.StructureID)
	if err != nil {
		code := protocol.ErrInternal
		if errors.Is(err, world.ErrNotFound) {
			code = protocol.ErrInvalidTarget
		}
		e.sendError(sessionID, code, err.Error(), protocol.TypeAdminRemove)
		return
	}
	e.logf("admin remove id=%s category=%s pos=%s", s.ID, s.Category, s.Position)
	e.broadcast(protocol.TypeWorldState, e.worldState())
}

func overlaps(a, b world.QueueItem, step int) bool {
	cells := map[world.Cell]bool{}
	for _, c := range world.FootprintCells(a.Position, a.Footprint, step) {
		cells[c] = true
	}
	for _, c := range world.FootprintCells(b.Position, b.Footprint, step) {
		if cells[c] {
			return true
		}
	}
	return false
}
