package engine

import (
	"context"
	"encoding/json"
	"time"

	"citybuilder.ai/internal/protocol"
	"citybuilder.ai/internal/sim/construction"
	"citybuilder.ai/internal/sim/narrative"
	"citybuilder.ai/internal/sim/world"
)

// EventLogger persists outbound events. Implemented in internal/persistence/log.
type EventLogger interface {
	WriteEvent(e EventLogEntry) error
}

// Indexer is the queryable read model. Implemented in internal/persistence/indexdb.
type Indexer interface {
	RecordBuild(r BuildRecord)
	RecordNarrative(r NarrativeRecord)
}

// EventLogEntry is one logged event. Epoch counts the resets before it and
// Day is the game day it happened on.
type EventLogEntry struct {
	Seq     uint64          `json:"seq"`
	Epoch   uint64          `json:"epoch"`
	Day     int             `json:"day"`
	Time    string          `json:"time"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type BuildRecord struct {
	StructureID string `json:"structure_id"`
	BuildID     string `json:"build_id"`
	Category    string `json:"category"`
	ModelKey    string `json:"model_key"`
	X           int    `json:"x"`
	Z           int    `json:"z"`
	Name        string `json:"name"`
	Population  int    `json:"population"`
	Reason      string `json:"reason,omitempty"`
	Day         int    `json:"day"`
	BuiltAt     string `json:"built_at"`
}

type NarrativeRecord struct {
	Day     int    `json:"day"`
	Thought string `json:"thought"`
	Mood    string `json:"mood"`
	Source  string `json:"source"`
	At      string `json:"at"`
}

// Events that would flood the log are only sent to observers.
var unlogged = map[string]bool{
	protocol.TypeTimeUpdate: true,
	protocol.TypeError:      true,
}

// broadcast fans v out to every observer and the event log. Index writes
// happen at the call sites that know the record shape.
func (e *Engine) broadcast(typ string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		e.logf("marshal %s: %v", typ, err)
		return
	}
	for _, o := range e.observers {
		if !sendLatest(o.out, b) {
			e.counters.droppedEvents++
		}
	}
	if e.eventLog != nil && !unlogged[typ] {
		e.eventSeq++
		entry := EventLogEntry{
			Seq:     e.eventSeq,
			Epoch:   e.world.Resets(),
			Day:     e.world.Day(),
			Time:    e.cfg.Now().UTC().Format(time.RFC3339Nano),
			Type:    typ,
			Payload: b,
		}
		if err := e.eventLog.WriteEvent(entry); err != nil {
			e.logf("event log: %v", err)
		}
	}
}

func (e *Engine) sendTo(sessionID string, v any) {
	o := e.observers[sessionID]
	if o == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if !sendLatest(o.out, b) {
		e.counters.droppedEvents++
	}
}

func (e *Engine) sendError(sessionID, code, msg, refType string) {
	e.counters.rejectedCommands++
	e.sendTo(sessionID, protocol.NewError(code, msg, refType))
}

// sendLatest never blocks. A full channel loses its oldest message; the
// return value reports whether anything was dropped.
func sendLatest(ch chan []byte, b []byte) bool {
	select {
	case ch <- b:
		return true
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
	return false
}

// schedulerSink adapts scheduler transitions into events and timers.
type schedulerSink struct{ e *Engine }

func (s schedulerSink) BuildStarted(d construction.Dispatch) {
	e := s.e
	dur := e.buildDuration()
	if !e.cfg.InstantBuild {
		e.armBuildTimer(d.Ticket, dur)
	}
	e.broadcast(protocol.TypeBuildStarted, buildStartedMsg(d, dur))
}

func (s schedulerSink) BuildCompleted(d construction.Dispatch, st world.Structure) {
	e := s.e
	e.cancelBuildTimer()
	e.broadcast(protocol.TypeBuildCompleted, buildCompletedMsg(d.Ticket, st, e.world.Ledger().Totals()))
	if e.index != nil {
		e.index.RecordBuild(buildRecord(d.Ticket, d.Item.Reason, st, e.world.Day()))
	}
	e.sinceNarrative++
	if e.sinceNarrative >= e.tune.Narrative.EveryBuilds {
		e.sinceNarrative = 0
		e.requestThought()
	}
}

func (s schedulerSink) SchedulerStatus(status string, depth, refills int, msg string) {
	s.e.broadcast(protocol.TypeSchedulerStatus, protocol.SchedulerStatusMsg{
		Type:            protocol.TypeSchedulerStatus,
		ProtocolVersion: protocol.Version,
		Status:          status,
		QueueDepth:      depth,
		Refills:         refills,
		Message:         msg,
	})
}

// advisoryBridge runs the planning hint off the loop goroutine and posts the
// answer back on adviceCh.
type advisoryBridge struct{ e *Engine }

func (b advisoryBridge) RequestAdvice(w *world.WorldState) {
	e := b.e
	fallback := e.policy.DecideFor(w, nil)
	c := narrative.ContextFrom(w, e.tune.Narrative.RecentLimit, fallback)
	ctx := e.runCtx
	go func() {
		adv := e.advisor.GetNextBuildAdvisory(ctx, c)
		select {
		case e.adviceCh <- adv:
		case <-ctx.Done():
		}
	}()
}

func (e *Engine) handleAdvice(adv narrative.Advice) construction.Outcome {
	if adv.Source == narrative.SourceLLM {
		e.counters.adviceLLM++
	} else {
		e.counters.adviceFallback++
	}
	hint := adv.Decision
	out := e.sched.ResumeWithAdvice(&hint)
	if out == construction.Dispatched && e.cfg.InstantBuild {
		e.sched.CompleteInFlight()
	}
	return out
}

type thoughtResult struct {
	thought narrative.Thought
	ctx     narrative.Context
}

// requestThought asks for commentary. Inside Run it is asynchronous and at
// most one request is outstanding; otherwise it resolves inline.
func (e *Engine) requestThought() {
	c := narrative.ContextFrom(e.world, e.tune.Narrative.RecentLimit, e.sched.LastDecision())
	if !e.running {
		e.handleThought(thoughtResult{thought: e.advisor.GenerateThought(context.Background(), c), ctx: c})
		return
	}
	if e.narrativePending {
		return
	}
	e.narrativePending = true
	ctx := e.runCtx
	adv := e.advisor
	go func() {
		th := adv.GenerateThought(ctx, c)
		select {
		case e.thoughtCh <- thoughtResult{thought: th, ctx: c}:
		case <-ctx.Done():
		}
	}()
}

func (e *Engine) handleThought(r thoughtResult) {
	e.narrativePending = false
	e.counters.narratives++
	if r.thought.Source == narrative.SourceFallback {
		e.counters.narrativeFallbacks++
	}
	msg := protocol.NarrativeLoggedMsg{
		Type:               protocol.TypeNarrativeLogged,
		ProtocolVersion:    protocol.Version,
		Thought:            r.thought.Text,
		Mood:               r.thought.Mood,
		DayContext:         protocol.DayContext{Day: r.ctx.Day, TimeOfDay: r.ctx.TimeOfDay},
		RecentBuildSummary: r.ctx.Summary(),
		Source:             r.thought.Source,
	}
	e.broadcast(protocol.TypeNarrativeLogged, msg)
	if e.index != nil {
		e.index.RecordNarrative(NarrativeRecord{
			Day:     r.ctx.Day,
			Thought: r.thought.Text,
			Mood:    r.thought.Mood,
			Source:  r.thought.Source,
			At:      e.cfg.Now().UTC().Format(time.RFC3339Nano),
		})
	}
}
