// Package construction owns the build queue and the single construction slot.
package construction

import (
	"fmt"
	"log"

	"citybuilder.ai/internal/sim/catalogs"
	"citybuilder.ai/internal/sim/policy"
	"citybuilder.ai/internal/sim/tuning"
	"citybuilder.ai/internal/sim/world"
)

type Decider interface {
	DecideFor(w *world.WorldState, hint *policy.Decision) policy.Decision
}

type Planner interface {
	Refill(w *world.WorldState, d policy.Decision) []world.QueueItem
	EmergencyItem(w *world.WorldState, c catalogs.Category, radius int, reason string) (world.QueueItem, bool)
}

// AdviceRequester starts an asynchronous advisory lookup. The answer must
// come back through Scheduler.ResumeWithAdvice on the loop goroutine.
type AdviceRequester interface {
	RequestAdvice(w *world.WorldState)
}

// Sink receives scheduler transitions. Any method may be a no-op.
type Sink interface {
	BuildStarted(d Dispatch)
	BuildCompleted(d Dispatch, s world.Structure)
	SchedulerStatus(status string, queueDepth, refills int, msg string)
}

// Scheduler statuses.
const (
	StatusStalled   = "STALLED"
	StatusRecovered = "RECOVERED"
)

// Dispatch is the one item under construction.
type Dispatch struct {
	Ticket string
	Item   world.QueueItem
}

type Outcome int

const (
	Idle Outcome = iota
	Busy
	Deciding
	Dispatched
	Stalled
)

func (o Outcome) String() string {
	switch o {
	case Busy:
		return "busy"
	case Deciding:
		return "deciding"
	case Dispatched:
		return "dispatched"
	case Stalled:
		return "stalled"
	}
	return "idle"
}

type Config struct {
	RefillCap       int
	EmergencyRadius int
	RecoveryRadius  int
}

func ConfigFromTuning(t tuning.Tuning) Config {
	return Config{
		RefillCap:       t.Scheduler.RefillCap,
		EmergencyRadius: t.Scheduler.EmergencyRadius,
		RecoveryRadius:  t.Scheduler.RecoveryRadius,
	}
}

type Stats struct {
	Dispatched           uint64 `json:"dispatched"`
	Completed            uint64 `json:"completed"`
	Discarded            uint64 `json:"discarded"`
	Refills              uint64 `json:"refills"`
	Emergencies          uint64 `json:"emergencies"`
	Stalls               uint64 `json:"stalls"`
	Recoveries           uint64 `json:"recoveries"`
	DuplicateCompletions uint64 `json:"duplicate_completions"`
	DroppedCompletions   uint64 `json:"dropped_completions"`
}

// Scheduler is not safe for concurrent use; the engine loop goroutine owns it.
type Scheduler struct {
	cfg     Config
	world   *world.WorldState
	decider Decider
	planner Planner
	sink    Sink
	advisor AdviceRequester
	logger  *log.Logger

	queue    buildQueue
	inflight *Dispatch
	deciding bool
	tickets  uint64

	lastDecision policy.Decision
	stats        Stats
}

func New(cfg Config, w *world.WorldState, d Decider, p Planner, sink Sink, logger *log.Logger) *Scheduler {
	if cfg.RefillCap < 1 {
		cfg.RefillCap = 1
	}
	return &Scheduler{cfg: cfg, world: w, decider: d, planner: p, sink: sink, logger: logger}
}

// SetAdvisor switches refills to the asynchronous advisory path. nil restores
// synchronous refills.
func (s *Scheduler) SetAdvisor(a AdviceRequester) { s.advisor = a }

func (s *Scheduler) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// Step runs one scheduling attempt and dispatches at most one item.
func (s *Scheduler) Step() Outcome {
	if s.inflight != nil {
		return Busy
	}
	if s.deciding {
		return Deciding
	}
	if s.queue.Len() == 0 && s.advisor != nil {
		s.deciding = true
		s.advisor.RequestAdvice(s.world)
		return Deciding
	}
	return s.run(nil)
}

// ResumeWithAdvice finishes a refill started by Step. Late answers after a
// reset are ignored.
func (s *Scheduler) ResumeWithAdvice(hint *policy.Decision) Outcome {
	if !s.deciding {
		return Idle
	}
	s.deciding = false
	if s.inflight != nil {
		return Busy
	}
	return s.run(hint)
}

func (s *Scheduler) run(hint *policy.Decision) Outcome {
	refills := 0
	if s.queue.Len() == 0 {
		s.refill(hint)
		refills++
	}
	injected := false
	for {
		if _, ok := s.dispatchNext(&injected); ok {
			return Dispatched
		}
		if refills >= s.cfg.RefillCap {
			return s.recover(refills)
		}
		s.refill(nil)
		refills++
	}
}

func (s *Scheduler) refill(hint *policy.Decision) {
	d := s.decider.DecideFor(s.world, hint)
	s.lastDecision = d
	items := s.planner.Refill(s.world, d)
	s.queue.Push(items...)
	s.stats.Refills++
	s.logf("refill category=%s source=%s reason=%q items=%d", d.Category, d.Source, d.Reason, len(items))
}

// ensurePower keeps a power item at the front while power is critical,
// synthesizing one at most once per step.
func (s *Scheduler) ensurePower(injected *bool) {
	l := s.world.Ledger()
	if !l.IsCritical(world.Power) {
		return
	}
	if s.queue.Promote(catalogs.Power) {
		return
	}
	if *injected {
		return
	}
	*injected = true
	reason := fmt.Sprintf("Critical: power deficit (net %d < %d)", l.NetPower(), l.Threshold(world.Power))
	it, ok := s.planner.EmergencyItem(s.world, catalogs.Power, s.cfg.EmergencyRadius, reason)
	if !ok {
		s.logf("emergency power: no position within %d", s.cfg.EmergencyRadius)
		return
	}
	s.queue.PushFront(it)
	s.stats.Emergencies++
	s.logf("emergency power injected pos=%s net=%d", it.Position, l.NetPower())
}

func (s *Scheduler) valid(it world.QueueItem) bool {
	return s.world.Index().FootprintFree(it.Position, it.Footprint, it.Category == catalogs.Road)
}

func (s *Scheduler) dispatchNext(injected *bool) (Dispatch, bool) {
	for {
		s.ensurePower(injected)
		s.queue.Sort()
		it, ok := s.queue.Pop()
		if !ok {
			return Dispatch{}, false
		}
		if !s.valid(it) {
			s.stats.Discarded++
			s.logf("discard stale category=%s pos=%s", it.Category, it.Position)
			continue
		}
		return s.dispatch(it), true
	}
}

func (s *Scheduler) dispatch(it world.QueueItem) Dispatch {
	s.tickets++
	d := Dispatch{Ticket: fmt.Sprintf("B%06d", s.tickets), Item: it}
	s.inflight = &d
	s.stats.Dispatched++
	s.world.SendAvatar(it.Position)
	s.logf("dispatch ticket=%s category=%s model=%s pos=%s priority=%d", d.Ticket, it.Category, it.ModelKey, it.Position, it.Priority)
	if s.sink != nil {
		s.sink.BuildStarted(d)
	}
	return d
}

// recover handles refills that keep producing nothing dispatchable: it
// reports the stall and forces a wide emergency search.
func (s *Scheduler) recover(refills int) Outcome {
	s.stats.Stalls++
	msg := fmt.Sprintf("no valid item after %d refills", refills)
	s.logf("scheduler stalled: %s", msg)
	if s.sink != nil {
		s.sink.SchedulerStatus(StatusStalled, s.queue.Len(), refills, msg)
	}

	c := s.lastDecision.Category
	if s.world.Ledger().IsCritical(world.Power) || !c.Valid() || c == catalogs.Road {
		c = catalogs.Power
	}
	it, ok := s.planner.EmergencyItem(s.world, c, s.cfg.RecoveryRadius, "Recovery: widened search after stall")
	if !ok || !s.valid(it) {
		return Stalled
	}
	s.stats.Recoveries++
	s.dispatch(it)
	if s.sink != nil {
		s.sink.SchedulerStatus(StatusRecovered, s.queue.Len(), refills, fmt.Sprintf("recovered with %s at %s", c, it.Position))
	}
	return Dispatched
}

// Complete finishes the in-flight build. Unknown or repeated tickets are
// ignored. The in-flight slot is released whenever the ticket matches, even
// if the structure can no longer be placed.
func (s *Scheduler) Complete(ticket string) (world.Structure, bool) {
	if s.inflight == nil || s.inflight.Ticket != ticket {
		s.stats.DuplicateCompletions++
		return world.Structure{}, false
	}
	d := *s.inflight
	s.inflight = nil

	st := s.world.Materialize(d.Item)
	if err := s.world.AddStructure(st); err != nil {
		s.stats.DroppedCompletions++
		s.logf("complete dropped ticket=%s: %v", ticket, err)
		return world.Structure{}, false
	}
	s.stats.Completed++
	s.world.AdjustMood(1)
	if s.sink != nil {
		s.sink.BuildCompleted(d, st)
	}
	return st, true
}

// CompleteInFlight completes whatever is under construction.
func (s *Scheduler) CompleteInFlight() (world.Structure, bool) {
	if s.inflight == nil {
		return world.Structure{}, false
	}
	return s.Complete(s.inflight.Ticket)
}

// Enqueue adds items directly, bypassing the planner.
func (s *Scheduler) Enqueue(items ...world.QueueItem) { s.queue.Push(items...) }

// Reset drops queued work, the in-flight build and any pending advisory.
// Ticket numbers keep increasing so late completions cannot match new builds.
func (s *Scheduler) Reset() {
	s.queue.Clear()
	s.inflight = nil
	s.deciding = false
	s.lastDecision = policy.Decision{}
}

func (s *Scheduler) InFlight() (Dispatch, bool) {
	if s.inflight == nil {
		return Dispatch{}, false
	}
	return *s.inflight, true
}

func (s *Scheduler) Deciding() bool                { return s.deciding }
func (s *Scheduler) Depth() int                    { return s.queue.Len() }
func (s *Scheduler) Queue() []world.QueueItem      { return s.queue.Snapshot() }
func (s *Scheduler) Stats() Stats                  { return s.stats }
func (s *Scheduler) LastDecision() policy.Decision { return s.lastDecision }
