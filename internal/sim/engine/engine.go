// Package engine runs the city on a single goroutine: tick source,
// construction timer, clock, and every inbound command.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"citybuilder.ai/internal/persistence/snapshot"
	"citybuilder.ai/internal/sim/construction"
	"citybuilder.ai/internal/sim/narrative"
	"citybuilder.ai/internal/sim/placement"
	"citybuilder.ai/internal/sim/policy"
	"citybuilder.ai/internal/sim/tuning"
	"citybuilder.ai/internal/sim/world"
)

type Config struct {
	Tuning tuning.Tuning
	Speed  float64

	// InstantBuild completes every dispatch in the same step. Used for
	// headless simulation; no construction timer is armed.
	InstantBuild bool

	Now func() time.Time
}

type Deps struct {
	// World is built from Tuning when nil.
	World    *world.WorldState
	Advisor  *narrative.Advisor
	EventLog EventLogger
	Index    Indexer

	// SnapshotSink receives exports off-thread. May be nil.
	SnapshotSink chan<- snapshot.SnapshotV1
	Logger       *log.Logger
}

// Engine owns the world. All state is touched only from the loop goroutine,
// or from the caller of StepOnce when Run is not in use.
type Engine struct {
	cfg  Config
	tune tuning.Tuning

	world   *world.WorldState
	policy  *policy.BuildDecisionEngine
	planner *placement.Planner
	sched   *construction.Scheduler
	advisor *narrative.Advisor

	eventLog     EventLogger
	index        Indexer
	snapshotSink chan<- snapshot.SnapshotV1
	logger       *log.Logger

	commands      chan CommandEnvelope
	observerJoin  chan ObserverJoinRequest
	observerLeave chan string
	adviceCh      chan narrative.Advice
	thoughtCh     chan thoughtResult
	buildDone     chan string
	admin         chan adminReq
	stop          chan struct{}

	observers map[string]*observerClient

	running bool
	runCtx  context.Context

	speed         float64
	ticker        *time.Ticker
	buildTimer    *time.Timer
	buildTicket   string
	buildDeadline time.Time

	sinceNarrative   int
	narrativePending bool
	eventSeq         uint64
	snapshotSeq      uint64

	counters counters
	metrics  atomic.Value
}

type counters struct {
	narratives         uint64
	narrativeFallbacks uint64
	adviceLLM          uint64
	adviceFallback     uint64
	droppedEvents      uint64
	rejectedCommands   uint64
	lastStepMS         float64
}

func New(cfg Config, deps Deps) (*Engine, error) {
	t := cfg.Tuning
	t.ApplyDefaults()
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	w := deps.World
	if w == nil {
		wc := world.ConfigFromTuning(t)
		wc.Now = cfg.Now
		w = world.New(wc)
	}
	adv := deps.Advisor
	if adv == nil {
		adv = narrative.New(nil, time.Duration(t.Narrative.TimeoutMs)*time.Millisecond, deps.Logger)
	}
	planner, err := placement.New(t, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	e := &Engine{
		cfg:           cfg,
		tune:          t,
		world:         w,
		policy:        policy.New(t),
		planner:       planner,
		advisor:       adv,
		eventLog:      deps.EventLog,
		index:         deps.Index,
		snapshotSink:  deps.SnapshotSink,
		logger:        deps.Logger,
		commands:      make(chan CommandEnvelope, 1024),
		observerJoin:  make(chan ObserverJoinRequest, 64),
		observerLeave: make(chan string, 64),
		adviceCh:      make(chan narrative.Advice, 1),
		thoughtCh:     make(chan thoughtResult, 4),
		buildDone:     make(chan string, 16),
		admin:         make(chan adminReq, 16),
		stop:          make(chan struct{}),
		observers:     map[string]*observerClient{},
		runCtx:        context.Background(),
		speed:         t.ClampSpeed(cfg.Speed),
	}
	if cfg.Speed == 0 {
		e.speed = 1
	}
	e.sched = construction.New(construction.ConfigFromTuning(t), w, e.policy, planner, schedulerSink{e}, deps.Logger)
	if e.advisor.Enabled() && !cfg.InstantBuild {
		e.sched.SetAdvisor(advisoryBridge{e})
	}
	e.publishMetrics()
	return e, nil
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}

func (e *Engine) Tuning() tuning.Tuning { return e.tune }

// Speed is only safe to read from the loop goroutine; others use Metrics.
func (e *Engine) Speed() float64 { return e.speed }

func (e *Engine) World() *world.WorldState { return e.world }

func (e *Engine) Scheduler() *construction.Scheduler { return e.sched }

func (e *Engine) Planner() *placement.Planner { return e.planner }

func (e *Engine) tickPeriod() time.Duration {
	return time.Duration(float64(e.tune.Timing.BaseTickMs) / e.speed * float64(time.Millisecond))
}

func (e *Engine) buildDuration() time.Duration {
	return time.Duration(float64(e.tune.Timing.BuildMs) / e.speed * float64(time.Millisecond))
}

// Commands is the inbound channel for transports that prefer a raw send.
func (e *Engine) Commands() chan<- CommandEnvelope { return e.commands }

func (e *Engine) ObserverJoin() chan<- ObserverJoinRequest { return e.observerJoin }

func (e *Engine) ObserverLeave() chan<- string { return e.observerLeave }

func (e *Engine) Stop() { close(e.stop) }
