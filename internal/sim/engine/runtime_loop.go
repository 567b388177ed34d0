package engine

import (
	"context"
	"time"

	"citybuilder.ai/internal/protocol"
	"citybuilder.ai/internal/sim/construction"
)

func (e *Engine) Run(ctx context.Context) error {
	e.running = true
	e.runCtx = ctx
	defer func() {
		e.running = false
		e.cancelBuildTimer()
	}()

	e.ticker = time.NewTicker(e.tickPeriod())
	defer e.ticker.Stop()

	clockEvery := time.Duration(e.tune.Timing.ClockEveryMs) * time.Millisecond
	clock := time.NewTicker(clockEvery)
	defer clock.Stop()
	lastClock := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stop:
			return nil
		case req := <-e.observerJoin:
			e.handleObserverJoin(req)
		case id := <-e.observerLeave:
			e.handleObserverLeave(id)
		case env := <-e.commands:
			e.handleCommand(env)
		case adv := <-e.adviceCh:
			e.handleAdvice(adv)
		case r := <-e.thoughtCh:
			e.handleThought(r)
		case ticket := <-e.buildDone:
			e.complete(ticket)
		case req := <-e.admin:
			e.handleAdmin(req)
		case now := <-clock.C:
			e.advanceClock(now.Sub(lastClock))
			lastClock = now
		case <-e.ticker.C:
			e.step()
		}
		e.publishMetrics()
	}
}

// StepOnce runs a single scheduling attempt on the caller's goroutine. It must
// not be used while Run is active. A pending advisory is awaited inline.
func (e *Engine) StepOnce() construction.Outcome {
	out := e.step()
	if out == construction.Deciding {
		out = e.handleAdvice(<-e.adviceCh)
	}
	e.publishMetrics()
	return out
}

func (e *Engine) step() construction.Outcome {
	start := time.Now()
	out := e.sched.Step()
	if out == construction.Dispatched && e.cfg.InstantBuild {
		e.sched.CompleteInFlight()
	}
	e.counters.lastStepMS = float64(time.Since(start).Microseconds()) / 1000
	return out
}

func (e *Engine) advanceClock(elapsed time.Duration) {
	if elapsed <= 0 {
		return
	}
	hours := e.tune.Timing.HoursPerSecond * elapsed.Seconds() * e.speed
	newDay := e.world.AdvanceClock(hours)
	if newDay {
		e.logf("day %d morale=%d", e.world.Day(), e.world.Morale())
	}
	e.broadcast(protocol.TypeTimeUpdate, protocol.TimeUpdateMsg{
		Type:            protocol.TypeTimeUpdate,
		ProtocolVersion: protocol.Version,
		Day:             e.world.Day(),
		TimeOfDay:       e.world.TimeOfDay(),
		NewDay:          newDay,
		Morale:          e.world.Morale(),
	})
}

// setSpeed changes the multiplier without touching the queue. The tick
// source restarts with the new period and an armed construction timer keeps
// its remaining work, rescaled.
func (e *Engine) setSpeed(v float64) {
	old := e.speed
	e.speed = e.tune.ClampSpeed(v)
	if e.ticker != nil {
		e.ticker.Reset(e.tickPeriod())
	}
	if e.buildTimer != nil {
		remaining := e.buildDeadline.Sub(e.cfg.Now())
		if remaining < 0 {
			remaining = 0
		}
		ticket := e.buildTicket
		e.cancelBuildTimer()
		e.armBuildTimer(ticket, time.Duration(float64(remaining)*old/e.speed))
	}
	e.logf("speed %.2f -> %.2f", old, e.speed)
	e.broadcast(protocol.TypeSpeedChanged, protocol.SpeedChangedMsg{
		Type:            protocol.TypeSpeedChanged,
		ProtocolVersion: protocol.Version,
		Speed:           e.speed,
		TickPeriodMS:    e.tickPeriod().Milliseconds(),
	})
}

func (e *Engine) armBuildTimer(ticket string, d time.Duration) {
	ch, ctx := e.buildDone, e.runCtx
	e.buildTicket = ticket
	e.buildDeadline = e.cfg.Now().Add(d)
	e.buildTimer = time.AfterFunc(d, func() {
		select {
		case ch <- ticket:
		case <-ctx.Done():
		}
	})
}

func (e *Engine) cancelBuildTimer() {
	if e.buildTimer != nil {
		e.buildTimer.Stop()
	}
	e.buildTimer = nil
	e.buildTicket = ""
	e.buildDeadline = time.Time{}
}
