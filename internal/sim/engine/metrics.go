package engine

import (
	"citybuilder.ai/internal/sim/construction"
	"citybuilder.ai/internal/sim/placement"
)

// NeighborhoodMetric describes one cluster of the neighborhood strategy.
type NeighborhoodMetric struct {
	Zone      string `json:"zone"`
	Center    [2]int `json:"center"`
	Count     int    `json:"count"`
	Capacity  int    `json:"capacity"`
	Saturated bool   `json:"saturated,omitempty"`
}

// Metrics is a thread-safe read-only view of the runtime. It is published
// from the loop goroutine and read from HTTP handlers and tests.
type Metrics struct {
	Day       int     `json:"day"`
	TimeOfDay float64 `json:"time_of_day"`
	Morale    int     `json:"morale"`
	Speed     float64 `json:"speed"`
	TickMS    int64   `json:"tick_period_ms"`
	Strategy  string  `json:"strategy"`

	Structures int `json:"structures"`
	Population int `json:"population"`
	NetPower   int `json:"net_power"`
	NetWater   int `json:"net_water"`
	NetFood    int `json:"net_food"`

	QueueDepth int    `json:"queue_depth"`
	InFlight   bool   `json:"in_flight"`
	Deciding   bool   `json:"deciding"`
	Observers  int    `json:"observers"`
	ResetTotal uint64 `json:"reset_total"`

	Scheduler     construction.Stats   `json:"scheduler"`
	Neighborhoods []NeighborhoodMetric `json:"neighborhoods,omitempty"`

	NarrativeTotal         uint64 `json:"narrative_total"`
	NarrativeFallbackTotal uint64 `json:"narrative_fallback_total"`
	AdviceLLMTotal         uint64 `json:"advice_llm_total"`
	AdviceFallbackTotal    uint64 `json:"advice_fallback_total"`
	DroppedEventsTotal     uint64 `json:"dropped_events_total"`
	RejectedCommandsTotal  uint64 `json:"rejected_commands_total"`

	StepMS float64 `json:"step_ms"`
}

func (e *Engine) publishMetrics() {
	l := e.world.Ledger()
	_, inflight := e.sched.InFlight()
	e.metrics.Store(Metrics{
		Day:                    e.world.Day(),
		TimeOfDay:              e.world.TimeOfDay(),
		Morale:                 e.world.Morale(),
		Speed:                  e.speed,
		TickMS:                 e.tickPeriod().Milliseconds(),
		Strategy:               e.planner.StrategyName(),
		Structures:             e.world.Total(),
		Population:             l.Population(),
		NetPower:               l.NetPower(),
		NetWater:               l.NetWater(),
		NetFood:                l.NetFood(),
		QueueDepth:             e.sched.Depth(),
		InFlight:               inflight,
		Deciding:               e.sched.Deciding(),
		Observers:              len(e.observers),
		ResetTotal:             e.world.Resets(),
		Scheduler:              e.sched.Stats(),
		Neighborhoods:          e.neighborhoodMetrics(),
		NarrativeTotal:         e.counters.narratives,
		NarrativeFallbackTotal: e.counters.narrativeFallbacks,
		AdviceLLMTotal:         e.counters.adviceLLM,
		AdviceFallbackTotal:    e.counters.adviceFallback,
		DroppedEventsTotal:     e.counters.droppedEvents,
		RejectedCommandsTotal:  e.counters.rejectedCommands,
		StepMS:                 e.counters.lastStepMS,
	})
}

func (e *Engine) neighborhoodMetrics() []NeighborhoodMetric {
	n, ok := e.planner.Strategy().(*placement.Neighborhoods)
	if !ok {
		return nil
	}
	all := n.All()
	out := make([]NeighborhoodMetric, 0, len(all))
	for _, nb := range all {
		out = append(out, NeighborhoodMetric{
			Zone:      nb.Zone.String(),
			Center:    [2]int{nb.Center.X, nb.Center.Z},
			Count:     nb.Count,
			Capacity:  nb.Capacity,
			Saturated: nb.Saturated,
		})
	}
	return out
}

func (e *Engine) Metrics() Metrics {
	if e == nil {
		return Metrics{}
	}
	m, _ := e.metrics.Load().(Metrics)
	return m
}
