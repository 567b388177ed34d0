// Package placement turns a category decision into concrete queue items.
package placement

import (
	"fmt"
	"log"
	"math"
	"math/rand"

	"citybuilder.ai/internal/sim/catalogs"
	"citybuilder.ai/internal/sim/policy"
	"citybuilder.ai/internal/sim/tuning"
	"citybuilder.ai/internal/sim/world"
)

// Strategy is a growth model. Implementations keep their own layout state
// and are driven only from the engine loop goroutine.
type Strategy interface {
	Name() string
	Plan(p *Planner, w *world.WorldState, d policy.Decision) []world.QueueItem
	Reset()
}

// Constraints narrow what FindValidPosition accepts.
type Constraints struct {
	Radius      int
	MinDistance int
	Footprint   [2]int
	Road        bool
	// Avoid holds cells already promised to items of the batch being planned.
	Avoid map[world.Cell]bool
}

type Planner struct {
	cfg      tuning.Placement
	seed     int64
	rng      *rand.Rand
	strategy Strategy
	logger   *log.Logger
}

func New(t tuning.Tuning, logger *log.Logger) (*Planner, error) {
	var s Strategy
	switch t.Placement.Strategy {
	case "", "ring":
		s = NewRing(t.Placement)
	case "neighborhood":
		s = NewNeighborhoods(t.Placement)
	default:
		return nil, fmt.Errorf("placement: unknown strategy %q", t.Placement.Strategy)
	}
	return NewWithStrategy(t.Placement, t.Seed, s, logger), nil
}

func NewWithStrategy(cfg tuning.Placement, seed int64, s Strategy, logger *log.Logger) *Planner {
	if cfg.GridStep < 1 {
		cfg.GridStep = 1
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	return &Planner{cfg: cfg, seed: seed, rng: rand.New(rand.NewSource(seed)), strategy: s, logger: logger}
}

func (p *Planner) StrategyName() string { return p.strategy.Name() }

func (p *Planner) Strategy() Strategy { return p.strategy }

// Reset re-seeds the planner and clears strategy layout state.
func (p *Planner) Reset() {
	p.rng = rand.New(rand.NewSource(p.seed))
	p.strategy.Reset()
}

func (p *Planner) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}

// Refill materializes items for a decision. An empty result is legal.
func (p *Planner) Refill(w *world.WorldState, d policy.Decision) []world.QueueItem {
	items := p.strategy.Plan(p, w, d)
	p.logf("refill strategy=%s category=%s items=%d", p.strategy.Name(), d.Category, len(items))
	return items
}

// QueueCategoryBuild picks a model, footprint and orientation for c.
// It does not touch the world.
func (p *Planner) QueueCategoryBuild(c catalogs.Category, pos world.Cell, reason string) world.QueueItem {
	model := catalogs.PickModel(c, p.rng)
	return world.QueueItem{
		Category:    c,
		ModelKey:    model,
		Position:    pos,
		Orientation: catalogs.PickOrientation(c, p.rng),
		Footprint:   catalogs.Footprint(model),
		Priority:    catalogs.Band(c),
		Reason:      reason,
	}
}

// Valid reports whether pos satisfies cons against the current world.
func (p *Planner) Valid(w *world.WorldState, pos world.Cell, cons Constraints) bool {
	idx := w.Index()
	if !idx.FootprintFree(pos, cons.Footprint, cons.Road) {
		return false
	}
	cells := world.FootprintCells(pos, cons.Footprint, idx.Step())
	for _, c := range cells {
		if cons.Avoid[c] {
			return false
		}
	}
	if cons.MinDistance > 0 && !p.spaced(w, pos, cons) {
		return false
	}
	return true
}

func (p *Planner) spaced(w *world.WorldState, pos world.Cell, cons Constraints) bool {
	min2 := cons.MinDistance * cons.MinDistance
	far := func(c world.Cell) bool {
		dx, dz := c.X-pos.X, c.Z-pos.Z
		return dx*dx+dz*dz >= min2
	}
	for _, s := range w.Structures() {
		if s.Category == catalogs.Road {
			continue
		}
		if !far(s.Position) {
			return false
		}
	}
	for c := range cons.Avoid {
		if !far(c) {
			return false
		}
	}
	return true
}

// FindValidPosition samples around anchor by random angle and distance,
// snapped to the grid, and gives up after the configured attempts.
func (p *Planner) FindValidPosition(w *world.WorldState, anchor world.Cell, cons Constraints) (world.Cell, bool) {
	for i := 0; i < p.cfg.Attempts; i++ {
		angle := p.rng.Float64() * 2 * math.Pi
		dist := p.rng.Float64() * float64(cons.Radius)
		c := world.Cell{
			X: p.snap(float64(anchor.X) + math.Cos(angle)*dist),
			Z: p.snap(float64(anchor.Z) + math.Sin(angle)*dist),
		}
		if p.Valid(w, c, cons) {
			return c, true
		}
	}
	return world.Cell{}, false
}

func (p *Planner) snap(v float64) int {
	step := float64(p.cfg.GridStep)
	return int(math.Round(v/step) * step)
}

func (p *Planner) snapCell(c world.Cell) world.Cell {
	return world.Cell{X: p.snap(float64(c.X)), Z: p.snap(float64(c.Z))}
}

// EmergencyPosition looks for a spot for an urgent single-cell build: first the
// ring corners and axis points, then a nearest-free scan from the origin.
func (p *Planner) EmergencyPosition(w *world.WorldState, radius int) (world.Cell, bool) {
	bs := p.cfg.BlockSize
	if bs < 1 {
		bs = p.cfg.GridStep
	}
	for ring := 1; ring <= 10 && ring*bs <= radius; ring++ {
		o := ring * bs
		for _, c := range []world.Cell{
			{X: o, Z: o}, {X: -o, Z: o}, {X: o, Z: -o}, {X: -o, Z: -o},
			{X: o, Z: 0}, {X: -o, Z: 0}, {X: 0, Z: o}, {X: 0, Z: -o},
		} {
			if w.Index().IsFree(c) {
				return c, true
			}
		}
	}
	return w.Index().FindNearestFree(world.Cell{}, radius)
}

// EmergencyItem synthesizes a top-priority item of category c.
func (p *Planner) EmergencyItem(w *world.WorldState, c catalogs.Category, radius int, reason string) (world.QueueItem, bool) {
	pos, ok := p.EmergencyPosition(w, radius)
	if !ok {
		return world.QueueItem{}, false
	}
	item := p.QueueCategoryBuild(c, pos, reason)
	// Emergency spots are validated for a single cell.
	item.ModelKey = catalogs.Def(c).Models[0]
	item.Footprint = catalogs.Footprint(item.ModelKey)
	item.Priority = catalogs.BandEmergency
	return item, true
}
