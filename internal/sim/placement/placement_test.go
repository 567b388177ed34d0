package placement

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citybuilder.ai/internal/sim/catalogs"
	"citybuilder.ai/internal/sim/policy"
	"citybuilder.ai/internal/sim/tuning"
	"citybuilder.ai/internal/sim/world"
)

func newWorld(t *testing.T, withBaseline bool) *world.WorldState {
	t.Helper()
	cfg := world.ConfigFromTuning(tuning.Defaults())
	cfg.Genesis = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if !withBaseline {
		cfg.Baseline = nil
	}
	return world.New(cfg)
}

func newPlanner(t *testing.T, strategy string) *Planner {
	t.Helper()
	tu := tuning.Defaults()
	tu.Placement.Strategy = strategy
	p, err := New(tu, nil)
	require.NoError(t, err)
	return p
}

func residential() policy.Decision {
	return policy.Decision{Category: catalogs.Residential, Reason: "Zoning: residential at 0%, target 60%"}
}

func TestNew_UnknownStrategy(t *testing.T) {
	tu := tuning.Defaults()
	tu.Placement.Strategy = "spiral"
	_, err := New(tu, nil)
	assert.Error(t, err)
}

func TestRing_FirstExpansion(t *testing.T) {
	w := newWorld(t, true)
	p := newPlanner(t, "ring")
	items := p.Refill(w, residential())
	ring := p.Strategy().(*Ring)
	assert.Equal(t, 1, ring.Level())

	var roads, buildings []world.QueueItem
	for _, it := range items {
		if it.Category == catalogs.Road {
			roads = append(roads, it)
		} else if it.Category.Real() {
			buildings = append(buildings, it)
		}
	}
	require.NotEmpty(t, roads)
	for _, r := range roads {
		assert.True(t, r.Position.X == 0 || r.Position.Z == 0, "road off axis at %s", r.Position)
		assert.True(t, w.Index().IsRoad(r.Position))
		assert.Equal(t, catalogs.BandInfrastructure, r.Priority)
	}
	require.Len(t, buildings, tuning.Defaults().Placement.BatchSize)
	assert.Equal(t, catalogs.Residential, buildings[0].Category)
	assert.Equal(t, residential().Reason, buildings[0].Reason)
	for _, b := range buildings {
		assert.True(t, w.Index().IsFree(b.Position), b.Position.String())
		assert.Equal(t, catalogs.BandBuilding, b.Priority)
	}
}

func TestRing_ExhaustsBeforeNextRing(t *testing.T) {
	w := newWorld(t, true)
	p := newPlanner(t, "ring")
	ring := p.Strategy().(*Ring)

	seen := map[world.Cell]bool{}
	roads, buildings := 0, 0
	for i := 0; i < 200 && ring.Level() < 4; i++ {
		before := ring.Level()
		for _, it := range p.Refill(w, residential()) {
			if it.Category == catalogs.Road {
				roads++
				continue
			}
			buildings++
			assert.False(t, seen[it.Position], "cell planned twice: %s", it.Position)
			seen[it.Position] = true
		}
		assert.LessOrEqual(t, ring.Level(), before+1)
	}
	assert.GreaterOrEqual(t, ring.Level(), 3)
	assert.Less(t, roads, buildings)
}

func TestRing_InfrastructureDecisionIsSingleItem(t *testing.T) {
	w := newWorld(t, true)
	p := newPlanner(t, "ring")
	p.Refill(w, residential())

	items := p.Refill(w, policy.Decision{Category: catalogs.Water, Reason: "Infrastructure"})
	require.Len(t, items, 1)
	assert.Equal(t, catalogs.Water, items[0].Category)
	assert.Equal(t, "water_storage", items[0].ModelKey)
}

func TestRing_ResetReplaysLayout(t *testing.T) {
	w1 := newWorld(t, true)
	p := newPlanner(t, "ring")
	first := p.Refill(w1, residential())

	p.Reset()
	w2 := newWorld(t, true)
	again := p.Refill(w2, residential())
	assert.Equal(t, first, again)
}

func TestEmergencyPosition(t *testing.T) {
	w := newWorld(t, true)
	p := newPlanner(t, "ring")

	c, ok := p.EmergencyPosition(w, 100)
	require.True(t, ok)
	assert.Equal(t, world.Cell{X: 24, Z: 24}, c)

	for _, o := range []world.Cell{{X: 24, Z: 24}, {X: -24, Z: 24}, {X: 24, Z: -24}, {X: -24, Z: -24}, {X: 24}, {X: -24}, {Z: 24}, {Z: -24}} {
		w.Index().Occupy(o)
	}
	c, ok = p.EmergencyPosition(w, 100)
	require.True(t, ok)
	assert.Equal(t, world.Cell{X: 48, Z: 48}, c)

	// radius below the first ring falls through to the nearest-free scan
	c, ok = p.EmergencyPosition(w, 8)
	require.True(t, ok)
	assert.Equal(t, world.Cell{X: -8, Z: -8}, c)

	item, ok := p.EmergencyItem(w, catalogs.Power, 100, "Critical")
	require.True(t, ok)
	assert.Equal(t, catalogs.BandEmergency, item.Priority)
	assert.Equal(t, "solarpanel", item.ModelKey)
}

func TestFindValidPosition_GivesUp(t *testing.T) {
	w := newWorld(t, true)
	p := newPlanner(t, "neighborhood")
	_, ok := p.FindValidPosition(w, world.Cell{X: 8, Z: 0}, Constraints{Radius: 0})
	assert.False(t, ok)
}

func TestFindValidPosition_HonorsConstraints(t *testing.T) {
	w := newWorld(t, true)
	p := newPlanner(t, "neighborhood")
	anchor := world.Cell{X: 48, Z: 48}
	for i := 0; i < 50; i++ {
		c, ok := p.FindValidPosition(w, anchor, Constraints{Radius: 20, MinDistance: 5})
		if !ok {
			continue
		}
		assert.Zero(t, c.X%4)
		assert.Zero(t, c.Z%4)
		assert.LessOrEqual(t, math.Hypot(float64(c.X-anchor.X), float64(c.Z-anchor.Z)), 20+4.0)
		for _, s := range w.Structures() {
			d := math.Hypot(float64(c.X-s.Position.X), float64(c.Z-s.Position.Z))
			assert.GreaterOrEqual(t, d, 5.0)
		}
		require.NoError(t, w.AddStructure(w.Materialize(world.QueueItem{Category: catalogs.Park, ModelKey: "tree_A", Position: c})))
	}
}

func TestNeighborhood_FillsThenOpensNext(t *testing.T) {
	w := newWorld(t, true)
	p := newPlanner(t, "neighborhood")
	n := p.Strategy().(*Neighborhoods)

	items := p.Refill(w, residential())
	require.Len(t, n.All(), 1)
	nb := n.All()[0]
	assert.Equal(t, catalogs.Residential, nb.Zone)

	var placed []world.Cell
	for _, it := range items {
		if it.Category == catalogs.Road {
			assert.True(t, w.Index().IsRoad(it.Position))
			continue
		}
		assert.Equal(t, nb.OrientationBias, it.Orientation)
		assert.LessOrEqual(t, math.Hypot(float64(it.Position.X-nb.Center.X), float64(it.Position.Z-nb.Center.Z)), float64(nb.Radius)+4)
		for _, q := range placed {
			assert.GreaterOrEqual(t, math.Hypot(float64(it.Position.X-q.X), float64(it.Position.Z-q.Z)), 5.0)
		}
		placed = append(placed, it.Position)
	}
	require.NotEmpty(t, placed)

	for i := 0; i < 20 && len(n.All()) < 2; i++ {
		for _, it := range p.Refill(w, residential()) {
			if it.Category != catalogs.Road {
				_ = w.AddStructure(w.Materialize(it))
			}
		}
	}
	require.GreaterOrEqual(t, len(n.All()), 2)
	first := n.All()[0]
	assert.Equal(t, first.Capacity, first.Count)
}

func TestNeighborhood_DiscardedItemsDoNotUseCapacity(t *testing.T) {
	w := newWorld(t, true)
	p := newPlanner(t, "neighborhood")
	n := p.Strategy().(*Neighborhoods)

	var planned int
	for _, it := range p.Refill(w, residential()) {
		if it.Category != catalogs.Road {
			planned++
		}
	}
	require.Positive(t, planned)
	require.Len(t, n.All(), 1)

	// Nothing from the first batch was built; the cluster is recounted empty.
	for i := 0; i < 5; i++ {
		p.Refill(w, residential())
	}
	require.Len(t, n.All(), 1)
	assert.LessOrEqual(t, n.All()[0].Count, tuning.Defaults().Placement.BatchSize)
}

func TestNeighborhood_IndustryAwayFromHousing(t *testing.T) {
	w := newWorld(t, true)
	p := newPlanner(t, "neighborhood")
	n := p.Strategy().(*Neighborhoods)

	p.Refill(w, residential())
	home := n.All()[0].Center
	p.Refill(w, policy.Decision{Category: catalogs.Industrial, Reason: "Zoning"})
	require.Len(t, n.All(), 2)
	ind := n.All()[1]
	assert.Equal(t, catalogs.Industrial, ind.Zone)

	dot := (ind.Center.X-home.X)*home.X + (ind.Center.Z-home.Z)*home.Z
	assert.Less(t, dot, 0, "industry at %s should head away from housing at %s", ind.Center, home)
}

func TestNeighborhood_InfrastructureDoesNotUseCapacity(t *testing.T) {
	w := newWorld(t, true)
	p := newPlanner(t, "neighborhood")
	n := p.Strategy().(*Neighborhoods)
	p.Refill(w, residential())
	before := n.All()[0].Count

	items := p.Refill(w, policy.Decision{Category: catalogs.Power, Reason: "ratio"})
	require.Len(t, items, 1)
	assert.Equal(t, catalogs.Power, items[0].Category)
	assert.Equal(t, before, n.All()[0].Count)
}

func TestLRoad(t *testing.T) {
	cfg := world.ConfigFromTuning(tuning.Defaults())
	cfg.Baseline = nil
	cfg.ExclusionRadius = 0
	w := world.New(cfg)
	p := newPlanner(t, "ring")

	items := LRoad(p, w, world.Cell{X: 8, Z: 8}, world.Cell{X: 24, Z: 40})
	require.Len(t, items, 13)
	corners := 0
	for _, it := range items {
		assert.Equal(t, catalogs.Road, it.Category)
		assert.True(t, w.Index().IsRoad(it.Position))
		assert.True(t, it.Position.Z == 8 || it.Position.X == 24, it.Position.String())
		if it.ModelKey == "road_corner" {
			corners++
			assert.Equal(t, world.Cell{X: 24, Z: 8}, it.Position)
		}
	}
	assert.Equal(t, 1, corners)

	// a second pass over the same cells plans nothing new
	assert.Empty(t, LRoad(p, w, world.Cell{X: 8, Z: 8}, world.Cell{X: 24, Z: 40}))
}
