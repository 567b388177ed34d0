package placement

import (
	"fmt"

	"citybuilder.ai/internal/sim/catalogs"
	"citybuilder.ai/internal/sim/world"
)

// LRoad plans a road from a to b along x first, then along z. Cells that are
// occupied, excluded or already roads are skipped. Planned cells are reserved
// in the index right away so buildings stay off them.
func LRoad(p *Planner, w *world.WorldState, a, b world.Cell) []world.QueueItem {
	a, b = p.snapCell(a), p.snapCell(b)
	step := p.cfg.GridStep
	idx := w.Index()
	reason := fmt.Sprintf("Road %s to %s", a, b)

	var out []world.QueueItem
	lay := func(c world.Cell, model string, orientation int) {
		if idx.IsOccupied(c) || idx.IsRoad(c) || idx.IsExcluded(c) {
			return
		}
		idx.MarkRoad(c)
		out = append(out, world.QueueItem{
			Category:    catalogs.Road,
			ModelKey:    model,
			Position:    c,
			Orientation: orientation,
			Footprint:   [2]int{1, 1},
			Priority:    catalogs.BandInfrastructure,
			Reason:      reason,
		})
	}

	sx, sz := sign(b.X-a.X), sign(b.Z-a.Z)
	for x := a.X; x != b.X; x += sx * step {
		lay(world.Cell{X: x, Z: a.Z}, "road_straight", 1)
	}
	corner := world.Cell{X: b.X, Z: a.Z}
	switch {
	case sx != 0 && sz != 0:
		lay(corner, "road_corner", cornerOrientation(sx, sz))
	case sx != 0:
		lay(corner, "road_straight", 1)
	case sz != 0:
		lay(corner, "road_straight", 0)
	}
	for z := a.Z + sz*step; sz != 0 && z != b.Z+sz*step; z += sz * step {
		lay(world.Cell{X: b.X, Z: z}, "road_straight", 0)
	}
	return out
}

// cornerOrientation picks the quarter turn joining an x leg heading sx to a z
// leg heading sz.
func cornerOrientation(sx, sz int) int {
	switch {
	case sx > 0 && sz > 0:
		return 0
	case sx < 0 && sz > 0:
		return 1
	case sx < 0 && sz < 0:
		return 2
	}
	return 3
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
