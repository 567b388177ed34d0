package placement

import (
	"fmt"

	"citybuilder.ai/internal/sim/catalogs"
	"citybuilder.ai/internal/sim/policy"
	"citybuilder.ai/internal/sim/tuning"
	"citybuilder.ai/internal/sim/world"
)

// Ring grows the city in concentric square rings of blocks. A ring opens only
// once every block cell of the previous one has been planned. Roads are laid
// along the two main axes only.
type Ring struct {
	blockSize int
	step      int
	batch     int

	ring    int
	pending []world.Cell
}

func NewRing(cfg tuning.Placement) *Ring {
	r := &Ring{blockSize: cfg.BlockSize, step: cfg.GridStep, batch: cfg.BatchSize}
	if r.step < 1 {
		r.step = 1
	}
	if r.blockSize < 2*r.step {
		r.blockSize = 2 * r.step
	}
	if r.batch < 1 {
		r.batch = 1
	}
	return r
}

func (r *Ring) Name() string { return "ring" }

func (r *Ring) Reset() {
	r.ring = 0
	r.pending = nil
}

// Level is the current ring number, 0 before the first expansion.
func (r *Ring) Level() int { return r.ring }

func (r *Ring) Pending() int { return len(r.pending) }

func (r *Ring) Plan(p *Planner, w *world.WorldState, d policy.Decision) []world.QueueItem {
	var out []world.QueueItem
	for tries := 0; tries < 3; tries++ {
		if len(r.pending) == 0 {
			out = append(out, r.expand(p, w)...)
		}
		items := r.fill(p, w, d)
		out = append(out, items...)
		if len(items) > 0 {
			break
		}
	}
	return out
}

func (r *Ring) fill(p *Planner, w *world.WorldState, d policy.Decision) []world.QueueItem {
	n := r.batch
	if !d.Category.Real() {
		n = 1
	}
	var items []world.QueueItem
	for len(r.pending) > 0 && len(items) < n {
		c := r.pending[0]
		r.pending = r.pending[1:]

		cat, reason := d.Category, d.Reason
		if len(items) > 0 {
			cat, reason = r.roll(p, d.Category), fmt.Sprintf("Ring %d block fill", r.ring)
		}
		item := p.QueueCategoryBuild(cat, c, reason)
		if !p.Valid(w, c, Constraints{Footprint: item.Footprint}) {
			continue
		}
		items = append(items, item)
	}
	return items
}

// roll mixes the decided category with the usual zoning spread.
func (r *Ring) roll(p *Planner, priority catalogs.Category) catalogs.Category {
	switch v := p.rng.Float64(); {
	case v < 0.5 && priority.Real():
		return priority
	case v < 0.75:
		return catalogs.Residential
	case v < 0.9:
		return catalogs.Commercial
	}
	if p.rng.Intn(2) == 0 {
		return catalogs.Industrial
	}
	return catalogs.Park
}

// expand opens the next ring: block cells, corner infrastructure and the
// axis roads out to the new offset.
func (r *Ring) expand(p *Planner, w *world.WorldState) []world.QueueItem {
	r.ring++
	offset := r.ring * r.blockSize
	var out []world.QueueItem

	corners := map[world.Cell]bool{}
	infra := []catalogs.Category{catalogs.Power, catalogs.Power, catalogs.Water, catalogs.Food}
	in := offset - r.step
	for _, c := range []world.Cell{{X: in, Z: in}, {X: -in, Z: in}, {X: in, Z: -in}, {X: -in, Z: -in}} {
		corners[c] = true
		cat := infra[p.rng.Intn(len(infra))]
		item := p.QueueCategoryBuild(cat, c, fmt.Sprintf("Ring %d infrastructure", r.ring))
		item.ModelKey = catalogs.Def(cat).Models[0]
		item.Footprint = catalogs.Footprint(item.ModelKey)
		item.Orientation = 0
		if p.Valid(w, c, Constraints{Footprint: item.Footprint}) {
			out = append(out, item)
		}
	}

	out = append(out, r.roads(p, w, offset)...)

	r.pending = r.pending[:0]
	for _, c := range r.blockCells(r.ring) {
		if !corners[c] {
			r.pending = append(r.pending, c)
		}
	}
	p.logf("ring expand level=%d offset=%d cells=%d", r.ring, offset, len(r.pending))
	return out
}

func (r *Ring) roads(p *Planner, w *world.WorldState, offset int) []world.QueueItem {
	prev := (r.ring - 1) * r.blockSize
	start := prev + r.step
	if prev == 0 {
		start = r.blockSize / 2
	}
	idx := w.Index()
	var out []world.QueueItem
	lay := func(c world.Cell, orientation int) {
		if idx.IsOccupied(c) || idx.IsRoad(c) || idx.IsExcluded(c) {
			return
		}
		idx.MarkRoad(c)
		out = append(out, world.QueueItem{
			Category:    catalogs.Road,
			ModelKey:    "road_straight",
			Position:    c,
			Orientation: orientation,
			Footprint:   [2]int{1, 1},
			Priority:    catalogs.BandInfrastructure,
			Reason:      fmt.Sprintf("Ring %d artery", r.ring),
		})
	}
	for v := start; v <= offset; v += r.step {
		lay(world.Cell{X: v}, 1)
		lay(world.Cell{X: -v}, 1)
	}
	for v := start; v <= offset; v += r.step {
		lay(world.Cell{Z: v}, 0)
		lay(world.Cell{Z: -v}, 0)
	}
	return out
}

// blockCells lists the building cells of every block in ring k. Blocks sit on
// centers (i*bs - bs/2) with max(i, j) == k, leaving a street gap between blocks.
func (r *Ring) blockCells(k int) []world.Cell {
	half := r.blockSize / 2
	span := half - r.step
	quads := [][2]int{{1, 1}, {-1, 1}, {1, -1}, {-1, -1}}
	var out []world.Cell
	for i := 1; i <= k; i++ {
		for j := 1; j <= k; j++ {
			if i != k && j != k {
				continue
			}
			for _, q := range quads {
				cx := q[0] * (i*r.blockSize - half)
				cz := q[1] * (j*r.blockSize - half)
				for dx := -span; dx <= span; dx += r.step {
					for dz := -span; dz <= span; dz += r.step {
						out = append(out, world.Cell{X: cx + dx, Z: cz + dz})
					}
				}
			}
		}
	}
	return out
}
