package placement

import (
	"fmt"
	"math"

	"citybuilder.ai/internal/sim/catalogs"
	"citybuilder.ai/internal/sim/policy"
	"citybuilder.ai/internal/sim/tuning"
	"citybuilder.ai/internal/sim/world"
)

// Neighborhoods grows the city as clusters. Each zone has one active
// neighborhood; a full one is replaced by a new cluster offset from the
// previous center and joined to it with an L-shaped road.
type Neighborhoods struct {
	cfg    tuning.Placement
	all    []*world.Neighborhood
	active map[catalogs.Category]*world.Neighborhood
}

func NewNeighborhoods(cfg tuning.Placement) *Neighborhoods {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.NeighborhoodCapacity < 1 {
		cfg.NeighborhoodCapacity = 1
	}
	return &Neighborhoods{cfg: cfg, active: map[catalogs.Category]*world.Neighborhood{}}
}

func (n *Neighborhoods) Name() string { return "neighborhood" }

func (n *Neighborhoods) Reset() {
	n.all = nil
	n.active = map[catalogs.Category]*world.Neighborhood{}
}

// All returns copies of every neighborhood in creation order.
func (n *Neighborhoods) All() []world.Neighborhood {
	out := make([]world.Neighborhood, 0, len(n.all))
	for _, nb := range n.all {
		out = append(out, *nb)
	}
	return out
}

func zoneFor(c catalogs.Category) (catalogs.Category, bool) {
	switch c {
	case catalogs.Residential, catalogs.Commercial, catalogs.Industrial:
		return c, true
	case catalogs.Park:
		return catalogs.Residential, true
	}
	return 0, false
}

func (n *Neighborhoods) Plan(p *Planner, w *world.WorldState, d policy.Decision) []world.QueueItem {
	zone, zoned := zoneFor(d.Category)
	if !zoned {
		return n.planLoose(p, w, d)
	}

	var out []world.QueueItem
	nb := n.active[zone]
	if nb != nil {
		n.settle(w, nb)
	}
	if nb == nil || nb.Full() {
		var roads []world.QueueItem
		nb, roads = n.open(p, w, zone)
		out = append(out, roads...)
	}

	avoid := map[world.Cell]bool{}
	for i := 0; i < n.cfg.BatchSize && !nb.Full(); i++ {
		reason := d.Reason
		if i > 0 {
			reason = fmt.Sprintf("Filling %s neighborhood at %s", nb.Zone, nb.Center)
		}
		item := p.QueueCategoryBuild(d.Category, world.Cell{}, reason)
		item.Orientation = nb.OrientationBias
		pos, ok := p.FindValidPosition(w, nb.Center, Constraints{
			Radius:      nb.Radius,
			MinDistance: n.cfg.MinDistance,
			Footprint:   item.Footprint,
			Avoid:       avoid,
		})
		if !ok {
			// Saturated; the next refill for this zone opens a new cluster.
			p.logf("neighborhood saturated zone=%s center=%s count=%d", nb.Zone, nb.Center, nb.Count)
			nb.Count = nb.Capacity
			nb.Saturated = true
			break
		}
		item.Position = pos
		for _, c := range world.FootprintCells(pos, item.Footprint, w.Index().Step()) {
			avoid[c] = true
		}
		nb.Count++
		out = append(out, item)
	}
	return out
}

// settle recounts a cluster from the structures actually placed in it, so
// planned items discarded before dispatch do not use up capacity. Refills
// only run with an empty queue, so nothing planned is still pending.
func (n *Neighborhoods) settle(w *world.WorldState, nb *world.Neighborhood) {
	if nb.Saturated {
		return
	}
	reach := float64(nb.Radius + n.cfg.GridStep)
	count := 0
	for _, s := range w.Structures() {
		if z, ok := zoneFor(s.Category); !ok || z != nb.Zone {
			continue
		}
		if math.Hypot(float64(s.Position.X-nb.Center.X), float64(s.Position.Z-nb.Center.Z)) <= reach {
			count++
		}
	}
	nb.Count = min(count, nb.Capacity)
}

// planLoose places infrastructure near the newest cluster without counting
// toward its capacity.
func (n *Neighborhoods) planLoose(p *Planner, w *world.WorldState, d policy.Decision) []world.QueueItem {
	anchor := world.Cell{}
	radius := n.cfg.NeighborhoodRadius
	if len(n.all) > 0 {
		anchor = n.all[len(n.all)-1].Center
		radius += n.cfg.GridStep * 2
	} else {
		radius = n.cfg.BlockSize * 2
	}
	item := p.QueueCategoryBuild(d.Category, world.Cell{}, d.Reason)
	pos, ok := p.FindValidPosition(w, anchor, Constraints{Radius: radius, MinDistance: n.cfg.MinDistance, Footprint: item.Footprint})
	if !ok {
		p.logf("no position category=%s anchor=%s", d.Category, anchor)
		return nil
	}
	item.Position = pos
	return []world.QueueItem{item}
}

func (n *Neighborhoods) open(p *Planner, w *world.WorldState, zone catalogs.Category) (*world.Neighborhood, []world.QueueItem) {
	prev := world.Cell{}
	if len(n.all) > 0 {
		prev = n.all[len(n.all)-1].Center
	}

	var center world.Cell
	for i := 0; i < p.cfg.Attempts; i++ {
		heading := n.heading(p, zone, prev)
		dist := float64(n.cfg.NeighborhoodSpacing)
		if len(n.all) > 0 {
			dist += (p.rng.Float64() - 0.5) * float64(n.cfg.NeighborhoodRadius)
		}
		center = p.snapCell(world.Cell{
			X: prev.X + int(math.Round(math.Cos(heading)*dist)),
			Z: prev.Z + int(math.Round(math.Sin(heading)*dist)),
		})
		if n.clear(w, center) {
			break
		}
	}

	nb := &world.Neighborhood{
		Center:          center,
		Zone:            zone,
		Radius:          n.cfg.NeighborhoodRadius,
		Capacity:        n.cfg.NeighborhoodCapacity,
		OrientationBias: p.rng.Intn(4),
	}
	n.all = append(n.all, nb)
	n.active[zone] = nb
	roads := LRoad(p, w, prev, center)
	p.logf("neighborhood open zone=%s center=%s roads=%d", zone, center, len(roads))
	return nb, roads
}

// heading biases new clusters outward; industry goes to the side away from
// the residential centroid.
func (n *Neighborhoods) heading(p *Planner, zone catalogs.Category, prev world.Cell) float64 {
	jitter := func(spread float64) float64 { return (p.rng.Float64()*2 - 1) * spread }

	if zone == catalogs.Industrial {
		if cen, ok := n.centroid(catalogs.Residential); ok {
			dx, dz := float64(prev.X-cen.X), float64(prev.Z-cen.Z)
			if dx == 0 && dz == 0 {
				dx, dz = -float64(cen.X), -float64(cen.Z)
			}
			if dx != 0 || dz != 0 {
				return math.Atan2(dz, dx) + jitter(math.Pi/6)
			}
		}
	}
	if prev.X != 0 || prev.Z != 0 {
		return math.Atan2(float64(prev.Z), float64(prev.X)) + jitter(math.Pi/2)
	}
	return p.rng.Float64() * 2 * math.Pi
}

func (n *Neighborhoods) centroid(zone catalogs.Category) (world.Cell, bool) {
	var sx, sz, k int
	for _, nb := range n.all {
		if nb.Zone == zone {
			sx += nb.Center.X
			sz += nb.Center.Z
			k++
		}
	}
	if k == 0 {
		return world.Cell{}, false
	}
	return world.Cell{X: sx / k, Z: sz / k}, true
}

func (n *Neighborhoods) clear(w *world.WorldState, c world.Cell) bool {
	if w.Index().IsExcluded(c) {
		return false
	}
	minDist := float64(n.cfg.NeighborhoodSpacing) * 0.75
	for _, nb := range n.all {
		if math.Hypot(float64(nb.Center.X-c.X), float64(nb.Center.Z-c.Z)) < minDist {
			return false
		}
	}
	return true
}
