package world

import (
	"sort"

	"citybuilder.ai/internal/sim/catalogs"
)

// Exclusion is a square keep-out zone: |dx| < Radius && |dz| < Radius.
type Exclusion struct {
	Center Cell
	Radius int
}

func (e Exclusion) Contains(c Cell) bool {
	return abs(c.X-e.Center.X) < e.Radius && abs(c.Z-e.Center.Z) < e.Radius
}

// SpatialIndex tracks occupied cells and the road subset.
//
// Built roads are both occupied and road cells. Roads planned but not yet built
// are only marked as roads, which is enough to keep buildings off them.
type SpatialIndex struct {
	step       int
	occupied   map[Cell]struct{}
	roads      map[Cell]struct{}
	exclusions []Exclusion
}

func NewSpatialIndex(step int, exclusions ...Exclusion) *SpatialIndex {
	if step < 1 {
		step = 1
	}
	return &SpatialIndex{
		step:       step,
		occupied:   map[Cell]struct{}{},
		roads:      map[Cell]struct{}{},
		exclusions: append([]Exclusion(nil), exclusions...),
	}
}

func (s *SpatialIndex) Step() int { return s.step }

func (s *SpatialIndex) IsOccupied(c Cell) bool {
	_, ok := s.occupied[c]
	return ok
}

func (s *SpatialIndex) Occupy(c Cell) { s.occupied[c] = struct{}{} }

func (s *SpatialIndex) Release(c Cell) { delete(s.occupied, c) }

func (s *SpatialIndex) MarkRoad(c Cell) { s.roads[c] = struct{}{} }

func (s *SpatialIndex) UnmarkRoad(c Cell) { delete(s.roads, c) }

func (s *SpatialIndex) IsRoad(c Cell) bool {
	_, ok := s.roads[c]
	return ok
}

func (s *SpatialIndex) IsExcluded(c Cell) bool {
	for _, e := range s.exclusions {
		if e.Contains(c) {
			return true
		}
	}
	return false
}

// IsFree is the placement validity check for a single non-road cell.
func (s *SpatialIndex) IsFree(c Cell) bool {
	return !s.IsOccupied(c) && !s.IsRoad(c) && !s.IsExcluded(c)
}

// FootprintFree checks every cell of a footprint. Road items may sit on cells
// already reserved as road.
func (s *SpatialIndex) FootprintFree(pos Cell, fp [2]int, road bool) bool {
	for _, c := range FootprintCells(pos, fp, s.step) {
		if s.IsOccupied(c) || s.IsExcluded(c) {
			return false
		}
		if !road && s.IsRoad(c) {
			return false
		}
	}
	return true
}

func (s *SpatialIndex) OccupyStructure(st Structure) {
	for _, c := range FootprintCells(st.Position, st.Footprint, s.step) {
		s.Occupy(c)
		if st.Category == catalogs.Road {
			s.MarkRoad(c)
		}
	}
}

func (s *SpatialIndex) ReleaseStructure(st Structure) {
	for _, c := range FootprintCells(st.Position, st.Footprint, s.step) {
		s.Release(c)
		if st.Category == catalogs.Road {
			s.UnmarkRoad(c)
		}
	}
}

// FindNearestFree scans square rings of growing radius around origin, one
// grid step at a time. Within a ring, cells are visited by ascending dx then
// ascending dz. The scan order is fixed so results are reproducible.
func (s *SpatialIndex) FindNearestFree(origin Cell, maxRadius int) (Cell, bool) {
	if s.IsFree(origin) {
		return origin, true
	}
	for r := s.step; r <= maxRadius; r += s.step {
		for dx := -r; dx <= r; dx += s.step {
			for dz := -r; dz <= r; dz += s.step {
				if abs(dx) != r && abs(dz) != r {
					continue
				}
				c := origin.Add(dx, dz)
				if s.IsFree(c) {
					return c, true
				}
			}
		}
	}
	return Cell{}, false
}

// RebuildFrom clears the index and repopulates it from structures.
// Planned road reservations are dropped.
func (s *SpatialIndex) RebuildFrom(structures []Structure) {
	s.occupied = make(map[Cell]struct{}, len(structures))
	s.roads = map[Cell]struct{}{}
	for _, st := range structures {
		s.OccupyStructure(st)
	}
}

func (s *SpatialIndex) Len() int { return len(s.occupied) }

// OccupiedCells returns a sorted copy of the occupied set.
func (s *SpatialIndex) OccupiedCells() []Cell {
	return sortedCells(s.occupied)
}

func (s *SpatialIndex) RoadCells() []Cell {
	return sortedCells(s.roads)
}

func sortedCells(m map[Cell]struct{}) []Cell {
	out := make([]Cell, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].X != out[j].X {
			return out[i].X < out[j].X
		}
		return out[i].Z < out[j].Z
	})
	return out
}
