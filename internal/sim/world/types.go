package world

import (
	"fmt"
	"time"

	"citybuilder.ai/internal/sim/catalogs"
)

// Cell is an integer grid coordinate on the ground plane.
type Cell struct {
	X int `json:"x"`
	Z int `json:"z"`
}

func (c Cell) Add(dx, dz int) Cell { return Cell{X: c.X + dx, Z: c.Z + dz} }

func (c Cell) String() string { return fmt.Sprintf("(%d,%d)", c.X, c.Z) }

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Metadata is generated once when a structure is placed and never changes afterwards.
type Metadata struct {
	Name       string            `json:"name"`
	Purpose    string            `json:"purpose"`
	Population int               `json:"population"`
	Capacity   string            `json:"capacity"`
	Category   catalogs.Category `json:"category"`
	BuiltAt    time.Time         `json:"built_at"`
}

type Structure struct {
	ID          string            `json:"id"`
	Category    catalogs.Category `json:"category"`
	ModelKey    string            `json:"model_key"`
	Position    Cell              `json:"position"`
	Orientation int               `json:"orientation"`
	Footprint   [2]int            `json:"footprint"`
	Metadata    Metadata          `json:"metadata"`
}

// QueueItem is an unmaterialized build intent.
type QueueItem struct {
	Category    catalogs.Category
	ModelKey    string
	Position    Cell
	Orientation int
	Footprint   [2]int
	Priority    int
	Reason      string
}

// Neighborhood is a cluster of same-zone structures around a fixed center.
type Neighborhood struct {
	Center          Cell
	Zone            catalogs.Category
	Radius          int
	Capacity        int
	Count           int
	OrientationBias int
	// Saturated is set when no valid position was left inside the radius.
	Saturated bool
}

func (n *Neighborhood) Full() bool { return n.Count >= n.Capacity }

// Avatar is the builder character. Movement itself is simulated externally.
type Avatar struct {
	Position Cell  `json:"position"`
	Target   *Cell `json:"target,omitempty"`
	Moving   bool  `json:"moving"`
	Mood     int   `json:"mood"`
	Energy   int   `json:"energy"`
}

func normFootprint(fp [2]int) [2]int {
	if fp[0] < 1 {
		fp[0] = 1
	}
	if fp[1] < 1 {
		fp[1] = 1
	}
	return fp
}

// FootprintCells lists the cells covered by a footprint anchored at pos,
// extending along +x and +z in grid steps.
func FootprintCells(pos Cell, fp [2]int, step int) []Cell {
	fp = normFootprint(fp)
	if step < 1 {
		step = 1
	}
	out := make([]Cell, 0, fp[0]*fp[1])
	for i := 0; i < fp[0]; i++ {
		for j := 0; j < fp[1]; j++ {
			out = append(out, pos.Add(i*step, j*step))
		}
	}
	return out
}
