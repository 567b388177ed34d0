package world

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"citybuilder.ai/internal/sim/catalogs"
	"citybuilder.ai/internal/sim/tuning"
)

var (
	ErrDuplicateID = errors.New("duplicate structure id")
	ErrCellTaken   = errors.New("footprint overlaps an occupied cell")
	ErrNotFound    = errors.New("structure not found")
)

const (
	initialTimeOfDay = 12.0
	initialMorale    = 50
	initialMood      = 80
	initialEnergy    = 100
)

var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://citybuilder.ai/structures"))

// BaselineItem is one structure of the deterministic starting set.
type BaselineItem struct {
	Category    catalogs.Category
	ModelKey    string
	Position    Cell
	Orientation int
}

// CoreInfrastructure is the crash-site kit every colony starts with.
func CoreInfrastructure() []BaselineItem {
	var out []BaselineItem
	for _, x := range []int{8, 12} {
		for _, z := range []int{-4, 0, 4} {
			out = append(out, BaselineItem{Category: catalogs.Power, ModelKey: "solarpanel", Position: Cell{X: x, Z: z}})
		}
	}
	return append(out,
		BaselineItem{Category: catalogs.Water, ModelKey: "water_storage", Position: Cell{X: 0, Z: 10}},
		BaselineItem{Category: catalogs.Food, ModelKey: "space_farm_small", Position: Cell{X: -10, Z: 0}},
		BaselineItem{Category: catalogs.Eco, ModelKey: "eco_module", Position: Cell{X: 0, Z: -10}},
	)
}

type Config struct {
	Seed            int64
	GridStep        int
	ExclusionRadius int
	Critical        tuning.Resources
	Baseline        []BaselineItem

	// Genesis stamps baseline metadata so resets reproduce it exactly.
	Genesis time.Time
	Now     func() time.Time
}

func ConfigFromTuning(t tuning.Tuning) Config {
	return Config{
		Seed:            t.Seed,
		GridStep:        t.Placement.GridStep,
		ExclusionRadius: t.Placement.ExclusionRadius,
		Critical:        t.Critical,
		Baseline:        CoreInfrastructure(),
	}
}

// WorldState is the aggregate root. It is not safe for concurrent use; the
// engine loop goroutine owns it.
type WorldState struct {
	cfg Config

	structures []Structure
	byID       map[string]int
	counts     [len(catalogs.All)]int

	index  *SpatialIndex
	ledger *ResourceLedger

	day       int
	timeOfDay float64
	morale    int
	avatar    Avatar

	seq    uint64
	resets uint64
	rng    *rand.Rand
}

func New(cfg Config) *WorldState {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Genesis.IsZero() {
		cfg.Genesis = cfg.Now().UTC()
	}
	if cfg.GridStep < 1 {
		cfg.GridStep = 1
	}
	w := &WorldState{cfg: cfg}
	w.init()
	return w
}

func (w *WorldState) init() {
	var ex []Exclusion
	if w.cfg.ExclusionRadius > 0 {
		ex = append(ex, Exclusion{Radius: w.cfg.ExclusionRadius})
	}
	w.structures = nil
	w.byID = map[string]int{}
	w.counts = [len(catalogs.All)]int{}
	w.index = NewSpatialIndex(w.cfg.GridStep, ex...)
	w.ledger = NewResourceLedger(w.cfg.Critical)
	w.day = 1
	w.timeOfDay = initialTimeOfDay
	w.morale = initialMorale
	w.avatar = Avatar{Mood: initialMood, Energy: initialEnergy}
	w.seq = 0
	w.rng = rand.New(rand.NewSource(w.cfg.Seed))

	for i, b := range w.cfg.Baseline {
		s := Structure{
			ID:          uuid.NewSHA1(idNamespace, []byte(fmt.Sprintf("core/%d/%d", w.cfg.Seed, i))).String(),
			Category:    b.Category,
			ModelKey:    b.ModelKey,
			Position:    b.Position,
			Orientation: b.Orientation,
			Footprint:   catalogs.Footprint(b.ModelKey),
		}
		s.Metadata = w.describe(s.Category, w.cfg.Genesis)
		w.insert(s)
	}
}

// Reset restores the deterministic baseline and clears all counters.
func (w *WorldState) Reset() {
	w.resets++
	w.init()
}

func (w *WorldState) Resets() uint64 { return w.resets }

// RestoreResets carries the reset epoch over from a saved snapshot.
func (w *WorldState) RestoreResets(n uint64) { w.resets = n }

func (w *WorldState) Index() *SpatialIndex    { return w.index }
func (w *WorldState) Ledger() *ResourceLedger { return w.ledger }
func (w *WorldState) GridStep() int           { return w.cfg.GridStep }

func (w *WorldState) describe(c catalogs.Category, at time.Time) Metadata {
	d := catalogs.Describe(c, w.rng)
	return Metadata{
		Name:       d.Name,
		Purpose:    d.Purpose,
		Population: d.Population,
		Capacity:   d.Capacity,
		Category:   c,
		BuiltAt:    at,
	}
}

func (w *WorldState) nextID() string {
	for {
		w.seq++
		id := uuid.NewSHA1(idNamespace, []byte(fmt.Sprintf("build/%d/%d/%d", w.cfg.Seed, w.resets, w.seq))).String()
		if _, taken := w.byID[id]; !taken {
			return id
		}
	}
}

// Materialize turns a dispatched item into a placed structure with a fresh id
// and metadata. It does not add the structure.
func (w *WorldState) Materialize(item QueueItem) Structure {
	return Structure{
		ID:          w.nextID(),
		Category:    item.Category,
		ModelKey:    item.ModelKey,
		Position:    item.Position,
		Orientation: item.Orientation,
		Footprint:   normFootprint(item.Footprint),
		Metadata:    w.describe(item.Category, w.cfg.Now().UTC()),
	}
}

// AddStructure places s and updates the index and ledger.
func (w *WorldState) AddStructure(s Structure) error {
	if s.ID == "" {
		s.ID = w.nextID()
	}
	if _, ok := w.byID[s.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, s.ID)
	}
	s.Footprint = normFootprint(s.Footprint)
	for _, c := range FootprintCells(s.Position, s.Footprint, w.cfg.GridStep) {
		if w.index.IsOccupied(c) {
			return fmt.Errorf("%w: %s", ErrCellTaken, c)
		}
	}
	w.insert(s)
	return nil
}

func (w *WorldState) insert(s Structure) {
	w.byID[s.ID] = len(w.structures)
	w.structures = append(w.structures, s)
	if s.Category.Valid() {
		w.counts[s.Category]++
	}
	w.index.OccupyStructure(s)
	w.ledger.Apply(s)
}

// Remove deletes a structure, releases its cells and rebuilds the ledger.
// Cells still covered by another structure (synced lists may overlap) stay
// occupied; planned road reservations elsewhere are kept.
func (w *WorldState) Remove(id string) (Structure, error) {
	i, ok := w.byID[id]
	if !ok {
		return Structure{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s := w.structures[i]
	w.structures = append(w.structures[:i], w.structures[i+1:]...)
	w.reindex()
	w.index.ReleaseStructure(s)
	for _, o := range w.structures {
		w.index.OccupyStructure(o)
	}
	w.ledger.RebuildFrom(w.structures)
	return s, nil
}

// ReplaceStructures swaps in an externally supplied structure list and
// rebuilds occupancy and totals from it. Missing ids are assigned.
func (w *WorldState) ReplaceStructures(list []Structure) {
	w.structures = make([]Structure, 0, len(list))
	w.byID = map[string]int{}
	for _, s := range list {
		if _, dup := w.byID[s.ID]; s.ID == "" || dup {
			s.ID = w.nextID()
		}
		s.Footprint = normFootprint(s.Footprint)
		w.byID[s.ID] = len(w.structures)
		w.structures = append(w.structures, s)
	}
	w.rebuild()
}

func (w *WorldState) reindex() {
	w.byID = make(map[string]int, len(w.structures))
	w.counts = [len(catalogs.All)]int{}
	for i, s := range w.structures {
		w.byID[s.ID] = i
		if s.Category.Valid() {
			w.counts[s.Category]++
		}
	}
}

func (w *WorldState) rebuild() {
	w.reindex()
	w.index.RebuildFrom(w.structures)
	w.ledger.RebuildFrom(w.structures)
}

func (w *WorldState) Structures() []Structure {
	return append([]Structure(nil), w.structures...)
}

func (w *WorldState) Structure(id string) (Structure, bool) {
	i, ok := w.byID[id]
	if !ok {
		return Structure{}, false
	}
	return w.structures[i], true
}

// Recent returns up to n most recently placed structures, newest last.
func (w *WorldState) Recent(n int) []Structure {
	if n <= 0 || n > len(w.structures) {
		n = len(w.structures)
	}
	return append([]Structure(nil), w.structures[len(w.structures)-n:]...)
}

func (w *WorldState) Count(c catalogs.Category) int {
	if !c.Valid() {
		return 0
	}
	return w.counts[c]
}

// RealCount counts structures that take part in the zoning mix.
func (w *WorldState) RealCount() int {
	n := 0
	for _, c := range catalogs.All {
		if c.Real() {
			n += w.counts[c]
		}
	}
	return n
}

func (w *WorldState) Total() int { return len(w.structures) }

func (w *WorldState) Day() int           { return w.day }
func (w *WorldState) TimeOfDay() float64 { return w.timeOfDay }
func (w *WorldState) Morale() int        { return w.morale }
func (w *WorldState) Avatar() Avatar     { return w.avatar }

// AdvanceClock moves time of day forward. Each wrap past 24h starts a new day
// and settles morale: +5 when every net resource is non-negative, -10 otherwise.
func (w *WorldState) AdvanceClock(hours float64) (newDay bool) {
	if hours <= 0 {
		return false
	}
	w.timeOfDay += hours
	for w.timeOfDay >= 24 {
		w.timeOfDay -= 24
		w.day++
		newDay = true
		if w.ledger.Balanced() {
			w.morale = clamp(w.morale+5, 0, 100)
		} else {
			w.morale = clamp(w.morale-10, 0, 100)
		}
		w.avatar.Energy = initialEnergy
	}
	return newDay
}

// SendAvatar records a new walk target for the external mover.
func (w *WorldState) SendAvatar(target Cell) {
	t := target
	w.avatar.Target = &t
	w.avatar.Moving = true
	w.avatar.Energy = clamp(w.avatar.Energy-2, 0, 100)
}

// AvatarArrived settles the avatar at pos, or at its target when pos is nil.
func (w *WorldState) AvatarArrived(pos *Cell) {
	switch {
	case pos != nil:
		w.avatar.Position = *pos
	case w.avatar.Target != nil:
		w.avatar.Position = *w.avatar.Target
	}
	w.avatar.Target = nil
	w.avatar.Moving = false
}

// AdjustMood nudges the avatar mood, clamped to 0..100.
func (w *WorldState) AdjustMood(delta int) {
	w.avatar.Mood = clamp(w.avatar.Mood+delta, 0, 100)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
