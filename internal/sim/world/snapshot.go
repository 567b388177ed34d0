package world

// Snapshot is the resync view of the world. The spatial index and the build
// queue are omitted; both are rebuilt from Structures.
type Snapshot struct {
	Structures          []Structure    `json:"structures"`
	Day                 int            `json:"day"`
	TimeOfDay           float64        `json:"time_of_day"`
	Resources           ResourceTotals `json:"resources"`
	TotalStructureCount int            `json:"total_structure_count"`
	Morale              int            `json:"morale"`
	Avatar              Avatar         `json:"avatar"`
}

func (w *WorldState) Snapshot() Snapshot {
	av := w.avatar
	if av.Target != nil {
		t := *av.Target
		av.Target = &t
	}
	return Snapshot{
		Structures:          w.Structures(),
		Day:                 w.day,
		TimeOfDay:           w.timeOfDay,
		Resources:           w.ledger.Totals(),
		TotalStructureCount: len(w.structures),
		Morale:              w.morale,
		Avatar:              av,
	}
}

// Restore loads a snapshot. Resource totals are recomputed, not trusted.
func (w *WorldState) Restore(s Snapshot) {
	w.ReplaceStructures(s.Structures)
	w.day = s.Day
	if w.day < 1 {
		w.day = 1
	}
	w.timeOfDay = s.TimeOfDay
	if w.timeOfDay < 0 || w.timeOfDay >= 24 {
		w.timeOfDay = initialTimeOfDay
	}
	w.morale = clamp(s.Morale, 0, 100)
	w.avatar = s.Avatar
	w.avatar.Mood = clamp(w.avatar.Mood, 0, 100)
	w.avatar.Energy = clamp(w.avatar.Energy, 0, 100)
}
