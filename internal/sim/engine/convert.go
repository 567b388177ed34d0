package engine

import (
	"fmt"
	"time"

	"citybuilder.ai/internal/protocol"
	"citybuilder.ai/internal/sim/catalogs"
	"citybuilder.ai/internal/sim/construction"
	"citybuilder.ai/internal/sim/world"
)

func cellOf(c world.Cell) [2]int { return [2]int{c.X, c.Z} }

func toCell(p [2]int) world.Cell { return world.Cell{X: p[0], Z: p[1]} }

func metadataMsg(m world.Metadata) protocol.Metadata {
	built := ""
	if !m.BuiltAt.IsZero() {
		built = m.BuiltAt.UTC().Format(time.RFC3339)
	}
	return protocol.Metadata{
		Name:       m.Name,
		Purpose:    m.Purpose,
		Population: m.Population,
		Capacity:   m.Capacity,
		Category:   m.Category.String(),
		BuiltAt:    built,
	}
}

func structureMsg(s world.Structure) protocol.Structure {
	return protocol.Structure{
		ID:          s.ID,
		Category:    s.Category.String(),
		ModelKey:    s.ModelKey,
		Position:    cellOf(s.Position),
		Orientation: s.Orientation,
		Footprint:   s.Footprint,
		Metadata:    metadataMsg(s.Metadata),
	}
}

// structureFrom converts a wire structure. Missing metadata is left zero and
// an unknown model key falls back to the category's first model.
func structureFrom(p protocol.Structure) (world.Structure, error) {
	c, err := catalogs.ParseCategory(p.Category)
	if err != nil {
		return world.Structure{}, fmt.Errorf("structure %q: %w", p.ID, err)
	}
	model := p.ModelKey
	if _, ok := catalogs.Model(model); !ok {
		model = catalogs.Def(c).Models[0]
	}
	fp := p.Footprint
	if fp[0] < 1 || fp[1] < 1 {
		fp = catalogs.Footprint(model)
	}
	md := world.Metadata{
		Name:       p.Metadata.Name,
		Purpose:    p.Metadata.Purpose,
		Population: p.Metadata.Population,
		Capacity:   p.Metadata.Capacity,
		Category:   c,
	}
	if t, err := time.Parse(time.RFC3339, p.Metadata.BuiltAt); err == nil {
		md.BuiltAt = t.UTC()
	}
	return world.Structure{
		ID:          p.ID,
		Category:    c,
		ModelKey:    model,
		Position:    toCell(p.Position),
		Orientation: p.Orientation & 3,
		Footprint:   fp,
		Metadata:    md,
	}, nil
}

func totalsMsg(t world.ResourceTotals) protocol.ResourceTotals {
	conv := func(x world.Total) protocol.ResourceTotal {
		return protocol.ResourceTotal{Produced: x.Produced, Consumed: x.Consumed, Net: x.Net}
	}
	return protocol.ResourceTotals{Power: conv(t.Power), Water: conv(t.Water), Food: conv(t.Food), Population: t.Population}
}

func totalsFrom(p protocol.ResourceTotals) world.ResourceTotals {
	conv := func(x protocol.ResourceTotal) world.Total {
		return world.Total{Produced: x.Produced, Consumed: x.Consumed, Net: x.Net}
	}
	return world.ResourceTotals{Power: conv(p.Power), Water: conv(p.Water), Food: conv(p.Food), Population: p.Population}
}

func avatarMsg(a world.Avatar) protocol.AvatarState {
	out := protocol.AvatarState{Position: cellOf(a.Position), Moving: a.Moving, Mood: a.Mood, Energy: a.Energy}
	if a.Target != nil {
		t := cellOf(*a.Target)
		out.Target = &t
	}
	return out
}

func avatarFrom(p protocol.AvatarState) world.Avatar {
	out := world.Avatar{Position: toCell(p.Position), Moving: p.Moving, Mood: p.Mood, Energy: p.Energy}
	if p.Target != nil {
		t := toCell(*p.Target)
		out.Target = &t
	}
	return out
}

func worldStateMsg(s world.Snapshot, speed float64) protocol.WorldStateMsg {
	structures := make([]protocol.Structure, 0, len(s.Structures))
	for _, st := range s.Structures {
		structures = append(structures, structureMsg(st))
	}
	return protocol.WorldStateMsg{
		Type:                protocol.TypeWorldState,
		ProtocolVersion:     protocol.Version,
		Structures:          structures,
		Day:                 s.Day,
		TimeOfDay:           s.TimeOfDay,
		Resources:           totalsMsg(s.Resources),
		TotalStructureCount: s.TotalStructureCount,
		Morale:              s.Morale,
		Speed:               speed,
		Avatar:              avatarMsg(s.Avatar),
	}
}

// worldSnapshotFrom converts a WORLD_STATE payload. Structures that fail to
// convert are skipped and counted.
func worldSnapshotFrom(m protocol.WorldStateMsg) (world.Snapshot, int) {
	out := world.Snapshot{
		Day:                 m.Day,
		TimeOfDay:           m.TimeOfDay,
		Resources:           totalsFrom(m.Resources),
		TotalStructureCount: m.TotalStructureCount,
		Morale:              m.Morale,
		Avatar:              avatarFrom(m.Avatar),
	}
	skipped := 0
	for _, p := range m.Structures {
		s, err := structureFrom(p)
		if err != nil {
			skipped++
			continue
		}
		out.Structures = append(out.Structures, s)
	}
	return out, skipped
}

func buildStartedMsg(d construction.Dispatch, dur time.Duration) protocol.BuildStartedMsg {
	return protocol.BuildStartedMsg{
		Type:            protocol.TypeBuildStarted,
		ProtocolVersion: protocol.Version,
		BuildID:         d.Ticket,
		Category:        d.Item.Category.String(),
		ModelKey:        d.Item.ModelKey,
		Position:        cellOf(d.Item.Position),
		Orientation:     d.Item.Orientation,
		Footprint:       d.Item.Footprint,
		Priority:        d.Item.Priority,
		Reason:          d.Item.Reason,
		DurationMS:      dur.Milliseconds(),
	}
}

func buildCompletedMsg(ticket string, s world.Structure, totals world.ResourceTotals) protocol.BuildCompletedMsg {
	return protocol.BuildCompletedMsg{
		Type:            protocol.TypeBuildCompleted,
		ProtocolVersion: protocol.Version,
		BuildID:         ticket,
		ID:              s.ID,
		Category:        s.Category.String(),
		ModelKey:        s.ModelKey,
		Position:        cellOf(s.Position),
		Orientation:     s.Orientation,
		Footprint:       s.Footprint,
		Metadata:        metadataMsg(s.Metadata),
		Resources:       totalsMsg(totals),
	}
}

func buildRecord(ticket, reason string, s world.Structure, day int) BuildRecord {
	return BuildRecord{
		StructureID: s.ID,
		BuildID:     ticket,
		Category:    s.Category.String(),
		ModelKey:    s.ModelKey,
		X:           s.Position.X,
		Z:           s.Position.Z,
		Name:        s.Metadata.Name,
		Population:  s.Metadata.Population,
		Reason:      reason,
		Day:         day,
		BuiltAt:     s.Metadata.BuiltAt.UTC().Format(time.RFC3339Nano),
	}
}
