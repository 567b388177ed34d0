package snapshot

import (
	"path/filepath"
	"testing"

	"citybuilder.ai/internal/protocol"
)

func sample() SnapshotV1 {
	target := [2]int{4, 8}
	return SnapshotV1{
		Header:   Header{Seed: 7, Day: 3, Structures: 1, SavedAt: "2026-01-01T00:00:00Z"},
		Seed:     7,
		Strategy: "ring",
		Speed:    2,
		State: protocol.WorldStateMsg{
			Type:            protocol.TypeWorldState,
			ProtocolVersion: protocol.Version,
			Structures: []protocol.Structure{{
				ID: "s1", Category: "power", ModelKey: "solarpanel", Position: [2]int{8, 0}, Footprint: [2]int{1, 1},
				Metadata: protocol.Metadata{Name: "Solar Array 1", Category: "power", Capacity: "10 kW"},
			}},
			Day:                 3,
			TimeOfDay:           13.5,
			TotalStructureCount: 1,
			Morale:              55,
			Avatar:              protocol.AvatarState{Target: &target, Moving: true, Mood: 80, Energy: 98},
		},
		Counters: CountersV1{Resets: 1, Dispatched: 5, Completed: 4},
	}
}

func TestWriteReadSnapshot_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snaps", FileName(3, 1))
	if err := WriteSnapshot(path, sample()); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Header.Version != Version {
		t.Fatalf("version=%d want %d", got.Header.Version, Version)
	}
	if len(got.State.Structures) != 1 || got.State.Structures[0].ModelKey != "solarpanel" {
		t.Fatalf("structures mismatch: %+v", got.State.Structures)
	}
	if got.State.Avatar.Target == nil || *got.State.Avatar.Target != [2]int{4, 8} {
		t.Fatalf("avatar target lost: %+v", got.State.Avatar)
	}
	if got.Counters.Completed != 4 || got.Speed != 2 {
		t.Fatalf("counters/speed mismatch: %+v speed=%v", got.Counters, got.Speed)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if h.Day != 3 || h.Structures != 1 {
		t.Fatalf("header mismatch: %+v", h)
	}
}

func TestReadSnapshot_Missing(t *testing.T) {
	if _, err := ReadSnapshot(filepath.Join(t.TempDir(), "nope.snap.zst")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestFileName(t *testing.T) {
	if got := FileName(12, 3); got != "day00012-000003.snap.zst" {
		t.Fatalf("FileName=%q", got)
	}
}
