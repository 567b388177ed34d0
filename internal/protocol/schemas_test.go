package protocol_test

import (
	"errors"
	"testing"

	"citybuilder.ai/internal/protocol"
)

func TestSchemas_ValidateInboundSamples(t *testing.T) {
	valid := []string{
		`{"type":"SUBSCRIBE","protocol_version":"1.0","client_name":"viewer-1","role":"viewer"}`,
		`{"type":"ACTION_COMPLETE","protocol_version":"1.0","kind":"BUILD_COMPLETE","build_id":"B000001"}`,
		`{"type":"ACTION_COMPLETE","protocol_version":"1.0","kind":"ARRIVED","position":[8,-4]}`,
		`{"type":"SET_SPEED","protocol_version":"1.0","speed":2.5}`,
		`{"type":"SET_SPEED","protocol_version":"1.0","speed":-3}`,
		`{"type":"REQUEST_DECISION","protocol_version":"1.0"}`,
		`{"type":"RESET","protocol_version":"1.0"}`,
		`{"type":"REQUEST_STATE","protocol_version":"1.0"}`,
		`{"type":"SYNC_STATE","protocol_version":"1.0","structures":[{"id":"S1","category":"power","model_key":"solarpanel","position":[8,0]}]}`,
		`{"type":"ADMIN_BUILD","protocol_version":"1.0","category":"park","position":[40,40]}`,
		`{"type":"ADMIN_REMOVE","protocol_version":"1.0","structure_id":"S1"}`,
	}
	for _, raw := range valid {
		if _, err := protocol.Validate([]byte(raw)); err != nil {
			t.Fatalf("expected valid: %s: %v", raw, err)
		}
	}
}

func TestSchemas_RejectMalformedCommands(t *testing.T) {
	invalid := []string{
		`{"type":"SET_SPEED","protocol_version":"1.0","speed":"fast"}`,
		`{"type":"SET_SPEED","protocol_version":"1.0"}`,
		`{"type":"ACTION_COMPLETE","protocol_version":"1.0","kind":"TELEPORTED"}`,
		`{"type":"ADMIN_BUILD","protocol_version":"1.0","category":"castle","position":[0,0]}`,
		`{"type":"ADMIN_BUILD","protocol_version":"1.0","category":"park","position":[1.5,0]}`,
		`{"type":"SYNC_STATE","protocol_version":"1.0","structures":[{"id":"S1"}]}`,
		`{"type":"RESET"}`,
	}
	for _, raw := range invalid {
		if _, err := protocol.Validate([]byte(raw)); err == nil {
			t.Fatalf("expected rejection: %s", raw)
		}
	}
}

func TestSchemas_UnknownType(t *testing.T) {
	_, err := protocol.Validate([]byte(`{"type":"LAUNCH_ROCKET","protocol_version":"1.0"}`))
	if !errors.Is(err, protocol.ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	if _, err := protocol.Validate([]byte(`not json`)); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestSchemas_ValidateOutboundMessages(t *testing.T) {
	started := protocol.BuildStartedMsg{
		Type:            protocol.TypeBuildStarted,
		ProtocolVersion: protocol.Version,
		BuildID:         "B000001",
		Category:        "power",
		ModelKey:        "solarpanel",
		Position:        [2]int{24, 24},
		Footprint:       [2]int{1, 1},
		Reason:          "Critical: power deficit (2)",
		DurationMS:      3000,
	}
	if err := protocol.ValidateValue(started); err != nil {
		t.Fatalf("build started: %v", err)
	}

	md := protocol.Metadata{Name: "Solar Array", Purpose: "Generating electricity for the colony", Capacity: "300 kW output", Category: "power", BuiltAt: "2026-01-01T00:00:00Z"}
	completed := protocol.BuildCompletedMsg{
		Type:            protocol.TypeBuildCompleted,
		ProtocolVersion: protocol.Version,
		BuildID:         "B000001",
		ID:              "0b8c3c1e-0d6e-5b8a-9d0e-1f7f1d2c3b4a",
		Category:        "power",
		ModelKey:        "solarpanel",
		Position:        [2]int{24, 24},
		Footprint:       [2]int{1, 1},
		Metadata:        md,
	}
	if err := protocol.ValidateValue(completed); err != nil {
		t.Fatalf("build completed: %v", err)
	}

	thought := protocol.NarrativeLoggedMsg{
		Type:               protocol.TypeNarrativeLogged,
		ProtocolVersion:    protocol.Version,
		Thought:            "More panels, more light.",
		Mood:               "content",
		DayContext:         protocol.DayContext{Day: 3, TimeOfDay: 23.9},
		RecentBuildSummary: []string{"solarpanel"},
		Source:             "fallback",
	}
	if err := protocol.ValidateValue(thought); err != nil {
		t.Fatalf("narrative: %v", err)
	}

	state := protocol.WorldStateMsg{
		Type:            protocol.TypeWorldState,
		ProtocolVersion: protocol.Version,
		Structures: []protocol.Structure{{
			ID: "S1", Category: "power", ModelKey: "solarpanel", Position: [2]int{8, 0}, Footprint: [2]int{1, 1}, Metadata: md,
		}},
		Day:                 1,
		TimeOfDay:           12,
		TotalStructureCount: 1,
	}
	if err := protocol.ValidateValue(state); err != nil {
		t.Fatalf("world state: %v", err)
	}
}
