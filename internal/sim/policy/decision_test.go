package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"citybuilder.ai/internal/sim/catalogs"
	"citybuilder.ai/internal/sim/tuning"
	"citybuilder.ai/internal/sim/world"
)

func counts(kv ...any) map[catalogs.Category]int {
	out := map[catalogs.Category]int{}
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i].(catalogs.Category)] = kv[i+1].(int)
	}
	return out
}

func TestDecide_FreshBaselinePicksResidential(t *testing.T) {
	cfg := world.ConfigFromTuning(tuning.Defaults())
	cfg.Genesis = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := world.New(cfg)
	e := New(tuning.Defaults())

	d := e.DecideFor(w, nil)
	assert.Equal(t, catalogs.Residential, d.Category)
	assert.Equal(t, SourceMix, d.Source)
}

func TestDecide_EmptyWorldIsPowerCritical(t *testing.T) {
	cfg := world.ConfigFromTuning(tuning.Defaults())
	cfg.Baseline = nil
	w := world.New(cfg)
	d := New(tuning.Defaults()).DecideFor(w, nil)
	assert.Equal(t, catalogs.Power, d.Category)
	assert.Equal(t, SourceCritical, d.Source)
}

func TestDecide_CriticalOverride(t *testing.T) {
	e := New(tuning.Defaults())
	park := &Decision{Category: catalogs.Park, Reason: "trees"}
	cases := []struct {
		name string
		in   Inputs
		hint *Decision
	}{
		{
			name: "one power structure net 2, residential under target",
			in:   Inputs{Counts: counts(catalogs.Power, 1, catalogs.Commercial, 5), NetPower: 2},
		},
		{
			name: "ratios and residential satisfied",
			in:   Inputs{Counts: counts(catalogs.Power, 9, catalogs.Water, 9, catalogs.Food, 9, catalogs.Residential, 30), NetPower: 4},
		},
		{
			name: "zoning balanced with park hint",
			in: Inputs{Counts: counts(catalogs.Power, 5, catalogs.Water, 5, catalogs.Food, 5,
				catalogs.Residential, 12, catalogs.Commercial, 4, catalogs.Industrial, 3, catalogs.Park, 1), NetPower: -20},
			hint: park,
		},
		{
			name: "empty counts with hint",
			in:   Inputs{NetPower: 0},
			hint: park,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := e.Decide(tc.in, tc.hint)
			assert.Equal(t, catalogs.Power, d.Category)
			assert.Equal(t, SourceCritical, d.Source)
			assert.Contains(t, d.Reason, "deficit")
		})
	}
}

func TestDecide_RatioOrder(t *testing.T) {
	e := New(tuning.Defaults())
	cases := []struct {
		name string
		in   Inputs
		want catalogs.Category
	}{
		{"power ratio", Inputs{Counts: counts(catalogs.Power, 1, catalogs.Water, 5, catalogs.Food, 5, catalogs.Residential, 8), NetPower: 50}, catalogs.Power},
		{"water ratio", Inputs{Counts: counts(catalogs.Power, 3, catalogs.Water, 1, catalogs.Food, 5, catalogs.Residential, 10), NetPower: 50}, catalogs.Water},
		{"food ratio", Inputs{Counts: counts(catalogs.Power, 3, catalogs.Water, 3, catalogs.Food, 1, catalogs.Residential, 12), NetPower: 50}, catalogs.Food},
		{"roads do not count as real", Inputs{Counts: counts(catalogs.Power, 1, catalogs.Water, 1, catalogs.Food, 1, catalogs.Road, 40), NetPower: 50}, catalogs.Residential},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := e.Decide(tc.in, nil)
			assert.Equal(t, tc.want, d.Category)
		})
	}
}

func TestDecide_ZoningMix(t *testing.T) {
	e := New(tuning.Defaults())
	infra := func(kv ...any) map[catalogs.Category]int {
		c := counts(kv...)
		c[catalogs.Power], c[catalogs.Water], c[catalogs.Food] = 10, 10, 10
		return c
	}
	cases := []struct {
		name string
		in   map[catalogs.Category]int
		want catalogs.Category
	}{
		{"residential first", infra(catalogs.Residential, 5, catalogs.Commercial, 5), catalogs.Residential},
		{"commercial second", infra(catalogs.Residential, 7, catalogs.Commercial, 1, catalogs.Industrial, 2), catalogs.Commercial},
		{"industrial third", infra(catalogs.Residential, 7, catalogs.Commercial, 2, catalogs.Industrial, 1), catalogs.Industrial},
		{"park last", infra(catalogs.Residential, 12, catalogs.Commercial, 4, catalogs.Industrial, 4), catalogs.Park},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := e.Decide(Inputs{Counts: tc.in, NetPower: 100}, nil)
			assert.Equal(t, tc.want, d.Category)
			assert.Equal(t, SourceMix, d.Source)
		})
	}
}

func TestDecide_HintOnlyWhenBalanced(t *testing.T) {
	e := New(tuning.Defaults())
	balanced := counts(catalogs.Power, 5, catalogs.Water, 5, catalogs.Food, 5,
		catalogs.Residential, 12, catalogs.Commercial, 4, catalogs.Industrial, 3, catalogs.Park, 1)

	d := e.Decide(Inputs{Counts: balanced, NetPower: 100}, nil)
	assert.Equal(t, catalogs.Residential, d.Category)
	assert.Equal(t, SourceDefault, d.Source)

	d = e.Decide(Inputs{Counts: balanced, NetPower: 100}, &Decision{Category: catalogs.Eco, Reason: "air"})
	assert.Equal(t, catalogs.Eco, d.Category)
	assert.Equal(t, SourceAdvisory, d.Source)

	d = e.Decide(Inputs{Counts: balanced, NetPower: 100}, &Decision{Category: catalogs.Road})
	assert.Equal(t, SourceDefault, d.Source)

	unbalanced := counts(catalogs.Power, 5, catalogs.Water, 5, catalogs.Food, 5, catalogs.Commercial, 4)
	d = e.Decide(Inputs{Counts: unbalanced, NetPower: 100}, &Decision{Category: catalogs.Eco})
	assert.Equal(t, catalogs.Residential, d.Category)
}
