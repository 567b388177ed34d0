// Package policy picks the next category to build.
package policy

import (
	"fmt"

	"citybuilder.ai/internal/sim/catalogs"
	"citybuilder.ai/internal/sim/tuning"
	"citybuilder.ai/internal/sim/world"
)

// Decision sources.
const (
	SourceCritical = "critical"
	SourceRatio    = "ratio"
	SourceMix      = "mix"
	SourceAdvisory = "advisory"
	SourceDefault  = "default"
)

type Decision struct {
	Category catalogs.Category `json:"category"`
	Reason   string            `json:"reason"`
	Source   string            `json:"source,omitempty"`
}

// Inputs is everything the rules look at.
type Inputs struct {
	Counts   map[catalogs.Category]int
	NetPower int
}

func (in Inputs) realCount() int {
	n := 0
	for c, v := range in.Counts {
		if c.Real() {
			n += v
		}
	}
	return n
}

func InputsFrom(w *world.WorldState) Inputs {
	in := Inputs{Counts: make(map[catalogs.Category]int, len(catalogs.All)), NetPower: w.Ledger().NetPower()}
	for _, c := range catalogs.All {
		in.Counts[c] = w.Count(c)
	}
	return in
}

// BuildDecisionEngine applies the rules in strict order; the first match wins.
type BuildDecisionEngine struct {
	critical int
	ratios   [3]struct {
		cat catalogs.Category
		n   int
	}
	mix [4]struct {
		cat   catalogs.Category
		share float64
	}
}

func New(t tuning.Tuning) *BuildDecisionEngine {
	e := &BuildDecisionEngine{critical: t.Critical.Power}
	e.ratios[0].cat, e.ratios[0].n = catalogs.Power, t.Ratios.Power
	e.ratios[1].cat, e.ratios[1].n = catalogs.Water, t.Ratios.Water
	e.ratios[2].cat, e.ratios[2].n = catalogs.Food, t.Ratios.Food
	e.mix[0].cat, e.mix[0].share = catalogs.Residential, t.Mix.Residential
	e.mix[1].cat, e.mix[1].share = catalogs.Commercial, t.Mix.Commercial
	e.mix[2].cat, e.mix[2].share = catalogs.Industrial, t.Mix.Industrial
	e.mix[3].cat, e.mix[3].share = catalogs.Park, t.Mix.Park
	return e
}

// Decide returns the next category. hint is only consulted when no rule fires.
func (e *BuildDecisionEngine) Decide(in Inputs, hint *Decision) Decision {
	if in.NetPower < e.critical {
		return Decision{
			Category: catalogs.Power,
			Reason:   fmt.Sprintf("Critical: power deficit (net %d < %d), need solar panels", in.NetPower, e.critical),
			Source:   SourceCritical,
		}
	}

	realCount := in.realCount()
	for _, r := range e.ratios {
		if r.n <= 0 {
			continue
		}
		need := realCount/r.n + 1
		if have := in.Counts[r.cat]; have < need {
			return Decision{
				Category: r.cat,
				Reason:   fmt.Sprintf("Infrastructure: %s %d of %d needed for %d structures", r.cat, have, need, realCount),
				Source:   SourceRatio,
			}
		}
	}

	denom := realCount
	if denom == 0 {
		denom = 1
	}
	for _, m := range e.mix {
		if share := float64(in.Counts[m.cat]) / float64(denom); share < m.share {
			return Decision{
				Category: m.cat,
				Reason:   fmt.Sprintf("Zoning: %s at %.0f%%, target %.0f%%", m.cat, share*100, m.share*100),
				Source:   SourceMix,
			}
		}
	}

	if hint != nil && hint.Category.Valid() && hint.Category != catalogs.Road {
		h := *hint
		h.Source = SourceAdvisory
		if h.Reason == "" {
			h.Reason = "Advisor suggestion"
		}
		return h
	}
	return Decision{Category: catalogs.Residential, Reason: "Default expansion", Source: SourceDefault}
}

func (e *BuildDecisionEngine) DecideFor(w *world.WorldState, hint *Decision) Decision {
	return e.Decide(InputsFrom(w), hint)
}
