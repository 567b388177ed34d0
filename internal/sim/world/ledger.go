package world

import (
	"citybuilder.ai/internal/sim/catalogs"
	"citybuilder.ai/internal/sim/tuning"
)

type Resource int

const (
	Power Resource = iota
	Water
	Food
)

var resourceNames = [...]string{Power: "power", Water: "water", Food: "food"}

func (r Resource) String() string { return resourceNames[r] }

type Total struct {
	Produced int `json:"produced"`
	Consumed int `json:"consumed"`
	Net      int `json:"net"`
}

type ResourceTotals struct {
	Power      Total `json:"power"`
	Water      Total `json:"water"`
	Food       Total `json:"food"`
	Population int   `json:"population"`
}

// ResourceLedger keeps running production and consumption totals.
// Applying structures one by one and RebuildFrom over the same list agree.
type ResourceLedger struct {
	produced   [3]int
	consumed   [3]int
	population int
	critical   [3]int
}

func NewResourceLedger(critical tuning.Resources) *ResourceLedger {
	return &ResourceLedger{critical: [3]int{critical.Power, critical.Water, critical.Food}}
}

func (l *ResourceLedger) Apply(s Structure) {
	y := catalogs.YieldOf(s.Category, s.ModelKey)
	for i := 0; i < 3; i++ {
		l.produced[i] += y.Produces[i]
		l.consumed[i] += y.Consumes[i]
	}
	l.population += y.Population
}

func (l *ResourceLedger) Clear() {
	l.produced = [3]int{}
	l.consumed = [3]int{}
	l.population = 0
}

func (l *ResourceLedger) RebuildFrom(structures []Structure) {
	l.Clear()
	for _, s := range structures {
		l.Apply(s)
	}
}

func (l *ResourceLedger) Produced(r Resource) int { return l.produced[r] }
func (l *ResourceLedger) Consumed(r Resource) int { return l.consumed[r] }
func (l *ResourceLedger) Net(r Resource) int      { return l.produced[r] - l.consumed[r] }

func (l *ResourceLedger) NetPower() int { return l.Net(Power) }
func (l *ResourceLedger) NetWater() int { return l.Net(Water) }
func (l *ResourceLedger) NetFood() int  { return l.Net(Food) }

func (l *ResourceLedger) Population() int { return l.population }

// Threshold is the configured critical level for r.
func (l *ResourceLedger) Threshold(r Resource) int { return l.critical[r] }

// IsCritical reports net below the configured threshold.
func (l *ResourceLedger) IsCritical(r Resource) bool { return l.Net(r) < l.critical[r] }

// Balanced reports every net at or above zero.
func (l *ResourceLedger) Balanced() bool {
	return l.NetPower() >= 0 && l.NetWater() >= 0 && l.NetFood() >= 0
}

func (l *ResourceLedger) Totals() ResourceTotals {
	t := func(r Resource) Total {
		return Total{Produced: l.produced[r], Consumed: l.consumed[r], Net: l.Net(r)}
	}
	return ResourceTotals{Power: t(Power), Water: t(Water), Food: t(Food), Population: l.population}
}
