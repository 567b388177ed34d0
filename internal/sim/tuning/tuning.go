package tuning

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`
	Seed            int64  `yaml:"seed"`

	Critical Resources `yaml:"critical"`
	// Ratios are "one infrastructure structure per N real structures".
	Ratios Resources `yaml:"ratios"`
	Mix    Mix       `yaml:"mix"`

	Timing    Timing    `yaml:"timing"`
	Placement Placement `yaml:"placement"`
	Scheduler Scheduler `yaml:"scheduler"`
	Narrative Narrative `yaml:"narrative"`

	RateLimits RateLimits `yaml:"rate_limits"`
}

type Resources struct {
	Power int `yaml:"power"`
	Water int `yaml:"water"`
	Food  int `yaml:"food"`
}

// Mix is the target share of each zoning category among real structures.
type Mix struct {
	Residential float64 `yaml:"residential"`
	Commercial  float64 `yaml:"commercial"`
	Industrial  float64 `yaml:"industrial"`
	Park        float64 `yaml:"park"`
}

type Timing struct {
	BaseTickMs int     `yaml:"base_tick_ms"`
	BuildMs    int     `yaml:"build_ms"`
	MinSpeed   float64 `yaml:"min_speed"`
	MaxSpeed   float64 `yaml:"max_speed"`
	// Game hours that pass per real second at speed 1.
	HoursPerSecond float64 `yaml:"hours_per_second"`
	ClockEveryMs   int     `yaml:"clock_every_ms"`
}

type Placement struct {
	Strategy        string `yaml:"strategy"` // "ring" | "neighborhood"
	GridStep        int    `yaml:"grid_step"`
	BlockSize       int    `yaml:"block_size"`
	ExclusionRadius int    `yaml:"exclusion_radius"`
	Attempts        int    `yaml:"attempts"`

	NeighborhoodRadius   int `yaml:"neighborhood_radius"`
	NeighborhoodCapacity int `yaml:"neighborhood_capacity"`
	NeighborhoodSpacing  int `yaml:"neighborhood_spacing"`
	MinDistance          int `yaml:"min_distance"`
	BatchSize            int `yaml:"batch_size"`
}

type Scheduler struct {
	RefillCap       int `yaml:"refill_cap"`
	EmergencyRadius int `yaml:"emergency_radius"`
	RecoveryRadius  int `yaml:"recovery_radius"`
}

type Narrative struct {
	TimeoutMs   int `yaml:"timeout_ms"`
	EveryBuilds int `yaml:"every_builds"`
	RecentLimit int `yaml:"recent_limit"`
}

type RateLimits struct {
	CommandsPerSecond float64 `yaml:"commands_per_second"`
	CommandBurst      int     `yaml:"command_burst"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		Seed:            1337,
		Critical:        Resources{Power: 5},
		Ratios:          Resources{Power: 8, Water: 10, Food: 12},
		Mix:             Mix{Residential: 0.60, Commercial: 0.20, Industrial: 0.15, Park: 0.05},
		Timing: Timing{
			BaseTickMs:     5000,
			BuildMs:        3000,
			MinSpeed:       0.1,
			MaxSpeed:       10,
			HoursPerSecond: 24.0 / 600.0,
			ClockEveryMs:   1000,
		},
		Placement: Placement{
			Strategy:             "ring",
			GridStep:             4,
			BlockSize:            24,
			ExclusionRadius:      6,
			Attempts:             30,
			NeighborhoodRadius:   20,
			NeighborhoodCapacity: 20,
			NeighborhoodSpacing:  48,
			MinDistance:          5,
			BatchSize:            6,
		},
		Scheduler: Scheduler{
			RefillCap:       3,
			EmergencyRadius: 100,
			RecoveryRadius:  400,
		},
		Narrative: Narrative{
			TimeoutMs:   4000,
			EveryBuilds: 5,
			RecentLimit: 8,
		},
		RateLimits: RateLimits{
			CommandsPerSecond: 10,
			CommandBurst:      20,
		},
	}
}

// ApplyDefaults fills zero fields from Defaults(). Critical thresholds are
// left alone since zero is a meaningful value there.
func (t *Tuning) ApplyDefaults() {
	d := Defaults()
	if t.ProtocolVersion == "" {
		t.ProtocolVersion = d.ProtocolVersion
	}
	if t.Seed == 0 {
		t.Seed = d.Seed
	}
	setInt(&t.Ratios.Power, d.Ratios.Power)
	setInt(&t.Ratios.Water, d.Ratios.Water)
	setInt(&t.Ratios.Food, d.Ratios.Food)
	if t.Mix == (Mix{}) {
		t.Mix = d.Mix
	}

	setInt(&t.Timing.BaseTickMs, d.Timing.BaseTickMs)
	setInt(&t.Timing.BuildMs, d.Timing.BuildMs)
	setFloat(&t.Timing.MinSpeed, d.Timing.MinSpeed)
	setFloat(&t.Timing.MaxSpeed, d.Timing.MaxSpeed)
	setFloat(&t.Timing.HoursPerSecond, d.Timing.HoursPerSecond)
	setInt(&t.Timing.ClockEveryMs, d.Timing.ClockEveryMs)

	if t.Placement.Strategy == "" {
		t.Placement.Strategy = d.Placement.Strategy
	}
	setInt(&t.Placement.GridStep, d.Placement.GridStep)
	setInt(&t.Placement.BlockSize, d.Placement.BlockSize)
	setInt(&t.Placement.ExclusionRadius, d.Placement.ExclusionRadius)
	setInt(&t.Placement.Attempts, d.Placement.Attempts)
	setInt(&t.Placement.NeighborhoodRadius, d.Placement.NeighborhoodRadius)
	setInt(&t.Placement.NeighborhoodCapacity, d.Placement.NeighborhoodCapacity)
	setInt(&t.Placement.NeighborhoodSpacing, d.Placement.NeighborhoodSpacing)
	setInt(&t.Placement.MinDistance, d.Placement.MinDistance)
	setInt(&t.Placement.BatchSize, d.Placement.BatchSize)

	setInt(&t.Scheduler.RefillCap, d.Scheduler.RefillCap)
	setInt(&t.Scheduler.EmergencyRadius, d.Scheduler.EmergencyRadius)
	setInt(&t.Scheduler.RecoveryRadius, d.Scheduler.RecoveryRadius)

	setInt(&t.Narrative.TimeoutMs, d.Narrative.TimeoutMs)
	setInt(&t.Narrative.EveryBuilds, d.Narrative.EveryBuilds)
	setInt(&t.Narrative.RecentLimit, d.Narrative.RecentLimit)

	setFloat(&t.RateLimits.CommandsPerSecond, d.RateLimits.CommandsPerSecond)
	setInt(&t.RateLimits.CommandBurst, d.RateLimits.CommandBurst)
}

func (t Tuning) Validate() error {
	if t.Placement.Strategy != "ring" && t.Placement.Strategy != "neighborhood" {
		return fmt.Errorf("placement.strategy: unknown %q", t.Placement.Strategy)
	}
	if t.Timing.MinSpeed <= 0 || t.Timing.MaxSpeed < t.Timing.MinSpeed {
		return fmt.Errorf("timing: bad speed range [%v, %v]", t.Timing.MinSpeed, t.Timing.MaxSpeed)
	}
	if t.Ratios.Power <= 0 || t.Ratios.Water <= 0 || t.Ratios.Food <= 0 {
		return errors.New("ratios: must be positive")
	}
	if t.Placement.GridStep <= 0 || t.Placement.BlockSize < t.Placement.GridStep {
		return fmt.Errorf("placement: grid_step %d block_size %d", t.Placement.GridStep, t.Placement.BlockSize)
	}
	return nil
}

// ClampSpeed bounds a speed multiplier to the configured range.
func (t Tuning) ClampSpeed(v float64) float64 {
	if math.IsNaN(v) || v < t.Timing.MinSpeed {
		return t.Timing.MinSpeed
	}
	if v > t.Timing.MaxSpeed {
		return t.Timing.MaxSpeed
	}
	return v
}

// Load reads tuning.yaml. A missing file yields Defaults().
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return t, nil
		}
		return t, err
	}
	t = Tuning{}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.ApplyDefaults()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func setInt(p *int, v int) {
	if *p == 0 {
		*p = v
	}
}

func setFloat(p *float64, v float64) {
	if *p == 0 {
		*p = v
	}
}
