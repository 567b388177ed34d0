package narrative

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"citybuilder.ai/internal/sim/catalogs"
	"citybuilder.ai/internal/sim/policy"
	"citybuilder.ai/internal/sim/world"
)

type RecentBuild struct {
	Category catalogs.Category
	Name     string
}

// Context is a value copy of what the prompts need, so it can cross goroutines.
type Context struct {
	Recent      []RecentBuild
	Counts      map[catalogs.Category]int
	TotalBuilds int
	Population  int
	Day         int
	TimeOfDay   float64
	Morale      int
	AvatarMood  int
	Resources   world.ResourceTotals
	Fallback    policy.Decision
}

// ContextFrom must run on the goroutine that owns w.
func ContextFrom(w *world.WorldState, recent int, fallback policy.Decision) Context {
	c := Context{
		Counts:      map[catalogs.Category]int{},
		TotalBuilds: w.Total(),
		Population:  w.Ledger().Population(),
		Day:         w.Day(),
		TimeOfDay:   w.TimeOfDay(),
		Morale:      w.Morale(),
		AvatarMood:  w.Avatar().Mood,
		Resources:   w.Ledger().Totals(),
		Fallback:    fallback,
	}
	for _, cat := range catalogs.All {
		c.Counts[cat] = w.Count(cat)
	}
	for _, s := range w.Recent(recent) {
		c.Recent = append(c.Recent, RecentBuild{Category: s.Category, Name: s.Metadata.Name})
	}
	return c
}

// Dominant is the most frequent category among recent builds, roads
// excluded. Ties go to the most recent one.
func (c Context) Dominant() catalogs.Category {
	n := map[catalogs.Category]int{}
	best, bestN := catalogs.Category(255), 0
	for i := len(c.Recent) - 1; i >= 0; i-- {
		cat := c.Recent[i].Category
		if cat == catalogs.Road {
			continue
		}
		n[cat]++
		if n[cat] > bestN {
			best, bestN = cat, n[cat]
		}
	}
	return best
}

// Summary lines for NARRATIVE_LOGGED.
func (c Context) Summary() []string {
	out := make([]string, 0, len(c.Recent))
	for _, r := range c.Recent {
		out = append(out, fmt.Sprintf("%s: %s", r.Category, r.Name))
	}
	return out
}

func countsJSON(c Context) string {
	m := map[string]int{}
	for cat, n := range c.Counts {
		if cat == catalogs.Road {
			continue
		}
		m[cat.String()] = n
	}
	b, _ := json.MarshalIndent(m, "", "  ")
	return string(b)
}

func thoughtPrompt(c Context) string {
	var sb strings.Builder
	sb.WriteString("You are the builder of a space colony, thinking out loud in one short sentence.\n")
	fmt.Fprintf(&sb, "Day %d, %.1f hours. Morale %d/100. Population ~%d. Structures: %d.\n",
		c.Day, c.TimeOfDay, c.Morale, c.Population, c.TotalBuilds)
	fmt.Fprintf(&sb, "Net power %d, water %d, food %d.\n", c.Resources.Power.Net, c.Resources.Water.Net, c.Resources.Food.Net)
	if s := c.Summary(); len(s) > 0 {
		sb.WriteString("Recently built:\n- ")
		sb.WriteString(strings.Join(s, "\n- "))
		sb.WriteString("\n")
	}
	sb.WriteString("Reply with the thought only, no quotes.")
	return sb.String()
}

func advisoryPrompt(c Context) string {
	return fmt.Sprintf(`You are an AI city planner for a space colony. The colony has:
- %d structures
- Population: ~%d
- Net power %d, water %d, food %d

Decide what to build next. Housing comes first, workers need jobs, and
infrastructure (power, water, food) must keep up with growth.

Current building counts:
%s

Respond with JSON only:
{"decision": "residential|commercial|industrial|power|water|food|eco|park", "reason": "brief explanation"}`,
		c.TotalBuilds, c.Population, c.Resources.Power.Net, c.Resources.Water.Net, c.Resources.Food.Net, countsJSON(c))
}

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

func parseAdvice(text string) (policy.Decision, error) {
	m := jsonObject.FindString(text)
	if m == "" {
		return policy.Decision{}, fmt.Errorf("advice: no json object in %q", text)
	}
	var raw struct {
		Decision string `json:"decision"`
		Reason   string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(m), &raw); err != nil {
		return policy.Decision{}, fmt.Errorf("advice: %w", err)
	}
	c, err := catalogs.ParseCategory(strings.ToLower(strings.TrimSpace(raw.Decision)))
	if err != nil {
		return policy.Decision{}, fmt.Errorf("advice: %w", err)
	}
	if c == catalogs.Road {
		return policy.Decision{}, fmt.Errorf("advice: roads are planned, not advised")
	}
	reason := strings.TrimSpace(raw.Reason)
	if reason == "" {
		reason = "planner advice"
	}
	return policy.Decision{Category: c, Reason: "Advisory: " + reason, Source: policy.SourceAdvisory}, nil
}
