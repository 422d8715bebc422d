// Package budget maps curriculum phases to resource allowances and guards
// the consumption of those allowances.
package budget

import (
	"fmt"
	"strconv"
)

// Phase is a curriculum week, starting at 1.
type Phase int

// Limit is a maximum allowance. Unbounded means no limit.
type Limit int

// Unbounded is the sentinel for an unlimited allowance.
const Unbounded Limit = -1

// Bounded reports whether the limit is finite.
func (l Limit) Bounded() bool { return l >= 0 }

func (l Limit) String() string {
	if !l.Bounded() {
		return "unlimited"
	}
	return strconv.Itoa(int(l))
}

// Tier is one row of the phase schedule.
type Tier struct {
	Name        string `toml:"name"`
	FirstPhase  Phase  `toml:"first_phase"`
	LastPhase   Phase  `toml:"last_phase"` // 0 means open-ended
	HintsMax    Limit  `toml:"hints_max"`
	ResetsMax   Limit  `toml:"resets_max"`
	Description string `toml:"description"`

	// CopyPasteBlocked disables paste-style shortcuts in the learner's
	// terminal. Enforcement belongs to the presentation layer.
	CopyPasteBlocked bool `toml:"copy_paste_blocked"`
}

// Contains reports whether phase falls inside the tier.
func (t Tier) Contains(phase Phase) bool {
	if phase < t.FirstPhase {
		return false
	}
	return t.LastPhase == 0 || phase <= t.LastPhase
}

// Policy is an ordered tier schedule.
type Policy struct {
	Tiers []Tier
}

// DefaultPolicy returns the crawl/walk/run schedule.
func DefaultPolicy() Policy {
	return Policy{Tiers: []Tier{
		{
			Name:        "crawl",
			FirstPhase:  1,
			LastPhase:   4,
			HintsMax:    Unbounded,
			ResetsMax:   Unbounded,
			Description: "Full support available - focus on learning",
		},
		{
			Name:        "walk",
			FirstPhase:  5,
			LastPhase:   8,
			HintsMax:    3,
			ResetsMax:   5,
			Description: "Reduced support - build independence",
		},
		{
			Name:             "run",
			FirstPhase:       9,
			HintsMax:         1,
			ResetsMax:        2,
			CopyPasteBlocked: true,
			Description:      "Minimal support - demonstrate mastery",
		},
	}}
}

// TierFor returns the tier covering phase. Phases below the first tier
// resolve to the first tier; phases past a closed last tier resolve to
// the last one.
func (p Policy) TierFor(phase Phase) Tier {
	if len(p.Tiers) == 0 {
		return Tier{Name: "unrestricted", FirstPhase: 1, HintsMax: Unbounded, ResetsMax: Unbounded}
	}
	if phase < p.Tiers[0].FirstPhase {
		return p.Tiers[0]
	}
	for _, t := range p.Tiers {
		if t.Contains(phase) {
			return t
		}
	}
	return p.Tiers[len(p.Tiers)-1]
}

// BudgetFor returns a fresh, unused budget for phase.
func (p Policy) BudgetFor(phase Phase) Budget {
	t := p.TierFor(phase)
	return Budget{HintsMax: t.HintsMax, ResetsMax: t.ResetsMax}
}

// Validate checks that tiers are contiguous and that each later tier is
// at least as restrictive as the one before it.
func (p Policy) Validate() error {
	if len(p.Tiers) == 0 {
		return fmt.Errorf("policy has no tiers")
	}
	if p.Tiers[0].FirstPhase != 1 {
		return fmt.Errorf("first tier %q must start at phase 1, starts at %d", p.Tiers[0].Name, p.Tiers[0].FirstPhase)
	}
	for i, t := range p.Tiers {
		if t.LastPhase != 0 && t.LastPhase < t.FirstPhase {
			return fmt.Errorf("tier %q ends (%d) before it starts (%d)", t.Name, t.LastPhase, t.FirstPhase)
		}
		if i == 0 {
			continue
		}
		prev := p.Tiers[i-1]
		if prev.LastPhase == 0 {
			return fmt.Errorf("tier %q follows open-ended tier %q", t.Name, prev.Name)
		}
		if t.FirstPhase != prev.LastPhase+1 {
			return fmt.Errorf("tier %q starts at %d, want %d", t.Name, t.FirstPhase, prev.LastPhase+1)
		}
		if looser(t.HintsMax, prev.HintsMax) {
			return fmt.Errorf("tier %q allows more hints (%s) than %q (%s)", t.Name, t.HintsMax, prev.Name, prev.HintsMax)
		}
		if looser(t.ResetsMax, prev.ResetsMax) {
			return fmt.Errorf("tier %q allows more resets (%s) than %q (%s)", t.Name, t.ResetsMax, prev.Name, prev.ResetsMax)
		}
	}
	return nil
}

// looser reports whether a permits more than b.
func looser(a, b Limit) bool {
	if !b.Bounded() {
		return false
	}
	if !a.Bounded() {
		return true
	}
	return a > b
}
