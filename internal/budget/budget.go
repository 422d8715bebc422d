package budget

import "fmt"

// Resource is a countable allowance.
type Resource string

const (
	ResourceHint  Resource = "hint"
	ResourceReset Resource = "reset"
)

// Budget is the allowance and usage for one learner on one step.
type Budget struct {
	HintsMax   Limit
	HintsUsed  int
	ResetsMax  Limit
	ResetsUsed int
}

// Remaining returns max-used clamped at zero, or Unbounded.
func Remaining(max Limit, used int) Limit {
	if !max.Bounded() {
		return Unbounded
	}
	if r := int(max) - used; r > 0 {
		return Limit(r)
	}
	return 0
}

// HintsRemaining returns the hints left.
func (b Budget) HintsRemaining() Limit { return Remaining(b.HintsMax, b.HintsUsed) }

// ResetsRemaining returns the resets left.
func (b Budget) ResetsRemaining() Limit { return Remaining(b.ResetsMax, b.ResetsUsed) }

// RemainingOf returns the remaining allowance of r.
func (b Budget) RemainingOf(r Resource) Limit {
	if r == ResourceReset {
		return b.ResetsRemaining()
	}
	return b.HintsRemaining()
}

// MaxOf returns the allowance of r.
func (b Budget) MaxOf(r Resource) Limit {
	if r == ResourceReset {
		return b.ResetsMax
	}
	return b.HintsMax
}

// Usage is the persisted part of a Budget.
type Usage struct {
	HintsUsed  int
	ResetsUsed int
}

// Usage returns the usage counters.
func (b Budget) Usage() Usage {
	return Usage{HintsUsed: b.HintsUsed, ResetsUsed: b.ResetsUsed}
}

// WithUsage applies stored usage, clamped to the bounded maxima so a
// tightened policy never yields used > max.
func (b Budget) WithUsage(u Usage) Budget {
	b.HintsUsed = clampUsed(u.HintsUsed, b.HintsMax)
	b.ResetsUsed = clampUsed(u.ResetsUsed, b.ResetsMax)
	return b
}

func clampUsed(used int, max Limit) int {
	if used < 0 {
		return 0
	}
	if max.Bounded() && used > int(max) {
		return int(max)
	}
	return used
}

// WarningMessage returns a heads-up when a bounded allowance is down to
// its last unit, or "" otherwise.
func WarningMessage(b Budget) string {
	if r := b.HintsRemaining(); r.Bounded() && r <= 1 {
		return fmt.Sprintf("Last hint available! You have %d hint(s) remaining.", r)
	}
	if r := b.ResetsRemaining(); r.Bounded() && r <= 1 {
		return fmt.Sprintf("Running low on resets! You have %d reset(s) remaining.", r)
	}
	return ""
}
