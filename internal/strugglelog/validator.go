// Package strugglelog validates the self-reflection a learner must submit
// before hints unlock.
package strugglelog

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/abhisek/drillgate/internal/gating"
)

var validate = validator.New()

// Submission is what the learner typed.
type Submission struct {
	AttemptedActions []string `json:"attempted_actions"`
	StuckPoint       string   `json:"stuck_point"`
	Hypothesis       string   `json:"hypothesis"`
}

// Entry is an accepted submission. It is never modified after acceptance.
type Entry struct {
	AttemptedActions []string  `json:"attempted_actions"`
	StuckPoint       string    `json:"stuck_point"`
	Hypothesis       string    `json:"hypothesis"`
	SubmittedAt      time.Time `json:"submitted_at"`
}

// Result is the outcome of validating a submission. Errors lists every
// violated rule, not just the first.
type Result struct {
	AttemptsOK   bool
	StuckPointOK bool
	HypothesisOK bool
	Errors       []string
}

// Valid reports whether every field passed.
func (r Result) Valid() bool {
	return r.AttemptsOK && r.StuckPointOK && r.HypothesisOK
}

// Err returns nil for a valid result, otherwise a ValidationFailed error
// carrying all messages.
func (r Result) Err() error {
	if r.Valid() {
		return nil
	}
	return &gating.Error{
		Kind:    gating.KindValidationFailed,
		Message: "struggle log rejected",
		Details: append([]string(nil), r.Errors...),
	}
}

// Validator checks submissions against a threshold set.
type Validator struct {
	thresholds Thresholds
}

// NewValidator creates a validator for t.
func NewValidator(t Thresholds) *Validator {
	return &Validator{thresholds: t}
}

// Thresholds returns the configured thresholds.
func (v *Validator) Thresholds() Thresholds { return v.thresholds }

// Validate checks s. It has no side effects.
func (v *Validator) Validate(s Submission) Result {
	th := v.thresholds
	res := Result{AttemptsOK: true, StuckPointOK: true, HypothesisOK: true}

	attempts := nonBlank(s.AttemptedActions)
	if !meetsMin(attempts, th.MinAttempts) {
		res.AttemptsOK = false
		res.Errors = append(res.Errors, fmt.Sprintf(
			"List at least %d things you tried (minimum %d, got %d)", th.MinAttempts, th.MinAttempts, len(attempts)))
	}
	if th.MinAttemptLength > 0 {
		for i, a := range attempts {
			if !meetsMin(a, th.MinAttemptLength) {
				res.AttemptsOK = false
				res.Errors = append(res.Errors, fmt.Sprintf(
					"Attempted action %d must be at least %d characters (got %d)", i+1, th.MinAttemptLength, utf8.RuneCountInString(a)))
			}
		}
	}

	stuck := strings.TrimSpace(s.StuckPoint)
	if !meetsMin(stuck, th.MinStuckPoint) {
		res.StuckPointOK = false
		res.Errors = append(res.Errors, fmt.Sprintf(
			"Describe where you're stuck (minimum %d characters, got %d)", th.MinStuckPoint, utf8.RuneCountInString(stuck)))
	}

	hyp := strings.TrimSpace(s.Hypothesis)
	if !meetsMin(hyp, th.MinHypothesis) {
		res.HypothesisOK = false
		res.Errors = append(res.Errors, fmt.Sprintf(
			"Provide your hypothesis about the problem (minimum %d characters, got %d)", th.MinHypothesis, utf8.RuneCountInString(hyp)))
	}

	return res
}

// Normalize returns the stored form of s: fields trimmed, blank attempts
// dropped.
func Normalize(s Submission) Submission {
	return Submission{
		AttemptedActions: nonBlank(s.AttemptedActions),
		StuckPoint:       strings.TrimSpace(s.StuckPoint),
		Hypothesis:       strings.TrimSpace(s.Hypothesis),
	}
}

// meetsMin applies a validator "min" rule. For strings the length is
// counted in runes, for slices in elements.
func meetsMin(field any, min int) bool {
	if min <= 0 {
		return true
	}
	return validate.Var(field, fmt.Sprintf("min=%d", min)) == nil
}

func nonBlank(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if t := strings.TrimSpace(it); t != "" {
			out = append(out, t)
		}
	}
	return out
}
