// Package gating defines the error taxonomy shared by every gate.
//
// Gating failures are ordinary values: callers inspect them with errors.Is
// against the Err* sentinels or with KindOf, and show UserMessage to the
// learner. None of them is fatal; at worst a step stays locked.
package gating

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies why a gated action was refused.
type Kind string

const (
	KindValidationFailed       Kind = "validation_failed"
	KindGateLocked             Kind = "gate_locked"
	KindOutOfSequence          Kind = "out_of_sequence"
	KindAlreadyRequested       Kind = "already_requested"
	KindBudgetExhausted        Kind = "budget_exhausted"
	KindCriterionCheckFailed   Kind = "criterion_check_failed"
	KindExternalPredicateError Kind = "external_predicate_error"
)

// Recoverable reports whether the learner can resolve the condition
// without more budget being granted from outside.
func (k Kind) Recoverable() bool {
	return k != KindBudgetExhausted
}

// Error is a structured gating refusal.
type Error struct {
	Kind    Kind
	Message string

	// Details lists every violated rule, e.g. all struggle-log problems.
	Details []string

	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if len(e.Details) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, strings.Join(e.Details, "; "))
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so errors.Is(err, ErrGateLocked)
// holds regardless of message or details.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidationFailed       = &Error{Kind: KindValidationFailed}
	ErrGateLocked             = &Error{Kind: KindGateLocked}
	ErrOutOfSequence          = &Error{Kind: KindOutOfSequence}
	ErrAlreadyRequested       = &Error{Kind: KindAlreadyRequested}
	ErrBudgetExhausted        = &Error{Kind: KindBudgetExhausted}
	ErrCriterionCheckFailed   = &Error{Kind: KindCriterionCheckFailed}
	ErrExternalPredicateError = &Error{Kind: KindExternalPredicateError}
)

// New builds an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err, or "" if err is not a gating error.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}

// UserMessage returns the learner-facing message for err. Each kind maps
// to a distinct message; the specific reason is appended when present.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var ge *Error
	if !errors.As(err, &ge) {
		return "Something went wrong. Please try again."
	}

	var base string
	switch ge.Kind {
	case KindValidationFailed:
		base = "Your submission needs more detail before it can be accepted."
	case KindGateLocked:
		base = "Keep working on it. This is still locked."
	case KindOutOfSequence:
		base = "Hints unlock in order. Request the earlier hints first."
	case KindAlreadyRequested:
		base = "You already revealed this hint."
	case KindBudgetExhausted:
		base = "No budget remaining for this step."
	case KindCriterionCheckFailed:
		base = "A validation check did not pass. Fix it and re-run the checks."
	case KindExternalPredicateError:
		base = "A validation check could not complete. Re-run the checks."
	default:
		base = string(ge.Kind)
	}

	if len(ge.Details) > 0 {
		return base + "\n- " + strings.Join(ge.Details, "\n- ")
	}
	if ge.Message != "" {
		return base + " (" + ge.Message + ")"
	}
	return base
}
