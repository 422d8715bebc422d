package gating

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := New(KindGateLocked, "12m remaining")
	wrapped := fmt.Errorf("request hint: %w", err)

	if !errors.Is(wrapped, ErrGateLocked) {
		t.Error("expected wrapped error to match ErrGateLocked")
	}
	if errors.Is(wrapped, ErrBudgetExhausted) {
		t.Error("gate-locked error must not match ErrBudgetExhausted")
	}
	if got := KindOf(wrapped); got != KindGateLocked {
		t.Errorf("KindOf = %q, want %q", got, KindGateLocked)
	}
}

func TestKindOfNonGatingError(t *testing.T) {
	if got := KindOf(errors.New("disk full")); got != "" {
		t.Errorf("KindOf = %q, want empty", got)
	}
}

func TestErrorStringIncludesDetails(t *testing.T) {
	err := &Error{
		Kind:    KindValidationFailed,
		Message: "struggle log rejected",
		Details: []string{"a", "b"},
	}
	if got := err.Error(); got != "struggle log rejected: a; b" {
		t.Errorf("Error() = %q", got)
	}
}

func TestUserMessageDistinctPerKind(t *testing.T) {
	kinds := []Kind{
		KindValidationFailed, KindGateLocked, KindOutOfSequence, KindAlreadyRequested,
		KindBudgetExhausted, KindCriterionCheckFailed, KindExternalPredicateError,
	}
	seen := make(map[string]Kind)
	for _, k := range kinds {
		msg := UserMessage(&Error{Kind: k})
		if prev, dup := seen[msg]; dup {
			t.Errorf("kinds %q and %q share message %q", prev, k, msg)
		}
		seen[msg] = k
	}
}

func TestUserMessageListsDetails(t *testing.T) {
	msg := UserMessage(&Error{Kind: KindValidationFailed, Details: []string{"first", "second"}})
	if !strings.Contains(msg, "- first") || !strings.Contains(msg, "- second") {
		t.Errorf("UserMessage = %q, want both details listed", msg)
	}
}

func TestRecoverable(t *testing.T) {
	if KindBudgetExhausted.Recoverable() {
		t.Error("budget exhaustion is terminal for the step")
	}
	if !KindOutOfSequence.Recoverable() {
		t.Error("out-of-sequence should be recoverable")
	}
}
