// Package audit defines the discrete events emitted on every gate state
// transition. Transport is up to the caller: the store persists them, the
// metrics package counts them, and LogEmitter writes them to slog.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type identifies what happened.
type Type string

const (
	TypeStruggleStarted     Type = "struggle.started"
	TypeStruggleLogAccepted Type = "struggle.log_accepted"
	TypeStruggleLogRejected Type = "struggle.log_rejected"
	TypeGateUnlocked        Type = "gate.unlocked"
	TypeHintRequested       Type = "hint.requested"
	TypeHintDenied          Type = "hint.denied"
	TypeBudgetConsumed      Type = "budget.consumed"
	TypeChecklistToggled    Type = "checklist.item_toggled"
	TypeActionProceeded     Type = "checklist.proceeded"
	TypeActionCancelled     Type = "checklist.cancelled"
	TypeCriterionChecked    Type = "validation.criterion_checked"
	TypeValidationCompleted Type = "validation.completed"
	TypeStepStarted         Type = "step.started"
	TypeStepAbandoned       Type = "step.abandoned"
	TypeStepReset           Type = "step.reset"
)

// Scope is the (learner, step) pair every event belongs to.
type Scope struct {
	LearnerID string
	StepID    string
}

// Event is a single audit record.
type Event struct {
	ID        string
	Type      Type
	Timestamp time.Time
	Scope     Scope
	Payload   map[string]any
}

// New creates an event with a fresh ID.
func New(typ Type, at time.Time, scope Scope, payload map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: at.UTC(),
		Scope:     scope,
		Payload:   payload,
	}
}

// Emitter receives audit events. Implementations must not block gating
// decisions for long and must not fail them: errors are the emitter's
// problem to log.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, ev Event)

func (f EmitterFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }

type nopEmitter struct{}

func (nopEmitter) Emit(context.Context, Event) {}

// Nop discards events.
var Nop Emitter = nopEmitter{}

// OrNop returns e, or Nop when e is nil.
func OrNop(e Emitter) Emitter {
	if e == nil {
		return Nop
	}
	return e
}

// Multi fans an event out to several emitters in order.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, ev Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(ctx, ev)
		}
	}
}
