package session

import (
	"context"
	"time"

	"github.com/abhisek/drillgate/internal/audit"
	"github.com/abhisek/drillgate/internal/budget"
	"github.com/abhisek/drillgate/internal/hints"
	"github.com/abhisek/drillgate/internal/safety"
	"github.com/abhisek/drillgate/internal/stepcheck"
	"github.com/abhisek/drillgate/internal/store"
	"github.com/abhisek/drillgate/internal/struggle"
)

// StruggleRepo saves and restores struggle sessions.
type StruggleRepo interface {
	struggle.Repo
	LoadStruggle(ctx context.Context, scope audit.Scope) (struggle.SessionState, bool, error)
}

// HintRepo saves and restores disclosed hint levels and when the last
// one was disclosed.
type HintRepo interface {
	hints.Repo
	RequestedHints(ctx context.Context, scope audit.Scope) ([]int, error)
	LastHintAt(ctx context.Context, scope audit.Scope) (at time.Time, ok bool, err error)
}

// ChecklistRepo saves and restores the open safety checklist.
type ChecklistRepo interface {
	safety.Repo
	LoadChecklist(ctx context.Context, scope audit.Scope) (command string, state map[string]bool, ok bool, err error)
}

// ProgressRepo saves and restores validation attempts.
type ProgressRepo interface {
	stepcheck.Repo
	LoadProgress(ctx context.Context, scope audit.Scope) (attempt int, passed bool, err error)
}

// StepClearer drops all per-step state for a scope.
type StepClearer interface {
	ClearStep(ctx context.Context, scope audit.Scope) error
}

// Repos are the persistence collaborators of a session. Nil fields keep
// that piece of state in memory only.
type Repos struct {
	Usage      budget.UsageRepo
	Struggles  StruggleRepo
	Hints      HintRepo
	Checklists ChecklistRepo
	Progress   ProgressRepo
	Clearer    StepClearer
}

// ReposFromStore wires every repository to s.
func ReposFromStore(s *store.Store) Repos {
	return Repos{
		Usage:      s.Budgets(),
		Struggles:  s.Struggles(),
		Hints:      s.Hints(),
		Checklists: s.Checklists(),
		Progress:   s.Progress(),
		Clearer:    s,
	}
}
