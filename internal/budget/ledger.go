package budget

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/abhisek/drillgate/internal/audit"
	"github.com/abhisek/drillgate/internal/clock"
	"github.com/abhisek/drillgate/internal/gating"
)

// UsageRepo persists budget usage per (learner, step). Several processes
// may share one repo, so the charge itself must be atomic in the repo.
type UsageRepo interface {
	LoadUsage(ctx context.Context, scope audit.Scope) (Usage, bool, error)

	// ChargeUsage takes one unit of r unless max (when bounded) is already
	// used, and returns the stored usage after the attempt. ok is false
	// when nothing was taken.
	ChargeUsage(ctx context.Context, scope audit.Scope, r Resource, max Limit) (u Usage, ok bool, err error)
}

// LedgerOptions configures a Ledger. All fields are optional.
type LedgerOptions struct {
	Scope   audit.Scope
	Repo    UsageRepo
	Emitter audit.Emitter
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Ledger owns one Budget and is the only place usage is mutated. The
// check and the increment happen under one lock, so two concurrent
// consumers can never both take the last unit.
type Ledger struct {
	mu     sync.Mutex
	budget Budget

	scope   audit.Scope
	repo    UsageRepo
	emitter audit.Emitter
	clock   clock.Clock
	logger  *slog.Logger
}

// NewLedger creates a ledger over b.
func NewLedger(b Budget, opts LedgerOptions) *Ledger {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		budget:  b.WithUsage(b.Usage()),
		scope:   opts.Scope,
		repo:    opts.Repo,
		emitter: audit.OrNop(opts.Emitter),
		clock:   clock.OrReal(opts.Clock),
		logger:  logger,
	}
}

// LoadLedger builds a ledger for phase, restoring usage from opts.Repo
// when one is configured.
func LoadLedger(ctx context.Context, policy Policy, phase Phase, opts LedgerOptions) (*Ledger, error) {
	b := policy.BudgetFor(phase)
	if opts.Repo != nil {
		u, ok, err := opts.Repo.LoadUsage(ctx, opts.Scope)
		if err != nil {
			return nil, fmt.Errorf("load usage: %w", err)
		}
		if ok {
			b = b.WithUsage(u)
		}
	}
	return NewLedger(b, opts), nil
}

// Consume takes one unit of r. It returns the updated budget, or a
// BudgetExhausted error when nothing remains. Unbounded allowances still
// count usage. With a repo the repo's count is authoritative; if the repo
// fails the charge falls back to the in-memory count.
func (l *Ledger) Consume(ctx context.Context, r Resource) (Budget, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rem := l.budget.RemainingOf(r); rem == 0 {
		return l.budget, exhausted(r)
	}

	charged := false
	if l.repo != nil {
		u, ok, err := l.repo.ChargeUsage(ctx, l.scope, r, l.budget.MaxOf(r))
		switch {
		case err != nil:
			l.logger.WarnContext(ctx, "failed to persist budget usage", "error", err, "learner", l.scope.LearnerID, "step", l.scope.StepID)
		case !ok:
			l.budget = l.budget.WithUsage(u)
			return l.budget, exhausted(r)
		default:
			l.budget = l.budget.WithUsage(u)
			charged = true
		}
	}
	if !charged {
		switch r {
		case ResourceReset:
			l.budget.ResetsUsed++
		default:
			l.budget.HintsUsed++
		}
	}

	l.emitter.Emit(ctx, audit.New(audit.TypeBudgetConsumed, l.clock.Now(), l.scope, map[string]any{
		"resource":  string(r),
		"remaining": l.budget.RemainingOf(r).String(),
	}))
	return l.budget, nil
}

func exhausted(r Resource) error {
	return gating.New(gating.KindBudgetExhausted, "no %ss remaining", r)
}

// Remaining returns the remaining allowance of r.
func (l *Ledger) Remaining(r Resource) Limit {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.budget.RemainingOf(r)
}

// Snapshot returns a copy of the current budget.
func (l *Ledger) Snapshot() Budget {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.budget
}
