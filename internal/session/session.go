// Package session composes the gates for one learner: a session carries
// the learner's phase and configuration, and each started step gets fresh
// per-step state built from it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/abhisek/drillgate/internal/audit"
	"github.com/abhisek/drillgate/internal/budget"
	"github.com/abhisek/drillgate/internal/clock"
	"github.com/abhisek/drillgate/internal/content"
	"github.com/abhisek/drillgate/internal/safety"
	"github.com/abhisek/drillgate/internal/strugglelog"
)

// ErrNoActiveStep is returned by step operations when no step is started.
var ErrNoActiveStep = errors.New("no active step")

// Options configures a Session. LearnerID and Phase are required.
type Options struct {
	LearnerID string
	Phase     budget.Phase

	// Policy defaults to budget.DefaultPolicy.
	Policy budget.Policy

	// Thresholds default to strugglelog.StandardThresholds.
	Thresholds *strugglelog.Thresholds

	Lockout         time.Duration
	HintCooldown    time.Duration
	ValidationPause time.Duration

	// Catalog classifies destructive commands. Defaults to the built-in one.
	Catalog *safety.Catalog

	Repos   Repos
	Emitter audit.Emitter
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Session is the explicit per-learner context. It holds at most one
// active step.
type Session struct {
	opts      Options
	policy    budget.Policy
	tier      budget.Tier
	validator *strugglelog.Validator
	emitter   audit.Emitter
	clock     clock.Clock
	logger    *slog.Logger

	mu      sync.Mutex
	active  *Step
	ledgers map[string]*budget.Ledger
}

// New validates opts and creates a session.
func New(opts Options) (*Session, error) {
	if opts.LearnerID == "" {
		return nil, fmt.Errorf("learner id is required")
	}
	if opts.Phase < 1 {
		return nil, fmt.Errorf("phase must be at least 1, got %d", opts.Phase)
	}
	policy := opts.Policy
	if len(policy.Tiers) == 0 {
		policy = budget.DefaultPolicy()
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("budget policy: %w", err)
	}
	thresholds := strugglelog.StandardThresholds
	if opts.Thresholds != nil {
		thresholds = *opts.Thresholds
	}
	if err := thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("struggle thresholds: %w", err)
	}
	if opts.Catalog == nil {
		opts.Catalog = safety.DefaultCatalog()
	}

	s := &Session{
		opts:      opts,
		policy:    policy,
		tier:      policy.TierFor(opts.Phase),
		validator: strugglelog.NewValidator(thresholds),
		emitter:   audit.OrNop(opts.Emitter),
		clock:     clock.OrReal(opts.Clock),
		logger:    opts.Logger,
		ledgers:   make(map[string]*budget.Ledger),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// LearnerID returns the session's learner.
func (s *Session) LearnerID() string { return s.opts.LearnerID }

// Phase returns the session's curriculum phase.
func (s *Session) Phase() budget.Phase { return s.opts.Phase }

// Tier returns the budget tier for the session's phase.
func (s *Session) Tier() budget.Tier { return s.tier }

// Catalog returns the destructive command catalog in use.
func (s *Session) Catalog() *safety.Catalog { return s.opts.Catalog }

// Active returns the active step, or nil.
func (s *Session) Active() *Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// StartStep makes c the active step, restoring any persisted state for
// it. Starting the already active step returns it unchanged; starting a
// different step abandons the current one first.
func (s *Session) StartStep(ctx context.Context, c *content.Step) (*Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		if s.active.Content.ID == c.ID {
			return s.active, nil
		}
		if err := s.abandonLocked(ctx); err != nil {
			return nil, err
		}
	}

	st, err := s.openStep(ctx, c)
	if err != nil {
		return nil, err
	}
	s.active = st
	return st, nil
}

// AbandonStep cancels in-flight work of the active step and drops its
// persisted per-step state. Budget usage is kept.
func (s *Session) AbandonStep(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ErrNoActiveStep
	}
	return s.abandonLocked(ctx)
}

func (s *Session) abandonLocked(ctx context.Context) error {
	st := s.active
	st.cancel()
	if err := s.clear(ctx, st.Scope); err != nil {
		return err
	}
	s.emitter.Emit(ctx, audit.New(audit.TypeStepAbandoned, s.clock.Now(), st.Scope, nil))
	s.active = nil
	return nil
}

// ResetStep spends one reset from the active step's budget and restarts
// it with fresh state. It fails with BudgetExhausted when no reset
// remains, leaving the step as it was.
func (s *Session) ResetStep(ctx context.Context) (*Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil, ErrNoActiveStep
	}

	old := s.active
	b, err := old.Ledger.Consume(ctx, budget.ResourceReset)
	if err != nil {
		return nil, err
	}

	old.cancel()
	if err := s.clear(ctx, old.Scope); err != nil {
		return nil, err
	}
	s.emitter.Emit(ctx, audit.New(audit.TypeStepReset, s.clock.Now(), old.Scope, map[string]any{
		"resets_remaining": b.ResetsRemaining().String(),
	}))

	st, err := s.openStep(ctx, old.Content)
	if err != nil {
		s.active = nil
		return nil, err
	}
	s.active = st
	return st, nil
}

func (s *Session) clear(ctx context.Context, scope audit.Scope) error {
	if s.opts.Repos.Clearer == nil {
		return nil
	}
	if err := s.opts.Repos.Clearer.ClearStep(ctx, scope); err != nil {
		return fmt.Errorf("clear step state: %w", err)
	}
	return nil
}
