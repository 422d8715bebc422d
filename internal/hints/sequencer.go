// Package hints discloses a step's hints strictly in order, charging each
// disclosure against the learner's hint budget.
package hints

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/abhisek/drillgate/internal/audit"
	"github.com/abhisek/drillgate/internal/budget"
	"github.com/abhisek/drillgate/internal/clock"
	"github.com/abhisek/drillgate/internal/gating"
)

// Gate reports whether hints are unlocked. *struggle.Gate satisfies it.
type Gate interface {
	Check(ctx context.Context) error
}

// Repo persists the set of disclosed hint levels per (learner, step),
// with the time each was disclosed.
type Repo interface {
	AddRequestedHint(ctx context.Context, scope audit.Scope, level int, at time.Time) error
}

// Options configures a Sequencer.
type Options struct {
	// Gate must be unlocked before any hint is disclosed. Nil means no gate.
	Gate Gate

	// Ledger is charged one hint per disclosure. Nil means unbounded.
	Ledger *budget.Ledger

	// Requested restores levels disclosed earlier in the same step.
	Requested []int

	// Cooldown is the minimum time between two disclosures. Zero disables it.
	Cooldown time.Duration

	// LastDisclosed restores when the previous hint was disclosed, so a
	// cooldown carries over into a new sequencer for the same step.
	LastDisclosed time.Time

	Emitter audit.Emitter
	Scope   audit.Scope
	Repo    Repo
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Sequencer owns the hint list and the disclosed set for one step.
// Requests are serialized: the whole check-then-charge sequence runs
// under one lock.
type Sequencer struct {
	mu        sync.Mutex
	hints     []string
	requested map[int]bool

	gate    Gate
	ledger  *budget.Ledger
	limiter *rate.Limiter
	emitter audit.Emitter
	scope   audit.Scope
	repo    Repo
	clock   clock.Clock
	logger  *slog.Logger
}

// New creates a sequencer over hints, where hints[0] is level 1.
func New(hints []string, opts Options) *Sequencer {
	s := &Sequencer{
		hints:     append([]string(nil), hints...),
		requested: make(map[int]bool, len(hints)),
		gate:      opts.Gate,
		ledger:    opts.Ledger,
		emitter:   audit.OrNop(opts.Emitter),
		scope:     opts.Scope,
		repo:      opts.Repo,
		clock:     clock.OrReal(opts.Clock),
		logger:    opts.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	for _, lvl := range opts.Requested {
		if lvl >= 1 && lvl <= len(hints) {
			s.requested[lvl] = true
		}
	}
	if opts.Cooldown > 0 {
		s.limiter = rate.NewLimiter(rate.Every(opts.Cooldown), 1)
		if !opts.LastDisclosed.IsZero() {
			s.limiter.AllowN(opts.LastDisclosed, 1)
		}
	}
	return s
}

// Len returns the number of hints for the step.
func (s *Sequencer) Len() int { return len(s.hints) }

// RequestHint discloses the hint at level (1-based). It fails with
// GateLocked, OutOfSequence, AlreadyRequested or BudgetExhausted; the
// caller must surface each to the learner.
func (s *Sequencer) RequestHint(ctx context.Context, level int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	text, err := s.requestLocked(ctx, level)
	if err != nil {
		s.emitter.Emit(ctx, audit.New(audit.TypeHintDenied, s.clock.Now(), s.scope, map[string]any{
			"level":  level,
			"reason": string(gating.KindOf(err)),
		}))
		return "", err
	}
	return text, nil
}

func (s *Sequencer) requestLocked(ctx context.Context, level int) (string, error) {
	if s.gate != nil {
		if err := s.gate.Check(ctx); err != nil {
			return "", err
		}
	}

	if level < 1 {
		return "", gating.New(gating.KindOutOfSequence, "hint levels start at 1, got %d", level)
	}
	for prev := 1; prev < level; prev++ {
		if !s.requested[prev] {
			return "", gating.New(gating.KindOutOfSequence, "request hint %d before hint %d", prev, level)
		}
	}
	if s.requested[level] {
		return "", gating.New(gating.KindAlreadyRequested, "hint %d already revealed", level)
	}
	if s.ledger != nil && s.ledger.Remaining(budget.ResourceHint) == 0 {
		return "", gating.New(gating.KindBudgetExhausted, "no hints remaining for this step")
	}
	if level > len(s.hints) {
		return "", gating.New(gating.KindOutOfSequence, "no hint at level %d (step has %d)", level, len(s.hints))
	}

	now := s.clock.Now()
	if s.limiter != nil {
		if tokens := s.limiter.TokensAt(now); tokens < 1 {
			wait := time.Duration((1 - tokens) / float64(s.limiter.Limit()) * float64(time.Second))
			return "", gating.New(gating.KindGateLocked, "next hint available in %s", wait.Round(time.Second))
		}
	}

	if s.ledger != nil {
		if _, err := s.ledger.Consume(ctx, budget.ResourceHint); err != nil {
			return "", err
		}
	}
	if s.limiter != nil {
		s.limiter.AllowN(now, 1)
	}

	s.requested[level] = true
	if s.repo != nil {
		if err := s.repo.AddRequestedHint(ctx, s.scope, level, now); err != nil {
			s.logger.WarnContext(ctx, "failed to persist requested hint", "error", err, "level", level)
		}
	}

	payload := map[string]any{"level": level}
	if s.ledger != nil {
		payload["hints_remaining"] = s.ledger.Remaining(budget.ResourceHint).String()
	}
	s.emitter.Emit(ctx, audit.New(audit.TypeHintRequested, now, s.scope, payload))
	return s.hints[level-1], nil
}

// NextLevel returns the next level that can be requested in sequence,
// or 0 when every hint has been disclosed.
func (s *Sequencer) NextLevel() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for lvl := 1; lvl <= len(s.hints); lvl++ {
		if !s.requested[lvl] {
			return lvl
		}
	}
	return 0
}

// Requested returns the disclosed levels in ascending order.
func (s *Sequencer) Requested() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.requested))
	for lvl := range s.requested {
		out = append(out, lvl)
	}
	sort.Ints(out)
	return out
}

// Revealed returns the disclosed hint texts in level order.
func (s *Sequencer) Revealed() []string {
	levels := s.Requested()
	out := make([]string, len(levels))
	for i, lvl := range levels {
		out[i] = s.hints[lvl-1]
	}
	return out
}

// IsDenial reports whether err is a gating refusal rather than an
// infrastructure failure.
func IsDenial(err error) bool {
	var ge *gating.Error
	return errors.As(err, &ge)
}
