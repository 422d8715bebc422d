// Package struggle implements the timed, documentation-gated lock that
// keeps hints hidden until the learner has both struggled long enough and
// written down what they tried.
package struggle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/abhisek/drillgate/internal/audit"
	"github.com/abhisek/drillgate/internal/clock"
	"github.com/abhisek/drillgate/internal/gating"
	"github.com/abhisek/drillgate/internal/strugglelog"
)

// DefaultLockout is how long a learner must struggle before hints unlock.
const DefaultLockout = 30 * time.Minute

// ErrLogAlreadyAccepted is returned when a second log is submitted for a
// session whose log was already accepted.
var ErrLogAlreadyAccepted = errors.New("struggle log already accepted for this session")

// State is the gate position.
type State int

const (
	Locked State = iota
	Unlocked
)

func (s State) String() string {
	if s == Unlocked {
		return "unlocked"
	}
	return "locked"
}

// SessionState is the persisted form of a struggle session.
type SessionState struct {
	ID        string
	StartedAt time.Time
	Lockout   time.Duration
	Log       *strugglelog.Entry
	Unlocked  bool
}

// Repo persists struggle sessions per (learner, step).
type Repo interface {
	SaveStruggle(ctx context.Context, scope audit.Scope, s SessionState) error
}

// Options configures a Gate. Validator defaults to the standard
// thresholds, Lockout to DefaultLockout.
type Options struct {
	Clock     clock.Clock
	Lockout   time.Duration
	Validator *strugglelog.Validator
	Emitter   audit.Emitter
	Scope     audit.Scope
	Repo      Repo
	Logger    *slog.Logger
}

// Gate is the LOCKED/UNLOCKED state machine for one struggle session.
// The transition to UNLOCKED is evaluated against the clock on every
// query and never reverts.
type Gate struct {
	mu    sync.Mutex
	state SessionState

	clock     clock.Clock
	validator *strugglelog.Validator
	emitter   audit.Emitter
	scope     audit.Scope
	repo      Repo
	logger    *slog.Logger
}

func newGate(s SessionState, opts Options) *Gate {
	v := opts.Validator
	if v == nil {
		v = strugglelog.NewValidator(strugglelog.StandardThresholds)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		state:     s,
		clock:     clock.OrReal(opts.Clock),
		validator: v,
		emitter:   audit.OrNop(opts.Emitter),
		scope:     opts.Scope,
		repo:      opts.Repo,
		logger:    logger,
	}
}

// Start begins a new struggle session now.
func Start(ctx context.Context, opts Options) *Gate {
	lockout := opts.Lockout
	if lockout <= 0 {
		lockout = DefaultLockout
	}
	g := newGate(SessionState{ID: uuid.NewString(), Lockout: lockout}, opts)
	g.state.StartedAt = g.clock.Now()

	g.persist(ctx)
	g.emitter.Emit(ctx, audit.New(audit.TypeStruggleStarted, g.state.StartedAt, g.scope, map[string]any{
		"session_id":      g.state.ID,
		"lockout_seconds": int(lockout.Seconds()),
	}))
	return g
}

// Restore rebuilds a gate from persisted state.
func Restore(s SessionState, opts Options) *Gate {
	if s.Lockout <= 0 {
		s.Lockout = DefaultLockout
	}
	return newGate(s, opts)
}

// Elapsed returns the time since the session started.
func (g *Gate) Elapsed() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.elapsedLocked()
}

func (g *Gate) elapsedLocked() time.Duration {
	d := g.clock.Now().Sub(g.state.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// TimeRemaining returns how much of the lockout is left, clamped at zero.
func (g *Gate) TimeRemaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remainingLocked()
}

func (g *Gate) remainingLocked() time.Duration {
	if r := g.state.Lockout - g.elapsedLocked(); r > 0 {
		return r
	}
	return 0
}

// SubmitLog validates s and, if valid, stores it as the session's
// immutable log entry. On failure the returned error carries every
// violated rule.
func (g *Gate) SubmitLog(ctx context.Context, s strugglelog.Submission) (*strugglelog.Entry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state.Log != nil {
		return g.state.Log, ErrLogAlreadyAccepted
	}

	now := g.clock.Now()
	res := g.validator.Validate(s)
	if !res.Valid() {
		g.emitter.Emit(ctx, audit.New(audit.TypeStruggleLogRejected, now, g.scope, map[string]any{
			"session_id": g.state.ID,
			"errors":     res.Errors,
		}))
		return nil, res.Err()
	}

	n := strugglelog.Normalize(s)
	g.state.Log = &strugglelog.Entry{
		AttemptedActions: n.AttemptedActions,
		StuckPoint:       n.StuckPoint,
		Hypothesis:       n.Hypothesis,
		SubmittedAt:      now,
	}
	g.persist(ctx)
	g.emitter.Emit(ctx, audit.New(audit.TypeStruggleLogAccepted, now, g.scope, map[string]any{
		"session_id": g.state.ID,
		"attempts":   len(n.AttemptedActions),
	}))

	g.evaluateLocked(ctx)
	return g.state.Log, nil
}

// State evaluates the gate against the current time.
func (g *Gate) State(ctx context.Context) State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.evaluateLocked(ctx)
}

// IsUnlocked reports whether hints are available.
func (g *Gate) IsUnlocked() bool {
	return g.State(context.Background()) == Unlocked
}

func (g *Gate) evaluateLocked(ctx context.Context) State {
	if g.state.Unlocked {
		return Unlocked
	}
	if g.state.Log == nil || g.remainingLocked() > 0 {
		return Locked
	}

	g.state.Unlocked = true
	g.persist(ctx)
	g.emitter.Emit(ctx, audit.New(audit.TypeGateUnlocked, g.clock.Now(), g.scope, map[string]any{
		"session_id":      g.state.ID,
		"elapsed_seconds": int(g.elapsedLocked().Seconds()),
	}))
	return Unlocked
}

// Check returns nil when unlocked, otherwise a GateLocked error naming
// every unmet condition.
func (g *Gate) Check(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.evaluateLocked(ctx) == Unlocked {
		return nil
	}
	var missing []string
	if r := g.remainingLocked(); r > 0 {
		missing = append(missing, fmt.Sprintf("keep struggling for another %s", r.Round(time.Second)))
	}
	if g.state.Log == nil {
		missing = append(missing, "submit your struggle log")
	}
	return &gating.Error{
		Kind:    gating.KindGateLocked,
		Message: "hints locked: " + strings.Join(missing, " and "),
	}
}

// Status is a display snapshot.
type Status struct {
	State        State
	Elapsed      time.Duration
	Remaining    time.Duration
	LogSubmitted bool
}

// Status returns the current display snapshot. UIs poll this at
// sub-second to second granularity to render a countdown.
func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.evaluateLocked(context.Background())
	return Status{
		State:        st,
		Elapsed:      g.elapsedLocked(),
		Remaining:    g.remainingLocked(),
		LogSubmitted: g.state.Log != nil,
	}
}

// Snapshot returns a copy of the persisted state.
func (g *Gate) Snapshot() SessionState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Gate) persist(ctx context.Context) {
	if g.repo == nil {
		return
	}
	if err := g.repo.SaveStruggle(ctx, g.scope, g.state); err != nil {
		g.logger.WarnContext(ctx, "failed to persist struggle session", "error", err, "session", g.state.ID)
	}
}
