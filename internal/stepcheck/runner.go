// Package stepcheck runs a step's validation criteria one after another
// and tracks the learner's attempts until every criterion passes.
package stepcheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/abhisek/drillgate/internal/audit"
	"github.com/abhisek/drillgate/internal/clock"
	"github.com/abhisek/drillgate/internal/gating"
)

// DefaultPause separates two consecutive checks so feedback arrives in a
// readable order.
const DefaultPause = 300 * time.Millisecond

var tracer = otel.Tracer("drillgate.stepcheck")

var (
	// ErrRunInProgress is returned when Run is called while a run is active.
	ErrRunInProgress = errors.New("validation already running")

	// ErrAlreadyPassed is returned once every criterion has passed; the
	// step is complete and re-runs are disabled.
	ErrAlreadyPassed = errors.New("step already validated")
)

// Predicate checks one piece of real-world state. It is responsible for
// its own timeout.
type Predicate func(ctx context.Context) (bool, error)

// Criterion is one ordered validation rule.
type Criterion struct {
	ID          string
	Description string
	Check       Predicate
	ErrorHint   string
}

// Status is the per-criterion state within a run.
type Status int

const (
	Pending Status = iota
	Checking
	Passed
	Failed
)

func (s Status) String() string {
	switch s {
	case Checking:
		return "checking"
	case Passed:
		return "passed"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

// CriterionState is the display snapshot of one criterion.
type CriterionState struct {
	ID          string
	Description string
	Status      Status
	Err         error
}

// Report is the outcome of one completed run.
type Report struct {
	AllPassed bool
	Attempt   int
	Results   []CriterionState
}

// Failed returns the states of criteria that did not pass.
func (r Report) Failed() []CriterionState {
	var out []CriterionState
	for _, c := range r.Results {
		if c.Status != Passed {
			out = append(out, c)
		}
	}
	return out
}

// Repo persists the attempt counter and terminal pass per (learner, step).
type Repo interface {
	SaveProgress(ctx context.Context, scope audit.Scope, attempt int, passed bool) error
}

// Options configures a Runner.
type Options struct {
	// Pause between checks. Zero means DefaultPause, negative disables it.
	Pause time.Duration

	// OnComplete is called after every completed run with the attempt
	// number that run used.
	OnComplete func(allPassed bool, attempt int)

	// Attempt and Passed restore progress saved by an earlier process.
	Attempt int
	Passed  bool

	Repo    Repo
	Emitter audit.Emitter
	Scope   audit.Scope
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Runner owns the ordered criteria and run state for one step.
type Runner struct {
	mu         sync.Mutex
	criteria   []Criterion
	states     []CriterionState
	attempt    int
	inProgress bool
	passed     bool
	autoRan    bool

	pause      time.Duration
	onComplete func(bool, int)
	repo       Repo
	emitter    audit.Emitter
	scope      audit.Scope
	clock      clock.Clock
	logger     *slog.Logger
}

// NewRunner creates a runner. The attempt number starts at 1 unless
// restored through opts.
func NewRunner(criteria []Criterion, opts Options) *Runner {
	r := &Runner{
		criteria:   append([]Criterion(nil), criteria...),
		attempt:    max(opts.Attempt, 1),
		passed:     opts.Passed,
		pause:      opts.Pause,
		onComplete: opts.OnComplete,
		repo:       opts.Repo,
		emitter:    audit.OrNop(opts.Emitter),
		scope:      opts.Scope,
		clock:      clock.OrReal(opts.Clock),
		logger:     opts.Logger,
	}
	if r.pause == 0 {
		r.pause = DefaultPause
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.states = make([]CriterionState, len(criteria))
	r.resetLocked()
	return r
}

// AutoRun starts the first run when criteria are available. It runs at
// most once per runner; later calls report ran=false.
func (r *Runner) AutoRun(ctx context.Context) (rep Report, ran bool, err error) {
	r.mu.Lock()
	if r.autoRan || len(r.criteria) == 0 {
		r.mu.Unlock()
		return Report{}, false, nil
	}
	r.autoRan = true
	r.mu.Unlock()

	rep, err = r.Run(ctx)
	return rep, true, err
}

// Run evaluates every criterion in order. A failing or erroring criterion
// never stops the run. Cancelling ctx abandons the run: statuses return to
// pending and the attempt number is unchanged.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	r.mu.Lock()
	if r.inProgress {
		r.mu.Unlock()
		return Report{}, ErrRunInProgress
	}
	if r.passed {
		r.mu.Unlock()
		return Report{}, ErrAlreadyPassed
	}
	r.inProgress = true
	r.resetLocked()
	attempt := r.attempt
	r.mu.Unlock()

	ctx, span := tracer.Start(ctx, "stepcheck.Run",
		trace.WithAttributes(
			attribute.String("step", r.scope.StepID),
			attribute.Int("attempt", attempt),
			attribute.Int("criteria", len(r.criteria)),
		),
	)
	defer span.End()

	for i, c := range r.criteria {
		if i > 0 {
			if err := r.sleep(ctx); err != nil {
				return Report{}, r.abandon(span, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return Report{}, r.abandon(span, err)
		}

		r.setState(i, Checking, nil)
		ok, err := r.evaluate(ctx, c)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Report{}, r.abandon(span, ctxErr)
		}

		status := Passed
		var cerr error
		switch {
		case err != nil:
			status = Failed
			cerr = &gating.Error{Kind: gating.KindExternalPredicateError, Message: fmt.Sprintf("%s: check could not run", c.Description), Err: err}
			r.logger.WarnContext(ctx, "validation predicate failed", "criterion", c.ID, "error", err)
		case !ok:
			status = Failed
			msg := c.ErrorHint
			if msg == "" {
				msg = c.Description
			}
			cerr = gating.New(gating.KindCriterionCheckFailed, "%s", msg)
		}
		r.setState(i, status, cerr)

		r.emitter.Emit(ctx, audit.New(audit.TypeCriterionChecked, r.clock.Now(), r.scope, map[string]any{
			"criterion": c.ID,
			"status":    status.String(),
			"attempt":   attempt,
		}))
	}

	r.mu.Lock()
	rep := Report{AllPassed: true, Attempt: attempt, Results: append([]CriterionState(nil), r.states...)}
	for _, s := range r.states {
		if s.Status != Passed {
			rep.AllPassed = false
			break
		}
	}
	if rep.AllPassed {
		r.passed = true
	} else {
		r.attempt++
	}
	r.inProgress = false
	next := r.attempt
	r.mu.Unlock()

	if r.repo != nil {
		if err := r.repo.SaveProgress(ctx, r.scope, next, rep.AllPassed); err != nil {
			r.logger.WarnContext(ctx, "failed to persist validation progress", "error", err)
		}
	}

	span.SetAttributes(attribute.Bool("all_passed", rep.AllPassed))
	r.emitter.Emit(ctx, audit.New(audit.TypeValidationCompleted, r.clock.Now(), r.scope, map[string]any{
		"all_passed": rep.AllPassed,
		"attempt":    attempt,
		"failed":     len(rep.Failed()),
	}))
	if r.onComplete != nil {
		r.onComplete(rep.AllPassed, attempt)
	}
	return rep, nil
}

// evaluate runs one predicate in its own span, turning a panic into an
// error.
func (r *Runner) evaluate(ctx context.Context, c Criterion) (ok bool, err error) {
	ctx, span := tracer.Start(ctx, "stepcheck.Criterion",
		trace.WithAttributes(attribute.String("criterion", c.ID)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Bool("passed", ok && err == nil))
		span.End()
	}()
	defer func() {
		if p := recover(); p != nil {
			ok, err = false, fmt.Errorf("predicate panicked: %v", p)
		}
	}()

	if c.Check == nil {
		return false, errors.New("criterion has no check")
	}
	return c.Check(ctx)
}

func (r *Runner) sleep(ctx context.Context) error {
	if r.pause < 0 {
		return nil
	}
	t := time.NewTimer(r.pause)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *Runner) abandon(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "validation abandoned")

	r.mu.Lock()
	r.resetLocked()
	r.inProgress = false
	r.mu.Unlock()
	return fmt.Errorf("validation abandoned: %w", err)
}

func (r *Runner) setState(i int, s Status, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[i].Status = s
	r.states[i].Err = err
}

func (r *Runner) resetLocked() {
	for i, c := range r.criteria {
		r.states[i] = CriterionState{ID: c.ID, Description: c.Description, Status: Pending}
	}
}

// Statuses returns the current per-criterion states.
func (r *Runner) Statuses() []CriterionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CriterionState(nil), r.states...)
}

// Attempt returns the attempt number the next run will use.
func (r *Runner) Attempt() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempt
}

// Passed reports whether a run has passed every criterion.
func (r *Runner) Passed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.passed
}

// InProgress reports whether a run is active.
func (r *Runner) InProgress() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inProgress
}

// NextStepLocked reports whether advancing past this step is still
// blocked.
func (r *Runner) NextStepLocked() bool {
	return !r.Passed()
}
