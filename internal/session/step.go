package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/abhisek/drillgate/internal/audit"
	"github.com/abhisek/drillgate/internal/budget"
	"github.com/abhisek/drillgate/internal/content"
	"github.com/abhisek/drillgate/internal/hints"
	"github.com/abhisek/drillgate/internal/safety"
	"github.com/abhisek/drillgate/internal/stepcheck"
	"github.com/abhisek/drillgate/internal/struggle"
	"github.com/abhisek/drillgate/internal/strugglelog"
)

// Step is the per-step state of the active step. Every field is created
// fresh when the step starts; nothing is shared with other steps except
// the budget ledger, which outlives resets.
type Step struct {
	Content  *content.Step
	Scope    audit.Scope
	Ledger   *budget.Ledger
	Struggle *struggle.Gate
	Hints    *hints.Sequencer
	Runner   *stepcheck.Runner

	session *Session
	ctx     context.Context
	cancel  context.CancelFunc
}

func (s *Session) openStep(ctx context.Context, c *content.Step) (*Step, error) {
	scope := audit.Scope{LearnerID: s.opts.LearnerID, StepID: c.ID}
	repos := s.opts.Repos

	ledger, ok := s.ledgers[c.ID]
	if !ok {
		var err error
		ledger, err = budget.LoadLedger(ctx, s.policy, s.opts.Phase, budget.LedgerOptions{
			Scope:   scope,
			Repo:    repos.Usage,
			Emitter: s.emitter,
			Clock:   s.clock,
			Logger:  s.logger,
		})
		if err != nil {
			return nil, err
		}
		s.ledgers[c.ID] = ledger
	}

	gateOpts := struggle.Options{
		Clock:     s.clock,
		Lockout:   s.opts.Lockout,
		Validator: s.validator,
		Emitter:   s.emitter,
		Scope:     scope,
		Logger:    s.logger,
	}
	var gate *struggle.Gate
	if repos.Struggles != nil {
		state, found, err := repos.Struggles.LoadStruggle(ctx, scope)
		if err != nil {
			return nil, fmt.Errorf("load struggle session: %w", err)
		}
		gateOpts.Repo = repos.Struggles
		if found {
			gate = struggle.Restore(state, gateOpts)
		}
	}
	if gate == nil {
		gate = struggle.Start(ctx, gateOpts)
	}

	hintOpts := hints.Options{
		Gate:     gate,
		Ledger:   ledger,
		Cooldown: s.opts.HintCooldown,
		Emitter:  s.emitter,
		Scope:    scope,
		Clock:    s.clock,
		Logger:   s.logger,
	}
	if repos.Hints != nil {
		requested, err := repos.Hints.RequestedHints(ctx, scope)
		if err != nil {
			return nil, fmt.Errorf("load requested hints: %w", err)
		}
		last, ok, err := repos.Hints.LastHintAt(ctx, scope)
		if err != nil {
			return nil, fmt.Errorf("load last hint time: %w", err)
		}
		if ok {
			hintOpts.LastDisclosed = last
		}
		hintOpts.Requested = requested
		hintOpts.Repo = repos.Hints
	}

	criteria, err := c.BuildCriteria()
	if err != nil {
		return nil, err
	}
	runOpts := stepcheck.Options{
		Pause:   s.opts.ValidationPause,
		Emitter: s.emitter,
		Scope:   scope,
		Clock:   s.clock,
		Logger:  s.logger,
	}
	if repos.Progress != nil {
		attempt, passed, err := repos.Progress.LoadProgress(ctx, scope)
		if err != nil {
			return nil, fmt.Errorf("load validation progress: %w", err)
		}
		runOpts.Attempt, runOpts.Passed = attempt, passed
		runOpts.Repo = repos.Progress
	}

	stepCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	st := &Step{
		Content:  c,
		Scope:    scope,
		Ledger:   ledger,
		Struggle: gate,
		Hints:    hints.New(c.Hints, hintOpts),
		Runner:   stepcheck.NewRunner(criteria, runOpts),
		session:  s,
		ctx:      stepCtx,
		cancel:   cancel,
	}

	s.emitter.Emit(ctx, audit.New(audit.TypeStepStarted, s.clock.Now(), scope, map[string]any{
		"phase": int(s.opts.Phase),
		"tier":  s.tier.Name,
		"hints": len(c.Hints),
	}))
	return st, nil
}

// SubmitLog submits the learner's struggle log.
func (st *Step) SubmitLog(ctx context.Context, sub strugglelog.Submission) (*strugglelog.Entry, error) {
	return st.Struggle.SubmitLog(ctx, sub)
}

// RequestHint discloses the hint at level.
func (st *Step) RequestHint(ctx context.Context, level int) (string, error) {
	return st.Hints.RequestHint(ctx, level)
}

// Validate runs the step's criteria. The run is abandoned if either ctx
// or the step is cancelled.
func (st *Step) Validate(ctx context.Context) (stepcheck.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(st.ctx, cancel)
	defer stop()
	return st.Runner.Run(ctx)
}

// AutoValidate triggers the one-time automatic run.
func (st *Step) AutoValidate(ctx context.Context) (stepcheck.Report, bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(st.ctx, cancel)
	defer stop()
	return st.Runner.AutoRun(ctx)
}

// GuardCommand classifies command and returns a fresh checklist gate when
// it is destructive, or nil when it may run. The step's own checklist
// takes precedence over the catalog entry's items. When the persisted
// open checklist belongs to this exact command its state is resumed;
// otherwise the stale one is discarded. Surrounding whitespace in command
// is ignored.
func (st *Step) GuardCommand(ctx context.Context, command string) (*safety.Gate, error) {
	s := st.session
	command = strings.TrimSpace(command)
	entry := s.opts.Catalog.Classify(command)
	if entry == nil {
		return nil, nil
	}
	action := safety.Action{Command: command, Pattern: entry.Name, Severity: entry.Severity}

	items := st.Content.Checklist
	if len(items) == 0 {
		items = entry.Checklist
	}

	opts := safety.Options{
		Emitter: s.emitter,
		Scope:   st.Scope,
		Clock:   s.clock,
		Logger:  s.logger,
	}
	if repo := s.opts.Repos.Checklists; repo != nil {
		opts.Repo = repo
		saved, state, ok, err := repo.LoadChecklist(ctx, st.Scope)
		if err != nil {
			return nil, fmt.Errorf("load checklist: %w", err)
		}
		switch {
		case ok && saved == command:
			opts.Restore = state
		case ok:
			if err := repo.ClearChecklist(ctx, st.Scope); err != nil {
				return nil, fmt.Errorf("discard stale checklist: %w", err)
			}
		}
	}
	return safety.NewGate(action, items, opts), nil
}

// Status is a display snapshot of the step.
type Status struct {
	StepID     string
	Budget     budget.Budget
	Warning    string
	Struggle   struggle.Status
	NextHint   int
	Requested  []int
	TotalHints int
	Attempt    int
	Passed     bool
}

// Status returns the current display snapshot.
func (st *Step) Status() Status {
	b := st.Ledger.Snapshot()
	return Status{
		StepID:     st.Content.ID,
		Budget:     b,
		Warning:    budget.WarningMessage(b),
		Struggle:   st.Struggle.Status(),
		NextHint:   st.Hints.NextLevel(),
		Requested:  st.Hints.Requested(),
		TotalHints: st.Hints.Len(),
		Attempt:    st.Runner.Attempt(),
		Passed:     st.Runner.Passed(),
	}
}
