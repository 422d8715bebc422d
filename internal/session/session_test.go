package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/drillgate/internal/audit"
	"github.com/abhisek/drillgate/internal/budget"
	"github.com/abhisek/drillgate/internal/clock"
	"github.com/abhisek/drillgate/internal/content"
	"github.com/abhisek/drillgate/internal/gating"
	"github.com/abhisek/drillgate/internal/safety"
	"github.com/abhisek/drillgate/internal/store"
	"github.com/abhisek/drillgate/internal/struggle"
	"github.com/abhisek/drillgate/internal/strugglelog"
)

var t0 = time.Date(2026, 4, 6, 9, 0, 0, 0, time.UTC)

var goodLog = strugglelog.Submission{
	AttemptedActions: []string{"a) checked logs", "b) restarted service", "c) verified config"},
	StuckPoint:       "The service starts but refuses connections",
	Hypothesis:       "It binds to localhost only",
}

func sampleStep(id string) *content.Step {
	return &content.Step{
		ID:    id,
		Title: "Fix the listener",
		Hints: []string{"Check the bind address.", "Look at server.listen in app.toml.", "Set it to 0.0.0.0:8080."},
		Criteria: []content.CriterionDef{
			{ID: "shell", Description: "shell available", Type: content.TypeCommandSuccess, Cmd: "true"},
			{ID: "fails", Description: "always fails", Type: content.TypeCommandSuccess, Cmd: "false", ErrorHint: "not yet"},
		},
	}
}

func newSession(t *testing.T, phase budget.Phase, clk clock.Clock, repos Repos, emitter audit.Emitter) *Session {
	t.Helper()
	s, err := New(Options{
		LearnerID:       "learner-1",
		Phase:           phase,
		ValidationPause: -1,
		Repos:           repos,
		Emitter:         emitter,
		Clock:           clk,
	})
	require.NoError(t, err)
	return s
}

func unlock(t *testing.T, st *Step, clk *clock.Fake) {
	t.Helper()
	_, err := st.SubmitLog(context.Background(), goodLog)
	require.NoError(t, err)
	clk.Advance(struggle.DefaultLockout)
	require.True(t, st.Struggle.IsUnlocked())
}

func TestNewRejectsBadOptions(t *testing.T) {
	_, err := New(Options{Phase: 1})
	assert.Error(t, err)
	_, err = New(Options{LearnerID: "x", Phase: 0})
	assert.Error(t, err)
	_, err = New(Options{LearnerID: "x", Phase: 1, Policy: budget.Policy{Tiers: []budget.Tier{{Name: "late", FirstPhase: 3}}}})
	assert.Error(t, err)
	_, err = New(Options{LearnerID: "x", Phase: 1, Thresholds: &strugglelog.Thresholds{}})
	assert.Error(t, err)
}

// Phase 6 allows three hints: all three succeed once the gate opens and a
// fourth, artificial request is refused for budget.
func TestPhaseSixScenario(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(t0)
	rec := &audit.Recorder{}
	s := newSession(t, 6, clk, Repos{}, rec)
	assert.Equal(t, "walk", s.Tier().Name)

	st, err := s.StartStep(ctx, sampleStep("net/step-1"))
	require.NoError(t, err)

	_, err = st.RequestHint(ctx, 1)
	require.True(t, errors.Is(err, gating.ErrGateLocked), "err = %v", err)
	assert.Contains(t, gating.UserMessage(err), "struggle")

	unlock(t, st, clk)
	for lvl := 1; lvl <= 3; lvl++ {
		text, err := st.RequestHint(ctx, lvl)
		require.NoError(t, err)
		assert.Equal(t, st.Content.Hints[lvl-1], text)
	}
	_, err = st.RequestHint(ctx, 4)
	assert.True(t, errors.Is(err, gating.ErrBudgetExhausted), "err = %v", err)

	status := st.Status()
	assert.Equal(t, budget.Limit(0), status.Budget.HintsRemaining())
	assert.Equal(t, []int{1, 2, 3}, status.Requested)
	assert.Equal(t, 0, status.NextHint)

	assert.Len(t, rec.OfType(audit.TypeStepStarted), 1)
	assert.Len(t, rec.OfType(audit.TypeGateUnlocked), 1)
	assert.Len(t, rec.OfType(audit.TypeHintRequested), 3)
}

func TestAbandonStartsFreshButKeepsBudget(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(t0)
	s := newSession(t, 6, clk, Repos{}, nil)

	st, err := s.StartStep(ctx, sampleStep("net/step-1"))
	require.NoError(t, err)
	unlock(t, st, clk)
	_, err = st.RequestHint(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, s.AbandonStep(ctx))
	assert.Nil(t, s.Active())
	assert.ErrorIs(t, s.AbandonStep(ctx), ErrNoActiveStep)

	again, err := s.StartStep(ctx, sampleStep("net/step-1"))
	require.NoError(t, err)
	assert.NotSame(t, st, again)
	assert.Empty(t, again.Hints.Requested(), "requested hints must not leak")
	assert.False(t, again.Struggle.IsUnlocked(), "struggle restarts")
	assert.Equal(t, budget.Limit(2), again.Ledger.Remaining(budget.ResourceHint), "budget usage survives")
}

func TestStartSameStepReturnsActive(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, 1, clock.NewFake(t0), Repos{}, nil)
	a, err := s.StartStep(ctx, sampleStep("s1"))
	require.NoError(t, err)
	b, err := s.StartStep(ctx, sampleStep("s1"))
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := s.StartStep(ctx, sampleStep("s2"))
	require.NoError(t, err)
	assert.Equal(t, "s2", c.Scope.StepID)
	assert.Same(t, c, s.Active())
}

func TestResetConsumesBudget(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(t0)
	rec := &audit.Recorder{}
	s := newSession(t, 9, clk, Repos{}, rec)

	st, err := s.StartStep(ctx, sampleStep("s1"))
	require.NoError(t, err)
	unlock(t, st, clk)
	_, err = st.RequestHint(ctx, 1)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		st, err = s.ResetStep(ctx)
		require.NoError(t, err, "reset %d", i+1)
		assert.Empty(t, st.Hints.Requested())
	}
	_, err = s.ResetStep(ctx)
	assert.True(t, errors.Is(err, gating.ErrBudgetExhausted))
	assert.Same(t, st, s.Active(), "a refused reset leaves the step in place")

	// The single phase-9 hint was spent before the resets.
	unlock(t, st, clk)
	_, err = st.RequestHint(ctx, 1)
	assert.True(t, errors.Is(err, gating.ErrBudgetExhausted))
	assert.Len(t, rec.OfType(audit.TypeStepReset), 2)
}

func TestValidateThroughStep(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, 1, clock.NewFake(t0), Repos{}, nil)
	st, err := s.StartStep(ctx, sampleStep("s1"))
	require.NoError(t, err)

	rep, ran, err := st.AutoValidate(ctx)
	require.NoError(t, err)
	require.True(t, ran)
	assert.False(t, rep.AllPassed)
	assert.Equal(t, 2, st.Status().Attempt)
	assert.True(t, st.Runner.NextStepLocked())

	_, ran, err = st.AutoValidate(ctx)
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestGuardCommand(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, 1, clock.NewFake(t0), Repos{}, nil)

	plain := sampleStep("s1")
	st, err := s.StartStep(ctx, plain)
	require.NoError(t, err)

	g, err := st.GuardCommand(ctx, "ls -la")
	require.NoError(t, err)
	assert.Nil(t, g)

	g, err = st.GuardCommand(ctx, "docker system prune -a")
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, safety.SeverityHigh, g.Action().Severity)
	assert.Len(t, g.Items(), 5)

	custom := sampleStep("s2")
	custom.Checklist = []safety.Item{{Key: "snapshot-taken", Label: "I took a VM snapshot"}}
	st, err = s.StartStep(ctx, custom)
	require.NoError(t, err)
	g, err = st.GuardCommand(ctx, "mkfs.ext4 /dev/sdb1")
	require.NoError(t, err)
	require.Len(t, g.Items(), 1)
	assert.Equal(t, "snapshot-taken", g.Items()[0].Key)
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// A second session over the same store picks the step up where the first
// left it.
func TestRestoreFromStore(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	clk := clock.NewFake(t0)
	repos := ReposFromStore(db)

	first := newSession(t, 6, clk, repos, db.Events())
	st, err := first.StartStep(ctx, sampleStep("net/step-1"))
	require.NoError(t, err)
	unlock(t, st, clk)
	_, err = st.RequestHint(ctx, 1)
	require.NoError(t, err)
	_, err = st.Validate(ctx)
	require.NoError(t, err)

	g, err := st.GuardCommand(ctx, "rm -rf build")
	require.NoError(t, err)
	require.NoError(t, g.UpdateItem(ctx, "path-verified", true))

	second := newSession(t, 6, clk, repos, db.Events())
	st2, err := second.StartStep(ctx, sampleStep("net/step-1"))
	require.NoError(t, err)

	assert.True(t, st2.Struggle.IsUnlocked())
	assert.Equal(t, []int{1}, st2.Hints.Requested())
	assert.Equal(t, budget.Limit(2), st2.Ledger.Remaining(budget.ResourceHint))
	assert.Equal(t, 2, st2.Runner.Attempt())

	resumed, err := st2.GuardCommand(ctx, "rm -rf build")
	require.NoError(t, err)
	assert.True(t, resumed.State()["path-verified"])

	other, err := st2.GuardCommand(ctx, "rm -rf dist")
	require.NoError(t, err)
	assert.False(t, other.State()["path-verified"], "a different action starts fresh")

	events, err := db.Events().Query(ctx, store.QueryOpts{Types: []audit.Type{audit.TypeStruggleStarted}})
	require.NoError(t, err)
	assert.Len(t, events, 1, "restored session does not restart the struggle")

	require.NoError(t, second.AbandonStep(ctx))
	levels, err := db.Hints().RequestedHints(ctx, st2.Scope)
	require.NoError(t, err)
	assert.Empty(t, levels)
}

func openFileStores(t *testing.T, n int) []*store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "drillgate.db")
	stores := make([]*store.Store, n)
	for i := range stores {
		db, err := store.Open(path)
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		stores[i] = db
	}
	return stores
}

// Two invocations sharing one database file cannot both spend the last
// phase-9 reset.
func TestResetBudgetSharedAcrossStores(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(t0)
	stores := openFileStores(t, 2)

	first := newSession(t, 9, clk, ReposFromStore(stores[0]), nil)
	_, err := first.StartStep(ctx, sampleStep("s1"))
	require.NoError(t, err)
	_, err = first.ResetStep(ctx)
	require.NoError(t, err)

	a := newSession(t, 9, clk, ReposFromStore(stores[0]), nil)
	b := newSession(t, 9, clk, ReposFromStore(stores[1]), nil)
	_, err = a.StartStep(ctx, sampleStep("s1"))
	require.NoError(t, err)
	stB, err := b.StartStep(ctx, sampleStep("s1"))
	require.NoError(t, err)

	_, err = a.ResetStep(ctx)
	require.NoError(t, err)
	_, err = b.ResetStep(ctx)
	assert.True(t, errors.Is(err, gating.ErrBudgetExhausted), "err = %v", err)
	assert.Same(t, stB, b.Active())
	assert.Equal(t, budget.Limit(0), stB.Ledger.Remaining(budget.ResourceReset))

	u, ok, err := stores[1].Budgets().LoadUsage(ctx, stB.Scope)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, u.ResetsUsed)
}

func TestHintCooldownSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(t0)
	stores := openFileStores(t, 2)

	open := func(db *store.Store) *Session {
		s, err := New(Options{
			LearnerID:       "learner-1",
			Phase:           6,
			ValidationPause: -1,
			HintCooldown:    10 * time.Minute,
			Repos:           ReposFromStore(db),
			Clock:           clk,
		})
		require.NoError(t, err)
		return s
	}

	st, err := open(stores[0]).StartStep(ctx, sampleStep("net/step-1"))
	require.NoError(t, err)
	unlock(t, st, clk)
	_, err = st.RequestHint(ctx, 1)
	require.NoError(t, err)

	st2, err := open(stores[1]).StartStep(ctx, sampleStep("net/step-1"))
	require.NoError(t, err)
	require.Equal(t, []int{1}, st2.Hints.Requested())

	_, err = st2.RequestHint(ctx, 2)
	require.True(t, errors.Is(err, gating.ErrGateLocked), "err = %v", err)
	assert.Contains(t, err.Error(), "10m0s")

	clk.Advance(10*time.Minute + time.Second)
	_, err = st2.RequestHint(ctx, 2)
	assert.NoError(t, err)
}

func TestGuardCommandIgnoresSurroundingWhitespace(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	s := newSession(t, 1, clock.NewFake(t0), ReposFromStore(db), nil)
	st, err := s.StartStep(ctx, sampleStep("s1"))
	require.NoError(t, err)

	g, err := st.GuardCommand(ctx, "rm -rf build")
	require.NoError(t, err)
	require.NoError(t, g.UpdateItem(ctx, "path-verified", true))

	again, err := st.GuardCommand(ctx, "  rm -rf build\n")
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, "rm -rf build", again.Action().Command)
	assert.True(t, again.State()["path-verified"], "padded command resumes the open checklist")

	g, err = st.GuardCommand(ctx, "   ")
	require.NoError(t, err)
	assert.Nil(t, g)
}
