package budget

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/abhisek/drillgate/internal/audit"
	"github.com/abhisek/drillgate/internal/gating"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemaining(t *testing.T) {
	tests := []struct {
		max  Limit
		used int
		want Limit
	}{
		{Unbounded, 0, Unbounded},
		{Unbounded, 100, Unbounded},
		{3, 0, 3},
		{3, 2, 1},
		{3, 3, 0},
		{3, 7, 0},
		{0, 0, 0},
	}
	for _, tt := range tests {
		if got := Remaining(tt.max, tt.used); got != tt.want {
			t.Errorf("Remaining(%s, %d) = %s, want %s", tt.max, tt.used, got, tt.want)
		}
	}
}

func TestWithUsageClamps(t *testing.T) {
	b := Budget{HintsMax: 1, ResetsMax: 2}.WithUsage(Usage{HintsUsed: 3, ResetsUsed: -1})
	assert.Equal(t, 1, b.HintsUsed)
	assert.Equal(t, 0, b.ResetsUsed)
}

func TestWarningMessage(t *testing.T) {
	assert.Empty(t, WarningMessage(Budget{HintsMax: Unbounded, ResetsMax: Unbounded}))
	assert.Empty(t, WarningMessage(Budget{HintsMax: 3, ResetsMax: 5}))
	assert.Contains(t, WarningMessage(Budget{HintsMax: 3, HintsUsed: 2, ResetsMax: 5}), "Last hint")
	assert.Contains(t, WarningMessage(Budget{HintsMax: Unbounded, ResetsMax: 2, ResetsUsed: 1}), "resets")
}

type memUsageRepo struct {
	mu    sync.Mutex
	saved map[audit.Scope]Usage
}

func (m *memUsageRepo) LoadUsage(_ context.Context, s audit.Scope) (Usage, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.saved[s]
	return u, ok, nil
}

func (m *memUsageRepo) ChargeUsage(_ context.Context, s audit.Scope, r Resource, max Limit) (Usage, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = make(map[audit.Scope]Usage)
	}
	u := m.saved[s]
	used := &u.HintsUsed
	if r == ResourceReset {
		used = &u.ResetsUsed
	}
	if max.Bounded() && *used >= int(max) {
		return u, false, nil
	}
	*used++
	m.saved[s] = u
	return u, true, nil
}

type failingUsageRepo struct{}

func (failingUsageRepo) LoadUsage(context.Context, audit.Scope) (Usage, bool, error) {
	return Usage{}, false, nil
}

func (failingUsageRepo) ChargeUsage(context.Context, audit.Scope, Resource, Limit) (Usage, bool, error) {
	return Usage{}, false, errors.New("disk full")
}

func TestLedgerExhaustsBoundedBudget(t *testing.T) {
	ctx := context.Background()
	rec := &audit.Recorder{}
	l := NewLedger(DefaultPolicy().BudgetFor(6), LedgerOptions{Emitter: rec})

	for i := 1; i <= 3; i++ {
		b, err := l.Consume(ctx, ResourceHint)
		require.NoError(t, err, "consume %d", i)
		assert.Equal(t, i, b.HintsUsed)
	}

	_, err := l.Consume(ctx, ResourceHint)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gating.ErrBudgetExhausted))
	assert.Equal(t, 3, l.Snapshot().HintsUsed, "usage must never pass max")
	assert.Len(t, rec.OfType(audit.TypeBudgetConsumed), 3)

	// Resets are tracked independently.
	_, err = l.Consume(ctx, ResourceReset)
	require.NoError(t, err)
	assert.Equal(t, Limit(4), l.Remaining(ResourceReset))
}

func TestLedgerUnboundedNeverExhausts(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(DefaultPolicy().BudgetFor(2), LedgerOptions{})
	for i := 0; i < 50; i++ {
		_, err := l.Consume(ctx, ResourceHint)
		require.NoError(t, err)
	}
	assert.Equal(t, Unbounded, l.Remaining(ResourceHint))
	assert.Equal(t, 50, l.Snapshot().HintsUsed)
}

func TestLedgerConcurrentConsumeTakesLastUnitOnce(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(Budget{HintsMax: 1, ResetsMax: 2}, LedgerOptions{})

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Consume(ctx, ResourceHint); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 1, l.Snapshot().HintsUsed)
}

func TestLoadLedgerRestoresUsage(t *testing.T) {
	ctx := context.Background()
	scope := audit.Scope{LearnerID: "ana", StepID: "k8s-3"}
	repo := &memUsageRepo{}

	l, err := LoadLedger(ctx, DefaultPolicy(), 6, LedgerOptions{Scope: scope, Repo: repo})
	require.NoError(t, err)
	_, err = l.Consume(ctx, ResourceHint)
	require.NoError(t, err)
	_, err = l.Consume(ctx, ResourceHint)
	require.NoError(t, err)

	restored, err := LoadLedger(ctx, DefaultPolicy(), 6, LedgerOptions{Scope: scope, Repo: repo})
	require.NoError(t, err)
	assert.Equal(t, Limit(1), restored.Remaining(ResourceHint))

	// A later, stricter phase clamps the stored usage.
	strict, err := LoadLedger(ctx, DefaultPolicy(), 10, LedgerOptions{Scope: scope, Repo: repo})
	require.NoError(t, err)
	assert.Equal(t, 1, strict.Snapshot().HintsUsed)
	assert.Equal(t, Limit(0), strict.Remaining(ResourceHint))
}

// Two ledgers loaded from the same repo stand in for two processes: both
// see one reset left, only one may take it.
func TestLedgersSharingRepoTakeLastUnitOnce(t *testing.T) {
	ctx := context.Background()
	scope := audit.Scope{LearnerID: "ana", StepID: "k8s-3"}
	repo := &memUsageRepo{}
	opts := LedgerOptions{Scope: scope, Repo: repo}

	first, err := LoadLedger(ctx, DefaultPolicy(), 9, opts)
	require.NoError(t, err)
	_, err = first.Consume(ctx, ResourceReset)
	require.NoError(t, err)

	a, err := LoadLedger(ctx, DefaultPolicy(), 9, opts)
	require.NoError(t, err)
	b, err := LoadLedger(ctx, DefaultPolicy(), 9, opts)
	require.NoError(t, err)
	require.Equal(t, Limit(1), a.Remaining(ResourceReset))
	require.Equal(t, Limit(1), b.Remaining(ResourceReset))

	_, err = a.Consume(ctx, ResourceReset)
	require.NoError(t, err)
	_, err = b.Consume(ctx, ResourceReset)
	assert.True(t, errors.Is(err, gating.ErrBudgetExhausted), "err = %v", err)
	assert.Equal(t, Limit(0), b.Remaining(ResourceReset), "refused charge refreshes the stale count")

	u, _, err := repo.LoadUsage(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, 2, u.ResetsUsed)
}

func TestLedgerFallsBackWhenRepoFails(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(DefaultPolicy().BudgetFor(9), LedgerOptions{Repo: failingUsageRepo{}})

	_, err := l.Consume(ctx, ResourceHint)
	require.NoError(t, err)
	_, err = l.Consume(ctx, ResourceHint)
	assert.True(t, errors.Is(err, gating.ErrBudgetExhausted))
}
