package metrics

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/drillgate/internal/audit"
	"github.com/abhisek/drillgate/internal/safety"
)

func newTestEmitter(t *testing.T) (*Emitter, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return New(reg, ""), reg
}

func emit(e *Emitter, typ audit.Type, payload map[string]any) {
	e.Emit(context.Background(), audit.New(typ, time.Now(), audit.Scope{LearnerID: "l", StepID: "s"}, payload))
}

func TestEmitCountsByType(t *testing.T) {
	e, _ := newTestEmitter(t)

	emit(e, audit.TypeHintRequested, map[string]any{"level": 1})
	emit(e, audit.TypeHintRequested, map[string]any{"level": 2})
	emit(e, audit.TypeHintDenied, map[string]any{"reason": "budget_exhausted"})
	emit(e, audit.TypeHintDenied, nil)
	emit(e, audit.TypeBudgetConsumed, map[string]any{"resource": "hint"})
	emit(e, audit.TypeGateUnlocked, nil)
	emit(e, audit.TypeStruggleLogRejected, nil)
	emit(e, audit.TypeStruggleLogAccepted, nil)
	emit(e, audit.TypeActionProceeded, map[string]any{"severity": "high"})
	emit(e, audit.TypeActionCancelled, map[string]any{"severity": "medium"})
	emit(e, audit.TypeValidationCompleted, map[string]any{"all_passed": false})
	emit(e, audit.TypeValidationCompleted, map[string]any{"all_passed": true})
	emit(e, audit.TypeCriterionChecked, map[string]any{"status": "failed"})
	emit(e, audit.TypeStepReset, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(e.EventsTotal.WithLabelValues("hint.requested")))
	assert.Equal(t, 2.0, testutil.ToFloat64(e.HintsDisclosed))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.HintDenials.WithLabelValues("budget_exhausted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.HintDenials.WithLabelValues("unknown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.BudgetConsumed.WithLabelValues("hint")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.GatesUnlocked))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.StruggleLogs.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.ChecklistOutcomes.WithLabelValues("proceeded", "high")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.ChecklistOutcomes.WithLabelValues("cancelled", "medium")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.ValidationRuns.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.ValidationRuns.WithLabelValues("passed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.CriterionChecks.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.StepsAbandonedReset.WithLabelValues("reset")))
}

func TestChecklistOutcomesCarrySeverity(t *testing.T) {
	e, _ := newTestEmitter(t)
	ctx := context.Background()
	opts := safety.Options{Emitter: e}

	cancelled := safety.DefaultCatalog().GateFor("terraform destroy", opts)
	require.NotNil(t, cancelled)
	require.NoError(t, cancelled.Cancel(ctx))

	proceeded := safety.DefaultCatalog().GateFor("terraform destroy", opts)
	for _, it := range proceeded.Items() {
		require.NoError(t, proceeded.UpdateItem(ctx, it.Key, true))
	}
	require.NoError(t, proceeded.Proceed(ctx))

	sev := string(proceeded.Action().Severity)
	require.NotEmpty(t, sev)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.ChecklistOutcomes.WithLabelValues("cancelled", sev)))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.ChecklistOutcomes.WithLabelValues("proceeded", sev)))
	assert.Equal(t, 0.0, testutil.ToFloat64(e.ChecklistOutcomes.WithLabelValues("cancelled", "unknown")))
}

func TestWriteText(t *testing.T) {
	e, reg := newTestEmitter(t)
	emit(e, audit.TypeGateUnlocked, nil)

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, reg))
	assert.Contains(t, buf.String(), "drillgate_struggle_gates_unlocked_total 1")
}

func TestNamespace(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := New(reg, "lab")
	emit(e, audit.TypeGateUnlocked, nil)

	n, err := testutil.GatherAndCount(reg, "lab_struggle_gates_unlocked_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
