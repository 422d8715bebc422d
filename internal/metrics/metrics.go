// Package metrics turns gating audit events into Prometheus counters.
package metrics

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"

	"github.com/abhisek/drillgate/internal/audit"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "drillgate"

// Emitter counts audit events. It implements audit.Emitter.
type Emitter struct {
	EventsTotal         *prometheus.CounterVec
	HintsDisclosed      prometheus.Counter
	HintDenials         *prometheus.CounterVec
	BudgetConsumed      *prometheus.CounterVec
	GatesUnlocked       prometheus.Counter
	StruggleLogs        *prometheus.CounterVec
	ChecklistOutcomes   *prometheus.CounterVec
	ValidationRuns      *prometheus.CounterVec
	CriterionChecks     *prometheus.CounterVec
	StepsAbandonedReset *prometheus.CounterVec
}

var _ audit.Emitter = (*Emitter)(nil)

// New registers the counters with reg. Pass prometheus.DefaultRegisterer
// for process-wide metrics or a fresh registry in tests.
func New(reg prometheus.Registerer, namespace string) *Emitter {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	f := promauto.With(reg)
	return &Emitter{
		EventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Audit events by type.",
		}, []string{"type"}),
		HintsDisclosed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hints_disclosed_total",
			Help:      "Hints revealed to learners.",
		}),
		HintDenials: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hint_denials_total",
			Help:      "Refused hint requests by reason.",
		}, []string{"reason"}),
		BudgetConsumed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_consumed_total",
			Help:      "Budget units consumed by resource.",
		}, []string{"resource"}),
		GatesUnlocked: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "struggle_gates_unlocked_total",
			Help:      "Struggle gates that reached the unlocked state.",
		}),
		StruggleLogs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "struggle_logs_total",
			Help:      "Struggle log submissions by result.",
		}, []string{"result"}),
		ChecklistOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checklist_outcomes_total",
			Help:      "Destructive action checklists by outcome and severity.",
		}, []string{"outcome", "severity"}),
		ValidationRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_runs_total",
			Help:      "Completed validation runs by result.",
		}, []string{"result"}),
		CriterionChecks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "criterion_checks_total",
			Help:      "Individual criterion evaluations by status.",
		}, []string{"status"}),
		StepsAbandonedReset: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_restarts_total",
			Help:      "Steps abandoned or reset.",
		}, []string{"kind"}),
	}
}

func (e *Emitter) Emit(_ context.Context, ev audit.Event) {
	e.EventsTotal.WithLabelValues(string(ev.Type)).Inc()

	switch ev.Type {
	case audit.TypeHintRequested:
		e.HintsDisclosed.Inc()
	case audit.TypeHintDenied:
		e.HintDenials.WithLabelValues(label(ev.Payload, "reason")).Inc()
	case audit.TypeBudgetConsumed:
		e.BudgetConsumed.WithLabelValues(label(ev.Payload, "resource")).Inc()
	case audit.TypeGateUnlocked:
		e.GatesUnlocked.Inc()
	case audit.TypeStruggleLogAccepted:
		e.StruggleLogs.WithLabelValues("accepted").Inc()
	case audit.TypeStruggleLogRejected:
		e.StruggleLogs.WithLabelValues("rejected").Inc()
	case audit.TypeActionProceeded:
		e.ChecklistOutcomes.WithLabelValues("proceeded", label(ev.Payload, "severity")).Inc()
	case audit.TypeActionCancelled:
		e.ChecklistOutcomes.WithLabelValues("cancelled", label(ev.Payload, "severity")).Inc()
	case audit.TypeValidationCompleted:
		result := "failed"
		if passed, _ := ev.Payload["all_passed"].(bool); passed {
			result = "passed"
		}
		e.ValidationRuns.WithLabelValues(result).Inc()
	case audit.TypeCriterionChecked:
		e.CriterionChecks.WithLabelValues(label(ev.Payload, "status")).Inc()
	case audit.TypeStepAbandoned:
		e.StepsAbandonedReset.WithLabelValues("abandoned").Inc()
	case audit.TypeStepReset:
		e.StepsAbandonedReset.WithLabelValues("reset").Inc()
	}
}

func label(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return "unknown"
	}
	return fmt.Sprint(v)
}

// WriteText writes every metric family gathered from g in the Prometheus
// text exposition format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
