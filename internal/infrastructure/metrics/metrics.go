// Package metrics records workflow engine activity as Prometheus metrics.
//
// Naming follows Prometheus conventions:
//   - approval_ prefix for every metric
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/garyjia/approval-workflow/internal/application/port"
	"github.com/garyjia/approval-workflow/internal/domain/entity"
)

// Recorder implements port.WorkflowMetrics
type Recorder struct {
	instancesStarted  *prometheus.CounterVec
	instancesResolved *prometheus.CounterVec
	instanceAge       *prometheus.HistogramVec
	stepsDecided      *prometheus.CounterVec
	stepWait          *prometheus.HistogramVec
	transitionsDenied *prometheus.CounterVec
	overdueSteps      prometheus.Gauge
}

var _ port.WorkflowMetrics = (*Recorder)(nil)

// approvalBuckets spans a few seconds to two weeks
var approvalBuckets = []float64{60, 600, 3600, 4 * 3600, 8 * 3600, 24 * 3600, 48 * 3600, 72 * 3600, 7 * 24 * 3600, 14 * 24 * 3600}

// NewRecorder creates the collectors and registers them with reg
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		instancesStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "approval_instances_started_total",
				Help: "Total workflow instances started by rule type.",
			},
			[]string{"rule_type"},
		),
		instancesResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "approval_instances_resolved_total",
				Help: "Total workflow instances reaching a terminal status.",
			},
			[]string{"rule_type", "status"},
		),
		instanceAge: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "approval_instance_duration_seconds",
				Help:    "Time from instance creation to resolution.",
				Buckets: approvalBuckets,
			},
			[]string{"rule_type", "status"},
		),
		stepsDecided: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "approval_steps_decided_total",
				Help: "Total steps decided by rule type and decision.",
			},
			[]string{"rule_type", "status"},
		),
		stepWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "approval_step_wait_seconds",
				Help:    "Time a step waited for its decision.",
				Buckets: approvalBuckets,
			},
			[]string{"rule_type"},
		),
		transitionsDenied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "approval_transitions_rejected_total",
				Help: "Total transition attempts refused by the engine.",
			},
			[]string{"action"},
		),
		overdueSteps: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "approval_overdue_steps",
				Help: "Pending steps past their SLA deadline at the last overdue scan.",
			},
		),
	}

	reg.MustRegister(
		r.instancesStarted,
		r.instancesResolved,
		r.instanceAge,
		r.stepsDecided,
		r.stepWait,
		r.transitionsDenied,
		r.overdueSteps,
	)
	return r
}

func (r *Recorder) InstanceStarted(ruleType string) {
	r.instancesStarted.WithLabelValues(ruleType).Inc()
}

func (r *Recorder) InstanceResolved(ruleType string, status entity.InstanceStatus, age time.Duration) {
	r.instancesResolved.WithLabelValues(ruleType, string(status)).Inc()
	r.instanceAge.WithLabelValues(ruleType, string(status)).Observe(age.Seconds())
}

func (r *Recorder) StepDecided(ruleType string, status entity.StepStatus, wait time.Duration) {
	r.stepsDecided.WithLabelValues(ruleType, string(status)).Inc()
	r.stepWait.WithLabelValues(ruleType).Observe(wait.Seconds())
}

func (r *Recorder) TransitionRejected(action string) {
	r.transitionsDenied.WithLabelValues(action).Inc()
}

func (r *Recorder) OverdueSteps(count int) {
	r.overdueSteps.Set(float64(count))
}
