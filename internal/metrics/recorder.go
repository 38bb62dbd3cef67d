// Package metrics wires a fixed, by-name set of counters and histograms
// (rules.evaluated, devices.reconciled, cycle.duration, ...) onto plain
// Prometheus Counter and Histogram collectors, trimmed to the small set
// of named collectors this system actually needs rather than a
// general-purpose provider abstraction.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder is the sink every SafetyRuleEngine and Reconciler is built
// with. It satisfies safety.Recorder and reconcile.CycleRecorder.
type Recorder struct {
	rulesEvaluated     prometheus.Counter
	rulesRefused       prometheus.Counter
	rulesModified      prometheus.Counter
	rulesAccepted      prometheus.Counter
	evaluationDuration prometheus.Histogram

	devicesReconciled prometheus.Counter
	devicesSkipped    prometheus.Counter
	devicesNoSnapshot prometheus.Counter
	devicesFailed     prometheus.Counter
	cycleDuration     prometheus.Histogram
}

// New registers every collector against reg and returns the Recorder.
// Passing prometheus.NewRegistry() keeps tests hermetic; production
// wiring passes the default global registry.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		rulesEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hearthctl_rules_evaluated_total",
			Help: "Safety rules evaluated, across all SafetyRuleEngine.Evaluate calls.",
		}),
		rulesRefused: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hearthctl_rules_refused_total",
			Help: "Safety rule evaluations that ended in Refused.",
		}),
		rulesModified: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hearthctl_rules_modified_total",
			Help: "Safety rule evaluations that ended in Modified.",
		}),
		rulesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hearthctl_rules_accepted_total",
			Help: "Safety rule evaluations that ended in Accepted.",
		}),
		evaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hearthctl_evaluation_duration_seconds",
			Help:    "Wall time of a full SafetyRuleEngine.Evaluate call.",
			Buckets: prometheus.DefBuckets,
		}),
		devicesReconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hearthctl_devices_reconciled_total",
			Help: "Devices for which a command was emitted during reconciliation.",
		}),
		devicesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hearthctl_devices_skipped_total",
			Help: "Devices already converged, skipped during reconciliation.",
		}),
		devicesNoSnapshot: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hearthctl_devices_no_snapshot_total",
			Help: "Reconciliation attempts for a device with no twin snapshot.",
		}),
		devicesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hearthctl_devices_failed_total",
			Help: "Per-device reconciliation handling that raised an error.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hearthctl_cycle_duration_seconds",
			Help:    "Wall time of one full reconciliation cycle.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	for _, c := range []prometheus.Collector{
		r.rulesEvaluated, r.rulesRefused, r.rulesModified, r.rulesAccepted, r.evaluationDuration,
		r.devicesReconciled, r.devicesSkipped, r.devicesNoSnapshot, r.devicesFailed, r.cycleDuration,
	} {
		if err := reg.Register(c); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				_ = are // collector already present under this registry; reuse is harmless, the created one is simply unused
				continue
			}
		}
	}
	return r
}

func (r *Recorder) RulesEvaluated(n int)                { r.rulesEvaluated.Add(float64(n)) }
func (r *Recorder) RuleRefused()                        { r.rulesRefused.Inc() }
func (r *Recorder) RuleModified()                       { r.rulesModified.Inc() }
func (r *Recorder) RuleAccepted()                       { r.rulesAccepted.Inc() }
func (r *Recorder) EvaluationDuration(d time.Duration)  { r.evaluationDuration.Observe(d.Seconds()) }

func (r *Recorder) DeviceReconciled()          { r.devicesReconciled.Inc() }
func (r *Recorder) DeviceSkipped()             { r.devicesSkipped.Inc() }
func (r *Recorder) DeviceNoSnapshot()          { r.devicesNoSnapshot.Inc() }
func (r *Recorder) DeviceFailed()              { r.devicesFailed.Inc() }
func (r *Recorder) CycleDuration(d time.Duration) { r.cycleDuration.Observe(d.Seconds()) }
