// Package metrics provides a prometheus-backed recorder for executor
// telemetry: mutation outcomes, lock contention, and audit append latency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder implements the executor's telemetry contract with prometheus
// collectors.
type Recorder struct {
	mutations  *prometheus.CounterVec
	contention *prometheus.CounterVec
	auditWait  *prometheus.HistogramVec
}

// NewRecorder builds the collectors and registers them with the given
// registerer. Passing nil registers with the default registry.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lifecycle",
			Name:      "mutations_total",
			Help:      "Entity mutations by kind, action, and outcome.",
		}, []string{"kind", "action", "outcome"}),
		contention: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lifecycle",
			Name:      "lock_contention_total",
			Help:      "Mutations rejected because the entity lock was held.",
		}, []string{"kind"}),
		auditWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lifecycle",
			Name:      "audit_append_seconds",
			Help:      "Audit append latency by action.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
	}
	for _, c := range []prometheus.Collector{r.mutations, r.contention, r.auditWait} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// MutationExecuted counts one finished mutation.
func (r *Recorder) MutationExecuted(kind, action, outcome string, _ time.Duration) {
	if r == nil {
		return
	}
	r.mutations.WithLabelValues(kind, action, outcome).Inc()
}

// LockContention counts one busy rejection.
func (r *Recorder) LockContention(kind string) {
	if r == nil {
		return
	}
	r.contention.WithLabelValues(kind).Inc()
}

// AuditAppended observes one audit append.
func (r *Recorder) AuditAppended(action string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.auditWait.WithLabelValues(action).Observe(elapsed.Seconds())
}
