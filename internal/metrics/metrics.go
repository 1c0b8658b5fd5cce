// Package metrics exposes schedtrack's prometheus collectors. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "schedtrack"

type Metrics struct {
	reg *prometheus.Registry

	operations   *prometheus.CounterVec
	opDuration   *prometheus.HistogramVec
	transitions  *prometheus.CounterVec
	alertsFired  *prometheus.CounterVec
	jobsPending  prometheus.Gauge
	notifyResult *prometheus.CounterVec
	notifyQueue  prometheus.Gauge
}

// New registers every collector (plus Go and process collectors) on a
// fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Tracking operations by name and result.",
		}, []string{"op", "result"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Tracking operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrollment_transitions_total",
			Help:      "Enrollment lifecycle transitions by target status.",
		}, []string{"status"}),
		alertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_fired_total",
			Help:      "Alerts raised by window.",
		}, []string{"window"}),
		jobsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_pending",
			Help:      "Jobs registered with the scheduler.",
		}),
		notifyResult: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by result.",
		}, []string{"result"}),
		notifyQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notify_queue_length",
			Help:      "Notifications waiting for a worker.",
		}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.operations, m.opDuration, m.transitions, m.alertsFired,
		m.jobsPending, m.notifyResult, m.notifyQueue,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Observe records one operation. Use as
// defer m.Observe("enroll", time.Now(), &err).
func (m *Metrics) Observe(op string, start time.Time, errp *error) {
	if m == nil {
		return
	}
	result := "ok"
	if errp != nil && *errp != nil {
		result = "error"
	}
	m.operations.WithLabelValues(op, result).Inc()
	m.opDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) Transition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) AlertFired(window string) {
	if m == nil {
		return
	}
	m.alertsFired.WithLabelValues(window).Inc()
}

func (m *Metrics) SetJobsPending(n int) {
	if m == nil {
		return
	}
	m.jobsPending.Set(float64(n))
}

// Notification records a delivery outcome: sent, failed, dropped or deduped.
func (m *Metrics) Notification(result string) {
	if m == nil {
		return
	}
	m.notifyResult.WithLabelValues(result).Inc()
}

func (m *Metrics) SetNotifyQueue(n int) {
	if m == nil {
		return
	}
	m.notifyQueue.Set(float64(n))
}
