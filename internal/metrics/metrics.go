package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

type Metrics struct {
	registry          *prometheus.Registry
	syncRuns          *prometheus.CounterVec // total cycles by outcome
	syncDuration      prometheus.Histogram   // time to run a cycle
	lastSuccess       prometheus.Gauge       // unix time of last clean cycle
	decisions         *prometheus.CounterVec // reconciliation decisions
	dnsRequests       *prometheus.CounterVec // dns provider requests
	directoryRequests *prometheus.CounterVec // compute provider requests
	archiveRequests   *prometheus.CounterVec // badgerdb requests
	instances         prometheus.Gauge       // eligible instances seen
	records           prometheus.Gauge       // A records in the managed zone
}

// Public interface for metrics operations
func (m *Metrics) IncSyncRun(status string) {
	if !isValidRunStatus(status) {
		return
	}
	m.syncRuns.WithLabelValues(status).Inc()
	if status == "success" {
		m.lastSuccess.SetToCurrentTime()
	}
}

func (m *Metrics) SetSyncDuration(duration time.Duration) {
	m.syncDuration.Observe(duration.Seconds())
}

func (m *Metrics) IncDecision(action string) {
	if action == "" {
		return
	}
	m.decisions.WithLabelValues(action).Inc()
}

func (m *Metrics) IncDNSRequest(operation string, success bool) {
	if !isValidOperation(operation) {
		return
	}
	m.dnsRequests.WithLabelValues(operation, boolToResult(success)).Inc()
}

func (m *Metrics) IncDirectoryRequest(provider string, success bool) {
	if provider == "" {
		return
	}
	m.directoryRequests.WithLabelValues(provider, boolToResult(success)).Inc()
}

func (m *Metrics) IncArchiveRequest(operation string, success bool) {
	if !isValidOperation(operation) {
		return
	}
	m.archiveRequests.WithLabelValues(operation, boolToResult(success)).Inc()
}

func (m *Metrics) SetInstances(count int) {
	m.instances.Set(float64(count))
}

func (m *Metrics) SetRecords(count int) {
	m.records.Set(float64(count))
}

// Validation helpers
func boolToResult(b bool) string {
	if b {
		return "success"
	}
	return "failure"
}

func isValidOperation(op string) bool {
	switch op {
	case "read", "update", "delete":
		return true
	}
	return false
}

func isValidRunStatus(status string) bool {
	switch status {
	case "success", "partial", "failure":
		return true
	}
	return false
}

func New(register bool) *Metrics {
	registry := prometheus.NewRegistry()
	namespace := "instance_dns_sync"

	m := &Metrics{
		registry: registry,

		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Total number of reconciliation cycles",
		}, []string{"status"}),

		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of reconciliation cycles in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last fully successful cycle",
		}),

		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Reconciliation decisions by action",
		}, []string{"action"}),

		dnsRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dns_requests_total",
			Help:      "Total DNS provider requests",
		}, []string{"operation", "status"}),

		directoryRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directory_requests_total",
			Help:      "Total compute provider requests",
		}, []string{"provider", "status"}),

		archiveRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_requests_total",
			Help:      "Total snapshot archive requests",
		}, []string{"operation", "status"}),

		instances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "eligible_instances",
			Help:      "Eligible instances seen by the last cycle",
		}),

		records: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "zone_a_records",
			Help:      "A records in the managed zone at the last cycle",
		}),
	}

	if register {
		registry.MustRegister(
			m.syncRuns,
			m.syncDuration,
			m.lastSuccess,
			m.decisions,
			m.dnsRequests,
			m.directoryRequests,
			m.archiveRequests,
			m.instances,
			m.records,
		)
	}
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Push sends the registry to a Prometheus Pushgateway. One-shot runs exit
// before any scrape could happen, so this is how they report.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	return push.New(url, job).Gatherer(m.registry).PushContext(ctx)
}
