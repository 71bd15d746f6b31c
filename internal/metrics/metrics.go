package metrics

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

const namespace = "ddcloud"

// Metrics holds the collectors for one process. Each instance owns its
// registry so short-lived CLI runs and tests never share state.
type Metrics struct {
	registry *prometheus.Registry

	APICallDuration  *prometheus.HistogramVec
	APIErrors        *prometheus.CounterVec
	NodesCreated     *prometheus.CounterVec
	NodesDestroyed   *prometheus.CounterVec
	CreationFailures *prometheus.CounterVec
	CreationDuration *prometheus.HistogramVec
	IPWaitDuration   prometheus.Histogram
	IPWaitAttempts   prometheus.Histogram
	IPWaits          *prometheus.CounterVec
}

// IP wait outcomes
const (
	WaitSucceeded = "ok"
	WaitTimedOut  = "timeout"
	WaitFailed    = "failure"
)

// New creates and registers every collector
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		APICallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_call_duration_seconds",
				Help:      "Duration of CloudControl API calls",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"operation", "status"},
		),

		APIErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_errors_total",
				Help:      "CloudControl API calls that failed or returned an error status",
			},
			[]string{"operation", "status"},
		),

		NodesCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "nodes_created_total",
				Help:      "Nodes created and bootstrapped",
			},
			[]string{"provider"},
		),

		NodesDestroyed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "nodes_destroyed_total",
				Help:      "Nodes destroyed, including cleanup after a failed creation",
			},
			[]string{"provider"},
		),

		CreationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_creation_failures_total",
				Help:      "Node creations that did not complete",
			},
			[]string{"provider", "reason"},
		),

		CreationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "node_creation_duration_seconds",
				Help:      "Time from creation request to bootstrapped node",
				Buckets:   prometheus.ExponentialBuckets(10, 2, 10),
			},
			[]string{"provider"},
		),

		IPWaitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ip_wait_duration_seconds",
				Help:      "Time spent waiting for a new node to report an address",
				Buckets:   prometheus.ExponentialBuckets(5, 2, 10),
			},
		),

		IPWaitAttempts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ip_wait_attempts",
				Help:      "Polling attempts made while waiting for a node address",
				Buckets:   prometheus.LinearBuckets(1, 5, 12),
			},
		),

		IPWaits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ip_waits_total",
				Help:      "Finished IP waits by outcome",
			},
			[]string{"outcome"},
		),
	}

	m.registry.MustRegister(
		m.APICallDuration,
		m.APIErrors,
		m.NodesCreated,
		m.NodesDestroyed,
		m.CreationFailures,
		m.CreationDuration,
		m.IPWaitDuration,
		m.IPWaitAttempts,
		m.IPWaits,
	)

	return m
}

// Registry exposes the underlying registry, e.g. for a /metrics handler
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveAPICall records one API round trip; status 0 means no response
func (m *Metrics) ObserveAPICall(operation string, status int, duration time.Duration) {
	code := strconv.Itoa(status)
	m.APICallDuration.WithLabelValues(operation, code).Observe(duration.Seconds())
	if status == 0 || status >= 400 {
		m.APIErrors.WithLabelValues(operation, code).Inc()
	}
}

func (m *Metrics) NodeCreated(provider string, duration time.Duration) {
	m.NodesCreated.WithLabelValues(provider).Inc()
	m.CreationDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func (m *Metrics) NodeCreationFailed(provider, reason string) {
	m.CreationFailures.WithLabelValues(provider, reason).Inc()
}

func (m *Metrics) NodeDestroyed(provider string) {
	m.NodesDestroyed.WithLabelValues(provider).Inc()
}

// ObserveIPWait records a finished wait, successful or not
func (m *Metrics) ObserveIPWait(duration time.Duration, attempts int, outcome string) {
	m.IPWaitDuration.Observe(duration.Seconds())
	m.IPWaitAttempts.Observe(float64(attempts))
	m.IPWaits.WithLabelValues(outcome).Inc()
}

// WriteText renders every metric family in the Prometheus text format
func (m *Metrics) WriteText(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("failed to encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// WriteFile writes the text format to path atomically, for node_exporter's textfile collector
func (m *Metrics) WriteFile(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ddcloud-metrics-*")
	if err != nil {
		return fmt.Errorf("failed to create metrics file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := m.WriteText(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close metrics file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
