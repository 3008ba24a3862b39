package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ProposalTracker/internal/domain"
)

const namespace = "proposal_tracker"

// Metrics owns a private registry so tests and multiple instances never
// collide on the global one. All methods are safe on a nil receiver.
type Metrics struct {
	registry      *prometheus.Registry
	fires         *prometheus.CounterVec
	fireDuration  prometheus.Histogram
	newProposals  *prometheus.CounterVec
	fetchFailures *prometheus.CounterVec
	channelSends  *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fires: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_runs_total",
				Help:      "Check pipeline runs by trigger and outcome",
			},
			[]string{"trigger", "outcome"},
		),
		fireDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_duration_seconds",
				Help:      "Check pipeline duration in seconds",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
			},
		),
		newProposals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "new_proposals_total",
				Help:      "Newly detected proposals by protocol",
			},
			[]string{"protocol"},
		),
		fetchFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_failures_total",
				Help:      "Failed listing fetches by protocol",
			},
			[]string{"protocol"},
		),
		channelSends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Notification dispatches by channel and outcome",
			},
			[]string{"channel", "outcome"},
		),
	}

	m.registry.MustRegister(
		m.fires,
		m.fireDuration,
		m.newProposals,
		m.fetchFailures,
		m.channelSends,
	)

	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// PipelineRun records one finished pipeline run.
func (m *Metrics) PipelineRun(manual, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	trigger := "schedule"
	if manual {
		trigger = "manual"
	}
	m.fires.WithLabelValues(trigger, outcome(success)).Inc()
	m.fireDuration.Observe(elapsed.Seconds())
}

// NewProposals adds n detected proposals for protocol.
func (m *Metrics) NewProposals(protocol domain.Protocol, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.newProposals.WithLabelValues(string(protocol)).Add(float64(n))
}

// FetchFailed counts one failed fetch of protocol.
func (m *Metrics) FetchFailed(protocol domain.Protocol) {
	if m == nil {
		return
	}
	m.fetchFailures.WithLabelValues(string(protocol)).Inc()
}

// ChannelSent counts one dispatch on channel.
func (m *Metrics) ChannelSent(channel domain.Channel, ok bool) {
	if m == nil {
		return
	}
	m.channelSends.WithLabelValues(string(channel), outcome(ok)).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
