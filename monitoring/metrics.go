// Package monitoring provides Prometheus metrics for the consortium node.
// All recording methods are safe to call on a nil *Metrics.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the node.
type Metrics struct {
	// Membership metrics
	MembershipRequests  prometheus.Counter
	MembershipDecisions *prometheus.CounterVec
	Members             prometheus.Gauge
	PendingRequests     prometheus.Gauge

	// Transaction metrics
	TransactionsTotal prometheus.Counter
	PoolSize          prometheus.Gauge

	// Consensus metrics
	ProposalsTotal prometheus.Counter
	BlockVotes     *prometheus.CounterVec
	BlockOutcomes  *prometheus.CounterVec
	BlockSize      prometheus.Histogram
	ChainHeight    prometheus.Gauge

	// Scheduler metrics
	SweepsTotal   prometheus.Counter
	SweepDuration prometheus.Histogram
	Notifications *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics registers the node metrics with reg under namespace.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MembershipRequests: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "membership_requests_total",
			Help:      "Total number of membership requests received",
		}),
		MembershipDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "membership_decisions_total",
			Help:      "Membership requests resolved by outcome",
		}, []string{"outcome"}),
		Members: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "members",
			Help:      "Current number of approved members",
		}),
		PendingRequests: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "membership_pending",
			Help:      "Current number of pending membership requests",
		}),

		TransactionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Total number of transactions submitted",
		}),
		PoolSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_size",
			Help:      "Current number of pending transactions in the pool",
		}),

		ProposalsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposals_total",
			Help:      "Total number of block proposals",
		}),
		BlockVotes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "block_votes_total",
			Help:      "Block votes by decision",
		}, []string{"decision"}),
		BlockOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "block_outcomes_total",
			Help:      "Resolved block proposals by outcome",
		}, []string{"outcome"}),
		BlockSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "block_size",
			Help:      "Number of transactions per proposed block",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		ChainHeight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chain_height",
			Help:      "Index of the ledger head",
		}),

		SweepsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Total number of timeout sweeps",
		}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Timeout sweep duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications dispatched by kind and status",
		}, []string{"kind", "status"}),

		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by route and status code",
		}, []string{"route", "code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// RecordMembershipRequest counts a new admission request.
func (m *Metrics) RecordMembershipRequest() {
	if m == nil {
		return
	}
	m.MembershipRequests.Inc()
}

// RecordMembershipDecision counts a resolved request.
func (m *Metrics) RecordMembershipDecision(outcome string) {
	if m == nil {
		return
	}
	m.MembershipDecisions.WithLabelValues(outcome).Inc()
}

// UpdateMembership updates the member and pending gauges.
func (m *Metrics) UpdateMembership(members, pending int) {
	if m == nil {
		return
	}
	m.Members.Set(float64(members))
	m.PendingRequests.Set(float64(pending))
}

// RecordTransaction counts a submitted transaction.
func (m *Metrics) RecordTransaction() {
	if m == nil {
		return
	}
	m.TransactionsTotal.Inc()
}

// UpdatePoolSize updates the pool gauge.
func (m *Metrics) UpdatePoolSize(size int) {
	if m == nil {
		return
	}
	m.PoolSize.Set(float64(size))
}

// RecordProposal counts a proposal and observes its size.
func (m *Metrics) RecordProposal(transactions int) {
	if m == nil {
		return
	}
	m.ProposalsTotal.Inc()
	m.BlockSize.Observe(float64(transactions))
}

// RecordBlockVote counts a vote on a proposal.
func (m *Metrics) RecordBlockVote(approve bool) {
	if m == nil {
		return
	}
	decision := "reject"
	if approve {
		decision = "approve"
	}
	m.BlockVotes.WithLabelValues(decision).Inc()
}

// RecordBlockOutcome counts a resolved proposal.
func (m *Metrics) RecordBlockOutcome(outcome string) {
	if m == nil {
		return
	}
	m.BlockOutcomes.WithLabelValues(outcome).Inc()
}

// UpdateChainHeight sets the head index gauge.
func (m *Metrics) UpdateChainHeight(index int64) {
	if m == nil {
		return
	}
	m.ChainHeight.Set(float64(index))
}

// RecordSweep records a completed timeout sweep.
func (m *Metrics) RecordSweep(duration time.Duration) {
	if m == nil {
		return
	}
	m.SweepsTotal.Inc()
	m.SweepDuration.Observe(duration.Seconds())
}

// RecordNotification counts a delivered or failed notification.
func (m *Metrics) RecordNotification(kind string, success bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !success {
		status = "error"
	}
	m.Notifications.WithLabelValues(kind, status).Inc()
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(route, code string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, code).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}
