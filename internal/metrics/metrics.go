package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Infraction & sanction metrics
var (
	// InfractionsRecorded tracks recorded infractions by rule.
	InfractionsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_infractions_recorded_total",
			Help: "Total infractions recorded by rule",
		},
		[]string{"rule"},
	)

	// InfractionsRetracted tracks retracted infractions.
	InfractionsRetracted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_infractions_retracted_total",
			Help: "Total infractions retracted",
		},
	)

	// SanctionsApplied tracks applied sanctions by kind and whether the
	// application created a new sanction or extended an existing one.
	SanctionsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_sanctions_applied_total",
			Help: "Total sanctions applied by kind and outcome (new/extended)",
		},
		[]string{"kind", "outcome"},
	)

	// SanctionsLifted tracks lifted sanctions by kind and trigger (expiry/manual).
	SanctionsLifted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_sanctions_lifted_total",
			Help: "Total sanctions lifted by kind and trigger",
		},
		[]string{"kind", "trigger"},
	)

	// ActiveSanctions tracks currently active sanctions by kind.
	ActiveSanctions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warden_active_sanctions",
			Help: "Currently active sanctions by kind",
		},
		[]string{"kind"},
	)
)

// Enforcer metrics
var (
	// EnforcerCalls tracks enforcer calls by operation and status.
	EnforcerCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_enforcer_calls_total",
			Help: "Total enforcer calls by operation and status",
		},
		[]string{"operation", "status"},
	)

	// EnforcerCallDuration tracks enforcer call latency in seconds.
	EnforcerCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warden_enforcer_call_duration_seconds",
			Help:    "Enforcer call duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	// ActionRequiredAlerts tracks lifts that exhausted their retry budget
	// and need manual intervention.
	ActionRequiredAlerts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_action_required_alerts_total",
			Help: "Sanction lifts that exhausted retries and need manual intervention",
		},
	)

	// CircuitBreakerState tracks enforcer circuit breaker state
	// (0=closed, 1=half-open, 2=open).
	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_enforcer_circuit_breaker_state",
			Help: "Enforcer circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)
)

// Sweep & coordination metrics
var (
	// SweepDuration tracks expiry sweep duration in seconds.
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warden_sweep_duration_seconds",
			Help:    "Expiry sweep duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	// SweepLiftsProcessed tracks lift attempts per sweep by result.
	SweepLiftsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_sweep_lifts_total",
			Help: "Lift attempts by the expiry sweep by result",
		},
		[]string{"result"},
	)

	// LeaderStatus reports whether this instance currently owns the sweep.
	LeaderStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_sweep_leader",
			Help: "1 if this instance is the sweep leader, 0 otherwise",
		},
	)

	// PubSubMessagesPublished tracks published sanction events by channel.
	PubSubMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_pubsub_messages_published_total",
			Help: "Pub/sub messages published by channel",
		},
		[]string{"channel"},
	)

	// PubSubMessagesReceived tracks received sanction events by channel.
	PubSubMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_pubsub_messages_received_total",
			Help: "Pub/sub messages received by channel",
		},
		[]string{"channel"},
	)
)
