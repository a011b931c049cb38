package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ipguardian"

var (
	// Reconciler
	ReconcilerTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconciler",
		Name:      "ticks_total",
		Help:      "Total reconciler ticks",
	})

	ReconcilerTickErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconciler",
		Name:      "tick_errors_total",
		Help:      "Total reconciler ticks that could not load due payments",
	})

	ReconcilerTickLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "reconciler",
		Name:      "tick_duration_seconds",
		Help:      "Reconciler tick processing duration",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	ReconcilerLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconciler",
		Name:      "lookups_total",
		Help:      "Status lookups by result (pending, terminal, error)",
	}, []string{"result"})

	// Payments
	PaymentsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payments",
		Name:      "created_total",
		Help:      "Total payment records created",
	}, []string{"source_chain", "dest_chain"})

	PaymentTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payments",
		Name:      "transitions_total",
		Help:      "Applied status transitions by target status and settlement",
	}, []string{"status", "settlement"})

	// Quotes
	QuotesServed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "quotes",
		Name:      "served_total",
		Help:      "Total quotes returned",
	})

	QuotesStale = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "quotes",
		Name:      "stale_total",
		Help:      "Quotes superseded by a newer request before they were returned",
	})

	// HTTP
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status code",
	}, []string{"method", "route", "code"})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	// Outbound bridge calls
	BridgeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bridge",
		Name:      "requests_total",
		Help:      "Outbound status source requests by source and outcome",
	}, []string{"source", "outcome"})
)
