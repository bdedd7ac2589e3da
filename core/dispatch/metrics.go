package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsCreated *prometheus.CounterVec
	fanOutSent      *prometheus.CounterVec
	fanOutFailures  *prometheus.CounterVec
	fanOutLatency   *prometheus.HistogramVec
	acceptWins      prometheus.Counter
	acceptRaceLost  prometheus.Counter
	declinesTotal   prometheus.Counter
	escalations     *prometheus.CounterVec
	expirations     prometheus.Counter
)

// newCollectors creates new metric collectors.
func newCollectors() {
	requestsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_requests_created_total",
			Help: "Number of dispatch requests created",
		},
		[]string{"priority"},
	)
	fanOutSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_fanout_notices_total",
			Help: "Number of fan-out notices handed to the gateway",
		},
		[]string{"priority"},
	)
	fanOutFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_fanout_failures_total",
			Help: "Number of fan-out notices the gateway gave up on",
		},
		[]string{"priority"},
	)
	fanOutLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_fanout_latency_seconds",
			Help:    "Latency of notice delivery to the gateway",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"priority"},
	)
	acceptWins = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_accepts_total",
		Help: "Number of requests accepted by a veterinarian",
	})
	acceptRaceLost = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_accept_race_losses_total",
		Help: "Number of Accept calls that lost the assignment race",
	})
	declinesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_declines_total",
		Help: "Number of decline responses recorded",
	})
	escalations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_escalations_total",
			Help: "Number of radius escalations",
		},
		[]string{"tier"},
	)
	expirations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_expirations_total",
		Help: "Number of requests expired by the reaper",
	})
}

func init() {
	newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(requestsCreated, fanOutSent, fanOutFailures, fanOutLatency,
		acceptWins, acceptRaceLost, declinesTotal, escalations, expirations)
}

// ResetMetrics reinitializes metric collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
