// Package metrics provides the sink implementations behind core/metrics.
package metrics

import (
	coremetrics "vetdispatch/core/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// PromSink records dispatch outcomes in Prometheus metrics.
type PromSink struct {
	outcomes *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewPromSink registers dispatch metrics on the default Prometheus registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_outcomes_total",
		Help: "Total number of dispatch lifecycle events",
	}, []string{"event", "priority", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notification_fanout_seconds",
		Help:    "Gateway latency per notification",
		Buckets: prometheus.DefBuckets,
	}, []string{"priority", "delivered"})

	if err := reg.Register(outcomes); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			outcomes = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(latency); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			latency = are.ExistingCollector.(*prometheus.HistogramVec)
		} else {
			return nil, err
		}
	}

	return &PromSink{outcomes: outcomes, latency: latency}, nil
}

// RecordOutcome increments the counter for one lifecycle event.
func (s *PromSink) RecordOutcome(o coremetrics.DispatchOutcome) error {
	s.outcomes.WithLabelValues(o.Event, o.Priority.String(), string(o.Status)).Inc()
	return nil
}

// RecordFanOutLatency records the gateway latency histogram.
func (s *PromSink) RecordFanOutLatency(recs []coremetrics.FanOutLatency) error {
	for _, r := range recs {
		delivered := "false"
		if r.Delivered {
			delivered = "true"
		}
		s.latency.WithLabelValues(r.Priority.String(), delivered).Observe(r.Latency.Seconds())
	}
	return nil
}
