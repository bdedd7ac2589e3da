// Package metrics defines the sink interfaces implemented by infra/metrics.
package metrics

import (
	"time"

	"vetdispatch/core/model"
)

// DispatchOutcome summarizes one dispatch lifecycle event (creation,
// acceptance, escalation, expiry) for long-term storage.
type DispatchOutcome struct {
	RequestID string
	Priority  model.Priority
	Status    model.RequestStatus
	Event     string
	Notified  int
	Declined  int
	Tier      int
	Time      time.Time
}

// FanOutLatency records the gateway latency for one notification.
type FanOutLatency struct {
	RequestID string
	VetID     string
	Priority  model.Priority
	Delivered bool
	Latency   time.Duration
}

// Sink records dispatch outcomes for observability purposes. Implementations
// must be safe for concurrent use.
type Sink interface {
	RecordOutcome(DispatchOutcome) error
}

// LatencyRecorder is implemented by sinks able to record fan-out latency.
type LatencyRecorder interface {
	RecordFanOutLatency(recs []FanOutLatency) error
}

// NopSink implements Sink with no-op methods.
type NopSink struct{}

func (NopSink) RecordOutcome(DispatchOutcome) error       { return nil }
func (NopSink) RecordFanOutLatency([]FanOutLatency) error { return nil }
