package metrics

import coremetrics "vetdispatch/core/metrics"

// MultiSink fans outcomes out to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordOutcome forwards the record to all sinks, returning the first error
// encountered.
func (m *MultiSink) RecordOutcome(o coremetrics.DispatchOutcome) error {
	for _, s := range m.Sinks {
		if err := s.RecordOutcome(o); err != nil {
			return err
		}
	}
	return nil
}

// RecordFanOutLatency forwards latency records to the sinks that support
// them.
func (m *MultiSink) RecordFanOutLatency(recs []coremetrics.FanOutLatency) error {
	for _, s := range m.Sinks {
		if lr, ok := s.(coremetrics.LatencyRecorder); ok {
			if err := lr.RecordFanOutLatency(recs); err != nil {
				return err
			}
		}
	}
	return nil
}
