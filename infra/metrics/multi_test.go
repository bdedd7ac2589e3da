package metrics

import (
	"errors"
	"testing"

	coremetrics "vetdispatch/core/metrics"
	"vetdispatch/core/model"
)

type recordingSink struct {
	outcomes  int
	latencies int
	err       error
}

func (s *recordingSink) RecordOutcome(coremetrics.DispatchOutcome) error {
	s.outcomes++
	return s.err
}

func (s *recordingSink) RecordFanOutLatency([]coremetrics.FanOutLatency) error {
	s.latencies++
	return s.err
}

// outcomeOnlySink does not implement LatencyRecorder.
type outcomeOnlySink struct{ outcomes int }

func (s *outcomeOnlySink) RecordOutcome(coremetrics.DispatchOutcome) error {
	s.outcomes++
	return nil
}

func TestMultiSinkForwardsToAll(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	plain := &outcomeOnlySink{}
	m := NewMultiSink(a, b, plain)

	if err := m.RecordOutcome(coremetrics.DispatchOutcome{Priority: model.PriorityNormal}); err != nil {
		t.Fatal(err)
	}
	if a.outcomes != 1 || b.outcomes != 1 || plain.outcomes != 1 {
		t.Fatalf("outcomes = %d/%d/%d", a.outcomes, b.outcomes, plain.outcomes)
	}

	if err := m.RecordFanOutLatency([]coremetrics.FanOutLatency{{}}); err != nil {
		t.Fatal(err)
	}
	// Sinks without latency support are skipped, not failed.
	if a.latencies != 1 || b.latencies != 1 {
		t.Fatalf("latencies = %d/%d", a.latencies, b.latencies)
	}
}

func TestMultiSinkReturnsFirstError(t *testing.T) {
	boom := errors.New("sink down")
	bad := &recordingSink{err: boom}
	after := &recordingSink{}
	m := NewMultiSink(bad, after)

	if err := m.RecordOutcome(coremetrics.DispatchOutcome{}); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if after.outcomes != 0 {
		t.Fatalf("later sink still called %d times", after.outcomes)
	}
}
