package metrics

import "github.com/gridflex/clpu/core/realtime"

// MultiSink fans records out to multiple sinks.
type MultiSink struct {
	Sinks []Sink
}

// NewMultiSink creates a MultiSink over the provided sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordCycle forwards the record to all sinks, returning the first error.
func (m *MultiSink) RecordCycle(rec CycleRecord) error {
	for _, s := range m.Sinks {
		if err := s.RecordCycle(rec); err != nil {
			return err
		}
	}
	return nil
}

// RecordCurtailment forwards the event to all sinks, returning the first
// error.
func (m *MultiSink) RecordCurtailment(e realtime.Event) error {
	for _, s := range m.Sinks {
		if err := s.RecordCurtailment(e); err != nil {
			return err
		}
	}
	return nil
}
