package metrics

import coremetrics "github.com/okellodev/microgrid/core/metrics"

// MultiSink fans records out to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordDecision forwards the record to all sinks, returning the first
// error encountered.
func (m *MultiSink) RecordDecision(rec coremetrics.DecisionRecord) error {
	for _, s := range m.Sinks {
		if err := s.RecordDecision(rec); err != nil {
			return err
		}
	}
	return nil
}

// RecordShed forwards shed records.
func (m *MultiSink) RecordShed(rec coremetrics.ShedRecord) error {
	for _, s := range m.Sinks {
		if r, ok := s.(coremetrics.ShedRecorder); ok {
			if err := r.RecordShed(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordCommand forwards command records.
func (m *MultiSink) RecordCommand(rec coremetrics.CommandRecord) error {
	for _, s := range m.Sinks {
		if r, ok := s.(coremetrics.CommandRecorder); ok {
			if err := r.RecordCommand(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordTransition forwards emergency transition records.
func (m *MultiSink) RecordTransition(rec coremetrics.TransitionRecord) error {
	for _, s := range m.Sinks {
		if r, ok := s.(coremetrics.TransitionRecorder); ok {
			if err := r.RecordTransition(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordZoneState forwards zone snapshots.
func (m *MultiSink) RecordZoneState(rec coremetrics.ZoneStateRecord) error {
	for _, s := range m.Sinks {
		if r, ok := s.(coremetrics.ZoneStateRecorder); ok {
			if err := r.RecordZoneState(rec); err != nil {
				return err
			}
		}
	}
	return nil
}
