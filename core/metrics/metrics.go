package metrics

import (
	"time"

	"github.com/okellodev/microgrid/core/model"
)

// DecisionRecord captures one committed decision cycle.
type DecisionRecord struct {
	Battery   float64
	Load      float64
	Capacity  float64
	Emergency bool
	ZonesOn   int
	ZonesOff  int
	Shed      int
	Time      time.Time
}

// MetricsSink records engine activity for observability purposes.
type MetricsSink interface {
	RecordDecision(rec DecisionRecord) error
}

// ShedRecord captures one zone turned off for capacity or safety reasons.
type ShedRecord struct {
	ZoneID string
	Tier   model.Tier
	Reason model.ShedReason
	Time   time.Time
}

// ShedRecorder records shed events.
type ShedRecorder interface {
	RecordShed(rec ShedRecord) error
}

// CommandRecord captures one relay command outcome.
type CommandRecord struct {
	ZoneID       string
	Target       model.RelayState
	Acknowledged bool
	Attempts     int
	Latency      time.Duration
	Time         time.Time
}

// CommandRecorder records command outcomes.
type CommandRecorder interface {
	RecordCommand(rec CommandRecord) error
}

// TransitionRecord captures one emergency state transition.
type TransitionRecord struct {
	From   model.EmergencyMode
	To     model.EmergencyMode
	ZoneID string
	Reason string
	Time   time.Time
}

// TransitionRecorder records emergency transitions.
type TransitionRecorder interface {
	RecordTransition(rec TransitionRecord) error
}

// ZoneStateRecord is a telemetry snapshot of a zone.
type ZoneStateRecord struct {
	Zone model.Zone
	Time time.Time
}

// ZoneStateRecorder records zone snapshots.
type ZoneStateRecorder interface {
	RecordZoneState(rec ZoneStateRecord) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordDecision(DecisionRecord) error     { return nil }
func (NopSink) RecordShed(ShedRecord) error             { return nil }
func (NopSink) RecordCommand(CommandRecord) error       { return nil }
func (NopSink) RecordTransition(TransitionRecord) error { return nil }
func (NopSink) RecordZoneState(ZoneStateRecord) error   { return nil }
