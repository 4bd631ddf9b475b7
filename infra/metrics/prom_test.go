package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	coremetrics "github.com/okellodev/microgrid/core/metrics"
	"github.com/okellodev/microgrid/core/model"
)

func TestPromSink_RecordDecision(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg)
	if err != nil {
		t.Fatalf("sink: %v", err)
	}
	err = sink.RecordDecision(coremetrics.DecisionRecord{
		Battery:  42,
		Load:     500,
		Capacity: 1000,
		ZonesOn:  3,
		Time:     time.Now(),
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if got := testutil.ToFloat64(sink.battery); got != 42 {
		t.Fatalf("battery gauge = %v", got)
	}
	if got := testutil.ToFloat64(sink.decisions.WithLabelValues("false")); got != 1 {
		t.Fatalf("decision counter = %v", got)
	}
}

func TestPromSink_RecordShedAndTransition(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg)
	if err != nil {
		t.Fatalf("sink: %v", err)
	}
	_ = sink.RecordShed(coremetrics.ShedRecord{ZoneID: "z4", Tier: model.TierDeferrable, Reason: model.ShedRebalance})
	_ = sink.RecordTransition(coremetrics.TransitionRecord{From: model.EmergencyNormal, To: model.EmergencyBatteryCritical})

	if got := testutil.ToFloat64(sink.sheds.WithLabelValues("deferrable", "rebalance")); got != 1 {
		t.Fatalf("shed counter = %v", got)
	}
	if got := testutil.ToFloat64(sink.transitions.WithLabelValues("normal", "battery-critical")); got != 1 {
		t.Fatalf("transition counter = %v", got)
	}
}

func TestPromSink_DoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg); err != nil {
		t.Fatalf("first sink: %v", err)
	}
	if _, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg); err != nil {
		t.Fatalf("second sink rejected: %v", err)
	}
}
