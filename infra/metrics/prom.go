package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/okellodev/microgrid/core/metrics"
)

// PromSink records engine activity in Prometheus metrics.
type PromSink struct {
	battery     prometheus.Gauge
	load        prometheus.Gauge
	capacity    prometheus.Gauge
	zonesOn     prometheus.Gauge
	decisions   *prometheus.CounterVec
	sheds       *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

// NewPromSink registers engine metrics on the default Prometheus registerer.
// The Prometheus server should be started separately using cfg.PrometheusPort.
func NewPromSink(cfg coremetrics.Config) (*PromSink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(cfg coremetrics.Config, reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		battery: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grid_battery_percentage",
			Help: "Overall battery percentage",
		}),
		load: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grid_committed_load_watts",
			Help: "Committed load after the last decision",
		}),
		capacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grid_capacity_watts",
			Help: "Total available input power",
		}),
		zonesOn: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grid_zones_energized",
			Help: "Number of zones decided on in the last cycle",
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_decisions_total",
			Help: "Total number of committed decisions",
		}, []string{"emergency"}),
		sheds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_shed_total",
			Help: "Total number of zones shed",
		}, []string{"tier", "reason"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_emergency_transitions_total",
			Help: "Total number of emergency state transitions",
		}, []string{"from", "to"}),
	}
	for _, c := range []prometheus.Collector{s.battery, s.load, s.capacity, s.zonesOn, s.decisions, s.sheds, s.transitions} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return nil, err
			}
		}
	}
	return s, nil
}

// RecordDecision updates the gauges and the decision counter.
func (s *PromSink) RecordDecision(rec coremetrics.DecisionRecord) error {
	s.battery.Set(rec.Battery)
	s.load.Set(rec.Load)
	s.capacity.Set(rec.Capacity)
	s.zonesOn.Set(float64(rec.ZonesOn))
	s.decisions.WithLabelValues(strconv.FormatBool(rec.Emergency)).Inc()
	return nil
}

// RecordShed increments the shed counter.
func (s *PromSink) RecordShed(rec coremetrics.ShedRecord) error {
	s.sheds.WithLabelValues(rec.Tier.String(), rec.Reason.String()).Inc()
	return nil
}

// RecordTransition increments the transition counter.
func (s *PromSink) RecordTransition(rec coremetrics.TransitionRecord) error {
	s.transitions.WithLabelValues(rec.From.String(), rec.To.String()).Inc()
	return nil
}
