package command

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	commandsIssued  *prometheus.CounterVec
	commandRetries  *prometheus.CounterVec
	commandFailures *prometheus.CounterVec
	ackLatency      *prometheus.HistogramVec
	ackRate         prometheus.Gauge
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.CounterVec, *prometheus.CounterVec, *prometheus.CounterVec, *prometheus.HistogramVec, prometheus.Gauge) {
	issued := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_commands_total",
			Help: "Number of relay commands issued",
		},
		[]string{"zone", "target"},
	)
	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_command_retries_total",
			Help: "Number of relay command retries",
		},
		[]string{"zone"},
	)
	failures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_command_failures_total",
			Help: "Number of relay commands that exhausted their retry budget",
		},
		[]string{"zone"},
	)
	latency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_ack_latency_seconds",
			Help:    "Latency from command publish to acknowledgment",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"zone"},
	)
	rate := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_ack_rate",
			Help: "Acknowledgment rate of the last dispatch round",
		},
	)
	return issued, retries, failures, latency, rate
}

func init() {
	commandsIssued, commandRetries, commandFailures, ackLatency, ackRate = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers command metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(commandsIssued, commandRetries, commandFailures, ackLatency, ackRate)
}

// ResetMetrics reinitializes collectors for testing purposes and registers
// them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	commandsIssued, commandRetries, commandFailures, ackLatency, ackRate = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
