package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/okellodev/microgrid/core/metrics"
	"github.com/okellodev/microgrid/infra/logger"
)

// InfluxSink writes engine events to an InfluxDB instance using the
// official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB
// endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and returns
// a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordDecision writes one committed decision cycle.
func (s *InfluxSink) RecordDecision(rec coremetrics.DecisionRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("grid_decision").
		AddTag("emergency", strconv.FormatBool(rec.Emergency)).
		AddTag("component", "decision_engine").
		AddField("battery", round3(rec.Battery)).
		AddField("load_w", round3(rec.Load)).
		AddField("capacity_w", round3(rec.Capacity)).
		AddField("zones_on", rec.ZonesOn).
		AddField("zones_off", rec.ZonesOff).
		AddField("shed", rec.Shed).
		SetTime(rec.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordShed writes one shed event.
func (s *InfluxSink) RecordShed(rec coremetrics.ShedRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("grid_shed").
		AddTag("zone_id", rec.ZoneID).
		AddTag("tier", rec.Tier.String()).
		AddTag("reason", rec.Reason.String()).
		AddField("count", 1).
		SetTime(rec.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordCommand writes one command outcome.
func (s *InfluxSink) RecordCommand(rec coremetrics.CommandRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("relay_command").
		AddTag("zone_id", rec.ZoneID).
		AddTag("target", rec.Target.String()).
		AddTag("acknowledged", strconv.FormatBool(rec.Acknowledged)).
		AddField("attempts", rec.Attempts).
		AddField("latency_ms", round3(rec.Latency.Seconds()*1000)).
		SetTime(rec.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordTransition writes one emergency transition.
func (s *InfluxSink) RecordTransition(rec coremetrics.TransitionRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("emergency_transition").
		AddTag("from", rec.From.String()).
		AddTag("to", rec.To.String()).
		AddTag("zone_id", rec.ZoneID).
		AddField("reason", rec.Reason).
		SetTime(rec.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordZoneState writes a telemetry snapshot of a zone.
func (s *InfluxSink) RecordZoneState(rec coremetrics.ZoneStateRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	z := rec.Zone
	p := write.NewPointWithMeasurement("zone_state").
		AddTag("zone_id", z.ID).
		AddTag("tier", z.Tier.String()).
		AddTag("relay", z.Relay.String()).
		AddField("battery_voltage", round3(z.Reading.BatteryVoltage)).
		AddField("input_w", round3(z.Reading.InputPower)).
		AddField("output_w", round3(z.Reading.OutputPower)).
		AddField("solar_w", round3(z.Reading.SolarGeneration)).
		AddField("battery_pct", round3(z.Reading.BatteryPercentage)).
		SetTime(rec.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// Close releases the underlying client.
func (s *InfluxSink) Close() {
	s.client.Close()
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
