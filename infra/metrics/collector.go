package metrics

import (
	"context"

	"github.com/okellodev/microgrid/core/events"
	coremetrics "github.com/okellodev/microgrid/core/metrics"
	"github.com/okellodev/microgrid/core/model"
	"github.com/okellodev/microgrid/infra/logger"
	"github.com/okellodev/microgrid/internal/eventbus"
)

// Collector bridges the event bus to a metrics sink. Sink errors are logged
// and never reach the decision path.
type Collector struct {
	sink coremetrics.MetricsSink
	bus  eventbus.EventBus
	log  logger.Logger
}

// NewCollector creates a Collector.
func NewCollector(sink coremetrics.MetricsSink, bus eventbus.EventBus, log logger.Logger) *Collector {
	return &Collector{sink: sink, bus: bus, log: log}
}

// Run consumes bus events until the context is cancelled or the bus closes.
func (c *Collector) Run(ctx context.Context) {
	sub := c.bus.Subscribe()
	defer c.bus.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			c.record(ev)
		}
	}
}

func (c *Collector) record(ev eventbus.Event) {
	var err error
	switch e := ev.(type) {
	case events.DecisionEvent:
		on, off := 0, 0
		for _, t := range e.Decision.Targets {
			if t.State == model.RelayOn {
				on++
			} else {
				off++
			}
		}
		err = c.sink.RecordDecision(coremetrics.DecisionRecord{
			Battery:   e.Battery,
			Load:      e.Load,
			Capacity:  e.Capacity,
			Emergency: e.Decision.Emergency,
			ZonesOn:   on,
			ZonesOff:  off,
			Shed:      len(e.Decision.Shed),
			Time:      e.Decision.Timestamp,
		})
	case events.ShedEvent:
		if r, ok := c.sink.(coremetrics.ShedRecorder); ok {
			err = r.RecordShed(coremetrics.ShedRecord{ZoneID: e.ZoneID, Tier: e.Tier, Reason: e.Reason, Time: e.Time})
		}
	case events.AckEvent:
		if r, ok := c.sink.(coremetrics.CommandRecorder); ok {
			err = r.RecordCommand(coremetrics.CommandRecord{
				ZoneID:       e.ZoneID,
				Target:       e.Target,
				Acknowledged: e.Acknowledged,
				Latency:      e.Latency,
			})
		}
	case events.TransitionEvent:
		if r, ok := c.sink.(coremetrics.TransitionRecorder); ok {
			err = r.RecordTransition(coremetrics.TransitionRecord{
				From:   e.From.Mode,
				To:     e.To.Mode,
				ZoneID: e.To.ZoneID,
				Reason: e.Reason,
				Time:   e.Time,
			})
		}
	}
	if err != nil {
		c.log.Errorf("metrics record: %v", err)
	}
}
