package audit

import (
	"context"
	"fmt"

	"github.com/okellodev/microgrid/core/events"
	"github.com/okellodev/microgrid/core/logger"
	"github.com/okellodev/microgrid/internal/eventbus"
)

// Recorder subscribes to the event bus and persists every auditable event.
// Store failures are logged, never propagated into the decision path.
type Recorder struct {
	store Store
	bus   eventbus.EventBus
	log   logger.Logger
}

// NewRecorder wires a store to the bus.
func NewRecorder(store Store, bus eventbus.EventBus, log logger.Logger) (*Recorder, error) {
	if store == nil || bus == nil || log == nil {
		return nil, fmt.Errorf("audit: nil parameter provided to NewRecorder")
	}
	return &Recorder{store: store, bus: bus, log: log}, nil
}

// Run consumes bus events until the context is cancelled or the bus closes.
func (r *Recorder) Run(ctx context.Context) {
	sub := r.bus.Subscribe()
	defer r.bus.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if rec, ok := toRecord(ev); ok {
				if err := r.store.Append(ctx, rec); err != nil {
					r.log.Errorf("audit append: %v", err)
				}
			}
		}
	}
}

func toRecord(ev eventbus.Event) (Record, bool) {
	switch e := ev.(type) {
	case events.DecisionEvent:
		d := e.Decision
		return Record{
			Timestamp: d.Timestamp,
			Kind:      KindDecision,
			Decision:  &d,
			Detail:    fmt.Sprintf("battery=%.1f%% load=%.1fW capacity=%.1fW", e.Battery, e.Load, e.Capacity),
		}, true
	case events.ShedEvent:
		return Record{
			Timestamp: e.Time,
			Kind:      KindShed,
			ZoneID:    e.ZoneID,
			Detail:    fmt.Sprintf("tier=%s reason=%s", e.Tier, e.Reason),
		}, true
	case events.OverrideEvent:
		verdict := "accepted"
		if !e.Accepted {
			verdict = "rejected: " + e.Reason
		}
		return Record{
			Timestamp: e.Time,
			Kind:      KindOverride,
			ZoneID:    e.ZoneID,
			Detail:    fmt.Sprintf("%s by %s %s", e.Target, e.Issuer, verdict),
		}, true
	case events.CommandFailedEvent:
		return Record{
			Timestamp: e.Time,
			Kind:      KindCommandFailed,
			ZoneID:    e.ZoneID,
			Detail:    fmt.Sprintf("target=%s tier=%s", e.Target, e.Tier),
		}, true
	case events.TransitionEvent:
		return Record{
			Timestamp: e.Time,
			Kind:      KindTransition,
			ZoneID:    e.To.ZoneID,
			Detail:    fmt.Sprintf("%s -> %s: %s", e.From.Mode, e.To.Mode, e.Reason),
		}, true
	default:
		return Record{}, false
	}
}
