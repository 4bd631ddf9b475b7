package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okellodev/microgrid/core/balance"
	"github.com/okellodev/microgrid/core/command"
	"github.com/okellodev/microgrid/core/emergency"
	"github.com/okellodev/microgrid/core/engine"
	"github.com/okellodev/microgrid/core/events"
	"github.com/okellodev/microgrid/core/logger"
	"github.com/okellodev/microgrid/core/model"
	"github.com/okellodev/microgrid/core/registry"
	"github.com/okellodev/microgrid/internal/eventbus"
)

// Scheduler drives the periodic decision cycle and handles emergency
// preemption. Cycles never overlap: while the dispatch phase of the
// previous cycle is still running, new ticks are skipped up to MaxSkips,
// after which the scheduler blocks until completion.
type Scheduler struct {
	cfg        Config
	registry   *registry.Registry
	engine     *engine.Engine
	balancer   *balance.Balancer
	emergency  *emergency.Controller
	dispatcher *command.Dispatcher
	bus        eventbus.EventBus
	log        logger.Logger
}

// New creates a Scheduler.
func New(cfg Config, reg *registry.Registry, eng *engine.Engine, bal *balance.Balancer, em *emergency.Controller, disp *command.Dispatcher, bus eventbus.EventBus, log logger.Logger) (*Scheduler, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	if reg == nil || eng == nil || bal == nil || em == nil || disp == nil || log == nil {
		return nil, fmt.Errorf("scheduler: nil parameter provided to New")
	}
	return &Scheduler{
		cfg:        cfg,
		registry:   reg,
		engine:     eng,
		balancer:   bal,
		emergency:  em,
		dispatcher: disp,
		bus:        bus,
		log:        log,
	}, nil
}

// Run blocks until the context is cancelled. Emergency triggers win ties
// against the periodic tick.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(s.cfg.CycleMinutes) * time.Minute)
	defer ticker.Stop()
	triggers := s.emergency.Triggers()

	var cycleDone chan struct{}
	skips := 0

	for {
		// Drain pending emergencies before considering the tick.
		select {
		case st, ok := <-triggers:
			if ok {
				s.preempt(ctx, st)
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			if cycleDone != nil {
				<-cycleDone
			}
			return nil
		case st, ok := <-triggers:
			if !ok {
				return nil
			}
			s.preempt(ctx, st)
		case <-ticker.C:
			if cycleDone != nil {
				select {
				case <-cycleDone:
					cycleDone = nil
					skips = 0
				default:
					skips++
					if skips < s.cfg.MaxSkips {
						s.log.Warnf("previous cycle still dispatching, skipping tick (%d/%d)", skips, s.cfg.MaxSkips)
						continue
					}
					s.log.Warnf("max cycle skips reached, waiting for completion")
					<-cycleDone
					cycleDone = nil
					skips = 0
				}
			}
			done := make(chan struct{})
			cycleDone = done
			go func() {
				defer close(done)
				s.RunCycle(ctx)
			}()
		}
	}
}

// RunCycle executes one full decision cycle: snapshot, engine, balancer,
// emergency overlay, dispatch.
func (s *Scheduler) RunCycle(ctx context.Context) {
	grid := s.registry.Snapshot()
	s.checkFreshness(grid)
	s.emergency.ObserveBattery(grid.Battery)

	d, err := s.engine.Decide(grid)
	if err != nil && !errors.Is(err, engine.ErrPredictorUnavailable) {
		s.log.Errorf("decision failed: %v", err)
		return
	}
	if err != nil {
		s.log.Warnf("recoverable: %v", err)
	}

	es := s.emergency.State()
	d = s.balancer.Validate(d, grid, es)
	d = s.emergency.Apply(d, grid)
	s.publishSheds(d)

	outcomes := s.dispatcher.Dispatch(ctx, d)
	for id, o := range outcomes {
		if o.Err != nil {
			s.log.Warnf("dispatch outcome for %s: %v", id, o.Err)
		}
	}
}

// preempt immediately dispatches an emergency-only decision, bypassing the
// engine. Manual overrides on affected zones are cancelled; the emergency
// state wins.
func (s *Scheduler) preempt(ctx context.Context, st model.EmergencyState) {
	s.log.Warnf("emergency preemption: %s", st.Mode)
	grid := s.registry.Snapshot()
	d := s.emergency.EmergencyDecision(grid)
	for _, z := range grid.Zones {
		if z.Tier != model.TierCritical {
			s.registry.BeginPreemption(z.ID)
		}
	}
	defer func() {
		for _, z := range grid.Zones {
			if z.Tier != model.TierCritical {
				s.registry.EndPreemption(z.ID)
			}
		}
	}()
	s.publishSheds(d)
	s.dispatcher.Dispatch(ctx, d)
}

// checkFreshness flags zones whose last reading is older than the
// freshness window. Stale Critical zones escalate to the emergency
// controller.
func (s *Scheduler) checkFreshness(grid model.GridState) {
	window := time.Duration(s.cfg.StaleMinutes) * time.Minute
	now := time.Now()
	for _, z := range grid.Zones {
		ts := z.Reading.Timestamp
		if ts.IsZero() {
			continue
		}
		age := now.Sub(ts)
		if age <= window {
			continue
		}
		s.log.Warnf("stale data for %s: %.1f minutes old", z.ID, age.Minutes())
		s.emergency.ObserveStaleData(z, age)
	}
}

func (s *Scheduler) publishSheds(d model.Decision) {
	if s.bus == nil {
		return
	}
	for _, shed := range d.Shed {
		s.bus.Publish(events.ShedEvent{ZoneID: shed.ZoneID, Tier: shed.Tier, Reason: shed.Reason, Time: d.Timestamp})
	}
}
