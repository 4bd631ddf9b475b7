package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/okellodev/microgrid/core/events"
	"github.com/okellodev/microgrid/core/logger"
	"github.com/okellodev/microgrid/core/model"
	"github.com/okellodev/microgrid/core/prediction"
	"github.com/okellodev/microgrid/internal/eventbus"
)

// ErrPredictorUnavailable signals that the engine fell back to its
// conservative static policy because the predictor did not respond. The
// decision returned alongside it is valid and must still be dispatched.
var ErrPredictorUnavailable = errors.New("predictor unavailable")

// Efficiency admission thresholds per tier, normal and conservation mode.
// Taken from the operating modes of the deployed controller.
const (
	semiCriticalEfficiency             = 0.6
	semiCriticalConservationEfficiency = 0.7
	nonCriticalEfficiency              = 0.7
	nonCriticalConservationEfficiency  = 0.8
	nonCriticalSustainHours            = 4.0
	nonCriticalDemandFloor             = 0.5

	// Zones whose telemetry scores at or above this are held off until the
	// readings look sane again.
	anomalyCutoff = 0.8
)

// Engine produces the per-cycle decision: a greedy pass over the immediate
// tiers followed by a DP pass scheduling deferrable zones into horizon
// slots.
type Engine struct {
	cfg  Config
	pred prediction.Predictor
	log  logger.Logger
	bus  eventbus.EventBus

	now func() time.Time
}

// New creates an Engine. The bus may be nil when no audit stream is wired.
func New(cfg Config, pred prediction.Predictor, bus eventbus.EventBus, log logger.Logger) (*Engine, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if pred == nil {
		return nil, fmt.Errorf("engine: nil predictor")
	}
	if log == nil {
		return nil, fmt.Errorf("engine: nil logger")
	}
	return &Engine{cfg: cfg, pred: pred, log: log, bus: bus, now: time.Now}, nil
}

// Decide computes the decision for the given snapshot. When the predictor is
// unreachable the conservative static policy is returned together with
// ErrPredictorUnavailable; callers dispatch the decision and treat the error
// as a recoverable condition.
func (e *Engine) Decide(grid model.GridState) (model.Decision, error) {
	now := e.now()
	sustain, err := e.pred.BatteryHoursRemaining()
	if err != nil {
		e.log.Warnf("predictor unavailable, using conservative policy: %v", err)
		return e.Conservative(grid, now), fmt.Errorf("%w: %v", ErrPredictorUnavailable, err)
	}

	d := model.NewDecision(now)
	budget := grid.Capacity * model.SafetyMargin
	load := 0.0

	// Greedy pass, strict tier order, ascending zone id within a tier.
	for _, tier := range []model.Tier{model.TierCritical, model.TierSemiCritical, model.TierNonCritical} {
		for _, z := range grid.ByTier(tier) {
			target, admitted := e.admit(z, grid, sustain, now, load, budget)
			if target.State == model.RelayOn {
				load += z.Load()
			}
			d.Targets[z.ID] = target
			if !admitted && z.Relay == model.RelayOn {
				d.Shed = append(d.Shed, model.Shed{ZoneID: z.ID, Tier: tier, Reason: model.ShedGreedy})
			}
		}
	}

	// DP pass over deferrable zones.
	e.scheduleDeferrable(&d, grid, sustain, now, load)

	// Zones not decided keep their last committed state.
	for _, z := range grid.Zones {
		if _, ok := d.Targets[z.ID]; !ok {
			d.Targets[z.ID] = model.Target{State: z.Relay}
		}
	}

	if e.bus != nil {
		e.bus.Publish(events.DecisionEvent{
			Decision: d,
			Battery:  grid.Battery,
			Load:     load,
			Capacity: grid.Capacity,
		})
	}
	return d, nil
}

// admit applies the tier policy for one non-deferrable zone. The boolean is
// false when a zone that wanted power was excluded for capacity reasons.
func (e *Engine) admit(z model.Zone, grid model.GridState, sustain float64, now time.Time, load, budget float64) (model.Target, bool) {
	// Critical floor: always on. The balancer and emergency controller are
	// the only components allowed to relax this.
	if z.Tier == model.TierCritical {
		return model.Target{State: model.RelayOn}, true
	}

	// A still-active override wins over the admission rules; its validity
	// against tier floors was checked when it was applied.
	if z.Override.Active(now) {
		return model.Target{State: z.Override.Requested, Override: true}, true
	}

	if score, err := e.pred.AnomalyScore(z.ID); err == nil && score >= anomalyCutoff {
		e.log.Warnf("anomalous telemetry for %s (score %.2f), holding off", z.ID, score)
		return model.Target{State: model.RelayOff}, true
	}

	conservation := grid.Battery < model.BatteryLowThreshold
	eff := z.Efficiency()
	want := false
	switch z.Tier {
	case model.TierSemiCritical:
		if conservation {
			want = eff > semiCriticalConservationEfficiency
		} else {
			want = eff > semiCriticalEfficiency
		}
	case model.TierNonCritical:
		if conservation {
			want = eff > nonCriticalConservationEfficiency
		} else {
			want = eff > nonCriticalEfficiency &&
				sustain > nonCriticalSustainHours &&
				demandScore(z.Tier, now.Hour()) >= nonCriticalDemandFloor
		}
	}
	if !want {
		return model.Target{State: model.RelayOff}, true
	}
	if load+z.Load() > budget {
		return model.Target{State: model.RelayOff}, false
	}
	return model.Target{State: model.RelayOn}, true
}

// Conservative is the static fallback policy: Critical on, everything else
// off.
func (e *Engine) Conservative(grid model.GridState, now time.Time) model.Decision {
	d := model.NewDecision(now)
	for _, z := range grid.Zones {
		if z.Tier == model.TierCritical {
			d.Targets[z.ID] = model.Target{State: model.RelayOn}
		} else {
			d.Targets[z.ID] = model.Target{State: model.RelayOff}
		}
	}
	return d
}

// demandScore estimates demand for a tier at the given hour of day,
// mirroring the time windows the loads serve: street lighting at night,
// entertainment in the evening, pumping around morning and dusk.
func demandScore(t model.Tier, hour int) float64 {
	switch t {
	case model.TierSemiCritical:
		if hour >= 18 || hour <= 6 {
			return 1.0
		}
		return 0.3
	case model.TierNonCritical:
		if hour >= 18 && hour <= 23 {
			return 0.8
		}
		return 0.2
	case model.TierDeferrable:
		if (hour >= 6 && hour <= 8) || (hour >= 18 && hour <= 20) {
			return 0.9
		}
		return 0.1
	default:
		return 0.5
	}
}
