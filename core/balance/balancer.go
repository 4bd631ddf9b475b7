package balance

import (
	"gonum.org/v1/gonum/floats"

	"github.com/okellodev/microgrid/core/logger"
	"github.com/okellodev/microgrid/core/model"
)

// Balancer validates an aggregate decision against capacity and the safety
// margin, shedding lowest-priority zones until compliant.
type Balancer struct {
	log logger.Logger
}

// New returns a Balancer.
func New(log logger.Logger) *Balancer {
	return &Balancer{log: log}
}

// ProjectedLoad sums the measured load of every zone the decision turns on.
func ProjectedLoad(d model.Decision, grid model.GridState) float64 {
	loads := make([]float64, 0, len(grid.Zones))
	for _, z := range grid.Zones {
		t, ok := d.Targets[z.ID]
		if ok && t.State == model.RelayOn {
			loads = append(loads, z.Load())
		}
	}
	return floats.Sum(loads)
}

// Validate returns a decision whose projected load fits within
// capacity × SafetyMargin. Zones are shed in the fixed order Deferrable →
// NonCritical → SemiCritical → Critical, ascending zone id within a tier;
// Critical is shed only when the emergency state permits it. Re-validating
// a compliant decision returns it unchanged.
func (b *Balancer) Validate(d model.Decision, grid model.GridState, es model.EmergencyState) model.Decision {
	budget := grid.Capacity * model.SafetyMargin
	if ProjectedLoad(d, grid) <= budget {
		return d
	}

	out := d.Clone()
	load := ProjectedLoad(out, grid)
	b.log.Warnf("load balancing required: projected %.1fW exceeds budget %.1fW", load, budget)

	for _, tier := range model.ShedOrder {
		if tier == model.TierCritical && !es.AllowsCriticalShed() {
			break
		}
		for _, z := range grid.ByTier(tier) {
			if load <= budget {
				return out
			}
			t, ok := out.Targets[z.ID]
			if !ok || t.State != model.RelayOn {
				continue
			}
			t.State = model.RelayOff
			t.Window = nil
			out.Targets[z.ID] = t
			out.Shed = append(out.Shed, model.Shed{ZoneID: z.ID, Tier: tier, Reason: model.ShedRebalance})
			load -= z.Load()
			b.log.Infof("load balancing: shed %s (%s)", z.ID, tier)
		}
	}
	return out
}
