package engine

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/okellodev/microgrid/core/model"
	"github.com/okellodev/microgrid/core/prediction"
)

// deferrableJob is a pending deferrable zone flattened for the DP table.
type deferrableJob struct {
	zoneID string
	load   float64
	weight float64
}

// scheduleDeferrable assigns deferrable zones to horizon slots maximizing
// priority-weighted completed work. The table is keyed by (slot, next job,
// reserve bucket); at each slot the planner either runs the next pending
// job or lets the slot pass. Jobs are consumed in descending weight order,
// ties by ascending zone id, and equal-value plans prefer the earlier slot.
func (e *Engine) scheduleDeferrable(d *model.Decision, grid model.GridState, sustain float64, now time.Time, committedLoad float64) {
	zones := grid.ByTier(model.TierDeferrable)
	if len(zones) == 0 {
		return
	}

	slots := e.cfg.Slots()
	slotDur := time.Duration(e.cfg.SlotMinutes) * time.Minute
	slotHours := slotDur.Hours()

	jobs := e.buildJobs(zones, now)
	residual := e.residualCapacity(grid, slots, committedLoad)
	solar := e.solarForecast(slots, slotDur)

	// Reserve buckets. The floor must hold through every slot.
	bucketHours := e.cfg.ReserveBucketHours
	maxBucket := int(float64(e.cfg.HorizonHours)/bucketHours) + 1
	startBucket := clampBucket(int(sustain/bucketHours), maxBucket)
	floorBucket := int(e.cfg.ReserveFloorHours / bucketHours)

	ref := grid.Capacity
	if ref <= 0 {
		ref = 1
	}

	// drained[j] is how many buckets running job j for one slot consumes.
	drained := make([]int, len(jobs))
	for j, job := range jobs {
		h := slotHours * job.load / ref / bucketHours
		drained[j] = int(h)
		if h > float64(drained[j]) {
			drained[j]++ // round drain up, the conservative direction
		}
	}
	// recharge[s] is the bucket gain from forecast solar during slot s.
	recharge := make([]int, slots)
	for s := range recharge {
		recharge[s] = int(slotHours * solar[s] / ref / bucketHours)
	}

	// value[s][j][b]: best achievable weight from slot s on, with jobs j..
	// pending and reserve bucket b. runHere mirrors the argmax.
	value := make([][][]float64, slots+1)
	runHere := make([][][]bool, slots)
	for s := 0; s <= slots; s++ {
		value[s] = make([][]float64, len(jobs)+1)
		if s < slots {
			runHere[s] = make([][]bool, len(jobs)+1)
		}
		for j := 0; j <= len(jobs); j++ {
			value[s][j] = make([]float64, maxBucket+1)
			if s < slots {
				runHere[s][j] = make([]bool, maxBucket+1)
			}
		}
	}

	for s := slots - 1; s >= 0; s-- {
		for j := len(jobs); j >= 0; j-- {
			for b := 0; b <= maxBucket; b++ {
				skip := value[s+1][j][clampBucket(b+recharge[s], maxBucket)]
				best, run := skip, false
				if j < len(jobs) {
					after := b - drained[j]
					if jobs[j].load <= residual[s] && after >= floorBucket {
						got := jobs[j].weight + value[s+1][j+1][clampBucket(after+recharge[s], maxBucket)]
						// >= keeps the earliest feasible slot on ties.
						if got >= best {
							best, run = got, true
						}
					}
				}
				value[s][j][b] = best
				runHere[s][j][b] = run
			}
		}
	}

	// Reconstruct the plan.
	scheduled := make(map[string]int, len(jobs))
	s, j, b := 0, 0, startBucket
	for s < slots && j < len(jobs) {
		if runHere[s][j][b] {
			scheduled[jobs[j].zoneID] = s
			b = clampBucket(b-drained[j]+recharge[s], maxBucket)
			j++
		} else {
			b = clampBucket(b+recharge[s], maxBucket)
		}
		s++
	}

	for _, z := range zones {
		slot, ok := scheduled[z.ID]
		if !ok {
			d.Targets[z.ID] = model.Target{State: model.RelayOff}
			if z.Relay == model.RelayOn {
				d.Shed = append(d.Shed, model.Shed{ZoneID: z.ID, Tier: model.TierDeferrable, Reason: model.ShedGreedy})
			}
			continue
		}
		window := &model.Window{
			Start: now.Add(time.Duration(slot) * slotDur),
			End:   now.Add(time.Duration(slot+1) * slotDur),
		}
		state := model.RelayOff
		if slot == 0 {
			state = model.RelayOn // current slot: energize now
		}
		d.Targets[z.ID] = model.Target{State: state, Window: window}
	}
}

// buildJobs flattens deferrable zones into weighted jobs, highest weight
// first, bounded by MaxDeferrableJobs.
func (e *Engine) buildJobs(zones []model.Zone, now time.Time) []deferrableJob {
	jobs := make([]deferrableJob, 0, len(zones))
	for _, z := range zones {
		w := 1.0 + demandScore(model.TierDeferrable, now.Hour())
		if z.Override.Active(now) && z.Override.Requested == model.RelayOn {
			w += 1.0
		}
		jobs = append(jobs, deferrableJob{zoneID: z.ID, load: z.Load(), weight: w})
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].weight != jobs[j].weight {
			return jobs[i].weight > jobs[j].weight
		}
		return jobs[i].zoneID < jobs[j].zoneID
	})
	if len(jobs) > e.cfg.MaxDeferrableJobs {
		jobs = jobs[:e.cfg.MaxDeferrableJobs]
	}
	return jobs
}

// residualCapacity projects per-slot capacity left after the committed
// non-deferrable load. Demand forecasts refine the committed share; without
// them the current committed load is assumed flat over the horizon.
func (e *Engine) residualCapacity(grid model.GridState, slots int, committedLoad float64) []float64 {
	residual := make([]float64, slots)
	budget := grid.Capacity * model.SafetyMargin
	for s := range residual {
		residual[s] = budget - committedLoad
	}

	for _, z := range grid.Zones {
		if z.Tier == model.TierDeferrable {
			continue
		}
		fc, err := e.pred.DemandForecast(z.ID, slots)
		if err != nil || len(fc) == 0 {
			continue
		}
		// Replace the flat assumption by the forecast delta, normalized so a
		// flat forecast changes nothing.
		mean := stat.Mean(fc, nil)
		for s := 0; s < slots && s < len(fc); s++ {
			residual[s] -= fc[s] - mean
		}
	}
	for s := range residual {
		if residual[s] < 0 {
			residual[s] = 0
		}
	}
	return residual
}

// solarForecast returns per-slot expected solar generation, zero when the
// predictor does not expose one.
func (e *Engine) solarForecast(slots int, slotDur time.Duration) []float64 {
	out := make([]float64, slots)
	sf, ok := e.pred.(prediction.SolarForecast)
	if !ok {
		return out
	}
	fc := sf.ForecastSolar(slots, slotDur)
	copy(out, fc)
	for i := range out {
		if out[i] < 0 {
			out[i] = 0
		}
	}
	return out
}

func clampBucket(b, max int) int {
	if b < 0 {
		return 0
	}
	if b > max {
		return max
	}
	return b
}
