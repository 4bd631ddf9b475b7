package prediction

import "time"

// Predictor is the port to the external ML collaborator. Implementations
// live outside the engine; non-response must be signalled so the engine can
// degrade to its conservative static policy.
type Predictor interface {
	// BatteryHoursRemaining estimates how long the battery sustains the
	// current load, in hours.
	BatteryHoursRemaining() (float64, error)

	// DemandForecast returns expected demand in watts per horizon step for
	// the zone. The slice may be shorter than requested.
	DemandForecast(zoneID string, steps int) ([]float64, error)

	// AnomalyScore returns an anomaly score in [0,1] for the zone's recent
	// telemetry.
	AnomalyScore(zoneID string) (float64, error)
}

// SolarForecast is implemented by predictors that also expose per-step
// solar generation estimates. Optional.
type SolarForecast interface {
	ForecastSolar(steps int, stepSize time.Duration) []float64
}
