package prediction

import (
	"errors"
	"time"
)

// ErrUnavailable simulates a predictor that does not respond.
var ErrUnavailable = errors.New("predictor unavailable")

// MockPredictor returns deterministic forecasts for tests.
type MockPredictor struct {
	SustainHours float64
	Demand       map[string][]float64
	Anomaly      map[string]float64
	Solar        []float64
	Unavailable  bool
}

func (m MockPredictor) BatteryHoursRemaining() (float64, error) {
	if m.Unavailable {
		return 0, ErrUnavailable
	}
	return m.SustainHours, nil
}

func (m MockPredictor) DemandForecast(zoneID string, steps int) ([]float64, error) {
	if m.Unavailable {
		return nil, ErrUnavailable
	}
	fc := m.Demand[zoneID]
	if len(fc) > steps {
		fc = fc[:steps]
	}
	cp := make([]float64, len(fc))
	copy(cp, fc)
	return cp, nil
}

func (m MockPredictor) AnomalyScore(zoneID string) (float64, error) {
	if m.Unavailable {
		return 0, ErrUnavailable
	}
	return m.Anomaly[zoneID], nil
}

func (m MockPredictor) ForecastSolar(steps int, stepSize time.Duration) []float64 {
	_ = stepSize
	fc := m.Solar
	if len(fc) > steps {
		fc = fc[:steps]
	}
	cp := make([]float64, len(fc))
	copy(cp, fc)
	return cp
}
