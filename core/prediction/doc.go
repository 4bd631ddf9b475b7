// Package prediction defines the port to the external forecasting service
// supplying battery sustain estimates, demand forecasts and anomaly scores.
package prediction
