// Package metrics defines the recorder interfaces the engine emits
// observability data through. Implementations live in infra/metrics.
package metrics
