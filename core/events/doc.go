// Package events defines the structured events published on the internal
// bus: decisions, sheds, overrides, commands, acknowledgments, emergency
// transitions and notification requests. External persistence subscribes to
// the bus; the engine never blocks on delivery.
package events
