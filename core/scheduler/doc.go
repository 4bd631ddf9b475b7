// Package scheduler drives the periodic decision cycle and lets emergency
// triggers preempt it between ticks.
package scheduler
