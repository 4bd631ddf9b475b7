// Package engine computes per-cycle zone decisions: a greedy pass over the
// immediate tiers in strict priority order, then a dynamic-programming pass
// scheduling deferrable zones into horizon slots under capacity and battery
// reserve constraints.
package engine
