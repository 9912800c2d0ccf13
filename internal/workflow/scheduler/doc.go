// Package scheduler turns a workflow definition into an executable plan: the
// resolved units for each stage, their merge policies, the fixed merge order
// and the fan-out pool size. It never runs anything itself.
package scheduler
