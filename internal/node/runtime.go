package node

import (
	"github.com/verdant-io/verdant/internal/sim"
)

// Sampling interval bounds in milliseconds. Requests below the floor are
// clamped silently.
const (
	MinIntervalMs     = 200
	DefaultIntervalMs = 1000
)

// Runtime is the exclusively-owned mutable state of one node: its
// environment, actuator scalars and sampling interval. It has no locking of
// its own; the manager's lock covers all access.
type Runtime struct {
	Env        *sim.Env
	Actuators  sim.Actuators
	IntervalMs int
}

func newRuntime(env *sim.Env, intervalMs int) *Runtime {
	if intervalMs < MinIntervalMs {
		intervalMs = MinIntervalMs
	}
	return &Runtime{
		Env:        env,
		Actuators:  sim.Actuators{Window: sim.WindowClosed},
		IntervalMs: intervalMs,
	}
}
