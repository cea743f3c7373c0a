// Package engine drives the per-node sampling loops. Each scheduled node
// gets one long-running goroutine that advances the simulation at the
// node's sampling interval and hands the resulting sensor_update to the
// broadcast hook. Rescheduling is always cancel+schedule, never a re-arm
// of the running loop.
package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/verdant-io/verdant/internal/protocol"
)

// tickDt is the simulated seconds advanced per tick, independent of the
// sampling interval.
const tickDt = 1.0

// closeTimeout bounds how long Close waits for in-flight ticks.
const closeTimeout = 5 * time.Second

// Nodes is the slice of the node manager the engine needs: advancing a
// node and reading its interval.
type Nodes interface {
	Advance(nodeID string, dt float64) (protocol.SensorData, error)
	Interval(nodeID string) (time.Duration, error)
}

// BroadcastFunc hands a finished tick's sensor_update to the client
// registry. Passing the hook as a function value keeps the engine from
// referencing the registry directly.
type BroadcastFunc func(protocol.SensorUpdate)

// Engine schedules at most one tick loop per node.
type Engine struct {
	nodes     Nodes
	broadcast BroadcastFunc
	logger    *slog.Logger

	mu     sync.Mutex
	loops  map[string]chan struct{} // nodeID → stop channel
	closed bool
	wg     sync.WaitGroup
}

// New creates an engine. Nothing is scheduled until Schedule is called.
func New(nodes Nodes, broadcast BroadcastFunc, logger *slog.Logger) *Engine {
	return &Engine{
		nodes:     nodes,
		broadcast: broadcast,
		logger:    logger.With("component", "engine"),
		loops:     make(map[string]chan struct{}),
	}
}

// Schedule starts a tick loop for the node, cancelling any existing one
// first. The first tick fires immediately; subsequent ticks follow at the
// node's sampling interval as read at schedule time.
func (e *Engine) Schedule(nodeID string) {
	interval, err := e.nodes.Interval(nodeID)
	if err != nil {
		e.logger.Warn("cannot schedule unknown node", "node_id", nodeID, "error", err)
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if stop, ok := e.loops[nodeID]; ok {
		close(stop)
	}
	stop := make(chan struct{})
	e.loops[nodeID] = stop
	e.wg.Add(1)
	e.mu.Unlock()

	e.logger.Debug("scheduling node", "node_id", nodeID, "interval", interval)
	go e.run(nodeID, interval, stop)
}

// Cancel stops the node's loop without interrupting a tick body that is
// already running. Unknown ids are a no-op.
func (e *Engine) Cancel(nodeID string) {
	e.mu.Lock()
	if stop, ok := e.loops[nodeID]; ok {
		close(stop)
		delete(e.loops, nodeID)
	}
	e.mu.Unlock()
}

// Reschedule restarts the node's loop so a changed sampling interval takes
// effect.
func (e *Engine) Reschedule(nodeID string) {
	e.Cancel(nodeID)
	e.Schedule(nodeID)
}

// OnNodeAdded implements node.Scheduler.
func (e *Engine) OnNodeAdded(nodeID string) { e.Schedule(nodeID) }

// OnNodeRemoved implements node.Scheduler.
func (e *Engine) OnNodeRemoved(nodeID string) { e.Cancel(nodeID) }

// Close stops all loops and waits up to five seconds for in-flight ticks,
// then gives up. Idempotent.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for id, stop := range e.loops {
		close(stop)
		delete(e.loops, id)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(closeTimeout):
		e.logger.Warn("engine close timed out waiting for ticks")
	}
}

func (e *Engine) run(nodeID string, interval time.Duration, stop <-chan struct{}) {
	defer e.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.tick(nodeID)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.tick(nodeID)
		}
	}
}

// tick advances the node and broadcasts the snapshot. Failures are logged
// and suppressed; the node stays scheduled.
func (e *Engine) tick(nodeID string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tick panic suppressed", "node_id", nodeID, "panic", r)
		}
	}()

	data, err := e.nodes.Advance(nodeID, tickDt)
	if err != nil {
		e.logger.Warn("tick failed", "node_id", nodeID, "error", err)
		return
	}
	e.broadcast(protocol.SensorUpdate{
		Type:      "sensor_update",
		NodeID:    nodeID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	})
}
