// Package node holds the authoritative registry of greenhouse nodes and
// their runtimes. All mutations serialise behind one manager lock; reads
// hand out copies that are safe to use without further locking.
package node

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/verdant-io/verdant/internal/protocol"
	"github.com/verdant-io/verdant/internal/sim"
)

// ErrNodeNotFound is returned for operations on unknown node ids.
var ErrNodeNotFound = errors.New("node not found")

// Broadcaster receives topology change events for fan-out to sessions.
type Broadcaster interface {
	BroadcastNodeChange(protocol.NodeChange)
}

// Scheduler is notified when nodes appear, disappear or change their
// sampling interval. The sensor engine implements it; the indirection
// keeps the manager free of a back-reference to the engine.
type Scheduler interface {
	OnNodeAdded(nodeID string)
	OnNodeRemoved(nodeID string)
	Reschedule(nodeID string)
}

// Command is one actuator mutation addressed to a node.
type Command struct {
	NodeID string
	Target string
	Action string
	Params map[string]any
}

// ManagerConfig wires a Manager's collaborators.
type ManagerConfig struct {
	Broadcaster       Broadcaster
	NewEnv            func() *sim.Env
	DefaultIntervalMs int
	Logger            *slog.Logger
}

// Manager owns every node and its runtime.
type Manager struct {
	broadcaster       Broadcaster
	newEnv            func() *sim.Env
	defaultIntervalMs int
	logger            *slog.Logger

	mu        sync.Mutex
	nodes     map[string]*protocol.Node
	runtimes  map[string]*Runtime
	order     []string // insertion order for topology listings
	seq       int      // monotonic id counter, survives deletions
	scheduler Scheduler
}

// NewManager creates an empty node registry.
func NewManager(cfg ManagerConfig) *Manager {
	interval := cfg.DefaultIntervalMs
	if interval <= 0 {
		interval = DefaultIntervalMs
	}
	newEnv := cfg.NewEnv
	if newEnv == nil {
		newEnv = func() *sim.Env { return sim.NewEnv(nil) }
	}
	return &Manager{
		broadcaster:       cfg.Broadcaster,
		newEnv:            newEnv,
		defaultIntervalMs: interval,
		logger:            cfg.Logger.With("component", "nodes"),
		nodes:             make(map[string]*protocol.Node),
		runtimes:          make(map[string]*Runtime),
	}
}

// SetScheduler binds the sensor engine. Must be called before nodes are
// added; the server wires it during startup.
func (m *Manager) SetScheduler(s Scheduler) {
	m.mu.Lock()
	m.scheduler = s
	m.mu.Unlock()
}

// AddNode registers a node draft, assigns the next "node-<n>" id, installs
// a fresh runtime and announces the addition. Nil component lists become
// empty; duplicate component names are dropped, keeping first occurrence.
func (m *Manager) AddNode(draft protocol.Node) string {
	m.mu.Lock()
	m.seq++
	id := fmt.Sprintf("node-%d", m.seq)

	n := &protocol.Node{
		ID:        id,
		Name:      draft.Name,
		Location:  draft.Location,
		IP:        draft.IP,
		Sensors:   dedupe(draft.Sensors),
		Actuators: dedupe(draft.Actuators),
	}
	m.nodes[id] = n
	m.runtimes[id] = newRuntime(m.newEnv(), m.defaultIntervalMs)
	m.order = append(m.order, id)
	sched := m.scheduler
	announced := *n
	m.mu.Unlock()

	m.logger.Info("node added", "node_id", id, "name", n.Name)
	if sched != nil {
		sched.OnNodeAdded(id)
	}
	if m.broadcaster != nil {
		m.broadcaster.BroadcastNodeChange(protocol.NodeChange{
			Type: "node_change", Op: "added", NodeID: id, Node: &announced,
		})
	}
	return id
}

// Nodes returns a snapshot copy of all nodes in insertion order.
func (m *Manager) Nodes() []protocol.Node {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]protocol.Node, 0, len(m.order))
	for _, id := range m.order {
		n := m.nodes[id]
		cp := *n
		cp.Sensors = append([]string(nil), n.Sensors...)
		cp.Actuators = append([]string(nil), n.Actuators...)
		out = append(out, cp)
	}
	return out
}

// Count returns the number of registered nodes.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.nodes)
}

// UpdateNode applies a sparse patch. Supported keys: name, location, ip,
// sensors, actuators (list keys replace the whole list). Unknown keys are
// ignored for forward compatibility.
func (m *Manager) UpdateNode(nodeID string, patch map[string]any) error {
	m.mu.Lock()
	n, ok := m.nodes[nodeID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}

	for key, val := range patch {
		switch key {
		case "name":
			if s, ok := val.(string); ok {
				n.Name = s
			}
		case "location":
			if s, ok := val.(string); ok {
				n.Location = s
			}
		case "ip":
			if s, ok := val.(string); ok {
				n.IP = s
			}
		case "sensors":
			if list, ok := stringList(val); ok {
				n.Sensors = dedupe(list)
			}
		case "actuators":
			if list, ok := stringList(val); ok {
				n.Actuators = dedupe(list)
			}
		}
	}
	announced := *n
	m.mu.Unlock()

	if m.broadcaster != nil {
		m.broadcaster.BroadcastNodeChange(protocol.NodeChange{
			Type: "node_change", Op: "updated", NodeID: nodeID, Node: &announced,
		})
	}
	return nil
}

// DeleteNode removes a node and its runtime, cancels its tick loop and
// announces the removal.
func (m *Manager) DeleteNode(nodeID string) error {
	m.mu.Lock()
	if _, ok := m.nodes[nodeID]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	delete(m.nodes, nodeID)
	delete(m.runtimes, nodeID)
	for i, id := range m.order {
		if id == nodeID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	sched := m.scheduler
	m.mu.Unlock()

	m.logger.Info("node removed", "node_id", nodeID)
	if sched != nil {
		sched.OnNodeRemoved(nodeID)
	}
	if m.broadcaster != nil {
		m.broadcaster.BroadcastNodeChange(protocol.NodeChange{
			Type: "node_change", Op: "removed", NodeID: nodeID,
		})
	}
	return nil
}

// SetSampling sets a node's sampling interval, clamped to the floor, and
// triggers a reschedule of its tick loop.
func (m *Manager) SetSampling(nodeID string, intervalMs int) error {
	if intervalMs < MinIntervalMs {
		intervalMs = MinIntervalMs
	}

	m.mu.Lock()
	rt, ok := m.runtimes[nodeID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	rt.IntervalMs = intervalMs
	sched := m.scheduler
	m.mu.Unlock()

	if sched != nil {
		sched.Reschedule(nodeID)
	}
	return nil
}

// Interval returns a node's current sampling interval.
func (m *Manager) Interval(nodeID string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.runtimes[nodeID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	return time.Duration(rt.IntervalMs) * time.Millisecond, nil
}

// ExecuteCommand mutates the target actuator. fan, water_pump and co2
// honour params.on (bool, or the case-insensitive string "true"); window
// honours params.level (CLOSED, HALF or OPEN). Unknown targets and invalid
// values are dropped without error so that the caller still acks.
func (m *Manager) ExecuteCommand(cmd Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rt, ok := m.runtimes[cmd.NodeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, cmd.NodeID)
	}

	switch cmd.Target {
	case "fan":
		if on, ok := boolParam(cmd.Params, "on"); ok {
			rt.Actuators.FanOn = on
		}
	case "water_pump":
		if on, ok := boolParam(cmd.Params, "on"); ok {
			rt.Actuators.PumpOn = on
		}
	case "co2":
		if on, ok := boolParam(cmd.Params, "on"); ok {
			rt.Actuators.CO2On = on
		}
	case "window":
		if level, ok := windowParam(cmd.Params); ok {
			rt.Actuators.Window = level
		}
	default:
		m.logger.Debug("dropping command for unknown actuator",
			"node_id", cmd.NodeID, "target", cmd.Target)
	}
	return nil
}

// Advance steps a node's environment by dt seconds under its current
// actuator state and returns the resulting snapshot.
func (m *Manager) Advance(nodeID string, dt float64) (protocol.SensorData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rt, ok := m.runtimes[nodeID]
	if !ok {
		return protocol.SensorData{}, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	rt.Env.Step(dt, rt.Actuators)
	return snapshotLocked(rt), nil
}

// Snapshot returns a node's current sensor and actuator values without
// advancing the simulation.
func (m *Manager) Snapshot(nodeID string) (protocol.SensorData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rt, ok := m.runtimes[nodeID]
	if !ok {
		return protocol.SensorData{}, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	return snapshotLocked(rt), nil
}

// AddComponent appends a component name to a node's sensor or actuator
// list. Legacy helper kept for older control panels; duplicates and
// unknown kinds are ignored.
func (m *Manager) AddComponent(nodeID, kind, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[nodeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	switch kind {
	case "sensor", "sensors":
		n.Sensors = appendUnique(n.Sensors, name)
	case "actuator", "actuators":
		n.Actuators = appendUnique(n.Actuators, name)
	}
	return nil
}

// RemoveComponent removes a component name from a node's sensor or
// actuator list. Counterpart of AddComponent.
func (m *Manager) RemoveComponent(nodeID, kind, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[nodeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	switch kind {
	case "sensor", "sensors":
		n.Sensors = remove(n.Sensors, name)
	case "actuator", "actuators":
		n.Actuators = remove(n.Actuators, name)
	}
	return nil
}

func snapshotLocked(rt *Runtime) protocol.SensorData {
	return protocol.SensorData{
		Temperature: round(rt.Env.TemperatureC, 1),
		Humidity:    round(rt.Env.HumidityPct, 1),
		Light:       int(math.Round(rt.Env.LightLux)),
		PH:          round(rt.Env.PH, 2),
		Fan:         onOff(rt.Actuators.FanOn),
		WaterPump:   onOff(rt.Actuators.PumpOn),
		CO2:         onOff(rt.Actuators.CO2On),
		Window:      rt.Actuators.Window,
	}
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func round(v float64, places int) float64 {
	scale := math.Pow10(places)
	return math.Round(v*scale) / scale
}

func boolParam(params map[string]any, key string) (value, ok bool) {
	switch v := params[key].(type) {
	case bool:
		return v, true
	case string:
		return strings.EqualFold(v, "true"), true
	default:
		return false, false
	}
}

func windowParam(params map[string]any) (string, bool) {
	s, ok := params["level"].(string)
	if !ok {
		return "", false
	}
	switch level := strings.ToUpper(s); level {
	case sim.WindowClosed, sim.WindowHalf, sim.WindowOpen:
		return level, true
	default:
		return "", false
	}
}

func stringList(val any) ([]string, bool) {
	items, ok := val.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func dedupe(list []string) []string {
	out := make([]string, 0, len(list))
	seen := make(map[string]struct{}, len(list))
	for _, s := range list {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func appendUnique(list []string, name string) []string {
	for _, s := range list {
		if s == name {
			return list
		}
	}
	return append(list, name)
}

func remove(list []string, name string) []string {
	for i, s := range list {
		if s == name {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
