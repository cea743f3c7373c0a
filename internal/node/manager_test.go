package node

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/verdant-io/verdant/internal/protocol"
)

// recordingBroadcaster captures node_change events.
type recordingBroadcaster struct {
	mu      sync.Mutex
	changes []protocol.NodeChange
}

func (b *recordingBroadcaster) BroadcastNodeChange(nc protocol.NodeChange) {
	b.mu.Lock()
	b.changes = append(b.changes, nc)
	b.mu.Unlock()
}

func (b *recordingBroadcaster) last(t *testing.T) protocol.NodeChange {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.changes) == 0 {
		t.Fatal("no node_change broadcast")
	}
	return b.changes[len(b.changes)-1]
}

// recordingScheduler captures scheduler notifications.
type recordingScheduler struct {
	added, removed, rescheduled []string
}

func (s *recordingScheduler) OnNodeAdded(id string)   { s.added = append(s.added, id) }
func (s *recordingScheduler) OnNodeRemoved(id string) { s.removed = append(s.removed, id) }
func (s *recordingScheduler) Reschedule(id string)    { s.rescheduled = append(s.rescheduled, id) }

func newTestManager(t *testing.T) (*Manager, *recordingBroadcaster) {
	t.Helper()
	b := &recordingBroadcaster{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	m := NewManager(ManagerConfig{Broadcaster: b, Logger: logger})
	return m, b
}

func draft() protocol.Node {
	return protocol.Node{
		Name:      "Compartment A",
		Location:  "North",
		IP:        "10.0.0.1",
		Sensors:   []string{"temperature", "humidity"},
		Actuators: []string{"fan", "window"},
	}
}

func TestManager_AddNode(t *testing.T) {
	m, b := newTestManager(t)

	id := m.AddNode(draft())
	if id != "node-1" {
		t.Errorf("first id = %q, want node-1", id)
	}

	nodes := m.Nodes()
	if len(nodes) != 1 || nodes[0].ID != "node-1" || nodes[0].Name != "Compartment A" {
		t.Errorf("unexpected topology: %+v", nodes)
	}

	nc := b.last(t)
	if nc.Op != "added" || nc.NodeID != "node-1" || nc.Node == nil {
		t.Errorf("unexpected node_change: %+v", nc)
	}
}

func TestManager_AddNode_DedupesComponents(t *testing.T) {
	m, _ := newTestManager(t)

	d := draft()
	d.Sensors = []string{"temperature", "temperature", "light"}
	m.AddNode(d)

	n := m.Nodes()[0]
	if len(n.Sensors) != 2 || n.Sensors[0] != "temperature" || n.Sensors[1] != "light" {
		t.Errorf("sensors not deduped: %v", n.Sensors)
	}
}

func TestManager_IDsNotReusedAfterDelete(t *testing.T) {
	m, _ := newTestManager(t)

	m.AddNode(draft())
	id2 := m.AddNode(draft())
	if err := m.DeleteNode(id2); err != nil {
		t.Fatal(err)
	}
	if id3 := m.AddNode(draft()); id3 != "node-3" {
		t.Errorf("expected node-3 after deletion, got %q", id3)
	}
}

func TestManager_UpdateNode(t *testing.T) {
	m, b := newTestManager(t)
	id := m.AddNode(draft())

	err := m.UpdateNode(id, map[string]any{
		"name":    "Renamed",
		"sensors": []any{"ph"},
		"bogus":   42, // unknown keys are ignored
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n := m.Nodes()[0]
	if n.Name != "Renamed" || len(n.Sensors) != 1 || n.Sensors[0] != "ph" {
		t.Errorf("patch not applied: %+v", n)
	}
	if n.Location != "North" {
		t.Errorf("unpatched field changed: %+v", n)
	}
	if nc := b.last(t); nc.Op != "updated" {
		t.Errorf("expected updated broadcast, got %+v", nc)
	}
}

func TestManager_UpdateNode_NotFound(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.UpdateNode("node-99", map[string]any{"name": "x"}); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestManager_DeleteNode(t *testing.T) {
	m, b := newTestManager(t)
	sched := &recordingScheduler{}
	m.SetScheduler(sched)
	id := m.AddNode(draft())

	if err := m.DeleteNode(id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Count() != 0 {
		t.Error("node not removed")
	}
	if err := m.DeleteNode(id); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("second delete: expected ErrNodeNotFound, got %v", err)
	}
	if nc := b.last(t); nc.Op != "removed" || nc.Node != nil {
		t.Errorf("unexpected removal broadcast: %+v", nc)
	}
	if len(sched.removed) != 1 || sched.removed[0] != id {
		t.Errorf("scheduler not notified of removal: %v", sched.removed)
	}
}

func TestManager_SetSampling_ClampsToFloor(t *testing.T) {
	m, _ := newTestManager(t)
	sched := &recordingScheduler{}
	m.SetScheduler(sched)
	id := m.AddNode(draft())

	if err := m.SetSampling(id, 50); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	interval, err := m.Interval(id)
	if err != nil {
		t.Fatal(err)
	}
	if interval != 200*time.Millisecond {
		t.Errorf("interval = %v, want 200ms", interval)
	}
	if len(sched.rescheduled) != 1 {
		t.Errorf("expected one reschedule, got %v", sched.rescheduled)
	}
}

func TestManager_ExecuteCommand_Fan(t *testing.T) {
	m, _ := newTestManager(t)
	id := m.AddNode(draft())

	err := m.ExecuteCommand(Command{NodeID: id, Target: "fan", Action: "set", Params: map[string]any{"on": true}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap, err := m.Snapshot(id)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Fan != "ON" {
		t.Errorf("fan = %q, want ON", snap.Fan)
	}
}

func TestManager_ExecuteCommand_StringBool(t *testing.T) {
	m, _ := newTestManager(t)
	id := m.AddNode(draft())

	// Some panels send booleans as strings.
	if err := m.ExecuteCommand(Command{NodeID: id, Target: "water_pump", Params: map[string]any{"on": "TRUE"}}); err != nil {
		t.Fatal(err)
	}
	snap, _ := m.Snapshot(id)
	if snap.WaterPump != "ON" {
		t.Errorf("water_pump = %q, want ON", snap.WaterPump)
	}

	if err := m.ExecuteCommand(Command{NodeID: id, Target: "water_pump", Params: map[string]any{"on": "false"}}); err != nil {
		t.Fatal(err)
	}
	snap, _ = m.Snapshot(id)
	if snap.WaterPump != "OFF" {
		t.Errorf("water_pump = %q, want OFF", snap.WaterPump)
	}
}

func TestManager_ExecuteCommand_Window(t *testing.T) {
	m, _ := newTestManager(t)
	id := m.AddNode(draft())

	if err := m.ExecuteCommand(Command{NodeID: id, Target: "window", Params: map[string]any{"level": "half"}}); err != nil {
		t.Fatal(err)
	}
	snap, _ := m.Snapshot(id)
	if snap.Window != "HALF" {
		t.Errorf("window = %q, want HALF", snap.Window)
	}

	// Invalid levels are dropped without error, keeping the prior state.
	if err := m.ExecuteCommand(Command{NodeID: id, Target: "window", Params: map[string]any{"level": "SIDEWAYS"}}); err != nil {
		t.Fatal(err)
	}
	snap, _ = m.Snapshot(id)
	if snap.Window != "HALF" {
		t.Errorf("invalid level should not change window, got %q", snap.Window)
	}
}

func TestManager_ExecuteCommand_UnknownTargetAcks(t *testing.T) {
	m, _ := newTestManager(t)
	id := m.AddNode(draft())

	if err := m.ExecuteCommand(Command{NodeID: id, Target: "sprinkler"}); err != nil {
		t.Errorf("unknown target should not error: %v", err)
	}
}

func TestManager_ExecuteCommand_NotFound(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.ExecuteCommand(Command{NodeID: "node-9", Target: "fan"})
	if !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestManager_Advance(t *testing.T) {
	m, _ := newTestManager(t)
	id := m.AddNode(draft())

	snap, err := m.Advance(id, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Temperature == 0 || snap.Light == 0 || snap.PH == 0 {
		t.Errorf("snapshot looks empty: %+v", snap)
	}
	if snap.Window != "CLOSED" || snap.Fan != "OFF" {
		t.Errorf("unexpected actuator defaults: %+v", snap)
	}
}

func TestManager_Components(t *testing.T) {
	m, _ := newTestManager(t)
	id := m.AddNode(draft())

	if err := m.AddComponent(id, "sensor", "ph"); err != nil {
		t.Fatal(err)
	}
	if err := m.AddComponent(id, "sensor", "ph"); err != nil {
		t.Fatal(err) // duplicate is a silent no-op
	}
	n := m.Nodes()[0]
	if len(n.Sensors) != 3 || n.Sensors[2] != "ph" {
		t.Errorf("component not added once: %v", n.Sensors)
	}

	if err := m.RemoveComponent(id, "actuator", "fan"); err != nil {
		t.Fatal(err)
	}
	n = m.Nodes()[0]
	if len(n.Actuators) != 1 || n.Actuators[0] != "window" {
		t.Errorf("component not removed: %v", n.Actuators)
	}
}

func TestManager_NodesSnapshotIsolated(t *testing.T) {
	m, _ := newTestManager(t)
	m.AddNode(draft())

	snap := m.Nodes()
	snap[0].Name = "mutated"
	snap[0].Sensors[0] = "mutated"

	n := m.Nodes()[0]
	if n.Name != "Compartment A" || n.Sensors[0] != "temperature" {
		t.Errorf("snapshot mutation leaked into the manager: %+v", n)
	}
}
