package engine

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/verdant-io/verdant/internal/protocol"
)

// fakeNodes serves fixed intervals and counts Advance calls per node.
type fakeNodes struct {
	mu        sync.Mutex
	intervals map[string]time.Duration
	advances  map[string]int
}

func newFakeNodes() *fakeNodes {
	return &fakeNodes{
		intervals: make(map[string]time.Duration),
		advances:  make(map[string]int),
	}
}

func (f *fakeNodes) Advance(nodeID string, dt float64) (protocol.SensorData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.intervals[nodeID]; !ok {
		return protocol.SensorData{}, errors.New("unknown node")
	}
	f.advances[nodeID]++
	return protocol.SensorData{Temperature: 22, Window: "CLOSED"}, nil
}

func (f *fakeNodes) Interval(nodeID string) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	iv, ok := f.intervals[nodeID]
	if !ok {
		return 0, errors.New("unknown node")
	}
	return iv, nil
}

func (f *fakeNodes) count(nodeID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.advances[nodeID]
}

func newTestEngine(t *testing.T, nodes Nodes) (*Engine, chan protocol.SensorUpdate) {
	t.Helper()
	updates := make(chan protocol.SensorUpdate, 100)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	e := New(nodes, func(su protocol.SensorUpdate) { updates <- su }, logger)
	t.Cleanup(e.Close)
	return e, updates
}

func waitUpdate(t *testing.T, updates chan protocol.SensorUpdate, timeout time.Duration) protocol.SensorUpdate {
	t.Helper()
	select {
	case su := <-updates:
		return su
	case <-time.After(timeout):
		t.Fatal("timed out waiting for sensor_update")
		return protocol.SensorUpdate{}
	}
}

func TestEngine_Schedule_EmitsImmediately(t *testing.T) {
	nodes := newFakeNodes()
	nodes.intervals["node-1"] = time.Hour // only the immediate tick can fire
	e, updates := newTestEngine(t, nodes)

	e.Schedule("node-1")

	su := waitUpdate(t, updates, time.Second)
	if su.Type != "sensor_update" || su.NodeID != "node-1" {
		t.Errorf("unexpected update: %+v", su)
	}
	if su.Timestamp == 0 {
		t.Error("timestamp not set")
	}
	if su.Data.Temperature != 22 {
		t.Errorf("unexpected data: %+v", su.Data)
	}
}

func TestEngine_Schedule_TicksAtInterval(t *testing.T) {
	nodes := newFakeNodes()
	nodes.intervals["node-1"] = 20 * time.Millisecond
	e, updates := newTestEngine(t, nodes)

	e.Schedule("node-1")

	for i := 0; i < 4; i++ {
		waitUpdate(t, updates, time.Second)
	}
	if nodes.count("node-1") < 4 {
		t.Errorf("expected at least 4 advances, got %d", nodes.count("node-1"))
	}
}

func TestEngine_Schedule_UnknownNodeIgnored(t *testing.T) {
	e, updates := newTestEngine(t, newFakeNodes())

	e.Schedule("node-9")

	select {
	case su := <-updates:
		t.Errorf("unexpected update for unknown node: %+v", su)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEngine_Cancel_StopsTicks(t *testing.T) {
	nodes := newFakeNodes()
	nodes.intervals["node-1"] = 10 * time.Millisecond
	e, updates := newTestEngine(t, nodes)

	e.Schedule("node-1")
	waitUpdate(t, updates, time.Second)
	e.Cancel("node-1")

	// Drain anything in flight, then confirm silence.
	time.Sleep(30 * time.Millisecond)
	for len(updates) > 0 {
		<-updates
	}
	select {
	case su := <-updates:
		t.Errorf("tick after cancel: %+v", su)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEngine_Reschedule_ReplacesLoop(t *testing.T) {
	nodes := newFakeNodes()
	nodes.intervals["node-1"] = time.Hour
	e, updates := newTestEngine(t, nodes)

	e.Schedule("node-1")
	waitUpdate(t, updates, time.Second)

	nodes.mu.Lock()
	nodes.intervals["node-1"] = 10 * time.Millisecond
	nodes.mu.Unlock()
	e.Reschedule("node-1")

	// The new loop's immediate tick plus at least one periodic tick.
	waitUpdate(t, updates, time.Second)
	waitUpdate(t, updates, time.Second)
}

func TestEngine_Close_Idempotent(t *testing.T) {
	nodes := newFakeNodes()
	nodes.intervals["node-1"] = 10 * time.Millisecond
	e, _ := newTestEngine(t, nodes)

	e.Schedule("node-1")
	e.Close()
	e.Close()

	// Scheduling after close is a no-op.
	e.Schedule("node-1")
}

func TestEngine_Close_Bounded(t *testing.T) {
	nodes := newFakeNodes()
	for i := 0; i < 10; i++ {
		nodes.intervals[nodeID(i)] = 10 * time.Millisecond
	}
	e, _ := newTestEngine(t, nodes)
	for i := 0; i < 10; i++ {
		e.Schedule(nodeID(i))
	}

	done := make(chan struct{})
	go func() {
		e.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(6 * time.Second):
		t.Fatal("close did not return within its bound")
	}
}

func nodeID(i int) string {
	return string(rune('a' + i))
}
