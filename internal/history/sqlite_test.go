package history

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/verdant-io/verdant/internal/config"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func record(t *testing.T, s *SQLiteStore, nodeID string, ts time.Time, temp float64) {
	t.Helper()
	err := s.RecordReading(context.Background(), &Reading{
		ID:          uuid.NewString(),
		NodeID:      nodeID,
		Timestamp:   ts,
		Temperature: temp,
		Humidity:    55.0,
		Light:       420,
		PH:          6.4,
	})
	if err != nil {
		t.Fatalf("record reading: %v", err)
	}
}

func TestNew_EmptyDriverDisabled(t *testing.T) {
	s, err := New(config.HistoryConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != nil {
		t.Errorf("expected nil store for empty driver, got %T", s)
	}
}

func TestNew_UnknownDriver(t *testing.T) {
	if _, err := New(config.HistoryConfig{Driver: "mysql"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestSQLiteStore_RecordAndList(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	record(t, s, "node-1", base, 22.0)
	record(t, s, "node-1", base.Add(time.Second), 22.1)
	record(t, s, "node-2", base, 19.5)

	readings, err := s.ListReadings(context.Background(), "node-1", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(readings) != 2 {
		t.Fatalf("expected 2 readings, got %d", len(readings))
	}
	// Newest first.
	if readings[0].Temperature != 22.1 || readings[1].Temperature != 22.0 {
		t.Errorf("unexpected order: %+v", readings)
	}
	if readings[0].NodeID != "node-1" || readings[0].Humidity != 55.0 || readings[0].Light != 420 {
		t.Errorf("unexpected reading: %+v", readings[0])
	}
}

func TestSQLiteStore_ListLimit(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		record(t, s, "node-1", base.Add(time.Duration(i)*time.Second), float64(20+i))
	}

	readings, err := s.ListReadings(context.Background(), "node-1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(readings) != 3 {
		t.Errorf("expected 3 readings, got %d", len(readings))
	}
	if readings[0].Temperature != 24 {
		t.Errorf("expected newest reading first, got %+v", readings[0])
	}
}

func TestSQLiteStore_ListUnknownNode(t *testing.T) {
	s := newTestStore(t)
	readings, err := s.ListReadings(context.Background(), "node-9", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(readings) != 0 {
		t.Errorf("expected no readings, got %d", len(readings))
	}
}

func TestSQLiteStore_Ping(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("ping failed: %v", err)
	}
}
