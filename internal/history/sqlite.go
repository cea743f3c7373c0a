package history

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) a SQLite reading store and runs migrations.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	// For in-memory databases, use shared cache so all connections in the
	// pool see the same data.
	if dsn == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL keeps tick-rate inserts from blocking reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS readings (
			id TEXT PRIMARY KEY,
			node_id TEXT NOT NULL,
			ts DATETIME NOT NULL,
			temperature REAL NOT NULL,
			humidity REAL NOT NULL,
			light INTEGER NOT NULL,
			ph REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_node_ts ON readings(node_id, ts)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) RecordReading(ctx context.Context, r *Reading) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO readings (id, node_id, ts, temperature, humidity, light, ph)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.NodeID, r.Timestamp.UTC(), r.Temperature, r.Humidity, r.Light, r.PH)
	if err != nil {
		return fmt.Errorf("record reading: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListReadings(ctx context.Context, nodeID string, limit int) ([]Reading, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, node_id, ts, temperature, humidity, light, ph
		 FROM readings WHERE node_id = ? ORDER BY ts DESC LIMIT ?`,
		nodeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list readings: %w", err)
	}
	defer rows.Close()

	var out []Reading
	for rows.Next() {
		var r Reading
		if err := rows.Scan(&r.ID, &r.NodeID, &r.Timestamp, &r.Temperature, &r.Humidity, &r.Light, &r.PH); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
