package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres opens a PostgreSQL reading store and runs migrations.
func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS readings (
			id TEXT PRIMARY KEY,
			node_id TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			temperature DOUBLE PRECISION NOT NULL,
			humidity DOUBLE PRECISION NOT NULL,
			light INTEGER NOT NULL,
			ph DOUBLE PRECISION NOT NULL
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

func (s *PostgresStore) RecordReading(ctx context.Context, r *Reading) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO readings (id, node_id, ts, temperature, humidity, light, ph)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.NodeID, r.Timestamp.UTC(), r.Temperature, r.Humidity, r.Light, r.PH)
	if err != nil {
		return fmt.Errorf("record reading: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListReadings(ctx context.Context, nodeID string, limit int) ([]Reading, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, node_id, ts, temperature, humidity, light, ph
		 FROM readings WHERE node_id = $1 ORDER BY ts DESC LIMIT $2`,
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

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
