// Package history persists per-tick sensor readings. It is optional: with
// no driver configured the server keeps no history and the wire protocol
// behaves exactly as without this package.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/verdant-io/verdant/internal/config"
)

// Reading is one recorded node snapshot.
type Reading struct {
	ID          string    `json:"id"`
	NodeID      string    `json:"nodeId"`
	Timestamp   time.Time `json:"timestamp"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Light       int       `json:"light"`
	PH          float64   `json:"ph"`
}

// Store is the persistence interface for sensor readings.
type Store interface {
	RecordReading(ctx context.Context, r *Reading) error
	// ListReadings returns the most recent readings for a node,
	// newest first, up to limit.
	ListReadings(ctx context.Context, nodeID string, limit int) ([]Reading, error)
	Ping(ctx context.Context) error
	Close() error
}

// New creates a Store for the configured driver. An empty driver returns
// (nil, nil): history disabled.
func New(cfg config.HistoryConfig) (Store, error) {
	switch cfg.Driver {
	case "":
		return nil, nil
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported history driver: %q", cfg.Driver)
	}
}
