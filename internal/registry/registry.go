// Package registry tracks live client sessions and fans broadcast events
// out to the sessions whose subscription filters match.
package registry

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/verdant-io/verdant/internal/protocol"
)

// Event names the registry routes on.
const (
	EventSensorUpdate = "sensor_update"
	EventNodeChange   = "node_change"
)

// Registry is the set of live sessions. The session map is a concurrent
// map so broadcasts never contend with connection setup and teardown.
type Registry struct {
	logger   *slog.Logger
	sessions *xsync.Map[string, *Session]
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		logger:   logger.With("component", "registry"),
		sessions: xsync.NewMap[string, *Session](),
	}
}

// AddSession registers a fresh session with an empty subscription filter
// around the given sender.
func (r *Registry) AddSession(send SendFunc) *Session {
	s := newSession(uuid.NewString(), send)
	r.sessions.Store(s.ID, s)
	r.logger.Debug("session added", "session_id", s.ID)
	return s
}

// RemoveSession drops a session. Idempotent; once it returns, broadcasts
// no longer target the session.
func (r *Registry) RemoveSession(s *Session) {
	if s == nil {
		return
	}
	r.sessions.Delete(s.ID)
	r.logger.Debug("session removed", "session_id", s.ID)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	return r.sessions.Size()
}

// BroadcastSensorUpdate sends the update to every session subscribed to
// sensor_update for the update's node (or the wildcard).
func (r *Registry) BroadcastSensorUpdate(su protocol.SensorUpdate) {
	r.broadcast(func(s *Session) bool {
		return s.matchesNode(EventSensorUpdate, su.NodeID)
	}, su)
}

// BroadcastNodeChange sends the change to every session subscribed to
// node_change. Routing is by event name only; the wildcard carries the
// subscription.
func (r *Registry) BroadcastNodeChange(nc protocol.NodeChange) {
	r.broadcast(func(s *Session) bool {
		return s.matchesEvent(EventNodeChange)
	}, nc)
}

// broadcast collects matching sessions, then re-checks liveness before
// each send so a session removed mid-broadcast is not targeted.
func (r *Registry) broadcast(match func(*Session) bool, msg any) {
	var targets []string
	r.sessions.Range(func(id string, s *Session) bool {
		if match(s) {
			targets = append(targets, id)
		}
		return true
	})
	for _, id := range targets {
		s, ok := r.sessions.Load(id)
		if !ok {
			continue
		}
		if err := s.Send(msg); err != nil {
			// The connection is going away; its reader will clean up.
			r.logger.Debug("broadcast send failed", "session_id", id, "error", err)
		}
	}
}
