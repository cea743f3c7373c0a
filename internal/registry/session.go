package registry

import (
	"sync"
)

// Wildcard is the sentinel node id meaning "any node" in a subscription.
const Wildcard = "*"

// SendFunc delivers one outbound message to a session's connection. The
// transport serialises concurrent calls so each JSON line stays atomic.
type SendFunc func(v any) error

// Session is one live client connection plus its subscription state.
type Session struct {
	ID   string
	send SendFunc

	mu       sync.RWMutex
	clientID string
	userID   int
	role     string                         // last authenticated role, "" before auth
	subs     map[string]map[string]struct{} // event name → node id set
}

func newSession(id string, send SendFunc) *Session {
	return &Session{
		ID:   id,
		send: send,
		subs: make(map[string]map[string]struct{}),
	}
}

// Send writes one message to the session's connection.
func (s *Session) Send(v any) error {
	return s.send(v)
}

// SetClientID records the client-chosen identifier from hello.
func (s *Session) SetClientID(id string) {
	s.mu.Lock()
	s.clientID = id
	s.mu.Unlock()
}

// ClientID returns the identifier from hello, or "".
func (s *Session) ClientID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientID
}

// SetAuth records the result of a successful auth on this connection.
func (s *Session) SetAuth(userID int, role string) {
	s.mu.Lock()
	s.userID = userID
	s.role = role
	s.mu.Unlock()
}

// Role returns the last authenticated role, or "" before any auth.
func (s *Session) Role() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

// Subscribe unions the node ids into each named event's set. Unknown event
// names are accepted; they simply never match a broadcast. Subscribing
// twice is equivalent to once.
func (s *Session) Subscribe(events, nodes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		set, ok := s.subs[ev]
		if !ok {
			set = make(map[string]struct{})
			s.subs[ev] = set
		}
		for _, n := range nodes {
			set[n] = struct{}{}
		}
	}
}

// Unsubscribe subtracts the node ids from each named event's set, dropping
// the event entirely once its set is empty.
func (s *Session) Unsubscribe(events, nodes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		set, ok := s.subs[ev]
		if !ok {
			continue
		}
		for _, n := range nodes {
			delete(set, n)
		}
		if len(set) == 0 {
			delete(s.subs, ev)
		}
	}
}

// matchesNode reports whether the session subscribed to the event for the
// given node (directly or via the wildcard).
func (s *Session) matchesNode(event, nodeID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.subs[event]
	if !ok {
		return false
	}
	if _, any := set[Wildcard]; any {
		return true
	}
	_, ok = set[nodeID]
	return ok
}

// matchesEvent reports whether the session subscribed to the event with
// the wildcard node set. Node-change routing filters on the event name
// only, so the wildcard is what carries the subscription.
func (s *Session) matchesEvent(event string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.subs[event]
	if !ok {
		return false
	}
	_, any := set[Wildcard]
	return any
}
