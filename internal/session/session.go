package session

import (
	"sync"
	"time"

	"companion/internal/turn"
	"companion/pkg/interfaces"
	"companion/pkg/types"
)

// Session is the registry's runtime wrapper around one logical client
// pairing: the turn machine that owns the conversational state plus the
// connection lifecycle fields the sweep reads.
// ARCHITECTURAL DISCOVERY: Lifecycle fields live here, not in the machine,
// so the sweep never contends with turn processing
type Session struct {
	clientID string
	machine  *turn.Machine
	emitter  interfaces.Emitter

	mu             sync.RWMutex
	connState      types.ConnectionState
	disconnectedAt time.Time
	connEpoch      uint64 // increments per physical connection generation
}

// Machine returns the session's turn machine for event forwarding.
func (s *Session) Machine() *turn.Machine {
	return s.machine
}

// ClientID returns the stable client identity.
func (s *Session) ClientID() string {
	return s.clientID
}

// Snapshot merges the machine-owned session data with the registry-owned
// connection lifecycle for read-only consumers (API, sweep).
func (s *Session) Snapshot() types.Session {
	snap := s.machine.Snapshot()
	s.mu.RLock()
	snap.ConnectionState = s.connState
	snap.DisconnectedAt = s.disconnectedAt
	s.mu.RUnlock()
	return snap
}

// markConnected binds a new connection generation and returns its epoch.
// The epoch is the token a later detach must present: only the connection
// that currently owns the session may disconnect it.
func (s *Session) markConnected() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connState = types.ConnectionStateConnected
	s.disconnectedAt = time.Time{}
	s.connEpoch++
	return s.connEpoch
}

// markDisconnected transitions to Disconnected if the epoch is current.
// A superseded connection's cleanup presents a stale epoch and is a no-op,
// so it never disturbs the connection that replaced it.
func (s *Session) markDisconnected(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.connEpoch || s.connState != types.ConnectionStateConnected {
		return false
	}
	s.connState = types.ConnectionStateDisconnected
	s.disconnectedAt = time.Now()
	return true
}

func (s *Session) epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connEpoch
}

func (s *Session) markExpired() {
	s.mu.Lock()
	s.connState = types.ConnectionStateExpired
	s.mu.Unlock()
}

// connectionInfo returns the fields the sweep needs in one read.
func (s *Session) connectionInfo() (types.ConnectionState, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connState, s.disconnectedAt
}
