package websocket

import (
	"log"
	"sync"

	"companion/pkg/interfaces"
	"companion/pkg/types"
)

// flushOrder is the fixed delivery order for events coalesced while a
// client was disconnected. Session context first, then turn state, then
// content, so a reconnecting client rebuilds its view deterministically.
var flushOrder = []string{
	types.EventSession,
	types.EventState,
	types.EventError,
	types.EventTranscript,
	types.EventResponse,
	types.EventAudio,
	types.EventBusy,
}

// Emitter is the stable per-identity delivery channel a session's turn
// machine emits through. It outlives individual WebSocket connections:
// while no connection is attached it coalesces the latest event per type,
// and flushes them in fixed order when the client reattaches.
// FUNCTIONAL DISCOVERY: Coalescing latest-per-type bounds memory during a
// disconnect; a reconnecting client needs current state, not a replay
type Emitter struct {
	clientID string

	mu      sync.Mutex
	conn    *Connection
	pending map[string]*types.ServerEvent
}

// Emit delivers an event to the attached connection, or coalesces it for
// the next reattach. Never blocks turn processing.
func (e *Emitter) Emit(event *types.ServerEvent) {
	if event == nil {
		return
	}

	e.mu.Lock()
	conn := e.conn
	if conn == nil {
		e.pending[event.Type] = event
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	if err := conn.WriteJSON(event); err != nil {
		log.Printf("Event delivery failed for client %s: %v", e.clientID, err)
	}
}

// attach binds a connection and flushes coalesced events in fixed order.
func (e *Emitter) attach(conn *Connection) {
	e.mu.Lock()
	e.conn = conn
	pending := e.pending
	e.pending = make(map[string]*types.ServerEvent)
	e.mu.Unlock()

	for _, eventType := range flushOrder {
		if event, ok := pending[eventType]; ok {
			if err := conn.WriteJSON(event); err != nil {
				log.Printf("Coalesced event flush failed for client %s: %v", e.clientID, err)
				return
			}
		}
	}
}

// detach unbinds a connection. Only the currently attached connection may
// detach, so a stale connection's cleanup never disturbs its replacement.
func (e *Emitter) detach(conn *Connection) {
	e.mu.Lock()
	if e.conn == conn {
		e.conn = nil
	}
	e.mu.Unlock()
}

// Gateway maps client identities to their emitters with thread-safe
// operations. Pure delivery management without business logic.
// ARCHITECTURAL DISCOVERY: Emitters are keyed by identity, not connection,
// so session output survives the connection it started on
type Gateway struct {
	mu       sync.RWMutex
	emitters map[string]*Emitter
}

// NewGateway creates an empty gateway.
func NewGateway() *Gateway {
	return &Gateway{
		emitters: make(map[string]*Emitter),
	}
}

// Emitter returns the identity's emitter, creating one if absent. This is
// the factory the session registry hands to new turn machines.
func (g *Gateway) Emitter(clientID string) interfaces.Emitter {
	return g.emitter(clientID)
}

func (g *Gateway) emitter(clientID string) *Emitter {
	g.mu.Lock()
	defer g.mu.Unlock()

	if em, exists := g.emitters[clientID]; exists {
		return em
	}
	em := &Emitter{
		clientID: clientID,
		pending:  make(map[string]*types.ServerEvent),
	}
	g.emitters[clientID] = em
	return em
}

// Attach binds a new physical connection to the identity's emitter,
// closing any connection it replaces.
func (g *Gateway) Attach(clientID string, conn *Connection) {
	em := g.emitter(clientID)

	em.mu.Lock()
	previous := em.conn
	em.mu.Unlock()
	if previous != nil && previous != conn {
		// FUNCTIONAL DISCOVERY: Close the replaced connection asynchronously
		// to avoid blocking attach on a dead peer
		go func() {
			if err := previous.Close(); err != nil {
				log.Printf("Failed to close replaced connection: %v", err)
			}
		}()
	}

	em.attach(conn)
}

// Detach unbinds a connection from the identity's emitter. Idempotent and
// safe when a newer connection has already taken over.
func (g *Gateway) Detach(clientID string, conn *Connection) {
	g.mu.RLock()
	em, exists := g.emitters[clientID]
	g.mu.RUnlock()
	if !exists {
		return
	}
	em.detach(conn)
}

// Remove drops the identity's emitter and any coalesced events. Called by
// the session registry when a session expires.
func (g *Gateway) Remove(clientID string) {
	g.mu.Lock()
	em, exists := g.emitters[clientID]
	delete(g.emitters, clientID)
	g.mu.Unlock()
	if !exists {
		return
	}

	em.mu.Lock()
	conn := em.conn
	em.conn = nil
	em.pending = make(map[string]*types.ServerEvent)
	em.mu.Unlock()
	if conn != nil {
		go func() {
			_ = conn.Close()
		}()
	}
}

// GetStats returns gateway statistics for monitoring.
func (g *Gateway) GetStats() map[string]int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	attached := 0
	for _, em := range g.emitters {
		em.mu.Lock()
		if em.conn != nil {
			attached++
		}
		em.mu.Unlock()
	}

	return map[string]int{
		"total_emitters":       len(g.emitters),
		"attached_connections": attached,
	}
}
