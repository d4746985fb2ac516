package websocket

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"companion/internal/session"
	"companion/internal/turn"
	"companion/pkg/types"
)

// WebSocket upgrader with production-ready settings
// ARCHITECTURAL DISCOVERY: Separate upgrader configuration enables reuse
// and consistent WebSocket settings across different handler instances
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// FUNCTIONAL DISCOVERY: Allow all origins for development
		// Production deployments should implement stricter origin checking
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// maxMessageSize bounds inbound frames. Audio chunks are capped at 64KB of
// PCM, which base64-encodes to ~86KB inside the JSON envelope.
const maxMessageSize = 128 * 1024

// Handler accepts WebSocket connections and pumps client events into the
// identity's turn machine.
// ARCHITECTURAL DISCOVERY: The handler owns only transport concerns; turn
// semantics live entirely behind the session registry
type Handler struct {
	gateway  *Gateway
	registry *session.Registry
}

// NewHandler creates a WebSocket handler with dependency injection.
func NewHandler(gateway *Gateway, registry *session.Registry) *Handler {
	return &Handler{
		gateway:  gateway,
		registry: registry,
	}
}

// HandleWebSocket handles WebSocket connection requests.
// ARCHITECTURAL DISCOVERY: Validation before upgrade returns proper HTTP
// errors; after upgrade all errors travel as error events on the socket
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		http.Error(w, "Missing required query parameter: client_id", http.StatusBadRequest)
		return
	}
	if !types.IsValidClientID(clientID) {
		http.Error(w, "Invalid client_id format", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	wsConn := NewConnection(conn)

	// Bind the connection to the identity's emitter BEFORE the session
	// attach, so the session and greeting events reach this connection
	// rather than being coalesced.
	h.gateway.Attach(clientID, wsConn)

	sess, result, err := h.registry.Attach(clientID)
	if err != nil {
		log.Printf("Session attach failed for client %s: %v", clientID, err)
		h.gateway.Detach(clientID, wsConn)
		_ = wsConn.Close()
		return
	}
	log.Printf("Client connected: client=%s resumed=%v", clientID, result.Resumed)

	go h.handleConnection(wsConn, clientID, sess, result.Epoch)
}

// handleConnection manages the connection lifecycle with heartbeat
// monitoring and the inbound read pump.
// ARCHITECTURAL DISCOVERY: Single goroutine per connection handles both
// heartbeat and message reading to prevent goroutine proliferation
func (h *Handler) handleConnection(conn *Connection, clientID string, sess *session.Session, epoch uint64) {
	// The epoch scopes the detach to this connection: when a replacement
	// connection has already taken over, this cleanup must not mark the
	// live session disconnected.
	defer func() {
		h.gateway.Detach(clientID, conn)
		h.registry.Detach(clientID, epoch)
		_ = conn.Close()
		log.Printf("Client disconnected: client=%s", clientID)
	}()

	// TECHNICAL DISCOVERY: 60-second read deadline with 30-second ping
	// interval detects half-open connections from flaky home networks
	conn.conn.SetReadLimit(maxMessageSize)
	if err := conn.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		if err := conn.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
			log.Printf("Failed to set read deadline in pong handler: %v", err)
			return err
		}
		return nil
	})

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	// Read pump - parse, validate, and forward client events
	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error for client %s: %v", clientID, err)
			}
			break
		}

		if messageType != websocket.TextMessage {
			continue
		}

		var event types.ClientEvent
		if err := json.Unmarshal(data, &event); err != nil {
			h.rejectMalformed(conn, "", "invalid JSON envelope")
			continue
		}
		if err := event.Validate(); err != nil {
			h.rejectMalformed(conn, event.TurnID, err.Error())
			continue
		}

		if err := sess.Machine().Enqueue(&event); err != nil {
			if errors.Is(err, turn.ErrMachineStopped) {
				break
			}
			// FUNCTIONAL DISCOVERY: Queue-full drops are logged, not fatal;
			// the client's next event will usually get through
			log.Printf("Dropped event from client %s: %v", clientID, err)
		}
	}
}

// rejectMalformed reports a protocol violation without dropping the
// connection. The offending event is discarded.
func (h *Handler) rejectMalformed(conn *Connection, turnID, reason string) {
	event := types.NewErrorEvent(types.CodeMalformedEventError, reason, turnID)
	if err := conn.WriteJSON(event); err != nil {
		log.Printf("Failed to send malformed-event error: %v", err)
	}
}
