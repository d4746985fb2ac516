package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"companion/pkg/types"
)

// Test WebSocket upgrader for creating test connections
var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// createTestWebSocketConnection dials a throwaway server and returns the
// client-side connection plus a channel of server events received by the peer.
func createTestWebSocketConnection(t *testing.T) (*websocket.Conn, chan types.ServerEvent) {
	t.Helper()
	received := make(chan types.ServerEvent, 64)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var event types.ServerEvent
			if err := json.Unmarshal(data, &event); err == nil {
				received <- event
			}
		}
	}))

	t.Cleanup(func() { server.Close() })

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to create test WebSocket connection: %v", err)
	}

	return conn, received
}

func TestConnection_NewConnectionInitialization(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)

	conn := NewConnection(wsConn)
	defer conn.Close()

	if conn.writeCh == nil {
		t.Error("Write channel not initialized")
	}

	if cap(conn.writeCh) != 100 {
		t.Errorf("Expected write channel buffer of 100, got %d", cap(conn.writeCh))
	}
}

func TestConnection_WriteJSONDelivery(t *testing.T) {
	wsConn, received := createTestWebSocketConnection(t)

	conn := NewConnection(wsConn)
	defer conn.Close()

	event := types.NewStateEvent("turn-1", types.TurnStateCapturing)
	if err := conn.WriteJSON(event); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	select {
	case got := <-received:
		if got.Type != types.EventState {
			t.Errorf("Expected state event, got %s", got.Type)
		}
		if got.TurnID != "turn-1" {
			t.Errorf("Expected turn-1, got %s", got.TurnID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for delivered event")
	}
}

func TestConnection_WriteAfterCloseFails(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)

	conn := NewConnection(wsConn)
	if err := conn.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	// Idempotent
	if err := conn.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}

	if err := conn.WriteJSON(types.NewStateEvent("t", types.TurnStateIdle)); err != ErrConnectionClosed {
		t.Errorf("Expected ErrConnectionClosed, got %v", err)
	}
}

func TestConnection_ConcurrentWrites(t *testing.T) {
	wsConn, received := createTestWebSocketConnection(t)

	conn := NewConnection(wsConn)
	defer conn.Close()

	const writers = 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = conn.WriteJSON(types.NewStateEvent("turn", types.TurnStateReasoning))
		}()
	}
	wg.Wait()

	count := 0
	deadline := time.After(2 * time.Second)
	for count < writers {
		select {
		case <-received:
			count++
		case <-deadline:
			t.Fatalf("Expected %d delivered events, got %d", writers, count)
		}
	}
}
