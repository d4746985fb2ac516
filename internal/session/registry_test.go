package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"companion/internal/mode"
	"companion/internal/turn"
	"companion/pkg/interfaces"
	"companion/pkg/types"
)

// recordEmitter captures emitted events for assertions.
type recordEmitter struct {
	mu     sync.Mutex
	events []*types.ServerEvent
}

func (e *recordEmitter) Emit(event *types.ServerEvent) {
	e.mu.Lock()
	e.events = append(e.events, event)
	e.mu.Unlock()
}

func (e *recordEmitter) byType(eventType string) []*types.ServerEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*types.ServerEvent
	for _, ev := range e.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// recordStore tracks history store calls.
type recordStore struct {
	mu      sync.Mutex
	saved   map[string][]types.HistoryEntry
	deleted []string
}

func newRecordStore() *recordStore {
	return &recordStore{saved: make(map[string][]types.HistoryEntry)}
}

func (s *recordStore) Save(_ context.Context, clientID string, history []types.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[clientID] = history
	return nil
}

func (s *recordStore) Load(_ context.Context, clientID string) ([]types.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved[clientID], nil
}

func (s *recordStore) Delete(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.saved, clientID)
	s.deleted = append(s.deleted, clientID)
	return nil
}

func (s *recordStore) Close() error { return nil }

func (s *recordStore) deletedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

type registryFixture struct {
	registry *Registry
	emitters map[string]*recordEmitter
	store    *recordStore
	expired  []string
	mu       sync.Mutex
}

func newRegistryFixture(t *testing.T, cfg Config) *registryFixture {
	t.Helper()
	f := &registryFixture{
		emitters: make(map[string]*recordEmitter),
		store:    newRecordStore(),
	}
	router := mode.NewRouter(mode.NewKeywordClassifier(), 0, 0)
	f.registry = NewRegistry(router, nil, nil, nil, f.store,
		func(clientID string) interfaces.Emitter {
			f.mu.Lock()
			defer f.mu.Unlock()
			em := &recordEmitter{}
			f.emitters[clientID] = em
			return em
		},
		func(clientID string) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.expired = append(f.expired, clientID)
		},
		cfg)
	t.Cleanup(f.registry.Stop)
	return f
}

func (f *registryFixture) emitter(clientID string) *recordEmitter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.emitters[clientID]
}

func (f *registryFixture) expiredIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.expired...)
}

func testLifecycleConfig() Config {
	return Config{
		GraceWindow:   50 * time.Millisecond,
		IdleTimeout:   30 * time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
		Turn:          turn.DefaultConfig(),
	}
}

func TestAttachCreatesFreshSession(t *testing.T) {
	f := newRegistryFixture(t, testLifecycleConfig())

	sess, result, err := f.registry.Attach("kid-1")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if !result.Created || result.Resumed || result.PreviousExpired {
		t.Errorf("Expected fresh creation, got %+v", result)
	}
	if sess.ClientID() != "kid-1" {
		t.Errorf("Expected clientID kid-1, got %s", sess.ClientID())
	}

	snap := sess.Snapshot()
	if snap.Mode != types.DefaultMode {
		t.Errorf("Expected default mode %s, got %s", types.DefaultMode, snap.Mode)
	}
	if snap.ConnectionState != types.ConnectionStateConnected {
		t.Errorf("Expected connected state, got %s", snap.ConnectionState)
	}

	em := f.emitter("kid-1")
	sessionEvents := em.byType(types.EventSession)
	if len(sessionEvents) != 1 {
		t.Fatalf("Expected 1 session event, got %d", len(sessionEvents))
	}
	if sessionEvents[0].Resumed {
		t.Error("Fresh session should not be marked resumed")
	}
	if sessionEvents[0].SessionID == "" {
		t.Error("Session event missing session ID")
	}
	if greetings := em.byType(types.EventResponse); len(greetings) != 1 {
		t.Errorf("Expected 1 greeting response, got %d", len(greetings))
	}
}

func TestAttachRejectsInvalidClientID(t *testing.T) {
	f := newRegistryFixture(t, testLifecycleConfig())

	if _, _, err := f.registry.Attach("bad id!"); err != types.ErrInvalidClientID {
		t.Errorf("Expected ErrInvalidClientID, got %v", err)
	}
	if _, _, err := f.registry.Attach(""); err != types.ErrInvalidClientID {
		t.Errorf("Expected ErrInvalidClientID for empty ID, got %v", err)
	}
}

func TestReattachWithinGraceResumesSession(t *testing.T) {
	f := newRegistryFixture(t, testLifecycleConfig())

	first, attached, err := f.registry.Attach("kid-2")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	f.registry.Detach("kid-2", attached.Epoch)

	second, result, err := f.registry.Attach("kid-2")
	if err != nil {
		t.Fatalf("Reattach failed: %v", err)
	}
	if !result.Resumed || result.Created {
		t.Errorf("Expected resume, got %+v", result)
	}
	if first != second {
		t.Error("Resume should return the same session instance")
	}
	if state, _ := second.connectionInfo(); state != types.ConnectionStateConnected {
		t.Errorf("Expected connected after resume, got %s", state)
	}

	sessionEvents := f.emitter("kid-2").byType(types.EventSession)
	if len(sessionEvents) != 2 {
		t.Fatalf("Expected 2 session events (create + resume), got %d", len(sessionEvents))
	}
	if !sessionEvents[1].Resumed {
		t.Error("Resume session event should be marked resumed")
	}
}

func TestReattachPastGraceStartsFresh(t *testing.T) {
	f := newRegistryFixture(t, testLifecycleConfig())

	first, attached, err := f.registry.Attach("kid-3")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	firstID := first.Snapshot().ID
	f.registry.Detach("kid-3", attached.Epoch)
	time.Sleep(80 * time.Millisecond)

	second, result, err := f.registry.Attach("kid-3")
	if err != nil {
		t.Fatalf("Reattach failed: %v", err)
	}
	if !result.PreviousExpired || !result.Created || result.Resumed {
		t.Errorf("Expected expiry + fresh creation, got %+v", result)
	}
	if second.Snapshot().ID == firstID {
		t.Error("Fresh session should have a new session ID")
	}

	em := f.emitter("kid-3")
	errorEvents := em.byType(types.EventError)
	if len(errorEvents) != 1 {
		t.Fatalf("Expected 1 error event, got %d", len(errorEvents))
	}
	if errorEvents[0].Code != types.CodeSessionExpiredError {
		t.Errorf("Expected %s, got %s", types.CodeSessionExpiredError, errorEvents[0].Code)
	}

	deadline := time.After(time.Second)
	for len(f.store.deletedIDs()) == 0 {
		select {
		case <-deadline:
			t.Fatal("Expected history delete for expired session")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if ids := f.expiredIDs(); len(ids) != 1 || ids[0] != "kid-3" {
		t.Errorf("Expected onExpire for kid-3, got %v", ids)
	}
}

func TestSweepExpiresDisconnectedSessions(t *testing.T) {
	f := newRegistryFixture(t, testLifecycleConfig())

	_, attached, err := f.registry.Attach("kid-4")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if _, _, err := f.registry.Attach("kid-5"); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	f.registry.Detach("kid-4", attached.Epoch)
	time.Sleep(80 * time.Millisecond)

	if count := f.registry.SweepExpired(); count != 1 {
		t.Errorf("Expected sweep to expire 1 session, got %d", count)
	}
	if _, ok := f.registry.Get("kid-4"); ok {
		t.Error("Expired session should be removed from registry")
	}
	if _, ok := f.registry.Get("kid-5"); !ok {
		t.Error("Connected session should survive the sweep")
	}
	if ids := f.expiredIDs(); len(ids) != 1 || ids[0] != "kid-4" {
		t.Errorf("Expected onExpire for kid-4, got %v", ids)
	}
}

func TestSweepIgnoresConnectedAndRecent(t *testing.T) {
	f := newRegistryFixture(t, testLifecycleConfig())

	_, attached, err := f.registry.Attach("kid-6")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	f.registry.Detach("kid-6", attached.Epoch)

	// Still inside the grace window.
	if count := f.registry.SweepExpired(); count != 0 {
		t.Errorf("Expected sweep to expire nothing, got %d", count)
	}
	if _, ok := f.registry.Get("kid-6"); !ok {
		t.Error("Session inside grace window should survive the sweep")
	}
}

func TestHistoryRestoredOnCreate(t *testing.T) {
	f := newRegistryFixture(t, testLifecycleConfig())
	f.store.Save(context.Background(), "kid-7", []types.HistoryEntry{
		{Role: "user", Text: "what is a fraction", TokenCount: 5},
		{Role: "assistant", Text: "a fraction is part of a whole", TokenCount: 8},
	})

	sess, _, err := f.registry.Attach("kid-7")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	history := sess.Snapshot().History
	if len(history) != 2 {
		t.Fatalf("Expected 2 restored history entries, got %d", len(history))
	}
	if history[0].Text != "what is a fraction" {
		t.Errorf("Unexpected restored entry: %q", history[0].Text)
	}
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	f := newRegistryFixture(t, testLifecycleConfig())

	first, err := f.registry.GetOrCreate("kid-8")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	second, err := f.registry.GetOrCreate("kid-8")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if first != second {
		t.Error("GetOrCreate should return the same session for the same identity")
	}
}

func TestDetachUnknownClientIsNoop(t *testing.T) {
	f := newRegistryFixture(t, testLifecycleConfig())
	f.registry.Detach("nobody", 1)
}

func TestStatsCountConnections(t *testing.T) {
	f := newRegistryFixture(t, testLifecycleConfig())

	if _, _, err := f.registry.Attach("kid-9"); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	_, attached, err := f.registry.Attach("kid-10")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	f.registry.Detach("kid-10", attached.Epoch)

	stats := f.registry.Stats()
	if stats["total_sessions"] != 2 {
		t.Errorf("Expected 2 total sessions, got %d", stats["total_sessions"])
	}
	if stats["connected_sessions"] != 1 {
		t.Errorf("Expected 1 connected session, got %d", stats["connected_sessions"])
	}
}

func TestDetachWithStaleEpochIsIgnored(t *testing.T) {
	f := newRegistryFixture(t, testLifecycleConfig())

	first, firstAttach, err := f.registry.Attach("kid-12")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	// A replacement connection takes over the live session.
	second, secondAttach, err := f.registry.Attach("kid-12")
	if err != nil {
		t.Fatalf("Replacement attach failed: %v", err)
	}
	if !secondAttach.Resumed || secondAttach.Created {
		t.Errorf("Expected resume on replacement, got %+v", secondAttach)
	}
	if first != second {
		t.Error("Replacement should reuse the same session instance")
	}
	if secondAttach.Epoch == firstAttach.Epoch {
		t.Fatal("Replacement connection must receive a new epoch")
	}

	// The replacement attach announces the session on the new channel.
	sessionEvents := f.emitter("kid-12").byType(types.EventSession)
	if len(sessionEvents) != 2 {
		t.Fatalf("Expected 2 session events (create + replacement), got %d", len(sessionEvents))
	}
	if !sessionEvents[1].Resumed {
		t.Error("Replacement session event should be marked resumed")
	}

	// The old connection's cleanup arrives late; its stale epoch must not
	// disconnect the session out from under the replacement.
	f.registry.Detach("kid-12", firstAttach.Epoch)
	if state, _ := second.connectionInfo(); state != types.ConnectionStateConnected {
		t.Fatalf("Stale detach disconnected the live session: %s", state)
	}
	time.Sleep(80 * time.Millisecond)
	if count := f.registry.SweepExpired(); count != 0 {
		t.Errorf("Sweep expired %d sessions while the replacement was live", count)
	}

	// The replacement's own epoch still detaches normally.
	f.registry.Detach("kid-12", secondAttach.Epoch)
	if state, _ := second.connectionInfo(); state != types.ConnectionStateDisconnected {
		t.Errorf("Expected disconnected after current-epoch detach, got %s", state)
	}
}

func TestSweepKeepsIdleSessionInsideGrace(t *testing.T) {
	cfg := testLifecycleConfig()
	cfg.GraceWindow = time.Hour
	cfg.IdleTimeout = 20 * time.Millisecond
	f := newRegistryFixture(t, cfg)

	first, attached, err := f.registry.Attach("kid-13")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	f.registry.Detach("kid-13", attached.Epoch)
	time.Sleep(50 * time.Millisecond)

	// Idle beyond the idle timeout but still inside the grace window: the
	// session must stay resumable.
	if count := f.registry.SweepExpired(); count != 0 {
		t.Fatalf("Sweep expired %d sessions inside the grace window", count)
	}
	second, result, err := f.registry.Attach("kid-13")
	if err != nil {
		t.Fatalf("Reattach failed: %v", err)
	}
	if !result.Resumed || result.Created || result.PreviousExpired {
		t.Errorf("Expected resume inside grace window, got %+v", result)
	}
	if first != second {
		t.Error("Reattach inside grace window should return the same session")
	}
}

func TestReattachAfterSweepReportsExpiry(t *testing.T) {
	f := newRegistryFixture(t, testLifecycleConfig())

	first, attached, err := f.registry.Attach("kid-14")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	firstID := first.Snapshot().ID
	f.registry.Detach("kid-14", attached.Epoch)
	time.Sleep(100 * time.Millisecond)

	if count := f.registry.SweepExpired(); count != 1 {
		t.Fatalf("Expected sweep to expire 1 session, got %d", count)
	}

	// The sweep already removed the stale session; the next attach must
	// still report the expiry, not silently hand out a fresh session.
	second, result, err := f.registry.Attach("kid-14")
	if err != nil {
		t.Fatalf("Reattach failed: %v", err)
	}
	if !result.PreviousExpired || !result.Created || result.Resumed {
		t.Errorf("Expected expiry notice + fresh creation, got %+v", result)
	}
	if second.Snapshot().ID == firstID {
		t.Error("Post-sweep reattach should create a new session ID")
	}

	errorEvents := f.emitter("kid-14").byType(types.EventError)
	if len(errorEvents) != 1 {
		t.Fatalf("Expected 1 error event, got %d", len(errorEvents))
	}
	if errorEvents[0].Code != types.CodeSessionExpiredError {
		t.Errorf("Expected %s, got %s", types.CodeSessionExpiredError, errorEvents[0].Code)
	}
}

func TestStopDrainsAllSessions(t *testing.T) {
	f := newRegistryFixture(t, testLifecycleConfig())
	if err := f.registry.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := f.registry.Start(); err != ErrRegistryRunning {
		t.Errorf("Expected ErrRegistryRunning on double start, got %v", err)
	}

	sess, _, err := f.registry.Attach("kid-11")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	f.registry.Stop()

	if _, ok := f.registry.Get("kid-11"); ok {
		t.Error("Stop should remove all sessions")
	}
	if err := sess.Machine().Enqueue(&types.ClientEvent{Type: types.EventText}); err == nil {
		t.Error("Machine should reject events after registry stop")
	}
}
