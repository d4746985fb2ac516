package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"companion/internal/mode"
	"companion/internal/turn"
	"companion/pkg/interfaces"
	"companion/pkg/types"
)

// Config controls session lifecycle timing.
type Config struct {
	GraceWindow   time.Duration // disconnect -> resumable window
	IdleTimeout   time.Duration // inactivity required, on top of the grace window, before the sweep destroys a session
	SweepInterval time.Duration
	Turn          turn.Config
}

// DefaultConfig returns production lifecycle defaults.
func DefaultConfig() Config {
	return Config{
		GraceWindow:   2 * time.Minute,
		IdleTimeout:   30 * time.Minute,
		SweepInterval: 15 * time.Second,
		Turn:          turn.DefaultConfig(),
	}
}

// AttachResult describes what happened when a physical connection attached.
// Epoch identifies the connection generation; the caller must present it on
// Detach so a superseded connection's cleanup cannot disconnect the session
// from under its replacement.
type AttachResult struct {
	Resumed         bool   // an existing session was resumed with history intact
	PreviousExpired bool   // a previous session for this identity was expired
	Created         bool   // a brand-new session was created
	Epoch           uint64 // connection generation token for Detach
}

// EmitterFactory returns the stable per-identity emitter a new session's
// machine will deliver events through.
type EmitterFactory func(clientID string) interfaces.Emitter

// Registry is the process-wide authoritative mapping from client identity to
// session. It is the only component permitted to destroy a session.
// ARCHITECTURAL DISCOVERY: Explicit registry object with defined lifecycle
// replaces the source's framework-level connection singletons
type Registry struct {
	modeRouter  *mode.Router
	transcriber interfaces.Transcriber
	completer   interfaces.Completer
	synthesizer interfaces.Synthesizer
	store       interfaces.HistoryStore
	newEmitter  EmitterFactory
	onExpire    func(clientID string) // releases per-identity transport state
	cfg         Config

	mu       sync.RWMutex
	sessions map[string]*Session
	expired  map[string]time.Time // recently expired identities, so a post-sweep reconnect still learns its session is gone
	running  bool
	shutdown chan struct{}
}

// NewRegistry creates a session registry. The store, synthesizer and
// onExpire callback may be nil.
func NewRegistry(modeRouter *mode.Router, transcriber interfaces.Transcriber,
	completer interfaces.Completer, synthesizer interfaces.Synthesizer,
	store interfaces.HistoryStore, newEmitter EmitterFactory,
	onExpire func(clientID string), cfg Config) *Registry {

	if cfg.SweepInterval <= 0 {
		cfg = DefaultConfig()
	}
	return &Registry{
		modeRouter:  modeRouter,
		transcriber: transcriber,
		completer:   completer,
		synthesizer: synthesizer,
		store:       store,
		newEmitter:  newEmitter,
		onExpire:    onExpire,
		cfg:         cfg,
		sessions:    make(map[string]*Session),
		expired:     make(map[string]time.Time),
		shutdown:    make(chan struct{}),
	}
}

// Start begins the periodic expiry sweep.
func (r *Registry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrRegistryRunning
	}
	r.running = true
	go r.sweepLoop()
	return nil
}

// Stop halts the sweep and drains all remaining sessions. Safe to call
// whether or not the sweep was started.
func (r *Registry) Stop() {
	r.mu.Lock()
	if r.running {
		r.running = false
		close(r.shutdown)
	}
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.machine.Stop()
	}
	log.Printf("Session registry stopped, drained %d sessions", len(sessions))
}

// Attach binds a new physical connection to the identity's session:
// resume within the grace window, otherwise expire the stale session and
// create a fresh one. Idempotent per identity - never returns two different
// live sessions for the same identity.
func (r *Registry) Attach(clientID string) (*Session, AttachResult, error) {
	if !types.IsValidClientID(clientID) {
		return nil, AttachResult{}, types.ErrInvalidClientID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var result AttachResult
	if existing, ok := r.sessions[clientID]; ok {
		state, disconnectedAt := existing.connectionInfo()
		switch {
		case state == types.ConnectionStateConnected:
			// Replacement connection for a live session: resume, do not
			// reset conversation history. The new epoch strands the old
			// connection's eventual detach.
			result.Resumed = true
			result.Epoch = existing.markConnected()
			existing.emitter.Emit(r.sessionEvent(existing, true))
			log.Printf("Session connection replaced: client=%s", clientID)
			return existing, result, nil
		case state == types.ConnectionStateDisconnected && time.Since(disconnectedAt) <= r.cfg.GraceWindow:
			result.Resumed = true
			result.Epoch = existing.markConnected()
			existing.emitter.Emit(r.sessionEvent(existing, true))
			log.Printf("Session resumed: client=%s", clientID)
			return existing, result, nil
		default:
			// Past the grace window but not yet swept.
			r.expireLocked(clientID, existing)
			result.PreviousExpired = true
		}
	}

	// A reconnect after the sweep already removed the stale session still
	// owes the client the expiry notice.
	if _, wasExpired := r.expired[clientID]; wasExpired {
		result.PreviousExpired = true
	}

	sess := r.createLocked(clientID)
	result.Created = true
	result.Epoch = sess.epoch()

	if result.PreviousExpired {
		sess.emitter.Emit(types.NewErrorEvent(types.CodeSessionExpiredError,
			"previous session expired, starting fresh", ""))
	}
	sess.emitter.Emit(r.sessionEvent(sess, false))
	if greeting := r.modeRouter.Greeting(types.DefaultMode); greeting != "" {
		sess.emitter.Emit(&types.ServerEvent{
			Type:      types.EventResponse,
			Text:      greeting,
			Timestamp: time.Now(),
		})
	}
	return sess, result, nil
}

// GetOrCreate returns the identity's session, creating one if absent,
// without touching connection state.
func (r *Registry) GetOrCreate(clientID string) (*Session, error) {
	if !types.IsValidClientID(clientID) {
		return nil, types.ErrInvalidClientID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[clientID]; ok {
		return sess, nil
	}
	return r.createLocked(clientID), nil
}

// Get returns the identity's session if present.
func (r *Registry) Get(clientID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[clientID]
	return sess, ok
}

// Detach marks the session disconnected and starts the grace-window timer.
// The epoch must be the one Attach returned for this connection: a stale
// epoch means a newer connection owns the session and the detach is ignored.
// In-flight turn state is preserved so a reconnect can still receive the
// eventual result.
func (r *Registry) Detach(clientID string, epoch uint64) {
	r.mu.RLock()
	sess, ok := r.sessions[clientID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if sess.markDisconnected(epoch) {
		log.Printf("Session disconnected: client=%s grace=%s", clientID, r.cfg.GraceWindow)
	}
}

// Sessions returns snapshots of all live sessions.
func (r *Registry) Sessions() []types.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess.Snapshot())
	}
	return out
}

// Stats returns registry statistics for monitoring.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connected := 0
	for _, sess := range r.sessions {
		if state, _ := sess.connectionInfo(); state == types.ConnectionStateConnected {
			connected++
		}
	}
	return map[string]int{
		"total_sessions":     len(r.sessions),
		"connected_sessions": connected,
	}
}

// SweepExpired removes sessions that are disconnected past the grace window
// AND idle past the idle timeout, releasing their conversation history. The
// grace window is a hard floor: a session inside it is always resumable, no
// matter how long it has been idle.
func (r *Registry) SweepExpired() int {
	type candidate struct {
		clientID string
		sess     *Session
	}

	r.mu.RLock()
	var expired []candidate
	for clientID, sess := range r.sessions {
		if r.sweepable(sess) {
			expired = append(expired, candidate{clientID, sess})
		}
	}
	r.mu.RUnlock()

	r.mu.Lock()
	count := 0
	for _, c := range expired {
		// Re-check under the write lock: the session may have reattached
		// between the scan and now.
		if current, ok := r.sessions[c.clientID]; ok && current == c.sess && r.sweepable(c.sess) {
			r.expireLocked(c.clientID, c.sess)
			count++
		}
	}
	// Expiry notices are owed for as long as the session itself could have
	// lived; older tombstones are dropped to bound the map.
	for clientID, expiredAt := range r.expired {
		if time.Since(expiredAt) > r.cfg.IdleTimeout {
			delete(r.expired, clientID)
		}
	}
	r.mu.Unlock()

	if count > 0 {
		log.Printf("Session sweep expired %d sessions", count)
	}
	return count
}

// sweepable reports whether the sweep may destroy the session right now.
func (r *Registry) sweepable(sess *Session) bool {
	state, disconnectedAt := sess.connectionInfo()
	if state != types.ConnectionStateDisconnected {
		return false
	}
	if time.Since(disconnectedAt) <= r.cfg.GraceWindow {
		return false
	}
	return time.Since(sess.machine.Snapshot().LastActivityAt) > r.cfg.IdleTimeout
}

// createLocked builds and starts a session. Caller holds the write lock.
func (r *Registry) createLocked(clientID string) *Session {
	now := time.Now()
	data := &types.Session{
		ID:             uuid.New().String(),
		ClientID:       clientID,
		Mode:           types.DefaultMode,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	// FUNCTIONAL DISCOVERY: History restore is best-effort; a slow or dead
	// store must not block connection setup
	if r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if history, err := r.store.Load(ctx, clientID); err != nil {
			log.Printf("History restore failed for client %s: %v", clientID, err)
		} else if len(history) > 0 {
			data.History = history
			log.Printf("Restored %d history entries for client %s", len(history), clientID)
		}
		cancel()
	}

	emitter := r.newEmitter(clientID)
	machine := turn.NewMachine(data, r.modeRouter, r.transcriber, r.completer,
		r.synthesizer, r.store, emitter, r.cfg.Turn)
	if err := machine.Start(); err != nil {
		log.Printf("Failed to start turn machine for client %s: %v", clientID, err)
	}

	sess := &Session{
		clientID:  clientID,
		machine:   machine,
		emitter:   emitter,
		connState: types.ConnectionStateConnected,
		connEpoch: 1,
	}
	r.sessions[clientID] = sess
	delete(r.expired, clientID)
	log.Printf("Session created: client=%s session=%s mode=%s", clientID, data.ID, data.Mode)
	return sess
}

// expireLocked destroys a session. Caller holds the write lock. The
// registry is the only component permitted to do this.
func (r *Registry) expireLocked(clientID string, sess *Session) {
	sess.markExpired()
	sess.machine.Stop()
	delete(r.sessions, clientID)
	r.expired[clientID] = time.Now()

	if r.store != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.store.Delete(ctx, clientID); err != nil {
				log.Printf("History delete failed for client %s: %v", clientID, err)
			}
		}()
	}
	if r.onExpire != nil {
		r.onExpire(clientID)
	}
	log.Printf("Session expired: client=%s", clientID)
}

func (r *Registry) sessionEvent(sess *Session, resumed bool) *types.ServerEvent {
	snap := sess.machine.Snapshot()
	return &types.ServerEvent{
		Type:      types.EventSession,
		SessionID: snap.ID,
		Mode:      snap.Mode,
		Resumed:   resumed,
		Timestamp: time.Now(),
	}
}

// sweepLoop runs SweepExpired on a timer until Stop.
func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.SweepExpired()
		case <-r.shutdown:
			return
		}
	}
}
