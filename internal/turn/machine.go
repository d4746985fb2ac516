package turn

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"companion/internal/audio"
	"companion/internal/mode"
	"companion/pkg/interfaces"
	"companion/pkg/types"
)

// Config controls per-stage deadlines and history bounds for one machine.
type Config struct {
	TranscribeTimeout time.Duration
	ReasonTimeout     time.Duration
	SynthesizeTimeout time.Duration
	EventBuffer       int
	HistoryMaxEntries int
	HistoryMaxTokens  int
	Audio             audio.Config
}

// DefaultConfig returns production stage deadlines.
func DefaultConfig() Config {
	return Config{
		TranscribeTimeout: 15 * time.Second,
		ReasonTimeout:     30 * time.Second,
		SynthesizeTimeout: 15 * time.Second,
		EventBuffer:       256,
		HistoryMaxEntries: 40,
		HistoryMaxTokens:  4096,
		Audio:             audio.DefaultConfig(),
	}
}

// resultKind tags adapter results and stage timeouts posted back into the
// session's ordered event queue.
type resultKind int

const (
	resultTranscript resultKind = iota
	resultResponse
	resultAudio
	resultStageTimeout
)

// result is an internal completion event for an in-flight external call,
// keyed by turnId so stale results are discarded idempotently.
type result struct {
	kind   resultKind
	turnID string
	stage  types.TurnState // stage the result belongs to
	text   string
	audio  []byte
	err    error
}

// event is one element of the session's ordered queue: either a client
// event or an internal result. Strict arrival-order processing is the
// ordering guarantee; cancellation is just another ordered event.
type event struct {
	client *types.ClientEvent
	res    *result
}

// Machine drives one session's conversational turn lifecycle. All session
// state is mutated only by the machine's single run goroutine, which
// enforces at-most-one-turn-in-flight and processes events strictly in
// arrival order.
// ARCHITECTURAL DISCOVERY: Single goroutine per session replaces the
// source's scattered callback chains - what happens on an event is always a
// pure function of (state, event)
type Machine struct {
	session     *types.Session
	modeRouter  *mode.Router
	transcriber interfaces.Transcriber
	completer   interfaces.Completer
	synthesizer interfaces.Synthesizer
	store       interfaces.HistoryStore
	emitter     interfaces.Emitter
	cfg         Config

	events chan *event
	done   chan struct{}

	// Loop-owned turn state; no lock needed inside the run goroutine.
	state       types.TurnState
	turn        *types.Turn
	buffer      *audio.FrameBuffer
	pendingMode types.Mode
	suggestion  types.Mode
	stageCancel context.CancelFunc
	stageTimer  *time.Timer

	// TECHNICAL DISCOVERY: RWMutex only guards snapshot reads of session
	// data (API/registry); the run goroutine is the sole writer
	mu        sync.RWMutex
	running   bool
	stopOnce  sync.Once
}

// NewMachine creates a machine for one session. The synthesizer may be nil
// for text-only deployments; the store may be nil when history delegation is
// disabled.
func NewMachine(session *types.Session, modeRouter *mode.Router, transcriber interfaces.Transcriber,
	completer interfaces.Completer, synthesizer interfaces.Synthesizer,
	store interfaces.HistoryStore, emitter interfaces.Emitter, cfg Config) *Machine {

	if cfg.EventBuffer <= 0 {
		cfg = DefaultConfig()
	}
	return &Machine{
		session:     session,
		modeRouter:  modeRouter,
		transcriber: transcriber,
		completer:   completer,
		synthesizer: synthesizer,
		store:       store,
		emitter:     emitter,
		cfg:         cfg,
		events:      make(chan *event, cfg.EventBuffer),
		done:        make(chan struct{}),
		state:       types.TurnStateIdle,
	}
}

// Start begins the machine's run goroutine.
func (m *Machine) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return ErrMachineRunning
	}
	m.running = true
	go m.run()
	return nil
}

// Stop shuts the machine down, discarding any in-flight turn.
func (m *Machine) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
	})
}

// Enqueue posts a client event onto the session's ordered queue.
// FUNCTIONAL DISCOVERY: Non-blocking send with error handling prevents one
// slow session from stalling the connection handler
func (m *Machine) Enqueue(ev *types.ClientEvent) error {
	select {
	case <-m.done:
		return ErrMachineStopped
	default:
	}
	select {
	case m.events <- &event{client: ev}:
		return nil
	default:
		return ErrEventQueueFull
	}
}

// Snapshot returns a copy of the session data for read-only consumers.
func (m *Machine) Snapshot() types.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := *m.session
	snap.History = append([]types.HistoryEntry(nil), m.session.History...)
	return snap
}

// State returns the current turn state.
func (m *Machine) State() types.TurnState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// run is the single processing loop for the session.
func (m *Machine) run() {
	defer m.exitStage()
	for {
		select {
		case ev := <-m.events:
			if ev.client != nil {
				m.handleClient(ev.client)
			} else if ev.res != nil {
				m.handleResult(ev.res)
			}
		case <-m.done:
			return
		}
	}
}

// handleClient processes one client event against current state.
func (m *Machine) handleClient(ev *types.ClientEvent) {
	m.touch()

	switch ev.Type {
	case types.EventStartInput:
		m.handleStartInput(ev)
	case types.EventAudioChunk:
		m.handleAudioChunk(ev)
	case types.EventEndOfInput:
		m.handleEndOfInput(ev)
	case types.EventText:
		m.handleText(ev)
	case types.EventModeSwitch:
		m.handleModeSwitch(ev.Mode)
	case types.EventCancel:
		m.handleCancel(ev.TurnID)
	}
}

func (m *Machine) handleStartInput(ev *types.ClientEvent) {
	// At-most-one-turn-in-flight: reject with busy, never process
	// concurrently.
	if m.state != types.TurnStateIdle {
		m.emitter.Emit(&types.ServerEvent{
			Type:      types.EventBusy,
			Code:      types.CodeTurnConflictError,
			TurnID:    m.openTurnID(),
			Timestamp: time.Now(),
		})
		return
	}

	// Mode on start-input applies atomically - the session is Idle here.
	if ev.Mode != "" && ev.Mode.IsValid() {
		m.setMode(ev.Mode)
	}

	turn := &types.Turn{
		ID:        uuid.New().String(),
		InputKind: ev.Kind,
		StartedAt: time.Now(),
	}
	m.turn = turn
	m.suggestion = ""
	if ev.Kind == types.InputKindAudio {
		m.buffer = audio.NewFrameBuffer(m.cfg.Audio)
	}
	m.setState(types.TurnStateCapturing)
}

func (m *Machine) handleAudioChunk(ev *types.ClientEvent) {
	// FUNCTIONAL DISCOVERY: Chunks for a cancelled or completed turn keep
	// streaming in from the client for a moment; they are dropped silently
	if m.state != types.TurnStateCapturing || m.turn == nil ||
		m.turn.ID != ev.TurnID || m.turn.InputKind != types.InputKindAudio {
		return
	}

	if err := m.buffer.Append(ev.Data); err != nil {
		m.emitter.Emit(types.NewErrorEvent(types.CodeMalformedEventError, err.Error(), ev.TurnID))
		return
	}

	// The endpoint detector is itself a cancellation source for Capturing.
	if m.buffer.Endpointed() {
		m.beginTranscribing()
	}
}

func (m *Machine) handleEndOfInput(ev *types.ClientEvent) {
	if m.state != types.TurnStateCapturing || m.turn == nil ||
		m.turn.ID != ev.TurnID || m.turn.InputKind != types.InputKindAudio {
		return
	}
	m.beginTranscribing()
}

func (m *Machine) handleText(ev *types.ClientEvent) {
	if m.state != types.TurnStateCapturing || m.turn == nil || m.turn.InputKind != types.InputKindText {
		m.emitter.Emit(types.NewErrorEvent(types.CodeMalformedEventError,
			"text event without an open text turn", ev.TurnID))
		return
	}
	if m.turn.ID != ev.TurnID {
		m.emitter.Emit(&types.ServerEvent{
			Type:      types.EventBusy,
			Code:      types.CodeTurnConflictError,
			TurnID:    m.turn.ID,
			Timestamp: time.Now(),
		})
		return
	}

	// Text input needs no transcription: Capturing -> Reasoning directly.
	m.turn.Transcript = ev.Content
	m.beginReasoning()
}

// handleModeSwitch applies a switch immediately at Idle and queues it during
// an open turn. Switching context mid-reasoning would produce inconsistent
// prompts.
func (m *Machine) handleModeSwitch(newMode types.Mode) {
	if m.state == types.TurnStateIdle {
		m.setMode(newMode)
		m.emitSessionEvent(false)
		return
	}
	m.pendingMode = newMode
}

// handleCancel forces an immediate return to Idle from Capturing,
// Transcribing or Reasoning. In-flight external calls are not aborted
// remotely; their results are discarded on arrival keyed by turnId.
func (m *Machine) handleCancel(turnID string) {
	switch m.state {
	case types.TurnStateCapturing, types.TurnStateTranscribing, types.TurnStateReasoning:
	default:
		return
	}
	if m.turn == nil || m.turn.ID != turnID {
		return
	}

	m.exitStage()
	m.turn = nil
	m.buffer = nil
	m.setState(types.TurnStateIdle)
	m.applyPendingMode()
}

// handleResult processes an adapter result or stage timeout. Results for a
// turn that is no longer open are discarded - the idempotent-discard path
// shared by cancellation and timeouts.
func (m *Machine) handleResult(res *result) {
	if m.turn == nil || m.turn.ID != res.turnID || m.state != res.stage {
		return
	}

	if res.kind == resultStageTimeout {
		m.fail(types.CodeTimeoutError, "stage deadline exceeded")
		return
	}

	switch res.kind {
	case resultTranscript:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				m.fail(types.CodeTimeoutError, "transcription timed out")
			} else {
				m.fail(types.CodeTranscriptionError, res.err.Error())
			}
			return
		}
		m.turn.Transcript = res.text
		m.emitter.Emit(&types.ServerEvent{
			Type:      types.EventTranscript,
			TurnID:    m.turn.ID,
			Text:      res.text,
			Timestamp: time.Now(),
		})
		m.beginReasoning()

	case resultResponse:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				m.fail(types.CodeTimeoutError, "completion timed out")
			} else {
				m.fail(types.CodeCompletionError, res.err.Error())
			}
			return
		}
		m.turn.ResponseText = res.text
		if m.turn.InputKind == types.InputKindAudio && m.synthesizer != nil {
			m.beginSynthesizing()
		} else {
			m.deliver(nil)
		}

	case resultAudio:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				m.fail(types.CodeTimeoutError, "synthesis timed out")
				return
			}
			// Partial-failure semantics: a broken voice synthesizer must
			// not block text responses. The client still gets the error
			// code so it can explain the missing audio.
			log.Printf("Synthesis failed for turn %s, delivering text-only: %v", m.turn.ID, res.err)
			m.emitter.Emit(types.NewErrorEvent(types.CodeSynthesisError,
				"voice synthesis failed, responding with text only", m.turn.ID))
			m.deliver(nil)
			return
		}
		m.deliver(res.audio)
	}
}

// beginTranscribing finalizes the audio buffer and starts the transcription
// stage. Zero buffered audio fails immediately without contacting the
// adapter.
func (m *Machine) beginTranscribing() {
	if m.buffer == nil || m.buffer.Empty() {
		m.buffer = nil
		m.fail(types.CodeTranscriptionError, "no audio captured before end of input")
		return
	}

	blob := m.buffer.Finalize()
	m.buffer = nil
	m.setState(types.TurnStateTranscribing)

	ctx := m.enterStage(types.TurnStateTranscribing, m.cfg.TranscribeTimeout)
	turnID := m.turn.ID
	go func() {
		text, err := m.transcriber.Transcribe(ctx, blob)
		m.postResult(&result{kind: resultTranscript, turnID: turnID, stage: types.TurnStateTranscribing, text: text, err: err})
	}()
}

// beginReasoning builds the mode context and starts the completion stage.
func (m *Machine) beginReasoning() {
	m.setState(types.TurnStateReasoning)

	req, err := m.modeRouter.BuildContext(m.session, m.turn.Transcript)
	if err != nil {
		m.fail(types.CodeCompletionError, err.Error())
		return
	}
	// Recommendation only; surfaced with the response event.
	m.suggestion = m.modeRouter.SuggestModeSwitch(m.session.Mode, m.turn.Transcript)

	ctx := m.enterStage(types.TurnStateReasoning, m.cfg.ReasonTimeout)
	turnID := m.turn.ID
	go func() {
		text, err := m.completer.Complete(ctx, req)
		m.postResult(&result{kind: resultResponse, turnID: turnID, stage: types.TurnStateReasoning, text: text, err: err})
	}()
}

// beginSynthesizing starts the TTS stage for voice turns.
func (m *Machine) beginSynthesizing() {
	m.setState(types.TurnStateSynthesizing)

	ctx := m.enterStage(types.TurnStateSynthesizing, m.cfg.SynthesizeTimeout)
	turnID := m.turn.ID
	text := m.turn.ResponseText
	go func() {
		blob, err := m.synthesizer.Synthesize(ctx, text)
		m.postResult(&result{kind: resultAudio, turnID: turnID, stage: types.TurnStateSynthesizing, audio: blob, err: err})
	}()
}

// deliver appends the exchange to conversation history, emits the content
// events, and returns the session to Idle.
func (m *Machine) deliver(audioBlob []byte) {
	m.exitStage()
	m.setState(types.TurnStateDelivering)

	now := time.Now()
	m.mu.Lock()
	m.session.History = append(m.session.History,
		types.HistoryEntry{Role: "user", Text: m.turn.Transcript, TokenCount: mode.EstimateTokens(m.turn.Transcript), Timestamp: now},
		types.HistoryEntry{Role: "assistant", Text: m.turn.ResponseText, TokenCount: mode.EstimateTokens(m.turn.ResponseText), Timestamp: now},
	)
	m.session.History = mode.TruncateHistory(m.session.History, m.cfg.HistoryMaxTokens, m.cfg.HistoryMaxEntries)
	m.mu.Unlock()

	m.persistHistory()

	m.emitter.Emit(&types.ServerEvent{
		Type:          types.EventResponse,
		TurnID:        m.turn.ID,
		Text:          m.turn.ResponseText,
		HasAudio:      len(audioBlob) > 0,
		SuggestedMode: m.suggestion,
		Timestamp:     now,
	})
	if len(audioBlob) > 0 {
		m.emitter.Emit(&types.ServerEvent{
			Type:      types.EventAudio,
			TurnID:    m.turn.ID,
			Data:      audioBlob,
			Timestamp: time.Now(),
		})
	}

	m.turn.CompletedAt = time.Now()
	m.turn = nil
	m.setState(types.TurnStateIdle)
	m.applyPendingMode()
}

// fail aborts the current turn: Failed is emitted, then the session
// auto-resets to Idle so a failed turn never leaves it stuck.
func (m *Machine) fail(code, message string) {
	m.exitStage()

	turnID := m.openTurnID()
	m.setState(types.TurnStateFailed)
	m.emitter.Emit(types.NewErrorEvent(code, message, turnID))

	m.turn = nil
	m.buffer = nil
	m.setState(types.TurnStateIdle)
	m.applyPendingMode()
}

// enterStage arms the stage deadline. Both a context (for the adapter call)
// and a timer (for adapters that ignore cancellation) guard the stage.
func (m *Machine) enterStage(stage types.TurnState, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	m.stageCancel = cancel
	turnID := m.turn.ID
	m.stageTimer = time.AfterFunc(timeout, func() {
		m.postResult(&result{kind: resultStageTimeout, turnID: turnID, stage: stage})
	})
	return ctx
}

// exitStage disarms the stage deadline.
func (m *Machine) exitStage() {
	if m.stageCancel != nil {
		m.stageCancel()
		m.stageCancel = nil
	}
	if m.stageTimer != nil {
		m.stageTimer.Stop()
		m.stageTimer = nil
	}
}

// postResult feeds an internal result back into the ordered queue.
func (m *Machine) postResult(res *result) {
	select {
	case m.events <- &event{res: res}:
	case <-m.done:
	}
}

// setState transitions and emits the state event the client sees on every
// turn lifecycle change.
func (m *Machine) setState(state types.TurnState) {
	m.mu.Lock()
	m.state = state
	if m.turn != nil {
		m.turn.State = state
	}
	m.mu.Unlock()

	m.emitter.Emit(types.NewStateEvent(m.openTurnID(), state))
}

// applyPendingMode applies a queued mode-switch atomically at Idle.
func (m *Machine) applyPendingMode() {
	if m.pendingMode == "" {
		return
	}
	m.setMode(m.pendingMode)
	m.pendingMode = ""
	m.emitSessionEvent(false)
}

func (m *Machine) setMode(newMode types.Mode) {
	m.mu.Lock()
	m.session.Mode = newMode
	m.mu.Unlock()
}

func (m *Machine) emitSessionEvent(resumed bool) {
	m.mu.RLock()
	ev := &types.ServerEvent{
		Type:      types.EventSession,
		SessionID: m.session.ID,
		Mode:      m.session.Mode,
		Resumed:   resumed,
		Timestamp: time.Now(),
	}
	m.mu.RUnlock()
	m.emitter.Emit(ev)
}

// persistHistory hands the bounded history to the external store.
// Best-effort: store failures are logged, never surfaced to the turn.
func (m *Machine) persistHistory() {
	if m.store == nil {
		return
	}
	m.mu.RLock()
	clientID := m.session.ClientID
	history := append([]types.HistoryEntry(nil), m.session.History...)
	m.mu.RUnlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.store.Save(ctx, clientID, history); err != nil {
			log.Printf("History store save failed for client %s: %v", clientID, err)
		}
	}()
}

func (m *Machine) openTurnID() string {
	if m.turn == nil {
		return ""
	}
	return m.turn.ID
}

// touch records session activity for the registry's idle sweep.
func (m *Machine) touch() {
	m.mu.Lock()
	m.session.LastActivityAt = time.Now()
	m.mu.Unlock()
}
