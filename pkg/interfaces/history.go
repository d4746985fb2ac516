package interfaces

import (
	"context"

	"companion/pkg/types"
)

// HistoryStore is the external store conversation history is delegated to.
// Keyed by client identity, which is stable across session re-creation, so
// history can survive a process restart. The orchestrator owns no persisted
// state itself: stores are best-effort collaborators and a store failure
// must never fail a turn.
type HistoryStore interface {
	// Save replaces the stored history for a client identity.
	Save(ctx context.Context, clientID string, history []types.HistoryEntry) error

	// Load retrieves stored history. A missing key returns (nil, nil), not
	// an error.
	Load(ctx context.Context, clientID string) ([]types.HistoryEntry, error)

	// Delete removes stored history once a session expires.
	Delete(ctx context.Context, clientID string) error

	// Close releases store resources.
	Close() error
}

// Emitter delivers outbound events for one session to whatever physical
// channel is currently attached, coalescing while disconnected.
type Emitter interface {
	Emit(event *types.ServerEvent)
}
