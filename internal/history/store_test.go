package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"companion/pkg/types"
)

func sampleHistory() []types.HistoryEntry {
	return []types.HistoryEntry{
		{Role: "user", Text: "why is the sky blue", TokenCount: 5, Timestamp: time.Now().UTC()},
		{Role: "assistant", Text: "sunlight scatters off the air", TokenCount: 7, Timestamp: time.Now().UTC()},
	}
}

func TestMemoryStore_SaveLoadRoundTrip(t *testing.T) {
	store, err := NewStore(StoreTypeMemory)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	if err := store.Save(ctx, "kid-1", sampleHistory()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load(ctx, "kid-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(loaded))
	}
	if loaded[0].Text != "why is the sky blue" {
		t.Errorf("Unexpected first entry: %q", loaded[0].Text)
	}
}

func TestMemoryStore_MissingKeyIsNotAnError(t *testing.T) {
	store, _ := NewStore(StoreTypeMemory)
	defer store.Close()

	loaded, err := store.Load(context.Background(), "nobody")
	if err != nil {
		t.Errorf("Missing key should not error, got %v", err)
	}
	if loaded != nil {
		t.Errorf("Missing key should return nil history, got %v", loaded)
	}
}

func TestMemoryStore_SaveReplacesExisting(t *testing.T) {
	store, _ := NewStore(StoreTypeMemory)
	defer store.Close()
	ctx := context.Background()

	store.Save(ctx, "kid-1", sampleHistory())
	replacement := []types.HistoryEntry{{Role: "user", Text: "new start", TokenCount: 2}}
	if err := store.Save(ctx, "kid-1", replacement); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, _ := store.Load(ctx, "kid-1")
	if len(loaded) != 1 || loaded[0].Text != "new start" {
		t.Errorf("Save should replace, got %v", loaded)
	}
}

func TestMemoryStore_CallerMutationDoesNotLeak(t *testing.T) {
	store, _ := NewStore(StoreTypeMemory)
	defer store.Close()
	ctx := context.Background()

	history := sampleHistory()
	store.Save(ctx, "kid-1", history)
	history[0].Text = "mutated"

	loaded, _ := store.Load(ctx, "kid-1")
	if loaded[0].Text == "mutated" {
		t.Error("Stored history should be isolated from caller mutations")
	}

	loaded[1].Text = "also mutated"
	again, _ := store.Load(ctx, "kid-1")
	if again[1].Text == "also mutated" {
		t.Error("Loaded history should be isolated from later mutations")
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store, _ := NewStore(StoreTypeMemory)
	defer store.Close()
	ctx := context.Background()

	store.Save(ctx, "kid-1", sampleHistory())
	if err := store.Delete(ctx, "kid-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if loaded, _ := store.Load(ctx, "kid-1"); loaded != nil {
		t.Error("Expected no history after delete")
	}

	// Idempotent
	if err := store.Delete(ctx, "kid-1"); err != nil {
		t.Errorf("Second delete should be a no-op, got %v", err)
	}
}

func TestSQLiteStore_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := NewStore(StoreTypeSQLite, WithSQLitePath(path))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	if err := store.Save(ctx, "kid-1", sampleHistory()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := store.Load(ctx, "kid-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(loaded))
	}
	if loaded[1].Role != "assistant" {
		t.Errorf("Unexpected second entry role: %s", loaded[1].Role)
	}

	if loaded, _ := store.Load(ctx, "nobody"); loaded != nil {
		t.Error("Missing row should return nil history")
	}

	if err := store.Delete(ctx, "kid-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if loaded, _ := store.Load(ctx, "kid-1"); loaded != nil {
		t.Error("Expected no history after delete")
	}
}

func TestSQLiteStore_HistorySurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	store, err := NewStore(StoreTypeSQLite, WithSQLitePath(path))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if err := store.Save(ctx, "kid-1", sampleHistory()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	store.Close()

	reopened, err := NewStore(StoreTypeSQLite, WithSQLitePath(path))
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer reopened.Close()
	loaded, err := reopened.Load(ctx, "kid-1")
	if err != nil {
		t.Fatalf("Load after reopen failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Errorf("Expected history to survive reopen, got %d entries", len(loaded))
	}
}

func TestNewStore_Validation(t *testing.T) {
	if _, err := NewStore(StoreType("bogus")); err != ErrInvalidStoreType {
		t.Errorf("Expected ErrInvalidStoreType, got %v", err)
	}
	if _, err := NewStore(StoreTypeRedis); err != ErrInvalidConfig {
		t.Errorf("Redis without client should fail, got %v", err)
	}
	if _, err := NewStore(StoreTypeSQLite); err != ErrInvalidConfig {
		t.Errorf("SQLite without path should fail, got %v", err)
	}
}
