package app

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"companion/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Gemini.APIKey = "test-key"
	cfg.HTTP.Port = 39187
	return cfg
}

func TestNewApplication_Wiring(t *testing.T) {
	application, err := NewApplication(testConfig(t))
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}
	defer application.registry.Stop()

	if application.GetAddr() != "0.0.0.0:39187" {
		t.Errorf("Unexpected address: %s", application.GetAddr())
	}
}

func TestNewApplication_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Port = 0
	if _, err := NewApplication(cfg); err == nil {
		t.Error("Expected error for invalid configuration")
	}
}

func TestNewApplication_RequiresGeminiKey(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Gemini.APIKey = ""
	if _, err := NewApplication(cfg); err == nil {
		t.Error("Expected error when Gemini API key is missing")
	}
}

func TestNewApplication_SQLiteStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.Store = "sqlite"
	cfg.History.SQLitePath = filepath.Join(t.TempDir(), "companion.db")

	application, err := NewApplication(cfg)
	if err != nil {
		t.Fatalf("NewApplication with sqlite store failed: %v", err)
	}
	application.registry.Stop()
	if err := application.store.Close(); err != nil {
		t.Errorf("Store close failed: %v", err)
	}
}

func TestApplication_StartAndStop(t *testing.T) {
	application, err := NewApplication(testConfig(t))
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	resp, err := http.Get("http://127.0.0.1:39187/health")
	if err != nil {
		t.Fatalf("Health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 from /health, got %d", resp.StatusCode)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
