package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"companion/internal/adapters"
	"companion/internal/api"
	"companion/internal/audio"
	"companion/internal/config"
	"companion/internal/history"
	"companion/internal/mode"
	"companion/internal/session"
	"companion/internal/turn"
	"companion/internal/websocket"
	"companion/pkg/interfaces"
)

// Application coordinates all system components.
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	store      interfaces.HistoryStore
	gateway    *websocket.Gateway
	registry   *session.Registry
	apiServer  *api.Server
	httpServer *http.Server
}

// NewApplication creates an application instance with all components
// initialized. Component initialization follows strict dependency order:
// History store → Adapters → Mode router → Gateway → Registry → API → HTTP
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Initialize the history store (foundation layer)
	store, err := buildHistoryStore(cfg.History)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize history store: %w", err)
	}

	// STEP 2: Initialize Gemini stage adapters
	gemini, err := adapters.NewClient(context.Background(), adapters.Config{
		APIKey:             cfg.Gemini.APIKey,
		CompletionModel:    cfg.Gemini.CompletionModel,
		TranscriptionModel: cfg.Gemini.TranscriptionModel,
		SynthesisModel:     cfg.Gemini.SynthesisModel,
		Voice:              cfg.Gemini.Voice,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize Gemini client: %w", err)
	}

	// STEP 3: Initialize the mode router with the keyword classifier
	modeRouter := mode.NewRouter(mode.NewKeywordClassifier(),
		cfg.Mode.HistoryTokens, cfg.Mode.HistoryEntries)

	// STEP 4: Initialize the WebSocket gateway for event delivery
	gateway := websocket.NewGateway()

	// STEP 5: Initialize the session registry owning all turn machines
	turnCfg := turn.DefaultConfig()
	turnCfg.TranscribeTimeout = cfg.Orchestrator.TranscribeTimeout
	turnCfg.ReasonTimeout = cfg.Orchestrator.ReasonTimeout
	turnCfg.SynthesizeTimeout = cfg.Orchestrator.SynthesizeTimeout
	turnCfg.EventBuffer = cfg.Orchestrator.EventBuffer
	turnCfg.Audio = audio.Config{
		SampleRate:      cfg.Audio.SampleRate,
		SilenceRMS:      float64(cfg.Audio.SilenceRMS),
		TrailingSilence: cfg.Audio.TrailingSilence,
		MaxUtterance:    cfg.Audio.MaxUtterance,
	}

	registry := session.NewRegistry(modeRouter, gemini, gemini, gemini, store,
		gateway.Emitter, gateway.Remove, session.Config{
			GraceWindow:   cfg.Orchestrator.GraceWindow,
			IdleTimeout:   cfg.Orchestrator.IdleTimeout,
			SweepInterval: cfg.Orchestrator.SweepInterval,
			Turn:          turnCfg,
		})

	// STEP 6: Initialize the API server with narrow read-only views
	apiServer := api.NewServer(registry, gateway)

	// STEP 7: Initialize the WebSocket handler
	wsHandler := websocket.NewHandler(gateway, registry)

	// STEP 8: Setup HTTP server with both API and WebSocket endpoints
	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		store:      store,
		gateway:    gateway,
		registry:   registry,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// buildHistoryStore constructs the configured history backend.
func buildHistoryStore(cfg *config.HistoryConfig) (interfaces.HistoryStore, error) {
	switch cfg.Store {
	case "memory":
		return history.NewStore(history.StoreTypeMemory)
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return history.NewStore(history.StoreTypeRedis,
			history.WithRedisClient(client),
			history.WithRedisTTL(cfg.RedisTTL))
	case "sqlite":
		return history.NewStore(history.StoreTypeSQLite,
			history.WithSQLitePath(cfg.SQLitePath))
	default:
		return nil, history.ErrInvalidStoreType
	}
}

// Start begins application execution. The session sweep starts first so
// lifecycle enforcement is live before any connection arrives.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting companion orchestrator on %s", app.httpServer.Addr)

	// STEP 1: Start the session registry sweep
	if err := app.registry.Start(); err != nil {
		return fmt.Errorf("failed to start session registry: %w", err)
	}

	// STEP 2: Start HTTP server (accepts connections)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Verify server is ready before returning
	select {
	case err := <-serverErrCh:
		app.registry.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("Companion orchestrator started successfully")
		return nil
	case <-ctx.Done():
		app.registry.Stop()
		return ctx.Err()
	}
}

// Stop gracefully shuts down the application.
// Reverse dependency order: HTTP → Registry → History store
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down companion orchestrator")

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// STEP 2: Drain sessions and stop turn machines
	app.registry.Stop()

	// STEP 3: Close the history store
	if err := app.store.Close(); err != nil {
		log.Printf("History store shutdown error: %v", err)
	}

	log.Printf("Companion orchestrator shutdown complete")
	return nil
}

// GetAddr returns the server address for external connections.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
