// Meeting core server - captures audio, tracks the live transcript, and
// streams analysis to clients over WebSocket.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bbrew/core/internal/audio"
	"github.com/bbrew/core/internal/config"
	"github.com/bbrew/core/internal/history"
	"github.com/bbrew/core/internal/llm"
	"github.com/bbrew/core/internal/server"
	"github.com/bbrew/core/internal/session"
	"github.com/bbrew/core/internal/stt"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	cfg := config.Load()

	registry, err := audio.NewRegistry()
	if err != nil {
		slog.Error("audio host init failed", "error", err)
		os.Exit(1)
	}
	defer registry.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transcriber := stt.NewClient(cfg.WhisperAddr)
	transcriber.Preload(ctx)

	router := llm.NewRouter(time.Duration(cfg.LLMTimeout * float64(time.Second)))
	router.Register(llm.NewOllama(cfg.OllamaAddr, cfg.OllamaModel))
	router.Register(llm.NewGemini(cfg.GeminiAPIKey, cfg.GeminiModel))
	router.Register(llm.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel))
	router.Register(llm.NewAnthropic(cfg.AnthropicAPIKey, cfg.AnthropicModel))
	if err := router.Use(ctx, cfg.Provider); err != nil {
		slog.Warn("configured provider unavailable, staying on default",
			"provider", cfg.Provider, "active", router.Active(), "error", err)
	}

	store, err := history.Open(cfg.HistoryDBPath, cfg.HistoryRetention)
	if err != nil {
		slog.Error("history store unavailable", "path", cfg.HistoryDBPath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	bus := session.NewBus()
	engine := audio.NewEngine(registry, audio.Config{
		SampleRate:      cfg.SampleRate,
		FramesPerBuffer: cfg.FramesPerBuffer,
		OnLevel: func(level float64) {
			bus.Publish(session.EventLevel, level)
		},
	})

	manager := session.NewManager(cfg, session.EngineCapturer{Engine: engine},
		transcriber, router, store, bus)

	srv := server.New(manager, registry, store, bus)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("server starting", "http", cfg.HTTPAddr,
			"whisper", cfg.WhisperAddr, "provider", router.Active())
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	if _, err := manager.Stop(shutdownCtx); err != nil {
		slog.Debug("no session to stop", "error", err)
	}
	slog.Info("shutdown complete")
}
