package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carebridge-intake/internal/bridge"
	"carebridge-intake/internal/config"
	"carebridge-intake/internal/core"
	"carebridge-intake/internal/db"
	httpserver "carebridge-intake/internal/http"
	"carebridge-intake/internal/llm"
	"carebridge-intake/internal/session"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// The responses store is optional: without it, reports can still be
	// pushed but no background monitoring starts.
	var responses bridge.ResponseSource
	if cfg.PollingEnabled() {
		dbConn, err := sql.Open("postgres", cfg.ResponsesDBURL)
		if err != nil {
			slog.Error("Failed to open responses database", "error", err)
			os.Exit(1)
		}
		defer dbConn.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := dbConn.PingContext(ctx); err != nil {
			cancel()
			slog.Error("Failed to ping responses database", "error", err)
			os.Exit(1)
		}
		cancel()
		if err := db.Migrate(context.Background(), dbConn); err != nil {
			slog.Error("Failed to run migrations", "error", err)
			os.Exit(1)
		}
		responses = db.NewResponseRepository(dbConn)
		slog.Info("Responses store connected, background monitoring enabled")
	} else {
		slog.Warn("RESPONSES_DB_URL not set, background monitoring disabled")
	}

	// Initialize OpenAI LLM client (uses env: OPENAI_API_KEY,
	// OPENAI_MODEL_CHAT, OPENAI_MODEL_REPORT)
	llmClient := llm.NewOpenAIClient()
	chatService := core.NewChatService(llmClient)
	synthesizer := core.NewSynthesizer(llmClient)

	newCoordinator := func() *bridge.Coordinator {
		return bridge.NewCoordinator(cfg.CareBridgeURL, responses, cfg.PollInterval, cfg.PollMaxAttempts)
	}
	srv := httpserver.NewServer(session.NewManager(), chatService, synthesizer, newCoordinator, cfg.ReportDir)

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown error", "error", err)
	}
}
