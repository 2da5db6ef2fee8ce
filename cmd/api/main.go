package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"dermassist/internal/assistant"
	"dermassist/internal/config"
	"dermassist/internal/geminiservice"
	"dermassist/internal/search"
	"dermassist/internal/server"
	"dermassist/internal/sheets"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Info().Msg("shutting down gracefully, press Ctrl+C again to force")
	stop() // Allow Ctrl+C to force shutdown

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown with error")
	}

	log.Info().Msg("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	// Missing credentials are a startup failure: the process exits before
	// the server ever binds.
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("ERROR: Missing credentials")
	}

	ctx := context.Background()

	sheetsClient, err := sheets.NewClient(ctx, cfg.SheetID, cfg.GoogleCredsJSON)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing the Sheets client")
	}
	store := sheets.NewStore(sheetsClient)

	gemini := geminiservice.NewClient(cfg.GeminiAPIKey, cfg.GeminiModel)
	finder := search.NewFinder(search.NewGoogleProvider(cfg.SearchAPIKey, cfg.SearchEngineID))

	svc := assistant.NewService(
		cfg.DefaultUserID,
		store,
		assistant.NewGeminiGenerator(gemini),
		finder,
		store,
	)

	apiServer := server.NewServer(cfg, store, svc)

	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(apiServer, done)

	log.Info().Str("addr", apiServer.Addr).Msg("dermassist API listening")
	if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "http server error: %s\n", err)
		os.Exit(1)
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Info().Msg("Graceful shutdown complete.")
}
