/*
Package server implements the application's network transport layer.
It initializes the HTTP server, configures timeouts, and wires the chat,
profile, and health endpoints to the assistant service.
*/
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/sessions"

	"dermassist/internal/assistant"
	"dermassist/internal/config"
	"dermassist/internal/sheets"
)

// Datastore is the slice of the spreadsheet store the handlers read from
// directly: the profile sidebar and the health check.
type Datastore interface {
	FetchProfile(ctx context.Context, userID string) (*sheets.UserProfile, []sheets.AuditEntry, error)
	GetUser(ctx context.Context, userID string) (*sheets.User, error)
	Ping(ctx context.Context) error
}

// Server holds the dependencies for the HTTP service.
type Server struct {
	// port specifies the TCP port the server will listen on.
	port int

	cfg *config.Config

	// store is the spreadsheet-backed profile and log datastore.
	store Datastore

	// assistant runs the per-turn chat workflow.
	assistant *assistant.Service

	// cookies signs the session cookie that keys the in-memory transcript.
	cookies *sessions.CookieStore
}

// NewServer initializes the application and returns a configured *http.Server
// with production network timeouts.
func NewServer(cfg *config.Config, store Datastore, svc *assistant.Service) *http.Server {
	port, err := strconv.Atoi(cfg.Port)
	if err != nil || port == 0 {
		port = 8080
	}

	app := &Server{
		port:      port,
		cfg:       cfg,
		store:     store,
		assistant: svc,
		cookies:   sessions.NewCookieStore(cfg.SessionSecret),
	}

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", app.port),
		Handler:      app.RegisterRoutes(), // Injected from routes.go
		IdleTimeout:  time.Minute,          // Time to wait for the next request on keep-alive connections.
		ReadTimeout:  10 * time.Second,     // Maximum duration for reading the entire request.
		WriteTimeout: 90 * time.Second,     // A chat turn waits on the generation call, which can take most of a minute.
	}
}
