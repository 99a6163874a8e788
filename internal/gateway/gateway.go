// ABOUTME: HTTP surface for penny-gateway: chat streaming and history endpoints
// ABOUTME: Wires auth middleware and routes onto a chi router

package gateway

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/2389/penny-gateway/internal/auth"
	"github.com/2389/penny-gateway/internal/kernel"
	"github.com/2389/penny-gateway/internal/store"
)

// turnRunner runs one conversation turn, pushing events through emit.
// This allows injecting mock implementations for testing.
type turnRunner interface {
	RunTurn(ctx context.Context, req kernel.TurnRequest, emit kernel.EmitFunc) error
}

// Server exposes the kernel over HTTP.
type Server struct {
	kernel   turnRunner
	store    store.Store
	verifier auth.TokenVerifier
	logger   *slog.Logger
}

// New creates a Server. The logger may be nil, in which case slog.Default
// is used.
func New(k turnRunner, s store.Store, verifier auth.TokenVerifier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		kernel:   k,
		store:    s,
		verifier: verifier,
		logger:   logger.With("component", "gateway"),
	}
}

// Router builds the HTTP routing table. The health endpoint is public;
// everything else requires a bearer token.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/api/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.verifier))
		r.Post("/api/chat", s.handleChat)
		r.Get("/api/conversations/{id}/messages", s.handleListMessages)
	})

	return r
}
