// Package relay is a reference chat relay and auth service. It honors the wire
// contract the client core depends on and backs local development and
// end-to-end tests.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/omochice/toy-private-chat/internal/logging"
	"golang.org/x/sync/errgroup"
)

var log = logging.Logger(logging.Relay)

const shutdownTimeout = 5 * time.Second

// Server serves the auth endpoints and the relay websocket.
type Server struct {
	hub     *Hub
	users   *Users
	origins []string
	ready   chan struct{}
	addr    net.Addr
}

// New creates a relay. origins lists the CORS origins allowed to call the API.
func New(users *Users, origins []string) *Server {
	return &Server{
		hub:     NewHub(),
		users:   users,
		origins: origins,
		ready:   make(chan struct{}),
	}
}

// Hub returns the relay's hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/auth", s.handleAuth)
		r.Post("/register", s.handleRegister)
	})
	r.Get("/ws", s.handleWebSocket)
	return r
}

// Run listens on addr and serves until ctx is cancelled, then shuts down.
func (s *Server) Run(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.addr = listener.Addr()
	close(s.ready)

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Infof("relay listening on %s", listener.Addr())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Addr blocks until Run is listening and returns the bound address.
func (s *Server) Addr() string {
	<-s.ready
	return s.addr.String()
}
