// Copyright: Jonathan Hall
// License: GNU AGPL, Version 3 or later; http://www.gnu.org/licenses/agpl.html

// Package server is the HTTP boundary. It translates requests into service
// calls and domain errors into status codes; nothing below this package
// knows about HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/emadruga/javumbo-sub001/internal/anki"
	"github.com/emadruga/javumbo-sub001/internal/auth"
	"github.com/emadruga/javumbo-sub001/internal/clock"
	"github.com/emadruga/javumbo-sub001/internal/export"
	"github.com/emadruga/javumbo-sub001/internal/repo"
	"github.com/emadruga/javumbo-sub001/internal/review"
	"github.com/emadruga/javumbo-sub001/internal/session"
)

// SessionCookie is the cookie the login handler sets. The same token is also
// accepted as a bearer header.
const SessionCookie = "javumbo_session"

// Server wires the services behind the HTTP API.
type Server struct {
	log      *zap.Logger
	users    auth.UserStore
	gate     *auth.Gate
	registry *session.Registry
	reviews  *review.Service
	exports  *export.Service
	clk      clock.Clock
	dataDir  string
	validate *validator.Validate

	// Card last served to each user by GET /review; consumed by POST /answer
	// when the client does not name a card explicitly.
	mu      sync.Mutex
	pending map[string]anki.ID
}

// New assembles a server. All collaborators are required except log, which
// defaults to a nop logger.
func New(log *zap.Logger, users auth.UserStore, gate *auth.Gate,
	registry *session.Registry, reviews *review.Service, exports *export.Service,
	clk clock.Clock, dataDir string) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		log:      log,
		users:    users,
		gate:     gate,
		registry: registry,
		reviews:  reviews,
		exports:  exports,
		clk:      clk,
		dataDir:  dataDir,
		validate: validator.New(),
		pending:  make(map[string]anki.ID),
	}
}

// Handler builds the routing table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/", s.handleRoot)
	r.Post("/register", s.handleRegister)
	r.Post("/login", s.handleLogin)
	r.Post("/logout", s.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Get("/decks", s.handleListDecks)
		r.Post("/decks", s.handleCreateDeck)
		r.Put("/decks/current", s.handleSetCurrentDeck)
		r.Delete("/decks/{id}", s.handleDeleteDeck)
		r.Put("/decks/{id}/rename", s.handleRenameDeck)
		r.Get("/decks/{id}/stats", s.handleDeckStats)
		r.Get("/decks/{id}/cards", s.handleDeckCards)

		r.Get("/review", s.handleReview)
		r.Post("/answer", s.handleAnswer)
		r.Post("/add_card", s.handleAddCard)
		r.Get("/cards/{id}", s.handleGetCard)
		r.Put("/cards/{id}", s.handleUpdateCard)
		r.Delete("/cards/{id}", s.handleDeleteCard)

		r.Get("/export", s.handleExport)
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully. The session
// sweeper runs for the lifetime of the server.
func (s *Server) Run(ctx context.Context, addr string, sweepInterval time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.registry.Run(ctx, sweepInterval)
	}()

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := srv.Shutdown(shutCtx)
	wg.Wait() // registry.Run closes every session on ctx cancel
	if err != nil {
		return err
	}
	if serveErr := <-errCh; !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return nil
}

// withRepo acquires the user's session, runs fn against a repo bound to it,
// and releases. fn reports whether it wrote anything via the returned dirty
// flag. An ErrIntegrity failure drops the cached session so the next request
// reopens the file.
func (s *Server) withRepo(ctx context.Context, username string, fn func(*repo.Repo) (bool, error)) error {
	lease, err := s.registry.Acquire(ctx, username)
	if err != nil {
		return err
	}
	dirty := false
	defer func() { s.registry.Release(lease, dirty) }()

	r := repo.New(lease.Store(), s.clk)
	dirty, err = fn(r)
	if errors.Is(err, repo.ErrIntegrity) {
		go func() {
			ictx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if ierr := s.registry.Invalidate(ictx, username); ierr != nil {
				s.log.Warn("invalidating corrupt session",
					zap.String("user", username), zap.Error(ierr))
			}
		}()
	}
	return err
}
