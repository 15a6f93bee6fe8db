// Package api is the JSON HTTP boundary: it authenticates requests, checks
// permissions and translates typed failures into status codes.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"parley/internal/auth"
	"parley/internal/chatroom"
	"parley/pkg/interfaces"
	"parley/pkg/types"
)

// Authenticator checks credentials and mints a token.
type Authenticator interface {
	Login(ctx context.Context, creds auth.Credentials) (types.User, string, error)
}

// HealthChecker reports storage health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ConnectionCloser closes push connections when their sessions end.
type ConnectionCloser interface {
	CloseToken(token string) int
	CloseUser(userID string) int
	Count() int
}

// Deps are the components the server fronts. Push, Limiter and LoginLimiter
// are optional. LogRooms is the logged flag for rooms whose request omits it.
// A zero CORS allows any origin.
type Deps struct {
	Sessions     interfaces.SessionRegistry
	Rooms        *chatroom.Directory
	Auth         Authenticator
	Health       HealthChecker
	Connections  ConnectionCloser
	Push         http.Handler
	Limiter      *RateLimiter
	LoginLimiter *RateLimiter
	LogRooms     bool
	CORS         CORSOptions
}

type Server struct {
	Deps
	router chi.Router
}

func NewServer(deps Deps) *Server {
	s := &Server{Deps: deps}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(corsMiddleware(s.CORS))

	// The upgrade hijacks the connection, so it skips the response wrapper.
	if s.Push != nil {
		r.Get("/ws", s.Push.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(metricsMiddleware)

		r.Get("/health", s.handleHealth)
		r.Handle("/metrics", promhttp.Handler())

		r.Route("/api", func(r chi.Router) {
			r.With(s.rateLimitByAddr).Post("/login", s.handleLogin)

			r.Group(func(r chi.Router) {
				r.Use(s.authenticate)

				r.Post("/logout", s.handleLogout)
				r.Get("/session", s.handleSession)
				r.Get("/rooms", s.handleListRooms)
				r.Get("/assessed", s.handleAssessed)

				r.With(s.require(types.PermAdmin)).Post("/rooms", s.handleCreateRoom)
				r.With(s.require(types.PermAdmin)).Post("/rounds", s.handleCreateRound)
				r.With(s.require(types.PermAdmin)).Delete("/users/{userID}/sessions", s.handleForceClear)

				r.Route("/rooms/{roomID}", func(r chi.Router) {
					r.Get("/", s.handleGetRoom)
					r.Get("/messages", s.handleListMessages)
					r.Get("/partner", s.handlePartner)
					r.With(s.rateLimitByUser).Post("/messages", s.handlePostMessage)
					r.With(s.rateLimitByUser).Post("/reactions", s.handlePostReaction)
					r.With(s.require(types.PermUser)).Post("/assessment", s.handleAssessment)

					r.Group(func(r chi.Router) {
						r.Use(s.require(types.PermAdmin))
						r.Post("/end", s.handleEndRoom)
						r.Put("/end-time", s.handleSetEndTime)
						r.Post("/participants", s.handleAddParticipant)
					})
				})
			})
		})
	})
	return r
}
